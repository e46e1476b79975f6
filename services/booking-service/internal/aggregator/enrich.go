package aggregator

import (
	"strconv"
	"strings"
	"time"

	"github.com/md-rashed-zaman/servicebook/libs/lifecycle"
	"github.com/md-rashed-zaman/servicebook/services/booking-service/internal/profiles"
)

const (
	DateLayout = "Mon, Jan 2, 2006"
	TimeLayout = "3:04 PM"
)

// Enriched is a booking plus the display data a consumer renders next to it.
type Enriched struct {
	Booking lifecycle.Booking

	// Counterpart is the other party: the provider for a client, the client for a provider.
	Counterpart     profiles.Profile
	Date            string
	Time            string
	LocationDisplay string
}

func counterpartID(actor lifecycle.Actor, b lifecycle.Booking) string {
	if actor.Role == lifecycle.RoleProvider {
		return b.ClientID
	}
	return b.ProviderID
}

func enrich(b lifecycle.Booking, p profiles.Profile, loc *time.Location) Enriched {
	at := b.SlotTime().In(loc)
	return Enriched{
		Booking:         b.Clone(),
		Counterpart:     p,
		Date:            at.Format(DateLayout),
		Time:            at.Format(TimeLayout),
		LocationDisplay: FormatLocation(b.Location),
	}
}

// FormatLocation prefers the address; bare coordinates are the fallback.
func FormatLocation(l lifecycle.Location) string {
	if l.HasAddress() {
		var parts []string
		for _, p := range []string{l.Street, l.City, strings.TrimSpace(l.Region + " " + l.PostalCode), l.Country} {
			if p = strings.TrimSpace(p); p != "" {
				parts = append(parts, p)
			}
		}
		return strings.Join(parts, ", ")
	}
	if l.Lat == 0 && l.Lng == 0 {
		return ""
	}
	return strconv.FormatFloat(l.Lat, 'f', -1, 64) + ", " + strconv.FormatFloat(l.Lng, 'f', -1, 64)
}
