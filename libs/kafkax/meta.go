package kafkax

import (
	"strings"

	"github.com/segmentio/kafka-go"
)

// Header keys every outbox message carries.
const (
	HeaderEventID   = "event_id"
	HeaderEventType = "event_type"
	HeaderBookingID = "booking_id"
)

// Topics the store publishes. A topic name equals the event type.
const (
	TopicBookingCreated       = "booking.created.v1"
	TopicBookingStatusChanged = "booking.status.changed.v1"
	TopicEvidenceSubmitted    = "booking.evidence.submitted.v1"
	TopicAvailabilityUpdated  = "availability.updated.v1"
)

// BookingTopics carry a wire.BookingEvent payload.
var BookingTopics = []string{TopicBookingCreated, TopicBookingStatusChanged, TopicEvidenceSubmitted}

func HeaderValue(headers []kafka.Header, key string) string {
	for _, h := range headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

func SplitBrokers(raw string) []string {
	var brokers []string
	for _, b := range strings.Split(raw, ",") {
		b = strings.TrimSpace(b)
		if b != "" {
			brokers = append(brokers, b)
		}
	}
	return brokers
}
