package outbox

import "github.com/md-rashed-zaman/servicebook/libs/kafkax"

// Event is the domain event envelope written to the outbox table in the same
// transaction as the booking change. The Kafka topic name equals EventType.
type Event struct {
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}

const (
	TopicBookingCreated       = kafkax.TopicBookingCreated
	TopicBookingStatusChanged = kafkax.TopicBookingStatusChanged
	TopicEvidenceSubmitted    = kafkax.TopicEvidenceSubmitted
	TopicAvailabilityUpdated  = kafkax.TopicAvailabilityUpdated
)
