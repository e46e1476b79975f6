// Package events keeps open sessions current with booking changes the store
// publishes, including changes made by the other party.
package events

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/md-rashed-zaman/servicebook/libs/kafkax"
	"github.com/md-rashed-zaman/servicebook/libs/lifecycle"
	otelx "github.com/md-rashed-zaman/servicebook/libs/otel"
	"github.com/md-rashed-zaman/servicebook/libs/wire"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type Handler func(ctx context.Context, msg kafka.Message) error

// MessageReader is the subset of *kafka.Reader the consumer needs.
type MessageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

type Config struct {
	Brokers     string        `env:"KAFKA_BROKERS" env-description:"brokers carrying booking events; empty disables live session updates"`
	GroupPrefix string        `env:"KAFKA_GROUP_PREFIX" env-default:"booking-service"`
	RetryAfter  time.Duration `env:"KAFKA_RETRY_AFTER" env-default:"1s"`
}

type Consumer struct {
	logger     *slog.Logger
	brokers    []string
	retryAfter time.Duration
	handler    Handler
	newReader  func(brokers []string) MessageReader
}

// New builds a consumer whose group is unique to this process: every replica holds
// different sessions, so each one has to see every event.
func New(logger *slog.Logger, cfg Config, handler Handler) *Consumer {
	if cfg.RetryAfter <= 0 {
		cfg.RetryAfter = time.Second
	}
	group := cfg.GroupPrefix + "-" + uuid.NewString()
	return &Consumer{
		logger:     logger,
		brokers:    kafkax.SplitBrokers(cfg.Brokers),
		retryAfter: cfg.RetryAfter,
		handler:    handler,
		newReader: func(brokers []string) MessageReader {
			return kafka.NewReader(kafka.ReaderConfig{
				Brokers:     brokers,
				GroupID:     group,
				GroupTopics: kafkax.BookingTopics,
				StartOffset: kafka.LastOffset,
				MinBytes:    1,
				MaxBytes:    10e6,
			})
		},
	}
}

func (c *Consumer) Run(ctx context.Context) {
	if len(c.brokers) == 0 {
		c.logger.Warn("booking event consumer disabled (no kafka brokers configured)")
		return
	}
	reader := c.newReader(c.brokers)
	defer reader.Close()

	for {
		msg, err := reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Error("kafka read error", "err", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(c.retryAfter):
			}
			continue
		}
		c.handle(ctx, msg)
	}
}

func (c *Consumer) handle(ctx context.Context, msg kafka.Message) {
	eventID := kafkax.HeaderValue(msg.Headers, kafkax.HeaderEventID)
	ctx, span := otelx.Tracer("kafka").Start(kafkax.ExtractTraceContext(ctx, msg.Headers), "kafka.consume",
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("messaging.system", "kafka"),
			attribute.String("messaging.destination", msg.Topic),
			attribute.String("messaging.message.id", eventID),
		),
	)
	defer span.End()

	if err := c.handler(ctx, msg); err != nil {
		c.logger.Error("handler error", "err", err, "event_id", eventID, "topic", msg.Topic)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// Observer receives bookings decoded from events. *aggregator.Sessions is one.
type Observer interface {
	Observe(ctx context.Context, b lifecycle.Booking) int
}

// SessionUpdates decodes booking events and passes them to sessions. Malformed
// payloads are logged and skipped; redelivering them would not help.
func SessionUpdates(sessions Observer, logger *slog.Logger) Handler {
	return func(ctx context.Context, msg kafka.Message) error {
		var ev wire.BookingEvent
		if err := wire.Unmarshal(msg.Value, &ev); err != nil {
			logger.Warn("invalid booking event", "err", err, "topic", msg.Topic)
			return nil
		}
		b, err := ev.Booking.Decode()
		if err != nil || b.ID == "" {
			logger.Warn("invalid booking in event", "err", err, "topic", msg.Topic)
			return nil
		}
		n := sessions.Observe(ctx, b)
		logger.Debug("booking event applied",
			"booking_id", b.ID,
			"event_type", kafkax.HeaderValue(msg.Headers, kafkax.HeaderEventType),
			"sessions", n,
		)
		return nil
	}
}
