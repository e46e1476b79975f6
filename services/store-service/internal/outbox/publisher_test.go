package outbox

import (
	"context"
	"testing"

	"github.com/md-rashed-zaman/servicebook/libs/kafkax"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

func TestMessageCarriesHeadersAndTrace(t *testing.T) {
	otel.SetTextMapPropagator(propagation.TraceContext{})
	rec := Record{
		ID:          7,
		EventID:     "e-7",
		AggregateID: "booking-1",
		EventType:   TopicBookingStatusChanged,
		Payload:     []byte(`{}`),
		Traceparent: "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01",
	}
	msg := Message(context.Background(), rec)
	if msg.Topic != TopicBookingStatusChanged || string(msg.Key) != "booking-1" {
		t.Fatalf("unexpected routing %s %s", msg.Topic, msg.Key)
	}
	if kafkax.HeaderValue(msg.Headers, kafkax.HeaderEventID) != "e-7" {
		t.Fatalf("event id header missing: %v", msg.Headers)
	}
	sc := trace.SpanContextFromContext(kafkax.ExtractTraceContext(context.Background(), msg.Headers))
	if sc.TraceID().String() != "4bf92f3577b34da6a3ce929d0e0e4736" {
		t.Fatalf("trace not carried, got %s", sc.TraceID())
	}
}
