package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestKindOfWrapped(t *testing.T) {
	base := Conflict("schedule.Check", "slot taken")
	wrapped := fmt.Errorf("service.Accept: %w", base)
	if KindOf(wrapped) != KindConflict {
		t.Fatalf("expected conflict, got %s", KindOf(wrapped))
	}
	if IsTransient(wrapped) {
		t.Fatal("conflict must not be transient")
	}
	if KindOf(errors.New("boom")) != KindInternal {
		t.Fatal("plain errors are internal")
	}
	if Message(wrapped) != "slot taken" {
		t.Fatalf("unexpected message %q", Message(wrapped))
	}
}

func TestHTTPMappingRoundTrip(t *testing.T) {
	kinds := []Kind{KindValidation, KindAuthorization, KindNotFound, KindInvalidTransition, KindConflict, KindTransient}
	for _, k := range kinds {
		if got := FromHTTPStatus(HTTPStatus(k)); got != k {
			t.Fatalf("kind %s mapped back to %s", k, got)
		}
	}
	if FromHTTPStatus(http.StatusTooManyRequests) != KindTransient {
		t.Fatal("429 should be transient")
	}
}

func TestFromGRPC(t *testing.T) {
	err := FromGRPC("profiles.Get", status.Error(codes.Unavailable, "down"))
	if !IsTransient(err) {
		t.Fatalf("expected transient, got %v", err)
	}
	err = FromGRPC("profiles.Get", status.Error(codes.NotFound, "no profile"))
	if KindOf(err) != KindNotFound {
		t.Fatalf("expected not found, got %v", err)
	}
	plain := errors.New("plain")
	if FromGRPC("x", plain) != plain {
		t.Fatal("non-status errors pass through")
	}
}
