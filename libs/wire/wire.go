// Package wire is the boundary representation shared by the booking store and its
// clients. Timestamps travel as integer nanoseconds since the Unix epoch and booking
// statuses as single-tag variants such as {"Accepted": null}. Conversion to and from
// the domain types happens only here.
package wire

import (
	"bytes"
	"time"

	"github.com/goccy/go-json"
	"github.com/md-rashed-zaman/servicebook/libs/apperr"
	"github.com/md-rashed-zaman/servicebook/libs/lifecycle"
)

// Nanos is a timestamp in nanoseconds since the Unix epoch. The zero time encodes as 0.
type Nanos int64

func FromTime(t time.Time) Nanos {
	if t.IsZero() {
		return 0
	}
	return Nanos(t.UnixNano())
}

func (n Nanos) Time() time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, int64(n)).UTC()
}

func FromTimePtr(t *time.Time) *Nanos {
	if t == nil {
		return nil
	}
	n := FromTime(*t)
	return &n
}

func (n *Nanos) TimePtr() *time.Time {
	if n == nil {
		return nil
	}
	t := n.Time()
	return &t
}

// TaggedStatus is a booking status encoded as a JSON object with exactly one key.
type TaggedStatus lifecycle.Status

func (s TaggedStatus) Status() lifecycle.Status { return lifecycle.Status(s) }

func (s TaggedStatus) MarshalJSON() ([]byte, error) {
	const op = "wire.TaggedStatus.MarshalJSON"

	st := lifecycle.Status(s)
	if !st.Valid() {
		return nil, apperr.Validation(op, "unknown booking status %q", string(s))
	}
	key, err := json.Marshal(string(st))
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	buf.WriteByte('{')
	buf.Write(key)
	buf.WriteString(":null}")
	return buf.Bytes(), nil
}

func (s *TaggedStatus) UnmarshalJSON(b []byte) error {
	const op = "wire.TaggedStatus.UnmarshalJSON"

	var tags map[string]json.RawMessage
	if err := json.Unmarshal(b, &tags); err != nil {
		return &apperr.Error{Kind: apperr.KindValidation, Op: op, Message: "status must be a single-tag object", Err: err}
	}
	if len(tags) != 1 {
		return apperr.Validation(op, "status must carry exactly one tag, got %d", len(tags))
	}
	for tag := range tags {
		st, ok := lifecycle.ParseStatus(tag)
		if !ok {
			return apperr.Validation(op, "unknown booking status %q", tag)
		}
		*s = TaggedStatus(st)
	}
	return nil
}

// Marshal and Unmarshal are the codec used on every boundary payload.
func Marshal(v any) ([]byte, error) { return json.Marshal(v) }

func Unmarshal(data []byte, v any) error {
	const op = "wire.Unmarshal"
	if err := json.Unmarshal(data, v); err != nil {
		if apperr.KindOf(err) == apperr.KindValidation {
			return err
		}
		return &apperr.Error{Kind: apperr.KindValidation, Op: op, Message: "malformed payload", Err: err}
	}
	return nil
}
