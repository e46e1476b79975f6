package wire

import (
	"strconv"

	"github.com/md-rashed-zaman/servicebook/libs/apperr"
)

// The store trusts these headers; only the booking service may reach it.
const (
	HeaderActorID   = "X-Actor-Id"
	HeaderActorRole = "X-Actor-Role"
)

// ErrorBody is the JSON body of every non-2xx response.
type ErrorBody struct {
	Error ErrorDetail `json:"error"`
}

type ErrorDetail struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

func EncodeError(err error) ErrorBody {
	return ErrorBody{Error: ErrorDetail{Kind: string(apperr.KindOf(err)), Message: apperr.Message(err)}}
}

// Decode rebuilds a typed error. status is used when the body carries no kind.
func (b ErrorBody) Decode(op string, status int) error {
	kind := apperr.FromHTTPStatus(status)
	if b.Error.Kind != "" {
		kind = apperr.ParseKind(b.Error.Kind)
	}
	msg := b.Error.Message
	if msg == "" {
		msg = "store responded with status " + strconv.Itoa(status)
	}
	return apperr.New(kind, op, msg)
}

// Envelope wraps list responses so they can grow fields without breaking clients.
type Envelope[T any] struct {
	Items []T `json:"items"`
}
