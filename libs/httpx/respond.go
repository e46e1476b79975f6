package httpx

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"
	"github.com/md-rashed-zaman/servicebook/libs/apperr"
	"github.com/md-rashed-zaman/servicebook/libs/wire"
)

func WriteJSON(w http.ResponseWriter, status int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		WriteError(w, apperr.Wrap(apperr.KindInternal, "httpx.WriteJSON", err))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

// WriteError renders err as a wire.ErrorBody with the status implied by its kind.
func WriteError(w http.ResponseWriter, err error) {
	WriteErrorStatus(w, apperr.HTTPStatus(apperr.KindOf(err)), err)
}

func WriteErrorStatus(w http.ResponseWriter, status int, err error) {
	body, mErr := json.Marshal(wire.EncodeError(err))
	if mErr != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

// DecodeJSON reads a single JSON value into dst and runs struct validation when v is
// non-nil. An empty body is allowed when allowEmpty is set.
func DecodeJSON(r *http.Request, dst any, v *validator.Validate, allowEmpty bool) error {
	const op = "httpx.DecodeJSON"

	raw, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return apperr.Validation(op, "request body too large")
		}
		return apperr.Validation(op, "unreadable request body")
	}
	if len(strings.TrimSpace(string(raw))) == 0 {
		if allowEmpty {
			return nil
		}
		return apperr.Validation(op, "request body is required")
	}
	if err := wire.Unmarshal(raw, dst); err != nil {
		return err
	}
	if v == nil {
		return nil
	}
	if err := v.Struct(dst); err != nil {
		return ValidationError(op, err)
	}
	return nil
}

// ValidationError flattens validator field errors into one message.
func ValidationError(op string, err error) error {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return apperr.Validation(op, "%v", err)
	}
	msgs := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		msg := fe.Field() + " failed " + fe.Tag()
		if fe.Param() != "" {
			msg += "=" + fe.Param()
		}
		msgs = append(msgs, msg)
	}
	return apperr.Validation(op, "%s", strings.Join(msgs, "; "))
}
