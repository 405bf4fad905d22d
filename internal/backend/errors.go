package backend

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"
)

// ErrorKind classifies a failed backend call
type ErrorKind string

const (
	// KindRemote means the backend answered with a non-success status
	KindRemote ErrorKind = "remote"
	// KindTransport means the request never got an answer
	KindTransport ErrorKind = "transport"
	// KindTimeout means the call exceeded its deadline
	KindTimeout ErrorKind = "timeout"
	// KindCanceled means the caller canceled the call
	KindCanceled ErrorKind = "canceled"
)

// Error is returned by every Client method that fails
type Error struct {
	Kind    ErrorKind
	Op      string
	Status  int
	Message string
	LogTail string
	Err     error
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindRemote:
		return fmt.Sprintf("%s: backend returned %d: %s", e.Op, e.Status, e.Message)
	default:
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Retryable reports whether repeating the same call may succeed.
// Only gateway-style statuses count for remote errors; a unit failure is final.
func (e *Error) Retryable() bool {
	switch e.Kind {
	case KindTransport, KindTimeout:
		return true
	case KindRemote:
		return e.Status == http.StatusBadGateway ||
			e.Status == http.StatusServiceUnavailable ||
			e.Status == http.StatusGatewayTimeout
	default:
		return false
	}
}

// AsError extracts a *Error from err
func AsError(err error) (*Error, bool) {
	var be *Error
	if errors.As(err, &be) {
		return be, true
	}
	return nil, false
}

// remoteError decodes a FastAPI style error body. detail is either a string,
// a list of validation problems, or an object with error and log_tail.
func remoteError(op string, status int, body []byte) *Error {
	e := &Error{Kind: KindRemote, Op: op, Status: status}

	detail := gjson.GetBytes(body, "detail")
	switch {
	case detail.IsObject():
		e.Message = detail.Get("error").String()
		e.LogTail = detail.Get("log_tail").String()
	case detail.IsArray():
		msgs := make([]string, 0)
		detail.ForEach(func(_, v gjson.Result) bool {
			msgs = append(msgs, v.Get("msg").String())
			return true
		})
		e.Message = strings.Join(msgs, "; ")
	case detail.Exists():
		e.Message = detail.String()
	default:
		e.Message = strings.TrimSpace(string(body))
	}

	if e.Message == "" {
		e.Message = http.StatusText(status)
	}
	return e
}

// transportError classifies a failure to get any response
func transportError(ctx context.Context, op string, err error) *Error {
	switch {
	case errors.Is(ctx.Err(), context.Canceled):
		return &Error{Kind: KindCanceled, Op: op, Message: "request canceled", Err: err}
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return &Error{Kind: KindTimeout, Op: op, Message: "request timed out", Err: err}
	default:
		return &Error{Kind: KindTransport, Op: op, Message: "could not reach the backend", Err: err}
	}
}
