package gateway

import (
	"fmt"
	"net/http"
)

// Error is the typed failure surfaced by the generation gateway. Status
// carries the upstream HTTP status when one was received.
type Error struct {
	Status  int
	Code    string
	Message string
}

func (e *Error) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("gateway: %s (status %d)", e.Message, e.Status)
	}
	return fmt.Sprintf("gateway: %s", e.Message)
}

// newStatusError maps an upstream status to a stable message, the way
// user-facing copy expects: auth, rate limit and server failures each
// get a fixed phrasing.
func newStatusError(status int, code, message string) *Error {
	switch status {
	case http.StatusUnauthorized:
		return &Error{Status: status, Code: code, Message: "invalid API key or authentication failed"}
	case http.StatusTooManyRequests:
		return &Error{Status: status, Code: code, Message: "rate limit exceeded, try again later"}
	case http.StatusInternalServerError:
		return &Error{Status: status, Code: code, Message: "generation service error, try again later"}
	}
	if message == "" {
		message = "unexpected generation service failure"
	}
	return &Error{Status: status, Code: code, Message: message}
}

// retryable reports whether a failed attempt is worth repeating:
// transport errors, rate limiting and server-side failures are; client
// errors are not.
func retryable(err error) bool {
	gerr, ok := err.(*Error)
	if !ok {
		return true
	}
	return gerr.Status == 0 || gerr.Status == http.StatusTooManyRequests || gerr.Status >= 500
}
