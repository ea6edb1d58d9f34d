package fetch

import (
	"errors"
	"fmt"
)

// fetchError tags a failure as retryable or fatal so the retry loop can make
// its decision on the tag rather than on error text or concrete types.
type fetchError struct {
	message   string
	retryable bool
}

func newError(msg string, retryable bool) error {
	return &fetchError{message: msg, retryable: retryable}
}

func (e *fetchError) Error() string { return e.message }

// IsRetryable reports whether the error condition is potentially transient.
func (e *fetchError) IsRetryable() bool { return e.retryable }

// IsRetryable reports whether err carries a retryable tag. Untagged errors
// (transport failures, timeouts, resets) default to retryable; only errors
// explicitly marked fatal short-circuit the retry loop.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var fe *fetchError
	if errors.As(err, &fe) {
		return fe.IsRetryable()
	}
	return true
}

// statusError builds a tagged error for an HTTP response code. Client errors
// where a retry is pointless (400, 401, 403, 404, 410) are fatal; everything
// else, including 5xx and 429, is retryable.
func statusError(code int, status string) error {
	switch code {
	case 400, 401, 403, 404, 410:
		return newError(fmt.Sprintf("http %s", status), false)
	default:
		return newError(fmt.Sprintf("http %s", status), true)
	}
}

// errEmptyBody marks a zero-length successful response, which never yields a
// valid artifact.
var errEmptyBody = newError("empty response body", true)
