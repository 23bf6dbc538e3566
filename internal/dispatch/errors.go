// Package dispatch sends notices to a Telegram chat with bounded retries and
// rate-limit awareness.
package dispatch

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/ftmlabs/bknmu-notifier/internal/telegram"
)

// Kind classifies send failures for the retry loop and the orchestrator.
type Kind string

// Failure classes. Transient and rate-limited failures are retried within the
// attempt budget; fatal ones indicate misconfiguration (bad token, unknown
// chat) and abort the whole dispatch phase.
const (
	KindTransient   Kind = "transient"
	KindRateLimited Kind = "rate_limited"
	KindFatal       Kind = "fatal"
)

// Error describes a failed send.
type Error struct {
	Kind       Kind
	RetryAfter time.Duration
	Err        error
}

func (e *Error) Error() string {
	return fmt.Sprintf("dispatch (%s): %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsFatal reports whether err carries a non-retryable dispatch failure.
func IsFatal(err error) bool {
	var de *Error
	return errors.As(err, &de) && de.Kind == KindFatal
}

// classify maps a Bot API or transport error onto a Kind. Client errors are
// fatal except for rate limiting; server and transport failures are worth
// retrying.
func classify(err error) *Error {
	var apiErr *telegram.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Code == http.StatusTooManyRequests:
			return &Error{Kind: KindRateLimited, RetryAfter: apiErr.RetryAfter, Err: err}
		case apiErr.Code >= 400 && apiErr.Code < 500:
			return &Error{Kind: KindFatal, Err: err}
		}
	}
	return &Error{Kind: KindTransient, Err: err}
}
