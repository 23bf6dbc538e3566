// Package fetch retrieves the circulars page with a browser profile and
// bounded retries.
package fetch

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies fetch failures for the retry loop.
type Kind string

// Failure classes. Transient failures are retried within the attempt budget;
// permanent ones fail the fetch immediately.
const (
	KindTransient Kind = "transient"
	KindPermanent Kind = "permanent"
)

// Error describes a failed page retrieval.
type Error struct {
	Kind   Kind
	Status int
	URL    string
	Err    error
}

func (e *Error) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("fetch %s: status %d (%s): %v", e.URL, e.Status, e.Kind, e.Err)
	}
	return fmt.Sprintf("fetch %s (%s): %v", e.URL, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsPermanent reports whether err carries a non-retryable fetch failure.
func IsPermanent(err error) bool {
	var fe *Error
	return errors.As(err, &fe) && fe.Kind == KindPermanent
}

// classify maps a status/transport error pair onto a Kind. Client errors are
// permanent except for rate limiting and request timeouts; everything else,
// including transport failures with no status, is worth retrying.
func classify(url string, status int, err error) *Error {
	kind := KindTransient
	if status >= 400 && status < 500 &&
		status != http.StatusTooManyRequests && status != http.StatusRequestTimeout {
		kind = KindPermanent
	}
	return &Error{Kind: kind, Status: status, URL: url, Err: err}
}
