package fetch

import (
	"errors"
	"fmt"
)

// FetchError describes a failed page fetch. Transient errors (network faults,
// timeouts, 429, 5xx) are worth retrying; the rest are not.
type FetchError struct {
	URL        string
	StatusCode int
	Transient  bool
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("fetch %s: status %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// IsTransient reports whether err is a fetch error marked retryable.
func IsTransient(err error) bool {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Transient
	}
	return false
}

// ErrRobotsDisallowed is returned when robots.txt forbids fetching a URL and
// robots enforcement is enabled.
var ErrRobotsDisallowed = errors.New("fetch: disallowed by robots.txt")
