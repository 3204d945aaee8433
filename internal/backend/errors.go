package backend

import (
	"fmt"

	"github.com/ent0n29/kiosk/internal/reliability"
)

// FetchError reports a failed catalog, settings or query call. It is never
// fatal; callers turn it into a transient status message.
type FetchError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s: server returned %d: %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Retryable reports whether repeating the same call may succeed.
func (e *FetchError) Retryable() bool {
	if e.StatusCode > 0 {
		return reliability.IsRetryableHTTPStatus(e.StatusCode)
	}
	return reliability.IsRetryableError(e.Err)
}
