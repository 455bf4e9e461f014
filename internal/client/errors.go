package client

import (
	"errors"
	"fmt"
	"time"
)

// APIError is a non-2xx answer from the backend.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("api error %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("api error %d", e.StatusCode)
}

// CallError is the final outcome of a failed logical call. Terminal means the
// failure was surfaced immediately without retrying; Exhausted means the
// retry budget was spent. Exactly one of the two is set.
type CallError struct {
	RequestID string
	Attempts  int
	Elapsed   time.Duration
	Terminal  bool
	Exhausted bool
	Err       error
}

func (e *CallError) Error() string {
	kind := "terminal"
	if e.Exhausted {
		kind = "retries exhausted"
	}
	return fmt.Sprintf("call %s failed (%s after %d attempts in %s): %v",
		e.RequestID, kind, e.Attempts, e.Elapsed.Round(time.Millisecond), e.Err)
}

func (e *CallError) Unwrap() error { return e.Err }

// IsTerminal reports whether err is a call failure that should not be
// retried again by the caller.
func IsTerminal(err error) bool {
	var ce *CallError
	return errors.As(err, &ce) && ce.Terminal
}

// IsExhausted reports whether err already consumed its whole retry budget.
func IsExhausted(err error) bool {
	var ce *CallError
	return errors.As(err, &ce) && ce.Exhausted
}

// StatusCode extracts the HTTP status of the underlying failure, or 0 when
// the failure never produced a response.
func StatusCode(err error) int {
	var ae *APIError
	if errors.As(err, &ae) {
		return ae.StatusCode
	}
	return 0
}
