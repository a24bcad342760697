package session

import (
	"errors"
	"fmt"

	"github.com/ashureev/sqlchat/internal/domain"
)

var (
	// ErrInvalidArgument is returned when a required identifier is empty.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrStoreUnavailable marks an ensure that ran out of retries against the store.
	ErrStoreUnavailable = errors.New("session store unavailable")
	// ErrExhaustedRetries is returned if the retry loop ends without a decision.
	// Reaching it indicates a logic defect.
	ErrExhaustedRetries = errors.New("session ensure exhausted retries")

	errCreateReturnedNil = errors.New("create session returned no session")
	errVerifyReturnedNil = errors.New("session not visible after create")
)

// EnsureError reports a failed Ensure for a session key. It unwraps to both
// ErrStoreUnavailable and the last underlying store error.
type EnsureError struct {
	Key      domain.SessionKey
	Attempts int
	Err      error
}

func (e *EnsureError) Error() string {
	return fmt.Sprintf("ensure session %s failed after %d attempts: %v", e.Key, e.Attempts, e.Err)
}

// Unwrap exposes the sentinel and the cause to errors.Is and errors.As.
func (e *EnsureError) Unwrap() []error {
	return []error{ErrStoreUnavailable, e.Err}
}
