package dispatch

import (
	"errors"
	"fmt"
)

// ErrNoAvailableAccount means selection found no eligible account. When
// earlier attempts of the same request failed, the returned error also wraps
// the last upstream error.
var ErrNoAvailableAccount = errors.New("no available account")

// AllAttemptsFailedError is returned when the retry budget is spent.
type AllAttemptsFailedError struct {
	Attempts int
	Last     error
}

func (e *AllAttemptsFailedError) Error() string {
	return fmt.Sprintf("all %d attempts failed: %v", e.Attempts, e.Last)
}

func (e *AllAttemptsFailedError) Unwrap() error {
	return e.Last
}

func noAvailableAccount(last error) error {
	if last == nil {
		return ErrNoAvailableAccount
	}
	return fmt.Errorf("%w: %w", ErrNoAvailableAccount, last)
}
