package dispatch

import (
	"github.com/angeloszaimis/poolgate/internal/selector"
)

// State is the retry state of one request: the accounts already tried and
// the number of attempts spent out of the budget.
type State struct {
	Tried   selector.Exclusion
	Attempt int
	Max     int
	Last    error
}

func NewState(maxRetries int) *State {
	if maxRetries < 1 {
		maxRetries = 1
	}
	return &State{
		Tried: make(selector.Exclusion),
		Max:   maxRetries,
	}
}

// CanAttempt reports whether budget is left.
func (s *State) CanAttempt() bool {
	return s.Attempt < s.Max
}

// Number is the 1-based number of the next attempt.
func (s *State) Number() int {
	return s.Attempt + 1
}

// Failed excludes the account from the rest of the request and spends one
// attempt.
func (s *State) Failed(accountID string, err error) {
	s.Tried.Add(accountID)
	s.Attempt++
	s.Last = err
}

// Exhausted is the error for a request that found no eligible account.
func (s *State) Exhausted() error {
	return noAvailableAccount(s.Last)
}

// OutOfAttempts is the error for a request that spent its budget.
func (s *State) OutOfAttempts() error {
	return &AllAttemptsFailedError{Attempts: s.Attempt, Last: s.Last}
}
