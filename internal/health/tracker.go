package health

import (
	"context"
	"time"

	"github.com/angeloszaimis/poolgate/internal/account"
	"github.com/angeloszaimis/poolgate/internal/store"
)

type Policy struct {
	// FailureThreshold is the number of consecutive transient failures that
	// puts an account into cooldown.
	FailureThreshold int

	// Cooldown is how long a cooling account stays excluded.
	Cooldown time.Duration
}

func DefaultPolicy() Policy {
	return Policy{
		FailureThreshold: 3,
		Cooldown:         5 * time.Minute,
	}
}

// Tracker applies outcomes to account health through the store's atomic
// per-account update, so concurrent outcomes on one account never race.
type Tracker struct {
	store  store.Store
	policy Policy
	now    func() time.Time
}

type Option func(*Tracker)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) {
		t.now = now
	}
}

func NewTracker(st store.Store, policy Policy, opts ...Option) *Tracker {
	if policy.FailureThreshold < 1 {
		policy.FailureThreshold = 1
	}

	t := &Tracker{
		store:  st,
		policy: policy,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *Tracker) Policy() Policy {
	return t.policy
}

func (t *Tracker) Now() time.Time {
	return t.now()
}

// Condition derives the account's condition at the tracker's current time.
func (t *Tracker) Condition(a account.Account) Condition {
	return ConditionOf(a, t.now())
}

// RecordSuccess clears the failure counter and any cooldown. A disabled
// account stays disabled.
func (t *Tracker) RecordSuccess(ctx context.Context, id string, latency time.Duration) (account.Account, Transition, error) {
	return t.apply(ctx, id, func(a *account.Account, now time.Time) {
		a.TotalRequests++
		a.SuccessCount++
		a.RecordLatency(latency)
		a.LastSuccess = now

		if a.Status == account.StatusDisabled {
			return
		}

		a.Status = account.StatusActive
		a.ConsecutiveFailures = 0
		a.CooldownUntil = time.Time{}
		a.LastError = ""
	})
}

// RecordFailure applies a classified failure. Transient failures count toward
// the cooldown threshold; a terminal failure disables the account outright.
func (t *Tracker) RecordFailure(ctx context.Context, id string, class Class, reason string, latency time.Duration) (account.Account, Transition, error) {
	return t.apply(ctx, id, func(a *account.Account, now time.Time) {
		a.TotalRequests++
		a.ErrorCount++
		a.LastError = reason
		if latency > 0 {
			a.RecordLatency(latency)
		}

		if class == Terminal {
			a.Status = account.StatusDisabled
			a.DisabledReason = reason
			a.CooldownUntil = time.Time{}
			return
		}

		if a.Status == account.StatusDisabled {
			return
		}

		a.ConsecutiveFailures++
		if a.ConsecutiveFailures >= t.policy.FailureThreshold {
			a.Status = account.StatusCoolingDown
			a.CooldownUntil = now.Add(t.policy.Cooldown)
		}
	})
}

// Revive returns a cooling account whose cooldown has elapsed to active with
// a fresh counter. It is a no-op for any other account.
func (t *Tracker) Revive(a *account.Account, now time.Time) bool {
	if a.Status != account.StatusCoolingDown || a.CoolingAt(now) {
		return false
	}

	a.Status = account.StatusActive
	a.ConsecutiveFailures = 0
	a.CooldownUntil = time.Time{}
	return true
}

// Reinstate is operator intervention: the account becomes active with its
// health state cleared, whatever its current status.
func (t *Tracker) Reinstate(ctx context.Context, id string) (account.Account, Transition, error) {
	return t.apply(ctx, id, func(a *account.Account, _ time.Time) {
		a.Status = account.StatusActive
		a.ConsecutiveFailures = 0
		a.CooldownUntil = time.Time{}
		a.DisabledReason = ""
		a.LastError = ""
	})
}

func (t *Tracker) apply(ctx context.Context, id string, change func(*account.Account, time.Time)) (account.Account, Transition, error) {
	var transition Transition

	updated, err := t.store.Update(ctx, id, func(a *account.Account) error {
		now := t.now()
		transition.From = ConditionOf(*a, now)
		change(a, now)
		transition.To = ConditionOf(*a, now)
		return nil
	})
	if err != nil {
		return updated, Transition{}, err
	}

	return updated, transition, nil
}
