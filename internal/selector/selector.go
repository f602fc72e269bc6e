package selector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/angeloszaimis/poolgate/internal/account"
	"github.com/angeloszaimis/poolgate/internal/health"
	"github.com/angeloszaimis/poolgate/internal/store"
	"github.com/angeloszaimis/poolgate/internal/strategy"
)

// ErrExhausted is returned when no eligible account is left outside the
// exclusion set.
var ErrExhausted = errors.New("no eligible account")

var errIneligible = errors.New("account no longer eligible")

// Exclusion is the set of account ids a request has already tried.
type Exclusion map[string]struct{}

func (e Exclusion) Add(id string) {
	e[id] = struct{}{}
}

func (e Exclusion) Has(id string) bool {
	_, ok := e[id]
	return ok
}

type Selector struct {
	store    store.Store
	tracker  *health.Tracker
	strategy strategy.Strategy
	logger   *slog.Logger

	mutex     sync.Mutex
	lastStamp time.Time
}

func New(st store.Store, tracker *health.Tracker, strat strategy.Strategy, logger *slog.Logger) *Selector {
	return &Selector{
		store:    st,
		tracker:  tracker,
		strategy: strat,
		logger:   logger,
	}
}

// Select returns an eligible account that is not in exclude, already marked
// as used. The selection lock only covers store access, never upstream I/O.
func (s *Selector) Select(ctx context.Context, exclude Exclusion) (account.Account, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	skipped := make(Exclusion)

	for {
		if err := ctx.Err(); err != nil {
			return account.Account{}, err
		}

		now := s.tracker.Now()

		active, err := s.store.ActiveAccounts(ctx, now)
		if err != nil {
			return account.Account{}, fmt.Errorf("list active accounts: %w", err)
		}

		candidates := s.candidates(active, exclude, skipped, now)
		chosen, ok := s.strategy.SelectAccount(candidates)
		if !ok {
			return account.Account{}, ErrExhausted
		}

		bound, revived, err := s.bind(ctx, chosen.ID, now)
		if errors.Is(err, errIneligible) || errors.Is(err, store.ErrNotFound) {
			skipped.Add(chosen.ID)
			continue
		}
		if err != nil {
			return account.Account{}, fmt.Errorf("bind account %s: %w", chosen.ID, err)
		}

		if revived {
			s.logger.Info("Account cooldown elapsed, back in rotation",
				slog.String("account", bound.ID))
		}

		return bound, nil
	}
}

// Candidates returns the accounts Select would currently choose from.
func (s *Selector) Candidates(ctx context.Context, exclude Exclusion) ([]account.Account, error) {
	now := s.tracker.Now()

	active, err := s.store.ActiveAccounts(ctx, now)
	if err != nil {
		return nil, err
	}
	return s.candidates(active, exclude, nil, now), nil
}

func (s *Selector) candidates(active []account.Account, exclude, skipped Exclusion, now time.Time) []account.Account {
	healthy := make([]account.Account, 0, len(active))
	var degraded []account.Account

	for _, a := range active {
		if exclude.Has(a.ID) || skipped.Has(a.ID) {
			continue
		}

		switch health.ConditionOf(a, now) {
		case health.ConditionHealthy:
			healthy = append(healthy, a)
		case health.ConditionDegraded:
			degraded = append(degraded, a)
		}
	}

	if len(healthy) > 0 {
		return healthy
	}
	return degraded
}

func (s *Selector) bind(ctx context.Context, id string, now time.Time) (account.Account, bool, error) {
	var revived bool
	stamp := s.stamp(now)

	bound, err := s.store.Update(ctx, id, func(a *account.Account) error {
		if !health.ConditionOf(*a, now).Eligible() {
			return errIneligible
		}
		revived = s.tracker.Revive(a, now)
		a.LastUsed = stamp
		return nil
	})
	return bound, revived, err
}

// stamp keeps LastUsed strictly increasing across bindings so that
// least-recently-used ordering stays total even when the clock does not move.
func (s *Selector) stamp(now time.Time) time.Time {
	if !now.After(s.lastStamp) {
		now = s.lastStamp.Add(time.Nanosecond)
	}
	s.lastStamp = now
	return now
}

func (s *Selector) Strategy() strategy.Strategy {
	return s.strategy
}
