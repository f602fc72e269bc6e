package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/angeloszaimis/poolgate/internal/account"
)

const (
	DriverMemory = "memory"
	DriverFile   = "file"
	DriverSQLite = "sqlite"
)

var (
	ErrNotFound       = errors.New("account not found")
	ErrInvalidAccount = errors.New("invalid account")
)

// Mutator changes one account in place. Returning an error aborts the update.
type Mutator func(*account.Account) error

type Store interface {
	// Get returns the account with the given id, or ErrNotFound.
	Get(ctx context.Context, id string) (account.Account, error)

	// List returns every account sorted by id.
	List(ctx context.Context) ([]account.Account, error)

	// ActiveAccounts returns accounts that are active, or cooling down with
	// an elapsed cooldown at now.
	ActiveAccounts(ctx context.Context, now time.Time) ([]account.Account, error)

	// Update applies mutate atomically to one account and returns the result.
	Update(ctx context.Context, id string, mutate Mutator) (account.Account, error)

	// MarkDisabled permanently excludes an account from selection.
	MarkDisabled(ctx context.Context, id string, reason string) (account.Account, error)

	// Put inserts or replaces an account.
	Put(ctx context.Context, acc account.Account) error

	Close() error
}

// Watcher is implemented by stores that can pick up writes made by other
// processes. Watch blocks until ctx is done.
type Watcher interface {
	Watch(ctx context.Context) error
}

type Options struct {
	Driver string
	Path   string
}

// Open creates the store selected by opts.Driver.
func Open(opts Options, logger *slog.Logger) (Store, error) {
	switch opts.Driver {
	case DriverMemory:
		return NewMemory(), nil
	case DriverFile:
		return OpenFile(opts.Path, logger)
	case DriverSQLite:
		return OpenSQLite(opts.Path)
	default:
		return nil, fmt.Errorf("unknown store driver %q", opts.Driver)
	}
}

func validate(acc account.Account) error {
	if acc.ID == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidAccount)
	}
	if acc.APIKey == "" {
		return fmt.Errorf("%w: api key is required for %s", ErrInvalidAccount, acc.ID)
	}
	return nil
}

func notFound(id string) error {
	return fmt.Errorf("%w: %s", ErrNotFound, id)
}

func disable(reason string) Mutator {
	return func(a *account.Account) error {
		a.Status = account.StatusDisabled
		a.DisabledReason = reason
		a.CooldownUntil = time.Time{}
		return nil
	}
}

func selectable(a account.Account, now time.Time) bool {
	switch a.Status {
	case account.StatusActive:
		return true
	case account.StatusCoolingDown:
		return !a.CoolingAt(now)
	default:
		return false
	}
}
