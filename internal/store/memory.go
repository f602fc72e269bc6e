package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/angeloszaimis/poolgate/internal/account"
)

type record struct {
	mutex sync.Mutex
	acc   account.Account
}

// Memory keeps accounts in process. The map lock is only held for lookups;
// mutations lock the single record they touch.
type Memory struct {
	mutex   sync.RWMutex
	records map[string]*record

	// onChange runs after every committed change when set. It must not block.
	onChange func()
}

func NewMemory() *Memory {
	return &Memory{
		records: make(map[string]*record),
	}
}

func (m *Memory) lookup(id string) (*record, bool) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	rec, ok := m.records[id]
	return rec, ok
}

func (m *Memory) Get(_ context.Context, id string) (account.Account, error) {
	rec, ok := m.lookup(id)
	if !ok {
		return account.Account{}, notFound(id)
	}

	rec.mutex.Lock()
	defer rec.mutex.Unlock()
	return rec.acc, nil
}

func (m *Memory) List(_ context.Context) ([]account.Account, error) {
	return m.snapshot(), nil
}

func (m *Memory) ActiveAccounts(_ context.Context, now time.Time) ([]account.Account, error) {
	all := m.snapshot()
	active := make([]account.Account, 0, len(all))
	for _, a := range all {
		if selectable(a, now) {
			active = append(active, a)
		}
	}
	return active, nil
}

func (m *Memory) Update(_ context.Context, id string, mutate Mutator) (account.Account, error) {
	rec, ok := m.lookup(id)
	if !ok {
		return account.Account{}, notFound(id)
	}

	rec.mutex.Lock()
	next := rec.acc
	if err := mutate(&next); err != nil {
		current := rec.acc
		rec.mutex.Unlock()
		return current, err
	}
	next.ID = rec.acc.ID
	rec.acc = next
	rec.mutex.Unlock()

	m.changed()
	return next, nil
}

func (m *Memory) MarkDisabled(ctx context.Context, id string, reason string) (account.Account, error) {
	return m.Update(ctx, id, disable(reason))
}

func (m *Memory) Put(_ context.Context, acc account.Account) error {
	if err := validate(acc); err != nil {
		return err
	}

	m.put(acc)
	m.changed()
	return nil
}

func (m *Memory) put(acc account.Account) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if rec, ok := m.records[acc.ID]; ok {
		rec.mutex.Lock()
		rec.acc = acc
		rec.mutex.Unlock()
		return
	}
	m.records[acc.ID] = &record{acc: acc}
}

func (m *Memory) Close() error {
	return nil
}

func (m *Memory) snapshot() []account.Account {
	m.mutex.RLock()
	recs := make([]*record, 0, len(m.records))
	for _, rec := range m.records {
		recs = append(recs, rec)
	}
	m.mutex.RUnlock()

	out := make([]account.Account, 0, len(recs))
	for _, rec := range recs {
		rec.mutex.Lock()
		out = append(out, rec.acc)
		rec.mutex.Unlock()
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].ID < out[j].ID
	})
	return out
}

func (m *Memory) ids() map[string]struct{} {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	ids := make(map[string]struct{}, len(m.records))
	for id := range m.records {
		ids[id] = struct{}{}
	}
	return ids
}

func (m *Memory) changed() {
	if m.onChange != nil {
		m.onChange()
	}
}
