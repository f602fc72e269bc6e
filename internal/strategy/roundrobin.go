package strategy

import (
	"sort"
	"sync/atomic"

	"github.com/angeloszaimis/poolgate/internal/account"
)

type roundRobinStrategy struct {
	current uint64
}

func (rb *roundRobinStrategy) SelectAccount(candidates []account.Account) (account.Account, bool) {
	if len(candidates) == 0 {
		return account.Account{}, false
	}

	sorted := make([]account.Account, len(candidates))
	copy(sorted, candidates)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].ID < sorted[j].ID
	})

	n := atomic.AddUint64(&rb.current, 1)

	index := (n - 1) % uint64(len(sorted))

	return sorted[index], true
}

func NewRoundRobinStrategy() Strategy {
	return &roundRobinStrategy{
		current: 0,
	}
}
