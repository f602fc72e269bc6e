package strategy

import (
	"github.com/angeloszaimis/poolgate/internal/account"
)

type leastRecentlyUsedStrategy struct{}

func (l *leastRecentlyUsedStrategy) SelectAccount(candidates []account.Account) (account.Account, bool) {
	if len(candidates) == 0 {
		return account.Account{}, false
	}

	chosen := candidates[0]
	for _, a := range candidates[1:] {
		if a.LastUsed.Before(chosen.LastUsed) {
			chosen = a
			continue
		}
		if a.LastUsed.Equal(chosen.LastUsed) && a.ID < chosen.ID {
			chosen = a
		}
	}

	return chosen, true
}

func NewLeastRecentlyUsedStrategy() Strategy {
	return &leastRecentlyUsedStrategy{}
}
