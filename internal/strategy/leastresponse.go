package strategy

import (
	"github.com/angeloszaimis/poolgate/internal/account"
)

type leastResponseStrategy struct{}

func (l *leastResponseStrategy) SelectAccount(candidates []account.Account) (account.Account, bool) {
	if len(candidates) == 0 {
		return account.Account{}, false
	}

	var (
		chosen account.Account
		found  bool
	)

	for _, a := range candidates {
		// Accounts without a latency sample get tried first.
		if a.AvgLatency == 0 {
			if !found || chosen.AvgLatency != 0 || a.ID < chosen.ID {
				chosen = a
				found = true
			}
			continue
		}

		if !found {
			chosen = a
			found = true
			continue
		}

		if chosen.AvgLatency == 0 {
			continue
		}

		if a.AvgLatency < chosen.AvgLatency || (a.AvgLatency == chosen.AvgLatency && a.ID < chosen.ID) {
			chosen = a
		}
	}

	return chosen, true
}

func NewLeastResponseStrategy() Strategy {
	return &leastResponseStrategy{}
}
