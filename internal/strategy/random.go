package strategy

import (
	"math/rand/v2"

	"github.com/angeloszaimis/poolgate/internal/account"
)

type randomStrategy struct{}

func (r *randomStrategy) SelectAccount(candidates []account.Account) (account.Account, bool) {
	if len(candidates) == 0 {
		return account.Account{}, false
	}

	index := rand.IntN(len(candidates))
	return candidates[index], true
}

func NewRandomStrategy() Strategy {
	return &randomStrategy{}
}
