package strategy

import (
	"fmt"

	"github.com/angeloszaimis/poolgate/internal/account"
)

const (
	LeastRecentlyUsed = "least-recently-used"
	RoundRobin        = "round-robin"
	Random            = "random"
	LeastResponse     = "least-response"
)

// Strategy picks one account out of candidates. It returns false only when
// candidates is empty.
type Strategy interface {
	SelectAccount(candidates []account.Account) (account.Account, bool)
}

// Names lists the strategies New accepts.
func Names() []string {
	return []string{LeastRecentlyUsed, RoundRobin, Random, LeastResponse}
}

func New(name string) (Strategy, error) {
	switch name {
	case LeastRecentlyUsed, "":
		return NewLeastRecentlyUsedStrategy(), nil
	case RoundRobin:
		return NewRoundRobinStrategy(), nil
	case Random:
		return NewRandomStrategy(), nil
	case LeastResponse:
		return NewLeastResponseStrategy(), nil
	default:
		return nil, fmt.Errorf("unknown strategy %q", name)
	}
}
