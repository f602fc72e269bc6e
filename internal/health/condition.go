package health

import (
	"time"

	"github.com/angeloszaimis/poolgate/internal/account"
)

type Condition int

const (
	ConditionHealthy Condition = iota
	ConditionDegraded
	ConditionCoolingDown
	ConditionDisabled
)

func (c Condition) String() string {
	switch c {
	case ConditionHealthy:
		return "HEALTHY"
	case ConditionDegraded:
		return "DEGRADED"
	case ConditionCoolingDown:
		return "COOLING-DOWN"
	case ConditionDisabled:
		return "DISABLED"
	default:
		return "UNKNOWN"
	}
}

// Eligible reports whether accounts in this condition may be selected.
func (c Condition) Eligible() bool {
	return c == ConditionHealthy || c == ConditionDegraded
}

// Class is the failure classification of an upstream outcome.
type Class int

const (
	Transient Class = iota // Recoverable by retrying elsewhere
	Terminal               // The account itself is unusable
)

func (c Class) String() string {
	switch c {
	case Transient:
		return "transient"
	case Terminal:
		return "terminal"
	default:
		return "unknown"
	}
}

// Transition is the condition change caused by one recorded outcome.
type Transition struct {
	From Condition
	To   Condition
}

func (t Transition) Changed() bool {
	return t.From != t.To
}

// ConditionOf derives an account's condition at now.
func ConditionOf(a account.Account, now time.Time) Condition {
	switch a.Status {
	case account.StatusDisabled:
		return ConditionDisabled
	case account.StatusCoolingDown:
		if a.CoolingAt(now) {
			return ConditionCoolingDown
		}
		return ConditionHealthy
	}

	if a.ConsecutiveFailures > 0 {
		return ConditionDegraded
	}
	return ConditionHealthy
}
