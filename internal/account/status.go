package account

import (
	"fmt"
	"strings"
)

type Status int

const (
	StatusActive      Status = iota // Eligible for selection
	StatusCoolingDown               // Excluded until CooldownUntil passes
	StatusDisabled                  // Excluded until an operator or registration re-enables it
)

func (s Status) String() string {
	switch s {
	case StatusActive:
		return "active"
	case StatusCoolingDown:
		return "cooling_down"
	case StatusDisabled:
		return "disabled"
	default:
		return "unknown"
	}
}

// ParseStatus parses a status name. Names written by older registration
// tooling are folded into the three current statuses.
func ParseStatus(s string) (Status, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "active", "":
		return StatusActive, nil
	case "cooling_down", "rate_limited":
		return StatusCoolingDown, nil
	case "disabled", "inactive", "banned", "error":
		return StatusDisabled, nil
	default:
		return StatusActive, fmt.Errorf("unknown account status %q", s)
	}
}

func (s Status) MarshalText() ([]byte, error) {
	if s < StatusActive || s > StatusDisabled {
		return nil, fmt.Errorf("invalid account status %d", int(s))
	}
	return []byte(s.String()), nil
}

func (s *Status) UnmarshalText(text []byte) error {
	parsed, err := ParseStatus(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
