package account

import (
	"time"
)

const latencyAlpha = 0.2

// Account is a credential against the upstream chat-completion service
// together with the health and usage state the pool keeps for it.
// It holds only value fields, so a plain assignment is a full copy.
type Account struct {
	ID       string `json:"id"`
	Username string `json:"username,omitempty"`
	Email    string `json:"email,omitempty"`
	APIKey   string `json:"api_key"`
	BaseURL  string `json:"base_url,omitempty"`
	Group    string `json:"group,omitempty"`

	Status              Status    `json:"status"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	LastUsed            time.Time `json:"last_used"`
	LastSuccess         time.Time `json:"last_success"`
	CooldownUntil       time.Time `json:"cooldown_until"`
	LastError           string    `json:"last_error,omitempty"`
	DisabledReason      string    `json:"disabled_reason,omitempty"`

	TotalRequests int64         `json:"total_requests"`
	SuccessCount  int64         `json:"success_count"`
	ErrorCount    int64         `json:"error_count"`
	AvgLatency    time.Duration `json:"avg_latency"`

	CreatedAt time.Time `json:"created_at"`
}

// New returns an active account with the given id and credential.
func New(id, apiKey string) Account {
	return Account{
		ID:        id,
		APIKey:    apiKey,
		Status:    StatusActive,
		Group:     "default",
		CreatedAt: time.Now(),
	}
}

// CoolingAt reports whether the account is inside its cooldown window at now.
func (a Account) CoolingAt(now time.Time) bool {
	return a.Status == StatusCoolingDown && now.Before(a.CooldownUntil)
}

// SuccessRate returns the percentage of successful requests, 100 when the
// account has not served any request yet.
func (a Account) SuccessRate() float64 {
	if a.TotalRequests == 0 {
		return 100
	}
	return float64(a.SuccessCount) / float64(a.TotalRequests) * 100
}

// RecordLatency folds a new sample into the EWMA latency.
func (a *Account) RecordLatency(d time.Duration) {
	if a.AvgLatency == 0 {
		a.AvgLatency = d
		return
	}
	//ewma = (1 - α) * ewma + α * latest
	a.AvgLatency = time.Duration((1-latencyAlpha)*float64(a.AvgLatency) + latencyAlpha*float64(d))
}

// MaskedKey returns the credential with everything but its edges hidden.
func (a Account) MaskedKey() string {
	return MaskToken(a.APIKey)
}

// MaskToken hides the middle of a secret for display.
func MaskToken(token string) string {
	if len(token) <= 8 {
		return "****"
	}
	return token[:4] + "****" + token[len(token)-4:]
}
