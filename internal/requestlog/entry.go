package requestlog

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type Outcome string

const (
	OutcomeSuccess     Outcome = "success"
	OutcomeClientError Outcome = "client_error"
	OutcomeTransient   Outcome = "transient"
	OutcomeTerminal    Outcome = "terminal"
	OutcomeCancelled   Outcome = "cancelled"
	OutcomeNoAccount   Outcome = "no_account"
)

type Entry struct {
	ID         string        `json:"id"`
	RequestID  string        `json:"request_id"`
	Attempt    int           `json:"attempt"`
	Timestamp  time.Time     `json:"timestamp"`
	AccountID  string        `json:"account_id,omitempty"`
	Model      string        `json:"model,omitempty"`
	Outcome    Outcome       `json:"outcome"`
	StatusCode int           `json:"status_code,omitempty"`
	Latency    time.Duration `json:"latency"`
	Error      string        `json:"error,omitempty"`
}

// Sink appends entries. Implementations must be safe for concurrent use.
type Sink interface {
	Append(ctx context.Context, e Entry) error
}

// Reader returns the newest entries first.
type Reader interface {
	Recent(ctx context.Context, limit int) ([]Entry, error)
}

func prepare(e Entry) Entry {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	return e
}
