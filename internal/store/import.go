package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/angeloszaimis/poolgate/internal/account"
)

// Registration is one entry written by the account registration tooling.
// The password is accepted for compatibility but never stored.
type Registration struct {
	Success   *bool  `json:"success,omitempty"`
	Username  string `json:"username"`
	Email     string `json:"email"`
	Password  string `json:"password,omitempty"`
	APIKey    string `json:"api_key"`
	BaseURL   string `json:"base_url"`
	Group     string `json:"group"`
	CreatedAt string `json:"created_at"`
}

var createdAtLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// Account converts the registration into an active account. The id is the
// e-mail address, falling back to the username.
func (r Registration) Account() account.Account {
	id := strings.TrimSpace(r.Email)
	if id == "" {
		id = strings.TrimSpace(r.Username)
	}

	acc := account.New(id, strings.TrimSpace(r.APIKey))
	acc.Username = r.Username
	acc.Email = r.Email
	acc.BaseURL = strings.TrimSpace(r.BaseURL)
	if r.Group != "" {
		acc.Group = r.Group
	}

	for _, layout := range createdAtLayouts {
		if t, err := time.Parse(layout, r.CreatedAt); err == nil {
			acc.CreatedAt = t
			break
		}
	}

	return acc
}

// Import reads registration output, either a JSON array or an object with an
// "accounts" array, and puts every successful entry with a credential into
// the store. It returns the number of accounts imported.
func Import(ctx context.Context, st Store, r io.Reader) (int, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return 0, fmt.Errorf("failed to read registrations: %w", err)
	}

	regs, err := decodeRegistrations(data)
	if err != nil {
		return 0, err
	}

	return ImportRegistrations(ctx, st, regs)
}

// ImportRegistrations puts every usable registration into the store.
func ImportRegistrations(ctx context.Context, st Store, regs []Registration) (int, error) {
	imported := 0
	for _, reg := range regs {
		if reg.Success != nil && !*reg.Success {
			continue
		}
		if strings.TrimSpace(reg.APIKey) == "" {
			continue
		}

		if err := st.Put(ctx, reg.Account()); err != nil {
			return imported, fmt.Errorf("failed to import %s: %w", reg.Email, err)
		}
		imported++
	}
	return imported, nil
}

func decodeRegistrations(data []byte) ([]Registration, error) {
	data = bytes.TrimSpace(data)

	var regs []Registration
	if len(data) > 0 && data[0] == '[' {
		if err := json.Unmarshal(data, &regs); err != nil {
			return nil, fmt.Errorf("failed to decode registrations: %w", err)
		}
		return regs, nil
	}

	var wrapped struct {
		Accounts []Registration `json:"accounts"`
	}
	if err := json.Unmarshal(data, &wrapped); err != nil {
		return nil, fmt.Errorf("failed to decode registrations: %w", err)
	}
	return wrapped.Accounts, nil
}
