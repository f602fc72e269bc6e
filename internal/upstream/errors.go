package upstream

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/angeloszaimis/poolgate/internal/health"
)

const maxMessageLength = 300

// Outcome is how a response status is treated by the pool.
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeClientError
	OutcomeTransient
	OutcomeTerminal
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeClientError:
		return "client_error"
	case OutcomeTransient:
		return "transient"
	case OutcomeTerminal:
		return "terminal"
	default:
		return "unknown"
	}
}

// Classify maps an upstream status code to its outcome.
func Classify(statusCode int) Outcome {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return OutcomeSuccess
	case statusCode == http.StatusUnauthorized,
		statusCode == http.StatusPaymentRequired,
		statusCode == http.StatusForbidden:
		return OutcomeTerminal
	case statusCode == http.StatusRequestTimeout,
		statusCode == http.StatusTooManyRequests,
		statusCode >= 500:
		return OutcomeTransient
	case statusCode >= 400:
		return OutcomeClientError
	default:
		// 1xx and 3xx are not expected from a JSON API.
		return OutcomeTransient
	}
}

// Error is a failed attempt that counts against the account.
type Error struct {
	Class      health.Class
	StatusCode int // 0 for network errors and timeouts
	Message    string
	Timeout    bool

	// Body is the raw upstream error body, when there was one.
	Body []byte

	Cause error
}

func (e *Error) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("upstream %s error (status %d): %s", e.Class, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("upstream %s error: %s", e.Class, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// ClassOf returns the health class of err. Errors that are not upstream
// errors count as transient.
func ClassOf(err error) health.Class {
	var upErr *Error
	if errors.As(err, &upErr) {
		return upErr.Class
	}
	return health.Transient
}

func statusError(statusCode int, body []byte) *Error {
	class := health.Transient
	if Classify(statusCode) == OutcomeTerminal {
		class = health.Terminal
	}

	return &Error{
		Class:      class,
		StatusCode: statusCode,
		Message:    errorMessage(statusCode, body),
		Body:       body,
	}
}

// errorMessage extracts {"error":{"message":...}} or falls back to the body.
func errorMessage(statusCode int, body []byte) string {
	var envelope struct {
		Error json.RawMessage `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil && len(envelope.Error) > 0 {
		var detail struct {
			Message string `json:"message"`
		}
		if json.Unmarshal(envelope.Error, &detail) == nil && detail.Message != "" {
			return truncate(detail.Message)
		}
		var plain string
		if json.Unmarshal(envelope.Error, &plain) == nil && plain != "" {
			return truncate(plain)
		}
	}

	if text := strings.TrimSpace(string(body)); text != "" {
		return truncate(text)
	}
	return http.StatusText(statusCode)
}

func truncate(s string) string {
	if len(s) <= maxMessageLength {
		return s
	}
	return s[:maxMessageLength] + "..."
}
