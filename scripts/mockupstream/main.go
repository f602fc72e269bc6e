// Mockupstream is a stand-in for the OpenAI-compatible upstream, used to try
// the gateway locally. It serves /chat/completions (plain and streamed) and
// /models, and misbehaves according to the API key it is called with:
//
//	key contains "revoked"  -> 401
//	key contains "quota"    -> 402
//	key contains "limited"  -> 429
//	key contains "flaky"    -> 500 with probability -fail-rate
//	key contains "slow"     -> answers after -slow
//
// Usage:
//
//	go run ./scripts/mockupstream -port 8081
//	poolgate serve  # with upstream.base_url: http://localhost:8081/v1
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
)

type mock struct {
	logger   *slog.Logger
	failRate float64
	slow     time.Duration
}

func main() {
	port := flag.Int("port", 8081, "Port to listen on")
	failRate := flag.Float64("fail-rate", 0.5, "Failure probability for flaky keys")
	slow := flag.Duration("slow", 5*time.Second, "Delay for slow keys")
	flag.Parse()

	m := &mock{
		logger:   slog.New(slog.NewTextHandler(os.Stdout, nil)),
		failRate: *failRate,
		slow:     *slow,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/chat/completions", m.chat)
	mux.HandleFunc("GET /v1/models", m.models)

	addr := fmt.Sprintf(":%d", *port)
	m.logger.Info("Mock upstream listening", slog.String("addr", addr))
	if err := http.ListenAndServe(addr, mux); err != nil {
		m.logger.Error("Mock upstream stopped", slog.Any("err", err))
		os.Exit(1)
	}
}

// misbehave writes an error response for keys that should fail and reports
// whether it did.
func (m *mock) misbehave(w http.ResponseWriter, r *http.Request) bool {
	key := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")

	status := 0
	switch {
	case key == "":
		status = http.StatusUnauthorized
	case strings.Contains(key, "revoked"):
		status = http.StatusUnauthorized
	case strings.Contains(key, "quota"):
		status = http.StatusPaymentRequired
	case strings.Contains(key, "limited"):
		status = http.StatusTooManyRequests
	case strings.Contains(key, "flaky") && rand.Float64() < m.failRate:
		status = http.StatusInternalServerError
	case strings.Contains(key, "slow"):
		select {
		case <-time.After(m.slow):
		case <-r.Context().Done():
			return true
		}
	}

	m.logger.Info("Request",
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.String("key", key),
		slog.Int("status", max(status, http.StatusOK)))

	if status == 0 {
		return false
	}

	writeJSON(w, status, map[string]any{
		"error": map[string]string{
			"message": http.StatusText(status),
			"type":    "mock_error",
		},
	})
	return true
}

func (m *mock) chat(w http.ResponseWriter, r *http.Request) {
	if m.misbehave(w, r) {
		return
	}

	var req struct {
		Model  string `json:"model"`
		Stream bool   `json:"stream"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error": map[string]string{"message": "Invalid JSON", "type": "invalid_request_error"},
		})
		return
	}

	id := "chatcmpl-" + uuid.NewString()
	created := time.Now().Unix()

	if !req.Stream {
		writeJSON(w, http.StatusOK, map[string]any{
			"id":      id,
			"object":  "chat.completion",
			"created": created,
			"model":   req.Model,
			"choices": []map[string]any{{
				"index":         0,
				"message":       map[string]string{"role": "assistant", "content": "Hello from the mock upstream."},
				"finish_reason": "stop",
			}},
			"usage": map[string]int{"prompt_tokens": 5, "completion_tokens": 6, "total_tokens": 11},
		})
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	flusher, _ := w.(http.Flusher)

	for _, word := range strings.Fields("Hello from the mock upstream.") {
		chunk, _ := json.Marshal(map[string]any{
			"id":      id,
			"object":  "chat.completion.chunk",
			"created": created,
			"model":   req.Model,
			"choices": []map[string]any{{"index": 0, "delta": map[string]string{"content": word + " "}}},
		})
		fmt.Fprintf(w, "data: %s\n\n", chunk)
		if flusher != nil {
			flusher.Flush()
		}
		time.Sleep(50 * time.Millisecond)
	}
	fmt.Fprint(w, "data: [DONE]\n\n")
}

func (m *mock) models(w http.ResponseWriter, r *http.Request) {
	if m.misbehave(w, r) {
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"object": "list",
		"data": []map[string]any{
			{"id": "gpt-4o-mini", "object": "model", "created": 1700000000, "owned_by": "mock"},
			{"id": "gpt-4o", "object": "model", "created": 1700000000, "owned_by": "mock"},
		},
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
