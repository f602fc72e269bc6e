package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/google/uuid"

	"github.com/angeloszaimis/poolgate/internal/dispatch"
	"github.com/angeloszaimis/poolgate/internal/metrics"
	"github.com/angeloszaimis/poolgate/internal/upstream"
	"github.com/angeloszaimis/poolgate/pkg/logger"
)

const (
	HeaderRequestID   = "X-Request-ID"
	HeaderPoolAccount = "X-Pool-Account"

	maxRequestBody = 32 << 20
	streamBuffer   = 4 << 10

	maxRequestIDLength = 128
)

// Request results reported to metrics.
const (
	resultSuccess     = "success"
	resultClientError = "client_error"
	resultInvalid     = "invalid_request"
	resultNoAccount   = "no_account"
	resultFailed      = "failed"
	resultCancelled   = "cancelled"
	resultError       = "error"
)

var errInvalidJSON = errors.New("invalid JSON")

type Model struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Created int64  `json:"created"`
	OwnedBy string `json:"owned_by"`
}

// FallbackModels is served by /v1/models when the upstream cannot be asked.
var FallbackModels = []Model{
	{ID: "gpt-4o-mini", Object: "model", Created: 1700000000, OwnedBy: "openai"},
	{ID: "gpt-4o", Object: "model", Created: 1700000000, OwnedBy: "openai"},
	{ID: "gpt-5", Object: "model", Created: 1700000000, OwnedBy: "openai"},
	{ID: "claude-sonnet-4-5", Object: "model", Created: 1700000000, OwnedBy: "anthropic"},
}

type modelList struct {
	Object string            `json:"object"`
	Data   []json.RawMessage `json:"data"`
}

type chatRequest struct {
	Model    string            `json:"model"`
	Messages []json.RawMessage `json:"messages"`
	Stream   bool              `json:"stream"`
}

func (c chatRequest) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Messages, validation.Required.Error("messages is required")),
	)
}

// Gateway serves the OpenAI-compatible endpoints.
type Gateway struct {
	dispatcher   *dispatch.Dispatcher
	collector    *metrics.Collector
	logger       *slog.Logger
	defaultModel string
	maxBody      int64
}

func NewGateway(dispatcher *dispatch.Dispatcher, collector *metrics.Collector, logger *slog.Logger, defaultModel string) *Gateway {
	return &Gateway{
		dispatcher:   dispatcher,
		collector:    collector,
		logger:       logger,
		defaultModel: defaultModel,
		maxBody:      maxRequestBody,
	}
}

// WithMaxBodySize limits the size of chat request bodies.
func (g *Gateway) WithMaxBodySize(n int64) *Gateway {
	if n > 0 {
		g.maxBody = n
	}
	return g
}

// Register mounts the gateway routes on mux.
func (g *Gateway) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/chat/completions", g.ChatCompletions)
	mux.HandleFunc("GET /v1/models", g.Models)
	mux.HandleFunc("GET /health", g.Health)
}

func (g *Gateway) ChatCompletions(w http.ResponseWriter, r *http.Request) {
	g.collector.Emit(metrics.MetricEvent{Type: metrics.EventRequestReceived})

	ctx, requestID := g.requestContext(r)
	w.Header().Set(HeaderRequestID, requestID)
	log := logger.FromContext(ctx, g.logger)

	body, req, err := g.decodeChat(w, r)
	if err != nil {
		log.Warn("Rejected chat request", slog.Any("err", err))
		g.complete(resultInvalid)

		status := http.StatusBadRequest
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		writeAPIError(w, status, apiError{Message: err.Error(), Type: "invalid_request_error"})
		return
	}

	result, err := g.dispatcher.Dispatch(ctx, dispatch.Call{
		RequestID: requestID,
		Model:     req.Model,
		Request: upstream.Request{
			Method: http.MethodPost,
			Path:   "/chat/completions",
			Body:   body,
			Header: r.Header,
		},
	})
	if err != nil {
		g.complete(g.writeDispatchError(ctx, w, err))
		return
	}

	if result.Response.Outcome == upstream.OutcomeClientError {
		g.complete(resultClientError)
	} else {
		g.complete(resultSuccess)
	}

	g.relay(ctx, w, result, req.Stream)
}

// Models lists the upstream models through the pool, falling back to a
// static list on any failure.
func (g *Gateway) Models(w http.ResponseWriter, r *http.Request) {
	ctx, requestID := g.requestContext(r)
	w.Header().Set(HeaderRequestID, requestID)

	list := modelList{Object: "list"}

	data, err := g.fetchModels(ctx, requestID, r.Header)
	if err != nil {
		logger.FromContext(ctx, g.logger).Warn("Serving fallback model list", slog.Any("err", err))
		for _, m := range FallbackModels {
			raw, _ := json.Marshal(m)
			list.Data = append(list.Data, raw)
		}
	} else {
		list.Data = data
	}

	writeJSON(w, http.StatusOK, list)
}

func (g *Gateway) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (g *Gateway) fetchModels(ctx context.Context, requestID string, header http.Header) ([]json.RawMessage, error) {
	result, err := g.dispatcher.Dispatch(ctx, dispatch.Call{
		RequestID: requestID,
		Request: upstream.Request{
			Method: http.MethodGet,
			Path:   "/models",
			Header: header,
		},
	})
	if err != nil {
		return nil, err
	}
	defer result.Response.Body.Close()

	if result.Response.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected models status %d", result.Response.StatusCode)
	}

	var list modelList
	if err := json.NewDecoder(result.Response.Body).Decode(&list); err != nil {
		return nil, err
	}
	if len(list.Data) == 0 {
		return nil, errors.New("upstream returned no models")
	}
	return list.Data, nil
}

// decodeChat validates the body and fills in the default model. The rest of
// the body is passed through untouched.
func (g *Gateway) decodeChat(w http.ResponseWriter, r *http.Request) ([]byte, chatRequest, error) {
	var req chatRequest

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, g.maxBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, req, fmt.Errorf("request body exceeds %d bytes: %w", tooLarge.Limit, err)
		}
		return nil, req, errors.New("failed to read request body")
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, req, errInvalidJSON
	}
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, req, errInvalidJSON
	}
	if err := req.Validate(); err != nil {
		return nil, req, err
	}

	if strings.TrimSpace(req.Model) == "" {
		req.Model = g.defaultModel
		fields["model"], _ = json.Marshal(req.Model)
		if body, err = json.Marshal(fields); err != nil {
			return nil, req, err
		}
	}

	return body, req, nil
}

func (g *Gateway) writeDispatchError(ctx context.Context, w http.ResponseWriter, err error) string {
	log := logger.FromContext(ctx, g.logger)

	var failed *dispatch.AllAttemptsFailedError
	switch {
	case errors.Is(err, dispatch.ErrNoAvailableAccount):
		log.Warn("No available account in pool", slog.Any("err", err))
		writeAPIError(w, http.StatusServiceUnavailable, apiError{
			Message: "No available account in pool",
			Type:    "server_error",
		})
		return resultNoAccount

	case errors.As(err, &failed):
		log.Warn("All attempts failed", slog.Int("attempts", failed.Attempts), slog.Any("err", failed.Last))
		e := apiError{Message: failed.Last.Error(), Type: "api_error"}
		var upErr *upstream.Error
		if errors.As(failed.Last, &upErr) {
			e.Message = upErr.Message
			e.UpstreamStatus = upErr.StatusCode
		}
		writeAPIError(w, http.StatusBadGateway, e)
		return resultFailed

	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		log.Info("Client went away before a response", slog.Any("err", err))
		return resultCancelled

	default:
		log.Error("Dispatch failed", slog.Any("err", err))
		writeAPIError(w, http.StatusInternalServerError, apiError{Message: "internal error", Type: "server_error"})
		return resultError
	}
}

// relay mirrors the upstream response. Streams are flushed as chunks arrive.
func (g *Gateway) relay(ctx context.Context, w http.ResponseWriter, result *dispatch.Result, stream bool) {
	resp := result.Response
	defer resp.Body.Close()

	upstream.CopyHeader(w.Header(), resp.Header)
	w.Header().Set(HeaderPoolAccount, result.Account.ID)
	w.WriteHeader(resp.StatusCode)

	if !stream && !strings.HasPrefix(resp.Header.Get("Content-Type"), "text/event-stream") {
		if _, err := io.Copy(w, resp.Body); err != nil {
			logger.FromContext(ctx, g.logger).Warn("Failed to relay response", slog.Any("err", err))
		}
		return
	}

	rc := http.NewResponseController(w)
	buf := make([]byte, streamBuffer)
	start := time.Now()
	for {
		n, err := resp.Body.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				logger.FromContext(ctx, g.logger).Info("Client stopped reading stream", slog.Any("err", werr))
				return
			}
			_ = rc.Flush()
		}
		if err == io.EOF {
			logger.FromContext(ctx, g.logger).Debug("Stream finished",
				slog.String("account", result.Account.ID),
				slog.Duration("duration", time.Since(start)))
			return
		}
		if err != nil {
			logger.FromContext(ctx, g.logger).Warn("Upstream stream interrupted",
				slog.String("account", result.Account.ID),
				slog.Any("err", err))
			return
		}
	}
}

// requestContext tags the request with the client's X-Request-ID, or a fresh
// one when it is missing or not a plain token.
func (g *Gateway) requestContext(r *http.Request) (context.Context, string) {
	requestID := r.Header.Get(HeaderRequestID)
	if !validRequestID(requestID) {
		if requestID != "" {
			g.logger.Debug("Replacing malformed request id", slog.Int("length", len(requestID)))
		}
		requestID = uuid.NewString()
	}
	return logger.WithRequestID(r.Context(), requestID), requestID
}

func validRequestID(id string) bool {
	if id == "" || len(id) > maxRequestIDLength {
		return false
	}
	for _, c := range id {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		case c == '-', c == '_', c == '.', c == ':':
		default:
			return false
		}
	}
	return true
}

func (g *Gateway) complete(result string) {
	g.collector.Emit(metrics.MetricEvent{Type: metrics.EventRequestCompleted, Outcome: result})
}
