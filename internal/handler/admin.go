package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"

	"github.com/angeloszaimis/poolgate/internal/account"
	"github.com/angeloszaimis/poolgate/internal/health"
	"github.com/angeloszaimis/poolgate/internal/healthcheck"
	"github.com/angeloszaimis/poolgate/internal/metrics"
	"github.com/angeloszaimis/poolgate/internal/requestlog"
	"github.com/angeloszaimis/poolgate/internal/store"
)

const (
	AdminPrefix = "/api/admin"

	dashboardLogs   = 20
	defaultLogLimit = 50
	operatorReason  = "disabled by operator"
)

// AccountView is an account as shown to operators. The credential is masked.
type AccountView struct {
	account.Account
	APIKey      string  `json:"api_key"`
	Condition   string  `json:"condition"`
	SuccessRate float64 `json:"success_rate"`
}

type dashboard struct {
	account.Stats
	RecentLogs []requestlog.Entry `json:"recent_logs"`
}

type addAccountRequest struct {
	ID       string `json:"id"`
	Email    string `json:"email"`
	Username string `json:"username"`
	APIKey   string `json:"api_key"`
	BaseURL  string `json:"base_url"`
	Group    string `json:"group"`
}

func (a addAccountRequest) Validate() error {
	return validation.ValidateStruct(&a,
		validation.Field(&a.Email,
			validation.When(a.ID == "", validation.Required.Error("id or email is required")),
			is.EmailFormat),
		validation.Field(&a.APIKey, validation.Required),
		validation.Field(&a.BaseURL, is.URL),
	)
}

func (a addAccountRequest) account() account.Account {
	acc := store.Registration{
		Username: a.Username,
		Email:    a.Email,
		APIKey:   a.APIKey,
		BaseURL:  a.BaseURL,
		Group:    a.Group,
	}.Account()
	if a.ID != "" {
		acc.ID = a.ID
	}
	return acc
}

// Admin serves the pool management API.
type Admin struct {
	store     store.Store
	tracker   *health.Tracker
	prober    *healthcheck.Prober
	logs      requestlog.Reader
	collector *metrics.Collector
	strategy  string
	logger    *slog.Logger
}

func NewAdmin(st store.Store, tracker *health.Tracker, prober *healthcheck.Prober, logs requestlog.Reader, collector *metrics.Collector, strategy string, logger *slog.Logger) *Admin {
	return &Admin{
		store:     st,
		tracker:   tracker,
		prober:    prober,
		logs:      logs,
		collector: collector,
		strategy:  strategy,
		logger:    logger,
	}
}

// Register mounts the admin routes on mux under AdminPrefix.
func (a *Admin) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET "+AdminPrefix+"/dashboard", a.Dashboard)
	mux.HandleFunc("GET "+AdminPrefix+"/accounts", a.ListAccounts)
	mux.HandleFunc("POST "+AdminPrefix+"/accounts", a.AddAccount)
	mux.HandleFunc("GET "+AdminPrefix+"/accounts/{id}", a.GetAccount)
	mux.HandleFunc("POST "+AdminPrefix+"/accounts/{id}/toggle", a.ToggleAccount)
	mux.HandleFunc("POST "+AdminPrefix+"/accounts/{id}/health", a.CheckAccount)
	mux.HandleFunc("POST "+AdminPrefix+"/health-check", a.CheckAll)
	mux.HandleFunc("POST "+AdminPrefix+"/import", a.Import)
	mux.HandleFunc("GET "+AdminPrefix+"/logs", a.Logs)
	if a.collector != nil {
		mux.HandleFunc("GET "+AdminPrefix+"/metrics", a.collector.Handler(a.strategy))
	}
}

func (a *Admin) Dashboard(w http.ResponseWriter, r *http.Request) {
	accounts, err := a.store.List(r.Context())
	if err != nil {
		a.internalError(w, "Failed to list accounts", err)
		return
	}

	recent, err := a.logs.Recent(r.Context(), dashboardLogs)
	if err != nil {
		a.internalError(w, "Failed to read request log", err)
		return
	}

	writeJSON(w, http.StatusOK, dashboard{
		Stats:      account.Summarize(accounts, a.tracker.Now()),
		RecentLogs: nonNil(recent),
	})
}

// ListAccounts lists accounts, optionally filtered by ?status=.
func (a *Admin) ListAccounts(w http.ResponseWriter, r *http.Request) {
	var filter *account.Status
	if raw := r.URL.Query().Get("status"); raw != "" {
		status, err := account.ParseStatus(raw)
		if err != nil {
			writeAdminError(w, http.StatusBadRequest, err.Error())
			return
		}
		filter = &status
	}

	accounts, err := a.store.List(r.Context())
	if err != nil {
		a.internalError(w, "Failed to list accounts", err)
		return
	}

	views := make([]AccountView, 0, len(accounts))
	for _, acc := range accounts {
		if filter != nil && acc.Status != *filter {
			continue
		}
		views = append(views, a.view(acc))
	}

	writeJSON(w, http.StatusOK, map[string]any{"accounts": views, "total": len(views)})
}

func (a *Admin) GetAccount(w http.ResponseWriter, r *http.Request) {
	acc, err := a.store.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		a.storeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a.view(acc))
}

// AddAccount registers one account. Registering an existing id replaces it.
func (a *Admin) AddAccount(w http.ResponseWriter, r *http.Request) {
	var req addAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAdminError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	if err := req.Validate(); err != nil {
		writeAdminError(w, http.StatusBadRequest, err.Error())
		return
	}

	acc := req.account()
	if err := a.store.Put(r.Context(), acc); err != nil {
		a.storeError(w, err)
		return
	}

	a.logger.Info("Account registered", slog.String("account", acc.ID))
	writeJSON(w, http.StatusCreated, map[string]any{
		"success": true,
		"message": fmt.Sprintf("Account %s added", acc.ID),
	})
}

// ToggleAccount disables an active account, or reinstates any other.
func (a *Admin) ToggleAccount(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := r.PathValue("id")

	acc, err := a.store.Get(ctx, id)
	if err != nil {
		a.storeError(w, err)
		return
	}

	from := a.tracker.Condition(acc)
	if acc.Status == account.StatusActive {
		acc, err = a.store.MarkDisabled(ctx, id, operatorReason)
	} else {
		acc, _, err = a.tracker.Reinstate(ctx, id)
	}
	if err != nil {
		a.storeError(w, err)
		return
	}

	to := a.tracker.Condition(acc)
	if from != to {
		a.collector.Emit(metrics.MetricEvent{
			Type:      metrics.EventConditionChanged,
			Account:   id,
			Condition: to.String(),
		})
	}

	a.logger.Info("Account toggled by operator",
		slog.String("account", id),
		slog.String("from", from.String()),
		slog.String("to", to.String()))

	writeJSON(w, http.StatusOK, map[string]any{"success": true, "account": a.view(acc)})
}

// CheckAccount probes one account now. A disabled account that answers is
// reinstated.
func (a *Admin) CheckAccount(w http.ResponseWriter, r *http.Request) {
	result, err := a.prober.Check(r.Context(), r.PathValue("id"), true)
	if err != nil {
		a.storeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (a *Admin) CheckAll(w http.ResponseWriter, r *http.Request) {
	summary, err := a.prober.CheckAll(r.Context())
	if err != nil {
		a.internalError(w, "Health check failed", err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// Import reads registration output from the body.
func (a *Admin) Import(w http.ResponseWriter, r *http.Request) {
	imported, err := store.Import(r.Context(), a.store, r.Body)
	if err != nil {
		a.logger.Warn("Import failed", slog.Int("imported", imported), slog.Any("err", err))
		writeAdminError(w, http.StatusBadRequest, err.Error())
		return
	}

	a.logger.Info("Accounts imported", slog.Int("imported", imported))
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "imported": imported})
}

// Logs returns the newest request log entries, ?limit= of them.
func (a *Admin) Logs(w http.ResponseWriter, r *http.Request) {
	limit := defaultLogLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeAdminError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	entries, err := a.logs.Recent(r.Context(), limit)
	if err != nil {
		a.internalError(w, "Failed to read request log", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"logs": nonNil(entries), "total": len(entries)})
}

func (a *Admin) view(acc account.Account) AccountView {
	return AccountView{
		Account:     acc,
		APIKey:      acc.MaskedKey(),
		Condition:   a.tracker.Condition(acc).String(),
		SuccessRate: acc.SuccessRate(),
	}
}

func (a *Admin) storeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeAdminError(w, http.StatusNotFound, "Account not found")
	case errors.Is(err, store.ErrInvalidAccount):
		writeAdminError(w, http.StatusBadRequest, err.Error())
	default:
		a.internalError(w, "Store operation failed", err)
	}
}

func (a *Admin) internalError(w http.ResponseWriter, msg string, err error) {
	a.logger.Error(msg, slog.Any("err", err))
	writeAdminError(w, http.StatusInternalServerError, msg)
}

func nonNil(entries []requestlog.Entry) []requestlog.Entry {
	if entries == nil {
		return []requestlog.Entry{}
	}
	return entries
}
