// Package httpapi exposes the credit ledger over HTTP.
package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/R3E-Network/credit_layer/internal/app/auth"
	"github.com/R3E-Network/credit_layer/internal/app/metrics"
	creditssvc "github.com/R3E-Network/credit_layer/internal/app/services/credits"
	"github.com/R3E-Network/credit_layer/internal/app/storage"
	"github.com/R3E-Network/credit_layer/internal/errors"
	"github.com/R3E-Network/credit_layer/pkg/logger"
)

// Config bundles the handler dependencies that vary by deployment.
type Config struct {
	Verifier       *auth.Verifier
	Nonces         auth.NonceStore // nil disables single-use enforcement
	DefaultTenant  string
	RateLimitRPS   int
	RateLimitBurst int
	Audit          *AuditLog // nil disables auditing
}

type handler struct {
	credits *creditssvc.Service
	cfg     Config
	pinger  storage.Pinger
	log     *logger.Logger
}

// NewHandler returns the router exposing the credit REST API plus health and
// metrics endpoints.
func NewHandler(credits *creditssvc.Service, cfg Config, pinger storage.Pinger, log *logger.Logger) http.Handler {
	if log == nil {
		log = logger.NewDefault("httpapi")
	}
	h := &handler{credits: credits, cfg: cfg, pinger: pinger, log: log}

	r := mux.NewRouter()
	r.Use(mux.MiddlewareFunc(metrics.InstrumentHandler))

	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/healthz", h.health).Methods(http.MethodGet)

	api := r.PathPrefix("/credits").Subrouter()
	api.Use(h.requireAPIKey)
	if cfg.RateLimitRPS > 0 {
		api.Use(newRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst, log).middleware)
	}
	api.Use(h.withTenant)
	api.HandleFunc("/balance", h.balance).Methods(http.MethodPost)
	api.HandleFunc("/debit", h.debit).Methods(http.MethodPost)
	api.HandleFunc("/grant", h.grant).Methods(http.MethodPost)
	api.HandleFunc("/transactions", h.transactions).Methods(http.MethodGet)
	api.HandleFunc("/audit", h.auditEntries).Methods(http.MethodGet)

	return r
}

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	if h.pinger != nil {
		if err := h.pinger.Ping(r.Context()); err != nil {
			h.respondError(w, r, err, "")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type balanceRequest struct {
	UserEmail string `json:"user_email"`
	Nonce     int64  `json:"nonce"`
	Signature string `json:"signature"`
}

func (h *handler) balance(w http.ResponseWriter, r *http.Request) {
	var payload balanceRequest
	if err := decodeJSON(r.Body, &payload); err != nil {
		h.respondError(w, r, errors.InvalidRequest("malformed request body"), "")
		return
	}

	if err := h.authenticate(r.Context(), payload.UserEmail, auth.BalanceMessage(payload.UserEmail, payload.Nonce), payload.Signature, payload.Nonce); err != nil {
		h.respondError(w, r, err, payload.UserEmail)
		return
	}

	uc, err := h.credits.GetBalance(r.Context(), payload.UserEmail)
	if err != nil {
		h.respondError(w, r, err, payload.UserEmail)
		return
	}

	var lastUpdated *string
	if !uc.UpdatedAt.IsZero() {
		s := uc.UpdatedAt.UTC().Format(time.RFC3339)
		lastUpdated = &s
	}
	tenant := tenantFromContext(r.Context())
	var tenantOut *string
	if tenant != "" {
		tenantOut = &tenant
	}

	h.recordAudit(r, payload.UserEmail, http.StatusOK)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"credits":       uc.Available,
		"credits_used":  uc.Used,
		"credits_total": uc.Total,
		"last_updated":  lastUpdated,
		"tenant_id":     tenantOut,
	})
}

type debitRequest struct {
	UserEmail string  `json:"user_email"`
	Amount    int     `json:"amount"`
	Reason    *string `json:"reason"`
	Nonce     int64   `json:"nonce"`
	Signature string  `json:"signature"`
}

func (h *handler) debit(w http.ResponseWriter, r *http.Request) {
	h.mutation(w, r, func(ctx context.Context, req debitRequest, reason, tenant string) (map[string]interface{}, error) {
		uc, _, err := h.credits.Debit(ctx, req.UserEmail, req.Amount, reason, tenant)
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{
			"status":  "ok",
			"debited": req.Amount,
			"balance": uc.Available,
		}, nil
	})
}

func (h *handler) grant(w http.ResponseWriter, r *http.Request) {
	h.mutation(w, r, func(ctx context.Context, req debitRequest, reason, tenant string) (map[string]interface{}, error) {
		uc, _, err := h.credits.Grant(ctx, req.UserEmail, req.Amount, reason, tenant)
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{
			"status":  "ok",
			"granted": req.Amount,
			"balance": uc.Available,
		}, nil
	})
}

// mutation runs the shared debit/grant pipeline: decode, authenticate over
// the amount-bearing canonical message, then apply.
func (h *handler) mutation(w http.ResponseWriter, r *http.Request, apply func(ctx context.Context, req debitRequest, reason, tenant string) (map[string]interface{}, error)) {
	var payload debitRequest
	if err := decodeJSON(r.Body, &payload); err != nil {
		h.respondError(w, r, errors.InvalidRequest("malformed request body"), "")
		return
	}
	if payload.Amount <= 0 {
		h.respondError(w, r, errors.InvalidRequest("amount must be positive"), payload.UserEmail)
		return
	}

	if err := h.authenticate(r.Context(), payload.UserEmail, auth.DebitMessage(payload.UserEmail, payload.Amount, payload.Nonce), payload.Signature, payload.Nonce); err != nil {
		h.respondError(w, r, err, payload.UserEmail)
		return
	}

	reason := ""
	if payload.Reason != nil {
		reason = *payload.Reason
	}

	out, err := apply(r.Context(), payload, reason, tenantFromContext(r.Context()))
	if err != nil {
		h.respondError(w, r, err, payload.UserEmail)
		return
	}
	h.recordAudit(r, payload.UserEmail, http.StatusOK)
	writeJSON(w, http.StatusOK, out)
}

func (h *handler) transactions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	email := q.Get("user_email")
	nonce, err := strconv.ParseInt(q.Get("nonce"), 10, 64)
	if err != nil {
		h.respondError(w, r, errors.InvalidRequest("nonce must be an integer"), email)
		return
	}
	limit, _ := strconv.Atoi(q.Get("limit"))

	if err := h.authenticate(r.Context(), email, auth.BalanceMessage(email, nonce), q.Get("signature"), nonce); err != nil {
		h.respondError(w, r, err, email)
		return
	}

	txs, err := h.credits.History(r.Context(), email, limit)
	if err != nil {
		h.respondError(w, r, err, email)
		return
	}
	h.recordAudit(r, email, http.StatusOK)
	writeJSON(w, http.StatusOK, map[string]interface{}{"transactions": txs})
}

func (h *handler) auditEntries(w http.ResponseWriter, r *http.Request) {
	if h.cfg.Audit == nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{"entries": []auditEntry{}})
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	writeJSON(w, http.StatusOK, map[string]interface{}{"entries": h.cfg.Audit.listLimit(limit)})
}

// authenticate runs signature, freshness and optional single-use checks.
// The API key was already validated by middleware.
func (h *handler) authenticate(ctx context.Context, email, message, signature string, nonce int64) error {
	if err := h.cfg.Verifier.VerifySignature(message, signature); err != nil {
		metrics.RecordAuthFailure("signature")
		return err
	}
	if err := h.cfg.Verifier.CheckFreshness(nonce); err != nil {
		metrics.RecordAuthFailure("nonce")
		return err
	}
	if h.cfg.Nonces != nil {
		ok, err := h.cfg.Nonces.Consume(ctx, email, nonce)
		if err != nil {
			return errors.Unavailable("nonce store unavailable", err)
		}
		if !ok {
			metrics.RecordAuthFailure("replay")
			return errors.Unauthorized("nonce already used")
		}
	}
	return nil
}

func (h *handler) recordAudit(r *http.Request, email string, status int) {
	if h.cfg.Audit == nil {
		return
	}
	h.cfg.Audit.add(auditEntry{
		Time:       time.Now().UTC(),
		Email:      email,
		Tenant:     tenantFromContext(r.Context()),
		Path:       r.URL.Path,
		Method:     r.Method,
		Status:     status,
		RemoteAddr: r.RemoteAddr,
	})
}

// respondError maps errors onto the taxonomy, logging internal detail
// server-side and emitting only the stable message to the client.
func (h *handler) respondError(w http.ResponseWriter, r *http.Request, err error, email string) {
	se := errors.GetServiceError(err)
	if se == nil {
		se = errors.Internal("internal error", err)
	}
	if se.HTTPStatus >= http.StatusInternalServerError {
		h.log.WithError(err).WithFields(map[string]interface{}{
			"path":   r.URL.Path,
			"method": r.Method,
		}).Error("request failed")
	}
	if h.cfg.Audit != nil && email != "" {
		h.cfg.Audit.add(auditEntry{
			Time:       time.Now().UTC(),
			Email:      email,
			Tenant:     tenantFromContext(r.Context()),
			Path:       r.URL.Path,
			Method:     r.Method,
			Status:     se.HTTPStatus,
			RemoteAddr: r.RemoteAddr,
		})
	}
	writeJSON(w, se.HTTPStatus, map[string]string{"error": se.Message, "code": se.Code})
}

func decodeJSON(body io.ReadCloser, dst interface{}) error {
	defer body.Close()
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
