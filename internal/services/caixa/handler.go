package caixa

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"labonnas-pos/internal/apperr"
	"labonnas-pos/internal/auth"
	"labonnas-pos/internal/httpx"
	"labonnas-pos/internal/logger"
	"labonnas-pos/internal/models"
	"labonnas-pos/internal/money"
)

// Handler handles HTTP requests for the cash register
type Handler struct {
	service *Service
	logger  *logger.Logger
}

func NewHandler(service *Service, log *logger.Logger) *Handler {
	return &Handler{service: service, logger: log}
}

func (h *Handler) Routes(r chi.Router) {
	r.Route("/caixa", func(r chi.Router) {
		r.Use(auth.RequireRole(auth.RoleCaixa, auth.RoleGerente, auth.RoleAdmin))
		r.Post("/open", h.Open)
		r.Post("/close", h.Close)
		r.Get("/current", h.Current)
		r.Get("/transactions", h.Transactions)
		r.Post("/transactions", h.AddTransaction)
		r.Get("/sessions", h.History)
	})
}

type openRequest struct {
	OpeningFloat money.Amount `json:"opening_float"`
}

// Open handles POST /caixa/open
func (h *Handler) Open(w http.ResponseWriter, r *http.Request) {
	user, err := auth.SessionFrom(r)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	var req openRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	if !req.OpeningFloat.Set {
		httpx.WriteError(w, r, apperr.Validation("opening_float", "opening float is required"))
		return
	}

	session, err := h.service.Open(r.Context(), user, req.OpeningFloat.Decimal)
	if err != nil {
		h.logError(r, "caixa_open_failed", "Failed to open caixa", err)
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, session)
}

type closeRequest struct {
	ClosingFloat money.Amount `json:"closing_float"`
}

// Close handles POST /caixa/close
func (h *Handler) Close(w http.ResponseWriter, r *http.Request) {
	user, err := auth.SessionFrom(r)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	var req closeRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	if !req.ClosingFloat.Set {
		httpx.WriteError(w, r, apperr.Validation("closing_float", "closing float is required"))
		return
	}

	session, err := h.service.Close(r.Context(), user, req.ClosingFloat.Decimal)
	if err != nil {
		h.logError(r, "caixa_close_failed", "Failed to close caixa", err)
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, session)
}

// Current handles GET /caixa/current
func (h *Handler) Current(w http.ResponseWriter, r *http.Request) {
	user, err := auth.SessionFrom(r)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	summary, err := h.service.Summary(r.Context(), user.UserID)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, summary)
}

func (h *Handler) Transactions(w http.ResponseWriter, r *http.Request) {
	user, err := auth.SessionFrom(r)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	session, err := h.service.Current(r.Context(), user.UserID)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	txs, err := h.service.Transactions(r.Context(), session.ID)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, txs)
}

type transactionRequest struct {
	Type        models.TransactionType `json:"type"`
	Amount      money.Amount           `json:"amount"`
	Description string                 `json:"description"`
}

// AddTransaction handles POST /caixa/transactions
func (h *Handler) AddTransaction(w http.ResponseWriter, r *http.Request) {
	user, err := auth.SessionFrom(r)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	var req transactionRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, r, err)
		return
	}

	tx, err := h.service.AddTransaction(r.Context(), user, req.Type, req.Amount.Decimal, req.Description)
	if err != nil {
		h.logError(r, "caixa_transaction_failed", "Failed to add ledger transaction", err)
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, tx)
}

// History handles GET /caixa/sessions?limit=
func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			httpx.WriteError(w, r, apperr.Validation("limit", "limit must be a non-negative integer"))
			return
		}
		limit = n
	}
	sessions, err := h.service.History(r.Context(), limit)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, sessions)
}

// logError logs failures that are not the caller's fault.
func (h *Handler) logError(r *http.Request, action, message string, err error) {
	switch apperr.KindOf(err) {
	case apperr.KindValidation, apperr.KindPrecondition, apperr.KindForbidden:
		return
	}
	h.logger.Error(action, message, httpx.RequestID(r), err, nil)
}
