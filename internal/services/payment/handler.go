package payment

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"labonnas-pos/internal/apperr"
	"labonnas-pos/internal/auth"
	"labonnas-pos/internal/httpx"
	"labonnas-pos/internal/logger"
	"labonnas-pos/internal/models"
)

// Handler handles HTTP requests for table payments
type Handler struct {
	service *Service
	logger  *logger.Logger
}

func NewHandler(service *Service, log *logger.Logger) *Handler {
	return &Handler{service: service, logger: log}
}

func (h *Handler) Routes(r chi.Router) {
	r.With(auth.RequireRole(auth.RoleCaixa, auth.RoleGerente, auth.RoleAdmin)).
		Post("/tables/{tableID}/payment", h.Finalize)
}

type finalizeRequest struct {
	Method          models.PaymentMethod `json:"method"`
	ExpectedVersion int64                `json:"expected_version,omitempty"`
}

// Finalize handles POST /tables/{tableID}/payment
func (h *Handler) Finalize(w http.ResponseWriter, r *http.Request) {
	user, err := auth.SessionFrom(r)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	var req finalizeRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, r, err)
		return
	}

	receipt, err := h.service.Finalize(r.Context(), user, chi.URLParam(r, "tableID"), req.Method, req.ExpectedVersion)
	if err != nil {
		switch apperr.KindOf(err) {
		case apperr.KindUnavailable, apperr.KindInternal:
			h.logger.Error("payment_failed", "Failed to finalize payment", httpx.RequestID(r), err, map[string]interface{}{
				"table_id": chi.URLParam(r, "tableID"),
			})
		}
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, receipt)
}
