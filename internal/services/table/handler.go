package table

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"labonnas-pos/internal/auth"
	"labonnas-pos/internal/httpx"
	"labonnas-pos/internal/logger"
	"labonnas-pos/internal/models"
)

// Handler handles HTTP requests for tables
type Handler struct {
	registry *Registry
	logger   *logger.Logger
}

func NewHandler(registry *Registry, log *logger.Logger) *Handler {
	return &Handler{registry: registry, logger: log}
}

func (h *Handler) Routes(r chi.Router) {
	r.Get("/tables", h.List)
	r.Get("/tables/{tableID}", h.Get)
	r.Put("/tables/{tableID}/status", h.SetStatus)
	r.Post("/tables/{tableID}/clear", h.Clear)
	r.With(auth.RequireRole(auth.RoleAdmin, auth.RoleGerente)).Post("/maintenance/reset-tables", h.ResetAll)
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	tables, err := h.registry.List(r.Context())
	if err != nil {
		h.logger.Error("table_list_failed", "Failed to list tables", httpx.RequestID(r), err, nil)
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, tables)
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	t, err := h.registry.Get(r.Context(), chi.URLParam(r, "tableID"))
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, t)
}

type statusRequest struct {
	Status models.TableStatus `json:"status"`
}

// SetStatus handles PUT /tables/{tableID}/status
func (h *Handler) SetStatus(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, r, err)
		return
	}

	t, err := h.registry.SetStatus(r.Context(), chi.URLParam(r, "tableID"), req.Status)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, t)
}

// Clear handles POST /tables/{tableID}/clear
func (h *Handler) Clear(w http.ResponseWriter, r *http.Request) {
	session, err := auth.SessionFrom(r)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}

	t, err := h.registry.ClearTable(r.Context(), chi.URLParam(r, "tableID"), session.Name)
	if err != nil {
		h.logger.Error("table_clear_failed", "Failed to clear table", httpx.RequestID(r), err, map[string]interface{}{
			"table_id": chi.URLParam(r, "tableID"),
		})
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, t)
}

// ResetAll handles POST /maintenance/reset-tables
func (h *Handler) ResetAll(w http.ResponseWriter, r *http.Request) {
	session, err := auth.SessionFrom(r)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}

	count, err := h.registry.SetAllAvailable(r.Context(), session.Name)
	if err != nil {
		h.logger.Error("table_reset_failed", "Failed to reset tables", httpx.RequestID(r), err, map[string]interface{}{
			"cleared": count,
		})
		httpx.WriteError(w, r, err)
		return
	}

	h.logger.Info("tables_reset", "All tables set available", httpx.RequestID(r), map[string]interface{}{
		"cleared": count,
		"user_id": session.UserID,
	})
	httpx.WriteJSON(w, http.StatusOK, map[string]int{"cleared": count})
}
