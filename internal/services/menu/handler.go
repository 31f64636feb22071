package menu

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"labonnas-pos/internal/httpx"
	"labonnas-pos/internal/logger"
	"labonnas-pos/internal/models"
)

// Handler handles HTTP requests for the menu catalog
type Handler struct {
	catalog *Catalog
	logger  *logger.Logger
}

func NewHandler(catalog *Catalog, log *logger.Logger) *Handler {
	return &Handler{catalog: catalog, logger: log}
}

func (h *Handler) Routes(r chi.Router) {
	r.Get("/menu", h.List)
	r.Get("/menu/{itemID}", h.Get)
}

// List handles GET /menu?category=
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	category := models.Category(r.URL.Query().Get("category"))

	items, err := h.catalog.List(r.Context(), category)
	if err != nil {
		h.logger.Error("menu_list_failed", "Failed to list menu", httpx.RequestID(r), err, nil)
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, items)
}

// Get handles GET /menu/{itemID}
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	item, err := h.catalog.Get(r.Context(), chi.URLParam(r, "itemID"))
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, item)
}
