package kitchen

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"labonnas-pos/internal/httpx"
)

// Handler serves the kitchen view
type Handler struct {
	queue *Queue
}

func NewHandler(queue *Queue) *Handler {
	return &Handler{queue: queue}
}

func (h *Handler) Routes(r chi.Router) {
	r.Get("/kitchen/orders", h.List)
}

// List handles GET /kitchen/orders
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	httpx.WriteJSON(w, http.StatusOK, h.queue.List())
}
