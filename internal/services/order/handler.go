package order

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"labonnas-pos/internal/apperr"
	"labonnas-pos/internal/auth"
	"labonnas-pos/internal/httpx"
	"labonnas-pos/internal/logger"
	"labonnas-pos/internal/models"
)

type menuItems interface {
	Get(ctx context.Context, id string) (models.MenuItem, error)
}

type tables interface {
	Get(ctx context.Context, tableID string) (models.Table, error)
}

// Handler handles HTTP requests for carts and orders
type Handler struct {
	lifecycle *Lifecycle
	drafts    *Drafts
	menu      menuItems
	tables    tables
	logger    *logger.Logger
}

func NewHandler(lifecycle *Lifecycle, drafts *Drafts, menu menuItems, t tables, log *logger.Logger) *Handler {
	return &Handler{
		lifecycle: lifecycle,
		drafts:    drafts,
		menu:      menu,
		tables:    t,
		logger:    log,
	}
}

func (h *Handler) Routes(r chi.Router) {
	r.Get("/tables/{tableID}/cart", h.GetCart)
	r.Delete("/tables/{tableID}/cart", h.ClearCart)
	r.Post("/tables/{tableID}/cart/items", h.AddItem)
	r.Patch("/tables/{tableID}/cart/items/{lineID}", h.UpdateQuantity)
	r.Delete("/tables/{tableID}/cart/items/{lineID}", h.RemoveItem)
	r.Post("/tables/{tableID}/orders", h.Submit)

	r.Get("/orders", h.List)
	r.Get("/orders/{orderID}", h.Get)
	r.Patch("/orders/{orderID}/status", h.Transition)
	r.Post("/orders/{orderID}/deletion-request", h.RequestDeletion)
	r.Post("/orders/{orderID}/deletion-request/approve", h.ApproveDeletion)
}

func (h *Handler) GetCart(w http.ResponseWriter, r *http.Request) {
	httpx.WriteJSON(w, http.StatusOK, h.drafts.View(chi.URLParam(r, "tableID")))
}

func (h *Handler) ClearCart(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, func(c *Cart) error {
		c.Clear()
		return nil
	})
}

type addItemRequest struct {
	MenuItemID string `json:"menu_item_id"`
}

// AddItem handles POST /tables/{tableID}/cart/items
func (h *Handler) AddItem(w http.ResponseWriter, r *http.Request) {
	var req addItemRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	if req.MenuItemID == "" {
		httpx.WriteError(w, r, apperr.Validation("menu_item_id", "menu item id is required"))
		return
	}
	if _, err := h.tables.Get(r.Context(), chi.URLParam(r, "tableID")); err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	item, err := h.menu.Get(r.Context(), req.MenuItemID)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}

	h.mutate(w, r, func(c *Cart) error {
		return c.AddItem(item)
	})
}

type quantityRequest struct {
	Quantity int `json:"quantity"`
}

// UpdateQuantity handles PATCH /tables/{tableID}/cart/items/{lineID}
func (h *Handler) UpdateQuantity(w http.ResponseWriter, r *http.Request) {
	var req quantityRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	lineID := chi.URLParam(r, "lineID")
	h.mutate(w, r, func(c *Cart) error {
		c.UpdateQuantity(lineID, req.Quantity)
		return nil
	})
}

func (h *Handler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	lineID := chi.URLParam(r, "lineID")
	h.mutate(w, r, func(c *Cart) error {
		c.RemoveItem(lineID)
		return nil
	})
}

func (h *Handler) mutate(w http.ResponseWriter, r *http.Request, fn func(c *Cart) error) {
	session, err := auth.SessionFrom(r)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	view, err := h.drafts.Mutate(chi.URLParam(r, "tableID"), session.Name, fn)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, view)
}

type submitRequest struct {
	Responsible   string `json:"responsible"`
	SendToKitchen bool   `json:"send_to_kitchen"`
}

// Submit handles POST /tables/{tableID}/orders
func (h *Handler) Submit(w http.ResponseWriter, r *http.Request) {
	requestID := httpx.RequestID(r)
	session, err := auth.SessionFrom(r)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}

	var req submitRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		h.logger.Error("validation_failed", "Failed to parse request body", requestID, err, nil)
		httpx.WriteError(w, r, err)
		return
	}

	tableID := chi.URLParam(r, "tableID")
	h.logger.Debug("order_received", "Received order submission", requestID, map[string]interface{}{
		"table_id":        tableID,
		"send_to_kitchen": req.SendToKitchen,
	})

	order, tbl, err := h.lifecycle.Submit(r.Context(), session, tableID, req.Responsible, req.SendToKitchen)
	if err != nil {
		if apperr.KindOf(err) != apperr.KindValidation {
			h.logger.Error("order_submission_failed", "Failed to submit order", requestID, err, map[string]interface{}{
				"table_id": tableID,
			})
		}
		httpx.WriteError(w, r, err)
		return
	}

	httpx.WriteJSON(w, http.StatusCreated, map[string]any{
		"order": order,
		"table": tbl,
	})
}

// List handles GET /orders?status=
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	orders, err := h.lifecycle.List(r.Context(), models.OrderStatus(r.URL.Query().Get("status")))
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, orders)
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	order, err := h.lifecycle.Get(r.Context(), chi.URLParam(r, "orderID"))
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, order)
}

type transitionRequest struct {
	Status models.OrderStatus `json:"status"`
}

// Transition handles PATCH /orders/{orderID}/status
func (h *Handler) Transition(w http.ResponseWriter, r *http.Request) {
	session, err := auth.SessionFrom(r)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	var req transitionRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, r, err)
		return
	}

	order, err := h.lifecycle.Transition(r.Context(), session, chi.URLParam(r, "orderID"), req.Status)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, order)
}

type deletionRequest struct {
	Reason string `json:"reason"`
}

func (h *Handler) RequestDeletion(w http.ResponseWriter, r *http.Request) {
	session, err := auth.SessionFrom(r)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	var req deletionRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, r, err)
		return
	}

	order, err := h.lifecycle.RequestDeletion(r.Context(), session, chi.URLParam(r, "orderID"), req.Reason)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, order)
}

func (h *Handler) ApproveDeletion(w http.ResponseWriter, r *http.Request) {
	session, err := auth.SessionFrom(r)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	order, err := h.lifecycle.ApproveDeletion(r.Context(), session, chi.URLParam(r, "orderID"))
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, order)
}
