// Package api exposes the compensation engine over a thin JSON HTTP surface.
// Authentication is out of scope: the caller identity arrives as an
// X-User-ID header set by the gateway, and admin routes are mounted under
// /api/admin behind gateway-level authorization.
package api

import (
	"context"
	"net/http"

	"github.com/go-faster/jx"

	"github.com/xenking/kart-returns/internal/compensation"
	"github.com/xenking/kart-returns/internal/domain/order"
)

// Compensator is the library-level contract of the compensation engine.
type Compensator interface {
	CancelOrder(ctx context.Context, orderID, userID string) error
	PartialCancel(ctx context.Context, orderID, userID, itemID string, qty int64) error
	RequestReturn(ctx context.Context, orderID, userID, itemID string, qty int64, reasonCode string) error
	ApproveReturn(ctx context.Context, orderID, itemID string) error
	RejectReturn(ctx context.Context, orderID, itemID, reasonText string) error
}

// OrderReader provides the order-detail view for shoppers.
type OrderReader interface {
	GetOrderDetail(ctx context.Context, orderID, userID string) (*order.Order, []order.OrderItem, error)
}

// Handler routes compensation requests to the engine.
type Handler struct {
	engine Compensator
	orders OrderReader
}

// NewHandler constructs a Handler with the required dependencies.
func NewHandler(engine Compensator, orders OrderReader) *Handler {
	return &Handler{engine: engine, orders: orders}
}

// Register mounts the API routes on the given mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/orders/{id}", h.getOrder)
	mux.HandleFunc("POST /api/orders/{id}/cancel", h.cancelOrder)
	mux.HandleFunc("POST /api/orders/{id}/items/{itemId}/cancel", h.partialCancel)
	mux.HandleFunc("POST /api/orders/{id}/items/{itemId}/return", h.requestReturn)
	mux.HandleFunc("POST /api/admin/orders/{id}/items/{itemId}/approve-return", h.approveReturn)
	mux.HandleFunc("POST /api/admin/orders/{id}/items/{itemId}/reject-return", h.rejectReturn)
}

func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(w, r)
	if !ok {
		return
	}

	o, items, err := h.orders.GetOrderDetail(r.Context(), r.PathValue("id"), userID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeOrder(w, o, items)
}

func (h *Handler) cancelOrder(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(w, r)
	if !ok {
		return
	}

	if err := h.engine.CancelOrder(r.Context(), r.PathValue("id"), userID); err != nil {
		writeError(w, r, err)
		return
	}
	writeOK(w)
}

func (h *Handler) partialCancel(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(w, r)
	if !ok {
		return
	}
	req, err := decodeQuantityRequest(r)
	if err != nil {
		writeBadRequest(w, err)
		return
	}

	err = h.engine.PartialCancel(r.Context(), r.PathValue("id"), userID, r.PathValue("itemId"), req.Quantity)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeOK(w)
}

func (h *Handler) requestReturn(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(w, r)
	if !ok {
		return
	}
	req, err := decodeQuantityRequest(r)
	if err != nil {
		writeBadRequest(w, err)
		return
	}

	err = h.engine.RequestReturn(r.Context(), r.PathValue("id"), userID, r.PathValue("itemId"), req.Quantity, req.Reason)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeOK(w)
}

func (h *Handler) approveReturn(w http.ResponseWriter, r *http.Request) {
	err := h.engine.ApproveReturn(r.Context(), r.PathValue("id"), r.PathValue("itemId"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeOK(w)
}

func (h *Handler) rejectReturn(w http.ResponseWriter, r *http.Request) {
	req, err := decodeQuantityRequest(r)
	if err != nil {
		writeBadRequest(w, err)
		return
	}

	err = h.engine.RejectReturn(r.Context(), r.PathValue("id"), r.PathValue("itemId"), req.Reason)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeOK(w)
}

// callerID extracts the gateway-provided user identity. Requests without it
// are rejected before any work happens.
func callerID(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID := r.Header.Get("X-User-ID")
	if userID == "" {
		writeJSON(w, http.StatusUnauthorized, func(e *jx.Encoder) {
			e.ObjStart()
			e.FieldStart("code")
			e.Str("UNAUTHORIZED")
			e.FieldStart("message")
			e.Str("missing X-User-ID header")
			e.ObjEnd()
		})
		return "", false
	}
	return userID, true
}

// statusForCode maps stable business error codes onto HTTP statuses.
func statusForCode(code compensation.Code) int {
	switch code {
	case compensation.CodeNotFound:
		return http.StatusNotFound
	case compensation.CodeInvalidQuantity:
		return http.StatusUnprocessableEntity
	case compensation.CodeCancelFail, compensation.CodeInvalidState:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
