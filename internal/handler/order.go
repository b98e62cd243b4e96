package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"

	"github.com/vasiliy-maslov/ecommerce-microservices/checkout-service/internal/order"
)

type UpdateOrderStatusRequest struct {
	Status string `json:"status" validate:"required,oneof=pending confirmed paid shipped delivered cancelled"`
}

type PaymentCallbackRequest struct {
	OrderID          string `json:"order_id" validate:"required,uuid"`
	PaymentReference string `json:"payment_reference" validate:"required,max=128"`
	TransactionID    string `json:"transaction_id" validate:"omitempty,max=128"`
}

type OrderHandler struct {
	service  order.Service
	validate *validator.Validate
}

func NewOrderHandler(service order.Service) *OrderHandler {
	return &OrderHandler{service: service, validate: validator.New()}
}

// RegisterRoutes mounts the purchaser-facing order routes.
func (h *OrderHandler) RegisterRoutes(router chi.Router) {
	router.Get("/orders", h.handleListOrders)
	router.Get("/orders/{id}", h.handleGetOrder)
}

// RegisterInternalRoutes mounts routes called by other storefront services.
func (h *OrderHandler) RegisterInternalRoutes(router chi.Router) {
	router.Patch("/orders/{id}/status", h.handleUpdateStatus)
	router.Post("/payments/callback", h.handlePaymentCallback)
}

func (h *OrderHandler) handleListOrders(w http.ResponseWriter, r *http.Request) {
	purchaserID, ok := requirePurchaser(w, r)
	if !ok {
		return
	}

	orders, err := h.service.GetOrdersByPurchaserID(r.Context(), purchaserID)
	if err != nil {
		log.Error().Err(err).Stringer("purchaser_id", purchaserID).Msg("handler: failed to list orders via service")
		respondWithError(w, mapErrorToStatusCode(err), clientMessage(err, "Failed to list orders"))
		return
	}
	if orders == nil {
		orders = []order.Order{}
	}

	respondWithJSON(w, http.StatusOK, orders)
}

func (h *OrderHandler) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	purchaserID, ok := requirePurchaser(w, r)
	if !ok {
		return
	}
	orderID, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}

	found, err := h.service.GetOrderByID(r.Context(), orderID)
	if err != nil {
		log.Warn().Err(err).Stringer("order_id", orderID).Msg("handler: failed to get order via service")
		respondWithError(w, mapErrorToStatusCode(err), clientMessage(err, "Failed to get order"))
		return
	}
	// Another purchaser's order is reported as missing.
	if found.PurchaserID != purchaserID {
		respondWithError(w, http.StatusNotFound, order.ErrOrderNotFound.Error())
		return
	}

	respondWithJSON(w, http.StatusOK, found)
}

func (h *OrderHandler) handleUpdateStatus(w http.ResponseWriter, r *http.Request) {
	orderID, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}

	var payload UpdateOrderStatusRequest
	if !decodeAndValidate(w, r, h.validate, &payload) {
		return
	}

	if err := h.service.UpdateOrderStatus(r.Context(), orderID, order.Status(payload.Status)); err != nil {
		log.Warn().Err(err).Stringer("order_id", orderID).Str("status", payload.Status).Msg("handler: failed to update order status via service")
		respondWithError(w, mapErrorToStatusCode(err), clientMessage(err, "Failed to update order status"))
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *OrderHandler) handlePaymentCallback(w http.ResponseWriter, r *http.Request) {
	var payload PaymentCallbackRequest
	if !decodeAndValidate(w, r, h.validate, &payload) {
		return
	}
	orderID, err := uuid.FromString(payload.OrderID)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid order_id")
		return
	}

	paid, err := h.service.AttachPayment(r.Context(), orderID, order.Payment{
		Reference:     payload.PaymentReference,
		TransactionID: payload.TransactionID,
	})
	if err != nil {
		log.Warn().Err(err).Stringer("order_id", orderID).Msg("handler: failed to attach payment via service")
		respondWithError(w, mapErrorToStatusCode(err), clientMessage(err, "Failed to attach payment"))
		return
	}

	respondWithJSON(w, http.StatusOK, paid)
}
