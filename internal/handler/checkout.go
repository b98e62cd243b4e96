package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"

	"github.com/vasiliy-maslov/ecommerce-microservices/checkout-service/internal/checkout"
	"github.com/vasiliy-maslov/ecommerce-microservices/checkout-service/internal/money"
	"github.com/vasiliy-maslov/ecommerce-microservices/checkout-service/internal/order"
)

const IdempotencyKeyHeader = "Idempotency-Key"

// Checkouter runs a purchase attempt. *checkout.Workflow implements it.
type Checkouter interface {
	Checkout(ctx context.Context, req checkout.Request) (*checkout.Result, error)
}

type CheckoutRequest struct {
	ShippingAddress string `json:"shipping_address" validate:"required,max=500"`
	BillingAddress  string `json:"billing_address" validate:"omitempty,max=500"`
	PhoneNumber     string `json:"phone_number" validate:"required,max=32"`
}

type WarningResponse struct {
	Step      string     `json:"step"`
	ProductID *uuid.UUID `json:"product_id,omitempty"`
	Message   string     `json:"message"`
}

type CheckoutResponse struct {
	OrderID  uuid.UUID         `json:"order_id"`
	Total    string            `json:"total"`
	Currency string            `json:"currency"`
	State    string            `json:"state"`
	Replayed bool              `json:"replayed"`
	Lines    []order.Line      `json:"lines"`
	Warnings []WarningResponse `json:"warnings"`
}

type CheckoutValidationResponse struct {
	Error     string     `json:"error"`
	Field     string     `json:"field"`
	ProductID *uuid.UUID `json:"product_id,omitempty"`
}

type InconsistentOrderResponse struct {
	Error   string    `json:"error"`
	OrderID uuid.UUID `json:"order_id"`
}

type CheckoutHandler struct {
	workflow Checkouter
	validate *validator.Validate
}

func NewCheckoutHandler(workflow Checkouter) *CheckoutHandler {
	return &CheckoutHandler{workflow: workflow, validate: validator.New()}
}

func (h *CheckoutHandler) RegisterRoutes(router chi.Router) {
	router.Post("/checkout", h.handleCheckout)
}

func (h *CheckoutHandler) handleCheckout(w http.ResponseWriter, r *http.Request) {
	purchaserID, ok := requirePurchaser(w, r)
	if !ok {
		return
	}

	var payload CheckoutRequest
	if !decodeAndValidate(w, r, h.validate, &payload) {
		return
	}

	result, err := h.workflow.Checkout(r.Context(), checkout.Request{
		PurchaserID:     purchaserID,
		ShippingAddress: payload.ShippingAddress,
		BillingAddress:  payload.BillingAddress,
		PhoneNumber:     payload.PhoneNumber,
		IdempotencyKey:  r.Header.Get(IdempotencyKeyHeader),
	})
	if err != nil {
		h.respondWithCheckoutError(w, purchaserID, err)
		return
	}

	response := CheckoutResponse{
		OrderID:  result.OrderID,
		Total:    money.Format(result.Total),
		Currency: result.Currency,
		State:    result.State.String(),
		Replayed: result.Replayed,
		Lines:    result.Lines,
		Warnings: make([]WarningResponse, 0, len(result.Warnings)),
	}
	for _, warn := range result.Warnings {
		wr := WarningResponse{Step: string(warn.Step), Message: warn.Err.Error()}
		if warn.ProductID != uuid.Nil {
			id := warn.ProductID
			wr.ProductID = &id
		}
		response.Warnings = append(response.Warnings, wr)
	}

	status := http.StatusCreated
	if result.Replayed {
		status = http.StatusOK
	}
	respondWithJSON(w, status, response)
}

func (h *CheckoutHandler) respondWithCheckoutError(w http.ResponseWriter, purchaserID uuid.UUID, err error) {
	var validationErr *checkout.ValidationError
	if errors.As(err, &validationErr) {
		response := CheckoutValidationResponse{Error: validationErr.Error(), Field: validationErr.Field}
		if validationErr.ProductID != uuid.Nil {
			id := validationErr.ProductID
			response.ProductID = &id
		}
		respondWithJSON(w, http.StatusUnprocessableEntity, response)
		return
	}

	var inconsistent *checkout.InconsistentOrderError
	if errors.As(err, &inconsistent) {
		log.Error().Err(err).Stringer("purchaser_id", purchaserID).Stringer("order_id", inconsistent.OrderID).Msg("handler: checkout left an order without lines")
		respondWithJSON(w, http.StatusInternalServerError, InconsistentOrderResponse{
			Error:   "Order was recorded incompletely and needs operator attention",
			OrderID: inconsistent.OrderID,
		})
		return
	}

	log.Error().Err(err).Stringer("purchaser_id", purchaserID).Msg("handler: checkout failed")
	status := mapErrorToStatusCode(err)
	if status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", "1")
		respondWithError(w, status, "Order could not be saved, please retry")
		return
	}
	respondWithError(w, status, clientMessage(err, "Checkout failed"))
}
