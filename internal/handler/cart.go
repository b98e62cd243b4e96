package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"

	"github.com/vasiliy-maslov/ecommerce-microservices/checkout-service/internal/cart"
	"github.com/vasiliy-maslov/ecommerce-microservices/checkout-service/internal/money"
	"github.com/vasiliy-maslov/ecommerce-microservices/checkout-service/internal/pricing"
)

type AddCartLineRequest struct {
	ProductID string `json:"product_id" validate:"required,uuid"`
	Quantity  int    `json:"quantity" validate:"required,min=1"`
}

type UpdateCartLineRequest struct {
	Quantity int `json:"quantity" validate:"required,min=1"`
}

type CartLineResponse struct {
	ProductID uuid.UUID `json:"product_id"`
	Name      string    `json:"name,omitempty"`
	Quantity  int       `json:"quantity"`
	UnitPrice string    `json:"unit_price,omitempty"`
	Subtotal  string    `json:"subtotal,omitempty"`
}

type CartResponse struct {
	PurchaserID uuid.UUID          `json:"purchaser_id"`
	Lines       []CartLineResponse `json:"lines"`
	Count       int                `json:"count"`
	Total       string             `json:"total"`
	Currency    string             `json:"currency"`
}

type UpdateCartLineResponse struct {
	Line      CartLineResponse `json:"line"`
	Requested int              `json:"requested"`
	Clamped   bool             `json:"clamped"`
}

type CartHandler struct {
	service  cart.Service
	validate *validator.Validate
	currency string
	now      func() time.Time
}

func NewCartHandler(service cart.Service, currency string) *CartHandler {
	return &CartHandler{
		service:  service,
		validate: validator.New(),
		currency: currency,
		now:      time.Now,
	}
}

func (h *CartHandler) RegisterRoutes(router chi.Router) {
	router.Get("/cart", h.handleGetCart)
	router.Delete("/cart", h.handleClearCart)
	router.Post("/cart/items", h.handleAddLine)
	router.Put("/cart/items/{productID}", h.handleUpdateLine)
	router.Delete("/cart/items/{productID}", h.handleRemoveLine)
}

func (h *CartHandler) handleGetCart(w http.ResponseWriter, r *http.Request) {
	purchaserID, ok := requirePurchaser(w, r)
	if !ok {
		return
	}

	c, err := h.service.GetCart(r.Context(), purchaserID)
	if err != nil {
		log.Error().Err(err).Stringer("purchaser_id", purchaserID).Msg("handler: failed to get cart via service")
		respondWithError(w, mapErrorToStatusCode(err), clientMessage(err, "Failed to get cart"))
		return
	}

	now := h.now()
	response := CartResponse{
		PurchaserID: c.PurchaserID,
		Lines:       make([]CartLineResponse, 0, len(c.Lines)),
		Count:       c.Count(),
		Total:       money.Format(c.Total(now)),
		Currency:    h.currency,
	}
	for _, l := range c.Lines {
		response.Lines = append(response.Lines, toCartLineResponse(l, now))
	}

	respondWithJSON(w, http.StatusOK, response)
}

func (h *CartHandler) handleAddLine(w http.ResponseWriter, r *http.Request) {
	purchaserID, ok := requirePurchaser(w, r)
	if !ok {
		return
	}

	var payload AddCartLineRequest
	if !decodeAndValidate(w, r, h.validate, &payload) {
		return
	}
	productID := uuid.FromStringOrNil(payload.ProductID)

	line, err := h.service.AddLine(r.Context(), purchaserID, productID, payload.Quantity)
	if err != nil {
		log.Warn().Err(err).Stringer("purchaser_id", purchaserID).Stringer("product_id", productID).Msg("handler: failed to add cart line via service")
		respondWithError(w, mapErrorToStatusCode(err), clientMessage(err, "Failed to add cart line"))
		return
	}

	respondWithJSON(w, http.StatusCreated, toCartLineResponse(*line, h.now()))
}

func (h *CartHandler) handleUpdateLine(w http.ResponseWriter, r *http.Request) {
	purchaserID, ok := requirePurchaser(w, r)
	if !ok {
		return
	}
	productID, ok := uuidParam(w, r, "productID")
	if !ok {
		return
	}

	var payload UpdateCartLineRequest
	if !decodeAndValidate(w, r, h.validate, &payload) {
		return
	}

	result, err := h.service.UpdateQuantity(r.Context(), purchaserID, productID, payload.Quantity)
	if err != nil {
		log.Warn().Err(err).Stringer("purchaser_id", purchaserID).Stringer("product_id", productID).Msg("handler: failed to update cart line via service")
		respondWithError(w, mapErrorToStatusCode(err), clientMessage(err, "Failed to update cart line"))
		return
	}

	respondWithJSON(w, http.StatusOK, UpdateCartLineResponse{
		Line:      toCartLineResponse(result.Line, h.now()),
		Requested: result.Requested,
		Clamped:   result.Clamped,
	})
}

func (h *CartHandler) handleRemoveLine(w http.ResponseWriter, r *http.Request) {
	purchaserID, ok := requirePurchaser(w, r)
	if !ok {
		return
	}
	productID, ok := uuidParam(w, r, "productID")
	if !ok {
		return
	}

	if err := h.service.RemoveLine(r.Context(), purchaserID, productID); err != nil {
		log.Warn().Err(err).Stringer("purchaser_id", purchaserID).Stringer("product_id", productID).Msg("handler: failed to remove cart line via service")
		respondWithError(w, mapErrorToStatusCode(err), clientMessage(err, "Failed to remove cart line"))
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *CartHandler) handleClearCart(w http.ResponseWriter, r *http.Request) {
	purchaserID, ok := requirePurchaser(w, r)
	if !ok {
		return
	}

	if err := h.service.Clear(r.Context(), purchaserID); err != nil {
		log.Error().Err(err).Stringer("purchaser_id", purchaserID).Msg("handler: failed to clear cart via service")
		respondWithError(w, mapErrorToStatusCode(err), clientMessage(err, "Failed to clear cart"))
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func toCartLineResponse(l cart.Line, now time.Time) CartLineResponse {
	resp := CartLineResponse{ProductID: l.ProductID, Quantity: l.Quantity}
	if l.Product != nil {
		resp.Name = l.Product.Name
		resp.UnitPrice = money.Format(pricing.EffectivePrice(*l.Product, now))
		resp.Subtotal = money.Format(pricing.LineTotal(*l.Product, l.Quantity, now))
	}
	return resp
}

func requirePurchaser(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, ok := PurchaserFromContext(r.Context())
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "Unauthorized")
	}
	return id, ok
}

func uuidParam(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	raw := chi.URLParam(r, name)
	id, err := uuid.FromString(raw)
	if err != nil {
		log.Warn().Err(err).Str(name, raw).Msg("handler: failed to parse id parameter from URL")
		respondWithError(w, http.StatusBadRequest, "Invalid "+name+" parameter")
		return uuid.Nil, false
	}
	return id, true
}
