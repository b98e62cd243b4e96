// Package notification delivers order confirmations to purchasers through
// whichever transport is configured.
package notification

import (
	"context"
	"time"

	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

const EventOrderCreated = "order.created"

// Confirmation is the data a purchaser is told about a new order.
type Confirmation struct {
	OrderID     uuid.UUID       `json:"order_id"`
	PurchaserID uuid.UUID       `json:"purchaser_id"`
	Total       decimal.Decimal `json:"total"`
	Currency    string          `json:"currency"`
	PhoneNumber string          `json:"phone_number"`
	PlacedAt    time.Time       `json:"placed_at"`
}

// Event is the envelope published for downstream consumers.
type Event struct {
	EventID   uuid.UUID    `json:"event_id"`
	Type      string       `json:"type"`
	OrderID   uuid.UUID    `json:"order_id"`
	CreatedAt time.Time    `json:"created_at"`
	Payload   Confirmation `json:"payload"`
}

func newEvent(c Confirmation) (Event, error) {
	id, err := uuid.NewV4()
	if err != nil {
		return Event{}, err
	}
	return Event{
		EventID:   id,
		Type:      EventOrderCreated,
		OrderID:   c.OrderID,
		CreatedAt: time.Now().UTC(),
		Payload:   c,
	}, nil
}

// LogNotifier only records the confirmation. Used when no transport is configured.
type LogNotifier struct{}

func (LogNotifier) SendOrderConfirmation(_ context.Context, c Confirmation) error {
	log.Info().
		Stringer("order_id", c.OrderID).
		Stringer("purchaser_id", c.PurchaserID).
		Str("total", c.Total.StringFixed(2)).
		Str("currency", c.Currency).
		Msg("notification: order confirmation (log only)")
	return nil
}
