package order

import (
	"context"
	"errors"
	"fmt"

	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"
)

var allowedTransitions = map[Status]map[Status]bool{
	StatusPending: {
		StatusConfirmed: true,
		StatusPaid:      true,
		StatusCancelled: true,
	},
	StatusConfirmed: {
		StatusPaid:      true,
		StatusShipped:   true,
		StatusCancelled: true,
	},
	StatusPaid: {
		StatusShipped: true,
	},
	StatusShipped: {
		StatusDelivered: true,
	},
	StatusDelivered: {},
	StatusCancelled: {},
}

var (
	ErrUnknownStatus           = errors.New("unknown order status")
	ErrInvalidStatusTransition = errors.New("invalid order status transition")
	ErrPaymentAlreadyAttached  = errors.New("order already carries a different payment")
	ErrInvalidPayment          = errors.New("payment reference is required")
)

// CanTransition reports whether an order may move from one status to another.
func CanTransition(from, to Status) bool {
	return allowedTransitions[from][to]
}

// Payment is what the gateway reports back for a paid order.
type Payment struct {
	Reference     string
	TransactionID string
}

type Service interface {
	GetOrderByID(ctx context.Context, id uuid.UUID) (*Order, error)
	GetOrdersByPurchaserID(ctx context.Context, purchaserID uuid.UUID) ([]Order, error)
	UpdateOrderStatus(ctx context.Context, orderID uuid.UUID, newStatus Status) error
	AttachPayment(ctx context.Context, orderID uuid.UUID, payment Payment) (*Order, error)
}

type service struct {
	orderRepo Repository
}

func NewService(orderRepo Repository) Service {
	return &service{orderRepo: orderRepo}
}

func (s *service) GetOrderByID(ctx context.Context, id uuid.UUID) (*Order, error) {
	order, err := s.orderRepo.GetOrderByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrOrderNotFound) {
			log.Warn().Stringer("order_id", id).Msg("service: order not found by id")
			return nil, ErrOrderNotFound
		}
		log.Error().Err(err).Stringer("order_id", id).Msg("service: failed to fetch order by id in repository")
		return nil, fmt.Errorf("service: failed to fetch order by id: %w", err)
	}
	return order, nil
}

func (s *service) GetOrdersByPurchaserID(ctx context.Context, purchaserID uuid.UUID) ([]Order, error) {
	orders, err := s.orderRepo.GetOrdersByPurchaserID(ctx, purchaserID)
	if err != nil {
		log.Error().Err(err).Stringer("purchaser_id", purchaserID).Msg("service: failed to fetch purchaser orders in repository")
		return nil, fmt.Errorf("service: failed to fetch purchaser orders: %w", err)
	}
	return orders, nil
}

// maxAttempts bounds the read-then-update loop. Every lost race means the
// order advanced along the acyclic transition table, so a handful of retries
// covers its longest path.
const maxAttempts = 5

// UpdateOrderStatus applies a transition from the table above. Setting the
// current status again is a no-op. The write is conditional on the status
// that was read, so concurrent callers cannot both apply conflicting moves.
func (s *service) UpdateOrderStatus(ctx context.Context, orderID uuid.UUID, newStatus Status) error {
	if !newStatus.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownStatus, newStatus)
	}

	for attempt := 1; ; attempt++ {
		current, err := s.GetOrderByID(ctx, orderID)
		if err != nil {
			return err
		}

		if current.Status == newStatus {
			log.Info().Stringer("order_id", orderID).Stringer("status", newStatus).Msg("service: order status is already the same, no update needed")
			return nil
		}

		if !CanTransition(current.Status, newStatus) {
			log.Warn().
				Stringer("order_id", orderID).
				Stringer("current_status", current.Status).
				Stringer("new_status", newStatus).
				Msg("service: invalid status transition attempt")
			return fmt.Errorf("%w: from %s to %s", ErrInvalidStatusTransition, current.Status, newStatus)
		}

		err = s.orderRepo.UpdateOrderStatus(ctx, orderID, current.Status, newStatus)
		if err == nil {
			log.Info().Stringer("order_id", orderID).Stringer("old_status", current.Status).Stringer("new_status", newStatus).Msg("service: order status updated successfully")
			return nil
		}
		if !errors.Is(err, ErrOrderChanged) || attempt == maxAttempts {
			return fmt.Errorf("service: failed to update order status: %w", err)
		}
		log.Info().Stringer("order_id", orderID).Int("attempt", attempt).Msg("service: order changed during status update, re-reading")
	}
}

// AttachPayment stores the gateway's reference and moves the order to paid.
// Repeating the same callback returns the order unchanged; a different
// reference, even one racing this call, gets ErrPaymentAlreadyAttached.
func (s *service) AttachPayment(ctx context.Context, orderID uuid.UUID, payment Payment) (*Order, error) {
	if payment.Reference == "" {
		return nil, ErrInvalidPayment
	}

	for attempt := 1; ; attempt++ {
		current, err := s.GetOrderByID(ctx, orderID)
		if err != nil {
			return nil, err
		}

		if current.PaymentReference != nil {
			if *current.PaymentReference == payment.Reference {
				return current, nil
			}
			log.Warn().Stringer("order_id", orderID).Msg("service: conflicting payment callback")
			return nil, ErrPaymentAlreadyAttached
		}

		if !CanTransition(current.Status, StatusPaid) {
			return nil, fmt.Errorf("%w: from %s to %s", ErrInvalidStatusTransition, current.Status, StatusPaid)
		}

		err = s.orderRepo.AttachPayment(ctx, orderID, current.Status, payment.Reference, payment.TransactionID)
		if err == nil {
			current.Status = StatusPaid
			current.PaymentReference = &payment.Reference
			current.TransactionID = &payment.TransactionID
			log.Info().Stringer("order_id", orderID).Msg("service: payment attached")
			return current, nil
		}
		if !errors.Is(err, ErrOrderChanged) || attempt == maxAttempts {
			return nil, fmt.Errorf("service: failed to attach payment: %w", err)
		}
		log.Info().Stringer("order_id", orderID).Int("attempt", attempt).Msg("service: order changed during payment callback, re-reading")
	}
}
