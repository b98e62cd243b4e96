package order_test

import (
	"context"
	"errors"
	"testing"

	"github.com/gofrs/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vasiliy-maslov/ecommerce-microservices/checkout-service/internal/order"
)

type mockOrderRepository struct {
	getByIDFunc       func(ctx context.Context, id uuid.UUID) (*order.Order, error)
	updateStatusFunc  func(ctx context.Context, id uuid.UUID, from, status order.Status) error
	attachPaymentFunc func(ctx context.Context, id uuid.UUID, from order.Status, reference, transactionID string) error
	byPurchaserFunc   func(ctx context.Context, purchaserID uuid.UUID) ([]order.Order, error)
}

func (m *mockOrderRepository) CreateOrder(context.Context, *order.Order) (uuid.UUID, error) {
	panic("not used")
}

func (m *mockOrderRepository) CreateOrderLines(context.Context, uuid.UUID, []order.Line) error {
	panic("not used")
}

func (m *mockOrderRepository) CreateOrderWithLines(context.Context, *order.Order) (uuid.UUID, error) {
	panic("not used")
}

func (m *mockOrderRepository) GetOrderByID(ctx context.Context, id uuid.UUID) (*order.Order, error) {
	return m.getByIDFunc(ctx, id)
}

func (m *mockOrderRepository) GetOrderByIdempotencyKey(context.Context, uuid.UUID, string) (*order.Order, error) {
	panic("not used")
}

func (m *mockOrderRepository) GetOrdersByPurchaserID(ctx context.Context, purchaserID uuid.UUID) ([]order.Order, error) {
	return m.byPurchaserFunc(ctx, purchaserID)
}

func (m *mockOrderRepository) UpdateOrderStatus(ctx context.Context, id uuid.UUID, from, status order.Status) error {
	return m.updateStatusFunc(ctx, id, from, status)
}

func (m *mockOrderRepository) AttachPayment(ctx context.Context, id uuid.UUID, from order.Status, reference, transactionID string) error {
	return m.attachPaymentFunc(ctx, id, from, reference, transactionID)
}

func (m *mockOrderRepository) SetLineReconciliation(context.Context, uuid.UUID, order.Reconciliation) error {
	panic("not used")
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to order.Status
		want     bool
	}{
		{order.StatusPending, order.StatusConfirmed, true},
		{order.StatusPending, order.StatusPaid, true},
		{order.StatusPending, order.StatusCancelled, true},
		{order.StatusPending, order.StatusShipped, false},
		{order.StatusConfirmed, order.StatusShipped, true},
		{order.StatusPaid, order.StatusShipped, true},
		{order.StatusPaid, order.StatusCancelled, false},
		{order.StatusShipped, order.StatusDelivered, true},
		{order.StatusDelivered, order.StatusPending, false},
		{order.StatusCancelled, order.StatusPending, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, order.CanTransition(tt.from, tt.to), "%s -> %s", tt.from, tt.to)
	}
}

func TestService_UpdateOrderStatus(t *testing.T) {
	orderID := uuid.Must(uuid.NewV4())

	tests := []struct {
		name        string
		current     order.Status
		newStatus   order.Status
		getErr      error
		wantUpdated bool
		wantErrIs   error
	}{
		{name: "pending_to_confirmed", current: order.StatusPending, newStatus: order.StatusConfirmed, wantUpdated: true},
		{name: "same_status_noop", current: order.StatusPaid, newStatus: order.StatusPaid},
		{name: "delivered_is_terminal", current: order.StatusDelivered, newStatus: order.StatusShipped, wantErrIs: order.ErrInvalidStatusTransition},
		{name: "unknown_status", current: order.StatusPending, newStatus: order.Status("lost"), wantErrIs: order.ErrUnknownStatus},
		{name: "order_not_found", getErr: order.ErrOrderNotFound, newStatus: order.StatusPaid, wantErrIs: order.ErrOrderNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			updated := false
			repo := &mockOrderRepository{
				getByIDFunc: func(ctx context.Context, id uuid.UUID) (*order.Order, error) {
					if tt.getErr != nil {
						return nil, tt.getErr
					}
					return &order.Order{ID: id, Status: tt.current}, nil
				},
				updateStatusFunc: func(ctx context.Context, id uuid.UUID, from, status order.Status) error {
					updated = true
					assert.Equal(t, tt.current, from)
					assert.Equal(t, tt.newStatus, status)
					return nil
				},
			}

			err := order.NewService(repo).UpdateOrderStatus(context.Background(), orderID, tt.newStatus)

			if tt.wantErrIs != nil {
				assert.ErrorIs(t, err, tt.wantErrIs)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tt.wantUpdated, updated)
		})
	}
}

func TestService_AttachPayment(t *testing.T) {
	orderID := uuid.Must(uuid.NewV4())
	existingRef := "gw-ref-1"

	tests := []struct {
		name         string
		current      order.Order
		payment      order.Payment
		wantAttached bool
		wantErrIs    error
	}{
		{
			name:         "pending_order_paid",
			current:      order.Order{Status: order.StatusPending},
			payment:      order.Payment{Reference: "gw-ref-1", TransactionID: "tx-9"},
			wantAttached: true,
		},
		{
			name:    "repeat_callback_is_idempotent",
			current: order.Order{Status: order.StatusPaid, PaymentReference: &existingRef},
			payment: order.Payment{Reference: existingRef},
		},
		{
			name:      "conflicting_reference",
			current:   order.Order{Status: order.StatusPaid, PaymentReference: &existingRef},
			payment:   order.Payment{Reference: "other"},
			wantErrIs: order.ErrPaymentAlreadyAttached,
		},
		{
			name:      "cancelled_order",
			current:   order.Order{Status: order.StatusCancelled},
			payment:   order.Payment{Reference: "gw-ref-2"},
			wantErrIs: order.ErrInvalidStatusTransition,
		},
		{
			name:      "missing_reference",
			current:   order.Order{Status: order.StatusPending},
			wantErrIs: order.ErrInvalidPayment,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			attached := false
			repo := &mockOrderRepository{
				getByIDFunc: func(ctx context.Context, id uuid.UUID) (*order.Order, error) {
					o := tt.current
					o.ID = id
					return &o, nil
				},
				attachPaymentFunc: func(ctx context.Context, id uuid.UUID, from order.Status, reference, transactionID string) error {
					attached = true
					assert.Equal(t, tt.current.Status, from)
					assert.Equal(t, tt.payment.Reference, reference)
					assert.Equal(t, tt.payment.TransactionID, transactionID)
					return nil
				},
			}

			got, err := order.NewService(repo).AttachPayment(context.Background(), orderID, tt.payment)

			assert.Equal(t, tt.wantAttached, attached)
			if tt.wantErrIs != nil {
				assert.ErrorIs(t, err, tt.wantErrIs)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, order.StatusPaid, got.Status)
			require.NotNil(t, got.PaymentReference)
			assert.Equal(t, tt.payment.Reference, *got.PaymentReference)
		})
	}
}

// sequenceRepository serves the orders in reads one per GetOrderByID call,
// repeating the last, and fails the first conditional write with
// ErrOrderChanged as if another caller got there first.
func sequenceRepository(t *testing.T, reads ...order.Order) (*mockOrderRepository, *int) {
	t.Helper()
	calls := 0
	writes := 0
	repo := &mockOrderRepository{
		getByIDFunc: func(ctx context.Context, id uuid.UUID) (*order.Order, error) {
			o := reads[min(calls, len(reads)-1)]
			calls++
			o.ID = id
			return &o, nil
		},
	}
	lostFirst := func() error {
		writes++
		if writes == 1 {
			return order.ErrOrderChanged
		}
		return nil
	}
	repo.updateStatusFunc = func(context.Context, uuid.UUID, order.Status, order.Status) error { return lostFirst() }
	repo.attachPaymentFunc = func(context.Context, uuid.UUID, order.Status, string, string) error { return lostFirst() }
	return repo, &writes
}

func TestService_UpdateOrderStatus_LostRace(t *testing.T) {
	orderID := uuid.Must(uuid.NewV4())

	t.Run("rival_made_move_invalid", func(t *testing.T) {
		repo, writes := sequenceRepository(t,
			order.Order{Status: order.StatusConfirmed},
			order.Order{Status: order.StatusCancelled},
		)

		err := order.NewService(repo).UpdateOrderStatus(context.Background(), orderID, order.StatusShipped)

		assert.ErrorIs(t, err, order.ErrInvalidStatusTransition)
		assert.Equal(t, 1, *writes)
	})

	t.Run("move_still_valid_after_reread", func(t *testing.T) {
		repo, writes := sequenceRepository(t,
			order.Order{Status: order.StatusPending},
			order.Order{Status: order.StatusConfirmed},
		)

		err := order.NewService(repo).UpdateOrderStatus(context.Background(), orderID, order.StatusCancelled)

		assert.NoError(t, err)
		assert.Equal(t, 2, *writes)
	})

	t.Run("rival_set_same_status", func(t *testing.T) {
		repo, writes := sequenceRepository(t,
			order.Order{Status: order.StatusPaid},
			order.Order{Status: order.StatusShipped},
		)

		err := order.NewService(repo).UpdateOrderStatus(context.Background(), orderID, order.StatusShipped)

		assert.NoError(t, err)
		assert.Equal(t, 1, *writes)
	})
}

func TestService_AttachPayment_LostRace(t *testing.T) {
	orderID := uuid.Must(uuid.NewV4())
	rivalRef := "gw-ref-rival"

	t.Run("rival_reference_wins", func(t *testing.T) {
		repo, writes := sequenceRepository(t,
			order.Order{Status: order.StatusPending},
			order.Order{Status: order.StatusPaid, PaymentReference: &rivalRef},
		)

		_, err := order.NewService(repo).AttachPayment(context.Background(), orderID, order.Payment{Reference: "gw-ref-mine"})

		assert.ErrorIs(t, err, order.ErrPaymentAlreadyAttached)
		assert.Equal(t, 1, *writes)
	})

	t.Run("same_reference_delivered_twice", func(t *testing.T) {
		repo, writes := sequenceRepository(t,
			order.Order{Status: order.StatusPending},
			order.Order{Status: order.StatusPaid, PaymentReference: &rivalRef},
		)

		got, err := order.NewService(repo).AttachPayment(context.Background(), orderID, order.Payment{Reference: rivalRef})

		require.NoError(t, err)
		assert.Equal(t, rivalRef, *got.PaymentReference)
		assert.Equal(t, 1, *writes)
	})

	t.Run("order_confirmed_meanwhile", func(t *testing.T) {
		repo, writes := sequenceRepository(t,
			order.Order{Status: order.StatusPending},
			order.Order{Status: order.StatusConfirmed},
		)

		got, err := order.NewService(repo).AttachPayment(context.Background(), orderID, order.Payment{Reference: "gw-ref-mine"})

		require.NoError(t, err)
		assert.Equal(t, order.StatusPaid, got.Status)
		assert.Equal(t, 2, *writes)
	})
}

func TestService_UpdateOrderStatus_GivesUpAfterRepeatedConflicts(t *testing.T) {
	writes := 0
	repo := &mockOrderRepository{
		getByIDFunc: func(ctx context.Context, id uuid.UUID) (*order.Order, error) {
			return &order.Order{ID: id, Status: order.StatusPending}, nil
		},
		updateStatusFunc: func(context.Context, uuid.UUID, order.Status, order.Status) error {
			writes++
			return order.ErrOrderChanged
		},
	}

	err := order.NewService(repo).UpdateOrderStatus(context.Background(), uuid.Must(uuid.NewV4()), order.StatusConfirmed)

	assert.ErrorIs(t, err, order.ErrOrderChanged)
	assert.Equal(t, 5, writes)
}

func TestService_GetOrdersByPurchaserID_WrapsError(t *testing.T) {
	repo := &mockOrderRepository{
		byPurchaserFunc: func(ctx context.Context, purchaserID uuid.UUID) ([]order.Order, error) {
			return nil, errors.New("timeout")
		},
	}

	_, err := order.NewService(repo).GetOrdersByPurchaserID(context.Background(), uuid.Must(uuid.NewV4()))

	assert.EqualError(t, err, "service: failed to fetch purchaser orders: timeout")
}
