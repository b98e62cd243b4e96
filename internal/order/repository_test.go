package order_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/gofrs/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vasiliy-maslov/ecommerce-microservices/checkout-service/internal/db/dbtest"
	"github.com/vasiliy-maslov/ecommerce-microservices/checkout-service/internal/order"
)

func newOrder(purchaser uuid.UUID, key *string) *order.Order {
	return &order.Order{
		PurchaserID:     purchaser,
		Status:          order.StatusPending,
		TotalAmount:     decimal.RequireFromString("240.00"),
		Currency:        "GEL",
		ShippingAddress: "1 Rustaveli Ave, Tbilisi",
		BillingAddress:  "1 Rustaveli Ave, Tbilisi",
		PhoneNumber:     "+995555123456",
		PaymentMethod:   "card",
		IdempotencyKey:  key,
		Lines: []order.Line{
			{ProductID: uuid.Must(uuid.NewV4()), Quantity: 3, UnitPrice: decimal.RequireFromString("80.00")},
		},
	}
}

func TestRepository_CreateOrderWithLines(t *testing.T) {
	repo := order.NewRepository(dbtest.Pool(t))
	ctx := context.Background()
	purchaser := uuid.Must(uuid.NewV4())
	key := "checkout-1"

	o := newOrder(purchaser, &key)
	id, err := repo.CreateOrderWithLines(ctx, o)
	require.NoError(t, err)
	require.NotEqual(t, uuid.Nil, id)
	require.NotEqual(t, uuid.Nil, o.Lines[0].ID)

	found, err := repo.GetOrderByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, order.StatusPending, found.Status)
	require.Len(t, found.Lines, 1)
	assert.Equal(t, order.ReconciliationPending, found.Lines[0].Reconciliation)
	assert.True(t, found.TotalAmount.Equal(found.LinesTotal()))

	byKey, err := repo.GetOrderByIdempotencyKey(ctx, purchaser, key)
	require.NoError(t, err)
	assert.Equal(t, id, byKey.ID)

	_, err = repo.CreateOrderWithLines(ctx, newOrder(purchaser, &key))
	assert.ErrorIs(t, err, order.ErrDuplicateIdempotencyKey)

	orders, err := repo.GetOrdersByPurchaserID(ctx, purchaser)
	require.NoError(t, err)
	assert.Len(t, orders, 1)
}

func TestRepository_StatusPaymentAndReconciliation(t *testing.T) {
	repo := order.NewRepository(dbtest.Pool(t))
	ctx := context.Background()

	o := newOrder(uuid.Must(uuid.NewV4()), nil)
	id, err := repo.CreateOrder(ctx, o)
	require.NoError(t, err)
	require.NoError(t, repo.CreateOrderLines(ctx, id, o.Lines))

	require.NoError(t, repo.SetLineReconciliation(ctx, o.Lines[0].ID, order.ReconciliationReserved))
	require.NoError(t, repo.UpdateOrderStatus(ctx, id, order.StatusPending, order.StatusConfirmed))
	assert.ErrorIs(t, repo.UpdateOrderStatus(ctx, id, order.StatusPending, order.StatusCancelled), order.ErrOrderChanged)
	assert.ErrorIs(t, repo.AttachPayment(ctx, id, order.StatusPending, "gw-ref", "tx-1"), order.ErrOrderChanged)
	require.NoError(t, repo.AttachPayment(ctx, id, order.StatusConfirmed, "gw-ref", "tx-1"))
	assert.ErrorIs(t, repo.AttachPayment(ctx, id, order.StatusPaid, "gw-ref-2", "tx-2"), order.ErrOrderChanged)

	found, err := repo.GetOrderByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, order.StatusPaid, found.Status)
	require.NotNil(t, found.PaymentReference)
	assert.Equal(t, "gw-ref", *found.PaymentReference)
	assert.Equal(t, order.ReconciliationReserved, found.Lines[0].Reconciliation)

	missing := uuid.Must(uuid.NewV4())
	assert.ErrorIs(t, repo.UpdateOrderStatus(ctx, missing, order.StatusPending, order.StatusPaid), order.ErrOrderChanged)
	assert.ErrorIs(t, repo.SetLineReconciliation(ctx, missing, order.ReconciliationFailed), order.ErrLineNotFound)
	_, err = repo.GetOrderByID(ctx, missing)
	assert.ErrorIs(t, err, order.ErrOrderNotFound)
}

func TestService_ConcurrentCallbacksAgainstPostgres(t *testing.T) {
	repo := order.NewRepository(dbtest.Pool(t))
	svc := order.NewService(repo)
	ctx := context.Background()

	race := func(calls ...func() error) []error {
		start := make(chan struct{})
		errs := make([]error, len(calls))
		var wg sync.WaitGroup
		for i, call := range calls {
			i, call := i, call
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-start
				errs[i] = call()
			}()
		}
		close(start)
		wg.Wait()
		return errs
	}

	for round := 0; round < 20; round++ {
		t.Run(fmt.Sprintf("payment_round_%d", round), func(t *testing.T) {
			id, err := repo.CreateOrder(ctx, newOrder(uuid.Must(uuid.NewV4()), nil))
			require.NoError(t, err)

			refs := []string{"gw-ref-a", "gw-ref-b"}
			errs := race(
				func() error { _, err := svc.AttachPayment(ctx, id, order.Payment{Reference: refs[0], TransactionID: "tx-a"}); return err },
				func() error { _, err := svc.AttachPayment(ctx, id, order.Payment{Reference: refs[1], TransactionID: "tx-b"}); return err },
			)

			winner := -1
			for i, err := range errs {
				if err == nil {
					require.Equal(t, -1, winner, "both callbacks succeeded")
					winner = i
					continue
				}
				assert.ErrorIs(t, err, order.ErrPaymentAlreadyAttached)
			}
			require.NotEqual(t, -1, winner, "no callback succeeded: %v", errs)

			found, err := repo.GetOrderByID(ctx, id)
			require.NoError(t, err)
			assert.Equal(t, order.StatusPaid, found.Status)
			require.NotNil(t, found.PaymentReference)
			assert.Equal(t, refs[winner], *found.PaymentReference)
		})

		t.Run(fmt.Sprintf("status_round_%d", round), func(t *testing.T) {
			id, err := repo.CreateOrder(ctx, newOrder(uuid.Must(uuid.NewV4()), nil))
			require.NoError(t, err)
			require.NoError(t, svc.UpdateOrderStatus(ctx, id, order.StatusConfirmed))

			targets := []order.Status{order.StatusCancelled, order.StatusShipped}
			errs := race(
				func() error { return svc.UpdateOrderStatus(ctx, id, targets[0]) },
				func() error { return svc.UpdateOrderStatus(ctx, id, targets[1]) },
			)

			var applied []order.Status
			for i, err := range errs {
				if err == nil {
					applied = append(applied, targets[i])
					continue
				}
				assert.True(t, errors.Is(err, order.ErrInvalidStatusTransition), "unexpected error: %v", err)
			}
			require.Len(t, applied, 1)

			found, err := repo.GetOrderByID(ctx, id)
			require.NoError(t, err)
			assert.Equal(t, applied[0], found.Status)
		})
	}
}
