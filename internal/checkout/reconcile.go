package checkout

import (
	"context"
	"errors"

	"github.com/cenkalti/backoff/v4"
	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/vasiliy-maslov/ecommerce-microservices/checkout-service/internal/catalog"
	"github.com/vasiliy-maslov/ecommerce-microservices/checkout-service/internal/order"
)

// reconcileStock takes stock for every line independently. A line that cannot
// be served does not affect the others or the order; its outcome is recorded
// on the line and returned as a warning.
func (w *Workflow) reconcileStock(ctx context.Context, orderID uuid.UUID, lines []order.Line) []Warning {
	results := make([]*Warning, len(lines))

	var g errgroup.Group
	g.SetLimit(w.cfg.StockWorkers)
	for i := range lines {
		i := i
		line := lines[i]
		g.Go(func() error {
			err := w.retry(ctx, func() error {
				err := w.stock.DecrementStock(ctx, line.ProductID, line.Quantity)
				if errors.Is(err, catalog.ErrInsufficientStock) || errors.Is(err, catalog.ErrProductNotFound) || errors.Is(err, catalog.ErrInvalidQuantity) {
					return backoff.Permanent(err)
				}
				return err
			})

			status := order.ReconciliationReserved
			switch {
			case err == nil:
			case errors.Is(err, catalog.ErrInsufficientStock):
				status = order.ReconciliationInsufficient
			default:
				status = order.ReconciliationFailed
			}

			if err != nil {
				log.Warn().Err(err).
					Stringer("order_id", orderID).
					Stringer("product_id", line.ProductID).
					Int("quantity", line.Quantity).
					Msg("checkout: stock not taken for order line")
				results[i] = &Warning{Step: StepReconcileStock, ProductID: line.ProductID, Err: err}
			}

			if line.ID != uuid.Nil {
				if recErr := w.orders.SetLineReconciliation(ctx, line.ID, status); recErr != nil {
					log.Error().Err(recErr).Stringer("order_id", orderID).Stringer("line_id", line.ID).Msg("checkout: failed to record line reconciliation")
				}
			}
			lines[i].Reconciliation = status
			return nil
		})
	}
	_ = g.Wait()

	warnings := make([]Warning, 0)
	for _, warn := range results {
		if warn != nil {
			warnings = append(warnings, *warn)
		}
	}
	return warnings
}

// retry runs op up to RetryAttempts times with exponential backoff.
// Errors wrapped in backoff.Permanent stop immediately.
func (w *Workflow) retry(ctx context.Context, op func() error) error {
	b := backoff.NewExponentialBackOff()
	if w.cfg.RetryInterval > 0 {
		b.InitialInterval = w.cfg.RetryInterval
		b.MaxInterval = 10 * w.cfg.RetryInterval
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(w.cfg.RetryAttempts-1)), ctx)
	return backoff.Retry(op, policy)
}
