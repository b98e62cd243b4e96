package order

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

var (
	ErrOrderNotFound           = errors.New("order not found")
	ErrLineNotFound            = errors.New("order line not found")
	ErrDuplicateIdempotencyKey = errors.New("order with this idempotency key already exists")
	ErrNoLines                 = errors.New("order must contain at least one line")
	// ErrOrderChanged means no order with the id was in the expected state
	// when a conditional update ran.
	ErrOrderChanged = errors.New("order changed concurrently")
)

type Repository interface {
	// CreateOrder writes the header only.
	CreateOrder(ctx context.Context, order *Order) (uuid.UUID, error)
	// CreateOrderLines writes lines of an existing order, assigning their IDs in place.
	CreateOrderLines(ctx context.Context, orderID uuid.UUID, lines []Line) error
	// CreateOrderWithLines writes header and lines in one transaction.
	CreateOrderWithLines(ctx context.Context, order *Order) (uuid.UUID, error)
	GetOrderByID(ctx context.Context, id uuid.UUID) (*Order, error)
	GetOrderByIdempotencyKey(ctx context.Context, purchaserID uuid.UUID, key string) (*Order, error)
	GetOrdersByPurchaserID(ctx context.Context, purchaserID uuid.UUID) ([]Order, error)
	// UpdateOrderStatus moves the order from status from to newStatus and
	// returns ErrOrderChanged if it is no longer in from.
	UpdateOrderStatus(ctx context.Context, orderID uuid.UUID, from, newStatus Status) error
	// AttachPayment records the payment and marks the order paid only while it
	// is still in from without a payment, otherwise it returns ErrOrderChanged.
	AttachPayment(ctx context.Context, orderID uuid.UUID, from Status, reference, transactionID string) error
	SetLineReconciliation(ctx context.Context, lineID uuid.UUID, status Reconciliation) error
}

// execer is satisfied by both *pgxpool.Pool and pgx.Tx.
type execer interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
}

type postgresRepository struct {
	db *pgxpool.Pool
}

func NewRepository(db *pgxpool.Pool) Repository {
	return &postgresRepository{db: db}
}

func (r *postgresRepository) CreateOrder(ctx context.Context, order *Order) (uuid.UUID, error) {
	if err := insertOrder(ctx, r.db, order); err != nil {
		return uuid.Nil, err
	}
	return order.ID, nil
}

func (r *postgresRepository) CreateOrderLines(ctx context.Context, orderID uuid.UUID, lines []Line) error {
	var errs []error
	for i := range lines {
		if err := insertLine(ctx, r.db, orderID, &lines[i]); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (r *postgresRepository) CreateOrderWithLines(ctx context.Context, order *Order) (orderID uuid.UUID, err error) {
	if len(order.Lines) == 0 {
		return uuid.Nil, ErrNoLines
	}

	tx, beginErr := r.db.Begin(ctx)
	if beginErr != nil {
		return uuid.Nil, fmt.Errorf("repository: failed to begin transaction: %w", beginErr)
	}
	defer func() {
		if p := recover(); p != nil {
			log.Error().Interface("panic_value", p).Stringer("order_id_attempted", order.ID).Msg("Panic recovered during CreateOrderWithLines, rolling back")
			if rbErr := tx.Rollback(ctx); rbErr != nil {
				log.Error().Err(rbErr).Stringer("order_id_attempted", order.ID).Msg("Failed to rollback transaction after panic")
			}
			panic(p)
		} else if err != nil {
			log.Warn().Err(err).Stringer("order_id_attempted", order.ID).Msg("Transaction for CreateOrderWithLines failed, rolling back")
			if rbErr := tx.Rollback(ctx); rbErr != nil {
				log.Error().Err(rbErr).Stringer("order_id_attempted", order.ID).Msg("Failed to rollback transaction")
			}
			order.ID = uuid.Nil
		} else if commitErr := tx.Commit(ctx); commitErr != nil {
			log.Error().Err(commitErr).Stringer("order_id", order.ID).Msg("Failed to commit transaction")
			err = fmt.Errorf("repository: failed to commit transaction: %w", commitErr)
			orderID = uuid.Nil
			order.ID = uuid.Nil
		}
	}()

	if err = insertOrder(ctx, tx, order); err != nil {
		return uuid.Nil, err
	}
	for i := range order.Lines {
		if err = insertLine(ctx, tx, order.ID, &order.Lines[i]); err != nil {
			return uuid.Nil, err
		}
	}

	return order.ID, nil
}

func insertOrder(ctx context.Context, db execer, order *Order) error {
	if order.ID == uuid.Nil {
		id, err := uuid.NewV4()
		if err != nil {
			log.Error().Err(err).Msg("repository: failed to generate order ID")
			return fmt.Errorf("repository: failed to generate order ID: %w", err)
		}
		order.ID = id
	}

	createdAt := time.Now().UTC()
	query := `
		INSERT INTO storefront.orders (
			id, purchaser_id, status, total_amount, currency, shipping_address, billing_address,
			phone_number, payment_method, payment_reference, transaction_id, idempotency_key, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`
	_, err := db.Exec(ctx, query,
		order.ID,
		order.PurchaserID,
		string(order.Status),
		order.TotalAmount,
		order.Currency,
		order.ShippingAddress,
		order.BillingAddress,
		order.PhoneNumber,
		order.PaymentMethod,
		order.PaymentReference,
		order.TransactionID,
		order.IdempotencyKey,
		createdAt,
		createdAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation && pgErr.ConstraintName == "orders_idempotency_key_uq" {
			return ErrDuplicateIdempotencyKey
		}
		return fmt.Errorf("repository: failed to insert order: %w", err)
	}

	order.CreatedAt = createdAt
	order.UpdatedAt = createdAt
	return nil
}

func insertLine(ctx context.Context, db execer, orderID uuid.UUID, line *Line) error {
	if line.ID == uuid.Nil {
		id, err := uuid.NewV4()
		if err != nil {
			return fmt.Errorf("repository: failed to generate order line ID: %w", err)
		}
		line.ID = id
	}
	if line.Reconciliation == "" {
		line.Reconciliation = ReconciliationPending
	}

	createdAt := time.Now().UTC()
	query := `
		INSERT INTO storefront.order_items (id, order_id, product_id, quantity, unit_price, reconciliation, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := db.Exec(ctx, query,
		line.ID,
		orderID,
		line.ProductID,
		line.Quantity,
		line.UnitPrice,
		string(line.Reconciliation),
		createdAt,
	)
	if err != nil {
		return fmt.Errorf("repository: failed to insert order line for product %s of order %s: %w", line.ProductID, orderID, err)
	}

	line.OrderID = orderID
	line.CreatedAt = createdAt
	return nil
}

const orderColumns = `id, purchaser_id, status, total_amount, currency, shipping_address, billing_address,
	phone_number, payment_method, payment_reference, transaction_id, idempotency_key, created_at, updated_at`

const lineColumns = `id, order_id, product_id, quantity, unit_price, reconciliation, created_at`

func (r *postgresRepository) GetOrderByID(ctx context.Context, orderID uuid.UUID) (*Order, error) {
	query := `
		SELECT ` + orderColumns + `
		FROM storefront.orders
		WHERE id = $1
	`
	return r.getOrder(ctx, query, orderID)
}

func (r *postgresRepository) GetOrderByIdempotencyKey(ctx context.Context, purchaserID uuid.UUID, key string) (*Order, error) {
	query := `
		SELECT ` + orderColumns + `
		FROM storefront.orders
		WHERE purchaser_id = $1 AND idempotency_key = $2
	`
	return r.getOrder(ctx, query, purchaserID, key)
}

func (r *postgresRepository) getOrder(ctx context.Context, query string, args ...any) (*Order, error) {
	order, err := scanOrder(r.db.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("repository: failed to select order: %w", err)
	}

	rows, err := r.db.Query(ctx, `SELECT `+lineColumns+` FROM storefront.order_items WHERE order_id = $1 ORDER BY created_at, id`, order.ID)
	if err != nil {
		return nil, fmt.Errorf("repository: failed to query order lines for order id %s: %w", order.ID, err)
	}
	defer rows.Close()

	order.Lines = make([]Line, 0)
	for rows.Next() {
		line, err := scanLine(rows)
		if err != nil {
			return nil, fmt.Errorf("repository: failed to scan order line for order id %s: %w", order.ID, err)
		}
		order.Lines = append(order.Lines, *line)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repository: error iterating order lines for order id %s: %w", order.ID, err)
	}

	return order, nil
}

func (r *postgresRepository) GetOrdersByPurchaserID(ctx context.Context, purchaserID uuid.UUID) ([]Order, error) {
	ordersQuery := `
		SELECT ` + orderColumns + `
		FROM storefront.orders
		WHERE purchaser_id = $1
		ORDER BY created_at DESC
	`
	orderRows, err := r.db.Query(ctx, ordersQuery, purchaserID)
	if err != nil {
		return nil, fmt.Errorf("repository: failed to query orders for purchaser %s: %w", purchaserID, err)
	}
	defer orderRows.Close()

	ordersMap := make(map[uuid.UUID]*Order)
	var orderIDs []uuid.UUID
	for orderRows.Next() {
		order, err := scanOrder(orderRows)
		if err != nil {
			return nil, fmt.Errorf("repository: failed to scan order for purchaser %s: %w", purchaserID, err)
		}
		order.Lines = make([]Line, 0)
		ordersMap[order.ID] = order
		orderIDs = append(orderIDs, order.ID)
	}
	if err := orderRows.Err(); err != nil {
		return nil, fmt.Errorf("repository: failed iterating orders for purchaser %s: %w", purchaserID, err)
	}

	if len(orderIDs) == 0 {
		return []Order{}, nil
	}

	lineRows, err := r.db.Query(ctx,
		`SELECT `+lineColumns+` FROM storefront.order_items WHERE order_id = ANY($1) ORDER BY created_at, id`,
		orderIDs,
	)
	if err != nil {
		return nil, fmt.Errorf("repository: failed to query order lines for purchaser %s: %w", purchaserID, err)
	}
	defer lineRows.Close()

	for lineRows.Next() {
		line, err := scanLine(lineRows)
		if err != nil {
			return nil, fmt.Errorf("repository: failed to scan order line for purchaser %s: %w", purchaserID, err)
		}
		if order, ok := ordersMap[line.OrderID]; ok {
			order.Lines = append(order.Lines, *line)
		}
	}
	if err := lineRows.Err(); err != nil {
		return nil, fmt.Errorf("repository: failed iterating order lines for purchaser %s: %w", purchaserID, err)
	}

	result := make([]Order, 0, len(orderIDs))
	for _, id := range orderIDs {
		result = append(result, *ordersMap[id])
	}
	return result, nil
}

func (r *postgresRepository) UpdateOrderStatus(ctx context.Context, orderID uuid.UUID, from, newStatus Status) error {
	query := `
		UPDATE storefront.orders
		SET status = $1, updated_at = $2
		WHERE id = $3 AND status = $4
	`
	cmdTag, err := r.db.Exec(ctx, query, string(newStatus), time.Now().UTC(), orderID, string(from))
	if err != nil {
		log.Error().Err(err).Stringer("order_id", orderID).Stringer("new_status", newStatus).Msg("repository: failed to update order status")
		return fmt.Errorf("repository: failed to update order status %s: %w", orderID, err)
	}
	if cmdTag.RowsAffected() == 0 {
		log.Warn().Stringer("order_id", orderID).Stringer("expected_status", from).Stringer("new_status", newStatus).Msg("repository: order missing or no longer in expected status")
		return ErrOrderChanged
	}
	return nil
}

func (r *postgresRepository) AttachPayment(ctx context.Context, orderID uuid.UUID, from Status, reference, transactionID string) error {
	query := `
		UPDATE storefront.orders
		SET payment_reference = $1, transaction_id = $2, status = $3, updated_at = $4
		WHERE id = $5 AND status = $6 AND payment_reference IS NULL
	`
	cmdTag, err := r.db.Exec(ctx, query, reference, transactionID, string(StatusPaid), time.Now().UTC(), orderID, string(from))
	if err != nil {
		return fmt.Errorf("repository: failed to attach payment to order %s: %w", orderID, err)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrOrderChanged
	}
	return nil
}

func (r *postgresRepository) SetLineReconciliation(ctx context.Context, lineID uuid.UUID, status Reconciliation) error {
	cmdTag, err := r.db.Exec(ctx,
		`UPDATE storefront.order_items SET reconciliation = $1 WHERE id = $2`,
		string(status), lineID,
	)
	if err != nil {
		return fmt.Errorf("repository: failed to record reconciliation for line %s: %w", lineID, err)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrLineNotFound
	}
	return nil
}

func scanOrder(row pgx.Row) (*Order, error) {
	var o Order
	err := row.Scan(
		&o.ID,
		&o.PurchaserID,
		&o.Status,
		&o.TotalAmount,
		&o.Currency,
		&o.ShippingAddress,
		&o.BillingAddress,
		&o.PhoneNumber,
		&o.PaymentMethod,
		&o.PaymentReference,
		&o.TransactionID,
		&o.IdempotencyKey,
		&o.CreatedAt,
		&o.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func scanLine(row pgx.Row) (*Line, error) {
	var l Line
	err := row.Scan(
		&l.ID,
		&l.OrderID,
		&l.ProductID,
		&l.Quantity,
		&l.UnitPrice,
		&l.Reconciliation,
		&l.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &l, nil
}
