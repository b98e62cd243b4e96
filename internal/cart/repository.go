package cart

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"github.com/vasiliy-maslov/ecommerce-microservices/checkout-service/internal/catalog"
)

var (
	ErrLineNotFound = errors.New("cart line not found")
	// ErrQuantityLimit means adding would take the line past the given limit.
	ErrQuantityLimit = errors.New("cart line would exceed quantity limit")
)

// Repository stores cart lines keyed by purchaser.
type Repository interface {
	ListLines(ctx context.Context, purchaserID uuid.UUID) ([]Line, error)
	GetLine(ctx context.Context, purchaserID, productID uuid.UUID) (*Line, error)
	SetQuantity(ctx context.Context, purchaserID, productID uuid.UUID, qty int) error
	// AddQuantity adds qty to the line, creating it if needed, and returns the
	// stored quantity. It fails with ErrQuantityLimit instead of storing more
	// than limit.
	AddQuantity(ctx context.Context, purchaserID, productID uuid.UUID, qty, limit int) (int, error)
	DeleteLine(ctx context.Context, purchaserID, productID uuid.UUID) error
	Clear(ctx context.Context, purchaserID uuid.UUID) error
}

type postgresRepository struct {
	db *pgxpool.Pool
}

func NewRepository(db *pgxpool.Pool) Repository {
	return &postgresRepository{db: db}
}

const lineSelect = `
	SELECT c.purchaser_id, c.product_id, c.quantity, c.created_at, c.updated_at,
	       p.id, p.name, p.price, p.stock_quantity, p.active, p.discount_percentage,
	       p.discount_start, p.discount_end, p.created_at, p.updated_at
	FROM storefront.cart_items c
	JOIN storefront.products p ON p.id = c.product_id
`

func (r *postgresRepository) ListLines(ctx context.Context, purchaserID uuid.UUID) ([]Line, error) {
	query := lineSelect + `
		WHERE c.purchaser_id = $1
		ORDER BY c.created_at, c.product_id
	`
	rows, err := r.db.Query(ctx, query, purchaserID)
	if err != nil {
		return nil, fmt.Errorf("repository: failed to query cart for purchaser %s: %w", purchaserID, err)
	}
	defer rows.Close()

	lines := make([]Line, 0)
	for rows.Next() {
		line, err := scanLine(rows)
		if err != nil {
			return nil, fmt.Errorf("repository: failed to scan cart line for purchaser %s: %w", purchaserID, err)
		}
		lines = append(lines, *line)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repository: failed iterating cart for purchaser %s: %w", purchaserID, err)
	}

	return lines, nil
}

func (r *postgresRepository) GetLine(ctx context.Context, purchaserID, productID uuid.UUID) (*Line, error) {
	query := lineSelect + `
		WHERE c.purchaser_id = $1 AND c.product_id = $2
	`
	line, err := scanLine(r.db.QueryRow(ctx, query, purchaserID, productID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrLineNotFound
		}
		return nil, fmt.Errorf("repository: failed to select cart line: %w", err)
	}
	return line, nil
}

func (r *postgresRepository) SetQuantity(ctx context.Context, purchaserID, productID uuid.UUID, qty int) error {
	now := time.Now().UTC()
	query := `
		INSERT INTO storefront.cart_items (purchaser_id, product_id, quantity, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $4)
		ON CONFLICT (purchaser_id, product_id)
		DO UPDATE SET quantity = EXCLUDED.quantity, updated_at = EXCLUDED.updated_at
	`
	if _, err := r.db.Exec(ctx, query, purchaserID, productID, qty, now); err != nil {
		log.Error().Err(err).Stringer("purchaser_id", purchaserID).Stringer("product_id", productID).Msg("repository: failed to upsert cart line")
		return fmt.Errorf("repository: failed to upsert cart line: %w", err)
	}
	return nil
}

func (r *postgresRepository) AddQuantity(ctx context.Context, purchaserID, productID uuid.UUID, qty, limit int) (int, error) {
	if qty > limit {
		return 0, ErrQuantityLimit
	}

	now := time.Now().UTC()
	query := `
		INSERT INTO storefront.cart_items (purchaser_id, product_id, quantity, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $4)
		ON CONFLICT (purchaser_id, product_id)
		DO UPDATE SET quantity = cart_items.quantity + EXCLUDED.quantity, updated_at = EXCLUDED.updated_at
		WHERE cart_items.quantity + EXCLUDED.quantity <= $5
		RETURNING quantity
	`
	var stored int
	if err := r.db.QueryRow(ctx, query, purchaserID, productID, qty, now, limit).Scan(&stored); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrQuantityLimit
		}
		log.Error().Err(err).Stringer("purchaser_id", purchaserID).Stringer("product_id", productID).Msg("repository: failed to add to cart line")
		return 0, fmt.Errorf("repository: failed to add to cart line: %w", err)
	}
	return stored, nil
}

func (r *postgresRepository) DeleteLine(ctx context.Context, purchaserID, productID uuid.UUID) error {
	cmdTag, err := r.db.Exec(ctx,
		`DELETE FROM storefront.cart_items WHERE purchaser_id = $1 AND product_id = $2`,
		purchaserID, productID,
	)
	if err != nil {
		return fmt.Errorf("repository: failed to delete cart line: %w", err)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrLineNotFound
	}
	return nil
}

// Clear removes every line of the purchaser. Clearing an empty cart is not an error.
func (r *postgresRepository) Clear(ctx context.Context, purchaserID uuid.UUID) error {
	if _, err := r.db.Exec(ctx, `DELETE FROM storefront.cart_items WHERE purchaser_id = $1`, purchaserID); err != nil {
		return fmt.Errorf("repository: failed to clear cart for purchaser %s: %w", purchaserID, err)
	}
	return nil
}

func scanLine(row pgx.Row) (*Line, error) {
	var (
		l Line
		p catalog.Product
	)
	err := row.Scan(
		&l.PurchaserID,
		&l.ProductID,
		&l.Quantity,
		&l.CreatedAt,
		&l.UpdatedAt,
		&p.ID,
		&p.Name,
		&p.Price,
		&p.StockQuantity,
		&p.Active,
		&p.DiscountPercentage,
		&p.DiscountStart,
		&p.DiscountEnd,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	l.Product = &p
	return &l, nil
}
