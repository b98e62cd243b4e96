package catalog

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

type Repository interface {
	CreateProduct(ctx context.Context, product *Product) (uuid.UUID, error)
	GetProduct(ctx context.Context, id uuid.UUID) (*Product, error)
	GetProducts(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]Product, error)
	DecrementStock(ctx context.Context, productID uuid.UUID, qty int) error
}

type postgresRepository struct {
	db *pgxpool.Pool
}

func NewRepository(db *pgxpool.Pool) Repository {
	return &postgresRepository{db: db}
}

const productColumns = `id, name, price, stock_quantity, active, discount_percentage, discount_start, discount_end, created_at, updated_at`

func (r *postgresRepository) CreateProduct(ctx context.Context, product *Product) (uuid.UUID, error) {
	if product.ID == uuid.Nil {
		id, err := uuid.NewV4()
		if err != nil {
			return uuid.Nil, fmt.Errorf("repository: failed to generate product ID: %w", err)
		}
		product.ID = id
	}
	if err := product.ValidateDiscount(); err != nil {
		return uuid.Nil, err
	}

	now := time.Now().UTC()
	product.CreatedAt = now
	product.UpdatedAt = now

	query := `
		INSERT INTO storefront.products (` + productColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err := r.db.Exec(ctx, query,
		product.ID,
		product.Name,
		product.Price,
		product.StockQuantity,
		product.Active,
		product.DiscountPercentage,
		product.DiscountStart,
		product.DiscountEnd,
		product.CreatedAt,
		product.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.CheckViolation {
			return uuid.Nil, fmt.Errorf("%w: %s", ErrInvalidDiscount, pgErr.ConstraintName)
		}
		return uuid.Nil, fmt.Errorf("repository: failed to insert product: %w", err)
	}

	return product.ID, nil
}

func (r *postgresRepository) GetProduct(ctx context.Context, id uuid.UUID) (*Product, error) {
	query := `
		SELECT ` + productColumns + `
		FROM storefront.products
		WHERE id = $1
	`

	product, err := scanProduct(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrProductNotFound
		}
		return nil, fmt.Errorf("repository: failed to select product %s: %w", id, err)
	}

	return product, nil
}

func (r *postgresRepository) GetProducts(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]Product, error) {
	products := make(map[uuid.UUID]Product, len(ids))
	if len(ids) == 0 {
		return products, nil
	}

	query := `
		SELECT ` + productColumns + `
		FROM storefront.products
		WHERE id = ANY($1)
	`
	rows, err := r.db.Query(ctx, query, ids)
	if err != nil {
		return nil, fmt.Errorf("repository: failed to query products: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		product, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("repository: failed to scan product: %w", err)
		}
		products[product.ID] = *product
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repository: failed iterating products: %w", err)
	}

	return products, nil
}

// DecrementStock subtracts qty only while enough stock remains. The condition
// lives in the UPDATE itself so concurrent buyers of the last unit cannot both
// succeed.
func (r *postgresRepository) DecrementStock(ctx context.Context, productID uuid.UUID, qty int) error {
	if qty < 1 {
		return ErrInvalidQuantity
	}

	query := `
		UPDATE storefront.products
		SET stock_quantity = stock_quantity - $2, updated_at = $3
		WHERE id = $1 AND stock_quantity >= $2
	`
	cmdTag, err := r.db.Exec(ctx, query, productID, qty, time.Now().UTC())
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.CheckViolation {
			return ErrInsufficientStock
		}
		return fmt.Errorf("repository: failed to decrement stock for product %s: %w", productID, err)
	}

	if cmdTag.RowsAffected() == 0 {
		var exists bool
		err := r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM storefront.products WHERE id = $1)`, productID).Scan(&exists)
		if err != nil {
			return fmt.Errorf("repository: failed to probe product %s: %w", productID, err)
		}
		if !exists {
			return ErrProductNotFound
		}
		log.Warn().Stringer("product_id", productID).Int("quantity", qty).Msg("repository: stock decrement rejected, not enough units")
		return ErrInsufficientStock
	}

	return nil
}

func scanProduct(row pgx.Row) (*Product, error) {
	var p Product
	err := row.Scan(
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
	return &p, nil
}
