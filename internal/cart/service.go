package cart

import (
	"context"
	"errors"
	"fmt"

	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"

	"github.com/vasiliy-maslov/ecommerce-microservices/checkout-service/internal/catalog"
)

var (
	ErrInvalidQuantity    = errors.New("quantity must be at least 1")
	ErrStockExceeded      = errors.New("requested quantity exceeds available stock")
	ErrOutOfStock         = errors.New("product is out of stock")
	ErrProductUnavailable = errors.New("product is not available for sale")
)

// ProductReader is the slice of the catalog the cart needs.
type ProductReader interface {
	GetProduct(ctx context.Context, id uuid.UUID) (*catalog.Product, error)
}

// UpdateResult tells the caller whether the stored quantity differs from the
// one requested.
type UpdateResult struct {
	Line      Line `json:"line"`
	Requested int  `json:"requested"`
	Clamped   bool `json:"clamped"`
}

type Service interface {
	GetCart(ctx context.Context, purchaserID uuid.UUID) (*Cart, error)
	AddLine(ctx context.Context, purchaserID, productID uuid.UUID, qty int) (*Line, error)
	UpdateQuantity(ctx context.Context, purchaserID, productID uuid.UUID, qty int) (*UpdateResult, error)
	RemoveLine(ctx context.Context, purchaserID, productID uuid.UUID) error
	Clear(ctx context.Context, purchaserID uuid.UUID) error
}

type service struct {
	repo     Repository
	products ProductReader
}

func NewService(repo Repository, products ProductReader) Service {
	return &service{repo: repo, products: products}
}

func (s *service) GetCart(ctx context.Context, purchaserID uuid.UUID) (*Cart, error) {
	lines, err := s.repo.ListLines(ctx, purchaserID)
	if err != nil {
		log.Error().Err(err).Stringer("purchaser_id", purchaserID).Msg("service: failed to list cart lines")
		return nil, fmt.Errorf("service: failed to get cart: %w", err)
	}
	return &Cart{PurchaserID: purchaserID, Lines: lines}, nil
}

// AddLine merges qty into an existing line or creates one. The merged quantity
// must not exceed current stock; the merge happens in a single store write so
// concurrent adds of the same product are not lost.
func (s *service) AddLine(ctx context.Context, purchaserID, productID uuid.UUID, qty int) (*Line, error) {
	if qty < 1 {
		return nil, ErrInvalidQuantity
	}

	product, err := s.availableProduct(ctx, productID)
	if err != nil {
		return nil, err
	}
	if product.StockQuantity == 0 {
		return nil, ErrOutOfStock
	}

	merged, err := s.repo.AddQuantity(ctx, purchaserID, productID, qty, product.StockQuantity)
	if err != nil {
		if errors.Is(err, ErrQuantityLimit) {
			log.Info().
				Stringer("purchaser_id", purchaserID).
				Stringer("product_id", productID).
				Int("adding", qty).
				Int("stock", product.StockQuantity).
				Msg("service: cart add rejected, stock exceeded")
			return nil, ErrStockExceeded
		}
		return nil, fmt.Errorf("service: failed to add cart line: %w", err)
	}

	return &Line{PurchaserID: purchaserID, ProductID: productID, Quantity: merged, Product: product}, nil
}

// UpdateQuantity sets the line quantity, clamped to current stock. A clamp is
// reported in the result rather than applied silently.
func (s *service) UpdateQuantity(ctx context.Context, purchaserID, productID uuid.UUID, qty int) (*UpdateResult, error) {
	if qty < 1 {
		return nil, ErrInvalidQuantity
	}

	if _, err := s.repo.GetLine(ctx, purchaserID, productID); err != nil {
		if errors.Is(err, ErrLineNotFound) {
			return nil, ErrLineNotFound
		}
		return nil, fmt.Errorf("service: failed to read cart line: %w", err)
	}

	product, err := s.availableProduct(ctx, productID)
	if err != nil {
		return nil, err
	}
	if product.StockQuantity == 0 {
		return nil, ErrOutOfStock
	}

	stored := min(qty, product.StockQuantity)
	if err := s.repo.SetQuantity(ctx, purchaserID, productID, stored); err != nil {
		return nil, fmt.Errorf("service: failed to update cart line: %w", err)
	}

	result := &UpdateResult{
		Line:      Line{PurchaserID: purchaserID, ProductID: productID, Quantity: stored, Product: product},
		Requested: qty,
		Clamped:   stored != qty,
	}
	if result.Clamped {
		log.Info().
			Stringer("purchaser_id", purchaserID).
			Stringer("product_id", productID).
			Int("requested", qty).
			Int("stored", stored).
			Msg("service: cart quantity clamped to stock")
	}
	return result, nil
}

func (s *service) RemoveLine(ctx context.Context, purchaserID, productID uuid.UUID) error {
	if err := s.repo.DeleteLine(ctx, purchaserID, productID); err != nil {
		if errors.Is(err, ErrLineNotFound) {
			return ErrLineNotFound
		}
		return fmt.Errorf("service: failed to remove cart line: %w", err)
	}
	return nil
}

func (s *service) Clear(ctx context.Context, purchaserID uuid.UUID) error {
	if err := s.repo.Clear(ctx, purchaserID); err != nil {
		return fmt.Errorf("service: failed to clear cart: %w", err)
	}
	return nil
}

func (s *service) availableProduct(ctx context.Context, productID uuid.UUID) (*catalog.Product, error) {
	product, err := s.products.GetProduct(ctx, productID)
	if err != nil {
		if errors.Is(err, catalog.ErrProductNotFound) {
			return nil, catalog.ErrProductNotFound
		}
		return nil, fmt.Errorf("service: failed to read product %s: %w", productID, err)
	}
	if !product.Active {
		return nil, ErrProductUnavailable
	}
	return product, nil
}
