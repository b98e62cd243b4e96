// Package checkout turns a purchaser's cart into a priced order and then takes
// stock, clears the cart and notifies the purchaser.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofrs/uuid"
	"github.com/nyaruka/phonenumbers"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/vasiliy-maslov/ecommerce-microservices/checkout-service/internal/cart"
	"github.com/vasiliy-maslov/ecommerce-microservices/checkout-service/internal/catalog"
	"github.com/vasiliy-maslov/ecommerce-microservices/checkout-service/internal/money"
	"github.com/vasiliy-maslov/ecommerce-microservices/checkout-service/internal/notification"
	"github.com/vasiliy-maslov/ecommerce-microservices/checkout-service/internal/order"
	"github.com/vasiliy-maslov/ecommerce-microservices/checkout-service/internal/pricing"
)

type State string

const (
	StateValidating       State = "validating"
	StatePricing          State = "pricing"
	StatePersisting       State = "persisting"
	StateReconcilingStock State = "reconciling_stock"
	StateClearing         State = "clearing"
	StateNotifying        State = "notifying"
	StateCompleted        State = "completed"
	StateFailed           State = "failed"
)

func (s State) String() string {
	return string(s)
}

type ProductReader interface {
	GetProduct(ctx context.Context, id uuid.UUID) (*catalog.Product, error)
}

type CartStore interface {
	ListLines(ctx context.Context, purchaserID uuid.UUID) ([]cart.Line, error)
	Clear(ctx context.Context, purchaserID uuid.UUID) error
}

type OrderStore interface {
	CreateOrder(ctx context.Context, o *order.Order) (uuid.UUID, error)
	// CreateOrderLines assigns line IDs in place.
	CreateOrderLines(ctx context.Context, orderID uuid.UUID, lines []order.Line) error
	GetOrderByIdempotencyKey(ctx context.Context, purchaserID uuid.UUID, key string) (*order.Order, error)
	SetLineReconciliation(ctx context.Context, lineID uuid.UUID, status order.Reconciliation) error
}

// AtomicOrderStore is implemented by stores that can write an order header and
// its lines in one transaction. The workflow prefers it when available.
type AtomicOrderStore interface {
	CreateOrderWithLines(ctx context.Context, o *order.Order) (uuid.UUID, error)
}

type StockStore interface {
	// DecrementStock must fail with catalog.ErrInsufficientStock instead of
	// letting stock go negative.
	DecrementStock(ctx context.Context, productID uuid.UUID, qty int) error
}

type Notifier interface {
	SendOrderConfirmation(ctx context.Context, c notification.Confirmation) error
}

// Recorder receives workflow outcomes. *metrics.Checkout implements it.
type Recorder interface {
	CheckoutFinished(state string, replayed bool, elapsed time.Duration)
	CheckoutWarning(step string)
}

type Config struct {
	Currency      string
	PaymentMethod string
	PhoneRegion   string
	StockWorkers  int
	RetryAttempts int
	RetryInterval time.Duration
}

type Request struct {
	PurchaserID     uuid.UUID
	ShippingAddress string
	BillingAddress  string
	PhoneNumber     string
	IdempotencyKey  string
}

type Result struct {
	OrderID  uuid.UUID
	Total    decimal.Decimal
	Currency string
	State    State
	Replayed bool
	Lines    []order.Line
	Warnings []Warning
}

type Workflow struct {
	products ProductReader
	carts    CartStore
	orders   OrderStore
	stock    StockStore
	notifier Notifier
	recorder Recorder
	cfg      Config
	now      func() time.Time
}

type Option func(*Workflow)

func WithClock(now func() time.Time) Option {
	return func(w *Workflow) { w.now = now }
}

func WithRecorder(r Recorder) Option {
	return func(w *Workflow) { w.recorder = r }
}

func NewWorkflow(products ProductReader, carts CartStore, orders OrderStore, stock StockStore, notifier Notifier, cfg Config, opts ...Option) *Workflow {
	if cfg.StockWorkers < 1 {
		cfg.StockWorkers = 1
	}
	if cfg.RetryAttempts < 1 {
		cfg.RetryAttempts = 1
	}
	w := &Workflow{
		products: products,
		carts:    carts,
		orders:   orders,
		stock:    stock,
		notifier: notifier,
		recorder: nopRecorder{},
		cfg:      cfg,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// pricedLine is a cart line joined with the product read during validation.
type pricedLine struct {
	product  catalog.Product
	quantity int
}

type validated struct {
	lines   []pricedLine
	phone   string
	billing string
}

// Checkout runs the workflow for one purchase attempt. Errors are returned
// only while nothing durable happened, or when the order is left inconsistent;
// failures after the order is persisted are reported as Result.Warnings.
func (w *Workflow) Checkout(ctx context.Context, req Request) (res *Result, err error) {
	started := time.Now()
	state := StateValidating
	logger := log.With().Stringer("purchaser_id", req.PurchaserID).Logger()
	enter := func(next State) {
		state = next
		logger.Debug().Stringer("state", next).Msg("checkout: state changed")
	}

	defer func() {
		final := StateFailed
		replayed := false
		if err == nil {
			final = res.State
			replayed = res.Replayed
			for _, warn := range res.Warnings {
				w.recorder.CheckoutWarning(string(warn.Step))
			}
		} else {
			logger.Warn().Err(err).Stringer("state", state).Msg("checkout: failed")
		}
		w.recorder.CheckoutFinished(string(final), replayed, time.Since(started))
	}()

	if req.IdempotencyKey != "" {
		existing, err := w.findReplay(ctx, req)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			logger.Info().Stringer("order_id", existing.OrderID).Msg("checkout: idempotent replay")
			return existing, nil
		}
	}

	v, err := w.validate(ctx, req)
	if err != nil {
		return nil, err
	}

	enter(StatePricing)
	now := w.now()
	lines := make([]order.Line, 0, len(v.lines))
	total := decimal.Zero
	for _, pl := range v.lines {
		unit := pricing.EffectivePrice(pl.product, now)
		line := order.Line{
			ProductID:      pl.product.ID,
			Quantity:       pl.quantity,
			UnitPrice:      unit,
			Reconciliation: order.ReconciliationPending,
		}
		total = total.Add(line.Subtotal())
		lines = append(lines, line)
	}
	total = money.Round(total)

	enter(StatePersisting)
	o := &order.Order{
		PurchaserID:     req.PurchaserID,
		Status:          order.StatusPending,
		TotalAmount:     total,
		Currency:        w.cfg.Currency,
		ShippingAddress: strings.TrimSpace(req.ShippingAddress),
		BillingAddress:  v.billing,
		PhoneNumber:     v.phone,
		PaymentMethod:   w.cfg.PaymentMethod,
		Lines:           lines,
	}
	if req.IdempotencyKey != "" {
		key := req.IdempotencyKey
		o.IdempotencyKey = &key
	}

	if err := w.persist(ctx, o); err != nil {
		if errors.Is(err, order.ErrDuplicateIdempotencyKey) {
			// A concurrent attempt with the same key won; report its order.
			existing, findErr := w.findReplay(ctx, req)
			if findErr == nil && existing != nil {
				return existing, nil
			}
		}
		return nil, err
	}
	logger = logger.With().Stringer("order_id", o.ID).Logger()
	logger.Info().Str("total", money.Format(total)).Int("lines", len(o.Lines)).Msg("checkout: order persisted")

	// The order is committed; finish the remaining steps even if the caller goes away.
	ctx = context.WithoutCancel(ctx)
	res = &Result{
		OrderID:  o.ID,
		Total:    total,
		Currency: o.Currency,
		Lines:    o.Lines,
	}

	enter(StateReconcilingStock)
	res.Warnings = append(res.Warnings, w.reconcileStock(ctx, o.ID, o.Lines)...)

	enter(StateClearing)
	if err := w.retry(ctx, func() error { return w.carts.Clear(ctx, req.PurchaserID) }); err != nil {
		logger.Warn().Err(err).Msg("checkout: failed to clear cart")
		res.Warnings = append(res.Warnings, Warning{Step: StepClearCart, Err: err})
	}

	enter(StateNotifying)
	confirmation := notification.Confirmation{
		OrderID:     o.ID,
		PurchaserID: o.PurchaserID,
		Total:       total,
		Currency:    o.Currency,
		PhoneNumber: o.PhoneNumber,
		PlacedAt:    now,
	}
	if err := w.retry(ctx, func() error { return w.notifier.SendOrderConfirmation(ctx, confirmation) }); err != nil {
		logger.Warn().Err(err).Msg("checkout: failed to send order confirmation")
		res.Warnings = append(res.Warnings, Warning{Step: StepNotify, Err: err})
	}

	enter(StateCompleted)
	res.State = StateCompleted
	logger.Info().Int("warnings", len(res.Warnings)).Msg("checkout: completed")
	return res, nil
}

func (w *Workflow) findReplay(ctx context.Context, req Request) (*Result, error) {
	existing, err := w.orders.GetOrderByIdempotencyKey(ctx, req.PurchaserID, req.IdempotencyKey)
	if err != nil {
		if errors.Is(err, order.ErrOrderNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("checkout: failed to look up idempotency key: %w", err)
	}
	return &Result{
		OrderID:  existing.ID,
		Total:    existing.TotalAmount,
		Currency: existing.Currency,
		State:    StateCompleted,
		Replayed: true,
		Lines:    existing.Lines,
	}, nil
}

func (w *Workflow) validate(ctx context.Context, req Request) (*validated, error) {
	lines, err := w.carts.ListLines(ctx, req.PurchaserID)
	if err != nil {
		return nil, fmt.Errorf("checkout: failed to read cart: %w", err)
	}
	if len(lines) == 0 {
		return nil, ErrEmptyCart
	}

	shipping := strings.TrimSpace(req.ShippingAddress)
	if shipping == "" {
		return nil, &ValidationError{Field: "shipping_address", Reason: "is required"}
	}
	billing := strings.TrimSpace(req.BillingAddress)
	if billing == "" {
		billing = shipping
	}

	phone, err := w.normalizePhone(req.PhoneNumber)
	if err != nil {
		return nil, err
	}

	out := &validated{lines: make([]pricedLine, 0, len(lines)), phone: phone, billing: billing}
	for _, l := range lines {
		if l.Quantity < 1 {
			return nil, &ValidationError{Field: "quantity", ProductID: l.ProductID, Reason: "must be at least 1"}
		}

		product, err := w.products.GetProduct(ctx, l.ProductID)
		if err != nil {
			if errors.Is(err, catalog.ErrProductNotFound) {
				return nil, &ValidationError{Field: "product", ProductID: l.ProductID, Reason: "no longer exists"}
			}
			return nil, fmt.Errorf("checkout: failed to read product %s: %w", l.ProductID, err)
		}
		if !product.Active {
			return nil, &ValidationError{Field: "product", ProductID: l.ProductID, Reason: "is not available for sale"}
		}
		if err := product.ValidateDiscount(); err != nil {
			return nil, &ValidationError{Field: "discount", ProductID: l.ProductID, Reason: err.Error()}
		}

		out.lines = append(out.lines, pricedLine{product: *product, quantity: l.Quantity})
	}

	return out, nil
}

// normalizePhone checks the number against the configured region's numbering
// plan and returns it in E.164.
func (w *Workflow) normalizePhone(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", &ValidationError{Field: "phone_number", Reason: "is required"}
	}

	num, err := phonenumbers.Parse(raw, w.cfg.PhoneRegion)
	if err != nil || !phonenumbers.IsValidNumberForRegion(num, w.cfg.PhoneRegion) {
		return "", &ValidationError{Field: "phone_number", Reason: fmt.Sprintf("is not a valid %s number", w.cfg.PhoneRegion)}
	}
	return phonenumbers.Format(num, phonenumbers.E164), nil
}

func (w *Workflow) persist(ctx context.Context, o *order.Order) error {
	if txStore, ok := w.orders.(AtomicOrderStore); ok {
		if _, err := txStore.CreateOrderWithLines(ctx, o); err != nil {
			if errors.Is(err, order.ErrDuplicateIdempotencyKey) {
				return err
			}
			return fmt.Errorf("%w: %w", ErrOrderPersist, err)
		}
		return nil
	}

	if _, err := w.orders.CreateOrder(ctx, o); err != nil {
		if errors.Is(err, order.ErrDuplicateIdempotencyKey) {
			return err
		}
		return fmt.Errorf("%w: %w", ErrOrderPersist, err)
	}
	if err := w.orders.CreateOrderLines(ctx, o.ID, o.Lines); err != nil {
		log.Error().Err(err).Stringer("order_id", o.ID).Msg("checkout: order header persisted but lines failed")
		return &InconsistentOrderError{OrderID: o.ID, Err: err}
	}
	return nil
}

type nopRecorder struct{}

func (nopRecorder) CheckoutFinished(string, bool, time.Duration) {}
func (nopRecorder) CheckoutWarning(string)                       {}
