package checkout_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gofrs/uuid"

	"github.com/vasiliy-maslov/ecommerce-microservices/checkout-service/internal/cart"
	"github.com/vasiliy-maslov/ecommerce-microservices/checkout-service/internal/catalog"
	"github.com/vasiliy-maslov/ecommerce-microservices/checkout-service/internal/notification"
	"github.com/vasiliy-maslov/ecommerce-microservices/checkout-service/internal/order"
)

// memStore is an in-memory storefront: catalog, carts and orders behind one
// mutex, with knobs to inject failures.
type memStore struct {
	mu sync.Mutex

	products map[uuid.UUID]catalog.Product
	carts    map[uuid.UUID][]cart.Line
	orders   map[uuid.UUID]*order.Order
	byKey    map[string]uuid.UUID

	writes          int
	decrementCalls  int
	clearCalls      int
	createOrderErr  error
	createLinesErr  error
	clearErrs       []error
	decrementErrs   map[uuid.UUID][]error
	listErr         error
	afterCreate     func()
	reconciliations map[uuid.UUID]order.Reconciliation
}

func newMemStore() *memStore {
	return &memStore{
		products:        make(map[uuid.UUID]catalog.Product),
		carts:           make(map[uuid.UUID][]cart.Line),
		orders:          make(map[uuid.UUID]*order.Order),
		byKey:           make(map[string]uuid.UUID),
		decrementErrs:   make(map[uuid.UUID][]error),
		reconciliations: make(map[uuid.UUID]order.Reconciliation),
	}
}

func (s *memStore) addProduct(p catalog.Product) catalog.Product {
	if p.ID == uuid.Nil {
		p.ID = uuid.Must(uuid.NewV4())
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.products[p.ID] = p
	return p
}

func (s *memStore) addToCart(purchaser, productID uuid.UUID, qty int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.carts[purchaser] = append(s.carts[purchaser], cart.Line{PurchaserID: purchaser, ProductID: productID, Quantity: qty})
}

func (s *memStore) stockOf(id uuid.UUID) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.products[id].StockQuantity
}

func (s *memStore) orderCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.orders)
}

func (s *memStore) storedOrder(id uuid.UUID) order.Order {
	s.mu.Lock()
	defer s.mu.Unlock()
	o := *s.orders[id]
	o.Lines = append([]order.Line(nil), o.Lines...)
	return o
}

func (s *memStore) GetProduct(_ context.Context, id uuid.UUID) (*catalog.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.products[id]
	if !ok {
		return nil, catalog.ErrProductNotFound
	}
	return &p, nil
}

func (s *memStore) ListLines(_ context.Context, purchaser uuid.UUID) ([]cart.Line, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listErr != nil {
		return nil, s.listErr
	}
	return append([]cart.Line(nil), s.carts[purchaser]...), nil
}

func (s *memStore) Clear(_ context.Context, purchaser uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clearCalls++
	if len(s.clearErrs) > 0 {
		err := s.clearErrs[0]
		s.clearErrs = s.clearErrs[1:]
		if err != nil {
			return err
		}
	}
	s.writes++
	delete(s.carts, purchaser)
	return nil
}

func (s *memStore) CreateOrder(_ context.Context, o *order.Order) (uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.insertOrderLocked(o); err != nil {
		return uuid.Nil, err
	}
	if s.afterCreate != nil {
		s.afterCreate()
	}
	return o.ID, nil
}

func (s *memStore) insertOrderLocked(o *order.Order) error {
	if s.createOrderErr != nil {
		return s.createOrderErr
	}
	if o.IdempotencyKey != nil {
		if _, ok := s.byKey[keyOf(o.PurchaserID, *o.IdempotencyKey)]; ok {
			return order.ErrDuplicateIdempotencyKey
		}
	}
	o.ID = uuid.Must(uuid.NewV4())
	o.CreatedAt = time.Now()
	stored := *o
	stored.Lines = nil
	s.orders[o.ID] = &stored
	if o.IdempotencyKey != nil {
		s.byKey[keyOf(o.PurchaserID, *o.IdempotencyKey)] = o.ID
	}
	s.writes++
	return nil
}

func (s *memStore) CreateOrderLines(_ context.Context, orderID uuid.UUID, lines []order.Line) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insertLinesLocked(orderID, lines)
}

func (s *memStore) insertLinesLocked(orderID uuid.UUID, lines []order.Line) error {
	if s.createLinesErr != nil {
		return s.createLinesErr
	}
	stored, ok := s.orders[orderID]
	if !ok {
		return order.ErrOrderNotFound
	}
	for i := range lines {
		lines[i].ID = uuid.Must(uuid.NewV4())
		lines[i].OrderID = orderID
		stored.Lines = append(stored.Lines, lines[i])
	}
	s.writes++
	return nil
}

func (s *memStore) GetOrderByIdempotencyKey(_ context.Context, purchaser uuid.UUID, key string) (*order.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byKey[keyOf(purchaser, key)]
	if !ok {
		return nil, order.ErrOrderNotFound
	}
	o := *s.orders[id]
	return &o, nil
}

func (s *memStore) SetLineReconciliation(_ context.Context, lineID uuid.UUID, status order.Reconciliation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, o := range s.orders {
		for i := range o.Lines {
			if o.Lines[i].ID == lineID {
				o.Lines[i].Reconciliation = status
				s.reconciliations[lineID] = status
				return nil
			}
		}
	}
	return order.ErrLineNotFound
}

// DecrementStock is the in-memory equivalent of the conditional UPDATE.
func (s *memStore) DecrementStock(ctx context.Context, productID uuid.UUID, qty int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.decrementCalls++
	if errs := s.decrementErrs[productID]; len(errs) > 0 {
		s.decrementErrs[productID] = errs[1:]
		return errs[0]
	}
	p, ok := s.products[productID]
	if !ok {
		return catalog.ErrProductNotFound
	}
	if p.StockQuantity < qty {
		return catalog.ErrInsufficientStock
	}
	p.StockQuantity -= qty
	s.products[productID] = p
	s.writes++
	return nil
}

// txStore adds the transactional write on top of memStore.
type txStore struct {
	*memStore
}

func (s txStore) CreateOrderWithLines(_ context.Context, o *order.Order) (uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.insertOrderLocked(o); err != nil {
		return uuid.Nil, err
	}
	if err := s.insertLinesLocked(o.ID, o.Lines); err != nil {
		delete(s.orders, o.ID)
		if o.IdempotencyKey != nil {
			delete(s.byKey, keyOf(o.PurchaserID, *o.IdempotencyKey))
		}
		s.writes--
		o.ID = uuid.Nil
		return uuid.Nil, err
	}
	return o.ID, nil
}

func keyOf(purchaser uuid.UUID, key string) string {
	return fmt.Sprintf("%s/%s", purchaser, key)
}

type fakeNotifier struct {
	mu    sync.Mutex
	sent  []notification.Confirmation
	errs  []error
	calls int
}

func (n *fakeNotifier) SendOrderConfirmation(_ context.Context, c notification.Confirmation) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls++
	if len(n.errs) > 0 {
		err := n.errs[0]
		n.errs = n.errs[1:]
		if err != nil {
			return err
		}
	}
	n.sent = append(n.sent, c)
	return nil
}

type fakeRecorder struct {
	mu       sync.Mutex
	states   []string
	warnings []string
}

func (r *fakeRecorder) CheckoutFinished(state string, _ bool, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, state)
}

func (r *fakeRecorder) CheckoutWarning(step string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.warnings = append(r.warnings, step)
}

var errTransient = errors.New("connection reset by peer")
