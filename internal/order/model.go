package order

import (
	"time"

	"github.com/gofrs/uuid"
	"github.com/shopspring/decimal"

	"github.com/vasiliy-maslov/ecommerce-microservices/checkout-service/internal/money"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusPaid      Status = "paid"
	StatusShipped   Status = "shipped"
	StatusDelivered Status = "delivered"
	StatusCancelled Status = "cancelled"
)

func (s Status) String() string {
	return string(s)
}

func (s Status) Valid() bool {
	_, ok := allowedTransitions[s]
	return ok
}

// Reconciliation records what happened when stock was taken for a line.
type Reconciliation string

const (
	ReconciliationPending      Reconciliation = "pending"
	ReconciliationReserved     Reconciliation = "reserved"
	ReconciliationInsufficient Reconciliation = "insufficient"
	ReconciliationFailed       Reconciliation = "failed"
)

func (r Reconciliation) String() string {
	return string(r)
}

type Line struct {
	ID             uuid.UUID       `json:"id" db:"id"`
	OrderID        uuid.UUID       `json:"order_id" db:"order_id"`
	ProductID      uuid.UUID       `json:"product_id" db:"product_id"`
	Quantity       int             `json:"quantity" db:"quantity"`
	UnitPrice      decimal.Decimal `json:"unit_price" db:"unit_price"` // effective price at purchase time
	Reconciliation Reconciliation  `json:"reconciliation" db:"reconciliation"`
	CreatedAt      time.Time       `json:"created_at" db:"created_at"`
}

func (l Line) Subtotal() decimal.Decimal {
	return money.Mul(l.UnitPrice, l.Quantity)
}

type Order struct {
	ID               uuid.UUID       `json:"id" db:"id"`
	PurchaserID      uuid.UUID       `json:"purchaser_id" db:"purchaser_id"`
	Status           Status          `json:"status" db:"status"`
	TotalAmount      decimal.Decimal `json:"total_amount" db:"total_amount"`
	Currency         string          `json:"currency" db:"currency"`
	ShippingAddress  string          `json:"shipping_address" db:"shipping_address"`
	BillingAddress   string          `json:"billing_address" db:"billing_address"`
	PhoneNumber      string          `json:"phone_number" db:"phone_number"`
	PaymentMethod    string          `json:"payment_method" db:"payment_method"`
	PaymentReference *string         `json:"payment_reference,omitempty" db:"payment_reference"`
	TransactionID    *string         `json:"transaction_id,omitempty" db:"transaction_id"`
	IdempotencyKey   *string         `json:"-" db:"idempotency_key"`
	Lines            []Line          `json:"lines" db:"-"`
	CreatedAt        time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at" db:"updated_at"`
}

// LinesTotal recomputes the total from the frozen line prices.
func (o Order) LinesTotal() decimal.Decimal {
	total := decimal.Zero
	for _, l := range o.Lines {
		total = total.Add(l.Subtotal())
	}
	return total
}
