package checkout

import (
	"errors"
	"fmt"

	"github.com/gofrs/uuid"
)

var (
	// ErrValidation matches every *ValidationError.
	ErrValidation = errors.New("checkout validation failed")
	// ErrOrderPersist means the order header was not written. Nothing else
	// happened, so the caller may retry.
	ErrOrderPersist = errors.New("failed to persist order")
	// ErrOrderLinesPersist means the header exists but its lines do not.
	ErrOrderLinesPersist = errors.New("order persisted without its lines")
)

// ValidationError describes why a cart cannot be checked out. No writes have
// happened when one is returned.
type ValidationError struct {
	Field     string
	ProductID uuid.UUID
	Reason    string
}

func (e *ValidationError) Error() string {
	if e.ProductID != uuid.Nil {
		return fmt.Sprintf("checkout: %s %s: %s", e.Field, e.ProductID, e.Reason)
	}
	return fmt.Sprintf("checkout: %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// ErrEmptyCart is returned for a purchaser without cart lines.
var ErrEmptyCart = &ValidationError{Field: "cart", Reason: "cart is empty"}

// InconsistentOrderError reports an order header that was committed while
// writing its lines failed. It needs operator attention.
type InconsistentOrderError struct {
	OrderID uuid.UUID
	Err     error
}

func (e *InconsistentOrderError) Error() string {
	return fmt.Sprintf("checkout: order %s persisted without its lines: %v", e.OrderID, e.Err)
}

func (e *InconsistentOrderError) Unwrap() []error {
	return []error{ErrOrderLinesPersist, e.Err}
}

type Step string

const (
	StepReconcileStock Step = "reconcile_stock"
	StepClearCart      Step = "clear_cart"
	StepNotify         Step = "notify"
)

// Warning is a best-effort step that did not succeed after the order was
// persisted. The order stands regardless.
type Warning struct {
	Step      Step
	ProductID uuid.UUID
	Err       error
}

func (w Warning) Error() string {
	if w.ProductID != uuid.Nil {
		return fmt.Sprintf("%s for product %s: %v", w.Step, w.ProductID, w.Err)
	}
	return fmt.Sprintf("%s: %v", w.Step, w.Err)
}

func (w Warning) Unwrap() error {
	return w.Err
}
