package notification

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
)

const confirmationPath = "/api/notifications/order-confirmation"

// HTTPNotifier posts confirmations to an external notification service.
type HTTPNotifier struct {
	client *resty.Client
}

func NewHTTPNotifier(baseURL string, timeout time.Duration) *HTTPNotifier {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json")
	return &HTTPNotifier{client: client}
}

func (n *HTTPNotifier) SendOrderConfirmation(ctx context.Context, c Confirmation) error {
	event, err := newEvent(c)
	if err != nil {
		return fmt.Errorf("notification: failed to build event: %w", err)
	}

	resp, err := n.client.R().
		SetContext(ctx).
		SetHeader("Idempotency-Key", c.OrderID.String()).
		SetBody(event).
		Post(confirmationPath)
	if err != nil {
		return fmt.Errorf("notification: request for order %s failed: %w", c.OrderID, err)
	}

	switch resp.StatusCode() {
	case http.StatusOK, http.StatusAccepted, http.StatusCreated, http.StatusNoContent:
		return nil
	default:
		return fmt.Errorf("notification: service answered %d for order %s", resp.StatusCode(), c.OrderID)
	}
}
