package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gofrs/uuid"
	"github.com/golang-jwt/jwt/v4"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/vasiliy-maslov/ecommerce-microservices/checkout-service/internal/cart"
	"github.com/vasiliy-maslov/ecommerce-microservices/checkout-service/internal/checkout"
	"github.com/vasiliy-maslov/ecommerce-microservices/checkout-service/internal/handler"
	"github.com/vasiliy-maslov/ecommerce-microservices/checkout-service/internal/order"
)

const (
	testSecret        = "test-jwt-secret"
	testInternalToken = "test-internal-token"
)

type MockCartService struct {
	mock.Mock
}

func (m *MockCartService) GetCart(ctx context.Context, purchaserID uuid.UUID) (*cart.Cart, error) {
	args := m.Called(ctx, purchaserID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*cart.Cart), args.Error(1)
}

func (m *MockCartService) AddLine(ctx context.Context, purchaserID, productID uuid.UUID, qty int) (*cart.Line, error) {
	args := m.Called(ctx, purchaserID, productID, qty)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*cart.Line), args.Error(1)
}

func (m *MockCartService) UpdateQuantity(ctx context.Context, purchaserID, productID uuid.UUID, qty int) (*cart.UpdateResult, error) {
	args := m.Called(ctx, purchaserID, productID, qty)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*cart.UpdateResult), args.Error(1)
}

func (m *MockCartService) RemoveLine(ctx context.Context, purchaserID, productID uuid.UUID) error {
	return m.Called(ctx, purchaserID, productID).Error(0)
}

func (m *MockCartService) Clear(ctx context.Context, purchaserID uuid.UUID) error {
	return m.Called(ctx, purchaserID).Error(0)
}

type MockCheckouter struct {
	mock.Mock
}

func (m *MockCheckouter) Checkout(ctx context.Context, req checkout.Request) (*checkout.Result, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*checkout.Result), args.Error(1)
}

type MockOrderService struct {
	mock.Mock
}

func (m *MockOrderService) GetOrderByID(ctx context.Context, id uuid.UUID) (*order.Order, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*order.Order), args.Error(1)
}

func (m *MockOrderService) GetOrdersByPurchaserID(ctx context.Context, purchaserID uuid.UUID) ([]order.Order, error) {
	args := m.Called(ctx, purchaserID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]order.Order), args.Error(1)
}

func (m *MockOrderService) UpdateOrderStatus(ctx context.Context, orderID uuid.UUID, newStatus order.Status) error {
	return m.Called(ctx, orderID, newStatus).Error(0)
}

func (m *MockOrderService) AttachPayment(ctx context.Context, orderID uuid.UUID, payment order.Payment) (*order.Order, error) {
	args := m.Called(ctx, orderID, payment)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*order.Order), args.Error(1)
}

type testServer struct {
	router   *chi.Mux
	carts    *MockCartService
	workflow *MockCheckouter
	orders   *MockOrderService
}

func newTestServer() *testServer {
	ts := &testServer{
		carts:    new(MockCartService),
		workflow: new(MockCheckouter),
		orders:   new(MockOrderService),
	}
	ts.router = handler.NewRouter(handler.Services{
		Cart:     ts.carts,
		Checkout: ts.workflow,
		Orders:   ts.orders,
	}, handler.RouterConfig{
		JWTSecret:     testSecret,
		InternalToken: testInternalToken,
		Currency:      "GEL",
	})
	return ts
}

func (ts *testServer) assertExpectations(t *testing.T) {
	t.Helper()
	ts.carts.AssertExpectations(t)
	ts.workflow.AssertExpectations(t)
	ts.orders.AssertExpectations(t)
}

func signToken(t *testing.T, subject string, expiresIn time.Duration) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   subject,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(expiresIn)),
	})
	signed, err := token.SignedString([]byte(testSecret))
	require.NoError(t, err)
	return signed
}

// newRequest builds a request with an optional JSON body, authenticated as
// purchaser unless it is uuid.Nil.
func newRequest(t *testing.T, method, target string, body any, purchaser uuid.UUID) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		switch b := body.(type) {
		case string:
			buf.WriteString(b)
		default:
			require.NoError(t, json.NewEncoder(&buf).Encode(body))
		}
	}
	req := httptest.NewRequest(method, target, &buf)
	req.Header.Set("Content-Type", "application/json")
	if purchaser != uuid.Nil {
		req.Header.Set("Authorization", "Bearer "+signToken(t, purchaser.String(), time.Hour))
	}
	return req
}

func serve(ts *testServer, req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	ts.router.ServeHTTP(rr, req)
	return rr
}

func decodeBody[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	body := rr.Body.Bytes()
	require.NoError(t, json.Unmarshal(body, &v), "body: %s", body)
	return v
}
