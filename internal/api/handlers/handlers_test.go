package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/rail-service/payment_listener/internal/domain/entities"
	domainerrors "github.com/rail-service/payment_listener/internal/domain/errors"
	"github.com/rail-service/payment_listener/internal/domain/services/payment"
	"github.com/rail-service/payment_listener/internal/domain/services/reconciliation"
	"github.com/rail-service/payment_listener/pkg/logger"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type MockOrderService struct {
	mock.Mock
}

func (m *MockOrderService) CreatePendingOrder(ctx context.Context, userID uuid.UUID, tier decimal.Decimal) (*entities.PaymentOrder, error) {
	args := m.Called(ctx, userID, tier)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entities.PaymentOrder), args.Error(1)
}

func (m *MockOrderService) GetCheckoutDetails(ctx context.Context, orderID uuid.UUID) (*payment.CheckoutDetails, error) {
	args := m.Called(ctx, orderID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*payment.CheckoutDetails), args.Error(1)
}

type stubTrigger struct {
	result *reconciliation.CycleResult
	err    error
}

func (s stubTrigger) RunOnce(context.Context) (*reconciliation.CycleResult, error) {
	return s.result, s.err
}

func serve(r *gin.Engine, method, path string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func orderRouter(svc OrderService) *gin.Engine {
	h := NewOrderHandlers(svc, logger.NewNop())
	r := gin.New()
	r.POST("/api/v1/orders", h.CreateOrder)
	r.GET("/api/v1/orders/:id/checkout", h.GetCheckout)
	return r
}

func TestCreateOrder(t *testing.T) {
	svc := new(MockOrderService)
	r := orderRouter(svc)

	userID := uuid.New()
	order := entities.NewPendingOrder(userID, decimal.RequireFromString("15.004"), time.Now())
	svc.On("CreatePendingOrder", mock.Anything, userID, mock.MatchedBy(func(d decimal.Decimal) bool {
		return d.Equal(decimal.RequireFromString("15"))
	})).Return(order, nil).Once()
	svc.On("GetCheckoutDetails", mock.Anything, order.ID).Return(&payment.CheckoutDetails{
		OrderID: order.ID,
		Amount:  "15.004000",
		Status:  entities.OrderStatusPending,
	}, nil).Once()

	w := serve(r, http.MethodPost, "/api/v1/orders", gin.H{"user_id": userID.String(), "tier": "15"})
	require.Equal(t, http.StatusCreated, w.Code)

	var got payment.CheckoutDetails
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, "15.004000", got.Amount)
	svc.AssertExpectations(t)
}

func TestCreateOrderErrors(t *testing.T) {
	svc := new(MockOrderService)
	r := orderRouter(svc)
	userID := uuid.New()

	svc.On("CreatePendingOrder", mock.Anything, userID, mock.Anything).Return(nil, domainerrors.ErrUnknownTier).Once()
	w := serve(r, http.MethodPost, "/api/v1/orders", gin.H{"user_id": userID.String(), "tier": "99"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), ErrCodeInvalidAmount)

	svc.On("CreatePendingOrder", mock.Anything, userID, mock.Anything).Return(nil, domainerrors.ErrAmountCollision).Once()
	w = serve(r, http.MethodPost, "/api/v1/orders", gin.H{"user_id": userID.String(), "tier": "15"})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = serve(r, http.MethodPost, "/api/v1/orders", gin.H{"user_id": "not-a-uuid", "tier": "15"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = serve(r, http.MethodPost, "/api/v1/orders", gin.H{"user_id": userID.String(), "tier": "-1"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetCheckout(t *testing.T) {
	svc := new(MockOrderService)
	r := orderRouter(svc)

	found := uuid.New()
	missing := uuid.New()
	svc.On("GetCheckoutDetails", mock.Anything, found).Return(&payment.CheckoutDetails{OrderID: found, Amount: "15.004000"}, nil)
	svc.On("GetCheckoutDetails", mock.Anything, missing).Return(nil, domainerrors.NotFoundError("PAYMENT_ORDER"))

	w := serve(r, http.MethodGet, "/api/v1/orders/"+found.String()+"/checkout", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "15.004000")

	w = serve(r, http.MethodGet, "/api/v1/orders/"+missing.String()+"/checkout", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "PAYMENT_ORDER_NOT_FOUND")

	w = serve(r, http.MethodGet, "/api/v1/orders/abc/checkout", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	svc.On("GetCheckoutDetails", mock.Anything, mock.Anything).Return(nil, errors.New("pq: connection refused"))
	w = serve(r, http.MethodGet, "/api/v1/orders/"+uuid.New().String()+"/checkout", nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), "pq:")
}

func TestRunCycle(t *testing.T) {
	tests := []struct {
		name    string
		trigger stubTrigger
		want    int
	}{
		{"success", stubTrigger{result: &reconciliation.CycleResult{Expired: 2, Report: &reconciliation.CycleReport{}}}, http.StatusOK},
		{"in progress", stubTrigger{err: reconciliation.ErrCycleInProgress}, http.StatusConflict},
		{"partial failure", stubTrigger{result: &reconciliation.CycleResult{}, err: errors.New("expire failed")}, http.StatusBadGateway},
		{"failure", stubTrigger{err: errors.New("list pending failed")}, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewReconciliationHandlers(tt.trigger, logger.NewNop())
			r := gin.New()
			r.POST("/run", h.RunCycle)
			w := serve(r, http.MethodPost, "/run", nil)
			assert.Equal(t, tt.want, w.Code)
		})
	}
}

func TestHealth(t *testing.T) {
	h := NewHealthHandler(map[string]HealthCheck{
		"database": func(context.Context) error { return nil },
		"redis":    func(context.Context) error { return errors.New("dial tcp: refused") },
	}, logger.NewNop(), "test")
	r := gin.New()
	r.GET("/health", h.Liveness)
	r.GET("/health/ready", h.Readiness)

	w := serve(r, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = serve(r, http.MethodGet, "/health/ready", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	var resp HealthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Checks["database"])
	assert.Equal(t, "unhealthy", resp.Status)
}
