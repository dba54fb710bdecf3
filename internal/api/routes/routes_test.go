package routes

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/rail-service/payment_listener/internal/domain/entities"
	"github.com/rail-service/payment_listener/internal/domain/services/payment"
	"github.com/rail-service/payment_listener/internal/domain/services/reconciliation"
	"github.com/rail-service/payment_listener/pkg/logger"
)

type noopOrders struct{}

func (noopOrders) CreatePendingOrder(context.Context, uuid.UUID, decimal.Decimal) (*entities.PaymentOrder, error) {
	return nil, nil
}

func (noopOrders) GetCheckoutDetails(_ context.Context, id uuid.UUID) (*payment.CheckoutDetails, error) {
	return &payment.CheckoutDetails{OrderID: id}, nil
}

type countingTrigger struct{ calls int }

func (c *countingTrigger) RunOnce(context.Context) (*reconciliation.CycleResult, error) {
	c.calls++
	return &reconciliation.CycleResult{}, nil
}

func init() {
	gin.SetMode(gin.TestMode)
}

func TestSetupRoutes(t *testing.T) {
	trigger := &countingTrigger{}
	r := SetupRoutes(Dependencies{
		Logger:     logger.NewNop(),
		Orders:     noopOrders{},
		Trigger:    trigger,
		Version:    "test",
		AdminToken: "ops-token",
	})

	tests := []struct {
		name   string
		method string
		path   string
		auth   string
		want   int
	}{
		{"liveness", http.MethodGet, "/health", "", http.StatusOK},
		{"readiness without checks", http.MethodGet, "/health/ready", "", http.StatusOK},
		{"metrics", http.MethodGet, "/metrics", "", http.StatusOK},
		{"checkout", http.MethodGet, "/api/v1/orders/" + uuid.New().String() + "/checkout", "", http.StatusOK},
		{"trigger without token", http.MethodPost, "/api/v1/reconciliation/run", "", http.StatusUnauthorized},
		{"trigger with token", http.MethodPost, "/api/v1/reconciliation/run", "Bearer ops-token", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, nil)
			if tt.auth != "" {
				req.Header.Set("Authorization", tt.auth)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			assert.Equal(t, tt.want, w.Code)
			assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
		})
	}
	assert.Equal(t, 1, trigger.calls)
}
