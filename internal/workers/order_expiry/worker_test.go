package order_expiry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/rail-service/payment_listener/pkg/logger"
)

type MockOrderExpirer struct {
	mock.Mock
}

func (m *MockOrderExpirer) ExpirePendingOlderThan(ctx context.Context, deadline time.Time) (int64, error) {
	args := m.Called(ctx, deadline)
	return args.Get(0).(int64), args.Error(1)
}

func TestWorker_RunUsesWindowDeadline(t *testing.T) {
	now := time.Date(2024, 3, 2, 12, 0, 0, 0, time.UTC)
	repo := new(MockOrderExpirer)
	repo.On("ExpirePendingOlderThan", mock.Anything, now.Add(-24*time.Hour)).Return(int64(3), nil)

	w := NewWorker(repo, Config{}, logger.NewNop())
	w.now = func() time.Time { return now }

	expired, err := w.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(3), expired)
	repo.AssertExpectations(t)
}

func TestWorker_RunCustomWindow(t *testing.T) {
	now := time.Date(2024, 3, 2, 12, 0, 0, 0, time.UTC)
	repo := new(MockOrderExpirer)
	repo.On("ExpirePendingOlderThan", mock.Anything, now.Add(-2*time.Hour)).Return(int64(0), nil)

	w := NewWorker(repo, Config{ExpirationWindow: 2 * time.Hour}, logger.NewNop())
	w.now = func() time.Time { return now }

	expired, err := w.Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, expired)
}

func TestWorker_RunPropagatesErrors(t *testing.T) {
	repo := new(MockOrderExpirer)
	repo.On("ExpirePendingOlderThan", mock.Anything, mock.Anything).Return(int64(0), errors.New("db down"))

	w := NewWorker(repo, Config{}, logger.NewNop())
	_, err := w.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "db down")
}
