package application

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	txDomain "github.com/davicafu/txpipeline/internal/transaction/domain"
	"github.com/davicafu/txpipeline/tests/mocks"
)

func TestListRecent_CapsAtFiftyAndFillsCache(t *testing.T) {
	// Arrange
	repo := mocks.NewInMemoryTransactionRepo()
	for i := 0; i < 60; i++ {
		ev := sampleEvent()
		ev.OccurredAt = ev.OccurredAt.Add(time.Duration(i) * time.Minute)
		require.NoError(t, repo.Save(context.Background(), ev))
	}
	cache := mocks.NewDummyCache()
	svc := NewQueryService(repo, nil, cache, 2*time.Second, zap.NewNop())

	// Act
	txs, err := svc.ListRecent(context.Background(), 500)

	// Assert
	require.NoError(t, err)
	assert.Len(t, txs, MaxRecentTransactions)
	assert.True(t, txs[0].OccurredAt.After(txs[1].OccurredAt))
	assert.Eventually(t, func() bool {
		return cache.Has(txDomain.RecentTransactionsCacheKey(MaxRecentTransactions))
	}, time.Second, 10*time.Millisecond)
}

func TestListRecent_EmptyStoreReturnsEmptySlice(t *testing.T) {
	svc := NewQueryService(mocks.NewInMemoryTransactionRepo(), nil, nil, time.Second, zap.NewNop())

	txs, err := svc.ListRecent(context.Background(), 0)

	require.NoError(t, err)
	assert.NotNil(t, txs)
	assert.Empty(t, txs)
}

func TestListRecent_ServesFromCache(t *testing.T) {
	// Arrange
	repo := mocks.NewInMemoryTransactionRepo()
	repo.ReadErr = errors.New("store must not be hit")
	cache := mocks.NewDummyCache()
	cached := []txDomain.PersistedTransaction{sampleEvent().ToPersisted()}
	require.NoError(t, cache.Set(context.Background(), txDomain.RecentTransactionsCacheKey(10), cached, 2))
	svc := NewQueryService(repo, nil, cache, time.Second, zap.NewNop())

	// Act
	txs, err := svc.ListRecent(context.Background(), 10)

	// Assert
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, cached[0].ID, txs[0].ID)
	assert.Equal(t, 1, cache.Hits)
}

func TestGetByID_NotFoundIsNotRetried(t *testing.T) {
	svc := NewQueryService(mocks.NewInMemoryTransactionRepo(), nil, mocks.NewDummyCache(), time.Second, zap.NewNop())

	start := time.Now()
	_, err := svc.GetByID(context.Background(), uuid.New())

	assert.ErrorIs(t, err, txDomain.ErrTransactionNotFound)
	assert.Less(t, time.Since(start), 100*time.Millisecond)
}

func TestGetByID_ReturnsStoredTransaction(t *testing.T) {
	repo := mocks.NewInMemoryTransactionRepo()
	ev := sampleEvent()
	require.NoError(t, repo.Save(context.Background(), ev))
	svc := NewQueryService(repo, nil, nil, time.Second, zap.NewNop())

	tx, err := svc.GetByID(context.Background(), ev.ID)

	require.NoError(t, err)
	assert.Equal(t, ev.AccountID, tx.AccountID)
	assert.True(t, ev.Amount.Equal(tx.Amount))
}

func TestDailyVolume_DisabledWithoutAnalytics(t *testing.T) {
	svc := NewQueryService(mocks.NewInMemoryTransactionRepo(), nil, nil, time.Second, zap.NewNop())

	_, err := svc.DailyVolume(context.Background(), 7, time.Now())

	assert.ErrorIs(t, err, ErrAnalyticsDisabled)
	assert.False(t, svc.AnalyticsEnabled())
}

func TestDailyVolume_QueriesWholeDays(t *testing.T) {
	// Arrange
	analytics := &mocks.MockAnalyticsRepo{}
	now := time.Date(2025, 3, 10, 15, 30, 0, 0, time.UTC)
	wantStart := time.Date(2025, 3, 8, 0, 0, 0, 0, time.UTC)
	expected := []txDomain.DailyVolume{{Day: wantStart, Type: txDomain.TxDebit, Count: 2, TotalAmount: decimal.RequireFromString("20.50")}}
	analytics.On("GetDailyVolume", mock.Anything, wantStart, now).Return(expected, nil)
	svc := NewQueryService(mocks.NewInMemoryTransactionRepo(), analytics, nil, time.Second, zap.NewNop())

	// Act
	stats, err := svc.DailyVolume(context.Background(), 3, now)

	// Assert
	require.NoError(t, err)
	assert.Equal(t, expected, stats)
	analytics.AssertExpectations(t)
}
