package application

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	sharedCache "github.com/davicafu/txpipeline/internal/shared/infra/platform/cache"
	sharedUtils "github.com/davicafu/txpipeline/internal/shared/infra/utils"
	txDomain "github.com/davicafu/txpipeline/internal/transaction/domain"
	"github.com/davicafu/txpipeline/pkg/logger"
)

const MaxRecentTransactions = 50

var ErrAnalyticsDisabled = errors.New("analytics is not enabled")

// QueryService expone las lecturas del consumidor con cache-aside.
type QueryService struct {
	repo      txDomain.TransactionReader
	analytics txDomain.TransactionAnalyticsRepository
	cache     sharedCache.Cache
	cacheTTL  int
	log       *zap.Logger
}

// NewQueryService: cache y analytics pueden ser nil.
func NewQueryService(repo txDomain.TransactionReader, analytics txDomain.TransactionAnalyticsRepository, cache sharedCache.Cache, cacheTTL time.Duration, log *zap.Logger) *QueryService {
	return &QueryService{
		repo:      repo,
		analytics: analytics,
		cache:     cache,
		cacheTTL:  max(1, int(cacheTTL/time.Second)),
		log:       log,
	}
}

// ListRecent devuelve como mucho MaxRecentTransactions transacciones, las más recientes primero.
func (s *QueryService) ListRecent(ctx context.Context, limit int) ([]txDomain.PersistedTransaction, error) {
	if limit <= 0 || limit > MaxRecentTransactions {
		limit = MaxRecentTransactions
	}
	key := txDomain.RecentTransactionsCacheKey(limit)

	if s.cache != nil {
		var cached []txDomain.PersistedTransaction
		if hit, _ := s.cache.Get(ctx, key, &cached); hit {
			return cached, nil
		}
	}

	var txs []txDomain.PersistedTransaction
	err := sharedUtils.Retry(ctx, 3, 100*time.Millisecond, txDomain.IsRetryable, func() error {
		var errRetry error
		txs, errRetry = s.repo.ListRecent(ctx, limit)
		return errRetry
	})
	if err != nil {
		logger.FromContext(ctx, s.log).Error("Failed to list transactions", zap.Error(err))
		return nil, err
	}
	if txs == nil {
		txs = []txDomain.PersistedTransaction{}
	}

	sharedCache.AsyncCacheSet(s.cache, key, txs, s.cacheTTL, s.log)
	return txs, nil
}

// GetByID busca una transacción, primero en caché.
func (s *QueryService) GetByID(ctx context.Context, id uuid.UUID) (*txDomain.PersistedTransaction, error) {
	key := txDomain.TransactionCacheKeyByID(id)

	if s.cache != nil {
		var cached txDomain.PersistedTransaction
		if hit, _ := s.cache.Get(ctx, key, &cached); hit {
			return &cached, nil
		}
	}

	var tx *txDomain.PersistedTransaction
	err := sharedUtils.Retry(ctx, 3, 100*time.Millisecond, txDomain.IsRetryable, func() error {
		var errRetry error
		tx, errRetry = s.repo.GetByID(ctx, id)
		return errRetry
	})
	if err != nil {
		log := logger.FromContext(ctx, s.log)
		if errors.Is(err, txDomain.ErrTransactionNotFound) {
			log.Warn("Transaction not found", zap.String("transactionId", id.String()))
		} else {
			log.Error("Failed to fetch transaction", zap.String("transactionId", id.String()), zap.Error(err))
		}
		return nil, err
	}

	sharedCache.AsyncCacheSet(s.cache, key, tx, s.cacheTTL, s.log)
	return tx, nil
}

func (s *QueryService) AnalyticsEnabled() bool { return s.analytics != nil }

// DailyVolume agrega los últimos days días (incluido hoy) desde la analítica.
func (s *QueryService) DailyVolume(ctx context.Context, days int, now time.Time) ([]txDomain.DailyVolume, error) {
	if s.analytics == nil {
		return nil, ErrAnalyticsDisabled
	}
	if days <= 0 {
		days = 7
	}
	end := now.UTC()
	start := time.Date(end.Year(), end.Month(), end.Day(), 0, 0, 0, 0, time.UTC).AddDate(0, 0, -(days - 1))

	stats, err := s.analytics.GetDailyVolume(ctx, start, end)
	if err != nil {
		logger.FromContext(ctx, s.log).Error("Failed to query daily volume", zap.Error(err))
		return nil, err
	}
	if stats == nil {
		stats = []txDomain.DailyVolume{}
	}
	return stats, nil
}
