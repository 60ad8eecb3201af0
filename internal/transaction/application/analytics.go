package application

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	txDomain "github.com/davicafu/txpipeline/internal/transaction/domain"
)

// AnalyticsBatcher acumula transacciones persistidas y las vuelca en lotes.
// Un fallo de la analítica se registra y se descarta; nunca frena el pipeline.
type AnalyticsBatcher struct {
	repo        txDomain.TransactionAnalyticsRepository
	batchSize   int
	flushPeriod time.Duration
	log         *zap.Logger

	in       chan txDomain.PersistedTransaction
	mu       sync.RWMutex
	closed   bool
	stopOnce sync.Once
	done     chan struct{}
}

func NewAnalyticsBatcher(repo txDomain.TransactionAnalyticsRepository, batchSize int, flushPeriod time.Duration, log *zap.Logger) *AnalyticsBatcher {
	if batchSize < 1 {
		batchSize = 1
	}
	if flushPeriod <= 0 {
		flushPeriod = 5 * time.Second
	}
	return &AnalyticsBatcher{
		repo:        repo,
		batchSize:   batchSize,
		flushPeriod: flushPeriod,
		log:         log,
		in:          make(chan txDomain.PersistedTransaction, batchSize*4),
		done:        make(chan struct{}),
	}
}

// Start lanza el bucle de volcado.
func (b *AnalyticsBatcher) Start() {
	go b.loop()
}

// Add encola sin bloquear; si el buffer está lleno el registro se pierde.
func (b *AnalyticsBatcher) Add(tx txDomain.PersistedTransaction) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	select {
	case b.in <- tx:
	default:
		b.log.Warn("⚠️ Analytics buffer full, dropping tx", zap.String("transactionId", tx.ID.String()))
	}
}

// Stop vacía lo pendiente y espera al último volcado (o a que ctx termine).
func (b *AnalyticsBatcher) Stop(ctx context.Context) error {
	b.stopOnce.Do(func() {
		b.mu.Lock()
		b.closed = true
		close(b.in)
		b.mu.Unlock()
	})
	select {
	case <-b.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *AnalyticsBatcher) loop() {
	defer close(b.done)
	ticker := time.NewTicker(b.flushPeriod)
	defer ticker.Stop()

	batch := make([]txDomain.PersistedTransaction, 0, b.batchSize)
	for {
		select {
		case tx, ok := <-b.in:
			if !ok {
				b.flush(batch)
				return
			}
			batch = append(batch, tx)
			if len(batch) >= b.batchSize {
				b.flush(batch)
				batch = make([]txDomain.PersistedTransaction, 0, b.batchSize)
			}
		case <-ticker.C:
			if len(batch) > 0 {
				b.flush(batch)
				batch = make([]txDomain.PersistedTransaction, 0, b.batchSize)
			}
		}
	}
}

func (b *AnalyticsBatcher) flush(batch []txDomain.PersistedTransaction) {
	if len(batch) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := b.repo.LogBatch(ctx, batch); err != nil {
		b.log.Error("❌ Analytics batch failed", zap.Int("size", len(batch)), zap.Error(err))
		return
	}
	b.log.Debug("Analytics batch written", zap.Int("size", len(batch)))
}
