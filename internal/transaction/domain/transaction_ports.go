package domain

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// --- Store de transacciones ---

// TransactionStore es el escritor idempotente: Save es un upsert por ID.
// Devuelve nil, un *RetryableStoreError o un *FatalError.
type TransactionStore interface {
	Save(ctx context.Context, e TransactionEvent) error
}

type TransactionReader interface {
	ListRecent(ctx context.Context, limit int) ([]PersistedTransaction, error)
	GetByID(ctx context.Context, id uuid.UUID) (*PersistedTransaction, error)
}

// TransactionRepository agrupa escritura, lectura y el bootstrap del esquema.
type TransactionRepository interface {
	TransactionStore
	TransactionReader
	InitSchema(ctx context.Context) error
	Close() error
}

// DTO para el volumen diario de la analítica.
type DailyVolume struct {
	Day         time.Time       `json:"day"`
	Type        TxType          `json:"type"`
	Count       uint64          `json:"count"`
	TotalAmount decimal.Decimal `json:"totalAmount"`
}

type TransactionAnalyticsRepository interface {
	LogBatch(ctx context.Context, txs []PersistedTransaction) error
	GetDailyVolume(ctx context.Context, start, end time.Time) ([]DailyVolume, error)
}

// ---------- Helpers comunes (cache keys, etc.) ----------

func TransactionCacheKeyByID(id uuid.UUID) string {
	return fmt.Sprintf("tx:id:%s", id.String())
}

func RecentTransactionsCacheKey(limit int) string {
	return fmt.Sprintf("tx:recent:%d", limit)
}
