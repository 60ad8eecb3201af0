package clickhouse

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"

	txDomain "github.com/davicafu/txpipeline/internal/transaction/domain"
)

// TransactionAnalyticsRepo implementa TransactionAnalyticsRepository sobre ClickHouse.
type TransactionAnalyticsRepo struct {
	db *sql.DB
}

var _ txDomain.TransactionAnalyticsRepository = (*TransactionAnalyticsRepo)(nil)

func NewTransactionAnalyticsRepo(addr string, dbName string) (*TransactionAnalyticsRepo, error) {
	conn := clickhouse.OpenDB(&clickhouse.Options{
		Addr: []string{addr},
		Auth: clickhouse.Auth{
			Database: dbName,
		},
		Settings: clickhouse.Settings{
			"max_execution_time": 60,
		},
	})

	if err := conn.Ping(); err != nil {
		return nil, fmt.Errorf("could not ping clickhouse: %w", err)
	}

	return &TransactionAnalyticsRepo{db: conn}, nil
}

// LogBatch inserta el lote en una sola transacción; si una fila falla se descarta todo.
func (r *TransactionAnalyticsRepo) LogBatch(ctx context.Context, txs []txDomain.PersistedTransaction) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	stmt, err := tx.PrepareContext(ctx, "INSERT INTO transactions_log (transaction_id, account_id, amount, currency, type, occurred_at, event_time)")
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()

	eventTime := time.Now().UTC()
	for _, t := range txs {
		if _, err := stmt.ExecContext(ctx,
			t.ID,
			t.AccountID,
			t.Amount,
			t.Currency,
			string(t.Type),
			t.OccurredAt,
			eventTime,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to exec statement for transaction %s: %w", t.ID, err)
		}
	}

	return tx.Commit()
}

// GetDailyVolume agrega número e importe por día y tipo. ReplacingMergeTree
// deduplica en segundo plano, de ahí el FINAL.
func (r *TransactionAnalyticsRepo) GetDailyVolume(ctx context.Context, start, end time.Time) ([]txDomain.DailyVolume, error) {
	query := `
		SELECT
			toStartOfDay(occurred_at) AS day,
			type,
			count() AS total,
			sum(amount) AS volume
		FROM transactions_log FINAL
		WHERE occurred_at BETWEEN ? AND ?
		GROUP BY day, type
		ORDER BY day, type
	`
	rows, err := r.db.QueryContext(ctx, query, start, end)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var stats []txDomain.DailyVolume
	for rows.Next() {
		var (
			v      txDomain.DailyVolume
			txType string
		)
		if err := rows.Scan(&v.Day, &txType, &v.Count, &v.TotalAmount); err != nil {
			return nil, err
		}
		v.Type = txDomain.TxType(txType)
		v.Day = v.Day.UTC()
		stats = append(stats, v)
	}
	return stats, rows.Err()
}

// InitSchema crea la tabla si no existe. La clave de ordenación incluye el
// ID para que una redelivery no duplique importes.
func (r *TransactionAnalyticsRepo) InitSchema(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS transactions_log (
			transaction_id UUID,
			account_id     String,
			amount         Decimal(18, 4),
			currency       LowCardinality(String),
			type           LowCardinality(String),
			occurred_at    DateTime64(3),
			event_time     DateTime64(3)
		) ENGINE = ReplacingMergeTree(event_time)
		PARTITION BY toYYYYMM(occurred_at)
		ORDER BY (type, toStartOfDay(occurred_at), transaction_id);
	`
	_, err := r.db.ExecContext(ctx, query)
	return err
}

func (r *TransactionAnalyticsRepo) Close() error {
	return r.db.Close()
}
