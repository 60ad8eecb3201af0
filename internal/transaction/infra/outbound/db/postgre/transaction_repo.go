package postgres

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib" // Driver de PostgreSQL

	txDomain "github.com/davicafu/txpipeline/internal/transaction/domain"
)

var schemaRe = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]{0,47}$`)

// TransactionRepoPostgres guarda las transacciones en <schema>.transactions.
type TransactionRepoPostgres struct {
	db     *sql.DB
	schema string
}

var _ txDomain.TransactionRepository = (*TransactionRepoPostgres)(nil)

// OpenPostgres abre el pool con el driver pgx y comprueba la conexión.
func OpenPostgres(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("could not ping postgres: %w", err)
	}
	return db, nil
}

func NewTransactionRepoPostgres(db *sql.DB, schema string) (*TransactionRepoPostgres, error) {
	if !schemaRe.MatchString(schema) {
		return nil, fmt.Errorf("invalid schema name %q", schema)
	}
	return &TransactionRepoPostgres{db: db, schema: schema}, nil
}

func (r *TransactionRepoPostgres) table() string {
	return r.schema + ".transactions"
}

// InitSchema crea el esquema y la tabla si no existen.
func (r *TransactionRepoPostgres) InitSchema(ctx context.Context) error {
	stmts := []string{
		fmt.Sprintf(`CREATE SCHEMA IF NOT EXISTS %s`, r.schema),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			transaction_id UUID PRIMARY KEY,
			account_id     TEXT NOT NULL,
			amount         NUMERIC NOT NULL,
			currency       CHAR(3) NOT NULL,
			type           TEXT NOT NULL,
			occurred_at    TIMESTAMPTZ NOT NULL,
			description    TEXT
		)`, r.table()),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_transactions_occurred_at ON %s (occurred_at DESC)`, r.schema, r.table()),
	}
	for _, stmt := range stmts {
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}

// Save es un upsert por transaction_id en una única sentencia.
func (r *TransactionRepoPostgres) Save(ctx context.Context, e txDomain.TransactionEvent) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO `+r.table()+` (transaction_id, account_id, amount, currency, type, occurred_at, description)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (transaction_id) DO UPDATE SET
			account_id = EXCLUDED.account_id,
			amount = EXCLUDED.amount,
			currency = EXCLUDED.currency,
			type = EXCLUDED.type,
			occurred_at = EXCLUDED.occurred_at,
			description = EXCLUDED.description`,
		e.ID, e.AccountID, e.Amount, e.Currency, string(e.Type), e.OccurredAt.UTC(), e.Description,
	)
	if err != nil {
		return classifyError("save", err)
	}
	return nil
}

func (r *TransactionRepoPostgres) ListRecent(ctx context.Context, limit int) ([]txDomain.PersistedTransaction, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT transaction_id, account_id, amount, currency, type, occurred_at, COALESCE(description, '')
		 FROM `+r.table()+` ORDER BY occurred_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, classifyError("list", err)
	}
	defer rows.Close()

	txs := make([]txDomain.PersistedTransaction, 0, limit)
	for rows.Next() {
		var tx txDomain.PersistedTransaction
		if err := rows.Scan(&tx.ID, &tx.AccountID, &tx.Amount, &tx.Currency, &tx.Type, &tx.OccurredAt, &tx.Description); err != nil {
			return nil, err
		}
		tx.OccurredAt = tx.OccurredAt.UTC()
		txs = append(txs, tx)
	}
	return txs, rows.Err()
}

func (r *TransactionRepoPostgres) GetByID(ctx context.Context, id uuid.UUID) (*txDomain.PersistedTransaction, error) {
	var tx txDomain.PersistedTransaction
	err := r.db.QueryRowContext(ctx,
		`SELECT transaction_id, account_id, amount, currency, type, occurred_at, COALESCE(description, '')
		 FROM `+r.table()+` WHERE transaction_id = $1`, id,
	).Scan(&tx.ID, &tx.AccountID, &tx.Amount, &tx.Currency, &tx.Type, &tx.OccurredAt, &tx.Description)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, txDomain.ErrTransactionNotFound
	}
	if err != nil {
		return nil, classifyError("get", err)
	}
	tx.OccurredAt = tx.OccurredAt.UTC()
	return &tx, nil
}

func (r *TransactionRepoPostgres) Close() error {
	return r.db.Close()
}

// classifyError separa lo transitorio (conexión, recursos, serialización)
// de lo permanente (datos inválidos, restricciones).
func classifyError(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case strings.HasPrefix(pgErr.Code, "08"), // connection exception
			strings.HasPrefix(pgErr.Code, "53"), // insufficient resources
			pgErr.Code == "57P01",               // admin shutdown
			pgErr.Code == "57P03",               // cannot connect now
			pgErr.Code == "40001",               // serialization failure
			pgErr.Code == "40P01":               // deadlock detected
			return txDomain.Retryable(op, err)
		case strings.HasPrefix(pgErr.Code, "22"), // data exception
			strings.HasPrefix(pgErr.Code, "23"), // integrity constraint
			strings.HasPrefix(pgErr.Code, "42"): // syntax / undefined object
			return txDomain.Fatal("postgres "+op+" rejected", err)
		}
	}

	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled),
		errors.Is(err, driver.ErrBadConn),
		pgconn.Timeout(err),
		pgconn.SafeToRetry(err),
		errors.As(err, &netErr):
		return txDomain.Retryable(op, err)
	}
	return fmt.Errorf("postgres %s: %w", op, err)
}
