package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	txDomain "github.com/davicafu/txpipeline/internal/transaction/domain"
)

// Ancho fijo y UTC: el orden lexicográfico coincide con el cronológico.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

type TransactionRepoSQLite struct {
	db *sql.DB
}

var _ txDomain.TransactionRepository = (*TransactionRepoSQLite)(nil)

// OpenSQLite abre la base con una única conexión, así las escrituras se
// serializan en el pool en lugar de chocar con SQLITE_BUSY.
func OpenSQLite(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	return db, nil
}

func NewTransactionRepoSQLite(db *sql.DB) *TransactionRepoSQLite {
	return &TransactionRepoSQLite{db: db}
}

func (r *TransactionRepoSQLite) InitSchema(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS transactions (
			transaction_id TEXT PRIMARY KEY,
			account_id     TEXT NOT NULL,
			amount         TEXT NOT NULL,
			currency       TEXT NOT NULL,
			type           TEXT NOT NULL,
			occurred_at    TEXT NOT NULL,
			description    TEXT
		);
		CREATE INDEX IF NOT EXISTS idx_transactions_occurred_at ON transactions(occurred_at);
	`)
	return err
}

// Save es un upsert por transaction_id: repetirlo deja una sola fila.
func (r *TransactionRepoSQLite) Save(ctx context.Context, e txDomain.TransactionEvent) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO transactions (transaction_id, account_id, amount, currency, type, occurred_at, description)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(transaction_id) DO UPDATE SET
			account_id = excluded.account_id,
			amount = excluded.amount,
			currency = excluded.currency,
			type = excluded.type,
			occurred_at = excluded.occurred_at,
			description = excluded.description`,
		e.ID.String(), e.AccountID, e.Amount.String(), e.Currency, string(e.Type),
		e.OccurredAt.UTC().Format(timeLayout), e.Description,
	)
	if err != nil {
		return classifyError("save", err)
	}
	return nil
}

func (r *TransactionRepoSQLite) ListRecent(ctx context.Context, limit int) ([]txDomain.PersistedTransaction, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT transaction_id, account_id, amount, currency, type, occurred_at, description
		 FROM transactions ORDER BY occurred_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, classifyError("list", err)
	}
	defer rows.Close()

	txs := make([]txDomain.PersistedTransaction, 0, limit)
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		txs = append(txs, tx)
	}
	return txs, rows.Err()
}

func (r *TransactionRepoSQLite) GetByID(ctx context.Context, id uuid.UUID) (*txDomain.PersistedTransaction, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT transaction_id, account_id, amount, currency, type, occurred_at, description
		 FROM transactions WHERE transaction_id = ?`, id.String())
	tx, err := scanTransaction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, txDomain.ErrTransactionNotFound
	}
	if err != nil {
		return nil, classifyError("get", err)
	}
	return &tx, nil
}

func (r *TransactionRepoSQLite) Close() error {
	return r.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTransaction(s scanner) (txDomain.PersistedTransaction, error) {
	var (
		tx                   txDomain.PersistedTransaction
		id, amount, occurred string
		txType               string
		description          sql.NullString
	)
	if err := s.Scan(&id, &tx.AccountID, &amount, &tx.Currency, &txType, &occurred, &description); err != nil {
		return tx, err
	}
	var err error
	if tx.ID, err = uuid.Parse(id); err != nil {
		return tx, fmt.Errorf("corrupt transaction_id %q: %w", id, err)
	}
	if tx.Amount, err = decimal.NewFromString(amount); err != nil {
		return tx, fmt.Errorf("corrupt amount for %s: %w", id, err)
	}
	if tx.OccurredAt, err = time.Parse(timeLayout, occurred); err != nil {
		return tx, fmt.Errorf("corrupt occurred_at for %s: %w", id, err)
	}
	tx.Type = txDomain.TxType(txType)
	tx.Description = description.String
	return tx, nil
}

// classifyError: bloqueos y E/S son transitorios; restricciones y tipos, permanentes.
func classifyError(op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return txDomain.Retryable(op, err)
	}
	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() & 0xff {
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED, sqlite3.SQLITE_IOERR, sqlite3.SQLITE_FULL, sqlite3.SQLITE_CANTOPEN:
			return txDomain.Retryable(op, err)
		case sqlite3.SQLITE_CONSTRAINT, sqlite3.SQLITE_MISMATCH, sqlite3.SQLITE_TOOBIG, sqlite3.SQLITE_READONLY:
			return txDomain.Fatal("sqlite "+op+" rejected", err)
		}
	}
	return fmt.Errorf("sqlite %s: %w", op, err)
}
