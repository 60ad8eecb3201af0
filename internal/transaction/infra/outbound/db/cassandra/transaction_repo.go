package cassandra

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"regexp"
	"sort"
	"time"

	"github.com/gocql/gocql"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gopkg.in/inf.v0"

	txDomain "github.com/davicafu/txpipeline/internal/transaction/domain"
)

var identifierRe = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]{0,47}$`)

type Config struct {
	Host              string
	Port              int
	LocalDC           string
	Keyspace          string
	ReplicationClass  string
	ReplicationFactor int
	Timeout           time.Duration
}

// TransactionRepoCassandra usa transaction_id como clave de partición:
// un INSERT sobre la misma clave es un upsert nativo.
type TransactionRepoCassandra struct {
	cfg     Config
	session *gocql.Session
}

var _ txDomain.TransactionRepository = (*TransactionRepoCassandra)(nil)

func newCluster(cfg Config) *gocql.ClusterConfig {
	cluster := gocql.NewCluster(cfg.Host)
	cluster.Port = cfg.Port
	cluster.Consistency = gocql.LocalQuorum
	cluster.PoolConfig.HostSelectionPolicy = gocql.TokenAwareHostPolicy(gocql.DCAwareRoundRobinPolicy(cfg.LocalDC))
	if cfg.Timeout > 0 {
		cluster.Timeout = cfg.Timeout
		cluster.ConnectTimeout = cfg.Timeout
	}
	return cluster
}

// NewTransactionRepoCassandra crea el keyspace si falta y abre la sesión sobre él.
func NewTransactionRepoCassandra(ctx context.Context, cfg Config) (*TransactionRepoCassandra, error) {
	if !identifierRe.MatchString(cfg.Keyspace) {
		return nil, fmt.Errorf("invalid keyspace %q", cfg.Keyspace)
	}
	if !identifierRe.MatchString(cfg.ReplicationClass) {
		return nil, fmt.Errorf("invalid replication class %q", cfg.ReplicationClass)
	}

	bootstrap, err := newCluster(cfg).CreateSession()
	if err != nil {
		return nil, fmt.Errorf("could not connect to cassandra: %w", err)
	}
	err = bootstrap.Query(keyspaceCQL(cfg)).WithContext(ctx).Exec()
	bootstrap.Close()
	if err != nil {
		return nil, fmt.Errorf("create keyspace %s: %w", cfg.Keyspace, err)
	}

	cluster := newCluster(cfg)
	cluster.Keyspace = cfg.Keyspace
	session, err := cluster.CreateSession()
	if err != nil {
		return nil, fmt.Errorf("could not open keyspace %s: %w", cfg.Keyspace, err)
	}
	return &TransactionRepoCassandra{cfg: cfg, session: session}, nil
}

func keyspaceCQL(cfg Config) string {
	return fmt.Sprintf(
		"CREATE KEYSPACE IF NOT EXISTS %s WITH replication = {'class':'%s','replication_factor':%d}",
		cfg.Keyspace, cfg.ReplicationClass, cfg.ReplicationFactor,
	)
}

func (r *TransactionRepoCassandra) InitSchema(ctx context.Context) error {
	return r.session.Query(`
		CREATE TABLE IF NOT EXISTS transactions (
			transaction_id uuid PRIMARY KEY,
			account_id     text,
			amount         decimal,
			currency       text,
			type           text,
			occurred_at    timestamp,
			description    text
		)`).WithContext(ctx).Exec()
}

func (r *TransactionRepoCassandra) Save(ctx context.Context, e txDomain.TransactionEvent) error {
	err := r.session.Query(
		`INSERT INTO transactions (transaction_id, account_id, amount, currency, type, occurred_at, description)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		gocql.UUID(e.ID), e.AccountID, toInfDec(e.Amount), e.Currency, string(e.Type), e.OccurredAt.UTC(), e.Description,
	).WithContext(ctx).Exec()
	if err != nil {
		return classifyError("save", err)
	}
	return nil
}

// ListRecent lee como mucho limit filas y las ordena por fecha. Sin clave de
// partición Cassandra no garantiza qué filas devuelve.
func (r *TransactionRepoCassandra) ListRecent(ctx context.Context, limit int) ([]txDomain.PersistedTransaction, error) {
	iter := r.session.Query(
		`SELECT transaction_id, account_id, amount, currency, type, occurred_at, description FROM transactions LIMIT ?`,
		limit,
	).WithContext(ctx).Iter()

	txs := make([]txDomain.PersistedTransaction, 0, limit)
	var row cassandraRow
	for iter.Scan(row.dest()...) {
		txs = append(txs, row.toDomain())
		row = cassandraRow{}
	}
	if err := iter.Close(); err != nil {
		return nil, classifyError("list", err)
	}
	sort.Slice(txs, func(i, j int) bool { return txs[i].OccurredAt.After(txs[j].OccurredAt) })
	return txs, nil
}

func (r *TransactionRepoCassandra) GetByID(ctx context.Context, id uuid.UUID) (*txDomain.PersistedTransaction, error) {
	var row cassandraRow
	err := r.session.Query(
		`SELECT transaction_id, account_id, amount, currency, type, occurred_at, description FROM transactions WHERE transaction_id = ?`,
		gocql.UUID(id),
	).WithContext(ctx).Scan(row.dest()...)
	if errors.Is(err, gocql.ErrNotFound) {
		return nil, txDomain.ErrTransactionNotFound
	}
	if err != nil {
		return nil, classifyError("get", err)
	}
	tx := row.toDomain()
	return &tx, nil
}

func (r *TransactionRepoCassandra) Close() error {
	r.session.Close()
	return nil
}

type cassandraRow struct {
	id          gocql.UUID
	accountID   string
	amount      inf.Dec
	currency    string
	txType      string
	occurredAt  time.Time
	description string
}

func (c *cassandraRow) dest() []any {
	return []any{&c.id, &c.accountID, &c.amount, &c.currency, &c.txType, &c.occurredAt, &c.description}
}

func (c *cassandraRow) toDomain() txDomain.PersistedTransaction {
	return txDomain.PersistedTransaction{
		ID:          uuid.UUID(c.id),
		AccountID:   c.accountID,
		Amount:      fromInfDec(&c.amount),
		Currency:    c.currency,
		Type:        txDomain.TxType(c.txType),
		OccurredAt:  c.occurredAt.UTC(),
		Description: c.description,
	}
}

// inf.Dec guarda unscaled * 10^-scale; decimal.Decimal, coef * 10^exp.
func toInfDec(d decimal.Decimal) *inf.Dec {
	return inf.NewDecBig(new(big.Int).Set(d.Coefficient()), inf.Scale(-d.Exponent()))
}

func fromInfDec(d *inf.Dec) decimal.Decimal {
	if d == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(d.UnscaledBig(), -int32(d.Scale()))
}

func classifyError(op string, err error) error {
	var reqErr gocql.RequestError
	if errors.As(err, &reqErr) {
		switch reqErr.Code() {
		case gocql.ErrCodeUnavailable, gocql.ErrCodeOverloaded, gocql.ErrCodeBootstrapping,
			gocql.ErrCodeTruncate, gocql.ErrCodeWriteTimeout, gocql.ErrCodeReadTimeout, gocql.ErrCodeServer:
			return txDomain.Retryable(op, err)
		case gocql.ErrCodeSyntax, gocql.ErrCodeInvalid, gocql.ErrCodeUnauthorized, gocql.ErrCodeConfig,
			gocql.ErrCodeCredentials:
			return txDomain.Fatal("cassandra "+op+" rejected", err)
		}
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled),
		errors.Is(err, gocql.ErrNoConnections),
		errors.Is(err, gocql.ErrConnectionClosed),
		errors.Is(err, gocql.ErrTimeoutNoResponse),
		errors.Is(err, gocql.ErrSessionClosed):
		return txDomain.Retryable(op, err)
	}
	return fmt.Errorf("cassandra %s: %w", op, err)
}
