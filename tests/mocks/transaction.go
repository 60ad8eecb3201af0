package mocks

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"

	txDomain "github.com/davicafu/txpipeline/internal/transaction/domain"
)

// InMemoryTransactionRepo simula TransactionRepository con semántica de upsert.
type InMemoryTransactionRepo struct {
	mu    sync.Mutex
	Rows  map[uuid.UUID]txDomain.PersistedTransaction
	Saves int
	// Order registra el orden de llegada de cada Save.
	Order []uuid.UUID
	// ReadErr, si no es nil, se devuelve en las lecturas.
	ReadErr error
}

var _ txDomain.TransactionRepository = (*InMemoryTransactionRepo)(nil)

func NewInMemoryTransactionRepo() *InMemoryTransactionRepo {
	return &InMemoryTransactionRepo{Rows: make(map[uuid.UUID]txDomain.PersistedTransaction)}
}

func (r *InMemoryTransactionRepo) Save(ctx context.Context, e txDomain.TransactionEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Saves++
	r.Order = append(r.Order, e.ID)
	r.Rows[e.ID] = e.ToPersisted()
	return nil
}

func (r *InMemoryTransactionRepo) ListRecent(ctx context.Context, limit int) ([]txDomain.PersistedTransaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ReadErr != nil {
		return nil, r.ReadErr
	}
	out := make([]txDomain.PersistedTransaction, 0, len(r.Rows))
	for _, row := range r.Rows {
		out = append(out, row)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OccurredAt.After(out[j].OccurredAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *InMemoryTransactionRepo) GetByID(ctx context.Context, id uuid.UUID) (*txDomain.PersistedTransaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ReadErr != nil {
		return nil, r.ReadErr
	}
	row, ok := r.Rows[id]
	if !ok {
		return nil, txDomain.ErrTransactionNotFound
	}
	return &row, nil
}

func (r *InMemoryTransactionRepo) InitSchema(ctx context.Context) error { return nil }
func (r *InMemoryTransactionRepo) Close() error                        { return nil }

// Len devuelve el número de filas distintas.
func (r *InMemoryTransactionRepo) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.Rows)
}

// SaveOrder devuelve una copia del orden de llegada.
func (r *InMemoryTransactionRepo) SaveOrder() []uuid.UUID {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]uuid.UUID(nil), r.Order...)
}

// ScriptedStore devuelve los errores de Script en orden y después delega en Next.
type ScriptedStore struct {
	mu       sync.Mutex
	Script   []error
	Next     txDomain.TransactionStore
	Calls    int
	Deadline []bool
}

func (s *ScriptedStore) Save(ctx context.Context, e txDomain.TransactionEvent) error {
	s.mu.Lock()
	_, hasDeadline := ctx.Deadline()
	s.Deadline = append(s.Deadline, hasDeadline)
	i := s.Calls
	s.Calls++
	s.mu.Unlock()

	if i < len(s.Script) {
		return s.Script[i]
	}
	if s.Next != nil {
		return s.Next.Save(ctx, e)
	}
	return nil
}

func (s *ScriptedStore) CallCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Calls
}

// BlockingStore espera a que se cierre Release (o a que se cancele ctx) antes de guardar.
type BlockingStore struct {
	Started chan struct{}
	Release chan struct{}
	Next    txDomain.TransactionStore
	once    sync.Once
}

func NewBlockingStore(next txDomain.TransactionStore) *BlockingStore {
	return &BlockingStore{Started: make(chan struct{}), Release: make(chan struct{}), Next: next}
}

func (s *BlockingStore) Save(ctx context.Context, e txDomain.TransactionEvent) error {
	s.once.Do(func() { close(s.Started) })
	select {
	case <-s.Release:
		return s.Next.Save(ctx, e)
	case <-ctx.Done():
		return txDomain.Retryable("save", ctx.Err())
	}
}

// MockAnalyticsRepo simula el repositorio analítico.
type MockAnalyticsRepo struct {
	mock.Mock
}

func (m *MockAnalyticsRepo) LogBatch(ctx context.Context, txs []txDomain.PersistedTransaction) error {
	args := m.Called(ctx, txs)
	return args.Error(0)
}

func (m *MockAnalyticsRepo) GetDailyVolume(ctx context.Context, start, end time.Time) ([]txDomain.DailyVolume, error) {
	args := m.Called(ctx, start, end)
	return args.Get(0).([]txDomain.DailyVolume), args.Error(1)
}
