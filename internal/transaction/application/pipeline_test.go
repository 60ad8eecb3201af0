package application

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	sharedBus "github.com/davicafu/txpipeline/internal/shared/infra/platform/bus"
	"github.com/davicafu/txpipeline/internal/shared/infra/platform/metrics"
	txDomain "github.com/davicafu/txpipeline/internal/transaction/domain"
	"github.com/davicafu/txpipeline/pkg/logger"
	"github.com/davicafu/txpipeline/tests/mocks"
)

var fastPolicy = RetryPolicy{MaxAttempts: 3, Backoff: time.Millisecond}

func newTestPipeline(store txDomain.TransactionStore, sink DeadLetterSink, log *zap.Logger, opts ...PipelineOption) (*DeliveryPipeline, *metrics.ConsumerMetrics) {
	m := metrics.NewConsumerMetrics(prometheus.NewRegistry())
	return NewDeliveryPipeline(store, sink, fastPolicy, m, log, opts...), m
}

func unavailable() error {
	return txDomain.Retryable("save", errors.New("unavailable"))
}

func TestProcess_SavesOnFirstAttempt(t *testing.T) {
	// Arrange
	repo := mocks.NewInMemoryTransactionRepo()
	sink := &mocks.RecordingDeadLetterSink{}
	p, m := newTestPipeline(repo, sink, zap.NewNop())
	ev := sampleEvent()

	// Act
	outcome, err := p.Process(context.Background(), recordFor(t, ev, 0, 0))

	// Assert
	require.NoError(t, err)
	assert.Equal(t, OutcomeAcknowledged, outcome)
	row, err := repo.GetByID(context.Background(), ev.ID)
	require.NoError(t, err)
	assert.Equal(t, "12.34", row.Amount.String())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Consumed))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SavedOk))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.SaveFail))
	assert.Empty(t, sink.Accepted())
}

func TestProcess_RecoversFromTransientFailures(t *testing.T) {
	// Arrange
	repo := mocks.NewInMemoryTransactionRepo()
	store := &mocks.ScriptedStore{Script: []error{unavailable(), unavailable()}, Next: repo}
	sink := &mocks.RecordingDeadLetterSink{}
	p, m := newTestPipeline(store, sink, zap.NewNop())

	// Act
	outcome, err := p.Process(context.Background(), recordFor(t, sampleEvent(), 0, 0))

	// Assert
	require.NoError(t, err)
	assert.Equal(t, OutcomeAcknowledged, outcome)
	assert.Equal(t, 3, store.CallCount())
	assert.Equal(t, 1, repo.Len())
	assert.Equal(t, 2.0, testutil.ToFloat64(m.SaveFail))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SavedOk))
}

func TestProcess_RetryExhaustionDeadLettersAndCommits(t *testing.T) {
	// Arrange
	store := &mocks.ScriptedStore{Script: []error{unavailable(), unavailable(), unavailable(), unavailable()}}
	sink := &mocks.RecordingDeadLetterSink{}
	p, m := newTestPipeline(store, sink, zap.NewNop())
	ev := sampleEvent()
	record := recordFor(t, ev, 2, 41)

	// Act
	err := p.HandleMessage(context.Background(), record)

	// Assert
	require.NoError(t, err, "a dead-lettered record must be committable")
	assert.Equal(t, 3, store.CallCount())
	accepted := sink.Accepted()
	require.Len(t, accepted, 1)
	assert.Equal(t, record, accepted[0].Msg)
	assert.Equal(t, 3, accepted[0].Attempts)
	assert.True(t, txDomain.IsRetryable(accepted[0].Cause))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Consumed))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.SavedOk))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.SaveFail))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DeadLettered.WithLabelValues(ReasonExhausted)))
}

func TestProcess_UnclassifiedErrorsAreRetried(t *testing.T) {
	// Arrange
	repo := mocks.NewInMemoryTransactionRepo()
	store := &mocks.ScriptedStore{Script: []error{errors.New("boom")}, Next: repo}
	p, _ := newTestPipeline(store, &mocks.RecordingDeadLetterSink{}, zap.NewNop())

	// Act
	outcome, err := p.Process(context.Background(), recordFor(t, sampleEvent(), 0, 0))

	// Assert
	require.NoError(t, err)
	assert.Equal(t, OutcomeAcknowledged, outcome)
	assert.Equal(t, 2, store.CallCount())
}

func TestProcess_FatalErrorShortCircuits(t *testing.T) {
	// Arrange
	store := &mocks.ScriptedStore{Script: []error{txDomain.Fatal("constraint", errors.New("value too long"))}}
	sink := &mocks.RecordingDeadLetterSink{}
	p, m := newTestPipeline(store, sink, zap.NewNop())

	// Act
	outcome, err := p.Process(context.Background(), recordFor(t, sampleEvent(), 0, 0))

	// Assert
	require.NoError(t, err)
	assert.Equal(t, OutcomeDeadLettered, outcome)
	assert.Equal(t, 1, store.CallCount())
	require.Len(t, sink.Accepted(), 1)
	assert.Equal(t, 1, sink.Accepted()[0].Attempts)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.SaveFail), "a permanent rejection is not a transient failure")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DeadLettered.WithLabelValues(ReasonFatal)))
}

func TestProcess_MalformedPayloadIsDeadLetteredWithoutSaving(t *testing.T) {
	// Arrange
	store := &mocks.ScriptedStore{}
	sink := &mocks.RecordingDeadLetterSink{}
	p, m := newTestPipeline(store, sink, zap.NewNop())
	record := sharedBus.Message{Topic: txDomain.TransactionTopic, Key: []byte("k"), Value: []byte("{not json")}

	// Act
	outcome, err := p.Process(context.Background(), record)

	// Assert
	require.NoError(t, err)
	assert.Equal(t, OutcomeDeadLettered, outcome)
	assert.Equal(t, 0, store.CallCount())
	require.Len(t, sink.Accepted(), 1)
	assert.Equal(t, 0, sink.Accepted()[0].Attempts)
	assert.True(t, txDomain.IsFatal(sink.Accepted()[0].Cause))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.SaveFail))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DeadLettered.WithLabelValues(ReasonDecode)))
}

func TestProcess_DeadLetterWriteIsRetriedUntilAccepted(t *testing.T) {
	// Arrange
	store := &mocks.ScriptedStore{Script: []error{txDomain.Fatal("bad", nil)}}
	sink := &mocks.RecordingDeadLetterSink{Fail: func(call int) error {
		if call < 2 {
			return errors.New("dlt unavailable")
		}
		return nil
	}}
	p, _ := newTestPipeline(store, sink, zap.NewNop())

	// Act
	outcome, err := p.Process(context.Background(), recordFor(t, sampleEvent(), 0, 0))

	// Assert
	require.NoError(t, err)
	assert.Equal(t, OutcomeDeadLettered, outcome)
	assert.Equal(t, 3, sink.Calls())
	assert.Len(t, sink.Accepted(), 1)
}

func TestProcess_DeadLetterFailureAtHardStopLeavesRecordUncommitted(t *testing.T) {
	// Arrange
	store := &mocks.ScriptedStore{Script: []error{txDomain.Fatal("bad", nil)}}
	sink := &mocks.RecordingDeadLetterSink{Fail: func(int) error { return errors.New("dlt unavailable") }}
	p, m := newTestPipeline(store, sink, zap.NewNop())
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	// Act
	outcome, err := p.Process(ctx, recordFor(t, sampleEvent(), 0, 0))

	// Assert
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, OutcomeUnresolved, outcome)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.DeadLettered.WithLabelValues(ReasonFatal)))
}

func TestProcess_CancelledDuringBackoffIsUnresolved(t *testing.T) {
	// Arrange
	store := &mocks.ScriptedStore{Script: []error{unavailable(), unavailable(), unavailable()}}
	sink := &mocks.RecordingDeadLetterSink{}
	m := metrics.NewConsumerMetrics(prometheus.NewRegistry())
	p := NewDeliveryPipeline(store, sink, RetryPolicy{MaxAttempts: 3, Backoff: time.Hour}, m, zap.NewNop())
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	// Act
	outcome, err := p.Process(ctx, recordFor(t, sampleEvent(), 0, 0))

	// Assert
	assert.Error(t, err)
	assert.Equal(t, OutcomeUnresolved, outcome)
	assert.Equal(t, 1, store.CallCount())
	assert.Empty(t, sink.Accepted())
}

func TestProcess_AppliesStoreTimeoutPerAttempt(t *testing.T) {
	// Arrange
	store := &mocks.ScriptedStore{Script: []error{unavailable()}}
	p, _ := newTestPipeline(store, &mocks.RecordingDeadLetterSink{}, zap.NewNop(), WithStoreTimeout(time.Second))

	// Act
	_, err := p.Process(context.Background(), recordFor(t, sampleEvent(), 0, 0))

	// Assert
	require.NoError(t, err)
	assert.Equal(t, []bool{true, true}, store.Deadline)
}

func TestProcess_IsIdempotentOnRedelivery(t *testing.T) {
	// Arrange
	repo := mocks.NewInMemoryTransactionRepo()
	p, m := newTestPipeline(repo, &mocks.RecordingDeadLetterSink{}, zap.NewNop())
	record := recordFor(t, sampleEvent(), 0, 7)

	// Act
	_, err1 := p.Process(context.Background(), record)
	_, err2 := p.Process(context.Background(), record)

	// Assert
	require.NoError(t, err1)
	require.NoError(t, err2)
	assert.Equal(t, 1, repo.Len())
	assert.Equal(t, 2.0, testutil.ToFloat64(m.SavedOk))
}

func TestProcess_LogsCarryRecordCorrelationID(t *testing.T) {
	// Arrange
	core, logs := observer.New(zapcore.WarnLevel)
	store := &mocks.ScriptedStore{Script: []error{unavailable()}, Next: mocks.NewInMemoryTransactionRepo()}
	p, _ := newTestPipeline(store, &mocks.RecordingDeadLetterSink{}, zap.New(core))
	record := recordFor(t, sampleEvent(), 0, 0)
	record.Headers = []sharedBus.Header{{Key: logger.CorrelationHeader, Value: []byte("cid-42")}}

	// Act
	_, err := p.Process(context.Background(), record)

	// Assert
	require.NoError(t, err)
	entries := logs.FilterField(zap.String(logger.CorrelationField, "cid-42")).All()
	assert.Len(t, entries, 1, "the retry warning carries the correlation id")
}

func TestProcess_NotifiesSavedObserver(t *testing.T) {
	// Arrange
	var saved []txDomain.PersistedTransaction
	p, _ := newTestPipeline(mocks.NewInMemoryTransactionRepo(), &mocks.RecordingDeadLetterSink{}, zap.NewNop(),
		WithSavedObserver(func(tx txDomain.PersistedTransaction) { saved = append(saved, tx) }))
	ev := sampleEvent()

	// Act
	_, err := p.Process(context.Background(), recordFor(t, ev, 0, 0))

	// Assert
	require.NoError(t, err)
	require.Len(t, saved, 1)
	assert.Equal(t, ev.ID, saved[0].ID)
}

func TestProcess_MetricsAreConserved(t *testing.T) {
	// Arrange
	repo := mocks.NewInMemoryTransactionRepo()
	store := &mocks.ScriptedStore{
		Script: []error{nil, unavailable(), nil, txDomain.Fatal("bad", nil), unavailable(), unavailable(), unavailable()},
		Next:   repo,
	}
	sink := &mocks.RecordingDeadLetterSink{}
	p, m := newTestPipeline(store, sink, zap.NewNop())
	records := []sharedBus.Message{
		recordFor(t, sampleEvent(), 0, 0),
		recordFor(t, sampleEvent(), 0, 1),
		recordFor(t, sampleEvent(), 0, 2),
		recordFor(t, sampleEvent(), 0, 3),
		{Topic: txDomain.TransactionTopic, Value: []byte("garbage")},
	}

	// Act
	for _, r := range records {
		_, err := p.Process(context.Background(), r)
		require.NoError(t, err)
	}

	// Assert
	consumed := testutil.ToFloat64(m.Consumed)
	saved := testutil.ToFloat64(m.SavedOk)
	dead := testutil.ToFloat64(m.DeadLettered.WithLabelValues(ReasonDecode)) +
		testutil.ToFloat64(m.DeadLettered.WithLabelValues(ReasonFatal)) +
		testutil.ToFloat64(m.DeadLettered.WithLabelValues(ReasonExhausted))
	assert.Equal(t, 5.0, consumed)
	assert.Equal(t, consumed, saved+dead)
	assert.Equal(t, 2.0, saved)
	assert.Equal(t, 4.0, testutil.ToFloat64(m.SaveFail), "one per transient failed attempt")
}
