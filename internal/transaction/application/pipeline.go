package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	sharedBus "github.com/davicafu/txpipeline/internal/shared/infra/platform/bus"
	"github.com/davicafu/txpipeline/internal/shared/infra/platform/metrics"
	txDomain "github.com/davicafu/txpipeline/internal/transaction/domain"
	"github.com/davicafu/txpipeline/pkg/logger"
)

// RetryPolicy: MaxAttempts es el total de intentos (no los reintentos extra).
type RetryPolicy struct {
	MaxAttempts int
	Backoff     time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, Backoff: time.Second}
}

type Outcome int

const (
	OutcomeUnresolved Outcome = iota
	OutcomeAcknowledged
	OutcomeDeadLettered
)

func (o Outcome) String() string {
	switch o {
	case OutcomeAcknowledged:
		return "acknowledged"
	case OutcomeDeadLettered:
		return "dead-lettered"
	default:
		return "unresolved"
	}
}

// Motivos con los que se etiqueta tx_dead_lettered_total.
const minDeadLetterBackoff = 10 * time.Millisecond

const (
	ReasonDecode    = "decode"
	ReasonFatal     = "fatal"
	ReasonExhausted = "exhausted"
)

// DeadLetterSink reenvía el registro original, sin tocar, a su tópico DLT.
type DeadLetterSink interface {
	DeadLetter(ctx context.Context, msg sharedBus.Message, cause error, attempts int) error
}

type PipelineOption func(*DeliveryPipeline)

// WithStoreTimeout acota cada intento de Save.
func WithStoreTimeout(d time.Duration) PipelineOption {
	return func(p *DeliveryPipeline) { p.storeTimeout = d }
}

// WithSavedObserver recibe cada transacción persistida (p. ej. la analítica).
func WithSavedObserver(fn func(txDomain.PersistedTransaction)) PipelineOption {
	return func(p *DeliveryPipeline) { p.onSaved = fn }
}

func WithTracer(t trace.Tracer) PipelineOption {
	return func(p *DeliveryPipeline) { p.tracer = t }
}

// DeliveryPipeline lleva cada registro consumido a un estado terminal:
// persistido (ack) o enviado al DLT.
type DeliveryPipeline struct {
	store        txDomain.TransactionStore
	dlt          DeadLetterSink
	policy       RetryPolicy
	storeTimeout time.Duration
	onSaved      func(txDomain.PersistedTransaction)
	metrics      *metrics.ConsumerMetrics
	tracer       trace.Tracer
	log          *zap.Logger
}

func NewDeliveryPipeline(store txDomain.TransactionStore, dlt DeadLetterSink, policy RetryPolicy, m *metrics.ConsumerMetrics, log *zap.Logger, opts ...PipelineOption) *DeliveryPipeline {
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}
	p := &DeliveryPipeline{
		store:   store,
		dlt:     dlt,
		policy:  policy,
		metrics: m,
		tracer:  otel.Tracer("txpipeline/delivery"),
		log:     log,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// HandleMessage cumple el contrato del ConsumerAdapter: nil significa
// que el offset puede confirmarse.
func (p *DeliveryPipeline) HandleMessage(ctx context.Context, msg sharedBus.Message) error {
	_, err := p.Process(ctx, msg)
	return err
}

// Process persiste el registro con reintentos o lo manda al DLT.
// Sólo devuelve error si ctx termina antes de alcanzar un estado terminal.
func (p *DeliveryPipeline) Process(ctx context.Context, msg sharedBus.Message) (Outcome, error) {
	p.metrics.Consumed.Inc()

	if cid, ok := msg.Header(logger.CorrelationHeader); ok {
		ctx = logger.WithCorrelationID(ctx, cid)
	}
	log := logger.FromContext(ctx, p.log).With(
		zap.String("topic", msg.Topic),
		zap.Int("partition", msg.Partition),
		zap.Int64("offset", msg.Offset),
	)

	ev, err := txDomain.DecodeTransactionEvent(msg.Value)
	if err != nil {
		log.Warn("⚠️ Undecodable tx record", zap.Error(err))
		return p.deadLetter(ctx, log, msg, err, 0, ReasonDecode)
	}
	log = log.With(zap.String("transactionId", ev.ID.String()))

	attempt := txDomain.DeliveryAttempt{EventID: ev.ID}
	for {
		attempt.Attempts++
		err := p.save(ctx, ev, attempt.Attempts)
		if err == nil {
			p.metrics.SavedOk.Inc()
			p.metrics.DeliveryAttempts.Observe(float64(attempt.Attempts))
			log.Debug("Tx saved", zap.Int("attempts", attempt.Attempts))
			if p.onSaved != nil {
				p.onSaved(ev.ToPersisted())
			}
			return OutcomeAcknowledged, nil
		}

		attempt.LastErr = err
		if txDomain.IsFatal(err) {
			// Un rechazo permanente no es un fallo transitorio: sólo cuenta en tx_dead_lettered_total{reason="fatal"}.
			log.Error("❌ Fatal error saving tx", zap.Error(err))
			p.metrics.DeliveryAttempts.Observe(float64(attempt.Attempts))
			return p.deadLetter(ctx, log, msg, err, attempt.Attempts, ReasonFatal)
		}
		p.metrics.SaveFail.Inc()

		if attempt.Attempts >= p.policy.MaxAttempts {
			log.Error("❌ Save retries exhausted", zap.Int("attempts", attempt.Attempts), zap.Error(err))
			p.metrics.DeliveryAttempts.Observe(float64(attempt.Attempts))
			return p.deadLetter(ctx, log, msg, err, attempt.Attempts, ReasonExhausted)
		}

		log.Warn("⚠️ Save failed, retrying",
			zap.Int("attempt", attempt.Attempts),
			zap.Duration("backoff", p.policy.Backoff),
			zap.Error(err),
		)
		if err := sleep(ctx, p.policy.Backoff); err != nil {
			return OutcomeUnresolved, fmt.Errorf("tx %s unresolved after %d attempts: %w", ev.ID, attempt.Attempts, err)
		}
	}
}

func (p *DeliveryPipeline) save(ctx context.Context, ev txDomain.TransactionEvent, attempt int) error {
	ctx, span := p.tracer.Start(ctx, "tx.save", trace.WithAttributes(
		attribute.String("tx.id", ev.ID.String()),
		attribute.Int("tx.attempt", attempt),
	))
	defer span.End()

	if p.storeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.storeTimeout)
		defer cancel()
	}

	start := time.Now()
	err := p.store.Save(ctx, ev)
	p.metrics.SaveLatency.Observe(time.Since(start).Seconds())

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "save failed")
	}
	return err
}

// deadLetter insiste con el mismo backoff hasta que el DLT acepta el registro
// o ctx termina; en ese caso el offset no debe confirmarse.
func (p *DeliveryPipeline) deadLetter(ctx context.Context, log *zap.Logger, msg sharedBus.Message, cause error, attempts int, reason string) (Outcome, error) {
	for {
		err := p.dlt.DeadLetter(ctx, msg, cause, attempts)
		if err == nil {
			p.metrics.DeadLettered.WithLabelValues(reason).Inc()
			log.Warn("📮 Tx record dead-lettered", zap.String("reason", reason), zap.Int("attempts", attempts))
			return OutcomeDeadLettered, nil
		}
		log.Error("❌ Dead-letter write failed", zap.Error(err))
		if werr := sleep(ctx, max(p.policy.Backoff, minDeadLetterBackoff)); werr != nil {
			return OutcomeUnresolved, errors.Join(fmt.Errorf("dead-letter write: %w", err), werr)
		}
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
