package application

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	sharedBus "github.com/davicafu/txpipeline/internal/shared/infra/platform/bus"
	"github.com/davicafu/txpipeline/internal/shared/infra/platform/metrics"
	txDomain "github.com/davicafu/txpipeline/internal/transaction/domain"
	"github.com/davicafu/txpipeline/pkg/logger"
)

// PublishResult es el resultado asíncrono de una publicación.
// Se resuelve una sola vez, con el ack del broker o con un *BrokerSendError.
type PublishResult struct {
	done chan struct{}
	once sync.Once
	err  error
}

func newPublishResult() *PublishResult {
	return &PublishResult{done: make(chan struct{})}
}

func (r *PublishResult) resolve(err error) {
	r.once.Do(func() {
		r.err = err
		close(r.done)
	})
}

// Done se cierra cuando el broker confirma o rechaza el envío.
func (r *PublishResult) Done() <-chan struct{} { return r.done }

// Err devuelve el resultado; sólo es definitivo tras Done.
func (r *PublishResult) Err() error {
	select {
	case <-r.done:
		return r.err
	default:
		return nil
	}
}

// Wait bloquea hasta la resolución o hasta que ctx termine.
// Cancelar ctx no cancela el envío en curso.
func (r *PublishResult) Wait(ctx context.Context) error {
	select {
	case <-r.done:
		return r.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Publisher envía eventos de transacción al broker sin bloquear al llamante.
type Publisher struct {
	writer  sharedBus.BrokerWriter
	topic   string
	metrics *metrics.ProducerMetrics
	log     *zap.Logger
}

func NewPublisher(writer sharedBus.BrokerWriter, topic string, m *metrics.ProducerMetrics, log *zap.Logger) *Publisher {
	return &Publisher{
		writer:  writer,
		topic:   topic,
		metrics: m,
		log:     log,
	}
}

// Publish valida, serializa y envía ev con su ID como clave.
// La latencia del envío queda acotada por el WriteTimeout del writer.
func (p *Publisher) Publish(ctx context.Context, ev txDomain.TransactionEvent) *PublishResult {
	result := newPublishResult()
	log := logger.FromContext(ctx, p.log).With(zap.String("transactionId", ev.ID.String()))

	p.metrics.Amount.Observe(ev.Amount.InexactFloat64())

	if err := ev.Validate(); err != nil {
		p.fail(log, result, ev, err)
		return result
	}
	payload, err := txDomain.EncodeTransactionEvent(ev)
	if err != nil {
		p.fail(log, result, ev, fmt.Errorf("%w: %v", txDomain.ErrInvalidEvent, err))
		return result
	}

	msg := sharedBus.Message{
		Topic: p.topic,
		Key:   []byte(ev.PartitionKey()),
		Value: payload,
	}
	if cid := logger.CorrelationID(ctx); cid != "" {
		msg.Headers = append(msg.Headers, sharedBus.Header{Key: logger.CorrelationHeader, Value: []byte(cid)})
	}

	// El envío sobrevive a la cancelación del llamante, pero conserva sus valores.
	sendCtx := context.WithoutCancel(ctx)
	start := time.Now()
	go func() {
		err := p.writer.WriteMessages(sendCtx, msg)
		p.metrics.PublishLatency.Observe(time.Since(start).Seconds())
		if err != nil {
			p.fail(log, result, ev, err)
			return
		}
		p.metrics.PublishedOk.Inc()
		log.Debug("Tx published", zap.String("topic", p.topic))
		result.resolve(nil)
	}()

	return result
}

func (p *Publisher) fail(log *zap.Logger, result *PublishResult, ev txDomain.TransactionEvent, err error) {
	p.metrics.PublishedFail.Inc()
	log.Error("❌ Tx publish failed", zap.Error(err))
	result.resolve(&txDomain.BrokerSendError{Key: ev.PartitionKey(), Err: err})
}
