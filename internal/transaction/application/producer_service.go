package application

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	txDomain "github.com/davicafu/txpipeline/internal/transaction/domain"
	"github.com/davicafu/txpipeline/pkg/logger"
)

var ErrInvalidLoadParams = errors.New("count and rate must be positive")

// EventPublisher es lo que ProducerService necesita del Publisher.
type EventPublisher interface {
	Publish(ctx context.Context, ev txDomain.TransactionEvent) *PublishResult
}

// ProducerService implementa los casos de uso de generación de carga.
// Cada operación termina cuando el broker ha confirmado todos sus envíos.
type ProducerService struct {
	publisher         EventPublisher
	generate          EventGenerator
	burstConcurrency  int
	streamConcurrency int
	log               *zap.Logger
}

func NewProducerService(publisher EventPublisher, generate EventGenerator, burstConcurrency, streamConcurrency int, log *zap.Logger) *ProducerService {
	if generate == nil {
		generate = RandomEvent
	}
	return &ProducerService{
		publisher:         publisher,
		generate:          generate,
		burstConcurrency:  max(1, burstConcurrency),
		streamConcurrency: max(1, streamConcurrency),
		log:               log,
	}
}

// PublishOne publica un evento aleatorio y espera su ack.
func (s *ProducerService) PublishOne(ctx context.Context) (txDomain.TransactionEvent, error) {
	ev := s.generate()
	return ev, s.publisher.Publish(ctx, ev).Wait(ctx)
}

// PublishBurst publica count eventos con como mucho burstConcurrency envíos en vuelo.
func (s *ProducerService) PublishBurst(ctx context.Context, count int) (int, error) {
	if count <= 0 {
		return 0, ErrInvalidLoadParams
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.burstConcurrency)
	for i := 0; i < count; i++ {
		g.Go(func() error {
			return s.publisher.Publish(gctx, s.generate()).Wait(gctx)
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}
	logger.FromContext(ctx, s.log).Info("Burst sent", zap.Int("count", count))
	return count, nil
}

// StreamPeriod es el intervalo entre envíos para un ritmo dado (mínimo 1ms).
func StreamPeriod(ratePerSec int) time.Duration {
	return time.Duration(max(1, 1000/max(1, ratePerSec))) * time.Millisecond
}

// PublishStream publica count eventos a ratePerSec, con como mucho
// streamConcurrency envíos pendientes de ack.
func (s *ProducerService) PublishStream(ctx context.Context, count, ratePerSec int) (int, error) {
	if count <= 0 || ratePerSec <= 0 {
		return 0, ErrInvalidLoadParams
	}
	ticker := time.NewTicker(StreamPeriod(ratePerSec))
	defer ticker.Stop()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.streamConcurrency)
	for i := 0; i < count; i++ {
		select {
		case <-ticker.C:
		case <-gctx.Done():
			if err := g.Wait(); err != nil {
				return 0, err
			}
			return 0, ctx.Err()
		}
		g.Go(func() error {
			return s.publisher.Publish(gctx, s.generate()).Wait(gctx)
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}
	logger.FromContext(ctx, s.log).Info("Stream sent", zap.Int("count", count), zap.Int("rate", ratePerSec))
	return count, nil
}
