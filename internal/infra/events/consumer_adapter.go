package events

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"

	sharedBus "github.com/davicafu/txpipeline/internal/shared/infra/platform/bus"
)

// MessageHandler procesa un registro. nil significa que su offset puede confirmarse.
type MessageHandler interface {
	HandleMessage(ctx context.Context, msg sharedBus.Message) error
}

// SourceFactory abre un miembro nuevo del grupo de consumo. Cada llamada
// debe devolver una suscripción independiente del mismo grupo, para que el
// broker reparta las particiones entre ellas.
type SourceFactory func() (sharedBus.MessageSource, error)

type ConsumerConfig struct {
	Concurrency     int
	ShutdownTimeout time.Duration
	CommitTimeout   time.Duration
}

// ConsumerAdapter abre Concurrency miembros del grupo, uno por worker. El
// broker asigna a cada miembro un conjunto disjunto de particiones, así que
// cada partición la atiende un único worker, en orden de offset, y un
// worker ocupado no frena a los demás.
type ConsumerAdapter struct {
	newSource SourceFactory
	handler   MessageHandler
	cfg       ConsumerConfig
	log       *zap.Logger
}

func NewConsumerAdapter(newSource SourceFactory, handler MessageHandler, cfg ConsumerConfig, log *zap.Logger) *ConsumerAdapter {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
	if cfg.CommitTimeout <= 0 {
		cfg.CommitTimeout = 5 * time.Second
	}
	return &ConsumerAdapter{
		newSource: newSource,
		handler:   handler,
		cfg:       cfg,
		log:       log,
	}
}

// Run consume hasta que ctx se cancela. Los registros en curso siguen
// (reintentos incluidos) hasta ShutdownTimeout; después se cortan, se
// espera a los workers y se cierran las suscripciones.
func (c *ConsumerAdapter) Run(ctx context.Context) error {
	sources := make([]sharedBus.MessageSource, 0, c.cfg.Concurrency)
	for i := 0; i < c.cfg.Concurrency; i++ {
		src, err := c.newSource()
		if err != nil {
			return errors.Join(err, closeAll(sources))
		}
		sources = append(sources, src)
	}
	c.log.Info("🎧 Consumer started", zap.Int("concurrency", c.cfg.Concurrency))

	workCtx, hardStop := context.WithCancel(context.WithoutCancel(ctx))
	defer hardStop()

	var wg sync.WaitGroup
	for i, src := range sources {
		wg.Add(1)
		go func(id int, src sharedBus.MessageSource) {
			defer wg.Done()
			c.worker(ctx, workCtx, id, src)
		}(i, src)
	}
	c.drain(ctx, &wg, hardStop)

	if err := closeAll(sources); err != nil {
		c.log.Warn("Error closing consumer sources", zap.Error(err))
		return err
	}
	c.log.Info("Consumer stopped")
	return nil
}

func closeAll(sources []sharedBus.MessageSource) error {
	var errs []error
	for _, src := range sources {
		if err := src.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// drain espera a los workers. Tras cancelar ctx les da ShutdownTimeout para
// terminar lo que tengan en curso; después corta el contexto de trabajo.
func (c *ConsumerAdapter) drain(ctx context.Context, wg *sync.WaitGroup, hardStop context.CancelFunc) {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return
	case <-ctx.Done():
	}

	timer := time.NewTimer(c.cfg.ShutdownTimeout)
	defer timer.Stop()
	select {
	case <-done:
	case <-timer.C:
		c.log.Warn("⏱️ Shutdown timeout reached, cancelling in-flight records",
			zap.Duration("timeout", c.cfg.ShutdownTimeout))
		hardStop()
		<-done
	}
}

// worker lee de su propia suscripción y procesa en orden. fetchCtx corta la
// lectura; workCtx sólo se cancela en la parada forzosa. Una partición con
// un registro sin resolver queda bloqueada hasta el reinicio para no
// confirmar nada que vaya detrás.
func (c *ConsumerAdapter) worker(fetchCtx, workCtx context.Context, id int, source sharedBus.MessageSource) {
	blocked := make(map[int]bool)
	log := c.log.With(zap.Int("worker", id))

	for {
		msg, err := source.FetchMessage(fetchCtx)
		if err != nil {
			if fetchCtx.Err() != nil || errors.Is(err, io.EOF) {
				return
			}
			log.Error("Error fetching message", zap.Error(err))
			select {
			case <-time.After(time.Second):
				continue
			case <-fetchCtx.Done():
				return
			}
		}

		if blocked[msg.Partition] {
			continue
		}
		if err := c.handler.HandleMessage(workCtx, msg); err != nil {
			blocked[msg.Partition] = true
			log.Error("❌ Record unresolved, partition blocked until restart",
				zap.String("topic", msg.Topic),
				zap.Int("partition", msg.Partition),
				zap.Int64("offset", msg.Offset),
				zap.Error(err),
			)
			continue
		}

		commitCtx, cancel := context.WithTimeout(context.Background(), c.cfg.CommitTimeout)
		err = source.CommitMessages(commitCtx, msg)
		cancel()
		if err != nil {
			// El registro se volverá a entregar; el upsert lo hace inocuo.
			log.Warn("⚠️ Offset commit failed",
				zap.Int("partition", msg.Partition),
				zap.Int64("offset", msg.Offset),
				zap.Error(err),
			)
		}
	}
}
