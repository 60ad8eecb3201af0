package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/davicafu/txpipeline/internal/config"
	infraEvents "github.com/davicafu/txpipeline/internal/infra/events"
	sharedBus "github.com/davicafu/txpipeline/internal/shared/infra/platform/bus"
	sharedCache "github.com/davicafu/txpipeline/internal/shared/infra/platform/cache"
	"github.com/davicafu/txpipeline/internal/shared/infra/platform/metrics"
	txApp "github.com/davicafu/txpipeline/internal/transaction/application"
	txDomain "github.com/davicafu/txpipeline/internal/transaction/domain"
	txHttp "github.com/davicafu/txpipeline/internal/transaction/infra/inbound/http"
	txAnalytics "github.com/davicafu/txpipeline/internal/transaction/infra/outbound/analytics/clickhouse"
	txCassandra "github.com/davicafu/txpipeline/internal/transaction/infra/outbound/db/cassandra"
	txMongo "github.com/davicafu/txpipeline/internal/transaction/infra/outbound/db/mongodb"
	txPostgres "github.com/davicafu/txpipeline/internal/transaction/infra/outbound/db/postgre"
	txSQLite "github.com/davicafu/txpipeline/internal/transaction/infra/outbound/db/sqlite"
	"github.com/davicafu/txpipeline/pkg/logger"
)

// broker agrupa el lado productor y el lado consumidor del bus elegido.
// source abre un miembro del grupo de consumo por cada worker.
type broker struct {
	writer sharedBus.BrokerWriter
	source infraEvents.SourceFactory
	close  func() error
}

// ---------------- Main ----------------
func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, "invalid configuration:", err)
		os.Exit(1)
	}

	logger.Init(cfg.LogLevel)
	log := logger.Logger()
	defer log.Sync()

	log.Info("⚙️ Configuration loaded", zap.Stringer("config", cfg))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Fatal("txpipeline stopped with error", zap.Error(err))
	}
	log.Info("👋 txpipeline stopped")
}

func run(ctx context.Context, cfg *config.Config, log *zap.Logger) error {
	reg := prometheus.DefaultRegisterer

	// ---------------- Bus ----------------
	bus, err := newBroker(cfg, log)
	if err != nil {
		return err
	}
	defer bus.close()

	router := gin.New()
	router.Use(gin.Recovery(), txHttp.CorrelationMiddleware(log))
	txHttp.RegisterPlatformRoutes(router, prometheus.DefaultGatherer)

	g, gctx := errgroup.WithContext(ctx)

	// ---------------- Productor ----------------
	if cfg.RunsProducer() {
		publisher := txApp.NewPublisher(bus.writer, cfg.KafkaTopic, metrics.NewProducerMetrics(reg), log)
		producer := txApp.NewProducerService(publisher, txApp.RandomEvent, cfg.BurstConcurrency, cfg.StreamConcurrency, log)
		txHttp.RegisterProducerRoutes(router, txHttp.NewProducerHandler(producer))
	}

	// ---------------- Consumidor ----------------
	if cfg.RunsConsumer() {
		repo, err := openStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer repo.Close()

		initCtx, cancel := context.WithTimeout(ctx, cfg.StoreTimeout*3)
		err = repo.InitSchema(initCtx)
		cancel()
		if err != nil {
			return fmt.Errorf("init %s schema: %w", cfg.StoreBackend, err)
		}
		log.Info("✅ Store ready", zap.String("backend", cfg.StoreBackend))

		opts := []txApp.PipelineOption{
			txApp.WithStoreTimeout(cfg.StoreTimeout),
			txApp.WithTracer(otel.Tracer("txpipeline/pipeline")),
		}

		var analytics txDomain.TransactionAnalyticsRepository
		if cfg.AnalyticsEnabled() {
			chRepo, err := txAnalytics.NewTransactionAnalyticsRepo(cfg.ClickHouseAddr, cfg.ClickHouseDatabase)
			if err != nil {
				return err
			}
			defer chRepo.Close()
			if err := chRepo.InitSchema(ctx); err != nil {
				return fmt.Errorf("init clickhouse schema: %w", err)
			}
			analytics = chRepo

			batcher := txApp.NewAnalyticsBatcher(chRepo, cfg.AnalyticsBatchSize, cfg.AnalyticsFlushPeriod, log)
			batcher.Start()
			defer func() {
				stopCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
				defer cancel()
				if err := batcher.Stop(stopCtx); err != nil {
					log.Warn("Analytics batcher did not drain", zap.Error(err))
				}
			}()
			opts = append(opts, txApp.WithSavedObserver(batcher.Add))
			log.Info("📊 ClickHouse analytics enabled", zap.String("addr", cfg.ClickHouseAddr))
		}

		cache := newCache(ctx, cfg, log)
		if closer, ok := cache.(io.Closer); ok {
			defer closer.Close()
		}
		queries := txApp.NewQueryService(repo, analytics, cache, cfg.CacheTTL, log)
		txHttp.RegisterConsumerRoutes(router, txHttp.NewConsumerHandler(queries))

		policy := txApp.RetryPolicy{MaxAttempts: cfg.MaxAttempts, Backoff: cfg.RetryBackoff}
		pipeline := txApp.NewDeliveryPipeline(repo, infraEvents.NewDeadLetterPublisher(bus.writer, log),
			policy, metrics.NewConsumerMetrics(reg), log, opts...)
		consumerLog := log.With(zap.String("topic", cfg.KafkaTopic), zap.String("group", cfg.KafkaGroupID))
		consumer := infraEvents.NewConsumerAdapter(bus.source, pipeline, infraEvents.ConsumerConfig{
			Concurrency:     cfg.ConsumerConcurrency,
			ShutdownTimeout: cfg.ShutdownTimeout,
		}, consumerLog)

		g.Go(func() error { return consumer.Run(gctx) })
	}

	// ---------------- HTTP ----------------
	srv := &http.Server{Addr: ":" + cfg.HTTPPort, Handler: router}
	g.Go(func() error {
		log.Info("🚀 Server running", zap.String("url", "http://localhost:"+cfg.HTTPPort), zap.String("mode", cfg.Mode))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func newBroker(cfg *config.Config, log *zap.Logger) (*broker, error) {
	if !cfg.UseKafka {
		log.Info("⚡️ Usando broker en memoria", zap.Int("partitions", cfg.InMemoryPartitions))
		mem := infraEvents.NewInMemoryBroker(cfg.InMemoryPartitions)
		return &broker{
			writer: mem,
			source: func() (sharedBus.MessageSource, error) {
				return mem.Reader(cfg.KafkaTopic, cfg.KafkaGroupID), nil
			},
			close: mem.Close,
		}, nil
	}

	log.Info("🚀 Usando Kafka como bus de eventos", zap.Strings("brokers", cfg.KafkaBrokers))
	writer, err := infraEvents.NewKafkaWriter(infraEvents.KafkaWriterConfig{
		Brokers:      cfg.KafkaBrokers,
		WriteTimeout: cfg.KafkaWriteTimeout,
		BatchTimeout: cfg.KafkaBatchTimeout,
	})
	if err != nil {
		return nil, err
	}
	publisher := infraEvents.NewKafkaPublisher(writer, log)
	return &broker{
		writer: publisher,
		source: func() (sharedBus.MessageSource, error) {
			src, err := infraEvents.NewKafkaSource(cfg.KafkaBrokers, cfg.KafkaGroupID, cfg.KafkaTopic)
			if err != nil {
				return nil, err
			}
			group, topics := src.Describe()
			log.Info("Kafka reader ready", zap.String("group", group), zap.Strings("topics", topics))
			return src, nil
		},
		close: publisher.Close,
	}, nil
}

func openStore(ctx context.Context, cfg *config.Config) (txDomain.TransactionRepository, error) {
	switch cfg.StoreBackend {
	case config.StoreCassandra:
		return txCassandra.NewTransactionRepoCassandra(ctx, txCassandra.Config{
			Host:              cfg.CassandraHost,
			Port:              cfg.CassandraPort,
			LocalDC:           cfg.CassandraLocalDC,
			Keyspace:          cfg.Keyspace,
			ReplicationClass:  cfg.ReplicationClass,
			ReplicationFactor: cfg.ReplicationFactor,
			Timeout:           cfg.StoreTimeout,
		})
	case config.StorePostgres:
		db, err := txPostgres.OpenPostgres(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, err
		}
		repo, err := txPostgres.NewTransactionRepoPostgres(db, cfg.Keyspace)
		if err != nil {
			db.Close()
			return nil, err
		}
		return repo, nil
	case config.StoreMongo:
		client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoURI))
		if err != nil {
			return nil, fmt.Errorf("connect mongoDB: %w", err)
		}
		return txMongo.NewTransactionRepoMongoDB(ctx, client, cfg.MongoDatabase)
	case config.StoreSQLite:
		db, err := txSQLite.OpenSQLite(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		return txSQLite.NewTransactionRepoSQLite(db), nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}
}

func newCache(ctx context.Context, cfg *config.Config, log *zap.Logger) sharedCache.Cache {
	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Warn("⚠️ Redis no disponible, cache en memoria", zap.Error(err))
		_ = rdb.Close()
		return sharedCache.NewInMemoryCache(cfg.CacheTTL, 3*cfg.CacheTTL)
	}
	log.Info("✅ Redis conectado, cache habilitado")
	return sharedCache.NewRedisCache(rdb, cfg.CacheTTL)
}
