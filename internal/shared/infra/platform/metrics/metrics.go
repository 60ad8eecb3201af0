package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ProducerMetrics agrupa los contadores del lado de publicación.
type ProducerMetrics struct {
	PublishedOk    prometheus.Counter
	PublishedFail  prometheus.Counter
	PublishLatency prometheus.Histogram
	Amount         prometheus.Histogram
}

// ConsumerMetrics agrupa los contadores del pipeline de entrega.
type ConsumerMetrics struct {
	Consumed         prometheus.Counter
	SavedOk          prometheus.Counter
	SaveFail         prometheus.Counter
	SaveLatency      prometheus.Histogram
	DeadLettered     *prometheus.CounterVec
	DeliveryAttempts prometheus.Histogram
}

// NewProducerMetrics registra los colectores en reg (DefaultRegisterer si es nil).
func NewProducerMetrics(reg prometheus.Registerer) *ProducerMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &ProducerMetrics{
		PublishedOk: f.NewCounter(prometheus.CounterOpts{
			Name: "tx_published_total",
			Help: "Tx events successfully published",
		}),
		PublishedFail: f.NewCounter(prometheus.CounterOpts{
			Name: "tx_publish_fail_total",
			Help: "Tx publish failures",
		}),
		PublishLatency: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "tx_publish_seconds",
			Help:    "Publish latency until broker acknowledgement",
			Buckets: prometheus.DefBuckets,
		}),
		Amount: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "tx_amount_usd",
			Help:    "Tx amount distribution",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 5000},
		}),
	}
}

// NewConsumerMetrics registra los colectores en reg (DefaultRegisterer si es nil).
func NewConsumerMetrics(reg prometheus.Registerer) *ConsumerMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &ConsumerMetrics{
		Consumed: f.NewCounter(prometheus.CounterOpts{
			Name: "tx_consumed_total",
			Help: "Kafka consumed events",
		}),
		SavedOk: f.NewCounter(prometheus.CounterOpts{
			Name: "tx_saved_total",
			Help: "Store saves ok",
		}),
		SaveFail: f.NewCounter(prometheus.CounterOpts{
			Name: "tx_save_fail_total",
			Help: "Transient store save failures, one per failed attempt",
		}),
		SaveLatency: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "tx_save_seconds",
			Help:    "Store save latency",
			Buckets: prometheus.DefBuckets,
		}),
		DeadLettered: f.NewCounterVec(prometheus.CounterOpts{
			Name: "tx_dead_lettered_total",
			Help: "Records forwarded to the dead-letter topic",
		}, []string{"reason"}),
		DeliveryAttempts: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "tx_delivery_attempts",
			Help:    "Save attempts per delivered record",
			Buckets: []float64{1, 2, 3, 5, 10},
		}),
	}
}
