package events

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	sharedBus "github.com/davicafu/txpipeline/internal/shared/infra/platform/bus"
	txDomain "github.com/davicafu/txpipeline/internal/transaction/domain"
)

// KafkaWriterConfig agrupa los ajustes del productor.
type KafkaWriterConfig struct {
	Brokers      []string
	WriteTimeout time.Duration
	BatchTimeout time.Duration
}

// KafkaPublisher adapta un *kafka.Writer al BrokerWriter neutral.
// El tópico va en cada mensaje, así que un mismo writer sirve al tópico
// principal y a su DLT.
type KafkaPublisher struct {
	writer *kafka.Writer
	log    *zap.Logger
}

var _ sharedBus.BrokerWriter = (*KafkaPublisher)(nil)

func NewKafkaWriter(cfg KafkaWriterConfig) (*kafka.Writer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka publisher requires at least one broker")
	}
	return &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		RequiredAcks:           kafka.RequireAll,
		Balancer:               NewDeadLetterBalancer(&kafka.Hash{}),
		WriteTimeout:           cfg.WriteTimeout,
		BatchTimeout:           cfg.BatchTimeout,
		AllowAutoTopicCreation: true,
	}, nil
}

func NewKafkaPublisher(writer *kafka.Writer, log *zap.Logger) *KafkaPublisher {
	return &KafkaPublisher{writer: writer, log: log}
}

func (p *KafkaPublisher) WriteMessages(ctx context.Context, msgs ...sharedBus.Message) error {
	out := make([]kafka.Message, len(msgs))
	for i, m := range msgs {
		out[i] = toKafkaMessage(m)
	}
	if err := p.writer.WriteMessages(ctx, out...); err != nil {
		p.log.Debug("Kafka write failed", zap.Int("messages", len(out)), zap.Error(err))
		return err
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// DeadLetterBalancer respeta la partición fijada en la cabecera
// dlt-original-partition; el resto de mensajes los reparte fallback.
type DeadLetterBalancer struct {
	fallback kafka.Balancer
}

func NewDeadLetterBalancer(fallback kafka.Balancer) *DeadLetterBalancer {
	return &DeadLetterBalancer{fallback: fallback}
}

func (b *DeadLetterBalancer) Balance(msg kafka.Message, partitions ...int) int {
	for _, h := range msg.Headers {
		if h.Key != txDomain.HeaderDLTOriginalPartition {
			continue
		}
		if p, err := strconv.Atoi(string(h.Value)); err == nil {
			for _, candidate := range partitions {
				if candidate == p {
					return p
				}
			}
		}
		break
	}
	return b.fallback.Balance(msg, partitions...)
}

func toKafkaMessage(m sharedBus.Message) kafka.Message {
	headers := make([]kafka.Header, len(m.Headers))
	for i, h := range m.Headers {
		headers[i] = kafka.Header{Key: h.Key, Value: h.Value}
	}
	return kafka.Message{
		Topic:     m.Topic,
		Partition: m.Partition,
		Offset:    m.Offset,
		Key:       m.Key,
		Value:     m.Value,
		Headers:   headers,
		Time:      m.Time,
	}
}

func fromKafkaMessage(m kafka.Message) sharedBus.Message {
	headers := make([]sharedBus.Header, len(m.Headers))
	for i, h := range m.Headers {
		headers[i] = sharedBus.Header{Key: h.Key, Value: h.Value}
	}
	return sharedBus.Message{
		Topic:     m.Topic,
		Partition: m.Partition,
		Offset:    m.Offset,
		Key:       m.Key,
		Value:     m.Value,
		Headers:   headers,
		Time:      m.Time,
	}
}
