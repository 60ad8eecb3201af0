package events

import (
	"context"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	sharedBus "github.com/davicafu/txpipeline/internal/shared/infra/platform/bus"
)

// KafkaSource es la suscripción del grupo de consumo sobre kafka-go.
// Los offsets se confirman de forma explícita (CommitInterval 0).
type KafkaSource struct {
	reader *kafka.Reader
}

var _ sharedBus.MessageSource = (*KafkaSource)(nil)

func NewKafkaSource(brokers []string, groupID, topic string) (*KafkaSource, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafka consumer requires at least one broker")
	}
	if groupID == "" {
		return nil, fmt.Errorf("kafka consumer requires group id")
	}
	if topic == "" {
		return nil, fmt.Errorf("kafka consumer requires a topic")
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		GroupID:        groupID,
		Topic:          topic,
		MinBytes:       1,
		MaxBytes:       10e6,
		MaxWait:        500 * time.Millisecond,
		CommitInterval: 0,
		StartOffset:    kafka.FirstOffset,
	})
	return &KafkaSource{reader: reader}, nil
}

func (s *KafkaSource) FetchMessage(ctx context.Context) (sharedBus.Message, error) {
	msg, err := s.reader.FetchMessage(ctx)
	if err != nil {
		return sharedBus.Message{}, err
	}
	return fromKafkaMessage(msg), nil
}

func (s *KafkaSource) CommitMessages(ctx context.Context, msgs ...sharedBus.Message) error {
	out := make([]kafka.Message, len(msgs))
	for i, m := range msgs {
		out[i] = kafka.Message{Topic: m.Topic, Partition: m.Partition, Offset: m.Offset}
	}
	return s.reader.CommitMessages(ctx, out...)
}

func (s *KafkaSource) Close() error {
	return s.reader.Close()
}

// Describe devuelve tópico y brokers para los logs de arranque.
func (s *KafkaSource) Describe() (string, []string) {
	cfg := s.reader.Config()
	return cfg.Topic, cfg.Brokers
}
