package events

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	sharedBus "github.com/davicafu/txpipeline/internal/shared/infra/platform/bus"
	txDomain "github.com/davicafu/txpipeline/internal/transaction/domain"
)

// DeadLetterPublisher reenvía registros sin resolver a <topic>.DLT con la
// misma clave, el mismo valor y la misma partición de origen.
type DeadLetterPublisher struct {
	writer sharedBus.BrokerWriter
	log    *zap.Logger
}

func NewDeadLetterPublisher(writer sharedBus.BrokerWriter, log *zap.Logger) *DeadLetterPublisher {
	return &DeadLetterPublisher{writer: writer, log: log}
}

func (p *DeadLetterPublisher) DeadLetter(ctx context.Context, msg sharedBus.Message, cause error, attempts int) error {
	dlt := sharedBus.Message{
		Topic:     txDomain.DeadLetterTopic(msg.Topic),
		Partition: msg.Partition,
		Key:       msg.Key,
		Value:     msg.Value,
		Headers:   deadLetterHeaders(msg, cause, attempts),
		Time:      time.Now().UTC(),
	}
	if err := p.writer.WriteMessages(ctx, dlt); err != nil {
		return fmt.Errorf("write to %s: %w", dlt.Topic, err)
	}
	p.log.Debug("Record forwarded to DLT",
		zap.String("topic", dlt.Topic),
		zap.Int("partition", msg.Partition),
		zap.Int64("offset", msg.Offset),
	)
	return nil
}

func deadLetterHeaders(msg sharedBus.Message, cause error, attempts int) []sharedBus.Header {
	headers := make([]sharedBus.Header, 0, len(msg.Headers)+6)
	headers = append(headers, msg.Headers...)
	message := ""
	if cause != nil {
		message = cause.Error()
	}
	return append(headers,
		sharedBus.Header{Key: txDomain.HeaderDLTOriginalTopic, Value: []byte(msg.Topic)},
		sharedBus.Header{Key: txDomain.HeaderDLTOriginalPartition, Value: []byte(strconv.Itoa(msg.Partition))},
		sharedBus.Header{Key: txDomain.HeaderDLTOriginalOffset, Value: []byte(strconv.FormatInt(msg.Offset, 10))},
		sharedBus.Header{Key: txDomain.HeaderDLTExceptionClass, Value: []byte(errorClass(cause))},
		sharedBus.Header{Key: txDomain.HeaderDLTExceptionMessage, Value: []byte(message)},
		sharedBus.Header{Key: txDomain.HeaderDLTAttempts, Value: []byte(strconv.Itoa(attempts))},
	)
}

// errorClass nombra la categoría del fallo para quien inspeccione el DLT.
func errorClass(err error) string {
	var retryable *txDomain.RetryableStoreError
	var fatal *txDomain.FatalError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &fatal):
		return "FatalError"
	case errors.As(err, &retryable):
		return "RetryableStoreError"
	default:
		return fmt.Sprintf("%T", err)
	}
}
