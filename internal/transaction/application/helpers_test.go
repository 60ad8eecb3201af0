package application

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	sharedBus "github.com/davicafu/txpipeline/internal/shared/infra/platform/bus"
	txDomain "github.com/davicafu/txpipeline/internal/transaction/domain"
)

func sampleEvent() txDomain.TransactionEvent {
	return txDomain.TransactionEvent{
		ID:          uuid.New(),
		AccountID:   "ACC-1234",
		Amount:      decimal.RequireFromString("12.34"),
		Currency:    "USD",
		Type:        txDomain.TxDebit,
		OccurredAt:  time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC),
		Description: "Purchase",
	}
}

func recordFor(t *testing.T, ev txDomain.TransactionEvent, partition int, offset int64) sharedBus.Message {
	t.Helper()
	payload, err := txDomain.EncodeTransactionEvent(ev)
	require.NoError(t, err)
	return sharedBus.Message{
		Topic:     txDomain.TransactionTopic,
		Partition: partition,
		Offset:    offset,
		Key:       []byte(ev.PartitionKey()),
		Value:     payload,
	}
}

func decimalFromString(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	require.NoError(t, err)
	return d
}
