package application

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	txDomain "github.com/davicafu/txpipeline/internal/transaction/domain"
	"github.com/davicafu/txpipeline/tests/mocks"
)

func TestRandomEvent_IsValid(t *testing.T) {
	for i := 0; i < 200; i++ {
		ev := RandomEvent()

		require.NoError(t, ev.Validate())
		assert.True(t, strings.HasPrefix(ev.AccountID, "ACC-"))
		assert.Equal(t, "USD", ev.Currency)
		assert.True(t, ev.Amount.LessThan(decimalFromString(t, "50")))
		if ev.Type == txDomain.TxDebit {
			assert.Equal(t, "Purchase", ev.Description)
		} else {
			assert.Equal(t, "Refund", ev.Description)
		}
	}
}

func TestStreamPeriod(t *testing.T) {
	assert.Equal(t, 20*time.Millisecond, StreamPeriod(50))
	assert.Equal(t, time.Millisecond, StreamPeriod(5000))
	assert.Equal(t, time.Second, StreamPeriod(0))
}

func TestPublishBurst_WaitsForEveryAck(t *testing.T) {
	// Arrange
	writer := &mocks.RecordingWriter{}
	pub, m := newTestPublisher(writer, zap.NewNop())
	svc := NewProducerService(pub, nil, 8, 2, zap.NewNop())

	// Act
	sent, err := svc.PublishBurst(context.Background(), 100)

	// Assert
	require.NoError(t, err)
	assert.Equal(t, 100, sent)
	assert.Len(t, writer.Written(), 100)
	assert.Equal(t, 100.0, testutil.ToFloat64(m.PublishedOk))
}

func TestPublishBurst_SurfacesBrokerFailure(t *testing.T) {
	writer := &mocks.RecordingWriter{Fail: func(call int) error {
		if call == 3 {
			return errors.New("broker down")
		}
		return nil
	}}
	pub, _ := newTestPublisher(writer, zap.NewNop())
	svc := NewProducerService(pub, nil, 4, 2, zap.NewNop())

	_, err := svc.PublishBurst(context.Background(), 10)

	var sendErr *txDomain.BrokerSendError
	assert.ErrorAs(t, err, &sendErr)
}

func TestPublishBurst_RejectsNonPositiveCount(t *testing.T) {
	svc := NewProducerService(&Publisher{}, nil, 4, 2, zap.NewNop())

	_, err := svc.PublishBurst(context.Background(), 0)

	assert.ErrorIs(t, err, ErrInvalidLoadParams)
}

func TestPublishStream_RespectsRate(t *testing.T) {
	// Arrange
	writer := &mocks.RecordingWriter{}
	pub, _ := newTestPublisher(writer, zap.NewNop())
	var generated atomic.Int32
	gen := func() txDomain.TransactionEvent {
		generated.Add(1)
		return RandomEvent()
	}
	svc := NewProducerService(pub, gen, 64, 8, zap.NewNop())
	start := time.Now()

	// Act
	sent, err := svc.PublishStream(context.Background(), 10, 100)

	// Assert
	require.NoError(t, err)
	assert.Equal(t, 10, sent)
	assert.Equal(t, int32(10), generated.Load())
	assert.GreaterOrEqual(t, time.Since(start), 90*time.Millisecond)
	assert.Len(t, writer.Written(), 10)
}

func TestPublishOne_ReturnsGeneratedEvent(t *testing.T) {
	writer := &mocks.RecordingWriter{}
	pub, _ := newTestPublisher(writer, zap.NewNop())
	svc := NewProducerService(pub, nil, 1, 1, zap.NewNop())

	ev, err := svc.PublishOne(context.Background())

	require.NoError(t, err)
	written := writer.Written()
	require.Len(t, written, 1)
	assert.Equal(t, ev.ID.String(), string(written[0].Key))
}
