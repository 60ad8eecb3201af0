package mocks

import (
	"context"
	"sync"

	"github.com/stretchr/testify/mock"

	sharedBus "github.com/davicafu/txpipeline/internal/shared/infra/platform/bus"
)

// MockBrokerWriter simula un BrokerWriter con expectativas de testify.
type MockBrokerWriter struct {
	mock.Mock
}

func (m *MockBrokerWriter) WriteMessages(ctx context.Context, msgs ...sharedBus.Message) error {
	args := m.Called(ctx, msgs)
	return args.Error(0)
}

// RecordingWriter guarda todo lo que se escribe y falla mientras Fail devuelva error.
type RecordingWriter struct {
	mu       sync.Mutex
	Messages []sharedBus.Message
	Fail     func(call int) error
	calls    int
}

func (w *RecordingWriter) WriteMessages(ctx context.Context, msgs ...sharedBus.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	call := w.calls
	w.calls++
	if w.Fail != nil {
		if err := w.Fail(call); err != nil {
			return err
		}
	}
	w.Messages = append(w.Messages, msgs...)
	return nil
}

func (w *RecordingWriter) Written() []sharedBus.Message {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]sharedBus.Message(nil), w.Messages...)
}

func (w *RecordingWriter) Calls() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.calls
}

// DeadLetterRecord es lo que recibió el sink en una llamada aceptada.
type DeadLetterRecord struct {
	Msg      sharedBus.Message
	Cause    error
	Attempts int
}

// RecordingDeadLetterSink guarda los registros enviados al DLT.
type RecordingDeadLetterSink struct {
	mu      sync.Mutex
	Records []DeadLetterRecord
	Fail    func(call int) error
	calls   int
}

func (s *RecordingDeadLetterSink) DeadLetter(ctx context.Context, msg sharedBus.Message, cause error, attempts int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	call := s.calls
	s.calls++
	if s.Fail != nil {
		if err := s.Fail(call); err != nil {
			return err
		}
	}
	s.Records = append(s.Records, DeadLetterRecord{Msg: msg, Cause: cause, Attempts: attempts})
	return nil
}

func (s *RecordingDeadLetterSink) Accepted() []DeadLetterRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]DeadLetterRecord(nil), s.Records...)
}

func (s *RecordingDeadLetterSink) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}
