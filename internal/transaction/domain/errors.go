package domain

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidEvent        = errors.New("invalid transaction event")
	ErrTransactionNotFound = errors.New("transaction not found")
)

// RetryableStoreError indica un fallo transitorio del store (red, timeout, sobrecarga).
type RetryableStoreError struct {
	Op  string
	Err error
}

func (e *RetryableStoreError) Error() string {
	return fmt.Sprintf("retryable store error during %s: %v", e.Op, e.Err)
}

func (e *RetryableStoreError) Unwrap() error { return e.Err }

// FatalError es un fallo permanente: payload corrupto o dato que el store rechazará siempre.
type FatalError struct {
	Reason string
	Err    error
}

func (e *FatalError) Error() string {
	if e.Err == nil {
		return "fatal: " + e.Reason
	}
	return fmt.Sprintf("fatal: %s: %v", e.Reason, e.Err)
}

func (e *FatalError) Unwrap() error { return e.Err }

// BrokerSendError sólo se entrega a través del resultado asíncrono de la publicación.
type BrokerSendError struct {
	Key string
	Err error
}

func (e *BrokerSendError) Error() string {
	return fmt.Sprintf("broker send failed for key %s: %v", e.Key, e.Err)
}

func (e *BrokerSendError) Unwrap() error { return e.Err }

func IsRetryable(err error) bool {
	var target *RetryableStoreError
	return errors.As(err, &target)
}

func IsFatal(err error) bool {
	var target *FatalError
	return errors.As(err, &target)
}

// Retryable y Fatal son atajos para los adaptadores de persistencia.
func Retryable(op string, err error) error {
	return &RetryableStoreError{Op: op, Err: err}
}

func Fatal(reason string, err error) error {
	return &FatalError{Reason: reason, Err: err}
}
