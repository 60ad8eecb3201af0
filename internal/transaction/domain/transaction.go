package domain

import (
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

func init() {
	// El importe viaja como número JSON (12.34), no como string.
	decimal.MarshalJSONWithoutQuotes = true
}

type TxType string

const (
	TxDebit  TxType = "DEBIT"
	TxCredit TxType = "CREDIT"
)

func (t TxType) Valid() bool {
	return t == TxDebit || t == TxCredit
}

var currencyRe = regexp.MustCompile(`^[A-Z]{3}$`)

// TransactionEvent es el contrato inmutable que viaja por el broker.
// El ID lo asigna el productor y nunca se regenera en un reintento.
type TransactionEvent struct {
	ID          uuid.UUID       `json:"transactionId"`
	AccountID   string          `json:"accountId"`
	Amount      decimal.Decimal `json:"amount"`
	Currency    string          `json:"currency"`
	Type        TxType          `json:"type"`
	OccurredAt  time.Time       `json:"occurredAt"`
	Description string          `json:"description,omitempty"`
}

func (e TransactionEvent) PartitionKey() string {
	return e.ID.String()
}

// Validate comprueba que el evento está completo antes de publicarlo o persistirlo.
func (e TransactionEvent) Validate() error {
	switch {
	case e.ID == uuid.Nil:
		return fmt.Errorf("%w: missing transactionId", ErrInvalidEvent)
	case e.AccountID == "":
		return fmt.Errorf("%w: missing accountId", ErrInvalidEvent)
	case !e.Amount.IsPositive():
		return fmt.Errorf("%w: amount must be positive, got %s", ErrInvalidEvent, e.Amount)
	case !currencyRe.MatchString(e.Currency):
		return fmt.Errorf("%w: invalid currency %q", ErrInvalidEvent, e.Currency)
	case !e.Type.Valid():
		return fmt.Errorf("%w: invalid type %q", ErrInvalidEvent, e.Type)
	case e.OccurredAt.IsZero():
		return fmt.Errorf("%w: missing occurredAt", ErrInvalidEvent)
	}
	return nil
}

// ToPersisted proyecta el evento al registro que guarda el store.
func (e TransactionEvent) ToPersisted() PersistedTransaction {
	return PersistedTransaction{
		ID:          e.ID,
		AccountID:   e.AccountID,
		Amount:      e.Amount,
		Currency:    e.Currency,
		Type:        e.Type,
		OccurredAt:  e.OccurredAt.UTC(),
		Description: e.Description,
	}
}

// EncodeTransactionEvent serializa el evento con el esquema acordado con el consumidor.
func EncodeTransactionEvent(e TransactionEvent) ([]byte, error) {
	return json.Marshal(e)
}

// DecodeTransactionEvent deserializa y valida un payload del broker.
// Cualquier fallo es permanente: reintentar no lo va a arreglar.
func DecodeTransactionEvent(payload []byte) (TransactionEvent, error) {
	var e TransactionEvent
	if err := json.Unmarshal(payload, &e); err != nil {
		return TransactionEvent{}, &FatalError{Reason: "malformed payload", Err: err}
	}
	if err := e.Validate(); err != nil {
		return TransactionEvent{}, &FatalError{Reason: "invalid event", Err: err}
	}
	e.OccurredAt = e.OccurredAt.UTC()
	return e, nil
}

// PersistedTransaction es la proyección del lado del store, con el mismo ID como clave primaria.
type PersistedTransaction struct {
	ID          uuid.UUID       `json:"transactionId"`
	AccountID   string          `json:"accountId"`
	Amount      decimal.Decimal `json:"amount"`
	Currency    string          `json:"currency"`
	Type        TxType          `json:"type"`
	OccurredAt  time.Time       `json:"occurredAt"`
	Description string          `json:"description"`
}

// DeliveryAttempt sólo vive mientras dura una entrega; no se persiste.
type DeliveryAttempt struct {
	EventID  uuid.UUID
	Attempts int
	LastErr  error
}
