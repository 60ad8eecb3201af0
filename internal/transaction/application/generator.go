package application

import (
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	txDomain "github.com/davicafu/txpipeline/internal/transaction/domain"
)

// EventGenerator crea eventos sintéticos para los endpoints de carga.
type EventGenerator func() txDomain.TransactionEvent

// RandomEvent genera una cuenta ACC-1000..9999, un importe 0.01..49.99 USD
// y un tipo aleatorio con su descripción.
func RandomEvent() txDomain.TransactionEvent {
	txType := txDomain.TxDebit
	description := "Purchase"
	if rand.IntN(2) == 1 {
		txType = txDomain.TxCredit
		description = "Refund"
	}
	return txDomain.TransactionEvent{
		ID:          uuid.New(),
		AccountID:   fmt.Sprintf("ACC-%d", 1000+rand.IntN(9000)),
		Amount:      decimal.New(int64(1+rand.IntN(4999)), -2),
		Currency:    "USD",
		Type:        txType,
		OccurredAt:  time.Now().UTC(),
		Description: description,
	}
}
