package domain

// Tópico por defecto y convención del dead-letter.
const (
	TransactionTopic = "transactions"
	DeadLetterSuffix = ".DLT"
)

// DeadLetterTopic deriva el tópico DLT a partir del tópico de origen.
func DeadLetterTopic(topic string) string {
	return topic + DeadLetterSuffix
}

// Cabeceras con las que se etiqueta un registro enviado al DLT.
const (
	HeaderDLTOriginalTopic     = "dlt-original-topic"
	HeaderDLTOriginalPartition = "dlt-original-partition"
	HeaderDLTOriginalOffset    = "dlt-original-offset"
	HeaderDLTExceptionClass    = "dlt-exception-class"
	HeaderDLTExceptionMessage  = "dlt-exception-message"
	HeaderDLTAttempts          = "dlt-attempts"
)
