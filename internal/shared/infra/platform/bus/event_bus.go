package bus

import (
	"context"
	"hash/fnv"
	"strconv"
	"time"
)

type Header struct {
	Key   string
	Value []byte
}

// Message es la vista neutral de un registro del broker. Topic, Partition y
// Offset sólo tienen sentido en los mensajes leídos.
type Message struct {
	Topic     string
	Partition int
	Offset    int64
	Key       []byte
	Value     []byte
	Headers   []Header
	Time      time.Time
}

// Header devuelve el valor de la cabecera key, si existe.
func (m Message) Header(key string) (string, bool) {
	for _, h := range m.Headers {
		if h.Key == key {
			return string(h.Value), true
		}
	}
	return "", false
}

// BrokerWriter envía mensajes. Cada mensaje lleva su propio Topic.
// Debe ser seguro para uso concurrente.
type BrokerWriter interface {
	WriteMessages(ctx context.Context, msgs ...Message) error
}

// MessageSource es la suscripción de un grupo de consumo.
type MessageSource interface {
	FetchMessage(ctx context.Context) (Message, error)
	CommitMessages(ctx context.Context, msgs ...Message) error
	Close() error
}

// PartitionFor reparte por hash FNV-1a de la clave. Sólo lo usa el broker en memoria.
func PartitionFor(key []byte, partitions int) int {
	if partitions <= 1 {
		return 0
	}
	h := fnv.New32a()
	h.Write(key)
	return int(h.Sum32() % uint32(partitions))
}

// PinnedPartition lee la partición fijada por cabecera (p. ej. la original en
// un envío al DLT). Devuelve false si no hay o no es válida.
func PinnedPartition(headers []Header, headerKey string, partitions int) (int, bool) {
	for _, h := range headers {
		if h.Key != headerKey {
			continue
		}
		p, err := strconv.Atoi(string(h.Value))
		if err != nil || p < 0 || p >= partitions {
			return 0, false
		}
		return p, true
	}
	return 0, false
}
