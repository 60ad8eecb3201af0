package events

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	sharedBus "github.com/davicafu/txpipeline/internal/shared/infra/platform/bus"
	txDomain "github.com/davicafu/txpipeline/internal/transaction/domain"
)

var ErrBrokerClosed = errors.New("in-memory broker closed")

// InMemoryBroker es un broker particionado dentro del proceso. Guarda todos
// los registros y los offsets confirmados por grupo, de modo que un lector
// nuevo del mismo grupo retoma desde lo último confirmado.
type InMemoryBroker struct {
	mu         sync.Mutex
	partitions int
	topics     map[string][][]sharedBus.Message
	committed  map[string]map[string][]int64 // grupo -> tópico -> siguiente offset
	members    map[string][]*InMemoryReader   // grupo/tópico -> lectores activos
	generation map[string]int                 // sube en cada alta o baja de un lector
	notify     chan struct{}
	closed     bool
}

var _ sharedBus.BrokerWriter = (*InMemoryBroker)(nil)

func NewInMemoryBroker(partitions int) *InMemoryBroker {
	if partitions < 1 {
		partitions = 1
	}
	return &InMemoryBroker{
		partitions: partitions,
		topics:     make(map[string][][]sharedBus.Message),
		committed:  make(map[string]map[string][]int64),
		members:    make(map[string][]*InMemoryReader),
		generation: make(map[string]int),
		notify:     make(chan struct{}),
	}
}

func (b *InMemoryBroker) Partitions() int { return b.partitions }

// WriteMessages añade los mensajes; la partición sale de la cabecera DLT
// si existe o del hash de la clave.
func (b *InMemoryBroker) WriteMessages(ctx context.Context, msgs ...sharedBus.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrBrokerClosed
	}

	for _, m := range msgs {
		parts := b.topicLocked(m.Topic)
		p, ok := sharedBus.PinnedPartition(m.Headers, txDomain.HeaderDLTOriginalPartition, b.partitions)
		if !ok {
			p = sharedBus.PartitionFor(m.Key, b.partitions)
		}
		m.Partition = p
		m.Offset = int64(len(parts[p]))
		if m.Time.IsZero() {
			m.Time = time.Now().UTC()
		}
		parts[p] = append(parts[p], m)
	}

	b.wakeLocked()
	return nil
}

// wakeLocked despierta a los lectores que esperan registros o un reparto nuevo.
func (b *InMemoryBroker) wakeLocked() {
	if b.closed {
		return
	}
	close(b.notify)
	b.notify = make(chan struct{})
}

// Messages devuelve una copia de todos los registros del tópico, partición a partición.
func (b *InMemoryBroker) Messages(topic string) []sharedBus.Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []sharedBus.Message
	for _, part := range b.topics[topic] {
		out = append(out, part...)
	}
	return out
}

// Committed devuelve el siguiente offset a consumir por el grupo en cada partición.
func (b *InMemoryBroker) Committed(group, topic string) []int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]int64(nil), b.committedLocked(group, topic)...)
}

// Reader da de alta un miembro del grupo sobre el tópico. Como en Kafka, las
// particiones se reparten entre los miembros activos (la partición p es del
// miembro p % n) y cada alta o baja provoca un reparto: los lectores retoman
// desde el último offset confirmado.
func (b *InMemoryBroker) Reader(topic, group string) *InMemoryReader {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.topicLocked(topic)
	r := &InMemoryReader{
		broker:   b,
		topic:    topic,
		group:    group,
		position: make([]int64, b.partitions),
		closed:   make(chan struct{}),
	}
	key := memberKey(group, topic)
	b.members[key] = append(b.members[key], r)
	b.generation[key]++
	b.wakeLocked()
	return r
}

func memberKey(group, topic string) string { return group + "/" + topic }

func (b *InMemoryBroker) leaveLocked(r *InMemoryReader) {
	key := memberKey(r.group, r.topic)
	members := b.members[key]
	for i, m := range members {
		if m == r {
			b.members[key] = append(members[:i:i], members[i+1:]...)
			b.generation[key]++
			b.wakeLocked()
			return
		}
	}
}

// Close despierta a los lectores bloqueados y rechaza nuevas escrituras.
func (b *InMemoryBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.closed {
		b.closed = true
		close(b.notify)
	}
	return nil
}

func (b *InMemoryBroker) topicLocked(topic string) [][]sharedBus.Message {
	parts, ok := b.topics[topic]
	if !ok {
		parts = make([][]sharedBus.Message, b.partitions)
		b.topics[topic] = parts
	}
	return parts
}

func (b *InMemoryBroker) committedLocked(group, topic string) []int64 {
	byTopic, ok := b.committed[group]
	if !ok {
		byTopic = make(map[string][]int64)
		b.committed[group] = byTopic
	}
	offsets, ok := byTopic[topic]
	if !ok {
		offsets = make([]int64, b.partitions)
		byTopic[topic] = offsets
	}
	return offsets
}

// InMemoryReader implementa MessageSource para un miembro del grupo.
type InMemoryReader struct {
	broker     *InMemoryBroker
	topic      string
	group      string
	position   []int64
	generation int
	next       int
	closeOnce  sync.Once
	closed     chan struct{}
}

var _ sharedBus.MessageSource = (*InMemoryReader)(nil)

// FetchMessage devuelve el siguiente registro de las particiones asignadas,
// alternando entre ellas. Bloquea hasta que haya uno, ctx termine o el
// lector se cierre (io.EOF).
func (r *InMemoryReader) FetchMessage(ctx context.Context) (sharedBus.Message, error) {
	for {
		b := r.broker
		b.mu.Lock()
		if msg, ok := r.nextLocked(); ok {
			b.mu.Unlock()
			return msg, nil
		}
		wait := b.notify
		brokerClosed := b.closed
		b.mu.Unlock()

		if brokerClosed {
			return sharedBus.Message{}, io.EOF
		}
		select {
		case <-wait:
		case <-r.closed:
			return sharedBus.Message{}, io.EOF
		case <-ctx.Done():
			return sharedBus.Message{}, ctx.Err()
		}
	}
}

func (r *InMemoryReader) nextLocked() (sharedBus.Message, bool) {
	b := r.broker
	key := memberKey(r.group, r.topic)
	members := b.members[key]
	idx := -1
	for i, m := range members {
		if m == r {
			idx = i
			break
		}
	}
	if idx < 0 {
		return sharedBus.Message{}, false
	}
	if gen := b.generation[key]; gen != r.generation {
		r.generation = gen
		copy(r.position, b.committedLocked(r.group, r.topic))
	}

	parts := b.topics[r.topic]
	for i := 0; i < b.partitions; i++ {
		p := (r.next + i) % b.partitions
		if p%len(members) != idx || r.position[p] >= int64(len(parts[p])) {
			continue
		}
		msg := parts[p][r.position[p]]
		r.position[p]++
		r.next = (p + 1) % b.partitions
		return msg, true
	}
	return sharedBus.Message{}, false
}

func (r *InMemoryReader) CommitMessages(ctx context.Context, msgs ...sharedBus.Message) error {
	b := r.broker
	b.mu.Lock()
	defer b.mu.Unlock()
	offsets := b.committedLocked(r.group, r.topic)
	for _, m := range msgs {
		if m.Partition < 0 || m.Partition >= len(offsets) {
			continue
		}
		if next := m.Offset + 1; next > offsets[m.Partition] {
			offsets[m.Partition] = next
		}
	}
	return nil
}

// Close da de baja al lector; sus particiones pasan al resto del grupo.
func (r *InMemoryReader) Close() error {
	r.closeOnce.Do(func() {
		close(r.closed)
		b := r.broker
		b.mu.Lock()
		b.leaveLocked(r)
		b.mu.Unlock()
	})
	return nil
}
