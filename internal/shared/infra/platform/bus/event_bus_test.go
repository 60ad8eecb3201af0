package bus

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPartitionFor_IsStablePerKey(t *testing.T) {
	key := []byte("11111111-1111-1111-1111-111111111111")

	first := PartitionFor(key, 12)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, PartitionFor(key, 12))
	}
	assert.GreaterOrEqual(t, first, 0)
	assert.Less(t, first, 12)
	assert.Equal(t, 0, PartitionFor(key, 1))
}

func TestPinnedPartition(t *testing.T) {
	headers := []Header{{Key: "p", Value: []byte("2")}}

	p, ok := PinnedPartition(headers, "p", 3)
	assert.True(t, ok)
	assert.Equal(t, 2, p)

	_, ok = PinnedPartition(headers, "p", 2)
	assert.False(t, ok, "partition out of range")

	_, ok = PinnedPartition([]Header{{Key: "p", Value: []byte("x")}}, "p", 3)
	assert.False(t, ok)

	_, ok = PinnedPartition(nil, "p", 3)
	assert.False(t, ok)
}

func TestMessage_Header(t *testing.T) {
	m := Message{Headers: []Header{{Key: "a", Value: []byte("1")}}}

	v, ok := m.Header("a")
	assert.True(t, ok)
	assert.Equal(t, "1", v)

	_, ok = m.Header("b")
	assert.False(t, ok)
}
