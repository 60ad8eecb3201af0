package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type payload struct {
	Name string `json:"name"`
}

func TestInMemoryCache_SetGetDelete(t *testing.T) {
	// Arrange
	c := NewInMemoryCache(time.Minute, 0)
	defer c.Close()
	ctx := context.Background()

	// Act
	require.NoError(t, c.Set(ctx, "k", payload{Name: "tx"}, 0))
	var got payload
	hit, err := c.Get(ctx, "k", &got)

	// Assert
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, "tx", got.Name)

	require.NoError(t, c.Delete(ctx, "k"))
	hit, err = c.Get(ctx, "k", &got)
	require.NoError(t, err)
	assert.False(t, hit)
}

func TestInMemoryCache_ExpiredIsMiss(t *testing.T) {
	c := NewInMemoryCache(time.Millisecond, 0)
	defer c.Close()
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", payload{Name: "old"}, 0))
	time.Sleep(5 * time.Millisecond)

	var got payload
	hit, err := c.Get(ctx, "k", &got)
	require.NoError(t, err)
	assert.False(t, hit)
}

func TestInMemoryCache_SweepRemovesExpired(t *testing.T) {
	c := NewInMemoryCache(time.Millisecond, 2*time.Millisecond)
	defer c.Close()

	require.NoError(t, c.Set(context.Background(), "k", payload{Name: "old"}, 0))

	assert.Eventually(t, func() bool { return c.Len() == 0 }, time.Second, 5*time.Millisecond)
}

func TestInMemoryCache_CloseIsIdempotent(t *testing.T) {
	c := NewInMemoryCache(time.Minute, time.Millisecond)

	assert.NotPanics(t, func() {
		_ = c.Close()
		_ = c.Close()
	})
}
