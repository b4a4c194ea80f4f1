package backpressure

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_EmptyAddrReturnsInProcess(t *testing.T) {
	c, err := New("", "ignored")
	require.NoError(t, err)
	_, ok := c.(*InProcessCounter)
	assert.True(t, ok)
}

func TestNew_NonEmptyAddrReturnsRedis(t *testing.T) {
	c, err := New("localhost:6379", "fleet:poller:inflight")
	require.NoError(t, err)
	_, ok := c.(*RedisCounter)
	assert.True(t, ok)
}

func TestInProcessCounter_AddAndValue(t *testing.T) {
	c := NewInProcess()
	ctx := context.Background()

	v, err := c.Add(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, int64(3), v)

	v, err = c.Add(ctx, -1)
	require.NoError(t, err)
	assert.Equal(t, int64(2), v)

	v, err = c.Value(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), v)
}

func TestInProcessCounter_ConcurrentAdd(t *testing.T) {
	c := NewInProcess()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = c.Add(ctx, 1)
		}()
	}
	wg.Wait()

	v, err := c.Value(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(50), v)
}
