package store

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	mr, err := miniredis.Run()
	require.NoError(t, err)

	c, err := New(Options{Addr: mr.Addr()})
	require.NoError(t, err)

	return c, mr
}

func TestNew(t *testing.T) {
	c, mr := newTestClient(t)
	defer mr.Close()
	defer c.Close()

	assert.NotNil(t, c.Raw())
	assert.NoError(t, c.Ping(context.Background()))
}

func TestSetGetDel(t *testing.T) {
	c, mr := newTestClient(t)
	defer mr.Close()
	defer c.Close()

	ctx := context.Background()
	require.NoError(t, c.Set(ctx, "k1", "v1", 0))

	v, err := c.Get(ctx, "k1")
	require.NoError(t, err)
	assert.Equal(t, "v1", v)

	require.NoError(t, c.Del(ctx, "k1"))

	_, err = c.Get(ctx, "k1")
	assert.Error(t, err)
}

func TestSetNX(t *testing.T) {
	c, mr := newTestClient(t)
	defer mr.Close()
	defer c.Close()

	ctx := context.Background()
	ok, err := c.SetNX(ctx, "lock:room-1", "token-a", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = c.SetNX(ctx, "lock:room-1", "token-b", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSortedSetOperations(t *testing.T) {
	c, mr := newTestClient(t)
	defer mr.Close()
	defer c.Close()

	ctx := context.Background()
	key := "names:room-1"

	require.NoError(t, c.ZAdd(ctx, key, 1, "alice"))
	require.NoError(t, c.ZAdd(ctx, key, 2, "bob"))

	card, err := c.ZCard(ctx, key)
	require.NoError(t, err)
	assert.EqualValues(t, 2, card)

	score, err := c.ZScore(ctx, key, "alice")
	require.NoError(t, err)
	assert.Equal(t, float64(1), score)

	members, err := c.ZRangeByScore(ctx, key, "-inf", "+inf")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"alice", "bob"}, members)

	require.NoError(t, c.ZRem(ctx, key, "alice"))
	_, err = c.ZScore(ctx, key, "alice")
	assert.Error(t, err)
}

func TestPublishSubscribe(t *testing.T) {
	c, mr := newTestClient(t)
	defer mr.Close()
	defer c.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sub := c.Subscribe(ctx, "chan-1")
	defer sub.Close()

	time.Sleep(50 * time.Millisecond)
	require.NoError(t, c.Publish(ctx, "chan-1", []byte("hello")))

	msg, err := sub.ReceiveMessage(ctx)
	require.NoError(t, err)
	assert.Equal(t, "hello", msg.Payload)
}

func TestFailureAfterRedisClosed(t *testing.T) {
	c, mr := newTestClient(t)
	defer c.Close()

	mr.Close()

	err := c.Ping(context.Background())
	assert.Error(t, err)
}
