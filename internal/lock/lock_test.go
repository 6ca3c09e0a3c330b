package lock

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/ovmeet/control-plane/internal/apierror"
	"github.com/ovmeet/control-plane/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestMutex(t *testing.T) (*Mutex, *miniredis.Miniredis) {
	mr, err := miniredis.Run()
	require.NoError(t, err)

	sc, err := store.New(store.Options{Addr: mr.Addr()})
	require.NoError(t, err)

	return New(sc), mr
}

func TestAcquireAndRelease(t *testing.T) {
	m, mr := newTestMutex(t)
	defer mr.Close()

	ctx := context.Background()
	l, err := m.Acquire(ctx, "room:abc", time.Minute)
	require.NoError(t, err)
	require.NotNil(t, l)

	held, err := m.Held(ctx, "room:abc")
	require.NoError(t, err)
	assert.True(t, held)

	require.NoError(t, m.Release(ctx, l))

	held, err = m.Held(ctx, "room:abc")
	require.NoError(t, err)
	assert.False(t, held)
}

func TestAcquireContended(t *testing.T) {
	m, mr := newTestMutex(t)
	defer mr.Close()

	ctx := context.Background()
	_, err := m.Acquire(ctx, "room:abc", time.Minute)
	require.NoError(t, err)

	_, err = m.Acquire(ctx, "room:abc", time.Minute)
	assert.Equal(t, apierror.Busy, apierror.KindOf(err))
}

func TestReleaseDoesNotStealOtherHoldersLock(t *testing.T) {
	m, mr := newTestMutex(t)
	defer mr.Close()

	ctx := context.Background()
	l1, err := m.Acquire(ctx, "room:abc", time.Millisecond*50)
	require.NoError(t, err)

	// Simulate l1's lease expiring and a new holder winning the lock.
	time.Sleep(100 * time.Millisecond)
	l2, err := m.Acquire(ctx, "room:abc", time.Minute)
	require.NoError(t, err)

	// l1's stale release must not remove l2's lease.
	require.NoError(t, m.Release(ctx, l1))

	held, err := m.Held(ctx, "room:abc")
	require.NoError(t, err)
	assert.True(t, held)

	require.NoError(t, m.Release(ctx, l2))
}

func TestExtend(t *testing.T) {
	m, mr := newTestMutex(t)
	defer mr.Close()

	ctx := context.Background()
	l, err := m.Acquire(ctx, "room:abc", 50*time.Millisecond)
	require.NoError(t, err)

	require.NoError(t, m.Extend(ctx, l, time.Minute))

	time.Sleep(100 * time.Millisecond)
	held, err := m.Held(ctx, "room:abc")
	require.NoError(t, err)
	assert.True(t, held, "extended lock should still be held past the original ttl")
}

func TestExtendFailsAfterExpiry(t *testing.T) {
	m, mr := newTestMutex(t)
	defer mr.Close()

	ctx := context.Background()
	l, err := m.Acquire(ctx, "room:abc", 50*time.Millisecond)
	require.NoError(t, err)

	time.Sleep(100 * time.Millisecond)

	err = m.Extend(ctx, l, time.Minute)
	assert.Equal(t, apierror.Conflict, apierror.KindOf(err))
}

func TestAcquireWithRetrySucceedsOnceReleased(t *testing.T) {
	m, mr := newTestMutex(t)
	defer mr.Close()

	ctx := context.Background()
	l1, err := m.Acquire(ctx, "room:abc", time.Minute)
	require.NoError(t, err)

	go func() {
		time.Sleep(30 * time.Millisecond)
		_ = m.Release(context.Background(), l1)
	}()

	l2, err := m.AcquireWithRetry(ctx, "room:abc", time.Minute, 10, 20*time.Millisecond)
	require.NoError(t, err)
	require.NotNil(t, l2)
}

func TestAcquireWithRetryExhausted(t *testing.T) {
	m, mr := newTestMutex(t)
	defer mr.Close()

	ctx := context.Background()
	_, err := m.Acquire(ctx, "room:abc", time.Minute)
	require.NoError(t, err)

	_, err = m.AcquireWithRetry(ctx, "room:abc", time.Minute, 3, 5*time.Millisecond)
	assert.Equal(t, apierror.Busy, apierror.KindOf(err))
}

func TestRegistryMembers(t *testing.T) {
	m, mr := newTestMutex(t)
	defer mr.Close()

	ctx := context.Background()
	l, err := m.Acquire(ctx, "recording:room-1", time.Minute)
	require.NoError(t, err)

	members, err := m.RegistryMembers(ctx)
	require.NoError(t, err)
	assert.Contains(t, members, "recording:room-1")

	require.NoError(t, m.Release(ctx, l))

	members, err = m.RegistryMembers(ctx)
	require.NoError(t, err)
	assert.NotContains(t, members, "recording:room-1")
}
