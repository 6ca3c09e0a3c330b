package nameres

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/ovmeet/control-plane/internal/apierror"
	"github.com/ovmeet/control-plane/internal/lock"
	"github.com/ovmeet/control-plane/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEngine(t *testing.T) (*Engine, *miniredis.Miniredis) {
	mr, err := miniredis.Run()
	require.NoError(t, err)

	sc, err := store.New(store.Options{Addr: mr.Addr()})
	require.NoError(t, err)

	return New(sc, lock.New(sc), Options{}), mr
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, "Bob Smith", Normalize("  Bob   Smith  "))
	assert.Equal(t, "", Normalize("   "))
}

func TestReserveFirstComerGetsVerbatimName(t *testing.T) {
	e, mr := newTestEngine(t)
	defer mr.Close()

	r, err := e.Reserve(context.Background(), "room-1", "Bob")
	require.NoError(t, err)
	assert.Equal(t, "Bob", r.AssignedName)
}

func TestReserveCollisionAssignsSuffix(t *testing.T) {
	e, mr := newTestEngine(t)
	defer mr.Close()

	ctx := context.Background()
	r1, err := e.Reserve(ctx, "room-1", "Bob")
	require.NoError(t, err)
	assert.Equal(t, "Bob", r1.AssignedName)

	r2, err := e.Reserve(ctx, "room-1", "Bob")
	require.NoError(t, err)
	assert.Equal(t, "Bob (1)", r2.AssignedName)

	r3, err := e.Reserve(ctx, "room-1", "Bob")
	require.NoError(t, err)
	assert.Equal(t, "Bob (2)", r3.AssignedName)
}

func TestReleaseThenReacquireReusesLowestFreedSuffix(t *testing.T) {
	e, mr := newTestEngine(t)
	defer mr.Close()

	ctx := context.Background()
	_, err := e.Reserve(ctx, "room-1", "Bob")
	require.NoError(t, err)
	r2, err := e.Reserve(ctx, "room-1", "Bob")
	require.NoError(t, err)
	r3, err := e.Reserve(ctx, "room-1", "Bob")
	require.NoError(t, err)

	require.NoError(t, e.Release(ctx, "room-1", r2.AssignedName))

	r4, err := e.Reserve(ctx, "room-1", "Bob")
	require.NoError(t, err)
	assert.Equal(t, r2.AssignedName, r4.AssignedName, "the freed suffix should be reused before minting a new high-water value")

	require.NoError(t, e.Release(ctx, "room-1", r3.AssignedName))
	require.NoError(t, e.Release(ctx, "room-1", r4.AssignedName))
}

func TestReserveDifferentRoomsDoNotCollide(t *testing.T) {
	e, mr := newTestEngine(t)
	defer mr.Close()

	ctx := context.Background()
	r1, err := e.Reserve(ctx, "room-1", "Bob")
	require.NoError(t, err)
	r2, err := e.Reserve(ctx, "room-2", "Bob")
	require.NoError(t, err)

	assert.Equal(t, "Bob", r1.AssignedName)
	assert.Equal(t, "Bob", r2.AssignedName)
}

func TestConcurrentReservationsNoDuplicates(t *testing.T) {
	e, mr := newTestEngine(t)
	defer mr.Close()

	const n = 20
	names := make(chan string, n)
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			r, err := e.Reserve(context.Background(), "room-1", "Bob")
			require.NoError(t, err)
			names <- r.AssignedName
		}()
	}
	wg.Wait()
	close(names)

	seen := make(map[string]bool)
	for name := range names {
		assert.False(t, seen[name], "name %q assigned more than once", name)
		seen[name] = true
	}
	assert.Len(t, seen, n)
}

func TestReserveRejectsOverConcurrencyCap(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	sc, err := store.New(store.Options{Addr: mr.Addr()})
	require.NoError(t, err)
	e := New(sc, lock.New(sc), Options{MaxConcurrentNameRequests: 1})

	base := e.counter("room-1", "Bob")
	*base = 1 // simulate one in-flight request already holding the slot

	_, err = e.Reserve(context.Background(), "room-1", "Bob")
	assert.Equal(t, apierror.Busy, apierror.KindOf(err))
}

func TestReserveEmptyNameRejected(t *testing.T) {
	e, mr := newTestEngine(t)
	defer mr.Close()

	_, err := e.Reserve(context.Background(), "room-1", "   ")
	assert.Equal(t, apierror.Validation, apierror.KindOf(err))
}

func TestReservationExpiryReleasesBaseNameLazily(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	sc, err := store.New(store.Options{Addr: mr.Addr()})
	require.NoError(t, err)
	e := New(sc, lock.New(sc), Options{ReservationTTL: 10 * time.Millisecond})

	ctx := context.Background()
	r1, err := e.Reserve(ctx, "room-1", "Bob")
	require.NoError(t, err)
	assert.Equal(t, "Bob", r1.AssignedName)

	time.Sleep(30 * time.Millisecond)

	r2, err := e.Reserve(ctx, "room-1", "Bob")
	require.NoError(t, err)
	assert.Equal(t, "Bob", r2.AssignedName, "an expired reservation must be reclaimable without an explicit release")
}

func TestReleaseOfVerbatimNameIsNoop(t *testing.T) {
	e, mr := newTestEngine(t)
	defer mr.Close()

	ctx := context.Background()
	r, err := e.Reserve(ctx, "room-1", "Bob")
	require.NoError(t, err)
	require.NoError(t, e.Release(ctx, "room-1", r.AssignedName))

	r2, err := e.Reserve(ctx, "room-1", "Bob")
	require.NoError(t, err)
	assert.Equal(t, "Bob", r2.AssignedName)
}

func ExampleNormalize() {
	fmt.Println(Normalize("  Alice   Doe "))
	// Output: Alice Doe
}
