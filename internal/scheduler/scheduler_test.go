package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/ovmeet/control-plane/internal/lock"
	"github.com/ovmeet/control-plane/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestScheduler(t *testing.T, mr *miniredis.Miniredis) *Scheduler {
	sc, err := store.New(store.Options{Addr: mr.Addr()})
	require.NoError(t, err)
	return New(lock.New(sc))
}

func TestRegisterRejectsInvalidSchedule(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	s := newTestScheduler(t, mr)
	err = s.Register(Job{Name: "bad", Schedule: "not a cron expression", Handler: func(ctx context.Context) error { return nil }})
	assert.Error(t, err)
}

func TestJobRunsOnTick(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	s := newTestScheduler(t, mr)

	var runs int32
	err = s.Register(Job{
		Name:       "every-tick",
		Schedule:   "* * * * *",
		MinLockTTL: 200 * time.Millisecond,
		Handler: func(ctx context.Context) error {
			atomic.AddInt32(&runs, 1)
			return nil
		},
	})
	require.NoError(t, err)

	// Directly exercise the tick logic rather than waiting for a real
	// minute boundary.
	ctx := context.Background()
	job := s.jobs[0]
	s.runTick(ctx, job)

	assert.Equal(t, int32(1), atomic.LoadInt32(&runs))
}

func TestOnlyOneReplicaWinsPerTick(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	sc, err := store.New(store.Options{Addr: mr.Addr()})
	require.NoError(t, err)
	mutex := lock.New(sc)

	var runs int32
	job := &Job{
		Name:       "room_gc",
		MinLockTTL: time.Minute,
		Handler: func(ctx context.Context) error {
			atomic.AddInt32(&runs, 1)
			return nil
		},
	}

	replicas := 5
	var wg sync.WaitGroup
	wg.Add(replicas)
	for i := 0; i < replicas; i++ {
		s := &Scheduler{mutex: mutex}
		go func() {
			defer wg.Done()
			s.runTick(context.Background(), job)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&runs), "exactly one replica should execute the handler per tick")
}

func TestStopWaitsForInFlightHandler(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	s := newTestScheduler(t, mr)

	done := make(chan struct{})
	err = s.Register(Job{
		Name:       "slow-job",
		Schedule:   "* * * * *",
		MinLockTTL: time.Minute,
		Handler: func(ctx context.Context) error {
			time.Sleep(20 * time.Millisecond)
			close(done)
			return nil
		},
	})
	require.NoError(t, err)

	ctx := context.Background()
	job := s.jobs[len(s.jobs)-1]
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.runTick(ctx, job)
	}()

	s.Stop()
	select {
	case <-done:
	default:
		t.Fatal("Stop returned before in-flight handler finished")
	}
}
