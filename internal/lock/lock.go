// Package lock implements the Mutex primitive: a Redlock-style,
// lease-based distributed lock over the Coordination Store Client. It is
// the primitive every other coordination-dependent component is built on.
package lock

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"time"

	"github.com/ovmeet/control-plane/internal/apierror"
	"github.com/ovmeet/control-plane/internal/metrics"
	"github.com/ovmeet/control-plane/internal/store"
	"github.com/redis/go-redis/v9"
)

const (
	lockKeyPrefix   = "ov_meet_lock:"
	lockRegistryKey = "ov_meet_lock_registry:"
)

// releaseScript compares the caller's token before deleting, so a lock can
// only ever be released by the holder that acquired it.
var releaseScript = redis.NewScript(`
	if redis.call('GET', KEYS[1]) == ARGV[1] then
		return redis.call('DEL', KEYS[1])
	end
	return 0
`)

// extendScript refreshes the TTL only if the caller still holds the lease.
var extendScript = redis.NewScript(`
	if redis.call('GET', KEYS[1]) == ARGV[1] then
		return redis.call('PEXPIRE', KEYS[1], ARGV[2])
	end
	return 0
`)

// Lock represents a held lease. The zero value is not valid; obtain one
// from Mutex.Acquire.
type Lock struct {
	Resource string
	Token    string
	acquired time.Time
}

// Mutex grants leaseable, cross-replica exclusive locks backed by the
// Coordination Store Client.
type Mutex struct {
	store *store.Client
}

// New constructs a Mutex over the given store client.
func New(s *store.Client) *Mutex {
	return &Mutex{store: s}
}

func key(resource string) string {
	return lockKeyPrefix + resource
}

func newToken() string {
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

// Acquire makes a single, non-blocking attempt to obtain resource for ttl.
// Returns nil, apierror(Busy) if already held by someone else, and
// nil, apierror(DependencyUnavailable) if the store is unreachable — in
// both cases the caller MUST treat the lock as not held.
func (m *Mutex) Acquire(ctx context.Context, resource string, ttl time.Duration) (*Lock, error) {
	token := newToken()
	ok, err := m.store.SetNX(ctx, key(resource), token, ttl)
	if err != nil {
		metrics.LockAcquireTotal.WithLabelValues(resource, "error").Inc()
		return nil, err
	}
	if !ok {
		metrics.LockAcquireTotal.WithLabelValues(resource, "contended").Inc()
		return nil, apierror.New(apierror.Busy, "lock already held").WithField("resource", resource)
	}

	if err := m.store.SAdd(ctx, lockRegistryKey, resource); err != nil {
		// Registry membership is an observability/GC aid, not correctness-critical
		// for mutual exclusion; the lock itself is already held.
	}

	metrics.LockAcquireTotal.WithLabelValues(resource, "acquired").Inc()
	return &Lock{Resource: resource, Token: token, acquired: time.Now()}, nil
}

// AcquireWithRetry retries Acquire up to maxAttempts times with backoff
// between attempts, returning the first success or the last failure.
func (m *Mutex) AcquireWithRetry(ctx context.Context, resource string, ttl time.Duration, maxAttempts int, backoff time.Duration) (*Lock, error) {
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		lock, err := m.Acquire(ctx, resource, ttl)
		if err == nil {
			return lock, nil
		}
		lastErr = err
		if apierror.KindOf(err) == apierror.DependencyUnavailable {
			return nil, err
		}
		select {
		case <-ctx.Done():
			return nil, apierror.Wrap(apierror.Cancelled, ctx.Err(), "acquire cancelled")
		case <-time.After(backoff):
		}
	}
	return nil, lastErr
}

// Release drops the lease. It is idempotent and a no-op if the lock was
// already released or expired; it never releases another holder's lease.
func (m *Mutex) Release(ctx context.Context, l *Lock) error {
	if l == nil {
		return nil
	}
	_, err := m.store.Eval(ctx, releaseScript, []string{key(l.Resource)}, l.Token)
	if err != nil {
		return err
	}
	if !l.acquired.IsZero() {
		metrics.LockHeldDuration.WithLabelValues(l.Resource).Observe(time.Since(l.acquired).Seconds())
	}
	_ = m.store.SRem(ctx, lockRegistryKey, l.Resource)
	return nil
}

// Resume reconstructs a Lock handle for a resource/token pair persisted
// elsewhere (e.g. on a database row), so a process other than the one
// that called Acquire can still Release it by its real token.
func (m *Mutex) Resume(resource, token string) *Lock {
	return &Lock{Resource: resource, Token: token}
}

// ForceRelease deletes resource's lease unconditionally, without checking
// the holder's token. Reserved for GC paths reclaiming a lock whose
// original token is unavailable, e.g. the row that held it was deleted or
// the process that acquired it crashed before releasing.
func (m *Mutex) ForceRelease(ctx context.Context, resource string) error {
	if err := m.store.Del(ctx, key(resource)); err != nil {
		return err
	}
	_ = m.store.SRem(ctx, lockRegistryKey, resource)
	return nil
}

// Extend refreshes the lease to ttl, required before a long operation
// outruns its original lease. Returns apierror(Conflict) if the caller no
// longer holds the lock (e.g. it already expired).
func (m *Mutex) Extend(ctx context.Context, l *Lock, ttl time.Duration) error {
	if l == nil {
		return apierror.New(apierror.Internal, "extend called on nil lock")
	}
	res, err := m.store.Eval(ctx, extendScript, []string{key(l.Resource)}, l.Token, ttl.Milliseconds())
	if err != nil {
		return err
	}
	if n, ok := res.(int64); !ok || n == 0 {
		return apierror.New(apierror.Conflict, "lock no longer held").WithField("resource", l.Resource)
	}
	return nil
}

// RegistryMembers lists every resource name with an active or orphaned
// lock entry, used by recording_lock_gc.
func (m *Mutex) RegistryMembers(ctx context.Context) ([]string, error) {
	return m.store.SMembers(ctx, lockRegistryKey)
}

// Held reports whether resource is currently locked by anyone, without
// acquiring it.
func (m *Mutex) Held(ctx context.Context, resource string) (bool, error) {
	_, err := m.store.Get(ctx, key(resource))
	if err != nil {
		if apierror.KindOf(err) == apierror.NotFound {
			return false, nil
		}
		return false, err
	}
	return true, nil
}
