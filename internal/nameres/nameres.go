// Package nameres implements the Name Reservation Engine: concurrent
// issuance of unique, human-friendly participant display names per room,
// with numeric-suffix recycling and bounded per-name contention.
package nameres

import (
	"context"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ovmeet/control-plane/internal/apierror"
	"github.com/ovmeet/control-plane/internal/lock"
	"github.com/ovmeet/control-plane/internal/metrics"
	"github.com/ovmeet/control-plane/internal/store"
	"github.com/redis/go-redis/v9"
)

const (
	activeKeyPrefix    = "ov_meet:room_participants:"
	poolKeyPrefix      = "ov_meet:participant_pool:"
	highwaterKeyPrefix = "ov_meet:participant_pool_highwater:"
	allocLockPrefix    = "name_alloc:"
	maxBaseNameLength  = 64
)

// reserveScript atomically checks whether base is free (or its prior
// reservation has lazily expired), and otherwise assigns the lowest
// available numeric suffix, recycling from the freed-suffix pool before
// minting a new high-water value.
var reserveScript = redis.NewScript(`
	local active = KEYS[1]
	local pool = KEYS[2]
	local highwater = KEYS[3]
	local base = ARGV[1]
	local expiry = ARGV[2]
	local now = tonumber(ARGV[3])

	local score = redis.call('ZSCORE', active, base)
	if (not score) or (tonumber(score) < now) then
		redis.call('ZADD', active, expiry, base)
		return base
	end

	local popped = redis.call('ZPOPMIN', pool, 1)
	local assigned
	if popped[1] then
		assigned = base .. ' (' .. popped[1] .. ')'
	else
		local n = redis.call('INCR', highwater)
		assigned = base .. ' (' .. n .. ')'
	end

	redis.call('ZADD', active, expiry, assigned)
	return assigned
`)

var suffixPattern = regexp.MustCompile(`^(.*) \((\d+)\)$`)

// Engine allocates and releases participant display names.
type Engine struct {
	store *store.Client
	mutex *lock.Mutex

	reservationTTL time.Duration
	maxConcurrent  int32
	allocLockTTL   time.Duration

	inflightMu sync.Mutex
	inflight   map[string]*int32
}

// Options configures an Engine.
type Options struct {
	ReservationTTL            time.Duration
	MaxConcurrentNameRequests int
	// AllocLockTTL bounds how long the per-room allocation lock may be
	// held; the algorithm itself is a handful of store round-trips.
	AllocLockTTL time.Duration
}

// New constructs a name reservation Engine.
func New(s *store.Client, m *lock.Mutex, opts Options) *Engine {
	if opts.ReservationTTL == 0 {
		opts.ReservationTTL = 12 * time.Hour
	}
	if opts.MaxConcurrentNameRequests == 0 {
		opts.MaxConcurrentNameRequests = 20
	}
	if opts.AllocLockTTL == 0 {
		opts.AllocLockTTL = 5 * time.Second
	}
	return &Engine{
		store:          s,
		mutex:          m,
		reservationTTL: opts.ReservationTTL,
		maxConcurrent:  int32(opts.MaxConcurrentNameRequests),
		allocLockTTL:   opts.AllocLockTTL,
		inflight:       make(map[string]*int32),
	}
}

// Normalize trims, collapses internal whitespace, and bounds the length
// of a requested display name to produce its base name.
func Normalize(requestedName string) string {
	fields := strings.Fields(requestedName)
	base := strings.Join(fields, " ")
	if len(base) > maxBaseNameLength {
		base = base[:maxBaseNameLength]
	}
	return base
}

func activeKey(roomID string) string     { return activeKeyPrefix + roomID }
func poolKey(roomID, base string) string { return poolKeyPrefix + roomID + ":" + base }
func highwaterKey(roomID, base string) string {
	return highwaterKeyPrefix + roomID + ":" + base
}

func (e *Engine) counter(roomID, base string) *int32 {
	key := roomID + "\x00" + base
	e.inflightMu.Lock()
	defer e.inflightMu.Unlock()
	c, ok := e.inflight[key]
	if !ok {
		c = new(int32)
		e.inflight[key] = c
	}
	return c
}

// Reservation is the result of a successful name allocation.
type Reservation struct {
	AssignedName string
	ExpiresAt    time.Time
}

// Reserve allocates a display name for a participant joining roomID,
// per the algorithm in the engine's component design: exact-base reuse,
// then freed-suffix recycling, then a fresh numeric suffix.
func (e *Engine) Reserve(ctx context.Context, roomID, requestedName string) (*Reservation, error) {
	base := Normalize(requestedName)
	if base == "" {
		return nil, apierror.New(apierror.Validation, "participant name must not be empty")
	}

	counter := e.counter(roomID, base)
	if atomic.AddInt32(counter, 1) > e.maxConcurrent {
		atomic.AddInt32(counter, -1)
		metrics.NameReservationRejections.WithLabelValues("concurrency_cap").Inc()
		return nil, apierror.New(apierror.Busy, "too many concurrent reservation attempts for this name").WithField("baseName", base)
	}
	defer atomic.AddInt32(counter, -1)

	resource := allocLockPrefix + roomID
	l, err := e.mutex.AcquireWithRetry(ctx, resource, e.allocLockTTL, 5, 20*time.Millisecond)
	if err != nil {
		metrics.NameReservationRejections.WithLabelValues("lock_contention").Inc()
		return nil, err
	}
	defer func() { _ = e.mutex.Release(ctx, l) }()

	now := time.Now()
	expiresAt := now.Add(e.reservationTTL)

	res, err := e.store.Eval(ctx, reserveScript,
		[]string{activeKey(roomID), poolKey(roomID, base), highwaterKey(roomID, base)},
		base, expiresAt.UnixMilli(), now.UnixMilli(),
	)
	if err != nil {
		return nil, err
	}

	assigned, ok := res.(string)
	if !ok {
		return nil, apierror.New(apierror.Internal, "unexpected reservation script result")
	}

	metrics.NameReservationsActive.WithLabelValues(roomID).Inc()
	return &Reservation{AssignedName: assigned, ExpiresAt: expiresAt}, nil
}

// Release frees name in roomID: removes it from the active set and, if
// it carries a numeric suffix, pushes that suffix back into the pool for
// the next allocation to reuse. Called on media-server participant
// departure, or lazily superseded by expiry at the next Reserve for the
// same base name.
func (e *Engine) Release(ctx context.Context, roomID, name string) error {
	if err := e.store.ZRem(ctx, activeKey(roomID), name); err != nil {
		return err
	}
	metrics.NameReservationsActive.WithLabelValues(roomID).Dec()

	m := suffixPattern.FindStringSubmatch(name)
	if m == nil {
		return nil
	}
	base, suffixStr := m[1], m[2]
	suffix, err := strconv.ParseFloat(suffixStr, 64)
	if err != nil {
		return nil
	}
	return e.store.ZAdd(ctx, poolKey(roomID, base), suffix, suffixStr)
}
