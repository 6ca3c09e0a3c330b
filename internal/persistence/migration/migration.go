// Package migration implements the resumable schema-version migration
// framework: a global guard lock, a registry of pure transforms, and a
// history collection recording progress so a failed run resumes rather
// than restarting from scratch.
package migration

import (
	"context"
	"time"

	"github.com/ovmeet/control-plane/internal/apierror"
	"github.com/ovmeet/control-plane/internal/lock"
	"github.com/ovmeet/control-plane/internal/logging"
	"github.com/ovmeet/control-plane/internal/persistence"
	"go.uber.org/zap"
)

// globalGuardResource is the lock name guarding the whole migration run,
// so that only one replica executes migrations on startup.
const globalGuardResource = "MIGRATION"

// Migration is a named, pure transform between two schema versions.
type Migration struct {
	Name string
	Run  func(ctx context.Context) error
}

// Runner executes a registry of Migrations in order, recording progress
// in a MigrationRepository so a failed or interrupted run resumes
// instead of duplicating work already done.
type Runner struct {
	repo  persistence.MigrationRepository
	mutex *lock.Mutex
}

// New constructs a Runner.
func New(repo persistence.MigrationRepository, mutex *lock.Mutex) *Runner {
	return &Runner{repo: repo, mutex: mutex}
}

// RunPending executes every migration in order not already recorded as
// completed. It acquires the global MIGRATION lock for the duration of
// the run; callers on other replicas observe apierror(Busy) and should
// treat migrations as already being handled elsewhere.
func (r *Runner) RunPending(ctx context.Context, migrations []Migration) error {
	l, err := r.mutex.AcquireWithRetry(ctx, globalGuardResource, 10*time.Minute, 3, time.Second)
	if err != nil {
		return err
	}
	defer func() { _ = r.mutex.Release(ctx, l) }()

	for _, m := range migrations {
		if err := r.runOne(ctx, m); err != nil {
			return err
		}
	}
	return nil
}

func (r *Runner) runOne(ctx context.Context, m Migration) error {
	existing, err := r.repo.Get(ctx, m.Name)
	if err != nil && apierror.KindOf(err) != apierror.NotFound {
		return err
	}

	if existing != nil && existing.Status == persistence.MigrationCompleted {
		logging.Info(ctx, "migration already completed, skipping", zap.String("migration", m.Name))
		return nil
	}

	rec := &persistence.MigrationRecord{
		Name:      m.Name,
		Status:    persistence.MigrationRunning,
		StartedAt: time.Now(),
	}
	if existing != nil {
		// Resume: keep the original StartedAt, update the same row
		// rather than inserting a duplicate.
		rec.StartedAt = existing.StartedAt
	}
	if err := r.repo.Upsert(ctx, rec); err != nil {
		return err
	}

	logging.Info(ctx, "running migration", zap.String("migration", m.Name))
	if err := m.Run(ctx); err != nil {
		rec.Status = persistence.MigrationFailed
		rec.Error = err.Error()
		_ = r.repo.Upsert(ctx, rec)
		return apierror.Wrap(apierror.Internal, err, "migration failed: "+m.Name)
	}

	now := time.Now()
	rec.Status = persistence.MigrationCompleted
	rec.CompletedAt = &now
	rec.Error = ""
	return r.repo.Upsert(ctx, rec)
}
