package persistence

import "context"

// Page is a cursor-paginated result set.
type Page[T any] struct {
	Items      []T
	NextCursor string // empty means no further pages
}

// RoomRepository persists Room entities. Implementations: mongostore,
// blobstore.
type RoomRepository interface {
	Create(ctx context.Context, room *Room) error
	Get(ctx context.Context, roomID string) (*Room, error)
	// Update performs an optimistic, version-guarded write; returns
	// apierror(Conflict) if room.Version no longer matches the stored
	// version.
	Update(ctx context.Context, room *Room) error
	Delete(ctx context.Context, roomID string) error
	List(ctx context.Context, cursor string, limit int) (Page[*Room], error)
	// ListExpiring returns open rooms whose AutoDeletionDate is before
	// cutoff, for room_gc.
	ListExpiring(ctx context.Context, cutoff int64, limit int) ([]*Room, error)
}

// RecordingRepository persists Recording entities.
type RecordingRepository interface {
	Create(ctx context.Context, rec *Recording) error
	Get(ctx context.Context, recordingID string) (*Recording, error)
	Update(ctx context.Context, rec *Recording) error
	Delete(ctx context.Context, recordingID string) error
	List(ctx context.Context, cursor string, limit int) (Page[*Recording], error)
	// ListNonTerminalOlderThan supports recording_stale_cleanup.
	ListNonTerminalOlderThan(ctx context.Context, cutoff int64, limit int) ([]*Recording, error)
	// ListByRoom returns recordings belonging to roomID, used by the
	// auto-deletion policy matrix to check "has recordings".
	ListByRoom(ctx context.Context, roomID string) ([]*Recording, error)
}

// GlobalConfigRepository persists the singleton GlobalConfig document.
type GlobalConfigRepository interface {
	Get(ctx context.Context) (*GlobalConfig, error)
	Put(ctx context.Context, cfg *GlobalConfig) error
}

// UserRepository persists User entities.
type UserRepository interface {
	Create(ctx context.Context, u *User) error
	Get(ctx context.Context, userID string) (*User, error)
	GetByName(ctx context.Context, name string) (*User, error)
	Update(ctx context.Context, u *User) error
	Delete(ctx context.Context, userID string) error
}

// APIKeyRepository persists APIKey entities.
type APIKeyRepository interface {
	Create(ctx context.Context, k *APIKey) error
	Get(ctx context.Context, keyID string) (*APIKey, error)
	ListActive(ctx context.Context) ([]*APIKey, error)
	Revoke(ctx context.Context, keyID string) error
}

// MigrationRepository persists MigrationRecord rows so that migration
// runs are resumable across restarts.
type MigrationRepository interface {
	Get(ctx context.Context, name string) (*MigrationRecord, error)
	Upsert(ctx context.Context, rec *MigrationRecord) error
}
