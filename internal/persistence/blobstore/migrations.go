package blobstore

import (
	"context"

	"github.com/ovmeet/control-plane/internal/persistence"
)

// MigrationStore implements persistence.MigrationRepository over an
// S3-compatible bucket, one JSON object per named migration.
type MigrationStore struct {
	c *Client
}

// NewMigrationStore constructs a MigrationStore against c.
func NewMigrationStore(c *Client) *MigrationStore {
	return &MigrationStore{c: c}
}

func migrationKey(name string) string { return migrationsPrefix + name }

func (s *MigrationStore) Get(ctx context.Context, name string) (*persistence.MigrationRecord, error) {
	var rec persistence.MigrationRecord
	if err := s.c.getJSON(ctx, migrationKey(name), &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *MigrationStore) Upsert(ctx context.Context, rec *persistence.MigrationRecord) error {
	return s.c.putJSON(ctx, migrationKey(rec.Name), rec)
}
