// Package globalconfig exposes the singleton, schema-versioned project
// configuration document as a narrow API over persistence.GlobalConfigRepository.
package globalconfig

import (
	"context"

	"github.com/ovmeet/control-plane/internal/persistence"
)

// Store reads and updates the singleton GlobalConfig document.
type Store struct {
	repo persistence.GlobalConfigRepository
}

// New constructs a Store.
func New(repo persistence.GlobalConfigRepository) *Store {
	return &Store{repo: repo}
}

// Get returns the current configuration, defaulting to schema version 1
// with empty sections when no document has ever been written.
func (s *Store) Get(ctx context.Context) (*persistence.GlobalConfig, error) {
	return s.repo.Get(ctx)
}

// Put persists cfg as the new singleton document.
func (s *Store) Put(ctx context.Context, cfg *persistence.GlobalConfig) error {
	return s.repo.Put(ctx, cfg)
}
