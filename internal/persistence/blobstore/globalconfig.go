package blobstore

import (
	"context"

	"github.com/ovmeet/control-plane/internal/apierror"
	"github.com/ovmeet/control-plane/internal/persistence"
)

// GlobalConfigStore implements persistence.GlobalConfigRepository over a
// single well-known object key.
type GlobalConfigStore struct {
	c *Client
}

// NewGlobalConfigStore constructs a GlobalConfigStore against c.
func NewGlobalConfigStore(c *Client) *GlobalConfigStore {
	return &GlobalConfigStore{c: c}
}

func (s *GlobalConfigStore) Get(ctx context.Context) (*persistence.GlobalConfig, error) {
	var cfg persistence.GlobalConfig
	err := s.c.getJSON(ctx, configKey, &cfg)
	if err != nil && apierror.KindOf(err) == apierror.NotFound {
		return &persistence.GlobalConfig{SchemaVersion: 1}, nil
	}
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (s *GlobalConfigStore) Put(ctx context.Context, cfg *persistence.GlobalConfig) error {
	return s.c.putJSON(ctx, configKey, cfg)
}
