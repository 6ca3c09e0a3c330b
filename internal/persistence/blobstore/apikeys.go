package blobstore

import (
	"context"

	"github.com/minio/minio-go/v7"
	"github.com/ovmeet/control-plane/internal/apierror"
	"github.com/ovmeet/control-plane/internal/persistence"
)

// APIKeyStore implements persistence.APIKeyRepository over an
// S3-compatible bucket, one JSON object per key.
type APIKeyStore struct {
	c *Client
}

// NewAPIKeyStore constructs an APIKeyStore against c.
func NewAPIKeyStore(c *Client) *APIKeyStore {
	return &APIKeyStore{c: c}
}

func apiKeyKey(id string) string { return apiKeysPrefix + id }

func (s *APIKeyStore) Create(ctx context.Context, k *persistence.APIKey) error {
	return s.c.putJSON(ctx, apiKeyKey(k.KeyID), k)
}

func (s *APIKeyStore) Get(ctx context.Context, keyID string) (*persistence.APIKey, error) {
	var k persistence.APIKey
	if err := s.c.getJSON(ctx, apiKeyKey(keyID), &k); err != nil {
		return nil, err
	}
	return &k, nil
}

func (s *APIKeyStore) ListActive(ctx context.Context) ([]*persistence.APIKey, error) {
	objCh := s.c.raw.ListObjects(ctx, s.c.bucket, minio.ListObjectsOptions{Prefix: apiKeysPrefix})

	var keys []*persistence.APIKey
	for obj := range objCh {
		if obj.Err != nil {
			return nil, apierror.Wrap(apierror.DependencyUnavailable, obj.Err, "list api keys")
		}
		var k persistence.APIKey
		if err := s.c.getJSON(ctx, obj.Key, &k); err != nil {
			return nil, err
		}
		if k.Active {
			keys = append(keys, &k)
		}
	}
	return keys, nil
}

func (s *APIKeyStore) Revoke(ctx context.Context, keyID string) error {
	var k persistence.APIKey
	if err := s.c.getJSON(ctx, apiKeyKey(keyID), &k); err != nil {
		return err
	}
	k.Active = false
	return s.c.putJSON(ctx, apiKeyKey(keyID), &k)
}
