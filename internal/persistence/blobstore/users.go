package blobstore

import (
	"context"

	"github.com/minio/minio-go/v7"
	"github.com/ovmeet/control-plane/internal/apierror"
	"github.com/ovmeet/control-plane/internal/persistence"
)

// UserStore implements persistence.UserRepository over an S3-compatible
// bucket, one JSON object per user.
type UserStore struct {
	c *Client
}

// NewUserStore constructs a UserStore against c.
func NewUserStore(c *Client) *UserStore {
	return &UserStore{c: c}
}

func userKey(id string) string { return usersPrefix + id }

func (s *UserStore) Create(ctx context.Context, u *persistence.User) error {
	return s.c.putJSON(ctx, userKey(u.UserID), u)
}

func (s *UserStore) Get(ctx context.Context, userID string) (*persistence.User, error) {
	var u persistence.User
	if err := s.c.getJSON(ctx, userKey(userID), &u); err != nil {
		return nil, err
	}
	return &u, nil
}

// GetByName scans every user object since the legacy backend has no
// secondary index; acceptable for the small administrative user sets this
// backend was designed around.
func (s *UserStore) GetByName(ctx context.Context, name string) (*persistence.User, error) {
	objCh := s.c.raw.ListObjects(ctx, s.c.bucket, minio.ListObjectsOptions{Prefix: usersPrefix})
	for obj := range objCh {
		if obj.Err != nil {
			return nil, apierror.Wrap(apierror.DependencyUnavailable, obj.Err, "list users")
		}
		var u persistence.User
		if err := s.c.getJSON(ctx, obj.Key, &u); err != nil {
			return nil, err
		}
		if u.Name == name {
			return &u, nil
		}
	}
	return nil, apierror.New(apierror.NotFound, "user not found: "+name)
}

func (s *UserStore) Update(ctx context.Context, u *persistence.User) error {
	return s.c.putJSON(ctx, userKey(u.UserID), u)
}

func (s *UserStore) Delete(ctx context.Context, userID string) error {
	return s.c.deleteKey(ctx, userKey(userID))
}
