package apikey

import (
	"context"
	"sync"
	"testing"

	"github.com/ovmeet/control-plane/internal/apierror"
	"github.com/ovmeet/control-plane/internal/persistence"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAPIKeyRepo struct {
	mu   sync.Mutex
	keys map[string]*persistence.APIKey
}

func newFakeAPIKeyRepo() *fakeAPIKeyRepo {
	return &fakeAPIKeyRepo{keys: map[string]*persistence.APIKey{}}
}

func (f *fakeAPIKeyRepo) Create(_ context.Context, k *persistence.APIKey) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *k
	f.keys[k.KeyID] = &cp
	return nil
}

func (f *fakeAPIKeyRepo) Get(_ context.Context, keyID string) (*persistence.APIKey, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	k, ok := f.keys[keyID]
	if !ok {
		return nil, apierror.New(apierror.NotFound, "no such key")
	}
	cp := *k
	return &cp, nil
}

func (f *fakeAPIKeyRepo) ListActive(_ context.Context) ([]*persistence.APIKey, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*persistence.APIKey
	for _, k := range f.keys {
		if k.Active {
			cp := *k
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f *fakeAPIKeyRepo) Revoke(_ context.Context, keyID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if k, ok := f.keys[keyID]; ok {
		k.Active = false
	}
	return nil
}

func TestCreateAndVerifyRoundTrips(t *testing.T) {
	m := New(newFakeAPIKeyRepo())
	ctx := context.Background()

	plaintext, key, err := m.Create(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, plaintext)

	verified, err := m.Verify(ctx, plaintext)
	require.NoError(t, err)
	assert.Equal(t, key.KeyID, verified.KeyID)
}

func TestVerifyRejectsTamperedSecret(t *testing.T) {
	m := New(newFakeAPIKeyRepo())
	ctx := context.Background()

	plaintext, key, err := m.Create(ctx)
	require.NoError(t, err)

	tampered := key.KeyID + ".not-the-real-secret"
	_, err = m.Verify(ctx, tampered)
	require.Error(t, err)
	assert.Equal(t, apierror.Unauthenticated, apierror.KindOf(err))
	assert.NotEqual(t, plaintext, tampered)
}

func TestVerifyRejectsRevokedKey(t *testing.T) {
	m := New(newFakeAPIKeyRepo())
	ctx := context.Background()

	plaintext, key, err := m.Create(ctx)
	require.NoError(t, err)
	require.NoError(t, m.Revoke(ctx, key.KeyID))

	_, err = m.Verify(ctx, plaintext)
	require.Error(t, err)
	assert.Equal(t, apierror.Unauthenticated, apierror.KindOf(err))
}

func TestRotateRevokesOldKeyAndMintsNew(t *testing.T) {
	m := New(newFakeAPIKeyRepo())
	ctx := context.Background()

	oldPlaintext, oldKey, err := m.Create(ctx)
	require.NoError(t, err)

	newPlaintext, newKey, err := m.Rotate(ctx, oldKey.KeyID)
	require.NoError(t, err)
	assert.NotEqual(t, oldKey.KeyID, newKey.KeyID)

	_, err = m.Verify(ctx, oldPlaintext)
	require.Error(t, err, "old key must no longer verify after rotation")

	verified, err := m.Verify(ctx, newPlaintext)
	require.NoError(t, err)
	assert.Equal(t, newKey.KeyID, verified.KeyID)
}

func TestVerifyRejectsMalformedCredential(t *testing.T) {
	m := New(newFakeAPIKeyRepo())
	_, err := m.Verify(context.Background(), "no-dot-separator")
	require.Error(t, err)
	assert.Equal(t, apierror.Unauthenticated, apierror.KindOf(err))
}
