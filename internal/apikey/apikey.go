// Package apikey manages opaque bearer credentials used by automated
// clients of the control plane's REST surface: generation, verification,
// and rotation.
package apikey

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"time"

	"github.com/google/uuid"
	"github.com/ovmeet/control-plane/internal/apierror"
	"github.com/ovmeet/control-plane/internal/persistence"
)

const secretBytes = 32

// Manager owns the lifecycle of API keys.
type Manager struct {
	repo persistence.APIKeyRepository
}

// New constructs a Manager.
func New(repo persistence.APIKeyRepository) *Manager {
	return &Manager{repo: repo}
}

// Create mints a new API key and revokes every previously active one, so
// at most one key is active at a time. The returned plaintext is shown to
// the caller exactly once; only its hash is persisted.
func (m *Manager) Create(ctx context.Context) (plaintext string, key *persistence.APIKey, err error) {
	prior, err := m.repo.ListActive(ctx)
	if err != nil {
		return "", nil, err
	}

	secret, err := randomSecret()
	if err != nil {
		return "", nil, apierror.Wrap(apierror.Internal, err, "generate api key secret")
	}

	keyID := uuid.NewString()
	plaintext = keyID + "." + secret

	key = &persistence.APIKey{
		KeyID:     keyID,
		HashedKey: hashSecret(secret),
		CreatedAt: time.Now(),
		Active:    true,
	}
	if err := m.repo.Create(ctx, key); err != nil {
		return "", nil, err
	}
	for _, k := range prior {
		if err := m.repo.Revoke(ctx, k.KeyID); err != nil {
			return "", nil, err
		}
	}
	return plaintext, key, nil
}

// Verify parses a presented "{keyId}.{secret}" credential and confirms it
// matches an active, unrevoked key.
func (m *Manager) Verify(ctx context.Context, plaintext string) (*persistence.APIKey, error) {
	keyID, secret, ok := splitCredential(plaintext)
	if !ok {
		return nil, apierror.New(apierror.Unauthenticated, "malformed api key")
	}

	key, err := m.repo.Get(ctx, keyID)
	if err != nil {
		if apierror.KindOf(err) == apierror.NotFound {
			return nil, apierror.New(apierror.Unauthenticated, "invalid api key")
		}
		return nil, err
	}

	if !key.Active {
		return nil, apierror.New(apierror.Unauthenticated, "api key revoked")
	}

	if subtle.ConstantTimeCompare([]byte(hashSecret(secret)), []byte(key.HashedKey)) != 1 {
		return nil, apierror.New(apierror.Unauthenticated, "invalid api key")
	}
	return key, nil
}

// Revoke deactivates a key.
func (m *Manager) Revoke(ctx context.Context, keyID string) error {
	return m.repo.Revoke(ctx, keyID)
}

// Rotate mints a replacement key first and then revokes oldKeyID, so
// there is no moment at which neither key is valid.
func (m *Manager) Rotate(ctx context.Context, oldKeyID string) (plaintext string, key *persistence.APIKey, err error) {
	plaintext, key, err = m.Create(ctx)
	if err != nil {
		return "", nil, err
	}
	if err := m.repo.Revoke(ctx, oldKeyID); err != nil {
		return "", nil, err
	}
	return plaintext, key, nil
}

// ListActive returns all currently active keys.
func (m *Manager) ListActive(ctx context.Context) ([]*persistence.APIKey, error) {
	return m.repo.ListActive(ctx)
}

func randomSecret() (string, error) {
	b := make([]byte, secretBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

func hashSecret(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}

func splitCredential(plaintext string) (keyID, secret string, ok bool) {
	for i := 0; i < len(plaintext); i++ {
		if plaintext[i] == '.' {
			return plaintext[:i], plaintext[i+1:], true
		}
	}
	return "", "", false
}
