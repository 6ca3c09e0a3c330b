package blobstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKeyBuildersNamespaceByPrefix(t *testing.T) {
	assert.Equal(t, "rooms/room-1", roomKey("room-1"))
	assert.Equal(t, "recordings/rec-1", recordingKey("rec-1"))
	assert.Equal(t, "users/user-1", userKey("user-1"))
	assert.Equal(t, "apikeys/key-1", apiKeyKey("key-1"))
	assert.Equal(t, "migrations/legacy_storage_to_mongodb", migrationKey("legacy_storage_to_mongodb"))
	assert.Equal(t, "config/global.json", configKey)
}
