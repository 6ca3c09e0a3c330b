package mongostore

import (
	"context"
	"testing"

	"github.com/ovmeet/control-plane/internal/persistence"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/mongo/integration/mtest"
)

func TestMigrationStore_UpsertReplacesExistingRow(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))
	defer mt.Close()

	mt.Run("upsert", func(mt *mtest.T) {
		mt.AddMockResponses(mtest.CreateSuccessResponse())
		s := &MigrationStore{coll: mt.Coll}

		rec := &persistence.MigrationRecord{Name: "legacy_storage_to_mongodb", Status: persistence.MigrationRunning}
		require.NoError(t, s.Upsert(context.Background(), rec))
	})
}
