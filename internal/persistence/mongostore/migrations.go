package mongostore

import (
	"context"

	"github.com/ovmeet/control-plane/internal/apierror"
	"github.com/ovmeet/control-plane/internal/persistence"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MigrationStore implements persistence.MigrationRepository over MongoDB.
type MigrationStore struct {
	coll *mongo.Collection
}

// NewMigrationStore constructs a MigrationStore against c's database.
func NewMigrationStore(c *Client) *MigrationStore {
	return &MigrationStore{coll: c.db.Collection(migrationsCollection)}
}

func (s *MigrationStore) Get(ctx context.Context, name string) (*persistence.MigrationRecord, error) {
	var rec persistence.MigrationRecord
	err := s.coll.FindOne(ctx, bson.M{"_id": name}).Decode(&rec)
	if err == mongo.ErrNoDocuments {
		return nil, apierror.New(apierror.NotFound, "no migration record: "+name)
	}
	if err != nil {
		return nil, wrapMongoErr(err, "migration record")
	}
	return &rec, nil
}

// Upsert replaces the record for rec.Name in place, which is what makes a
// resumed migration update the existing RUNNING row rather than insert a
// duplicate.
func (s *MigrationStore) Upsert(ctx context.Context, rec *persistence.MigrationRecord) error {
	_, err := s.coll.ReplaceOne(ctx, bson.M{"_id": rec.Name}, rec, options.Replace().SetUpsert(true))
	return wrapMongoErr(err, "migration record")
}
