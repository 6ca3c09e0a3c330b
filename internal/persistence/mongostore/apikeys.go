package mongostore

import (
	"context"

	"github.com/ovmeet/control-plane/internal/apierror"
	"github.com/ovmeet/control-plane/internal/persistence"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// APIKeyStore implements persistence.APIKeyRepository over MongoDB.
type APIKeyStore struct {
	coll *mongo.Collection
}

// NewAPIKeyStore constructs an APIKeyStore against c's database.
func NewAPIKeyStore(c *Client) *APIKeyStore {
	return &APIKeyStore{coll: c.db.Collection(apiKeysCollection)}
}

func (s *APIKeyStore) Create(ctx context.Context, k *persistence.APIKey) error {
	_, err := s.coll.InsertOne(ctx, k)
	return wrapMongoErr(err, "api key")
}

func (s *APIKeyStore) Get(ctx context.Context, keyID string) (*persistence.APIKey, error) {
	var k persistence.APIKey
	if err := s.coll.FindOne(ctx, bson.M{"_id": keyID}).Decode(&k); err != nil {
		return nil, wrapMongoErr(err, "api key not found: "+keyID)
	}
	return &k, nil
}

func (s *APIKeyStore) ListActive(ctx context.Context) ([]*persistence.APIKey, error) {
	cur, err := s.coll.Find(ctx, bson.M{"active": true}, options.Find())
	if err != nil {
		return nil, wrapMongoErr(err, "api keys")
	}
	defer cur.Close(ctx)

	var keys []*persistence.APIKey
	for cur.Next(ctx) {
		var k persistence.APIKey
		if err := cur.Decode(&k); err != nil {
			return nil, wrapMongoErr(err, "api keys")
		}
		keys = append(keys, &k)
	}
	return keys, wrapMongoErr(cur.Err(), "api keys")
}

func (s *APIKeyStore) Revoke(ctx context.Context, keyID string) error {
	res, err := s.coll.UpdateOne(ctx, bson.M{"_id": keyID}, bson.M{"$set": bson.M{"active": false}})
	if err != nil {
		return wrapMongoErr(err, "api key")
	}
	if res.MatchedCount == 0 {
		return apierror.New(apierror.NotFound, "api key not found: "+keyID)
	}
	return nil
}
