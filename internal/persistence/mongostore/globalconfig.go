package mongostore

import (
	"context"

	"github.com/ovmeet/control-plane/internal/persistence"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// GlobalConfigStore implements persistence.GlobalConfigRepository over a
// single-document MongoDB collection.
type GlobalConfigStore struct {
	coll *mongo.Collection
}

// NewGlobalConfigStore constructs a GlobalConfigStore against c's database.
func NewGlobalConfigStore(c *Client) *GlobalConfigStore {
	return &GlobalConfigStore{coll: c.db.Collection(configCollection)}
}

func (s *GlobalConfigStore) Get(ctx context.Context) (*persistence.GlobalConfig, error) {
	var cfg persistence.GlobalConfig
	err := s.coll.FindOne(ctx, bson.M{"_id": globalConfigDocID}).Decode(&cfg)
	if err == mongo.ErrNoDocuments {
		// No document yet: a fresh deployment has no overrides.
		return &persistence.GlobalConfig{SchemaVersion: 1}, nil
	}
	if err != nil {
		return nil, wrapMongoErr(err, "global config")
	}
	return &cfg, nil
}

func (s *GlobalConfigStore) Put(ctx context.Context, cfg *persistence.GlobalConfig) error {
	doc := bson.M{
		"_id":            globalConfigDocID,
		"schemaVersion":  cfg.SchemaVersion,
		"securityConfig": cfg.SecurityConfig,
		"webhooksConfig": cfg.WebhooksConfig,
		"roomsConfig":    cfg.RoomsConfig,
	}
	_, err := s.coll.ReplaceOne(ctx, bson.M{"_id": globalConfigDocID}, doc, options.Replace().SetUpsert(true))
	return wrapMongoErr(err, "global config")
}
