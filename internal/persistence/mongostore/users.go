package mongostore

import (
	"context"

	"github.com/ovmeet/control-plane/internal/apierror"
	"github.com/ovmeet/control-plane/internal/persistence"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

// UserStore implements persistence.UserRepository over MongoDB.
type UserStore struct {
	coll *mongo.Collection
}

// NewUserStore constructs a UserStore against c's database.
func NewUserStore(c *Client) *UserStore {
	return &UserStore{coll: c.db.Collection(usersCollection)}
}

func (s *UserStore) Create(ctx context.Context, u *persistence.User) error {
	_, err := s.coll.InsertOne(ctx, u)
	return wrapMongoErr(err, "user")
}

func (s *UserStore) Get(ctx context.Context, userID string) (*persistence.User, error) {
	var u persistence.User
	if err := s.coll.FindOne(ctx, bson.M{"_id": userID}).Decode(&u); err != nil {
		return nil, wrapMongoErr(err, "user not found: "+userID)
	}
	return &u, nil
}

func (s *UserStore) GetByName(ctx context.Context, name string) (*persistence.User, error) {
	var u persistence.User
	if err := s.coll.FindOne(ctx, bson.M{"name": name}).Decode(&u); err != nil {
		return nil, wrapMongoErr(err, "user not found: "+name)
	}
	return &u, nil
}

func (s *UserStore) Update(ctx context.Context, u *persistence.User) error {
	res, err := s.coll.ReplaceOne(ctx, bson.M{"_id": u.UserID}, u)
	if err != nil {
		return wrapMongoErr(err, "user")
	}
	if res.MatchedCount == 0 {
		return apierror.New(apierror.NotFound, "user not found: "+u.UserID)
	}
	return nil
}

func (s *UserStore) Delete(ctx context.Context, userID string) error {
	res, err := s.coll.DeleteOne(ctx, bson.M{"_id": userID})
	if err != nil {
		return wrapMongoErr(err, "user")
	}
	if res.DeletedCount == 0 {
		return apierror.New(apierror.NotFound, "user not found: "+userID)
	}
	return nil
}
