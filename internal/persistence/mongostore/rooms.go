package mongostore

import (
	"context"
	"time"

	"github.com/ovmeet/control-plane/internal/apierror"
	"github.com/ovmeet/control-plane/internal/persistence"
	"github.com/ovmeet/control-plane/internal/persistence/cursor"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// RoomStore implements persistence.RoomRepository over MongoDB.
type RoomStore struct {
	coll *mongo.Collection
}

// NewRoomStore constructs a RoomStore against c's database.
func NewRoomStore(c *Client) *RoomStore {
	return &RoomStore{coll: c.db.Collection(roomsCollection)}
}

func (s *RoomStore) Create(ctx context.Context, room *persistence.Room) error {
	room.Version = 1
	_, err := s.coll.InsertOne(ctx, room)
	return wrapMongoErr(err, "room")
}

func (s *RoomStore) Get(ctx context.Context, roomID string) (*persistence.Room, error) {
	var room persistence.Room
	err := s.coll.FindOne(ctx, bson.M{"_id": roomID}).Decode(&room)
	if err != nil {
		return nil, wrapMongoErr(err, "room not found: "+roomID)
	}
	return &room, nil
}

// Update writes room only if the stored Version still matches, then bumps
// it. A mismatch means a concurrent writer won the race.
func (s *RoomStore) Update(ctx context.Context, room *persistence.Room) error {
	filter := bson.M{"_id": room.RoomID, "version": room.Version}
	next := *room
	next.Version = room.Version + 1

	res, err := s.coll.ReplaceOne(ctx, filter, next)
	if err != nil {
		return wrapMongoErr(err, "room")
	}
	if res.MatchedCount == 0 {
		return apierror.New(apierror.Conflict, "room was modified concurrently").WithField("roomId", room.RoomID)
	}
	room.Version = next.Version
	return nil
}

func (s *RoomStore) Delete(ctx context.Context, roomID string) error {
	res, err := s.coll.DeleteOne(ctx, bson.M{"_id": roomID})
	if err != nil {
		return wrapMongoErr(err, "room")
	}
	if res.DeletedCount == 0 {
		return apierror.New(apierror.NotFound, "room not found: "+roomID)
	}
	return nil
}

func (s *RoomStore) List(ctx context.Context, cur string, limit int) (persistence.Page[*persistence.Room], error) {
	tok, err := cursor.Decode(cur)
	if err != nil {
		return persistence.Page[*persistence.Room]{}, err
	}

	filter := bson.M{}
	if tok.ID != "" {
		filter["$or"] = bson.A{
			bson.M{"creationDate": bson.M{"$gt": tok.SortValue}},
			bson.M{"creationDate": tok.SortValue, "_id": bson.M{"$gt": tok.ID}},
		}
	}

	opts := options.Find().SetSort(bson.D{{Key: "creationDate", Value: 1}, {Key: "_id", Value: 1}}).SetLimit(int64(limit) + 1)
	return findRoomPage(ctx, s.coll, filter, opts, limit)
}

func (s *RoomStore) ListExpiring(ctx context.Context, cutoff int64, limit int) ([]*persistence.Room, error) {
	filter := bson.M{
		"status":           persistence.RoomOpen,
		"autoDeletionDate": bson.M{"$lte": time.Unix(cutoff, 0)},
	}
	cur, err := s.coll.Find(ctx, filter, options.Find().SetLimit(int64(limit)))
	if err != nil {
		return nil, wrapMongoErr(err, "rooms")
	}
	defer cur.Close(ctx)

	var rooms []*persistence.Room
	for cur.Next(ctx) {
		var r persistence.Room
		if err := cur.Decode(&r); err != nil {
			return nil, wrapMongoErr(err, "rooms")
		}
		rooms = append(rooms, &r)
	}
	return rooms, wrapMongoErr(cur.Err(), "rooms")
}

func findRoomPage(ctx context.Context, coll *mongo.Collection, filter bson.M, opts *options.FindOptions, limit int) (persistence.Page[*persistence.Room], error) {
	cur, err := coll.Find(ctx, filter, opts)
	if err != nil {
		return persistence.Page[*persistence.Room]{}, wrapMongoErr(err, "rooms")
	}
	defer cur.Close(ctx)

	var items []*persistence.Room
	for cur.Next(ctx) {
		var r persistence.Room
		if err := cur.Decode(&r); err != nil {
			return persistence.Page[*persistence.Room]{}, wrapMongoErr(err, "rooms")
		}
		items = append(items, &r)
	}
	if err := cur.Err(); err != nil {
		return persistence.Page[*persistence.Room]{}, wrapMongoErr(err, "rooms")
	}

	page := persistence.Page[*persistence.Room]{Items: items}
	if len(items) > limit {
		last := items[limit-1]
		page.Items = items[:limit]
		page.NextCursor = cursor.Encode(last.CreationDate.Format(sortTimeLayout), last.RoomID)
	}
	return page, nil
}

const sortTimeLayout = "2006-01-02T15:04:05.000000000Z07:00"
