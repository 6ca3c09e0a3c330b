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

// RecordingStore implements persistence.RecordingRepository over MongoDB.
type RecordingStore struct {
	coll *mongo.Collection
}

// NewRecordingStore constructs a RecordingStore against c's database.
func NewRecordingStore(c *Client) *RecordingStore {
	return &RecordingStore{coll: c.db.Collection(recordingsCollection)}
}

func (s *RecordingStore) Create(ctx context.Context, rec *persistence.Recording) error {
	rec.Version = 1
	_, err := s.coll.InsertOne(ctx, rec)
	return wrapMongoErr(err, "recording")
}

func (s *RecordingStore) Get(ctx context.Context, recordingID string) (*persistence.Recording, error) {
	var rec persistence.Recording
	err := s.coll.FindOne(ctx, bson.M{"_id": recordingID}).Decode(&rec)
	if err != nil {
		return nil, wrapMongoErr(err, "recording not found: "+recordingID)
	}
	return &rec, nil
}

func (s *RecordingStore) Update(ctx context.Context, rec *persistence.Recording) error {
	filter := bson.M{"_id": rec.RecordingID, "version": rec.Version}
	next := *rec
	next.Version = rec.Version + 1

	res, err := s.coll.ReplaceOne(ctx, filter, next)
	if err != nil {
		return wrapMongoErr(err, "recording")
	}
	if res.MatchedCount == 0 {
		return apierror.New(apierror.Conflict, "recording was modified concurrently").WithField("recordingId", rec.RecordingID)
	}
	rec.Version = next.Version
	return nil
}

func (s *RecordingStore) Delete(ctx context.Context, recordingID string) error {
	res, err := s.coll.DeleteOne(ctx, bson.M{"_id": recordingID})
	if err != nil {
		return wrapMongoErr(err, "recording")
	}
	if res.DeletedCount == 0 {
		return apierror.New(apierror.NotFound, "recording not found: "+recordingID)
	}
	return nil
}

func (s *RecordingStore) List(ctx context.Context, cur string, limit int) (persistence.Page[*persistence.Recording], error) {
	tok, err := cursor.Decode(cur)
	if err != nil {
		return persistence.Page[*persistence.Recording]{}, err
	}

	filter := bson.M{}
	if tok.ID != "" {
		filter["$or"] = bson.A{
			bson.M{"updatedAt": bson.M{"$gt": tok.SortValue}},
			bson.M{"updatedAt": tok.SortValue, "_id": bson.M{"$gt": tok.ID}},
		}
	}

	opts := options.Find().SetSort(bson.D{{Key: "updatedAt", Value: 1}, {Key: "_id", Value: 1}}).SetLimit(int64(limit) + 1)
	mcur, err := s.coll.Find(ctx, filter, opts)
	if err != nil {
		return persistence.Page[*persistence.Recording]{}, wrapMongoErr(err, "recordings")
	}
	defer mcur.Close(ctx)

	var items []*persistence.Recording
	for mcur.Next(ctx) {
		var r persistence.Recording
		if err := mcur.Decode(&r); err != nil {
			return persistence.Page[*persistence.Recording]{}, wrapMongoErr(err, "recordings")
		}
		items = append(items, &r)
	}
	if err := mcur.Err(); err != nil {
		return persistence.Page[*persistence.Recording]{}, wrapMongoErr(err, "recordings")
	}

	page := persistence.Page[*persistence.Recording]{Items: items}
	if len(items) > limit {
		last := items[limit-1]
		page.Items = items[:limit]
		page.NextCursor = cursor.Encode(last.UpdatedAt.Format(sortTimeLayout), last.RecordingID)
	}
	return page, nil
}

func (s *RecordingStore) ListNonTerminalOlderThan(ctx context.Context, cutoff int64, limit int) ([]*persistence.Recording, error) {
	filter := bson.M{
		"status":    bson.M{"$in": bson.A{persistence.RecordingStarting, persistence.RecordingActive, persistence.RecordingEnding}},
		"updatedAt": bson.M{"$lte": time.Unix(cutoff, 0)},
	}
	return s.findMany(ctx, filter, limit)
}

func (s *RecordingStore) ListByRoom(ctx context.Context, roomID string) ([]*persistence.Recording, error) {
	return s.findMany(ctx, bson.M{"roomId": roomID}, 0)
}

func (s *RecordingStore) findMany(ctx context.Context, filter bson.M, limit int) ([]*persistence.Recording, error) {
	opts := options.Find()
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	cur, err := s.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, wrapMongoErr(err, "recordings")
	}
	defer cur.Close(ctx)

	var recs []*persistence.Recording
	for cur.Next(ctx) {
		var r persistence.Recording
		if err := cur.Decode(&r); err != nil {
			return nil, wrapMongoErr(err, "recordings")
		}
		recs = append(recs, &r)
	}
	return recs, wrapMongoErr(cur.Err(), "recordings")
}
