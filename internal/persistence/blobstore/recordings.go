package blobstore

import (
	"context"

	"github.com/minio/minio-go/v7"
	"github.com/ovmeet/control-plane/internal/apierror"
	"github.com/ovmeet/control-plane/internal/persistence"
	"github.com/ovmeet/control-plane/internal/persistence/cursor"
)

// RecordingStore implements persistence.RecordingRepository over an
// S3-compatible bucket, one JSON object per recording.
type RecordingStore struct {
	c *Client
}

// NewRecordingStore constructs a RecordingStore against c.
func NewRecordingStore(c *Client) *RecordingStore {
	return &RecordingStore{c: c}
}

func recordingKey(id string) string { return recordingsPrefix + id }

// recordingObject is the on-disk shape of a stored recording. Recording
// itself carries json:"-" on LockToken and Version since both are
// internal bookkeeping that must never leak through the HTTP API, which
// serializes *persistence.Recording directly; this wrapper is the only
// place in the blobstore backend that needs those fields round-tripped.
type recordingObject struct {
	persistence.Recording
	LockToken string `json:"lockToken,omitempty"`
	Version   int64  `json:"version"`
}

func toRecordingObject(rec *persistence.Recording) recordingObject {
	return recordingObject{Recording: *rec, LockToken: rec.LockToken, Version: rec.Version}
}

func (o recordingObject) toRecording() *persistence.Recording {
	rec := o.Recording
	rec.LockToken = o.LockToken
	rec.Version = o.Version
	return &rec
}

func (s *RecordingStore) Create(ctx context.Context, rec *persistence.Recording) error {
	rec.Version = 1
	return s.c.putJSON(ctx, recordingKey(rec.RecordingID), toRecordingObject(rec))
}

func (s *RecordingStore) Get(ctx context.Context, recordingID string) (*persistence.Recording, error) {
	var obj recordingObject
	if err := s.c.getJSON(ctx, recordingKey(recordingID), &obj); err != nil {
		return nil, err
	}
	return obj.toRecording(), nil
}

func (s *RecordingStore) Update(ctx context.Context, rec *persistence.Recording) error {
	var existing recordingObject
	if err := s.c.getJSON(ctx, recordingKey(rec.RecordingID), &existing); err != nil {
		return err
	}
	if existing.Version != rec.Version {
		return apierror.New(apierror.Conflict, "recording was modified concurrently").WithField("recordingId", rec.RecordingID)
	}
	rec.Version++
	return s.c.putJSON(ctx, recordingKey(rec.RecordingID), toRecordingObject(rec))
}

func (s *RecordingStore) Delete(ctx context.Context, recordingID string) error {
	return s.c.deleteKey(ctx, recordingKey(recordingID))
}

func (s *RecordingStore) List(ctx context.Context, cur string, limit int) (persistence.Page[*persistence.Recording], error) {
	tok, err := cursor.Decode(cur)
	if err != nil {
		return persistence.Page[*persistence.Recording]{}, err
	}

	objCh := s.c.raw.ListObjects(ctx, s.c.bucket, minio.ListObjectsOptions{
		Prefix:     recordingsPrefix,
		StartAfter: recordingKey(tok.ID),
	})

	var items []*persistence.Recording
	for obj := range objCh {
		if obj.Err != nil {
			return persistence.Page[*persistence.Recording]{}, apierror.Wrap(apierror.DependencyUnavailable, obj.Err, "list recordings")
		}
		if len(items) >= limit+1 {
			break
		}
		var wire recordingObject
		if err := s.c.getJSON(ctx, obj.Key, &wire); err != nil {
			return persistence.Page[*persistence.Recording]{}, err
		}
		items = append(items, wire.toRecording())
	}

	page := persistence.Page[*persistence.Recording]{Items: items}
	if len(items) > limit {
		page.Items = items[:limit]
		page.NextCursor = cursor.Encode("", page.Items[limit-1].RecordingID)
	}
	return page, nil
}

func (s *RecordingStore) ListNonTerminalOlderThan(ctx context.Context, cutoff int64, limit int) ([]*persistence.Recording, error) {
	return s.scan(ctx, func(r *persistence.Recording) bool {
		return !r.Status.Terminal() && r.UpdatedAt.Unix() <= cutoff
	}, limit)
}

func (s *RecordingStore) ListByRoom(ctx context.Context, roomID string) ([]*persistence.Recording, error) {
	return s.scan(ctx, func(r *persistence.Recording) bool { return r.RoomID == roomID }, 0)
}

func (s *RecordingStore) scan(ctx context.Context, keep func(*persistence.Recording) bool, limit int) ([]*persistence.Recording, error) {
	objCh := s.c.raw.ListObjects(ctx, s.c.bucket, minio.ListObjectsOptions{Prefix: recordingsPrefix})

	var recs []*persistence.Recording
	for obj := range objCh {
		if obj.Err != nil {
			return nil, apierror.Wrap(apierror.DependencyUnavailable, obj.Err, "list recordings")
		}
		var wire recordingObject
		if err := s.c.getJSON(ctx, obj.Key, &wire); err != nil {
			return nil, err
		}
		rec := wire.toRecording()
		if !keep(rec) {
			continue
		}
		recs = append(recs, rec)
		if limit > 0 && len(recs) >= limit {
			break
		}
	}
	return recs, nil
}
