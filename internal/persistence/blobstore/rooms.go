package blobstore

import (
	"context"

	"github.com/minio/minio-go/v7"
	"github.com/ovmeet/control-plane/internal/apierror"
	"github.com/ovmeet/control-plane/internal/persistence"
	"github.com/ovmeet/control-plane/internal/persistence/cursor"
)

// RoomStore implements persistence.RoomRepository over an S3-compatible
// bucket, one JSON object per room.
type RoomStore struct {
	c *Client
}

// NewRoomStore constructs a RoomStore against c.
func NewRoomStore(c *Client) *RoomStore {
	return &RoomStore{c: c}
}

func roomKey(roomID string) string { return roomsPrefix + roomID }

func (s *RoomStore) Create(ctx context.Context, room *persistence.Room) error {
	room.Version = 1
	return s.c.putJSON(ctx, roomKey(room.RoomID), room)
}

func (s *RoomStore) Get(ctx context.Context, roomID string) (*persistence.Room, error) {
	var room persistence.Room
	if err := s.c.getJSON(ctx, roomKey(roomID), &room); err != nil {
		return nil, err
	}
	return &room, nil
}

// Update is not atomic on this backend: the object store has no
// compare-and-swap primitive, so the version check is read-then-write and
// only narrows, not eliminates, the race. New deployments should prefer
// mongostore, which offers a real optimistic-concurrency guarantee.
func (s *RoomStore) Update(ctx context.Context, room *persistence.Room) error {
	var existing persistence.Room
	if err := s.c.getJSON(ctx, roomKey(room.RoomID), &existing); err != nil {
		return err
	}
	if existing.Version != room.Version {
		return apierror.New(apierror.Conflict, "room was modified concurrently").WithField("roomId", room.RoomID)
	}
	room.Version++
	return s.c.putJSON(ctx, roomKey(room.RoomID), room)
}

func (s *RoomStore) Delete(ctx context.Context, roomID string) error {
	return s.c.deleteKey(ctx, roomKey(roomID))
}

// List returns rooms in object-key (i.e. room ID) order, not creation-date
// order — a known divergence from mongostore's ordering, acceptable for a
// legacy backend that is not expected to serve large paginated listings.
func (s *RoomStore) List(ctx context.Context, cur string, limit int) (persistence.Page[*persistence.Room], error) {
	tok, err := cursor.Decode(cur)
	if err != nil {
		return persistence.Page[*persistence.Room]{}, err
	}

	objCh := s.c.raw.ListObjects(ctx, s.c.bucket, minio.ListObjectsOptions{
		Prefix:     roomsPrefix,
		StartAfter: roomKey(tok.ID),
	})

	var items []*persistence.Room
	for obj := range objCh {
		if obj.Err != nil {
			return persistence.Page[*persistence.Room]{}, apierror.Wrap(apierror.DependencyUnavailable, obj.Err, "list rooms")
		}
		if len(items) >= limit+1 {
			break
		}
		var room persistence.Room
		if err := s.c.getJSON(ctx, obj.Key, &room); err != nil {
			return persistence.Page[*persistence.Room]{}, err
		}
		items = append(items, &room)
	}

	page := persistence.Page[*persistence.Room]{Items: items}
	if len(items) > limit {
		page.Items = items[:limit]
		page.NextCursor = cursor.Encode("", page.Items[limit-1].RoomID)
	}
	return page, nil
}

func (s *RoomStore) ListExpiring(ctx context.Context, cutoff int64, limit int) ([]*persistence.Room, error) {
	objCh := s.c.raw.ListObjects(ctx, s.c.bucket, minio.ListObjectsOptions{Prefix: roomsPrefix})

	var rooms []*persistence.Room
	for obj := range objCh {
		if obj.Err != nil {
			return nil, apierror.Wrap(apierror.DependencyUnavailable, obj.Err, "list rooms")
		}
		var room persistence.Room
		if err := s.c.getJSON(ctx, obj.Key, &room); err != nil {
			return nil, err
		}
		if room.Status != persistence.RoomOpen || room.AutoDeletionDate == nil {
			continue
		}
		if room.AutoDeletionDate.Unix() > cutoff {
			continue
		}
		rooms = append(rooms, &room)
		if len(rooms) >= limit {
			break
		}
	}
	return rooms, nil
}
