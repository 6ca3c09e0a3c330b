// Package mediaserver wraps the real-time media process (LiveKit) behind a
// circuit-breaking client, so that room, recording, and participant-token
// callers never talk to lksdk directly. Every RPC routes through a
// gobreaker.CircuitBreaker exactly like the coordination layer's other
// external dependencies.
package mediaserver

import (
	"context"
	"time"

	"github.com/livekit/protocol/auth"
	"github.com/livekit/protocol/livekit"
	lksdk "github.com/livekit/server-sdk-go/v2"
	"github.com/ovmeet/control-plane/internal/apierror"
	"github.com/ovmeet/control-plane/internal/logging"
	"github.com/ovmeet/control-plane/internal/metrics"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

const breakerName = "media-server"

// Options configures the client and the participant tokens it mints.
type Options struct {
	URL                        string
	APIKey                     string
	APISecret                  string
	ParticipantTokenExpiration time.Duration
}

// Client is the control plane's handle onto the media server. It satisfies
// room.MediaServerClient, recording's egress needs, and participant token
// issuance for the HTTP API.
type Client struct {
	rooms  *lksdk.RoomServiceClient
	egress *lksdk.EgressClient
	opts   Options
	cb     *gobreaker.CircuitBreaker
}

// New constructs a Client. It does not dial eagerly: lksdk's service
// clients are thin HTTP wrappers, so there is no connection to establish
// up front.
func New(opts Options) *Client {
	st := gobreaker.Settings{
		Name:        breakerName,
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		OnStateChange: func(name string, from, to gobreaker.State) {
			metrics.CircuitBreakerState.WithLabelValues(name).Set(metrics.CircuitBreakerStateValue(stateName(to)))
			logging.Info(context.Background(), "media server circuit breaker state change",
				zap.String("from", stateName(from)), zap.String("to", stateName(to)))
		},
	}

	return &Client{
		rooms:  lksdk.NewRoomServiceClient(opts.URL, opts.APIKey, opts.APISecret),
		egress: lksdk.NewEgressClient(opts.URL, opts.APIKey, opts.APISecret),
		opts:   opts,
		cb:     gobreaker.NewCircuitBreaker(st),
	}
}

// APIKey returns the media server API key, used by internal/httpapi to
// validate inbound webhook signatures against the same credential pair
// this client signs participant tokens with.
func (c *Client) APIKey() string { return c.opts.APIKey }

// APISecret returns the media server API secret. See APIKey.
func (c *Client) APISecret() string { return c.opts.APISecret }

func (c *Client) execute(op string, fn func() (any, error)) (any, error) {
	resp, err := c.cb.Execute(fn)
	if err == nil {
		metrics.MediaServerRequests.WithLabelValues(op, "success").Inc()
		return resp, nil
	}
	if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
		metrics.MediaServerRequests.WithLabelValues(op, "circuit_open").Inc()
		return nil, apierror.New(apierror.DependencyUnavailable, "media server circuit breaker open")
	}
	metrics.MediaServerRequests.WithLabelValues(op, "error").Inc()
	return nil, apierror.Wrap(apierror.DependencyUnavailable, err, "media server request failed")
}

// CreateRoom provisions a room on the media server. Satisfies
// room.MediaServerClient.
func (c *Client) CreateRoom(ctx context.Context, roomID string, emptyTimeout, departureTimeout time.Duration, metadata string) error {
	_, err := c.execute("create_room", func() (any, error) {
		return c.rooms.CreateRoom(ctx, &livekit.CreateRoomRequest{
			Name:             roomID,
			EmptyTimeout:     uint32(emptyTimeout.Seconds()),
			DepartureTimeout: uint32(departureTimeout.Seconds()),
			Metadata:         metadata,
		})
	})
	return err
}

// DeleteRoom terminates a room on the media server, disconnecting any
// remaining participants. Satisfies room.MediaServerClient.
func (c *Client) DeleteRoom(ctx context.Context, roomID string) error {
	_, err := c.execute("delete_room", func() (any, error) {
		return c.rooms.DeleteRoom(ctx, &livekit.DeleteRoomRequest{Room: roomID})
	})
	return err
}

// RemoveParticipant disconnects a single participant without tearing down
// the room.
func (c *Client) RemoveParticipant(ctx context.Context, roomID, identity string) error {
	_, err := c.execute("remove_participant", func() (any, error) {
		return c.rooms.RemoveParticipant(ctx, &livekit.RoomParticipantIdentity{
			Room:     roomID,
			Identity: identity,
		})
	})
	return err
}

// Participant mirrors the subset of livekit.ParticipantInfo the control
// plane's REST layer exposes.
type Participant struct {
	Identity    string
	Name        string
	State       string
	JoinedAt    time.Time
	Metadata    string
	IsPublisher bool
}

// ListParticipants returns the participants currently in a room.
func (c *Client) ListParticipants(ctx context.Context, roomID string) ([]Participant, error) {
	resp, err := c.execute("list_participants", func() (any, error) {
		return c.rooms.ListParticipants(ctx, &livekit.ListParticipantsRequest{Room: roomID})
	})
	if err != nil {
		return nil, err
	}

	list := resp.(*livekit.ListParticipantsResponse)
	out := make([]Participant, 0, len(list.Participants))
	for _, p := range list.Participants {
		out = append(out, Participant{
			Identity:    p.Identity,
			Name:        p.Name,
			State:       p.State.String(),
			JoinedAt:    time.Unix(p.JoinedAt, 0),
			Metadata:    p.Metadata,
			IsPublisher: p.Permission != nil && p.Permission.CanPublish,
		})
	}
	return out, nil
}

// EgressResult reports the egress ID assigned by the media server, used as
// the recording engine's RecordingID-to-egress correlation key.
type EgressResult struct {
	EgressID string
}

// StartRoomCompositeEgress begins recording a room to the given storage
// output. outputURL is an S3-compatible destination formatted as
// s3://bucket/key, matching blobstore's own addressing.
func (c *Client) StartRoomCompositeEgress(ctx context.Context, roomID, outputURL string) (EgressResult, error) {
	resp, err := c.execute("start_egress", func() (any, error) {
		return c.egress.StartRoomCompositeEgress(ctx, &livekit.RoomCompositeEgressRequest{
			RoomName: roomID,
			FileOutputs: []*livekit.EncodedFileOutput{{
				FileType: livekit.EncodedFileType_MP4,
				Filepath: outputURL,
			}},
		})
	})
	if err != nil {
		return EgressResult{}, err
	}
	return EgressResult{EgressID: resp.(*livekit.EgressInfo).EgressId}, nil
}

// StopEgress halts an in-progress recording.
func (c *Client) StopEgress(ctx context.Context, egressID string) error {
	_, err := c.execute("stop_egress", func() (any, error) {
		return c.egress.StopEgress(ctx, &livekit.StopEgressRequest{EgressId: egressID})
	})
	return err
}

// MintParticipantToken issues a short-lived access token, valid for the
// configured participant-token expiration, granting a participant entry
// into a room.
func (c *Client) MintParticipantToken(identity, roomID, displayName string, canPublish bool) (string, error) {
	at := auth.NewAccessToken(c.opts.APIKey, c.opts.APISecret).
		SetIdentity(identity).
		SetName(displayName).
		SetValidFor(c.opts.ParticipantTokenExpiration).
		SetVideoGrant(&auth.VideoGrant{
			Room:     roomID,
			RoomJoin: true,
			CanPublish: func() *bool {
				b := canPublish
				return &b
			}(),
		})
	return at.ToJWT()
}

func stateName(s gobreaker.State) string {
	switch s {
	case gobreaker.StateClosed:
		return "closed"
	case gobreaker.StateHalfOpen:
		return "half-open"
	case gobreaker.StateOpen:
		return "open"
	default:
		return "unknown"
	}
}
