// Package mongostore implements the persistence repositories on top of
// MongoDB, the preferred document-store backend.
package mongostore

import (
	"context"
	"time"

	"github.com/ovmeet/control-plane/internal/apierror"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	roomsCollection      = "rooms"
	recordingsCollection = "recordings"
	configCollection     = "global_config"
	usersCollection      = "users"
	apiKeysCollection    = "api_keys"
	migrationsCollection = "migrations"

	globalConfigDocID = "singleton"
)

// Client bundles a connected mongo.Client with the database the control
// plane's collections live in.
type Client struct {
	raw *mongo.Client
	db  *mongo.Database
}

// Options configures a Client.
type Options struct {
	URI      string
	Database string
	Timeout  time.Duration
}

// New dials MongoDB and pings it before returning, so a misconfigured
// connection string fails fast at startup rather than on first use.
func New(ctx context.Context, opts Options) (*Client, error) {
	if opts.Timeout == 0 {
		opts.Timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	raw, err := mongo.Connect(ctx, options.Client().ApplyURI(opts.URI))
	if err != nil {
		return nil, apierror.Wrap(apierror.DependencyUnavailable, err, "connect to mongodb")
	}
	if err := raw.Ping(ctx, nil); err != nil {
		return nil, apierror.Wrap(apierror.DependencyUnavailable, err, "ping mongodb")
	}

	return &Client{raw: raw, db: raw.Database(opts.Database)}, nil
}

// Close disconnects the underlying client.
func (c *Client) Close(ctx context.Context) error {
	return c.raw.Disconnect(ctx)
}

func wrapMongoErr(err error, notFoundMsg string) error {
	if err == nil {
		return nil
	}
	if err == mongo.ErrNoDocuments {
		return apierror.New(apierror.NotFound, notFoundMsg)
	}
	if mongo.IsDuplicateKeyError(err) {
		return apierror.Wrap(apierror.Conflict, err, "duplicate key")
	}
	return apierror.Wrap(apierror.DependencyUnavailable, err, "mongodb operation failed")
}
