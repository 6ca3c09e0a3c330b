// Package blobstore implements the persistence repositories on top of an
// S3-compatible object store via minio-go. It is the legacy backend kept
// for deployments that predate the MongoDB migration.
package blobstore

import (
	"bytes"
	"context"
	"encoding/json"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/ovmeet/control-plane/internal/apierror"
)

const (
	roomsPrefix      = "rooms/"
	recordingsPrefix = "recordings/"
	configKey        = "config/global.json"
	usersPrefix      = "users/"
	apiKeysPrefix    = "apikeys/"
	migrationsPrefix = "migrations/"
)

// Client wraps a minio.Client bound to a single bucket holding every
// control-plane object, namespaced by the prefixes above.
type Client struct {
	raw    *minio.Client
	bucket string
}

// Options configures a Client.
type Options struct {
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	Bucket          string
	UseSSL          bool
}

// New dials the object store and verifies the target bucket exists.
func New(ctx context.Context, opts Options) (*Client, error) {
	raw, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKeyID, opts.SecretAccessKey, ""),
		Secure: opts.UseSSL,
	})
	if err != nil {
		return nil, apierror.Wrap(apierror.DependencyUnavailable, err, "construct minio client")
	}

	exists, err := raw.BucketExists(ctx, opts.Bucket)
	if err != nil {
		return nil, apierror.Wrap(apierror.DependencyUnavailable, err, "check bucket")
	}
	if !exists {
		return nil, apierror.Newf(apierror.DependencyUnavailable, "bucket %q does not exist", opts.Bucket)
	}

	return &Client{raw: raw, bucket: opts.Bucket}, nil
}

func (c *Client) putJSON(ctx context.Context, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return apierror.Wrap(apierror.Internal, err, "marshal object")
	}
	_, err = c.raw.PutObject(ctx, c.bucket, key, bytes.NewReader(raw), int64(len(raw)), minio.PutObjectOptions{ContentType: "application/json"})
	if err != nil {
		return apierror.Wrap(apierror.DependencyUnavailable, err, "put object")
	}
	return nil
}

func (c *Client) getJSON(ctx context.Context, key string, v any) error {
	obj, err := c.raw.GetObject(ctx, c.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return apierror.Wrap(apierror.DependencyUnavailable, err, "get object")
	}
	defer obj.Close()

	raw, err := io.ReadAll(obj)
	if err != nil {
		if isNoSuchKey(err) {
			return apierror.New(apierror.NotFound, "object not found: "+key)
		}
		return apierror.Wrap(apierror.DependencyUnavailable, err, "read object")
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return apierror.Wrap(apierror.Internal, err, "unmarshal object")
	}
	return nil
}

func (c *Client) deleteKey(ctx context.Context, key string) error {
	if err := c.raw.RemoveObject(ctx, c.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return apierror.Wrap(apierror.DependencyUnavailable, err, "remove object")
	}
	return nil
}

func isNoSuchKey(err error) bool {
	resp := minio.ToErrorResponse(err)
	return resp.Code == "NoSuchKey"
}
