// Command migrate runs the control plane's pending schema migrations
// against the configured persistence backend without starting the HTTP
// server, so operators can run it as a pre-deploy step ahead of rolling
// out a new image.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/ovmeet/control-plane/internal/config"
	"github.com/ovmeet/control-plane/internal/lock"
	"github.com/ovmeet/control-plane/internal/persistence"
	"github.com/ovmeet/control-plane/internal/persistence/blobstore"
	"github.com/ovmeet/control-plane/internal/persistence/migration"
	"github.com/ovmeet/control-plane/internal/persistence/mongostore"
	"github.com/ovmeet/control-plane/internal/store"
)

func main() {
	var (
		timeout = flag.Duration("timeout", 2*time.Minute, "Overall timeout for the migration run")
	)
	flag.Parse()

	_ = godotenv.Load()

	cfg, err := config.ValidateEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	redisClient, err := store.New(store.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to connect to redis: %v\n", err)
		os.Exit(1)
	}
	defer redisClient.Close()
	mutex := lock.New(redisClient)

	repo, closeRepo, err := migrationRepo(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to connect to persistence backend: %v\n", err)
		os.Exit(1)
	}
	defer closeRepo()

	fmt.Printf("running migrations against %s backend\n", cfg.StorageDriver)
	runner := migration.New(repo, mutex)
	if err := runner.RunPending(ctx, registry); err != nil {
		fmt.Fprintf(os.Stderr, "migration run failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("migrations complete")
}

// registry lists every migration this control plane has ever shipped, in
// order. It is empty for the initial schema: the first breaking change
// to persistence/types.go gets its transform appended here.
var registry []migration.Migration

func migrationRepo(ctx context.Context, cfg *config.Config) (repo persistence.MigrationRepository, closeFn func(), err error) {
	switch cfg.StorageDriver {
	case config.StorageBlob:
		c, err := blobstore.New(ctx, blobstore.Options{
			Endpoint:        cfg.BlobEndpoint,
			AccessKeyID:     cfg.BlobAccessKey,
			SecretAccessKey: cfg.BlobSecretKey,
			Bucket:          cfg.BlobBucket,
			UseSSL:          cfg.BlobUseSSL,
		})
		if err != nil {
			return nil, nil, err
		}
		return blobstore.NewMigrationStore(c), func() {}, nil
	default:
		c, err := mongostore.New(ctx, mongostore.Options{URI: cfg.MongoURI, Database: cfg.MongoDatabase})
		if err != nil {
			return nil, nil, err
		}
		return mongostore.NewMigrationStore(c), func() { _ = c.Close(ctx) }, nil
	}
}
