// Command controlplane runs the video-meeting control plane: it wires
// every internal package into an HTTP server, starts the background
// scheduler jobs, and serves until terminated.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/ovmeet/control-plane/internal/apikey"
	"github.com/ovmeet/control-plane/internal/auth"
	"github.com/ovmeet/control-plane/internal/bus"
	"github.com/ovmeet/control-plane/internal/config"
	"github.com/ovmeet/control-plane/internal/globalconfig"
	"github.com/ovmeet/control-plane/internal/httpapi"
	"github.com/ovmeet/control-plane/internal/lock"
	"github.com/ovmeet/control-plane/internal/logging"
	"github.com/ovmeet/control-plane/internal/mediaserver"
	"github.com/ovmeet/control-plane/internal/nameres"
	"github.com/ovmeet/control-plane/internal/persistence"
	"github.com/ovmeet/control-plane/internal/persistence/blobstore"
	"github.com/ovmeet/control-plane/internal/persistence/migration"
	"github.com/ovmeet/control-plane/internal/persistence/mongostore"
	"github.com/ovmeet/control-plane/internal/ratelimit"
	"github.com/ovmeet/control-plane/internal/recording"
	"github.com/ovmeet/control-plane/internal/room"
	"github.com/ovmeet/control-plane/internal/scheduler"
	"github.com/ovmeet/control-plane/internal/store"
	"github.com/ovmeet/control-plane/internal/user"
	"github.com/ovmeet/control-plane/internal/webhook"
)

// repositories bundles the persistence-backend-specific repository
// implementations, so wiring the rest of main doesn't need to know which
// driver is active.
type repositories struct {
	rooms      persistence.RoomRepository
	recordings persistence.RecordingRepository
	users      persistence.UserRepository
	apiKeys    persistence.APIKeyRepository
	configs    persistence.GlobalConfigRepository
	migrations persistence.MigrationRepository
}

func main() {
	_ = godotenv.Load()

	cfg, err := config.ValidateEnv()
	if err != nil {
		panic(err)
	}

	development := cfg.GoEnv != "production"
	if err := logging.Initialize(development); err != nil {
		panic(err)
	}
	ctx := context.Background()

	redisClient, err := store.New(store.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
	if err != nil {
		logging.Fatal(ctx, "failed to connect to redis", zap.Error(err))
		return
	}
	defer redisClient.Close()

	repos, closeRepos, err := newRepositories(ctx, cfg)
	if err != nil {
		logging.Fatal(ctx, "failed to connect to persistence backend", zap.Error(err))
		return
	}
	defer closeRepos()

	mutex := lock.New(redisClient)
	eventBus := bus.New(redisClient, instanceID())
	defer eventBus.Close()

	if err := runMigrations(ctx, repos, mutex); err != nil {
		logging.Fatal(ctx, "migrations failed", zap.Error(err))
		return
	}

	media := mediaserver.New(mediaserver.Options{
		URL:                        cfg.MediaServerURL,
		APIKey:                     cfg.MediaAPIKey,
		APISecret:                  cfg.MediaAPISecret,
		ParticipantTokenExpiration: cfg.ParticipantTokenExpiration,
	})

	rooms := room.New(repos.rooms, repos.recordings, mutex, eventBus, media, room.Options{
		EmptyTimeout:     cfg.MeetingEmptyTimeout,
		DepartureTimeout: cfg.MeetingDepartureTimeout,
	})

	recordings := recording.New(repos.recordings, mutex, eventBus, recording.Options{
		LockTTL:                 cfg.RecordingLockTTL,
		StartedTimeout:          cfg.RecordingStartedTimeout,
		StaleAfter:              cfg.RecordingStaleAfter,
		OrphanedLockGracePeriod: cfg.RecordingOrphanedLockGracePeriod,
	})

	names := nameres.New(redisClient, mutex, nameres.Options{
		ReservationTTL:            cfg.ParticipantNameReservationTTL,
		MaxConcurrentNameRequests: cfg.ParticipantMaxConcurrentNameRequests,
	})

	configs := globalconfig.New(repos.configs)
	users := user.New(repos.users)
	apiKeys := apikey.New(repos.apiKeys)
	issuer := auth.NewIssuer(cfg.JWTSecret, cfg.AccessTokenExpiration, cfg.RefreshTokenExpiration)

	webhooks := webhook.New(eventBus, mutex, configs, webhook.Options{
		SigningSecret: cfg.WebhookSigningSecret,
	})
	webhooks.Start(ctx)

	limiter, err := ratelimit.New(cfg, redisClient.Raw())
	if err != nil {
		logging.Fatal(ctx, "failed to construct rate limiter", zap.Error(err))
		return
	}

	sched := scheduler.New(mutex)
	registerSchedulerJobs(sched, rooms, recordings, cfg)
	sched.Start(ctx)
	defer sched.Stop()

	router := httpapi.NewRouter(httpapi.Deps{
		Rooms:       rooms,
		Recordings:  recordings,
		Names:       names,
		Configs:     configs,
		Users:       users,
		APIKeys:     apiKeys,
		Media:       media,
		Issuer:      issuer,
		Store:       redisClient,
		Webhooks:    webhooks,
		RateLimiter: limiter,
	}, allowedOrigins(cfg))

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logging.Info(ctx, "control plane listening", zap.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Fatal(ctx, "server exited unexpectedly", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logging.Info(ctx, "shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logging.Error(ctx, "server forced to shutdown", zap.Error(err))
	}
}

func newRepositories(ctx context.Context, cfg *config.Config) (*repositories, func(), error) {
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
		return &repositories{
			rooms:      blobstore.NewRoomStore(c),
			recordings: blobstore.NewRecordingStore(c),
			users:      blobstore.NewUserStore(c),
			apiKeys:    blobstore.NewAPIKeyStore(c),
			configs:    blobstore.NewGlobalConfigStore(c),
			migrations: blobstore.NewMigrationStore(c),
		}, func() {}, nil
	default:
		c, err := mongostore.New(ctx, mongostore.Options{URI: cfg.MongoURI, Database: cfg.MongoDatabase})
		if err != nil {
			return nil, nil, err
		}
		return &repositories{
			rooms:      mongostore.NewRoomStore(c),
			recordings: mongostore.NewRecordingStore(c),
			users:      mongostore.NewUserStore(c),
			apiKeys:    mongostore.NewAPIKeyStore(c),
			configs:    mongostore.NewGlobalConfigStore(c),
			migrations: mongostore.NewMigrationStore(c),
		}, func() { _ = c.Close(ctx) }, nil
	}
}

func registerSchedulerJobs(sched *scheduler.Scheduler, rooms *room.Manager, recordings *recording.Engine, cfg *config.Config) {
	jobs := []scheduler.Job{
		{
			Name:       "room_gc",
			Schedule:   everyAsCron(cfg.RoomGCInterval),
			Handler:    rooms.RunAutoDeletionGC,
			MinLockTTL: cfg.RoomGCInterval,
		},
		{
			Name:       "recording_stale_cleanup",
			Schedule:   everyAsCron(cfg.RecordingStaleCleanupInterval),
			Handler:    recordings.StaleCleanup,
			MinLockTTL: cfg.RecordingStaleCleanupInterval,
		},
		{
			Name:       "recording_lock_gc",
			Schedule:   everyAsCron(cfg.RecordingLockGCInterval),
			Handler:    recordings.LockGC,
			MinLockTTL: cfg.RecordingLockGCInterval,
		},
	}
	for _, j := range jobs {
		if err := sched.Register(j); err != nil {
			logging.Fatal(context.Background(), "failed to register scheduler job", zap.String("job", j.Name), zap.Error(err))
		}
	}
}

// everyAsCron converts a Go duration tunable into the "@every" form
// robfig/cron/v3 accepts, so the interval config can drive the same
// cron-expression scheduler used for calendar-style jobs.
func everyAsCron(d time.Duration) string {
	return "@every " + d.String()
}

// runMigrations executes the baseline migration registry on startup. The
// registry is empty today; it exists so the first schema change this
// control plane ever needs can be appended here rather than requiring a
// new wiring path.
func runMigrations(ctx context.Context, repos *repositories, mutex *lock.Mutex) error {
	runner := migration.New(repos.migrations, mutex)
	return runner.RunPending(ctx, nil)
}

func allowedOrigins(cfg *config.Config) []string {
	if cfg.AllowedOrigins == "" {
		return nil
	}
	var origins []string
	for _, o := range strings.Split(cfg.AllowedOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	return origins
}

// instanceID identifies this replica to internal/bus, so events this
// process publishes are not re-delivered to itself. The hostname is
// stable and unique per container/pod in every deployment target this
// runs on.
func instanceID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		return "controlplane"
	}
	return host
}
