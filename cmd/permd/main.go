package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/victorivanov/permd/internal/api"
	"github.com/victorivanov/permd/internal/auth"
	"github.com/victorivanov/permd/internal/config"
	"github.com/victorivanov/permd/internal/database"
	"github.com/victorivanov/permd/internal/gateway"
	redisclient "github.com/victorivanov/permd/internal/redis"
	"github.com/victorivanov/permd/internal/service"
	"github.com/victorivanov/permd/internal/storage"
	"github.com/victorivanov/permd/internal/store"
)

// archiveInterval is how often a changed mirror is copied to object storage.
const archiveInterval = time.Hour

func main() {
	cfg := config.Load()
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel})))
	ctx := context.Background()

	// --- Infrastructure ---

	pool, err := database.NewPostgresPool(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("postgres: %v", err)
	}
	defer pool.Close()
	snapshots := database.NewSnapshotRepository(pool)

	var archive *storage.SnapshotArchive
	if cfg.ArchiveEnabled() {
		archive, err = storage.NewSnapshotArchive(ctx, cfg.MinIOEndpoint, cfg.MinIOAccessKey, cfg.MinIOSecretKey, cfg.MinIOBucket, cfg.MinIOUseSSL)
		if err != nil {
			log.Fatalf("minio: %v", err)
		}
	}

	var (
		cache   service.PermissionCache
		limiter api.RateLimiter
	)
	if cfg.RedisURL != "" {
		rdb, err := redisclient.NewClient(cfg.RedisURL)
		if err != nil {
			log.Fatalf("redis: %v", err)
		}
		defer rdb.Close()
		if err := rdb.Ping(ctx); err != nil {
			slog.Warn("redis unreachable at startup", "error", err)
		}
		cache, limiter = rdb, rdb
	}

	tokenSvc := auth.NewTokenService(cfg.JWTSecret)

	// --- Mirror ---

	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()
	var workers sync.WaitGroup

	mirror := store.New()
	workers.Add(1)
	go func() {
		defer workers.Done()
		mirror.Run(runCtx)
	}()

	if err := restore(ctx, mirror, snapshots, archive); err != nil {
		log.Fatalf("restore: %v", err)
	}

	workers.Add(1)
	go func() {
		defer workers.Done()
		database.NewCheckpointer(snapshots, mirror, cfg.CheckpointInterval).Run(runCtx)
	}()

	if archive != nil {
		workers.Add(1)
		go func() {
			defer workers.Done()
			runArchiver(runCtx, archive, mirror)
		}()
	}

	var upstream api.UpstreamStatus
	if cfg.UpstreamWSURL != "" {
		client := gateway.NewClient(gateway.Config{URL: cfg.UpstreamWSURL, Token: cfg.UpstreamToken}, mirror)
		upstream = client
		workers.Add(1)
		go func() {
			defer workers.Done()
			if err := client.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("upstream client stopped", "error", err)
			}
		}()
	} else {
		slog.Info("no upstream configured, serving the restored mirror only")
	}

	// --- Handlers ---

	permSvc := service.NewPermissionService(mirror, cache)
	deps := &api.Dependencies{
		Permissions:  api.NewPermissionHandler(permSvc),
		Health:       api.NewHealthHandler(mirror, upstream),
		Service:      permSvc,
		TokenService: tokenSvc,
		RateLimiter:  limiter,
		RateLimit:    cfg.RateLimit,
		RateWindow:   cfg.RateWindow,
	}

	// --- Echo ---

	e := echo.New()
	e.HidePort = true
	e.HideBanner = true
	e.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{Generator: uuid.NewString}))
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization},
	}))

	api.SetupRouter(e, deps)

	// --- Start ---

	sigCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		slog.Info("permd starting", "addr", cfg.ServerAddr)
		if err := e.Start(cfg.ServerAddr); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	<-sigCtx.Done()
	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		slog.Error("http shutdown", "error", err)
	}

	// Stopping the workers triggers the final checkpoint and archive.
	cancelRun()
	workers.Wait()

}

// restore seeds the mirror from the newest checkpoint, falling back to the
// object-storage archive. An empty mirror is not an error: the upstream
// Ready event will fill it.
func restore(ctx context.Context, mirror *store.Store, snapshots database.SnapshotRepository, archive *storage.SnapshotArchive) error {
	ready, cp, err := snapshots.Load(ctx)
	switch {
	case err == nil:
		if _, err := mirror.Apply(ctx, ready); err != nil {
			return err
		}
		slog.Info("mirror restored from checkpoint", "checkpointVersion", cp.Version, "savedAt", cp.SavedAt, "servers", cp.Servers, "members", cp.Members)
		return nil
	case !errors.Is(err, database.ErrNoCheckpoint):
		return err
	}

	if archive == nil {
		slog.Info("no checkpoint found, starting empty")
		return nil
	}
	a, err := archive.Restore(ctx)
	if errors.Is(err, storage.ErrNoSnapshot) {
		slog.Info("no checkpoint or archive found, starting empty")
		return nil
	}
	if err != nil {
		return err
	}
	if _, err := mirror.Apply(ctx, a.Ready); err != nil {
		return err
	}
	slog.Info("mirror restored from archive", "archiveEpoch", a.Epoch, "archiveVersion", a.Version, "exportedAt", a.ExportedAt)
	return nil
}

// runArchiver copies the mirror to object storage whenever it changed
// since the last copy, and once more when ctx ends. Each run keeps only
// its newest archive; archives of earlier runs live under their own epoch
// and are left alone.
func runArchiver(ctx context.Context, archive archiveStore, mirror *store.Store) {
	ticker := time.NewTicker(archiveInterval)
	defer ticker.Stop()

	var a archiver
	for {
		select {
		case <-ctx.Done():
			finalCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			a.save(finalCtx, archive, mirror.Snapshot())
			cancel()
			return
		case <-ticker.C:
			a.save(ctx, archive, mirror.Snapshot())
		}
	}
}

// archiveStore is the part of storage.SnapshotArchive the archiver uses.
type archiveStore interface {
	Save(ctx context.Context, snap *store.Snapshot) (string, error)
	Delete(ctx context.Context, key string) error
}

// archiver remembers the newest archive written by this process.
type archiver struct {
	version uint64
	key     string
}

func (a *archiver) save(ctx context.Context, archive archiveStore, snap *store.Snapshot) {
	if snap.Version == 0 || snap.Version == a.version {
		return
	}
	key, err := archive.Save(ctx, snap)
	if err != nil {
		slog.Error("archive failed", "version", snap.Version, "error", err)
		return
	}
	if a.key != "" {
		if err := archive.Delete(ctx, a.key); err != nil {
			slog.Warn("pruning previous archive failed", "key", a.key, "error", err)
		}
	}
	a.version, a.key = snap.Version, key
	slog.Info("mirror archived", "key", key)
}
