// Command openmcpskills runs the skill-server: a Streamable HTTP MCP
// endpoint (/mcp) plus an admin REST surface (/admin), backed by either a
// single-file BoltDB store (STORAGE_BACKEND=local) or Postgres/S3/Redis
// (STORAGE_BACKEND=remote).
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/comdaze/openmcpskills/pkg/admin"
	"github.com/comdaze/openmcpskills/pkg/auth"
	"github.com/comdaze/openmcpskills/pkg/catalog"
	"github.com/comdaze/openmcpskills/pkg/cleanup"
	"github.com/comdaze/openmcpskills/pkg/config"
	"github.com/comdaze/openmcpskills/pkg/database"
	"github.com/comdaze/openmcpskills/pkg/invocationlog"
	"github.com/comdaze/openmcpskills/pkg/mcpengine"
	"github.com/comdaze/openmcpskills/pkg/mcpsession"
	"github.com/comdaze/openmcpskills/pkg/metadatastore"
	"github.com/comdaze/openmcpskills/pkg/objectstore"
	"github.com/comdaze/openmcpskills/pkg/transport"
	"github.com/comdaze/openmcpskills/pkg/version"
	goredis "github.com/go-redis/redis"
	"github.com/joho/godotenv"
)

// Exit codes per spec §6.
const (
	exitClean        = 0
	exitConfigOrBoot = 1
	exitStorage      = 2
)

func main() {
	os.Exit(run())
}

func run() int {
	configDir := getEnv("CONFIG_DIR", "./deploy/config")

	envPath := filepath.Join(configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		slog.Warn("no .env file loaded, continuing with existing environment", "path", envPath, "error", err)
	} else {
		slog.Info("loaded environment file", "path", envPath)
	}

	logger := slog.Default()
	ctx := context.Background()

	cfg, err := config.Initialize(ctx, configDir)
	if err != nil {
		logger.Error("configuration failed", "error", err)
		return exitConfigOrBoot
	}
	if cfg.ServerVersion == config.DefaultServerVersion {
		cfg.ServerVersion = version.Full()
	}

	app, err := wire(ctx, cfg, logger)
	if err != nil {
		logger.Error("boot failed", "error", err)
		if app != nil && app.storageUnreachable {
			return exitStorage
		}
		return exitConfigOrBoot
	}

	app.catalog.Start(ctx)
	app.invLog.Start(ctx)
	app.sessions.Start()
	app.cleanup.Start(ctx)

	go func() {
		logger.Info("mcp server listening", "addr", cfg.Addr)
		if err := app.transport.Start(cfg.Addr); err != nil {
			logger.Error("transport server stopped", "error", err)
		}
	}()

	waitForShutdown(logger)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := app.transport.Shutdown(shutdownCtx); err != nil {
		logger.Error("transport shutdown error", "error", err)
	}
	app.sessions.Stop()
	app.cleanup.Stop()
	app.invLog.Stop()
	app.catalog.Stop()
	if app.dbClient != nil {
		if err := app.dbClient.Close(); err != nil {
			logger.Error("error closing database client", "error", err)
		}
	}

	logger.Info("shutdown complete")
	return exitClean
}

type application struct {
	catalog            *catalog.Catalog
	invLog             *invocationlog.Log
	cleanup            *cleanup.Service
	sessions           *mcpsession.Registry
	transport          *transport.Server
	dbClient           *database.Client
	storageUnreachable bool
}

func wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*application, error) {
	app := &application{}

	objects, meta, invStore, dbClient, err := wireStorage(ctx, cfg, logger)
	if err != nil {
		app.storageUnreachable = true
		return app, fmt.Errorf("wiring storage: %w", err)
	}
	app.dbClient = dbClient

	cat := catalog.New(objects, meta, catalog.Config{
		RefreshInterval: cfg.CatalogRefreshInterval,
		CacheDir:        cfg.SkillCacheDir,
	}, logger)
	if err := cat.Boot(ctx); err != nil {
		return app, fmt.Errorf("booting catalog: %w", err)
	}
	app.catalog = cat

	invLog := invocationlog.New(invStore, logger)
	app.invLog = invLog
	app.cleanup = cleanup.NewService(invStore, 0, logger)

	sessions := mcpsession.New(mcpsession.Config{
		IdleTimeout:   cfg.SessionIdleTimeout,
		ExpiryTimeout: cfg.SessionExpiryTimeout,
	}, logger)
	app.sessions = sessions

	engine := mcpengine.New(cat, objects, meta, invLog, sessions, mcpengine.Config{
		ServerName:           cfg.ServerName,
		ServerVersion:        cfg.ServerVersion,
		ToolCallTimeout:      cfg.ToolCallTimeout,
		InvocationLogTTLDays: cfg.InvocationLogTTLDays,
	}, logger)

	verifier := wireVerifier(cfg)

	srv := transport.NewServer(engine, sessions, cat, meta, verifier, transport.Config{
		ServerName:     cfg.ServerName,
		ServerVersion:  cfg.ServerVersion,
		StorageBackend: cfg.StorageBackend,
	}, logger)

	adminHandler := admin.NewHandler(cat, invLog, objects, verifier)
	adminHandler.Register(srv.Router())

	app.transport = srv
	return app, nil
}

// wireVerifier picks the admin auth scheme: JWT if a signing secret is
// configured via JWT_SECRET, otherwise a static bearer token if
// ADMIN_AUTH_TOKEN is set, otherwise a no-op dev-mode verifier.
func wireVerifier(cfg *config.Config) auth.Verifier {
	if secret := os.Getenv("JWT_SECRET"); secret != "" {
		return auth.NewJWTVerifier([]byte(secret))
	}
	if cfg.AdminAuthToken != "" {
		return auth.NewStaticTokenVerifier(cfg.AdminAuthToken)
	}
	return auth.NoopVerifier{}
}

// wireStorage constructs the ObjectStore/MetadataStore/InvocationLog.Store
// triple for the configured backend. "local" uses three BoltDB files
// under SkillCacheDir; "remote" uses S3 (minio-go) for objects and
// Postgres (via pkg/database) for metadata/invocation log, with an
// optional Redis layer in front of the metadata counter increments.
func wireStorage(ctx context.Context, cfg *config.Config, logger *slog.Logger) (objectstore.Store, metadatastore.Store, invocationlog.Store, *database.Client, error) {
	switch cfg.StorageBackend {
	case "remote":
		return wireRemoteStorage(ctx, cfg, logger)
	default:
		return wireLocalStorage(cfg)
	}
}

func wireLocalStorage(cfg *config.Config) (objectstore.Store, metadatastore.Store, invocationlog.Store, *database.Client, error) {
	if err := os.MkdirAll(cfg.SkillCacheDir, 0o755); err != nil {
		return nil, nil, nil, nil, fmt.Errorf("creating skill cache dir: %w", err)
	}

	objects, err := objectstore.NewLocalStore(filepath.Join(cfg.SkillCacheDir, "objects.bolt"))
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("opening local object store: %w", err)
	}
	meta, err := metadatastore.NewLocalStore(filepath.Join(cfg.SkillCacheDir, "metadata.bolt"))
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("opening local metadata store: %w", err)
	}
	invStore, err := invocationlog.NewLocalStore(filepath.Join(cfg.SkillCacheDir, "invocations.bolt"))
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("opening local invocation log: %w", err)
	}
	return objects, meta, invStore, nil, nil
}

func wireRemoteStorage(ctx context.Context, cfg *config.Config, logger *slog.Logger) (objectstore.Store, metadatastore.Store, invocationlog.Store, *database.Client, error) {
	dbCfg, err := database.LoadConfigFromEnv()
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("loading database config: %w", err)
	}
	dbClient, err := database.NewClient(ctx, dbCfg)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("connecting to database: %w", err)
	}

	objects, err := objectstore.NewS3Store(objectstore.S3Config{
		Endpoint:        getEnv("S3_ENDPOINT", "localhost:9000"),
		AccessKeyID:     os.Getenv("S3_ACCESS_KEY_ID"),
		SecretAccessKey: os.Getenv("S3_SECRET_ACCESS_KEY"),
		UseSSL:          os.Getenv("S3_USE_SSL") == "true",
		Bucket:          cfg.ObjectStoreBucket,
		Prefix:          cfg.ObjectStorePrefix,
	})
	if err != nil {
		_ = dbClient.Close()
		return nil, nil, nil, nil, fmt.Errorf("connecting to object store: %w", err)
	}

	var meta metadatastore.Store = metadatastore.NewPostgresStore(dbClient.DB(), logger)
	if redisAddr := os.Getenv("REDIS_ADDR"); redisAddr != "" {
		meta = metadatastore.NewRedisCountingStore(meta, newRedisClient(redisAddr), logger)
	}

	invStore := invocationlog.NewPostgresStore(dbClient.DB())

	return objects, meta, invStore, dbClient, nil
}

func newRedisClient(addr string) *goredis.Client {
	return goredis.NewClient(&goredis.Options{Addr: addr})
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func waitForShutdown(logger *slog.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("shutdown signal received", "signal", sig.String())
}
