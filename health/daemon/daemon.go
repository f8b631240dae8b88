// Package daemon runs a health client as a long lived service.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/posthog/posthog-go"
	"github.com/urfave/cli/v3"
	"tangled.sh/tangled.sh/healthsync/health"
	"tangled.sh/tangled.sh/healthsync/health/config"
	"tangled.sh/tangled.sh/healthsync/health/journal"
	"tangled.sh/tangled.sh/healthsync/health/notify"
	posthog_sink "tangled.sh/tangled.sh/healthsync/health/notify/posthog"
	"tangled.sh/tangled.sh/healthsync/health/permission"
	"tangled.sh/tangled.sh/healthsync/health/platform"
	"tangled.sh/tangled.sh/healthsync/health/platform/memory"
	"tangled.sh/tangled.sh/healthsync/health/server"
	"tangled.sh/tangled.sh/healthsync/log"
)

const shutdownTimeout = 10 * time.Second

func Command() *cli.Command {
	return &cli.Command{
		Name:   "run",
		Usage:  "run the health sync daemon",
		Action: Run,
		Description: `
Environment variables:
	HEALTHSYNC_SERVER_LISTEN_ADDR              (default: 127.0.0.1:6580)
	HEALTHSYNC_SERVER_APP                      (default: healthsync)
	HEALTHSYNC_STORAGE_BACKEND                 (memory|sqlite|redis|openbao, default: sqlite)
	HEALTHSYNC_STORAGE_DB_PATH                 (default: healthsync.db)
	HEALTHSYNC_STORAGE_CACHE_ENTRIES           (default: 0, disabled)
	HEALTHSYNC_STORAGE_REDIS_ADDR              (default: localhost:6379)
	HEALTHSYNC_STORAGE_OPENBAO_ADDR
	HEALTHSYNC_STORAGE_OPENBAO_ROLE_ID
	HEALTHSYNC_STORAGE_OPENBAO_SECRET_ID
	HEALTHSYNC_PERMISSIONS_DB_PATH             (default: permissions.db)
	HEALTHSYNC_PERMISSIONS_AUTO_GRANT          (comma-separated patterns)
	HEALTHSYNC_COLLECTION_PLAN                 (path to a yaml plan)
	HEALTHSYNC_COLLECTION_JOURNAL_PATH         (default: journal.db)
	HEALTHSYNC_COLLECTION_DEFAULT_INTERVAL     (default: 15m)
	HEALTHSYNC_POSTHOG_API_KEY                 (enables analytics)
	HEALTHSYNC_LOG_LEVEL                       (default: info)
`,
	}
}

func Run(ctx context.Context, cmd *cli.Command) error {
	cfg, err := config.Load(ctx)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := log.SetLevel(cfg.Log.Level); err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}
	logger := log.New("healthsync")

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	kvStore, closeKV, err := config.OpenStore(cfg.Storage, log.SubLogger(logger, "kv"))
	if err != nil {
		return err
	}
	defer closeKV()

	plan, err := config.LoadPlan(cfg.Collection.Plan)
	if err != nil {
		return err
	}
	components, err := plan.Components(cfg.Collection.DefaultInterval)
	if err != nil {
		return err
	}

	j, err := journal.Make(cfg.Collection.JournalPath)
	if err != nil {
		return fmt.Errorf("failed to setup journal: %w", err)
	}
	defer j.Close()

	e, err := permission.NewEnforcer(cfg.Permissions.DBPath, cfg.Server.App)
	if err != nil {
		return fmt.Errorf("failed to setup permission enforcer: %w", err)
	}
	requester := permission.NewRequester(e, cfg.Permissions.AutoGrant, log.SubLogger(logger, "permissions"))

	sinkLogger := log.SubLogger(logger, "sink")
	sinks := []platform.Sink{notify.NewLogSink(sinkLogger), j}
	if cfg.Posthog.Enabled() {
		ph, err := posthog.NewWithConfig(cfg.Posthog.APIKey, posthog.Config{Endpoint: cfg.Posthog.Endpoint})
		if err != nil {
			return fmt.Errorf("failed to create posthog client: %w", err)
		}
		defer ph.Close()
		sinks = append(sinks, posthog_sink.NewPosthogSink(ph, cfg.Posthog.DistinctID, sinkLogger))
	}

	records := memory.New(
		memory.WithTokenTTL(cfg.Collection.TokenTTL),
		memory.WithPageSize(cfg.Collection.PageSize),
	)

	client := health.New(ctx, health.Options{
		Store:       records,
		Permissions: e,
		KV:          kvStore,
		Sink:        notify.NewMergedSink(sinks, sinkLogger),
		Components:  components,
		Logger:      log.SubLogger(logger, "health"),
	})
	defer client.Shutdown()

	client.Configure()
	if len(cfg.Permissions.AutoGrant) > 0 {
		client.RequestPermissionsIfNeeded(requester)
	}

	srv := &http.Server{
		Addr:    cfg.Server.ListenAddr,
		Handler: server.New(client, requester, j, log.SubLogger(logger, "server")).Router(),
	}

	go func() {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(sctx); err != nil {
			logger.Error("failed to shut down server", "err", err)
		}
	}()

	logger.Info("starting healthsync server", "address", cfg.Server.ListenAddr, "components", len(components))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}
	logger.Info("shutting down")
	return nil
}
