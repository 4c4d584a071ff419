package daemonrun

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"ferry/internal/api"
	"ferry/internal/automation"
	"ferry/internal/config"
	"ferry/internal/daemon"
	"ferry/internal/events"
	"ferry/internal/logging"
	"ferry/internal/mapping"
	"ferry/internal/notifications"
	"ferry/internal/preflight"
	"ferry/internal/records"
	"ferry/internal/services"
	"ferry/internal/transfer"
)

const sinkCloseTimeout = 10 * time.Second

// Options configures daemon process runtime behavior.
type Options struct {
	LogLevel    string
	Development bool
	// Ready, when set, receives the bound API address once the daemon is up.
	Ready func(addr string)
}

// Run starts the ferry daemon and blocks until ctx ends or SIGINT/SIGTERM
// arrives. Running batches are drained before it returns.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	level := opts.LogLevel
	if level == "" {
		level = cfg.Logging.Level
	}
	logger, err := logging.New(logging.Options{
		Level:       level,
		Format:      cfg.Logging.Format,
		OutputPaths: []string{"stdout", cfg.LogPath()},
		Development: opts.Development,
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	runID := uuid.NewString()
	logger = logger.With(logging.String("run_id", runID))

	if err := writePIDFile(cfg.PIDPath()); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(cfg.PIDPath())

	store, err := records.Open(cfg)
	if err != nil {
		logger.Error("open records store", logging.Error(err))
		return err
	}
	defer store.Close()

	hub := events.NewHub(cfg.Events.HubCapacity)
	sinks := []transfer.EventSink{hub}

	var redisPub *events.RedisPublisher
	if cfg.Events.RedisURL != "" {
		redisPub, err = events.NewRedisPublisher(cfg.Events.RedisURL, cfg.Events.RedisChannel, cfg.Events.RedisBuffer, logger)
		if err != nil {
			return services.Wrap(services.ErrConfiguration, "daemon", "redis publisher", "invalid events.redis_url", err)
		}
		sinks = append(sinks, redisPub)
	}

	notifySink := notifications.NewSink(cfg, notifications.NewService(cfg), logger)
	sinks = append(sinks, notifySink)

	transfers, err := transfer.NewService(transfer.Dependencies{
		Source:  store,
		Mapper:  mapping.New(mapping.Options{}),
		Store:   store,
		Drivers: automation.NewFactory(cfg, logger),
		Sink:    events.NewFanout(logger, sinks...),
		Logger:  logger,
	}, transfer.Options{
		ItemTimeout:   cfg.ItemTimeout(),
		ReadyTimeout:  cfg.RemoteReadyTimeout(),
		MaxConcurrent: cfg.Transfer.MaxConcurrentBatches,
	})
	if err != nil {
		return fmt.Errorf("create transfer service: %w", err)
	}

	checks := runPreflight(signalCtx, logger, cfg)

	d, err := daemon.New(cfg, store, transfers, hub, logger, daemon.WithChecks(checks))
	if err != nil {
		return fmt.Errorf("create daemon: %w", err)
	}
	defer d.Close()

	if err := d.Start(signalCtx); err != nil {
		logger.Error("daemon start failed",
			logging.Error(err),
			logging.String(logging.FieldEventType, "daemon_start_failed"),
			logging.String(logging.FieldErrorHint, "check api.bind and whether another ferry daemon holds the lock"),
		)
		return err
	}
	if opts.Ready != nil {
		opts.Ready(d.APIAddr())
	}

	<-signalCtx.Done()
	logger.Info("ferry daemon shutting down")
	d.Stop()

	closeCtx, closeCancel := context.WithTimeout(context.Background(), sinkCloseTimeout)
	defer closeCancel()
	var g errgroup.Group
	if redisPub != nil {
		g.Go(func() error {
			return redisPub.Close(closeCtx)
		})
	}
	g.Go(func() error {
		notifySink.Wait()
		return nil
	})
	if err := g.Wait(); err != nil {
		logging.WarnWithContext(logger, "event sinks did not close cleanly", "sink_close_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "some progress events may not have been delivered"),
		)
	}
	return nil
}

func runPreflight(ctx context.Context, logger *slog.Logger, cfg *config.Config) []api.CheckResult {
	results := preflight.RunAll(ctx, cfg)
	checks := make([]api.CheckResult, 0, len(results))
	for _, r := range results {
		checks = append(checks, api.CheckResult{Name: r.Name, Passed: r.Passed, Detail: r.Detail})
		if r.Passed {
			logger.Debug("preflight check passed",
				logging.String("check", r.Name),
				logging.String("detail", r.Detail),
			)
			continue
		}
		logging.WarnWithContext(logger, "preflight check failed", "preflight_failed",
			logging.String("check", r.Name),
			logging.String("detail", r.Detail),
			logging.String(logging.FieldErrorHint, "fix the configuration or start the dependency; batches may fail until then"),
		)
	}
	return checks
}

func writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	value := strconv.Itoa(os.Getpid()) + "\n"
	return os.WriteFile(path, []byte(value), 0o644)
}
