package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"

	"ferry/internal/api"
	"ferry/internal/config"
	"ferry/internal/events"
	"ferry/internal/logging"
	"ferry/internal/records"
	"ferry/internal/transfer"
)

const (
	defaultJanitorInterval = time.Minute
	minDrainTimeout        = 30 * time.Second
)

// Daemon coordinates the transfer service and enforces single-instance execution.
type Daemon struct {
	cfg       *config.Config
	logger    *slog.Logger
	store     *records.Store
	transfers *transfer.Service
	hub       *events.Hub
	checks    []api.CheckResult

	lockPath        string
	lock            *flock.Flock
	janitorInterval time.Duration
	api             *apiServer

	running atomic.Bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// Option customizes a Daemon.
type Option func(*Daemon)

// WithChecks attaches startup check results to the status payload.
func WithChecks(checks []api.CheckResult) Option {
	return func(d *Daemon) {
		d.checks = append([]api.CheckResult(nil), checks...)
	}
}

// WithJanitorInterval overrides how often finished batches are pruned.
func WithJanitorInterval(interval time.Duration) Option {
	return func(d *Daemon) {
		if interval > 0 {
			d.janitorInterval = interval
		}
	}
}

// New constructs a daemon with initialized dependencies.
func New(cfg *config.Config, store *records.Store, transfers *transfer.Service, hub *events.Hub, logger *slog.Logger, opts ...Option) (*Daemon, error) {
	if cfg == nil || store == nil || transfers == nil || hub == nil {
		return nil, errors.New("daemon requires config, store, transfer service, and event hub")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	d := &Daemon{
		cfg:             cfg,
		logger:          logging.NewComponentLogger(logger, "daemon"),
		store:           store,
		transfers:       transfers,
		hub:             hub,
		lockPath:        cfg.LockPath(),
		lock:            flock.New(cfg.LockPath()),
		janitorInterval: defaultJanitorInterval,
	}
	for _, opt := range opts {
		opt(d)
	}
	d.api = newAPIServer(cfg, d, logger)
	return d, nil
}

// Start acquires the daemon lock, starts the API listener, and launches the
// registry janitor.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another ferry daemon instance is already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	if err := d.api.start(runCtx); err != nil {
		cancel()
		_ = d.lock.Unlock()
		return err
	}
	d.cancel = cancel

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.runJanitor(runCtx)
	}()

	d.running.Store(true)
	d.logger.Info("ferry daemon started",
		logging.String("lock", d.lockPath),
		logging.String("api", d.APIAddr()),
		logging.String("remote_mode", d.cfg.Remote.Mode),
	)
	return nil
}

// Stop stops the API, drains running batches, and releases the daemon lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}

	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.api.stop()
	d.wg.Wait()

	drainCtx, cancel := context.WithTimeout(context.Background(), d.drainTimeout())
	defer cancel()
	if err := d.transfers.Shutdown(drainCtx); err != nil {
		logging.WarnWithContext(d.logger, "running batches did not drain", "daemon_drain_timeout",
			logging.Error(err),
			logging.Int("active", d.transfers.Registry().Active()),
			logging.String(logging.FieldErrorHint, "batches stop after their current item; raise transfer.item_timeout_seconds if items are slow"),
			logging.String(logging.FieldImpact, "some batches may not have reached a terminal state"),
		)
	}

	if err := d.lock.Unlock(); err != nil {
		logging.WarnWithContext(d.logger, "failed to release daemon lock", "daemon_lock_release_failed",
			logging.Error(err),
			logging.String("lock", d.lockPath),
		)
	}
	d.running.Store(false)
	d.logger.Info("ferry daemon stopped")
}

// Close releases resources held by the daemon.
func (d *Daemon) Close() error {
	d.Stop()
	return nil
}

// Running reports whether Start succeeded and Stop has not been called.
func (d *Daemon) Running() bool {
	return d.running.Load()
}

// APIAddr returns the bound API address, or empty when the API is disabled.
func (d *Daemon) APIAddr() string {
	return d.api.addr()
}

// Status returns the current daemon status.
func (d *Daemon) Status(ctx context.Context) api.DaemonStatus {
	status := api.DaemonStatus{
		Running:         d.running.Load(),
		PID:             os.Getpid(),
		DatabasePath:    d.store.Path(),
		LockFilePath:    d.lockPath,
		RemoteMode:      d.cfg.Remote.Mode,
		ActiveTransfers: d.transfers.Registry().Active(),
		MaxConcurrent:   d.cfg.Transfer.MaxConcurrentBatches,
		Checks:          d.checks,
	}
	stats, err := d.store.Stats(ctx, "")
	if err != nil {
		logging.WarnWithContext(d.logger, "record stats unavailable", "record_stats_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "status omits record counts"),
		)
		return status
	}
	status.Records = api.FromRecordStats(stats)
	return status
}

func (d *Daemon) runJanitor(ctx context.Context) {
	retention := d.cfg.JobRetention()
	if retention <= 0 {
		return
	}
	ticker := time.NewTicker(d.janitorInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if removed := d.transfers.Prune(retention); removed > 0 {
				d.logger.Debug("pruned finished batches",
					logging.Int("removed", removed),
					logging.Duration("retention", retention),
				)
			}
		}
	}
}

func (d *Daemon) drainTimeout() time.Duration {
	timeout := d.cfg.ItemTimeout() + 10*time.Second
	if timeout < minDrainTimeout {
		timeout = minDrainTimeout
	}
	return timeout
}
