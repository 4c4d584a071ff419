package transfer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"ferry/internal/logging"
	"ferry/internal/services"
)

const defaultDriverShutdownTimeout = 30 * time.Second

// Dependencies are the collaborators a Service drives.
type Dependencies struct {
	Source   RecordSource
	Mapper   Mapper
	Store    Persistence
	Drivers  DriverFactory
	Sink     EventSink
	Registry *Registry
	Logger   *slog.Logger
}

// Options tune batch execution.
type Options struct {
	// ItemTimeout bounds one work item; zero disables the deadline.
	ItemTimeout time.Duration
	// ReadyTimeout bounds driver initialization plus readiness.
	ReadyTimeout time.Duration
	// DriverShutdownTimeout bounds driver cleanup.
	DriverShutdownTimeout time.Duration
	// MaxConcurrent caps running batches; zero or less means unlimited.
	MaxConcurrent int
	NewID         func() string
	Now           func() time.Time
}

// StartRequest selects the records for a new batch. BatchID is generated when
// blank.
type StartRequest struct {
	BatchID string
	Filters Filters
}

// Service accepts transfer batches and runs each one asynchronously.
type Service struct {
	source    RecordSource
	drivers   DriverFactory
	store     Persistence
	registry  *Registry
	processor *Processor
	reporter  *Reporter
	logger    *slog.Logger
	sem       *semaphore.Weighted

	itemTimeout     time.Duration
	readyTimeout    time.Duration
	shutdownTimeout time.Duration
	newID           func() string
	now             func() time.Time

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	stopped bool
	wg      sync.WaitGroup
}

// NewService wires a Service.
func NewService(deps Dependencies, opts Options) (*Service, error) {
	switch {
	case deps.Source == nil:
		return nil, errors.New("transfer: record source is required")
	case deps.Mapper == nil:
		return nil, errors.New("transfer: mapper is required")
	case deps.Store == nil:
		return nil, errors.New("transfer: persistence is required")
	case deps.Drivers == nil:
		return nil, errors.New("transfer: driver factory is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	registry := deps.Registry
	if registry == nil {
		registry = NewRegistry()
	}
	if opts.NewID == nil {
		opts.NewID = func() string { return uuid.NewString() }
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.DriverShutdownTimeout <= 0 {
		opts.DriverShutdownTimeout = defaultDriverShutdownTimeout
	}

	processor := NewProcessor(deps.Mapper, deps.Store, logger)
	processor.now = opts.Now

	ctx, cancel := context.WithCancel(context.Background())
	svc := &Service{
		source:          deps.Source,
		drivers:         deps.Drivers,
		store:           deps.Store,
		registry:        registry,
		processor:       processor,
		reporter:        NewReporter(deps.Sink, logger),
		logger:          logging.NewComponentLogger(logger, "orchestrator"),
		itemTimeout:     opts.ItemTimeout,
		readyTimeout:    opts.ReadyTimeout,
		shutdownTimeout: opts.DriverShutdownTimeout,
		newID:           opts.NewID,
		now:             opts.Now,
		ctx:             ctx,
		cancel:          cancel,
	}
	if opts.MaxConcurrent > 0 {
		svc.sem = semaphore.NewWeighted(int64(opts.MaxConcurrent))
	}
	return svc, nil
}

// Registry exposes the job registry backing this service.
func (s *Service) Registry() *Registry {
	return s.registry
}

// Start selects records, registers a pending job, and launches the batch in
// the background. Selection errors and ErrNoRecords are returned before any
// job exists.
func (s *Service) Start(ctx context.Context, req StartRequest) (string, error) {
	if s.isStopped() {
		return "", ErrShuttingDown
	}
	id := strings.TrimSpace(req.BatchID)
	if id == "" {
		id = s.newID()
	}
	if s.registry.Exists(id) {
		return "", ErrDuplicateBatch
	}
	if !s.acquire() {
		return "", ErrAtCapacity
	}
	launched := false
	defer func() {
		if !launched {
			s.release()
		}
	}()

	records, err := s.source.SelectRecords(ctx, req.Filters)
	if err != nil {
		return "", fmt.Errorf("select records: %w", err)
	}
	if len(records) == 0 {
		return "", ErrNoRecords
	}
	items := BuildWorkItems(records)

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return "", ErrShuttingDown
	}
	if _, err := s.registry.Create(id, len(items)); err != nil {
		s.mu.Unlock()
		return "", err
	}
	s.wg.Add(1)
	launched = true
	s.mu.Unlock()

	runCtx := services.WithBatchID(s.ctx, id)
	runCtx = services.WithTenant(runCtx, req.Filters.TenantID)
	if requestID, ok := services.RequestIDFromContext(ctx); ok {
		runCtx = services.WithRequestID(runCtx, requestID)
	}

	logging.WithContext(runCtx, s.logger).Info("batch accepted",
		logging.Int("items", len(items)),
		logging.Int("records", len(records)),
		logging.String(logging.FieldEventType, "batch_accepted"),
	)
	s.reporter.Status(id, StatusPending, "")

	go s.run(runCtx, id, items)
	return id, nil
}

// Status returns a snapshot of the batch.
func (s *Service) Status(id string) (JobState, error) {
	return s.registry.Get(id)
}

// Cancel requests cooperative cancellation. The item in flight completes.
func (s *Service) Cancel(id string) (JobState, error) {
	if err := s.registry.RequestCancel(id); err != nil {
		return JobState{}, err
	}
	job, err := s.registry.Get(id)
	if err != nil {
		return JobState{}, err
	}
	s.reporter.Status(id, job.Status, "cancellation requested")
	return job, nil
}

// List returns snapshots of all known batches, newest first.
func (s *Service) List() []JobState {
	return s.registry.List()
}

// Prune drops finished batches older than retention.
func (s *Service) Prune(retention time.Duration) int {
	return s.registry.Prune(retention)
}

// Wait blocks until every launched batch has finished.
func (s *Service) Wait() {
	s.wg.Wait()
}

// Shutdown stops accepting batches, asks running ones to stop at their next
// item boundary, and waits for them until ctx expires.
func (s *Service) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.stopped = true
	s.cancel()
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Service) isStopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

func (s *Service) acquire() bool {
	if s.sem == nil {
		return true
	}
	return s.sem.TryAcquire(1)
}

func (s *Service) release() {
	if s.sem != nil {
		s.sem.Release(1)
	}
}

func (s *Service) run(ctx context.Context, batchID string, items []WorkItem) {
	defer s.wg.Done()
	defer s.release()

	started := s.now()
	logger := logging.WithContext(ctx, s.logger)

	driver, err := s.drivers.NewDriver(batchID)
	if err != nil {
		s.abort(logger, batchID, started, fmt.Errorf("create driver: %w", err))
		return
	}
	defer s.shutdownDriver(ctx, logger, driver)

	if err := s.prepareDriver(ctx, driver); err != nil {
		s.abort(logger, batchID, started, err)
		return
	}

	if !s.registry.markRunning(batchID) {
		final := s.registry.finish(batchID, StatusCancelled, "")
		logger.Info("batch cancelled before first item",
			logging.String(logging.FieldEventType, "batch_cancelled"),
		)
		s.reporter.BatchDone(final, s.now().Sub(started))
		return
	}
	s.reporter.Status(batchID, StatusRunning, "")
	logger.Info("batch running",
		logging.Int("items", len(items)),
		logging.String(logging.FieldEventType, "batch_started"),
	)

	fatal := s.runItems(ctx, logger, batchID, NewSession(driver), items)

	status := StatusCompleted
	message := ""
	if fatal != nil {
		status = StatusError
		message = fatal.Error()
	} else if job, err := s.registry.Get(batchID); err == nil && job.CancelRequested {
		status = StatusCancelled
	}
	final := s.registry.finish(batchID, status, message)
	if fatal != nil {
		s.reporter.BatchError(batchID, message)
	}
	s.reporter.Status(batchID, final.Status, message)
	s.reporter.BatchDone(final, s.now().Sub(started))

	attrs := []logging.Attr{
		logging.String("status", string(final.Status)),
		logging.Int("total", final.Progress.Total),
		logging.Int("completed", final.Progress.Completed),
		logging.Int("failed", final.Progress.Failed),
		logging.Duration("duration", s.now().Sub(started)),
		logging.String(logging.FieldEventType, "batch_finished"),
	}
	if fatal != nil {
		details := services.Details(fatal)
		attrs = append(attrs,
			logging.Error(fatal),
			logging.String(logging.FieldErrorKind, string(details.Kind)),
			logging.String(logging.FieldErrorHint, "remote session lost; retry untransferred records"),
		)
		logger.Error("batch aborted", logging.Args(attrs...)...)
		return
	}
	logger.Info("batch finished", logging.Args(attrs...)...)
}

func (s *Service) prepareDriver(ctx context.Context, driver Driver) error {
	readyCtx := ctx
	if s.readyTimeout > 0 {
		var cancel context.CancelFunc
		readyCtx, cancel = context.WithTimeout(ctx, s.readyTimeout)
		defer cancel()
	}
	if err := driver.Initialize(readyCtx); err != nil {
		return fmt.Errorf("initialize driver: %w", err)
	}
	if err := driver.WaitReady(readyCtx); err != nil {
		return fmt.Errorf("wait for driver: %w", err)
	}
	return nil
}

// runItems walks the work items in order. It returns a non-nil error only for
// batch-fatal driver faults.
func (s *Service) runItems(ctx context.Context, logger *slog.Logger, batchID string, session *Session, items []WorkItem) error {
	for _, item := range items {
		if ctx.Err() != nil {
			_ = s.registry.RequestCancel(batchID)
		}
		progress, ok := s.registry.beginItem(batchID)
		if !ok {
			logger.Info("cancellation observed at item boundary",
				logging.Int("last_item", progress.Current),
				logging.String(logging.FieldEventType, "batch_cancel_observed"),
			)
			return nil
		}
		itemCtx := services.WithItemIndex(ctx, progress.Current)
		itemLogger := logging.WithContext(itemCtx, s.logger)
		s.reporter.ItemStart(batchID, progress, item)

		outcome, err := s.processItem(itemCtx, itemLogger, session, item)
		fatal := err != nil && errors.Is(err, ErrDriverUnavailable)
		if err != nil {
			outcome = Outcome{Message: err.Error(), ObservedAt: s.now()}
		}
		if !outcome.Success && !outcome.Persisted {
			if perr := s.store.RecordError(itemCtx, item.Ref(), outcome.Message); perr != nil {
				itemLogger.Warn("failed to persist item error",
					logging.Error(perr),
					logging.String(logging.FieldEventType, "record_error_failed"),
					logging.String(logging.FieldErrorHint, "check records database access"),
				)
			}
		}

		for _, member := range outcome.Rejected {
			s.registry.appendError(batchID, ItemError{
				ItemID:    IndividualItem{Record: member.Record}.Key(),
				RecordIDs: []int64{member.Record.ID},
				Message:   "group member rejected: " + member.Reason,
				Timestamp: outcome.ObservedAt,
			})
		}

		var status Status
		if outcome.Success {
			progress, status = s.registry.recordSuccess(batchID)
			s.reporter.ItemDone(batchID, progress, item, outcome)
			itemLogger.Info("item transferred",
				logging.String("item", item.Key()),
				logging.String(logging.FieldEventType, "item_transferred"),
			)
		} else {
			progress, status = s.registry.recordFailure(batchID, ItemError{
				ItemID:    item.Key(),
				RecordIDs: recordIDs(item.Records()),
				Message:   outcome.Message,
				Timestamp: outcome.ObservedAt,
			})
			s.reporter.ItemFailed(batchID, progress, item, outcome.Message, outcome.Rejected)
			itemLogger.Warn("item failed",
				logging.String("item", item.Key()),
				logging.String("reason", outcome.Message),
				logging.String(logging.FieldEventType, "item_failed"),
				logging.String(logging.FieldErrorHint, "fix the record and retry untransferred records"),
			)
		}
		s.reporter.Progress(batchID, status, progress)

		if fatal {
			return err
		}
	}
	return nil
}

// processItem runs one item under its own deadline. Batch cancellation does
// not interrupt it; panics become errors.
func (s *Service) processItem(ctx context.Context, logger *slog.Logger, session *Session, item WorkItem) (outcome Outcome, err error) {
	itemCtx := context.WithoutCancel(ctx)
	if s.itemTimeout > 0 {
		var cancel context.CancelFunc
		itemCtx, cancel = context.WithTimeout(itemCtx, s.itemTimeout)
		defer cancel()
	}
	defer func() {
		if rec := recover(); rec != nil {
			logger.Error("item processing panicked",
				logging.Any("panic", rec),
				logging.String("stack", string(debug.Stack())),
				logging.String(logging.FieldEventType, "item_panic"),
				logging.String(logging.FieldErrorHint, "report this record; the batch continued"),
			)
			outcome = Outcome{}
			err = fmt.Errorf("unexpected fault: %v", rec)
		}
	}()
	return s.processor.Process(itemCtx, session, item)
}

func (s *Service) abort(logger *slog.Logger, batchID string, started time.Time, cause error) {
	message := cause.Error()
	final := s.registry.finish(batchID, StatusError, message)
	details := services.Details(cause)
	logger.Error("batch failed before processing items",
		logging.Error(cause),
		logging.String(logging.FieldErrorKind, string(details.Kind)),
		logging.String(logging.FieldEventType, "batch_init_failed"),
		logging.String(logging.FieldErrorHint, "check remote availability and credentials"),
	)
	if final.Status == StatusError {
		s.reporter.BatchError(batchID, message)
	}
	s.reporter.Status(batchID, final.Status, message)
	s.reporter.BatchDone(final, s.now().Sub(started))
}

func (s *Service) shutdownDriver(ctx context.Context, logger *slog.Logger, driver Driver) {
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.shutdownTimeout)
	defer cancel()
	defer func() {
		if rec := recover(); rec != nil {
			logger.Warn("driver shutdown panicked",
				logging.Any("panic", rec),
				logging.String(logging.FieldEventType, "driver_shutdown_failed"),
				logging.String(logging.FieldErrorHint, "remote session may remain open"),
			)
		}
	}()
	if err := driver.Shutdown(shutdownCtx); err != nil {
		logger.Warn("driver shutdown failed",
			logging.Error(err),
			logging.String(logging.FieldEventType, "driver_shutdown_failed"),
			logging.String(logging.FieldErrorHint, "remote session may remain open"),
		)
	}
}
