package notifications

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"ferry/internal/config"
	"ferry/internal/logging"
	"ferry/internal/transfer"
)

// Sink forwards terminal batch events to a Service.
type Sink struct {
	svc       Service
	completed bool
	errors    bool
	timeout   time.Duration
	logger    *slog.Logger
	wg        sync.WaitGroup
}

// NewSink builds a sink honouring the notifications toggles in cfg.
func NewSink(cfg *config.Config, svc Service, logger *slog.Logger) *Sink {
	if logger == nil {
		logger = logging.NewNop()
	}
	timeout := time.Duration(cfg.Notifications.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Sink{
		svc:       svc,
		completed: cfg.Notifications.BatchCompleted,
		errors:    cfg.Notifications.BatchErrors,
		timeout:   timeout,
		logger:    logging.NewComponentLogger(logger, "notifications"),
	}
}

// Publish implements transfer.EventSink. A batch that aborts emits both
// batch-error and batch-done; only the former is announced.
func (s *Sink) Publish(batchID string, eventType transfer.EventType, payload any) {
	switch eventType {
	case transfer.EventBatchDone:
		summary, ok := payload.(transfer.BatchDoneEvent)
		if !ok || !s.completed || summary.Status == transfer.StatusError {
			return
		}
		s.dispatch(batchID, eventType, func(ctx context.Context) error {
			return s.svc.NotifyBatchDone(ctx, summary)
		})
	case transfer.EventBatchError:
		evt, ok := payload.(transfer.BatchErrorEvent)
		if !ok || !s.errors {
			return
		}
		s.dispatch(batchID, eventType, func(ctx context.Context) error {
			return s.svc.NotifyBatchError(ctx, batchID, evt.Message)
		})
	}
}

// Wait blocks until in-flight notifications finish.
func (s *Sink) Wait() {
	s.wg.Wait()
}

func (s *Sink) dispatch(batchID string, eventType transfer.EventType, send func(context.Context) error) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()
		if err := send(ctx); err != nil {
			logging.WarnWithContext(s.logger, "notification failed", "notification_failed",
				logging.String(logging.FieldBatchID, batchID),
				logging.String("event", string(eventType)),
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check notifications.ntfy_topic"),
				logging.String(logging.FieldImpact, "batch outcome was not pushed"),
			)
		}
	}()
}
