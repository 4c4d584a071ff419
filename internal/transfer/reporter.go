package transfer

import (
	"log/slog"
	"time"

	"ferry/internal/logging"
)

// ProgressEvent carries aggregate counters after each item.
type ProgressEvent struct {
	BatchID  string   `json:"batch_id"`
	Status   Status   `json:"status"`
	Progress Progress `json:"progress"`
}

// StatusEvent announces a lifecycle transition.
type StatusEvent struct {
	BatchID string `json:"batch_id"`
	Status  Status `json:"status"`
	Message string `json:"message,omitempty"`
}

// ItemEvent describes one work item starting, finishing, or failing.
type ItemEvent struct {
	BatchID   string   `json:"batch_id"`
	Index     int      `json:"index"`
	Total     int      `json:"total"`
	ItemID    string   `json:"item_id"`
	Kind      ItemKind `json:"kind"`
	Label     string   `json:"label"`
	RecordIDs []int64  `json:"record_ids"`
	Message   string   `json:"message,omitempty"`
	Rejected  []int64  `json:"rejected,omitempty"`
}

// BatchDoneEvent is the terminal summary of a batch.
type BatchDoneEvent struct {
	BatchID        string      `json:"batch_id"`
	Status         Status      `json:"status"`
	Total          int         `json:"total"`
	Completed      int         `json:"completed"`
	Failed         int         `json:"failed"`
	Errors         []ItemError `json:"errors"`
	DurationMillis int64       `json:"duration_ms"`
	Message        string      `json:"message,omitempty"`
}

// Duration converts DurationMillis.
func (e BatchDoneEvent) Duration() time.Duration {
	return time.Duration(e.DurationMillis) * time.Millisecond
}

// BatchErrorEvent reports a batch-fatal fault.
type BatchErrorEvent struct {
	BatchID string `json:"batch_id"`
	Message string `json:"message"`
}

// Reporter formats transitions and counters for the event sink. It holds no
// batch state.
type Reporter struct {
	sink   EventSink
	logger *slog.Logger
}

// NewReporter wraps sink. A nil sink discards events.
func NewReporter(sink EventSink, logger *slog.Logger) *Reporter {
	if sink == nil {
		sink = NopSink{}
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Reporter{sink: sink, logger: logging.NewComponentLogger(logger, "reporter")}
}

// Status emits a status event.
func (r *Reporter) Status(batchID string, status Status, message string) {
	r.publish(batchID, EventStatus, StatusEvent{BatchID: batchID, Status: status, Message: message})
}

// ItemStart emits item-start for the item at index.
func (r *Reporter) ItemStart(batchID string, progress Progress, item WorkItem) {
	r.publish(batchID, EventItemStart, itemEvent(batchID, progress, item, ""))
}

// ItemDone emits item-done.
func (r *Reporter) ItemDone(batchID string, progress Progress, item WorkItem, outcome Outcome) {
	event := itemEvent(batchID, progress, item, outcome.Message)
	event.Rejected = rejectedIDs(outcome.Rejected)
	r.publish(batchID, EventItemDone, event)
}

// ItemFailed emits item-failed.
func (r *Reporter) ItemFailed(batchID string, progress Progress, item WorkItem, message string, rejected []MemberFailure) {
	event := itemEvent(batchID, progress, item, message)
	event.Rejected = rejectedIDs(rejected)
	r.publish(batchID, EventItemFailed, event)
}

// Progress emits aggregate counters.
func (r *Reporter) Progress(batchID string, status Status, progress Progress) {
	r.publish(batchID, EventProgress, ProgressEvent{BatchID: batchID, Status: status, Progress: progress})
}

// BatchDone emits the terminal summary.
func (r *Reporter) BatchDone(job JobState, duration time.Duration) {
	r.publish(job.ID, EventBatchDone, BatchDoneEvent{
		BatchID:        job.ID,
		Status:         job.Status,
		Total:          job.Progress.Total,
		Completed:      job.Progress.Completed,
		Failed:         job.Progress.Failed,
		Errors:         job.Errors,
		DurationMillis: duration.Milliseconds(),
		Message:        job.Message,
	})
}

// BatchError emits a batch-fatal fault.
func (r *Reporter) BatchError(batchID, message string) {
	r.publish(batchID, EventBatchError, BatchErrorEvent{BatchID: batchID, Message: message})
}

func (r *Reporter) publish(batchID string, eventType EventType, payload any) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Warn("event sink panicked; event dropped",
				logging.String(logging.FieldBatchID, batchID),
				logging.String("event", string(eventType)),
				logging.Any("panic", rec),
				logging.String(logging.FieldEventType, "event_sink_panic"),
				logging.String(logging.FieldErrorHint, "check event sink configuration"),
			)
		}
	}()
	r.sink.Publish(batchID, eventType, payload)
}

func itemEvent(batchID string, progress Progress, item WorkItem, message string) ItemEvent {
	return ItemEvent{
		BatchID:   batchID,
		Index:     progress.Current,
		Total:     progress.Total,
		ItemID:    item.Key(),
		Kind:      item.Kind(),
		Label:     item.Label(),
		RecordIDs: recordIDs(item.Records()),
		Message:   message,
	}
}

func rejectedIDs(rejected []MemberFailure) []int64 {
	if len(rejected) == 0 {
		return nil
	}
	ids := make([]int64, 0, len(rejected))
	for _, m := range rejected {
		ids = append(ids, m.Record.ID)
	}
	return ids
}
