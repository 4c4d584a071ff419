package events

import (
	"log/slog"

	"ferry/internal/logging"
	"ferry/internal/transfer"
)

// Fanout delivers each event to every sink in order. A panicking sink is
// logged and skipped so the remaining sinks still receive the event.
type Fanout struct {
	sinks  []transfer.EventSink
	logger *slog.Logger
}

// NewFanout combines sinks, ignoring nil entries.
func NewFanout(logger *slog.Logger, sinks ...transfer.EventSink) *Fanout {
	if logger == nil {
		logger = logging.NewNop()
	}
	f := &Fanout{logger: logger}
	for _, sink := range sinks {
		if sink != nil {
			f.sinks = append(f.sinks, sink)
		}
	}
	return f
}

// Publish implements transfer.EventSink.
func (f *Fanout) Publish(batchID string, eventType transfer.EventType, payload any) {
	for _, sink := range f.sinks {
		f.deliver(sink, batchID, eventType, payload)
	}
}

func (f *Fanout) deliver(sink transfer.EventSink, batchID string, eventType transfer.EventType, payload any) {
	defer func() {
		if r := recover(); r != nil {
			logging.WarnWithContext(f.logger, "event sink panicked", "event_sink_panic",
				logging.String(logging.FieldBatchID, batchID),
				logging.String("event", string(eventType)),
				logging.Any("panic", r),
				logging.String(logging.FieldImpact, "the event was dropped for this sink only"),
			)
		}
	}()
	sink.Publish(batchID, eventType, payload)
}
