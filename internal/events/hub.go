package events

import (
	"context"
	"sync"
	"time"

	"ferry/internal/transfer"
)

const defaultHubCapacity = 2048

// Event is one buffered progress event.
type Event struct {
	Sequence  uint64             `json:"seq"`
	Timestamp time.Time          `json:"ts"`
	BatchID   string             `json:"batch_id"`
	Type      transfer.EventType `json:"type"`
	Payload   any                `json:"payload,omitempty"`
}

// Terminal reports whether no further events follow for the batch.
func (e Event) Terminal() bool {
	return e.Type == transfer.EventBatchDone
}

// Hub stores recent events and wakes waiters when new events arrive.
type Hub struct {
	mu       sync.Mutex
	cond     *sync.Cond
	capacity int
	buffer   []Event
	nextSeq  uint64
	now      func() time.Time
}

// NewHub constructs a bounded in-memory event buffer.
func NewHub(capacity int) *Hub {
	if capacity <= 0 {
		capacity = defaultHubCapacity
	}
	h := &Hub{capacity: capacity, now: time.Now}
	h.cond = sync.NewCond(&h.mu)
	return h
}

// Publish implements transfer.EventSink.
func (h *Hub) Publish(batchID string, eventType transfer.EventType, payload any) {
	if h == nil {
		return
	}
	h.mu.Lock()
	h.nextSeq++
	evt := Event{
		Sequence:  h.nextSeq,
		Timestamp: h.now().UTC(),
		BatchID:   batchID,
		Type:      eventType,
		Payload:   payload,
	}
	if len(h.buffer) == h.capacity {
		copy(h.buffer, h.buffer[1:])
		h.buffer = h.buffer[:h.capacity-1]
	}
	h.buffer = append(h.buffer, evt)
	h.cond.Broadcast()
	h.mu.Unlock()
}

// Fetch returns events with sequence greater than since, restricted to
// batchID unless it is empty. The returned cursor is the sequence to pass as
// since on the next call. When wait is true, Fetch blocks until at least one
// matching event is available or ctx ends.
func (h *Hub) Fetch(ctx context.Context, batchID string, since uint64, limit int, wait bool) ([]Event, uint64, error) {
	if h == nil {
		return nil, since, nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if limit <= 0 || limit > h.capacity {
		limit = h.capacity
	}

	stopWait := make(chan struct{})
	defer close(stopWait)
	if wait && ctx.Done() != nil {
		go func() {
			select {
			case <-ctx.Done():
				h.mu.Lock()
				h.cond.Broadcast()
				h.mu.Unlock()
			case <-stopWait:
			}
		}()
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for {
		events, next := h.snapshotLocked(batchID, since, limit)
		if len(events) > 0 || !wait {
			return events, next, nil
		}
		if err := ctx.Err(); err != nil {
			return nil, next, err
		}
		since = next
		h.cond.Wait()
	}
}

// Latest returns the newest sequence number published.
func (h *Hub) Latest() uint64 {
	if h == nil {
		return 0
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.nextSeq
}

func (h *Hub) snapshotLocked(batchID string, since uint64, limit int) ([]Event, uint64) {
	var out []Event
	for _, evt := range h.buffer {
		if evt.Sequence <= since {
			continue
		}
		if batchID != "" && evt.BatchID != batchID {
			continue
		}
		out = append(out, evt)
		if len(out) == limit {
			return out, evt.Sequence
		}
	}
	// Non-matching events are skipped for good, so the cursor can advance
	// to the newest sequence.
	return out, h.nextSeq
}
