package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"ferry/internal/logging"
	"ferry/internal/transfer"
)

const (
	defaultRedisBuffer  = 256
	redisPublishTimeout = 5 * time.Second
)

// PublishFunc sends one message to a pub/sub channel.
type PublishFunc func(ctx context.Context, channel string, message []byte) error

// RedisPublisher mirrors events onto Redis pub/sub. Publish only enqueues;
// a single worker drains the queue so per-batch ordering is preserved.
// When the queue is full the event is dropped and counted.
type RedisPublisher struct {
	prefix  string
	publish PublishFunc
	client  *redis.Client
	logger  *slog.Logger
	now     func() time.Time

	mu      sync.RWMutex
	closed  bool
	queue   chan redisMessage
	done    chan struct{}
	dropped atomic.Uint64
	sent    atomic.Uint64
}

type redisMessage struct {
	channel string
	body    []byte
}

// redisEnvelope is the JSON body published for each event.
type redisEnvelope struct {
	BatchID   string             `json:"batch_id"`
	Type      transfer.EventType `json:"type"`
	Timestamp time.Time          `json:"ts"`
	Payload   any                `json:"payload,omitempty"`
}

// NewRedisPublisher connects to redisURL and publishes on
// "<channel>:<batchId>".
func NewRedisPublisher(redisURL, channel string, buffer int, logger *slog.Logger) (*RedisPublisher, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	client := redis.NewClient(opts)
	p := NewPublisherWithFunc(channel, buffer, func(ctx context.Context, ch string, message []byte) error {
		return client.Publish(ctx, ch, message).Err()
	}, logger)
	p.client = client
	return p, nil
}

// NewPublisherWithFunc builds a publisher around an arbitrary send function.
func NewPublisherWithFunc(channel string, buffer int, publish PublishFunc, logger *slog.Logger) *RedisPublisher {
	if buffer <= 0 {
		buffer = defaultRedisBuffer
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	p := &RedisPublisher{
		prefix:  strings.TrimSuffix(strings.TrimSpace(channel), ":"),
		publish: publish,
		logger:  logger,
		now:     time.Now,
		queue:   make(chan redisMessage, buffer),
		done:    make(chan struct{}),
	}
	go p.run()
	return p
}

// Ping checks connectivity when backed by a real client.
func (p *RedisPublisher) Ping(ctx context.Context) error {
	if p.client == nil {
		return nil
	}
	return p.client.Ping(ctx).Err()
}

// Channel returns the pub/sub channel used for batchID.
func (p *RedisPublisher) Channel(batchID string) string {
	return p.prefix + ":" + batchID
}

// Publish implements transfer.EventSink.
func (p *RedisPublisher) Publish(batchID string, eventType transfer.EventType, payload any) {
	body, err := json.Marshal(redisEnvelope{
		BatchID:   batchID,
		Type:      eventType,
		Timestamp: p.now().UTC(),
		Payload:   payload,
	})
	if err != nil {
		logging.WarnWithContext(p.logger, "redis event encode failed", "redis_encode_failed",
			logging.String(logging.FieldBatchID, batchID),
			logging.Error(err),
			logging.String(logging.FieldImpact, "event not mirrored to redis"),
		)
		return
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return
	}
	select {
	case p.queue <- redisMessage{channel: p.Channel(batchID), body: body}:
	default:
		total := p.dropped.Add(1)
		logging.WarnWithContext(p.logger, "redis event queue full", "redis_event_dropped",
			logging.String(logging.FieldBatchID, batchID),
			logging.String("event", string(eventType)),
			logging.Uint64("dropped_total", total),
			logging.String(logging.FieldErrorHint, "check redis connectivity or raise events.redis_buffer"),
			logging.String(logging.FieldImpact, "event not mirrored to redis"),
		)
	}
}

// Dropped returns how many events were discarded because the queue was full.
func (p *RedisPublisher) Dropped() uint64 {
	return p.dropped.Load()
}

// Sent returns how many events were delivered.
func (p *RedisPublisher) Sent() uint64 {
	return p.sent.Load()
}

// Close stops accepting events, drains what is queued until ctx ends, and
// closes the redis client.
func (p *RedisPublisher) Close(ctx context.Context) error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.queue)
	}
	p.mu.Unlock()

	var err error
	select {
	case <-p.done:
	case <-ctx.Done():
		err = fmt.Errorf("drain redis queue: %w", ctx.Err())
	}
	if p.client != nil {
		err = errors.Join(err, p.client.Close())
	}
	return err
}

func (p *RedisPublisher) run() {
	defer close(p.done)
	for msg := range p.queue {
		ctx, cancel := context.WithTimeout(context.Background(), redisPublishTimeout)
		err := p.publish(ctx, msg.channel, msg.body)
		cancel()
		if err != nil {
			logging.WarnWithContext(p.logger, "redis publish failed", "redis_publish_failed",
				logging.String("channel", msg.channel),
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "verify events.redis_url"),
				logging.String(logging.FieldImpact, "event not mirrored to redis"),
			)
			continue
		}
		p.sent.Add(1)
	}
}
