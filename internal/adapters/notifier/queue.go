package notifier

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jpillora/backoff"

	"researchEngine/internal/metrics"
	"researchEngine/internal/ports"
)

// ErrQueueFull is returned when a notification cannot be enqueued.
var ErrQueueFull = errors.New("notification queue full")

// ErrQueueClosed is returned after Close.
var ErrQueueClosed = errors.New("notification queue closed")

// QueueConfig tunes the delivery queue.
type QueueConfig struct {
	Size        int           // Buffered notifications; defaults to 256
	MaxAttempts int           // Delivery attempts per notification; defaults to 3
	MinBackoff  time.Duration // Defaults to 200ms
	MaxBackoff  time.Duration // Defaults to 5s
}

// Queue is a ports.Notifier that hands notifications to a background
// worker. Notify never blocks on delivery.
type Queue struct {
	sender  Sender
	cfg     QueueConfig
	logger  ports.Logger
	metrics *metrics.Metrics

	mu     sync.RWMutex
	closed bool
	items  chan ports.Notification
	done   chan struct{}
}

var _ ports.Notifier = (*Queue)(nil)

// NewQueue creates a queue delivering through sender and starts its worker.
// The worker stops when ctx is cancelled or Close is called.
func NewQueue(ctx context.Context, sender Sender, cfg QueueConfig, logger ports.Logger, m *metrics.Metrics) *Queue {
	if cfg.Size <= 0 {
		cfg.Size = 256
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.MinBackoff <= 0 {
		cfg.MinBackoff = 200 * time.Millisecond
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 5 * time.Second
	}
	if m == nil {
		m = metrics.New()
	}
	q := &Queue{
		sender:  sender,
		cfg:     cfg,
		logger:  logger,
		metrics: m,
		items:   make(chan ports.Notification, cfg.Size),
		done:    make(chan struct{}),
	}
	go q.run(ctx)
	return q
}

// Notify enqueues n without waiting.
func (q *Queue) Notify(ctx context.Context, n ports.Notification) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrQueueClosed
	}
	select {
	case q.items <- n:
		return nil
	default:
		q.metrics.NotificationsDropped.Inc()
		return ErrQueueFull
	}
}

// Close stops accepting notifications and waits until the queued ones are
// delivered or given up on.
func (q *Queue) Close() {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.items)
	}
	q.mu.Unlock()
	<-q.done
}

func (q *Queue) run(ctx context.Context) {
	defer close(q.done)
	for {
		select {
		case n, ok := <-q.items:
			if !ok {
				return
			}
			q.deliver(ctx, n)
		case <-ctx.Done():
			q.logger.Info(ctx, "Notification worker stopped", map[string]interface{}{"pending": len(q.items)})
			return
		}
	}
}

func (q *Queue) deliver(ctx context.Context, n ports.Notification) {
	b := &backoff.Backoff{Min: q.cfg.MinBackoff, Max: q.cfg.MaxBackoff, Factor: 2, Jitter: true}
	var err error
	for attempt := 1; attempt <= q.cfg.MaxAttempts; attempt++ {
		if err = q.sender.Send(ctx, n); err == nil {
			q.metrics.NotificationsSent.Inc()
			return
		}
		if attempt == q.cfg.MaxAttempts {
			break
		}
		select {
		case <-time.After(b.Duration()):
		case <-ctx.Done():
			return
		}
	}
	q.metrics.NotificationsDropped.Inc()
	q.logger.Error(ctx, err, "Notification delivery failed", map[string]interface{}{
		"user_id":    n.UserID,
		"event_type": string(n.EventType),
		"attempts":   q.cfg.MaxAttempts,
	})
}
