// Package bus holds the in-process plumbing: the inbound queue that push-based
// connectors feed and the event bus the pipeline reports on.
package bus

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"chatpipe/internal/domain"
)

const defaultPublishTimeout = 10 * time.Second

// Queue is a buffered channel of raw messages. Push-based transports publish
// into it and the pipeline drains it one message per poll.
type Queue struct {
	inbound        chan domain.RawMessage
	done           chan struct{}
	doneOnce       sync.Once
	mu             sync.RWMutex
	closed         bool
	publishTimeout time.Duration
	logger         *slog.Logger
}

var _ domain.InboundQueue = (*Queue)(nil)

// NewQueue creates a queue holding up to bufferSize messages.
func NewQueue(bufferSize int, logger *slog.Logger) *Queue {
	if bufferSize <= 0 {
		bufferSize = 100
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Queue{
		inbound:        make(chan domain.RawMessage, bufferSize),
		done:           make(chan struct{}),
		publishTimeout: defaultPublishTimeout,
		logger:         logger,
	}
}

// Publish enqueues msg. When the queue is full it waits up to the publish
// timeout before dropping the message. Close ends the wait early.
func (q *Queue) Publish(msg domain.RawMessage) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		q.logger.Warn("attempted to publish to closed queue", "id", msg.ID)
		return
	}

	select {
	case q.inbound <- msg:
	default:
		q.logger.Warn("inbound queue full, waiting...", "id", msg.ID, "from", msg.From)
		timer := time.NewTimer(q.publishTimeout)
		defer timer.Stop()
		select {
		case q.inbound <- msg:
			q.logger.Info("message queued after wait", "id", msg.ID)
		case <-timer.C:
			q.logger.Error("message dropped: queue full", "id", msg.ID, "from", msg.From, "waited", q.publishTimeout)
		case <-q.done:
			q.logger.Warn("message dropped: queue closed while waiting", "id", msg.ID)
		}
	}
}

// TryReceive returns the next message without blocking.
func (q *Queue) TryReceive() (domain.RawMessage, bool) {
	select {
	case msg, ok := <-q.inbound:
		return msg, ok
	default:
		return domain.RawMessage{}, false
	}
}

// Receive blocks until a message arrives, the queue closes or ctx ends.
func (q *Queue) Receive(ctx context.Context) (domain.RawMessage, bool) {
	select {
	case msg, ok := <-q.inbound:
		return msg, ok
	case <-ctx.Done():
		return domain.RawMessage{}, false
	}
}

// Len returns the number of buffered messages.
func (q *Queue) Len() int {
	return len(q.inbound)
}

// Close stops accepting messages. Buffered messages can still be drained.
func (q *Queue) Close() {
	// Wake publishers blocked on a full queue so they release the read lock.
	q.doneOnce.Do(func() { close(q.done) })

	q.mu.Lock()
	defer q.mu.Unlock()

	if !q.closed {
		q.closed = true
		close(q.inbound)
	}
}
