package connector

import (
	"sync"
	"time"

	"chatpipe/internal/domain"
)

// queued is the receive side shared by push-based transports: a background
// reader or webhook publishes into the queue and Receive drains it.
type queued struct {
	queue domain.InboundQueue
	now   func() time.Time

	mu        sync.RWMutex
	connected bool
}

func newQueued(q domain.InboundQueue, now func() time.Time) *queued {
	if now == nil {
		now = time.Now
	}
	return &queued{queue: q, now: now}
}

func (q *queued) setConnected(v bool) {
	q.mu.Lock()
	q.connected = v
	q.mu.Unlock()
}

func (q *queued) isConnected() bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.connected
}

func (q *queued) receive() (*domain.RawMessage, error) {
	if !q.isConnected() {
		return nil, domain.ErrNotConnected
	}
	msg, ok := q.queue.TryReceive()
	if !ok {
		return nil, nil
	}
	return &msg, nil
}

func (q *queued) status(name string, cfg map[string]any) domain.ConnectorStatus {
	if cfg == nil {
		cfg = map[string]any{}
	}
	cfg["queued"] = q.queue.Len()
	return domain.ConnectorStatus{
		Name:        name,
		IsConnected: q.isConnected(),
		Timestamp:   q.now(),
		Config:      cfg,
	}
}

func sendResult(now func() time.Time, id, to, content string, opts map[string]any) domain.SendResult {
	if opts == nil {
		opts = map[string]any{}
	}
	return domain.SendResult{
		Success:   true,
		MessageID: id,
		Timestamp: now(),
		Recipient: to,
		Message:   content,
		Options:   opts,
	}
}
