// Package connector holds the transports behind domain.Connector: a simulated
// connector for local runs and tests, and real ones for WhatsApp Cloud API,
// a WebSocket bridge, Telegram, RabbitMQ and the console.
package connector

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"

	"chatpipe/internal/domain"
)

// MockConfig configures the simulated connector.
type MockConfig struct {
	ConnectDelay         time.Duration
	MaxMessageSize       int
	MessageTimeout       time.Duration
	ReconnectInterval    time.Duration
	MaxReconnectAttempts int
	// Random makes Receive return a canned message whenever the queue is empty.
	Random bool
	Now    func() time.Time
	Logger *slog.Logger
}

// Mock simulates a chat platform. Messages added with Enqueue are returned
// first, in order; with Random set the canned samples are used afterwards.
type Mock struct {
	cfg    MockConfig
	logger *slog.Logger

	mu        sync.Mutex
	connected bool
	queue     []domain.RawMessage
	sent      []domain.SendResult
	connects  int
}

var _ domain.Connector = (*Mock)(nil)

func NewMock(cfg MockConfig) *Mock {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = 16 << 20
	}
	return &Mock{cfg: cfg, logger: cfg.Logger}
}

func (m *Mock) Name() string { return "mock" }

// Connect waits for the configured delay and marks the connector up.
func (m *Mock) Connect(ctx context.Context) (domain.ConnectResult, error) {
	m.logger.Info("connecting to mock platform", "delay", m.cfg.ConnectDelay)
	if m.cfg.ConnectDelay > 0 {
		timer := time.NewTimer(m.cfg.ConnectDelay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return domain.ConnectResult{}, ctx.Err()
		case <-timer.C:
		}
	}

	m.mu.Lock()
	m.connected = true
	m.connects++
	m.mu.Unlock()

	m.logger.Info("mock platform connected")
	return domain.ConnectResult{Success: true, Timestamp: m.cfg.Now()}, nil
}

func (m *Mock) Disconnect(ctx context.Context) error {
	m.mu.Lock()
	m.connected = false
	m.mu.Unlock()
	m.logger.Info("mock platform disconnected")
	return nil
}

// Send records the message and returns a synthetic result.
func (m *Mock) Send(ctx context.Context, to, content string, opts map[string]any) (domain.SendResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.connected {
		return domain.SendResult{}, domain.ErrNotConnected
	}
	if len(content) > m.cfg.MaxMessageSize {
		return domain.SendResult{}, fmt.Errorf("message of %d bytes exceeds limit of %d", len(content), m.cfg.MaxMessageSize)
	}

	if opts == nil {
		opts = map[string]any{}
	}
	res := domain.SendResult{
		Success:   true,
		MessageID: "msg_" + uuid.NewString(),
		Timestamp: m.cfg.Now(),
		Recipient: to,
		Message:   content,
		Options:   opts,
	}
	m.sent = append(m.sent, res)
	m.logger.Debug("mock send", "to", to, "id", res.MessageID)
	return res, nil
}

// Receive pops the next queued message. With an empty queue it returns a
// random sample when Random is set, otherwise nil.
func (m *Mock) Receive(ctx context.Context) (*domain.RawMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.connected {
		return nil, domain.ErrNotConnected
	}
	if len(m.queue) > 0 {
		msg := m.queue[0]
		m.queue = m.queue[1:]
		return &msg, nil
	}
	if !m.cfg.Random {
		return nil, nil
	}
	samples := m.samples()
	msg := samples[rand.IntN(len(samples))]
	return &msg, nil
}

func (m *Mock) samples() []domain.RawMessage {
	now := m.cfg.Now()
	id := func(offset int64) string { return fmt.Sprintf("recv_%d", now.UnixMilli()+offset) }
	return []domain.RawMessage{
		{ID: id(0), From: "+1234567890", Type: domain.TypeText, Content: "Hello, this is a test message", Timestamp: now},
		{ID: id(1), From: "+0987654321", Type: domain.TypeImage, Content: "Check out this image", Timestamp: now, MediaURL: "https://example.com/image.jpg"},
		{ID: id(2), From: "+1122334455", Type: domain.TypeDocument, Content: "Please review this document", Timestamp: now, MediaURL: "https://example.com/document.pdf"},
	}
}

func (m *Mock) Status() domain.ConnectorStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return domain.ConnectorStatus{
		Name:        m.Name(),
		IsConnected: m.connected,
		Timestamp:   m.cfg.Now(),
		Config: map[string]any{
			"maxMessageSize":       m.cfg.MaxMessageSize,
			"messageTimeout":       m.cfg.MessageTimeout.Milliseconds(),
			"reconnectInterval":    m.cfg.ReconnectInterval.Milliseconds(),
			"maxReconnectAttempts": m.cfg.MaxReconnectAttempts,
			"random":               m.cfg.Random,
			"queued":               len(m.queue),
		},
	}
}

// Enqueue adds messages returned by subsequent Receive calls.
func (m *Mock) Enqueue(msgs ...domain.RawMessage) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queue = append(m.queue, msgs...)
}

// Sent returns a copy of every successful send.
func (m *Mock) Sent() []domain.SendResult {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.SendResult, len(m.sent))
	copy(out, m.sent)
	return out
}

// Connects returns how many times Connect succeeded.
func (m *Mock) Connects() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connects
}
