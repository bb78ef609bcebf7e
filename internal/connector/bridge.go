package connector

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"chatpipe/internal/bus"
	"chatpipe/internal/config"
	"chatpipe/internal/domain"
)

// Bridge connects to a WebSocket bridge (e.g. a whatsapp-web.js process) that
// handles the platform protocol; this side only exchanges JSON frames.
//
// Inbound frame: {"type":"message","id","from","chat","content","messageType","mediaUrl","from_name"}
// Outbound frame: {"type":"message","id","to","content"}
type Bridge struct {
	*queued
	cfg        config.BridgeConfig
	logger     *slog.Logger
	maxBackoff time.Duration

	mu     sync.Mutex // guards conn and writes
	conn   *websocket.Conn
	cancel context.CancelFunc
	done   chan struct{}
}

type BridgeOptions struct {
	Config config.BridgeConfig
	Queue  domain.InboundQueue
	Now    func() time.Time
	Logger *slog.Logger
}

var _ domain.Connector = (*Bridge)(nil)

func NewBridge(opts BridgeOptions) *Bridge {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Queue == nil {
		opts.Queue = bus.NewQueue(100, opts.Logger)
	}
	if opts.Config.HandshakeTimeoutSec <= 0 {
		opts.Config.HandshakeTimeoutSec = 10
	}
	maxBackoff := time.Duration(opts.Config.MaxBackoffSeconds) * time.Second
	if maxBackoff <= 0 {
		maxBackoff = 30 * time.Second
	}
	return &Bridge{
		queued:     newQueued(opts.Queue, opts.Now),
		cfg:        opts.Config,
		logger:     opts.Logger,
		maxBackoff: maxBackoff,
	}
}

func (b *Bridge) Name() string { return "bridge" }

// Connect dials the bridge and starts the reader. Calling it again while the
// reader runs only redials when the socket is down.
func (b *Bridge) Connect(ctx context.Context) (domain.ConnectResult, error) {
	if err := b.dial(ctx); err != nil {
		return domain.ConnectResult{}, err
	}

	b.mu.Lock()
	if b.cancel == nil {
		loopCtx, cancel := context.WithCancel(context.Background())
		b.cancel = cancel
		b.done = make(chan struct{})
		go b.listenLoop(loopCtx, b.done)
	}
	b.mu.Unlock()

	return domain.ConnectResult{Success: true, Timestamp: b.now()}, nil
}

func (b *Bridge) dial(ctx context.Context) error {
	b.mu.Lock()
	if b.conn != nil {
		b.mu.Unlock()
		return nil
	}
	b.mu.Unlock()

	dialer := *websocket.DefaultDialer
	dialer.HandshakeTimeout = time.Duration(b.cfg.HandshakeTimeoutSec) * time.Second

	conn, _, err := dialer.DialContext(ctx, b.cfg.URL, nil)
	if err != nil {
		return fmt.Errorf("dial bridge %s: %w", b.cfg.URL, err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.conn != nil {
		_ = conn.Close()
		return nil
	}
	b.conn = conn
	b.setConnected(true)
	b.logger.Info("bridge connected", "url", b.cfg.URL)
	return nil
}

// Disconnect stops the reader and closes the socket.
func (b *Bridge) Disconnect(ctx context.Context) error {
	b.mu.Lock()
	cancel, done := b.cancel, b.done
	b.cancel, b.done = nil, nil
	if b.conn != nil {
		_ = b.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		_ = b.conn.Close()
		b.conn = nil
	}
	b.setConnected(false)
	b.mu.Unlock()

	if cancel != nil {
		cancel()
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	b.logger.Info("bridge disconnected")
	return nil
}

func (b *Bridge) Send(ctx context.Context, to, content string, opts map[string]any) (domain.SendResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.conn == nil {
		return domain.SendResult{}, domain.ErrNotConnected
	}

	id := "msg_" + uuid.NewString()
	data, err := json.Marshal(map[string]any{
		"type":    "message",
		"id":      id,
		"to":      to,
		"content": content,
	})
	if err != nil {
		return domain.SendResult{}, fmt.Errorf("marshal bridge message: %w", err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = b.conn.SetWriteDeadline(deadline)
		defer b.conn.SetWriteDeadline(time.Time{})
	}
	if err := b.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return domain.SendResult{}, fmt.Errorf("send bridge message: %w", err)
	}
	return sendResult(b.now, id, to, content, opts), nil
}

func (b *Bridge) Receive(ctx context.Context) (*domain.RawMessage, error) {
	return b.receive()
}

func (b *Bridge) Status() domain.ConnectorStatus {
	return b.status(b.Name(), map[string]any{
		"url":        b.cfg.URL,
		"maxBackoff": b.maxBackoff.String(),
	})
}

// listenLoop reads frames from the bridge with automatic reconnection.
func (b *Bridge) listenLoop(ctx context.Context, done chan struct{}) {
	defer close(done)
	backoff := time.Second

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		b.mu.Lock()
		conn := b.conn
		b.mu.Unlock()

		if conn == nil {
			b.logger.Info("attempting bridge reconnect", "backoff", backoff)
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}

			if err := b.dial(ctx); err != nil {
				b.logger.Warn("bridge reconnect failed", "err", err)
				backoff = min(backoff*2, b.maxBackoff)
				continue
			}
			backoff = time.Second
			continue
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			b.logger.Warn("bridge read error, will reconnect", "err", err)
			b.mu.Lock()
			if b.conn == conn {
				_ = b.conn.Close()
				b.conn = nil
				b.setConnected(false)
			}
			b.mu.Unlock()
			continue
		}

		raw, ok := decodeBridgeFrame(data, b.now)
		if !ok {
			b.logger.Warn("ignoring bridge frame", "bytes", len(data))
			continue
		}
		b.queue.Publish(raw)
	}
}

type bridgeFrame struct {
	Type        string   `json:"type"`
	ID          string   `json:"id"`
	From        string   `json:"from"`
	Chat        string   `json:"chat"`
	FromName    string   `json:"from_name"`
	Content     string   `json:"content"`
	MessageType string   `json:"messageType"`
	MediaURL    string   `json:"mediaUrl"`
	Media       []string `json:"media"`
	Timestamp   int64    `json:"timestamp"`
}

// decodeBridgeFrame turns a "message" frame into a raw message; other frame
// types and frames without a sender are rejected.
func decodeBridgeFrame(data []byte, now func() time.Time) (domain.RawMessage, bool) {
	var f bridgeFrame
	if err := json.Unmarshal(data, &f); err != nil {
		return domain.RawMessage{}, false
	}
	if f.Type != "message" || f.From == "" {
		return domain.RawMessage{}, false
	}

	raw := domain.RawMessage{
		ID:       f.ID,
		From:     f.From,
		Type:     domain.MessageType(f.MessageType),
		Content:  f.Content,
		MediaURL: f.MediaURL,
		Extra:    map[string]any{"platform": "bridge"},
	}
	if raw.ID == "" {
		raw.ID = fmt.Sprintf("recv_%d", now().UnixMilli())
	}
	if raw.MediaURL == "" && len(f.Media) > 0 {
		raw.MediaURL = f.Media[0]
	}
	if f.Timestamp > 0 {
		raw.Timestamp = time.Unix(f.Timestamp, 0).UTC()
	}
	if f.Chat != "" && f.Chat != f.From {
		raw.Extra["chat"] = f.Chat
	}
	if f.FromName != "" {
		raw.Extra["fromName"] = f.FromName
	}
	return raw, true
}
