package domain

import (
	"context"
	"errors"
	"time"
)

// ErrNotConnected is returned by Send and Receive while the connector is down.
var ErrNotConnected = errors.New("connector not connected")

// Connector is the boundary to the chat platform (WhatsApp, Telegram, a bridge, ...).
// The pipeline only relies on this contract, never on a wire protocol.
type Connector interface {
	Name() string
	Connect(ctx context.Context) (ConnectResult, error)
	Disconnect(ctx context.Context) error
	// Send delivers content to the recipient. Options are opaque to the pipeline.
	Send(ctx context.Context, to, content string, opts map[string]any) (SendResult, error)
	// Receive returns the next pending message, or nil when none is available.
	Receive(ctx context.Context) (*RawMessage, error)
	Status() ConnectorStatus
}

type ConnectResult struct {
	Success   bool      `json:"success"`
	Timestamp time.Time `json:"timestamp"`
}

type SendResult struct {
	Success   bool           `json:"success"`
	MessageID string         `json:"messageId"`
	Timestamp time.Time      `json:"timestamp"`
	Recipient string         `json:"recipient"`
	Message   string         `json:"message"`
	Options   map[string]any `json:"options,omitempty"`
}

type ConnectorStatus struct {
	Name        string         `json:"name"`
	IsConnected bool           `json:"isConnected"`
	Timestamp   time.Time      `json:"timestamp"`
	Config      map[string]any `json:"config,omitempty"`
}
