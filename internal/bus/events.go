package bus

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

const defaultMaxHistory = 1000

// Event is an internal pipeline notification.
type Event struct {
	Type      string         // e.g. "message.received", "reply.sent"
	Source    string         // originating component
	Payload   map[string]any // event-specific data
	Timestamp time.Time
}

// EventHandler is a callback for events.
type EventHandler func(Event)

// EventBus is a topic-based publish/subscribe bus with a bounded replay
// history. Handlers run synchronously; a panicking handler is logged and
// does not affect the others.
type EventBus struct {
	handlers   map[string][]namedHandler
	mu         sync.RWMutex
	logger     *slog.Logger
	history    []Event
	maxHistory int
}

type namedHandler struct {
	ID      string
	Handler EventHandler
}

func NewEventBus(logger *slog.Logger) *EventBus {
	return NewEventBusWithHistory(defaultMaxHistory, logger)
}

// NewEventBusWithHistory keeps at most maxHistory events for Replay.
func NewEventBusWithHistory(maxHistory int, logger *slog.Logger) *EventBus {
	if logger == nil {
		logger = slog.Default()
	}
	if maxHistory < 0 {
		maxHistory = 0
	}
	return &EventBus{
		handlers:   make(map[string][]namedHandler),
		logger:     logger,
		maxHistory: maxHistory,
	}
}

// On registers a handler for eventType ("*" for every event) and returns an
// ID for Off.
func (eb *EventBus) On(eventType string, handler EventHandler) string {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	id := eventType + "-" + uuid.NewString()
	eb.handlers[eventType] = append(eb.handlers[eventType], namedHandler{ID: id, Handler: handler})
	return id
}

// Off removes a handler by its ID.
func (eb *EventBus) Off(eventType, handlerID string) {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	handlers := eb.handlers[eventType]
	for i, h := range handlers {
		if h.ID == handlerID {
			eb.handlers[eventType] = append(handlers[:i:i], handlers[i+1:]...)
			return
		}
	}
}

// Emit records the event and calls every matching handler in order.
func (eb *EventBus) Emit(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	eb.mu.Lock()
	if eb.maxHistory > 0 {
		if len(eb.history) >= eb.maxHistory {
			eb.history = eb.history[1:]
		}
		eb.history = append(eb.history, event)
	}
	handlers := make([]namedHandler, 0, len(eb.handlers[event.Type])+len(eb.handlers["*"]))
	handlers = append(handlers, eb.handlers[event.Type]...)
	handlers = append(handlers, eb.handlers["*"]...)
	eb.mu.Unlock()

	for _, h := range handlers {
		func(nh namedHandler) {
			defer func() {
				if r := recover(); r != nil {
					eb.logger.Error("event handler panic", "event", event.Type, "handler", nh.ID, "panic", r)
				}
			}()
			nh.Handler(event)
		}(h)
	}
}

// EmitAsync publishes an event on a new goroutine.
func (eb *EventBus) EmitAsync(event Event) {
	go eb.Emit(event)
}

// Replay returns recorded events of eventType ("*" for all) since the given time.
func (eb *EventBus) Replay(eventType string, since time.Time) []Event {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	var result []Event
	for _, e := range eb.history {
		if e.Timestamp.Before(since) {
			continue
		}
		if eventType == "*" || e.Type == eventType {
			result = append(result, e)
		}
	}
	return result
}

// HistoryLen returns the number of recorded events.
func (eb *EventBus) HistoryLen() int {
	eb.mu.RLock()
	defer eb.mu.RUnlock()
	return len(eb.history)
}

// Well-known event types.
const (
	EventMessageReceived     = "message.received"
	EventMessageSuppressed   = "message.suppressed"
	EventMessageFailed       = "message.failed"
	EventReplySent           = "reply.sent"
	EventReplyFailed         = "reply.failed"
	EventCommandExecuted     = "command.executed"
	EventConnectorConnected  = "connector.connected"
	EventConnectorReconnect  = "connector.reconnect"
	EventConnectorDisconnect = "connector.disconnected"
	EventWebhookReceived     = "webhook.received"
)
