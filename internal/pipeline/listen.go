package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"chatpipe/internal/bus"
	"chatpipe/internal/domain"
)

// ErrAlreadyListening is returned by Listen when another Listen call is active.
var ErrAlreadyListening = errors.New("pipeline: already listening")

// Connect opens the connector.
func (o *Orchestrator) Connect(ctx context.Context) (domain.ConnectResult, error) {
	o.logger.Info("connecting", "connector", o.connector.Name())
	res, err := o.connector.Connect(ctx)
	if err != nil {
		o.metrics.Connected.Set(0)
		return res, fmt.Errorf("connect %s: %w", o.connector.Name(), err)
	}
	o.metrics.Connected.Set(1)
	o.events.Emit(bus.Event{
		Type:    bus.EventConnectorConnected,
		Source:  o.connector.Name(),
		Payload: map[string]any{"timestamp": res.Timestamp},
	})
	o.logger.Info("connected", "connector", o.connector.Name())
	return res, nil
}

// Listen polls the connector every poll interval until ctx is done. A tick
// that is still running when the next one fires causes that tick to be
// skipped. Listen waits for the running tick before returning.
func (o *Orchestrator) Listen(ctx context.Context) error {
	o.listenMu.Lock()
	if o.listening {
		o.listenMu.Unlock()
		return ErrAlreadyListening
	}
	o.listening = true
	o.listenMu.Unlock()
	defer func() {
		o.listenMu.Lock()
		o.listening = false
		o.listenMu.Unlock()
	}()

	o.logger.Info("listening for messages", "interval", o.pollInterval)
	ticker := time.NewTicker(o.pollInterval)
	defer ticker.Stop()

	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		select {
		case <-ctx.Done():
			o.logger.Info("stopped listening")
			return nil
		case <-ticker.C:
			if !o.tick.TryAcquire(1) {
				o.logger.Debug("previous tick still running, skipping")
				continue
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				defer o.tick.Release(1)
				o.poll(ctx)
			}()
		}
	}
}

// Tick runs one poll unless another is in flight. It returns the result of
// the processed message, or nil when nothing was processed.
func (o *Orchestrator) Tick(ctx context.Context) *ProcessResult {
	if !o.tick.TryAcquire(1) {
		return nil
	}
	defer o.tick.Release(1)
	return o.poll(ctx)
}

// poll is one tick: reconnect and skip when down, no-op when nothing is
// waiting, otherwise push exactly one message through the pipeline.
func (o *Orchestrator) poll(ctx context.Context) *ProcessResult {
	status := o.connector.Status()
	if q, ok := status.Config["queued"].(int); ok {
		o.metrics.QueueDepth.Set(int64(q))
	}
	if !status.IsConnected {
		o.reconnect(ctx)
		return nil
	}

	raw, err := o.connector.Receive(ctx)
	if err != nil {
		if errors.Is(err, domain.ErrNotConnected) {
			o.reconnect(ctx)
			return nil
		}
		o.logger.Error("receive failed", "err", err)
		return nil
	}
	if raw == nil {
		return nil
	}

	o.logger.Info("new message", "type", raw.Type, "from", raw.From)
	res := o.process(ctx, *raw, o.smartReplies)
	return &res
}

func (o *Orchestrator) reconnect(ctx context.Context) {
	o.metrics.Connected.Set(0)
	o.metrics.Reconnects.Inc()
	o.events.Emit(bus.Event{Type: bus.EventConnectorReconnect, Source: o.connector.Name()})
	o.logger.Warn("connector disconnected, reconnecting", "connector", o.connector.Name())
	if _, err := o.Connect(ctx); err != nil {
		o.logger.Warn("reconnect failed", "err", err)
	}
}

// Shutdown disconnects the connector. Stop Listen first by cancelling its
// context.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.logger.Info("shutting down pipeline")
	if !o.connector.Status().IsConnected {
		return nil
	}
	err := o.connector.Disconnect(ctx)
	o.metrics.Connected.Set(0)
	o.events.Emit(bus.Event{Type: bus.EventConnectorDisconnect, Source: o.connector.Name()})
	if err != nil {
		return fmt.Errorf("disconnect %s: %w", o.connector.Name(), err)
	}
	o.logger.Info("pipeline shut down")
	return nil
}

// Status is a snapshot of the pipeline and its connector.
type Status struct {
	Connector      domain.ConnectorStatus `json:"connector"`
	CommandMode    string                 `json:"commandMode"`
	SmartReplies   bool                   `json:"smartReplies"`
	PollInterval   string                 `json:"pollInterval"`
	Handlers       int                    `json:"handlers"`
	Templates      int                    `json:"templates"`
	Commands       int                    `json:"commands"`
	CommandHistory int                    `json:"commandHistory"`
	Timestamp      time.Time              `json:"timestamp"`
}

func (o *Orchestrator) Status() Status {
	return Status{
		Connector:      o.connector.Status(),
		CommandMode:    o.commandMode,
		SmartReplies:   o.smartReplies,
		PollInterval:   o.pollInterval.String(),
		Handlers:       o.router.HandlerCount(),
		Templates:      len(o.templates.Keys()),
		Commands:       o.commands.Len(),
		CommandHistory: o.commands.History().Len(),
		Timestamp:      o.now(),
	}
}

// Stats are running totals since construction.
type Stats struct {
	TotalMessagesProcessed int64   `json:"totalMessagesProcessed"`
	RepliesSent            int64   `json:"repliesSent"`
	ReplyFailures          int64   `json:"replyFailures"`
	UptimeSeconds          float64 `json:"uptimeSeconds"`
	Connected              bool    `json:"connected"`
	MessageQueueLength     int     `json:"messageQueueLength"`
}

func (o *Orchestrator) Stats() Stats {
	st := o.connector.Status()
	queued, _ := st.Config["queued"].(int)
	return Stats{
		TotalMessagesProcessed: o.processed.Load(),
		RepliesSent:            o.replies.Load(),
		ReplyFailures:          o.failures.Load(),
		UptimeSeconds:          o.now().Sub(o.startTime).Seconds(),
		Connected:              st.IsConnected,
		MessageQueueLength:     queued,
	}
}
