package pipeline

import (
	"context"
	"errors"
	"maps"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"chatpipe/internal/bus"
	"chatpipe/internal/domain"
	"chatpipe/internal/router"
	"chatpipe/internal/template"
)

// ProcessResult reports one pass of a message through the pipeline.
type ProcessResult struct {
	Success    bool                  `json:"success"`
	Processed  bool                  `json:"processed"`
	HasReply   bool                  `json:"hasReply"`
	Suppressed bool                  `json:"suppressed,omitempty"`
	Reply      *domain.ReplyIntent   `json:"reply,omitempty"`
	SendResult *domain.SendResult    `json:"sendResult,omitempty"`
	Original   domain.InboundMessage `json:"originalMessage"`
	Error      string                `json:"error,omitempty"`
}

// ProcessMessage runs raw through the pipeline once and sends the routed
// reply, if any.
func (o *Orchestrator) ProcessMessage(ctx context.Context, raw domain.RawMessage) ProcessResult {
	return o.process(ctx, raw, false)
}

func (o *Orchestrator) process(ctx context.Context, raw domain.RawMessage, smart bool) ProcessResult {
	ctx, span := o.tracer.Start(ctx, "pipeline.process", trace.WithAttributes(
		attribute.String("message.id", raw.ID),
		attribute.String("message.from", raw.From),
		attribute.String("connector", o.connector.Name()),
	))
	defer span.End()

	msg := o.extractor.Normalize(raw)
	span.SetAttributes(attribute.String("message.type", string(msg.Type)))
	o.processed.Add(1)
	o.metrics.Message(string(msg.Type))
	o.events.Emit(bus.Event{
		Type:    bus.EventMessageReceived,
		Source:  o.connector.Name(),
		Payload: map[string]any{"id": msg.ID, "from": msg.From, "type": string(msg.Type)},
	})

	start := time.Now()
	outcome := o.router.HandleMessage(ctx, msg)
	o.metrics.HandlerLatency.Observe(time.Since(start).Seconds())

	res := ProcessResult{Success: true, Processed: true, Original: msg}
	intent := o.replyFor(msg, outcome, smart)
	if intent == nil {
		res.Suppressed = true
		o.metrics.Suppressed.Inc()
		o.events.Emit(bus.Event{
			Type:    bus.EventMessageSuppressed,
			Source:  "pipeline",
			Payload: map[string]any{"id": msg.ID, "from": msg.From},
		})
		return res
	}
	if outcome.Error {
		span.RecordError(outcome.Err)
	}

	res.HasReply = true
	res.Reply = intent

	opts := make(map[string]any, len(intent.Options)+1)
	maps.Copy(opts, intent.Options)
	if _, ok := opts["correlationId"]; !ok {
		opts["correlationId"] = msg.ID
	}

	sent, err := o.connector.Send(ctx, intent.To, intent.Content, opts)
	if err != nil {
		o.failures.Add(1)
		o.metrics.ReplyFailures.Inc()
		if errors.Is(err, domain.ErrNotConnected) {
			o.metrics.Connected.Set(0)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "send failed")
		o.logger.Error("reply send failed", "id", msg.ID, "to", intent.To, "err", err)
		o.events.Emit(bus.Event{
			Type:    bus.EventReplyFailed,
			Source:  "pipeline",
			Payload: map[string]any{"id": msg.ID, "to": intent.To, "error": err.Error()},
		})
		res.Success = false
		res.Error = err.Error()
		return res
	}

	o.replies.Add(1)
	o.metrics.Replies.Inc()
	o.events.Emit(bus.Event{
		Type:    bus.EventReplySent,
		Source:  "pipeline",
		Payload: map[string]any{"id": msg.ID, "to": intent.To, "messageId": sent.MessageID},
	})
	o.logger.Info("reply sent", "id", msg.ID, "to", intent.To, "messageId", sent.MessageID)
	res.SendResult = &sent
	return res
}

// replyFor turns a routing outcome into the intent to send. Failures are
// rendered with the error template so the sender always hears back; a nil
// outcome or nil reply means no reply. With smart set, the template selector
// produces the reply content instead of the routed handler.
func (o *Orchestrator) replyFor(msg domain.InboundMessage, outcome *router.Outcome, smart bool) *domain.ReplyIntent {
	if outcome == nil {
		return nil
	}
	if outcome.Error {
		o.metrics.Errors.Inc()
		o.events.Emit(bus.Event{
			Type:    bus.EventMessageFailed,
			Source:  "pipeline",
			Payload: map[string]any{"id": msg.ID, "error": outcome.Message},
		})
		intent := o.templates.Render(msg, template.KeyError, map[string]any{"error": outcome.Err})
		return &intent
	}
	if outcome.Reply == nil {
		return nil
	}
	if smart {
		intent := o.templates.BuildSmart(msg)
		return &intent
	}

	intent := *outcome.Reply
	if intent.To == "" {
		intent.To = msg.From
	}
	if intent.Type == "" {
		intent.Type = "text"
	}
	if intent.OriginalMessageID == "" {
		intent.OriginalMessageID = msg.ID
	}
	return &intent
}
