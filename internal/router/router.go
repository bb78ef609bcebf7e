// Package router runs normalized messages through a middleware chain and
// dispatches them to a handler chosen by message type.
package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"chatpipe/internal/domain"
)

// ErrHandlerTimeout is reported when a handler or middleware overruns the
// configured timeout.
var ErrHandlerTimeout = errors.New("handler timed out")

// Handler produces the reply for a message. A nil reply means "no reply".
type Handler func(ctx context.Context, msg *domain.InboundMessage) (*domain.ReplyIntent, error)

// Middleware transforms a message before dispatch. Returning a nil message
// suppresses it: no further middleware or handler runs.
type Middleware func(ctx context.Context, msg *domain.InboundMessage) (*domain.InboundMessage, error)

// Outcome is the result of HandleMessage. Either Reply is set (possibly nil
// for a handler that chose not to reply) or Error is true.
type Outcome struct {
	Reply    *domain.ReplyIntent
	Error    bool
	Message  string
	Original *domain.InboundMessage
	Err      error
}

// HasReply reports whether the outcome carries a deliverable reply.
func (o *Outcome) HasReply() bool {
	return o != nil && !o.Error && o.Reply != nil && o.Reply.To != ""
}

// Router holds the middleware chain and the type handlers.
type Router struct {
	mu             sync.RWMutex
	middlewares    []Middleware
	handlers       map[domain.MessageType]Handler
	defaultHandler Handler
	timeout        time.Duration
	logger         *slog.Logger
}

type Config struct {
	// HandlerTimeout bounds each middleware and handler call; 0 disables it.
	HandlerTimeout time.Duration
	Logger         *slog.Logger
}

func New(cfg Config) *Router {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	r := &Router{
		handlers: make(map[domain.MessageType]Handler),
		timeout:  cfg.HandlerTimeout,
		logger:   cfg.Logger,
	}
	r.defaultHandler = r.DefaultHandler
	return r
}

// Use appends mw to the chain.
func (r *Router) Use(mw Middleware) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.middlewares = append(r.middlewares, mw)
}

// RegisterHandler sets the handler for a message type, replacing any previous one.
func (r *Router) RegisterHandler(t domain.MessageType, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[t] = h
}

// SetDefaultHandler replaces the fallback handler. nil disables the fallback.
func (r *Router) SetDefaultHandler(h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.defaultHandler = h
}

// HandlerCount returns the number of type handlers registered.
func (r *Router) HandlerCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handlers)
}

// HandleMessage routes a copy of msg. It returns nil when a middleware
// suppresses the message or no handler is available. Failures never escape:
// they come back as an Outcome with Error set.
func (r *Router) HandleMessage(ctx context.Context, msg domain.InboundMessage) *Outcome {
	r.logger.Debug("routing message", "id", msg.ID, "type", msg.Type)

	r.mu.RLock()
	chain := slices.Clone(r.middlewares)
	r.mu.RUnlock()

	current := Clone(msg)
	cur := &current
	for i, mw := range chain {
		// A timed-out middleware keeps running with cur, so failures report
		// a copy taken before the call.
		before := Clone(*cur)
		next, err := guard(ctx, r.timeout, func(ctx context.Context) (*domain.InboundMessage, error) {
			return mw(ctx, cur)
		})
		if err != nil {
			r.logger.Error("middleware failed", "id", msg.ID, "index", i, "err", err)
			return errorOutcome(&before, err)
		}
		if next == nil {
			r.logger.Debug("middleware suppressed message", "id", msg.ID, "index", i)
			return nil
		}
		cur = next
	}

	r.mu.RLock()
	handler, ok := r.handlers[cur.Type]
	if !ok {
		handler = r.defaultHandler
	}
	r.mu.RUnlock()

	if handler == nil {
		r.logger.Warn("no handler for message type", "type", cur.Type, "id", cur.ID)
		return nil
	}

	final := cur
	before := Clone(*cur)
	reply, err := guard(ctx, r.timeout, func(ctx context.Context) (*domain.ReplyIntent, error) {
		return handler(ctx, final)
	})
	if err != nil {
		r.logger.Error("message handling failed", "id", cur.ID, "err", err)
		return errorOutcome(&before, err)
	}

	r.logger.Debug("message handled", "id", cur.ID, "reply", reply != nil)
	return &Outcome{Reply: reply, Original: cur}
}

func errorOutcome(msg *domain.InboundMessage, err error) *Outcome {
	return &Outcome{
		Error:    true,
		Message:  fmt.Sprintf("error processing message: %s", err.Error()),
		Original: msg,
		Err:      err,
	}
}

// guard calls fn, converting a panic into an error and enforcing timeout
// when it is positive.
func guard[T any](ctx context.Context, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	if timeout <= 0 {
		return call(ctx, fn)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		v   T
		err error
	}
	done := make(chan result, 1)
	go func() {
		v, err := call(ctx, fn)
		done <- result{v, err}
	}()

	select {
	case res := <-done:
		return res.v, res.err
	case <-ctx.Done():
		var zero T
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return zero, fmt.Errorf("%w after %s", ErrHandlerTimeout, timeout)
		}
		return zero, ctx.Err()
	}
}

func call[T any](ctx context.Context, fn func(context.Context) (T, error)) (v T, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
	}()
	return fn(ctx)
}

// Clone copies msg deeply enough that middleware edits never reach the
// caller's value.
func Clone(msg domain.InboundMessage) domain.InboundMessage {
	switch md := msg.Metadata.(type) {
	case *domain.TextMetadata:
		c := *md
		c.Mentions = slices.Clone(md.Mentions)
		c.Hashtags = slices.Clone(md.Hashtags)
		c.URLs = slices.Clone(md.URLs)
		c.Commands = slices.Clone(md.Commands)
		msg.Metadata = &c
	case *domain.MediaMetadata:
		c := *md
		msg.Metadata = &c
	case *domain.LocationMetadata:
		c := *md
		msg.Metadata = &c
	case *domain.ContactMetadata:
		c := *md
		msg.Metadata = &c
	case *domain.RawMetadata:
		c := *md
		msg.Metadata = &c
	}
	return msg
}
