// Package command implements the slash-command registry: named handlers, a
// whitespace-split argument parser and an execution log.
package command

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"

	orderedmap "github.com/wk8/go-ordered-map/v2"

	"chatpipe/internal/domain"
)

var commandPrefix = regexp.MustCompile(`^/\w+`)

// Handler runs a command. Returning an error turns the result into a failure;
// the registry never propagates it to the caller.
type Handler func(ctx context.Context, args []string, msg domain.InboundMessage) (Reply, error)

// Reply is what a handler produces.
type Reply struct {
	Content  string
	Type     string
	Metadata map[string]any
}

// Result is the outcome of Execute.
type Result struct {
	Success  bool           `json:"success"`
	Command  string         `json:"command"`
	Content  string         `json:"content"`
	Type     string         `json:"type"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Info describes a registered command.
type Info struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

type entry struct {
	handler     Handler
	description string
}

// Registry maps lowercase command names to handlers. Listing order is
// registration order; re-registering a name keeps its position.
type Registry struct {
	mu        sync.RWMutex
	commands  *orderedmap.OrderedMap[string, entry]
	history   *History
	startTime time.Time
	now       func() time.Time
	connected func() bool
	logger    *slog.Logger
}

type Config struct {
	// HistoryCapacity bounds the execution log; 0 keeps everything.
	HistoryCapacity int
	// Connected reports connector state for /status. Nil means "connected".
	Connected func() bool
	Now       func() time.Time
	Logger    *slog.Logger
	// SkipBuiltins leaves the registry empty.
	SkipBuiltins bool
}

func NewRegistry(cfg Config) *Registry {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	r := &Registry{
		commands:  orderedmap.New[string, entry](),
		history:   NewHistory(cfg.HistoryCapacity),
		startTime: cfg.Now(),
		now:       cfg.Now,
		connected: cfg.Connected,
		logger:    cfg.Logger,
	}
	if !cfg.SkipBuiltins {
		r.registerBuiltins()
	}
	return r
}

// Register stores handler under the lowercase name, silently replacing any
// previous registration.
func (r *Registry) Register(name string, handler Handler, description string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.commands.Set(strings.ToLower(name), entry{handler: handler, description: description})
}

// Parse splits a command line on whitespace runs. The first token, lowercased,
// is the command name.
func Parse(line string) (name string, args []string) {
	parts := strings.Fields(line)
	if len(parts) == 0 {
		return "", []string{}
	}
	return strings.ToLower(parts[0]), append([]string{}, parts[1:]...)
}

// IsCommand reports whether the trimmed text starts with "/" followed by at
// least one word character.
func IsCommand(text string) bool {
	return commandPrefix.MatchString(strings.TrimSpace(text))
}

// IsCommand is a convenience wrapper around the package-level IsCommand.
func (r *Registry) IsCommand(text string) bool {
	return IsCommand(text)
}

// Execute runs a command line on behalf of msg. It always returns a result:
// unknown commands and handler failures become Success=false.
// Every attempt is logged, whatever the outcome.
func (r *Registry) Execute(ctx context.Context, line string, msg domain.InboundMessage) (res Result) {
	name, args := Parse(line)

	r.logger.Debug("executing command", "command", name, "args", args, "from", msg.From)

	r.history.Append(domain.CommandRecord{
		Command:   name,
		Args:      args,
		From:      msg.From,
		Timestamp: r.now(),
	})

	r.mu.RLock()
	e, ok := r.commands.Get(name)
	r.mu.RUnlock()
	if !ok {
		return Result{
			Success: false,
			Command: name,
			Content: fmt.Sprintf("Unknown command: %s. Use /help to see available commands.", name),
			Type:    "text",
		}
	}

	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("command panicked", "command", name, "panic", p)
			res = failure(name, fmt.Errorf("%v", p))
		}
	}()

	reply, err := e.handler(ctx, args, msg)
	if err != nil {
		r.logger.Error("command failed", "command", name, "err", err)
		return failure(name, err)
	}
	if reply.Type == "" {
		reply.Type = "text"
	}
	return Result{
		Success:  true,
		Command:  name,
		Content:  reply.Content,
		Type:     reply.Type,
		Metadata: reply.Metadata,
	}
}

func failure(name string, err error) Result {
	return Result{
		Success: false,
		Command: name,
		Content: fmt.Sprintf("Error executing command: %s", err.Error()),
		Type:    "text",
	}
}

// List returns the registered commands in registration order.
func (r *Registry) List() []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Info, 0, r.commands.Len())
	for pair := r.commands.Oldest(); pair != nil; pair = pair.Next() {
		out = append(out, Info{Name: pair.Key, Description: pair.Value.description})
	}
	return out
}

// Len returns the number of registered commands.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.commands.Len()
}

// History exposes the execution log.
func (r *Registry) History() *History {
	return r.history
}

// ClearHistory empties the execution log.
func (r *Registry) ClearHistory() {
	r.history.Clear()
	r.logger.Info("command history cleared")
}

// Uptime is the time since the registry was created.
func (r *Registry) Uptime() time.Duration {
	return r.now().Sub(r.startTime)
}
