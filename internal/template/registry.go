// Package template renders reply intents from named templates and picks a
// template for a message with a keyword heuristic.
package template

import (
	"log/slog"
	"sync"
	"time"

	orderedmap "github.com/wk8/go-ordered-map/v2"

	"chatpipe/internal/domain"
)

// Well-known template keys.
const (
	KeyDefault  = "default"
	KeySimple   = "simple"
	KeyGreeting = "greeting"
	KeyHelp     = "help"
	KeyError    = "error"
	KeyMedia    = "media"
)

// Context is what a template sees: the message, the render time and any
// caller-supplied values.
type Context struct {
	Message   domain.InboundMessage
	Timestamp time.Time
	Values    map[string]any
}

// Value returns a caller-supplied value, or nil.
func (c Context) Value(key string) any {
	return c.Values[key]
}

// Payload is the raw template output. Empty fields are filled in by Render.
type Payload struct {
	To       string
	Content  string
	Type     string
	Metadata map[string]any
	Options  map[string]any
}

// Template renders a payload. It must not block.
type Template func(Context) Payload

// Text adapts a function that only produces content.
func Text(fn func(Context) string) Template {
	return func(c Context) Payload {
		return Payload{Content: fn(c)}
	}
}

// Registry maps template keys to templates. Unknown keys fall back to the
// built-in default template.
type Registry struct {
	mu        sync.RWMutex
	templates *orderedmap.OrderedMap[string, Template]
	contexts  *ContextStore
	now       func() time.Time
	logger    *slog.Logger
}

type Config struct {
	// ContextCapacity bounds the per-message context store; 0 is unbounded.
	ContextCapacity int
	Now             func() time.Time
	Logger          *slog.Logger
	// SkipBuiltins leaves only the implicit default fallback.
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
		templates: orderedmap.New[string, Template](),
		contexts:  NewContextStore(cfg.ContextCapacity),
		now:       cfg.Now,
		logger:    cfg.Logger,
	}
	if !cfg.SkipBuiltins {
		r.RegisterBuiltins()
	}
	return r
}

// Register stores t under key, replacing any previous template.
func (r *Registry) Register(key string, t Template) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.templates.Set(key, t)
}

// Has reports whether a template is registered under key.
func (r *Registry) Has(key string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.templates.Get(key)
	return ok
}

// Keys lists registered keys in registration order.
func (r *Registry) Keys() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	keys := make([]string, 0, r.templates.Len())
	for pair := r.templates.Oldest(); pair != nil; pair = pair.Next() {
		keys = append(keys, pair.Key)
	}
	return keys
}

// Render runs the template registered under key (or the default template)
// and normalizes its payload into a reply addressed to the sender.
func (r *Registry) Render(msg domain.InboundMessage, key string, values map[string]any) domain.ReplyIntent {
	r.mu.RLock()
	t, ok := r.templates.Get(key)
	r.mu.RUnlock()
	if !ok {
		r.logger.Debug("template not found, using default", "key", key)
		t = r.defaultTemplate
	}

	r.logger.Debug("building reply", "template", key, "message_id", msg.ID)

	p := t(Context{Message: msg, Timestamp: r.now(), Values: values})
	return normalize(p, msg)
}

func normalize(p Payload, msg domain.InboundMessage) domain.ReplyIntent {
	out := domain.ReplyIntent{
		To:                p.To,
		Content:           p.Content,
		Type:              p.Type,
		Metadata:          p.Metadata,
		Options:           p.Options,
		OriginalMessageID: msg.ID,
	}
	if out.To == "" {
		out.To = msg.From
	}
	if out.Type == "" {
		out.Type = "text"
	}
	if out.Metadata == nil {
		out.Metadata = map[string]any{}
	}
	if out.Options == nil {
		out.Options = map[string]any{}
	}
	return out
}

// BuildSmart renders the template chosen by Select.
func (r *Registry) BuildSmart(msg domain.InboundMessage) domain.ReplyIntent {
	return r.Render(msg, Select(msg), nil)
}

// SetContext stores per-message values until cleared or evicted.
func (r *Registry) SetContext(messageID string, values map[string]any) {
	r.contexts.Set(messageID, values)
}

// GetContext returns the values stored for messageID.
func (r *Registry) GetContext(messageID string) (map[string]any, bool) {
	return r.contexts.Get(messageID)
}

// ClearContext removes the values stored for messageID.
func (r *Registry) ClearContext(messageID string) {
	r.contexts.Delete(messageID)
}

// Contexts exposes the underlying store.
func (r *Registry) Contexts() *ContextStore {
	return r.contexts
}
