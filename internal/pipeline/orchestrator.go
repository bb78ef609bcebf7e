// Package pipeline wires the extractor, router, command registry and template
// registry to a connector and drives them from a polling loop.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"

	"chatpipe/internal/bus"
	"chatpipe/internal/command"
	"chatpipe/internal/config"
	"chatpipe/internal/domain"
	"chatpipe/internal/metrics"
	"chatpipe/internal/middleware"
	"chatpipe/internal/parser"
	"chatpipe/internal/router"
	"chatpipe/internal/template"
)

const defaultPollInterval = 5 * time.Second

// Orchestrator owns the pipeline components for the life of the process.
type Orchestrator struct {
	connector domain.Connector
	extractor *parser.Extractor
	router    *router.Router
	templates *template.Registry
	commands  *command.Registry
	events    *bus.EventBus
	metrics   *metrics.Pipeline
	tracer    trace.Tracer
	logger    *slog.Logger

	commandMode  string
	smartReplies bool
	pollInterval time.Duration
	tick         *semaphore.Weighted

	now       func() time.Time
	startTime time.Time
	processed atomic.Int64
	replies   atomic.Int64
	failures  atomic.Int64

	listenMu  sync.Mutex
	listening bool
}

// Config holds the dependencies and tuning of an Orchestrator. Only
// Connector is required.
type Config struct {
	Connector  domain.Connector
	Pipeline   config.PipelineConfig
	Commands   config.CommandsConfig
	Templates  config.TemplatesConfig
	Middleware config.MiddlewareConfig

	Events  *bus.EventBus
	Metrics *metrics.Pipeline
	Tracer  trace.Tracer
	Now     func() time.Time
	Logger  *slog.Logger
}

// New builds the pipeline: common type handlers, built-in templates and
// commands, and the configured middleware chain.
func New(cfg Config) (*Orchestrator, error) {
	if cfg.Connector == nil {
		return nil, errors.New("pipeline: connector is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Events == nil {
		cfg.Events = bus.NewEventBusWithHistory(cfg.Pipeline.EventHistory, cfg.Logger)
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.NewPipeline(metrics.NewCollector("chatpipe"))
	}
	if cfg.Tracer == nil {
		cfg.Tracer = otel.Tracer("chatpipe/pipeline")
	}
	if cfg.Pipeline.CommandMode == "" {
		cfg.Pipeline.CommandMode = config.CommandModeRegistry
	}
	poll := time.Duration(cfg.Pipeline.PollIntervalSeconds) * time.Second
	if poll <= 0 {
		poll = defaultPollInterval
	}

	o := &Orchestrator{
		connector:    cfg.Connector,
		events:       cfg.Events,
		metrics:      cfg.Metrics,
		tracer:       cfg.Tracer,
		logger:       cfg.Logger,
		commandMode:  cfg.Pipeline.CommandMode,
		smartReplies: cfg.Pipeline.SmartReplies,
		pollInterval: poll,
		tick:         semaphore.NewWeighted(1),
		now:          cfg.Now,
		startTime:    cfg.Now(),
	}

	o.extractor = parser.NewExtractor(parser.Config{Now: cfg.Now, Channel: cfg.Connector.Name()})
	o.router = router.New(router.Config{
		HandlerTimeout: time.Duration(cfg.Pipeline.HandlerTimeoutSeconds) * time.Second,
		Logger:         cfg.Logger.With("component", "router"),
	})
	o.templates = template.NewRegistry(template.Config{
		ContextCapacity: cfg.Templates.ContextCapacity,
		Now:             cfg.Now,
		Logger:          cfg.Logger.With("component", "templates"),
	})
	o.commands = command.NewRegistry(command.Config{
		HistoryCapacity: cfg.Commands.HistoryCapacity,
		Connected:       func() bool { return o.connector.Status().IsConnected },
		Now:             cfg.Now,
		Logger:          cfg.Logger.With("component", "commands"),
	})

	if cfg.Templates.Dir != "" {
		dir := config.ExpandPath(cfg.Templates.Dir)
		n, err := o.templates.LoadDir(dir)
		if err != nil {
			return nil, fmt.Errorf("load templates: %w", err)
		}
		o.logger.Info("templates loaded", "dir", dir, "count", n)
	}

	o.router.RegisterCommonHandlers()
	switch o.commandMode {
	case config.CommandModeRegistry:
		o.router.RegisterHandler(domain.TypeText, o.handleText)
	case config.CommandModeInline:
	default:
		return nil, fmt.Errorf("pipeline: unknown command mode %q", o.commandMode)
	}

	mwLogger := cfg.Logger.With("component", "middleware")
	if cfg.Middleware.Logging {
		o.router.Use(middleware.Logging(mwLogger))
	}
	if len(cfg.Middleware.AllowFrom) > 0 {
		o.router.Use(middleware.AllowFrom(cfg.Middleware.AllowFrom, mwLogger))
	}
	if cfg.Middleware.RateLimitPerMinute > 0 {
		o.router.Use(middleware.RateLimit(cfg.Middleware.RateLimitPerMinute, cfg.Middleware.RateBurst, mwLogger))
	}

	o.logger.Info("pipeline initialized",
		"connector", cfg.Connector.Name(),
		"commandMode", o.commandMode,
		"smartReplies", o.smartReplies,
		"handlers", o.router.HandlerCount(),
		"templates", len(o.templates.Keys()),
		"commands", o.commands.Len(),
	)
	return o, nil
}

// Connector returns the connector the pipeline drives.
func (o *Orchestrator) Connector() domain.Connector { return o.connector }

// Router exposes the router for extra middleware and handlers.
func (o *Orchestrator) Router() *router.Router { return o.router }

// Templates exposes the template registry.
func (o *Orchestrator) Templates() *template.Registry { return o.templates }

// Commands exposes the command registry.
func (o *Orchestrator) Commands() *command.Registry { return o.commands }

// Events exposes the pipeline event bus.
func (o *Orchestrator) Events() *bus.EventBus { return o.events }

// Metrics exposes the pipeline series.
func (o *Orchestrator) Metrics() *metrics.Pipeline { return o.metrics }

// handleText sends slash commands to the command registry and everything
// else to the router's default reply.
func (o *Orchestrator) handleText(ctx context.Context, msg *domain.InboundMessage) (*domain.ReplyIntent, error) {
	if !o.commands.IsCommand(msg.Content) {
		return o.router.DefaultHandler(ctx, msg)
	}

	res := o.runCommand(ctx, msg.Content, *msg)
	md := make(map[string]any, len(res.Metadata)+2)
	for k, v := range res.Metadata {
		md[k] = v
	}
	md["command"] = res.Command
	md["success"] = res.Success
	return &domain.ReplyIntent{
		To:                msg.From,
		Content:           res.Content,
		Type:              res.Type,
		Metadata:          md,
		Options:           map[string]any{},
		OriginalMessageID: msg.ID,
	}, nil
}

func (o *Orchestrator) runCommand(ctx context.Context, line string, msg domain.InboundMessage) command.Result {
	res := o.commands.Execute(ctx, line, msg)
	o.metrics.Command(res.Success)
	o.events.Emit(bus.Event{
		Type:   bus.EventCommandExecuted,
		Source: "pipeline",
		Payload: map[string]any{
			"command": res.Command,
			"success": res.Success,
			"from":    msg.From,
		},
	})
	return res
}

// ExecuteCommand runs line through the command registry on behalf of from,
// bypassing routing and middleware. Nothing is sent.
func (o *Orchestrator) ExecuteCommand(ctx context.Context, line, from string) command.Result {
	msg := o.extractor.Normalize(domain.RawMessage{
		ID:      "cmd_" + uuid.NewString(),
		From:    from,
		Type:    domain.TypeText,
		Content: line,
	})
	return o.runCommand(ctx, line, msg)
}

// SendMessage delivers content through the connector as is.
func (o *Orchestrator) SendMessage(ctx context.Context, to, content string, opts map[string]any) (domain.SendResult, error) {
	return o.connector.Send(ctx, to, content, opts)
}
