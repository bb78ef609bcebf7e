package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"chatpipe/internal/bus"
	"chatpipe/internal/config"
	"chatpipe/internal/connector"
	"chatpipe/internal/pipeline"
	"chatpipe/internal/server"
)

const shutdownTimeout = 10 * time.Second

// webhookConnector is implemented by connectors that receive over HTTP.
type webhookConnector interface {
	WebhookPath() string
	Handler() http.Handler
}

// buildPipeline creates the configured connector and the orchestrator around
// it. Webhook deliveries are reported on the orchestrator's event bus.
func buildPipeline(cfg *config.Config, onQuit func()) (*pipeline.Orchestrator, error) {
	var o *pipeline.Orchestrator
	hooks := connector.Hooks{
		OnWebhook: func(n int) {
			if o == nil {
				return
			}
			o.Events().Emit(bus.Event{
				Type:    bus.EventWebhookReceived,
				Source:  cfg.Connector.Type,
				Payload: map[string]any{"messages": n},
			})
		},
		OnQuit: onQuit,
	}
	conn, err := connector.New(cfg.Connector, hooks, logger)
	if err != nil {
		return nil, err
	}
	o, err = pipeline.New(pipeline.Config{
		Connector:  conn,
		Pipeline:   cfg.Pipeline,
		Commands:   cfg.Commands,
		Templates:  cfg.Templates,
		Middleware: cfg.Middleware,
		Logger:     logger,
	})
	if err != nil {
		return nil, err
	}
	return o, nil
}

func serveCmd() *cobra.Command {
	var noListen bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Connect, poll for messages and serve HTTP",
		Long:  "Connects the configured connector, polls it for messages, and serves the HTTP API when enabled. Press Ctrl+C to stop.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), !noListen)
		},
	}
	cmd.Flags().BoolVar(&noListen, "no-listen", false, "do not start the polling loop even if pipeline.autoListen is set")
	return cmd
}

func runServe(parent context.Context, allowListen bool) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := config.Validate(cfg); err != nil {
		return err
	}
	if parent == nil {
		parent = context.Background()
	}

	sigCtx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(sigCtx)
	defer cancel()

	o, err := buildPipeline(cfg, cancel)
	if err != nil {
		return err
	}

	if _, err := o.Connect(ctx); err != nil {
		// The listener reconnects on its next tick.
		logger.Warn("initial connect failed", "err", err)
	}

	var webhooks []server.Webhook
	if wc, ok := o.Connector().(webhookConnector); ok {
		webhooks = append(webhooks, server.Webhook{Path: wc.WebhookPath(), Handler: wc.Handler()})
	}

	g, gctx := errgroup.WithContext(ctx)

	if cfg.Pipeline.AutoListen && allowListen {
		g.Go(func() error { return o.Listen(gctx) })
	} else {
		logger.Info("polling loop disabled")
	}

	if cfg.Server.Enabled || len(webhooks) > 0 {
		srv, err := server.New(server.Config{
			Server:         cfg.Server,
			Metrics:        cfg.Metrics,
			Pipeline:       o,
			Events:         o.Events(),
			MetricsHandler: o.Metrics().Collector().Handler(),
			Webhooks:       webhooks,
			Logger:         logger.With("component", "server"),
		})
		if err != nil {
			return err
		}
		g.Go(func() error { return srv.Start(gctx) })
	}

	g.Go(func() error {
		<-gctx.Done()
		return nil
	})

	logger.Info("chatpipe started. Press Ctrl+C to stop.", "connector", o.Connector().Name())
	runErr := g.Wait()
	logger.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := o.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown", "err", err)
	}

	stats := o.Stats()
	logger.Info("shutdown complete",
		"processed", stats.TotalMessagesProcessed,
		"replies", stats.RepliesSent,
		"failures", stats.ReplyFailures,
	)
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return fmt.Errorf("serve: %w", runErr)
	}
	return nil
}
