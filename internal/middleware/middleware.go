// Package middleware provides reusable router middleware.
package middleware

import (
	"context"
	"log/slog"
	"strings"

	"chatpipe/internal/domain"
	"chatpipe/internal/router"
)

// Logging logs every message it sees and passes it through unchanged.
func Logging(logger *slog.Logger) router.Middleware {
	if logger == nil {
		logger = slog.Default()
	}
	return func(_ context.Context, msg *domain.InboundMessage) (*domain.InboundMessage, error) {
		logger.Info("message received", "id", msg.ID, "from", msg.From, "type", msg.Type)
		return msg, nil
	}
}

// AllowFrom suppresses messages whose sender is not listed. An empty list
// lets everyone through. "*" matches any sender.
func AllowFrom(senders []string, logger *slog.Logger) router.Middleware {
	if logger == nil {
		logger = slog.Default()
	}
	allowed := make(map[string]struct{}, len(senders))
	for _, s := range senders {
		if s = strings.TrimSpace(s); s != "" {
			allowed[s] = struct{}{}
		}
	}
	_, wildcard := allowed["*"]

	return func(_ context.Context, msg *domain.InboundMessage) (*domain.InboundMessage, error) {
		if len(allowed) == 0 || wildcard {
			return msg, nil
		}
		if _, ok := allowed[msg.From]; ok {
			return msg, nil
		}
		logger.Warn("sender not allowed, dropping message", "from", msg.From, "id", msg.ID)
		return nil, nil
	}
}
