package connector

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"chatpipe/internal/bus"
	"chatpipe/internal/config"
	"chatpipe/internal/domain"
)

// Hooks are optional callbacks wired into the transports that support them.
type Hooks struct {
	OnWebhook func(n int)
	OnQuit    func()
}

// New builds the connector selected by cfg.Type. Push-based transports get
// a fresh queue of cfg.QueueSize.
func New(cfg config.ConnectorConfig, hooks Hooks, logger *slog.Logger) (domain.Connector, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("connector", cfg.Type)

	switch cfg.Type {
	case "", "mock":
		return NewMock(MockConfig{
			ConnectDelay:         time.Duration(cfg.Mock.ConnectDelayMs) * time.Millisecond,
			MaxMessageSize:       cfg.Mock.MaxMessageSize,
			MessageTimeout:       time.Duration(cfg.Mock.MessageTimeoutMs) * time.Millisecond,
			ReconnectInterval:    time.Duration(cfg.Mock.ReconnectIntervalMs) * time.Millisecond,
			MaxReconnectAttempts: cfg.Mock.MaxReconnectAttempts,
			Random:               true,
			Logger:               logger,
		}), nil
	case "whatsapp":
		return NewWhatsApp(WhatsAppOptions{
			Config:    cfg.WhatsApp,
			Queue:     bus.NewQueue(cfg.QueueSize, logger),
			Client:    &http.Client{Timeout: 30 * time.Second},
			Logger:    logger,
			OnWebhook: hooks.OnWebhook,
		}), nil
	case "bridge":
		return NewBridge(BridgeOptions{
			Config: cfg.Bridge,
			Queue:  bus.NewQueue(cfg.QueueSize, logger),
			Logger: logger,
		}), nil
	case "telegram":
		return NewTelegram(TelegramOptions{
			Config: cfg.Telegram,
			Queue:  bus.NewQueue(cfg.QueueSize, logger),
			Logger: logger,
		}), nil
	case "amqp":
		return NewAMQP(AMQPOptions{Config: cfg.AMQP, Logger: logger}), nil
	case "console":
		return NewConsole(ConsoleOptions{
			Queue:  bus.NewQueue(cfg.QueueSize, logger),
			OnQuit: hooks.OnQuit,
			Logger: logger,
		}), nil
	default:
		return nil, fmt.Errorf("unknown connector type %q", cfg.Type)
	}
}
