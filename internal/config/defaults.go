package config

// Command interpreter used for text messages.
const (
	CommandModeRegistry = "registry"
	CommandModeInline   = "inline"
)

func Defaults() *Config {
	return &Config{
		General: GeneralConfig{
			LogLevel:  "info",
			LogFormat: "text",
		},
		Pipeline: PipelineConfig{
			CommandMode:           CommandModeRegistry,
			SmartReplies:          false,
			AutoListen:            true,
			PollIntervalSeconds:   5,
			HandlerTimeoutSeconds: 30,
			EventHistory:          1000,
		},
		Commands: CommandsConfig{
			HistoryCapacity: 1000,
		},
		Templates: TemplatesConfig{
			ContextCapacity: 1000,
		},
		Middleware: MiddlewareConfig{
			Logging:   true,
			RateBurst: 5,
		},
		Connector: ConnectorConfig{
			Type:      "mock",
			QueueSize: 100,
			Mock: MockConfig{
				ConnectDelayMs:       1000,
				MaxMessageSize:       16 * 1024 * 1024,
				MessageTimeoutMs:     30000,
				ReconnectIntervalMs:  5000,
				MaxReconnectAttempts: 10,
			},
			WhatsApp: WhatsAppConfig{
				APIBase:     "https://graph.facebook.com/v21.0",
				WebhookPath: "/webhook/whatsapp",
			},
			Bridge: BridgeConfig{
				MaxBackoffSeconds:   30,
				HandshakeTimeoutSec: 10,
			},
			Telegram: TelegramConfig{
				PollTimeoutSec: 30,
			},
			AMQP: AMQPConfig{
				InboundQueue:       "chatpipe.inbound",
				Exchange:           "chatpipe.outbound",
				RoutingKey:         "reply",
				ConnTimeoutSeconds: 30,
			},
		},
		Server: ServerConfig{
			Enabled: false,
			Host:    "127.0.0.1",
			Port:    8080,
		},
		Metrics: MetricsConfig{
			Enabled:  true,
			Endpoint: "/metrics",
		},
	}
}
