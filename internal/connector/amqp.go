package connector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"chatpipe/internal/config"
	"chatpipe/internal/domain"
)

const (
	amqpProducer  = "chatpipe"
	amqpReplyType = "chat.reply.v1"
)

// AMQPChannel is the part of *amqp.Channel the connector uses.
type AMQPChannel interface {
	Get(queue string, autoAck bool) (amqp.Delivery, bool, error)
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// AMQPSession is an open broker session: a channel plus a function that
// closes the underlying connection.
type AMQPSession struct {
	Channel AMQPChannel
	Close   func() error
	// Closed receives when the broker drops the connection. May be nil.
	Closed <-chan *amqp.Error
}

// AMQPOptions configures the RabbitMQ connector. Open defaults to dialing
// cfg.URL and declaring the inbound queue and the outbound exchange.
type AMQPOptions struct {
	Config config.AMQPConfig
	Open   func(ctx context.Context, cfg config.AMQPConfig) (*AMQPSession, error)
	Now    func() time.Time
	Logger *slog.Logger
}

// AMQP polls a RabbitMQ queue with basic.get and publishes replies as JSON
// envelopes. Inbound bodies are a raw message object, optionally wrapped in
// an envelope {"meta":{...},"data":{...}}.
type AMQP struct {
	cfg    config.AMQPConfig
	open   func(ctx context.Context, cfg config.AMQPConfig) (*AMQPSession, error)
	now    func() time.Time
	logger *slog.Logger

	mu      sync.Mutex
	session *AMQPSession
}

var _ domain.Connector = (*AMQP)(nil)

// Envelope is the wire format of published replies.
type Envelope struct {
	Meta EnvelopeMeta `json:"meta"`
	Data any          `json:"data"`
}

type EnvelopeMeta struct {
	ID            string    `json:"id"`
	CorrelationID *string   `json:"correlation_id,omitempty"`
	Producer      *string   `json:"producer,omitempty"`
	Time          time.Time `json:"time"`
	Type          string    `json:"type"`
}

// ReplyData is the envelope payload of an outbound reply.
type ReplyData struct {
	To      string         `json:"to"`
	Content string         `json:"content"`
	Options map[string]any `json:"options,omitempty"`
}

func NewAMQP(opts AMQPOptions) *AMQP {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Open == nil {
		opts.Open = dialAMQP
	}
	return &AMQP{cfg: opts.Config, open: opts.Open, now: opts.Now, logger: opts.Logger}
}

func (a *AMQP) Name() string { return "amqp" }

func (a *AMQP) Connect(ctx context.Context) (domain.ConnectResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.session != nil {
		return domain.ConnectResult{Success: true, Timestamp: a.now()}, nil
	}

	u, _ := url.Parse(a.cfg.URL)
	host := ""
	if u != nil {
		host = u.Host
	}
	a.logger.Info("connecting to rabbitmq", "host", host, "queue", a.cfg.InboundQueue)

	s, err := a.open(ctx, a.cfg)
	if err != nil {
		return domain.ConnectResult{}, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	a.session = s
	if s.Closed != nil {
		go a.watch(s)
	}
	return domain.ConnectResult{Success: true, Timestamp: a.now()}, nil
}

// watch drops the session when the broker closes the connection so the
// next Receive reports ErrNotConnected.
func (a *AMQP) watch(s *AMQPSession) {
	err, ok := <-s.Closed
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.session == s {
		a.session = nil
		if ok && err != nil {
			a.logger.Warn("rabbitmq connection closed", "err", err)
		}
	}
}

func (a *AMQP) Disconnect(ctx context.Context) error {
	a.mu.Lock()
	s := a.session
	a.session = nil
	a.mu.Unlock()

	if s == nil {
		return nil
	}
	var errs []error
	if err := s.Channel.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
		errs = append(errs, err)
	}
	if s.Close != nil {
		if err := s.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
			errs = append(errs, err)
		}
	}
	a.logger.Info("rabbitmq disconnected")
	return errors.Join(errs...)
}

func (a *AMQP) current() *AMQPSession {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.session
}

func (a *AMQP) markClosed(s *AMQPSession) {
	a.mu.Lock()
	if a.session == s {
		a.session = nil
	}
	a.mu.Unlock()
}

// Receive fetches one message. Undecodable bodies are rejected without
// requeue and reported as "nothing available".
func (a *AMQP) Receive(ctx context.Context) (*domain.RawMessage, error) {
	s := a.current()
	if s == nil {
		return nil, domain.ErrNotConnected
	}

	d, ok, err := s.Channel.Get(a.cfg.InboundQueue, false)
	if err != nil {
		if errors.Is(err, amqp.ErrClosed) {
			a.markClosed(s)
			return nil, fmt.Errorf("%w: %v", domain.ErrNotConnected, err)
		}
		return nil, fmt.Errorf("basic.get %s: %w", a.cfg.InboundQueue, err)
	}
	if !ok {
		return nil, nil
	}

	raw, err := decodeDelivery(d.Body)
	if err != nil {
		a.logger.Warn("rejecting undecodable message", "messageId", d.MessageId, "err", err)
		_ = d.Reject(false)
		return nil, nil
	}
	if raw.ID == "" {
		raw.ID = d.MessageId
	}
	if raw.Timestamp.IsZero() && !d.Timestamp.IsZero() {
		raw.Timestamp = d.Timestamp
	}
	if err := d.Ack(false); err != nil {
		a.logger.Warn("ack failed", "id", raw.ID, "err", err)
	}
	return &raw, nil
}

func decodeDelivery(body []byte) (domain.RawMessage, error) {
	var wrapped struct {
		Meta *EnvelopeMeta   `json:"meta"`
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(body, &wrapped); err != nil {
		return domain.RawMessage{}, err
	}

	var raw domain.RawMessage
	src := body
	if wrapped.Meta != nil && len(wrapped.Data) > 0 {
		src = wrapped.Data
	}
	if err := json.Unmarshal(src, &raw); err != nil {
		return domain.RawMessage{}, err
	}
	if wrapped.Meta != nil && raw.ID == "" {
		raw.ID = wrapped.Meta.ID
	}
	if raw.From == "" {
		return domain.RawMessage{}, errors.New("missing from")
	}
	return raw, nil
}

// Send publishes a persistent reply envelope. opts["correlationId"] links it
// to the message being answered.
func (a *AMQP) Send(ctx context.Context, to, content string, opts map[string]any) (domain.SendResult, error) {
	s := a.current()
	if s == nil {
		return domain.SendResult{}, domain.ErrNotConnected
	}

	producer := amqpProducer
	env := Envelope{
		Meta: EnvelopeMeta{
			ID:       uuid.NewString(),
			Producer: &producer,
			Time:     a.now().UTC(),
			Type:     amqpReplyType,
		},
		Data: ReplyData{To: to, Content: content, Options: opts},
	}
	correlation := env.Meta.ID
	if c, _ := opts["correlationId"].(string); c != "" {
		correlation = c
	}
	env.Meta.CorrelationID = &correlation

	body, err := json.Marshal(env)
	if err != nil {
		return domain.SendResult{}, fmt.Errorf("marshal envelope: %w", err)
	}

	err = s.Channel.PublishWithContext(ctx, a.cfg.Exchange, a.cfg.RoutingKey, false, false, amqp.Publishing{
		ContentType:   "application/json",
		Body:          body,
		DeliveryMode:  amqp.Persistent,
		MessageId:     env.Meta.ID,
		CorrelationId: correlation,
		Type:          env.Meta.Type,
		Timestamp:     env.Meta.Time,
		AppId:         producer,
	})
	if err != nil {
		if errors.Is(err, amqp.ErrClosed) {
			a.markClosed(s)
			return domain.SendResult{}, fmt.Errorf("%w: %v", domain.ErrNotConnected, err)
		}
		return domain.SendResult{}, fmt.Errorf("publish: %w", err)
	}
	return sendResult(a.now, env.Meta.ID, to, content, opts), nil
}

func (a *AMQP) Status() domain.ConnectorStatus {
	return domain.ConnectorStatus{
		Name:        a.Name(),
		IsConnected: a.current() != nil,
		Timestamp:   a.now(),
		Config: map[string]any{
			"url":          redactURL(a.cfg.URL),
			"inboundQueue": a.cfg.InboundQueue,
			"exchange":     a.cfg.Exchange,
			"routingKey":   a.cfg.RoutingKey,
		},
	}
}

// dialAMQP opens a connection and declares the topology used by the
// connector: a durable inbound queue and a durable topic exchange.
func dialAMQP(ctx context.Context, cfg config.AMQPConfig) (*AMQPSession, error) {
	timeout := time.Duration(cfg.ConnTimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if deadline, ok := ctx.Deadline(); ok {
		if until := time.Until(deadline); until < timeout {
			timeout = until
		}
	}
	if timeout <= 0 {
		return nil, fmt.Errorf("context deadline exceeded before connection attempt")
	}

	conn, err := amqp.DialConfig(cfg.URL, amqp.Config{Dial: amqp.DefaultDial(timeout)})
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if _, err := ch.QueueDeclare(cfg.InboundQueue, true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("declare queue %q: %w", cfg.InboundQueue, err)
	}
	if cfg.Exchange != "" {
		if err := ch.ExchangeDeclare(cfg.Exchange, "topic", true, false, false, false, nil); err != nil {
			conn.Close()
			return nil, fmt.Errorf("declare exchange %q: %w", cfg.Exchange, err)
		}
	}
	return &AMQPSession{
		Channel: ch,
		Close:   conn.Close,
		Closed:  conn.NotifyClose(make(chan *amqp.Error, 1)),
	}, nil
}

func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.User == nil {
		return raw
	}
	return u.Redacted()
}
