package connector

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"chatpipe/internal/bus"
	"chatpipe/internal/domain"
)

// Console reads messages from a terminal, one per line, and prints replies.
// Lines are attributed to the sender "console".
type Console struct {
	*queued
	logger *slog.Logger
	in     io.Reader
	onQuit func()

	outMu sync.Mutex
	out   io.Writer

	startOnce sync.Once
	seq       int
}

type ConsoleOptions struct {
	In    io.Reader
	Out   io.Writer
	Queue domain.InboundQueue
	// OnQuit runs when the user types /quit, /exit or /q.
	OnQuit func()
	Now    func() time.Time
	Logger *slog.Logger
}

const consoleSender = "console"

var _ domain.Connector = (*Console)(nil)

func NewConsole(opts ConsoleOptions) *Console {
	if opts.In == nil {
		opts.In = os.Stdin
	}
	if opts.Out == nil {
		opts.Out = os.Stdout
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Queue == nil {
		opts.Queue = bus.NewQueue(100, opts.Logger)
	}
	return &Console{
		queued: newQueued(opts.Queue, opts.Now),
		logger: opts.Logger,
		in:     opts.In,
		out:    opts.Out,
		onQuit: opts.OnQuit,
	}
}

func (c *Console) Name() string { return "console" }

// Connect starts the line reader once; later calls only flip the state back.
func (c *Console) Connect(ctx context.Context) (domain.ConnectResult, error) {
	c.startOnce.Do(func() {
		c.printf("chatpipe console. Type a message and press Enter. Type /quit to exit.\nYou> ")
		go c.readLoop()
	})
	c.setConnected(true)
	return domain.ConnectResult{Success: true, Timestamp: c.now()}, nil
}

func (c *Console) readLoop() {
	scanner := bufio.NewScanner(c.in)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			c.printf("You> ")
			continue
		}
		if line == "/quit" || line == "/exit" || line == "/q" {
			c.logger.Info("user requested quit")
			if c.onQuit != nil {
				c.onQuit()
			}
			return
		}

		c.seq++
		c.queue.Publish(domain.RawMessage{
			ID:        fmt.Sprintf("console_%d", c.seq),
			From:      consoleSender,
			Type:      domain.TypeText,
			Content:   line,
			Timestamp: c.now(),
		})
	}
	if err := scanner.Err(); err != nil {
		c.logger.Warn("console read failed", "err", err)
	}
}

func (c *Console) Disconnect(ctx context.Context) error {
	c.setConnected(false)
	return nil
}

func (c *Console) Send(ctx context.Context, to, content string, opts map[string]any) (domain.SendResult, error) {
	if !c.isConnected() {
		return domain.SendResult{}, domain.ErrNotConnected
	}
	if err := c.printf("\n--- chatpipe -> %s ---\n%s\n----------------\nYou> ", to, content); err != nil {
		return domain.SendResult{}, err
	}
	return sendResult(c.now, "msg_"+uuid.NewString(), to, content, opts), nil
}

func (c *Console) Receive(ctx context.Context) (*domain.RawMessage, error) {
	return c.receive()
}

func (c *Console) Status() domain.ConnectorStatus {
	return c.status(c.Name(), nil)
}

func (c *Console) printf(format string, args ...any) error {
	c.outMu.Lock()
	defer c.outMu.Unlock()
	_, err := fmt.Fprintf(c.out, format, args...)
	return err
}
