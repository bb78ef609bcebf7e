package connector

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"chatpipe/internal/bus"
	"chatpipe/internal/config"
	"chatpipe/internal/domain"
)

const (
	telegramMaxMsgLen      = 4000
	telegramMaxSendRetries = 3
)

// Telegram long-polls the Bot API and exposes updates through Receive.
// The sender of a raw message is the chat ID so replies land in the same chat.
type Telegram struct {
	*queued
	cfg       config.TelegramConfig
	endpoint  string
	client    *http.Client
	parseMode string
	logger    *slog.Logger

	mu      sync.Mutex
	bot     *tgbotapi.BotAPI
	stopped chan struct{}
}

type TelegramOptions struct {
	Config config.TelegramConfig
	Queue  domain.InboundQueue
	// APIEndpoint overrides tgbotapi.APIEndpoint (format "<base>/bot%s/%s").
	APIEndpoint string
	Client      *http.Client
	ParseMode   string
	Now         func() time.Time
	Logger      *slog.Logger
}

var _ domain.Connector = (*Telegram)(nil)

func NewTelegram(opts TelegramOptions) *Telegram {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Queue == nil {
		opts.Queue = bus.NewQueue(100, opts.Logger)
	}
	if opts.APIEndpoint == "" {
		opts.APIEndpoint = tgbotapi.APIEndpoint
	}
	if opts.Client == nil {
		opts.Client = &http.Client{}
	}
	if opts.Config.PollTimeoutSec <= 0 {
		opts.Config.PollTimeoutSec = 30
	}
	return &Telegram{
		queued:    newQueued(opts.Queue, opts.Now),
		cfg:       opts.Config,
		endpoint:  opts.APIEndpoint,
		client:    opts.Client,
		parseMode: opts.ParseMode,
		logger:    opts.Logger,
	}
}

func (t *Telegram) Name() string { return "telegram" }

// Connect authenticates the bot and starts polling for updates.
func (t *Telegram) Connect(ctx context.Context) (domain.ConnectResult, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.bot != nil {
		return domain.ConnectResult{Success: true, Timestamp: t.now()}, nil
	}

	bot, err := tgbotapi.NewBotAPIWithClient(t.cfg.Token, t.endpoint, t.client)
	if err != nil {
		return domain.ConnectResult{}, fmt.Errorf("telegram bot init: %w", err)
	}
	t.bot = bot
	t.logger.Info("telegram bot connected", "username", bot.Self.UserName, "id", bot.Self.ID)

	u := tgbotapi.NewUpdate(0)
	u.Timeout = t.cfg.PollTimeoutSec
	updates := bot.GetUpdatesChan(u)

	t.stopped = make(chan struct{})
	go t.pollLoop(bot, updates, t.stopped)

	t.setConnected(true)
	return domain.ConnectResult{Success: true, Timestamp: t.now()}, nil
}

func (t *Telegram) pollLoop(bot *tgbotapi.BotAPI, updates tgbotapi.UpdatesChannel, stopped chan struct{}) {
	for {
		select {
		case <-stopped:
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			if update.Message == nil || update.Message.Chat == nil {
				continue
			}
			raw := telegramToRaw(update.Message, func(fileID string) string {
				url, err := bot.GetFileDirectURL(fileID)
				if err != nil {
					t.logger.Warn("telegram file url", "file", fileID, "err", err)
					return ""
				}
				return url
			})
			t.logger.Info("telegram message received", "chat_id", raw.From, "type", raw.Type)
			t.queue.Publish(raw)
		}
	}
}

// Disconnect stops polling. StopReceivingUpdates must only be called once
// per bot, so the bot is dropped and recreated by the next Connect.
func (t *Telegram) Disconnect(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.bot == nil {
		return nil
	}
	t.bot.StopReceivingUpdates()
	close(t.stopped)
	t.bot = nil
	t.setConnected(false)
	t.logger.Info("telegram polling stopped")
	return nil
}

func (t *Telegram) Receive(ctx context.Context) (*domain.RawMessage, error) {
	return t.receive()
}

func (t *Telegram) Status() domain.ConnectorStatus {
	cfg := map[string]any{"pollTimeoutSeconds": t.cfg.PollTimeoutSec}
	t.mu.Lock()
	if t.bot != nil {
		cfg["username"] = t.bot.Self.UserName
	}
	t.mu.Unlock()
	return t.status(t.Name(), cfg)
}

// Send delivers content to a chat ID, split into chunks under the
// Telegram size limit. The result carries the ID of the last chunk.
func (t *Telegram) Send(ctx context.Context, to, content string, opts map[string]any) (domain.SendResult, error) {
	t.mu.Lock()
	bot := t.bot
	t.mu.Unlock()
	if bot == nil {
		return domain.SendResult{}, domain.ErrNotConnected
	}

	chatID, err := strconv.ParseInt(to, 10, 64)
	if err != nil {
		return domain.SendResult{}, fmt.Errorf("invalid chat ID: %w", err)
	}

	var lastID int
	for _, chunk := range splitMessage(content, telegramMaxMsgLen) {
		id, err := t.sendChunk(ctx, bot, chatID, chunk)
		if err != nil {
			return domain.SendResult{}, err
		}
		lastID = id
	}
	return sendResult(t.now, strconv.Itoa(lastID), to, content, opts), nil
}

// sendChunk tries the configured parse mode first, falls back to plain text
// on a parse error and backs off on rate limits.
func (t *Telegram) sendChunk(ctx context.Context, bot *tgbotapi.BotAPI, chatID int64, text string) (int, error) {
	var lastErr error
	for attempt := 0; attempt <= telegramMaxSendRetries; attempt++ {
		msg := tgbotapi.NewMessage(chatID, text)
		if attempt == 0 && t.parseMode != "" {
			msg.ParseMode = t.parseMode
		}

		sent, err := bot.Send(msg)
		if err == nil {
			return sent.MessageID, nil
		}
		lastErr = err
		errStr := err.Error()

		backoff := time.Duration(attempt+1) * time.Second
		switch {
		case strings.Contains(errStr, "Too Many Requests") || strings.Contains(errStr, "429"):
			backoff = time.Duration(attempt+1) * 3 * time.Second
			t.logger.Warn("telegram rate limited, backing off", "retry_after", backoff, "attempt", attempt+1)
		case msg.ParseMode != "" && strings.Contains(errStr, "can't parse entities"):
			t.logger.Warn("telegram markdown parse error, retrying as plain text", "err", err)
			continue
		default:
			t.logger.Warn("telegram send error, retrying", "err", err, "backoff", backoff)
		}

		if attempt == telegramMaxSendRetries {
			break
		}
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-time.After(backoff):
		}
	}
	return 0, fmt.Errorf("telegram send failed after %d attempts: %w", telegramMaxSendRetries+1, lastErr)
}

// splitMessage cuts text into chunks of at most maxLen bytes, preferring a
// newline in the second half of the window.
func splitMessage(text string, maxLen int) []string {
	if text == "" {
		return []string{""}
	}
	var chunks []string
	for len(text) > 0 {
		if len(text) <= maxLen {
			chunks = append(chunks, text)
			break
		}
		cutAt := strings.LastIndex(text[:maxLen], "\n")
		if cutAt < maxLen/2 {
			cutAt = maxLen
		}
		chunks = append(chunks, text[:cutAt])
		text = text[cutAt:]
	}
	return chunks
}

// telegramToRaw maps a Bot API message. fileURL resolves a file ID to a
// download URL; an empty result leaves MediaURL unset.
func telegramToRaw(m *tgbotapi.Message, fileURL func(string) string) domain.RawMessage {
	raw := domain.RawMessage{
		ID:        fmt.Sprintf("%d:%d", m.Chat.ID, m.MessageID),
		From:      strconv.FormatInt(m.Chat.ID, 10),
		Type:      domain.TypeText,
		Content:   m.Text,
		Timestamp: time.Unix(int64(m.Date), 0).UTC(),
		Extra:     map[string]any{"platform": "telegram"},
	}
	if m.From != nil {
		raw.Extra["userId"] = m.From.ID
		if m.From.UserName != "" {
			raw.Extra["username"] = m.From.UserName
		}
	}

	media := func(t domain.MessageType, fileID string) {
		raw.Type = t
		raw.Content = m.Caption
		raw.MediaURL = fileURL(fileID)
		raw.Extra["fileId"] = fileID
	}

	switch {
	case len(m.Photo) > 0:
		media(domain.TypeImage, m.Photo[len(m.Photo)-1].FileID)
	case m.Document != nil:
		media(domain.TypeDocument, m.Document.FileID)
		if raw.Content == "" {
			raw.Content = m.Document.FileName
		}
		if m.Document.MimeType != "" {
			raw.Extra["mimeType"] = m.Document.MimeType
		}
	case m.Voice != nil:
		media(domain.TypeAudio, m.Voice.FileID)
	case m.Audio != nil:
		media(domain.TypeAudio, m.Audio.FileID)
	case m.Video != nil:
		media(domain.TypeVideo, m.Video.FileID)
	case m.Sticker != nil:
		media(domain.TypeSticker, m.Sticker.FileID)
		raw.Content = m.Sticker.Emoji
	case m.Venue != nil:
		raw.Type = domain.TypeLocation
		raw.Content = m.Venue.Address
		raw.Extra["latitude"] = m.Venue.Location.Latitude
		raw.Extra["longitude"] = m.Venue.Location.Longitude
	case m.Location != nil:
		raw.Type = domain.TypeLocation
		raw.Content = fmt.Sprintf("%g,%g", m.Location.Latitude, m.Location.Longitude)
		raw.Extra["latitude"] = m.Location.Latitude
		raw.Extra["longitude"] = m.Location.Longitude
	case m.Contact != nil:
		raw.Type = domain.TypeContact
		raw.Content = strings.TrimSpace(m.Contact.FirstName + " " + m.Contact.LastName)
		raw.Extra["phone"] = m.Contact.PhoneNumber
	}
	return raw
}
