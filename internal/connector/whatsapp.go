package connector

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"html"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"chatpipe/internal/bus"
	"chatpipe/internal/config"
	"chatpipe/internal/domain"
)

const defaultWhatsAppAPIBase = "https://graph.facebook.com/v21.0"

// WhatsApp talks to the WhatsApp Business Cloud API. Inbound messages arrive
// on the webhook returned by Handler and are buffered until Receive.
type WhatsApp struct {
	*queued
	cfg       config.WhatsAppConfig
	logger    *slog.Logger
	client    *http.Client
	mux       *http.ServeMux
	onWebhook func(n int)
}

type WhatsAppOptions struct {
	Config config.WhatsAppConfig
	Queue  domain.InboundQueue
	Client *http.Client
	Now    func() time.Time
	Logger *slog.Logger
	// OnWebhook is called with the number of messages queued from each
	// accepted webhook delivery.
	OnWebhook func(n int)
}

var _ domain.Connector = (*WhatsApp)(nil)

func NewWhatsApp(opts WhatsAppOptions) *WhatsApp {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Client == nil {
		opts.Client = &http.Client{Timeout: 30 * time.Second}
	}
	if opts.Queue == nil {
		opts.Queue = bus.NewQueue(100, opts.Logger)
	}
	if opts.Config.APIBase == "" {
		opts.Config.APIBase = defaultWhatsAppAPIBase
	}
	opts.Config.APIBase = strings.TrimRight(opts.Config.APIBase, "/")
	if opts.Config.WebhookPath == "" {
		opts.Config.WebhookPath = "/webhook/whatsapp"
	}

	w := &WhatsApp{
		queued:    newQueued(opts.Queue, opts.Now),
		cfg:       opts.Config,
		logger:    opts.Logger,
		client:    opts.Client,
		onWebhook: opts.OnWebhook,
	}
	w.mux = http.NewServeMux()
	w.mux.HandleFunc("GET "+w.cfg.WebhookPath, w.handleVerification)
	w.mux.HandleFunc("POST "+w.cfg.WebhookPath, w.handleIncoming)
	return w
}

func (w *WhatsApp) Name() string { return "whatsapp" }

// WebhookPath is where Handler expects to be mounted.
func (w *WhatsApp) WebhookPath() string { return w.cfg.WebhookPath }

// Handler returns the webhook handler, to be mounted on the main router.
func (w *WhatsApp) Handler() http.Handler { return w.mux }

// Connect checks the credentials against the phone number endpoint.
func (w *WhatsApp) Connect(ctx context.Context) (domain.ConnectResult, error) {
	url := fmt.Sprintf("%s/%s?fields=display_phone_number", w.cfg.APIBase, w.cfg.PhoneNumberID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return domain.ConnectResult{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+w.cfg.AccessToken)

	resp, err := w.client.Do(req)
	if err != nil {
		return domain.ConnectResult{}, fmt.Errorf("whatsapp connect: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return domain.ConnectResult{}, fmt.Errorf("whatsapp API %d: %s", resp.StatusCode, string(body))
	}

	w.setConnected(true)
	w.logger.Info("whatsapp connector ready", "webhook", w.cfg.WebhookPath)
	return domain.ConnectResult{Success: true, Timestamp: w.now()}, nil
}

func (w *WhatsApp) Disconnect(ctx context.Context) error {
	w.setConnected(false)
	return nil
}

func (w *WhatsApp) Receive(ctx context.Context) (*domain.RawMessage, error) {
	return w.receive()
}

func (w *WhatsApp) Status() domain.ConnectorStatus {
	return w.status(w.Name(), map[string]any{
		"apiBase":       w.cfg.APIBase,
		"phoneNumberId": w.cfg.PhoneNumberID,
		"webhookPath":   w.cfg.WebhookPath,
		"signed":        w.cfg.AppSecret != "",
	})
}

// Send posts a text message through the Cloud API. opts["previewUrl"]
// enables link previews; opts["replyTo"] quotes an earlier message.
func (w *WhatsApp) Send(ctx context.Context, to, content string, opts map[string]any) (domain.SendResult, error) {
	if !w.isConnected() {
		return domain.SendResult{}, domain.ErrNotConnected
	}

	url := fmt.Sprintf("%s/%s/messages", w.cfg.APIBase, w.cfg.PhoneNumberID)
	text := map[string]any{"body": content}
	if preview, _ := opts["previewUrl"].(bool); preview {
		text["preview_url"] = true
	}
	payload := map[string]any{
		"messaging_product": "whatsapp",
		"to":                to,
		"type":              "text",
		"text":              text,
	}
	if replyTo, _ := opts["replyTo"].(string); replyTo != "" {
		payload["context"] = map[string]string{"message_id": replyTo}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return domain.SendResult{}, fmt.Errorf("marshal: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return domain.SendResult{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+w.cfg.AccessToken)

	resp, err := w.client.Do(req)
	if err != nil {
		return domain.SendResult{}, fmt.Errorf("send: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return domain.SendResult{}, fmt.Errorf("whatsapp API %d: %s", resp.StatusCode, string(respBody))
	}

	var sent waSendResponse
	id := ""
	if json.Unmarshal(respBody, &sent) == nil && len(sent.Messages) > 0 {
		id = sent.Messages[0].ID
	}
	if id == "" {
		id = "msg_" + uuid.NewString()
	}
	return sendResult(w.now, id, to, content, opts), nil
}

// --- Webhook handlers ---

// handleVerification answers the subscription challenge.
func (w *WhatsApp) handleVerification(rw http.ResponseWriter, r *http.Request) {
	mode := r.URL.Query().Get("hub.mode")
	token := r.URL.Query().Get("hub.verify_token")
	challenge := r.URL.Query().Get("hub.challenge")

	if mode == "subscribe" && token == w.cfg.VerifyToken && w.cfg.VerifyToken != "" {
		w.logger.Info("whatsapp webhook verified")
		rw.WriteHeader(http.StatusOK)
		fmt.Fprint(rw, html.EscapeString(challenge))
		return
	}

	w.logger.Warn("whatsapp webhook verification failed", "mode", mode)
	http.Error(rw, "Forbidden", http.StatusForbidden)
}

// handleIncoming queues every message of a webhook delivery.
func (w *WhatsApp) handleIncoming(rw http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		http.Error(rw, "Bad request", http.StatusBadRequest)
		return
	}

	if w.cfg.AppSecret != "" {
		sig := r.Header.Get("X-Hub-Signature-256")
		if !w.verifySignature(body, sig) {
			w.logger.Warn("whatsapp invalid signature")
			http.Error(rw, "Forbidden", http.StatusForbidden)
			return
		}
	}

	var payload waPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		w.logger.Warn("whatsapp bad payload", "err", err)
		http.Error(rw, "Bad request", http.StatusBadRequest)
		return
	}

	n := 0
	for _, entry := range payload.Entry {
		for _, change := range entry.Changes {
			profiles := make(map[string]string, len(change.Value.Contacts))
			for _, c := range change.Value.Contacts {
				profiles[c.WaID] = c.Profile.Name
			}
			for _, msg := range change.Value.Messages {
				raw := w.toRaw(msg)
				if name := profiles[msg.From]; name != "" {
					raw.Extra["profileName"] = name
				}
				w.logger.Info("whatsapp message received", "from", msg.From, "type", msg.Type)
				w.queue.Publish(raw)
				n++
			}
		}
	}
	if n > 0 && w.onWebhook != nil {
		w.onWebhook(n)
	}

	rw.WriteHeader(http.StatusOK)
}

// verifySignature checks the X-Hub-Signature-256 header.
func (w *WhatsApp) verifySignature(body []byte, signature string) bool {
	expected, ok := strings.CutPrefix(signature, "sha256=")
	if !ok {
		return false
	}
	mac := hmac.New(sha256.New, []byte(w.cfg.AppSecret))
	mac.Write(body)
	computed := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(computed))
}

// toRaw maps a Cloud API message onto the pipeline's raw shape. Media is
// referenced by its Graph API node; the pipeline never downloads it.
func (w *WhatsApp) toRaw(m waMessage) domain.RawMessage {
	raw := domain.RawMessage{
		ID:    m.ID,
		From:  m.From,
		Type:  domain.MessageType(m.Type),
		Extra: map[string]any{"platform": "whatsapp"},
	}
	if secs, err := strconv.ParseInt(m.Timestamp, 10, 64); err == nil {
		raw.Timestamp = time.Unix(secs, 0).UTC()
	}

	media := func(md *waMedia) {
		if md == nil {
			return
		}
		raw.MediaURL = w.cfg.APIBase + "/" + md.ID
		raw.Content = md.Caption
		if md.MimeType != "" {
			raw.Extra["mimeType"] = md.MimeType
		}
		if md.Filename != "" {
			raw.Extra["filename"] = md.Filename
			if raw.Content == "" {
				raw.Content = md.Filename
			}
		}
	}

	switch m.Type {
	case "text":
		if m.Text != nil {
			raw.Content = m.Text.Body
		}
	case "image":
		media(m.Image)
	case "document":
		media(m.Document)
	case "audio":
		media(m.Audio)
	case "video":
		media(m.Video)
	case "sticker":
		media(m.Sticker)
	case "location":
		if l := m.Location; l != nil {
			raw.Content = l.Address
			if raw.Content == "" {
				raw.Content = l.Name
			}
			if raw.Content == "" {
				raw.Content = fmt.Sprintf("%g,%g", l.Latitude, l.Longitude)
			}
			raw.Extra["latitude"] = l.Latitude
			raw.Extra["longitude"] = l.Longitude
		}
	case "contacts":
		raw.Type = domain.TypeContact
		if len(m.Contacts) > 0 {
			c := m.Contacts[0]
			raw.Content = c.Name.FormattedName
			if len(c.Phones) > 0 {
				raw.Extra["phone"] = c.Phones[0].Phone
			}
		}
	default:
		raw.Type = domain.TypeUnknown
		raw.Extra["platformType"] = m.Type
	}
	return raw
}

// --- WhatsApp webhook payload types ---

type waPayload struct {
	Object string    `json:"object"`
	Entry  []waEntry `json:"entry"`
}

type waEntry struct {
	ID      string     `json:"id"`
	Changes []waChange `json:"changes"`
}

type waChange struct {
	Value waValue `json:"value"`
	Field string  `json:"field"`
}

type waValue struct {
	MessagingProduct string      `json:"messaging_product"`
	Contacts         []waProfile `json:"contacts"`
	Messages         []waMessage `json:"messages"`
}

type waProfile struct {
	WaID    string `json:"wa_id"`
	Profile struct {
		Name string `json:"name"`
	} `json:"profile"`
}

type waMessage struct {
	From      string      `json:"from"`
	ID        string      `json:"id"`
	Timestamp string      `json:"timestamp"`
	Type      string      `json:"type"`
	Text      *waText     `json:"text,omitempty"`
	Image     *waMedia    `json:"image,omitempty"`
	Document  *waMedia    `json:"document,omitempty"`
	Audio     *waMedia    `json:"audio,omitempty"`
	Video     *waMedia    `json:"video,omitempty"`
	Sticker   *waMedia    `json:"sticker,omitempty"`
	Location  *waLocation `json:"location,omitempty"`
	Contacts  []waContact `json:"contacts,omitempty"`
}

type waText struct {
	Body string `json:"body"`
}

type waMedia struct {
	ID       string `json:"id"`
	MimeType string `json:"mime_type"`
	Caption  string `json:"caption"`
	Filename string `json:"filename"`
}

type waLocation struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Name      string  `json:"name"`
	Address   string  `json:"address"`
}

type waContact struct {
	Name struct {
		FormattedName string `json:"formatted_name"`
	} `json:"name"`
	Phones []struct {
		Phone string `json:"phone"`
		WaID  string `json:"wa_id"`
	} `json:"phones"`
}

type waSendResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
}
