package connector

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"chatpipe/internal/bus"
	"chatpipe/internal/config"
	"chatpipe/internal/domain"
)

const waWebhook = `{
  "object": "whatsapp_business_account",
  "entry": [{
    "id": "1",
    "changes": [{
      "field": "messages",
      "value": {
        "messaging_product": "whatsapp",
        "contacts": [{"wa_id": "15550001", "profile": {"name": "Ada"}}],
        "messages": [
          {"from": "15550001", "id": "wamid.1", "timestamp": "1700000000", "type": "text", "text": {"body": "hello there"}},
          {"from": "15550001", "id": "wamid.2", "timestamp": "1700000001", "type": "image", "image": {"id": "media-9", "mime_type": "image/jpeg", "caption": "look"}},
          {"from": "15550002", "id": "wamid.3", "timestamp": "1700000002", "type": "location", "location": {"latitude": 52.5, "longitude": 13.4, "address": "Alexanderplatz"}},
          {"from": "15550002", "id": "wamid.4", "timestamp": "1700000003", "type": "contacts", "contacts": [{"name": {"formatted_name": "Grace Hopper"}, "phones": [{"phone": "+1 555 0100"}]}]},
          {"from": "15550002", "id": "wamid.5", "timestamp": "1700000004", "type": "reaction"}
        ]
      }
    }]
  }]
}`

func sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func newTestWhatsApp(t *testing.T, api *httptest.Server, secret string) (*WhatsApp, *int) {
	t.Helper()
	calls := 0
	cfg := config.WhatsAppConfig{
		AppSecret:     secret,
		AccessToken:   "token",
		VerifyToken:   "verify-me",
		PhoneNumberID: "12345",
	}
	if api != nil {
		cfg.APIBase = api.URL
	}
	w := NewWhatsApp(WhatsAppOptions{
		Config:    cfg,
		Queue:     bus.NewQueue(10, testLogger()),
		Logger:    testLogger(),
		Now:       fixedNow,
		OnWebhook: func(n int) { calls += n },
	})
	return w, &calls
}

func TestWhatsApp_Verification(t *testing.T) {
	w, _ := newTestWhatsApp(t, nil, "")

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/webhook/whatsapp?hub.mode=subscribe&hub.verify_token=verify-me&hub.challenge=abc", nil)
	w.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || rec.Body.String() != "abc" {
		t.Errorf("verification: %d %q", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/webhook/whatsapp?hub.mode=subscribe&hub.verify_token=wrong&hub.challenge=abc", nil)
	w.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Errorf("wrong token should be forbidden, got %d", rec.Code)
	}
}

func TestWhatsApp_WebhookQueuesMessages(t *testing.T) {
	w, calls := newTestWhatsApp(t, nil, "s3cret")
	body := []byte(waWebhook)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/webhook/whatsapp", strings.NewReader(waWebhook))
	req.Header.Set("X-Hub-Signature-256", sign("s3cret", body))
	w.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("webhook status %d", rec.Code)
	}
	if *calls != 5 {
		t.Errorf("OnWebhook count = %d, want 5", *calls)
	}

	ctx := context.Background()
	if _, err := w.Receive(ctx); !errors.Is(err, domain.ErrNotConnected) {
		t.Fatalf("receive before connect: %v", err)
	}
	w.setConnected(true)

	var got []*domain.RawMessage
	for {
		msg, err := w.Receive(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if msg == nil {
			break
		}
		got = append(got, msg)
	}
	if len(got) != 5 {
		t.Fatalf("expected 5 messages, got %d", len(got))
	}

	text := got[0]
	if text.Type != domain.TypeText || text.Content != "hello there" || text.From != "15550001" {
		t.Errorf("text = %+v", text)
	}
	if text.Timestamp.Unix() != 1700000000 || text.Extra["profileName"] != "Ada" {
		t.Errorf("text timestamp/profile = %v %v", text.Timestamp, text.Extra)
	}

	img := got[1]
	if img.Type != domain.TypeImage || img.Content != "look" || !strings.HasSuffix(img.MediaURL, "/media-9") {
		t.Errorf("image = %+v", img)
	}
	if img.Extra["mimeType"] != "image/jpeg" {
		t.Errorf("image extra = %v", img.Extra)
	}

	loc := got[2]
	if loc.Type != domain.TypeLocation || loc.Content != "Alexanderplatz" || loc.Extra["latitude"] != 52.5 {
		t.Errorf("location = %+v", loc)
	}

	contact := got[3]
	if contact.Type != domain.TypeContact || contact.Content != "Grace Hopper" || contact.Extra["phone"] != "+1 555 0100" {
		t.Errorf("contact = %+v", contact)
	}

	other := got[4]
	if other.Type != domain.TypeUnknown || other.Extra["platformType"] != "reaction" {
		t.Errorf("reaction = %+v", other)
	}
}

func TestWhatsApp_WebhookRejectsBadSignature(t *testing.T) {
	w, calls := newTestWhatsApp(t, nil, "s3cret")

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/webhook/whatsapp", strings.NewReader(waWebhook))
	req.Header.Set("X-Hub-Signature-256", sign("other", []byte(waWebhook)))
	w.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Errorf("expected 403, got %d", rec.Code)
	}
	if *calls != 0 || w.queue.Len() != 0 {
		t.Error("rejected webhook must not queue messages")
	}

	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/webhook/whatsapp", strings.NewReader(waWebhook))
	w.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Errorf("missing signature: expected 403, got %d", rec.Code)
	}
}

func TestWhatsApp_WebhookBadJSON(t *testing.T) {
	w, _ := newTestWhatsApp(t, nil, "")
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/webhook/whatsapp", strings.NewReader("{"))
	w.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}

func TestWhatsApp_ConnectAndSend(t *testing.T) {
	var sent map[string]any
	api := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer token" {
			http.Error(rw, "no auth", http.StatusUnauthorized)
			return
		}
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/12345":
			io.WriteString(rw, `{"display_phone_number":"+1 555","id":"12345"}`)
		case r.Method == http.MethodPost && r.URL.Path == "/12345/messages":
			json.NewDecoder(r.Body).Decode(&sent)
			io.WriteString(rw, `{"messages":[{"id":"wamid.out"}]}`)
		default:
			http.NotFound(rw, r)
		}
	}))
	defer api.Close()

	w, _ := newTestWhatsApp(t, api, "")
	ctx := context.Background()

	if _, err := w.Send(ctx, "15550001", "hi", nil); !errors.Is(err, domain.ErrNotConnected) {
		t.Fatalf("send before connect: %v", err)
	}
	if res, err := w.Connect(ctx); err != nil || !res.Success {
		t.Fatalf("connect: %+v %v", res, err)
	}

	res, err := w.Send(ctx, "15550001", "hi", map[string]any{"replyTo": "wamid.1"})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if res.MessageID != "wamid.out" || res.Recipient != "15550001" {
		t.Errorf("result = %+v", res)
	}
	if sent["to"] != "15550001" || sent["type"] != "text" {
		t.Errorf("payload = %v", sent)
	}
	if text, _ := sent["text"].(map[string]any); text["body"] != "hi" {
		t.Errorf("payload text = %v", sent["text"])
	}
	if c, _ := sent["context"].(map[string]any); c["message_id"] != "wamid.1" {
		t.Errorf("payload context = %v", sent["context"])
	}
	if !w.Status().IsConnected {
		t.Error("status should be connected")
	}
}

func TestWhatsApp_ConnectFailure(t *testing.T) {
	api := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		http.Error(rw, `{"error":"bad token"}`, http.StatusUnauthorized)
	}))
	defer api.Close()

	w, _ := newTestWhatsApp(t, api, "")
	if _, err := w.Connect(context.Background()); err == nil {
		t.Fatal("expected connect error")
	}
	if w.Status().IsConnected {
		t.Error("failed connect must leave the connector down")
	}
}
