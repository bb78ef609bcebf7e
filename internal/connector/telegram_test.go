package connector

import (
	"context"
	"errors"
	"strings"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"chatpipe/internal/domain"
)

func noFileURL(id string) string { return "https://files.test/" + id }

func TestTelegramToRaw_Text(t *testing.T) {
	m := &tgbotapi.Message{
		MessageID: 7,
		Date:      1700000000,
		Chat:      &tgbotapi.Chat{ID: -100},
		From:      &tgbotapi.User{ID: 42, UserName: "ada"},
		Text:      "/status please",
	}
	raw := telegramToRaw(m, noFileURL)
	if raw.ID != "-100:7" || raw.From != "-100" || raw.Type != domain.TypeText || raw.Content != "/status please" {
		t.Errorf("raw = %+v", raw)
	}
	if raw.Timestamp.Unix() != 1700000000 {
		t.Errorf("timestamp = %v", raw.Timestamp)
	}
	if raw.Extra["username"] != "ada" || raw.Extra["userId"] != int64(42) {
		t.Errorf("extra = %v", raw.Extra)
	}
}

func TestTelegramToRaw_Media(t *testing.T) {
	chat := &tgbotapi.Chat{ID: 1}
	cases := []struct {
		name    string
		msg     *tgbotapi.Message
		typ     domain.MessageType
		content string
		media   string
	}{
		{
			name:    "largest photo wins",
			msg:     &tgbotapi.Message{Chat: chat, Caption: "sunset", Photo: []tgbotapi.PhotoSize{{FileID: "small"}, {FileID: "large"}}},
			typ:     domain.TypeImage,
			content: "sunset",
			media:   "https://files.test/large",
		},
		{
			name:    "document falls back to file name",
			msg:     &tgbotapi.Message{Chat: chat, Document: &tgbotapi.Document{FileID: "doc", FileName: "report.pdf", MimeType: "application/pdf"}},
			typ:     domain.TypeDocument,
			content: "report.pdf",
			media:   "https://files.test/doc",
		},
		{
			name:  "voice is audio",
			msg:   &tgbotapi.Message{Chat: chat, Voice: &tgbotapi.Voice{FileID: "v"}},
			typ:   domain.TypeAudio,
			media: "https://files.test/v",
		},
		{
			name:    "location",
			msg:     &tgbotapi.Message{Chat: chat, Location: &tgbotapi.Location{Latitude: 1.5, Longitude: 2.5}},
			typ:     domain.TypeLocation,
			content: "1.5,2.5",
		},
		{
			name:    "contact",
			msg:     &tgbotapi.Message{Chat: chat, Contact: &tgbotapi.Contact{FirstName: "Grace", LastName: "Hopper", PhoneNumber: "+1"}},
			typ:     domain.TypeContact,
			content: "Grace Hopper",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			raw := telegramToRaw(tc.msg, noFileURL)
			if raw.Type != tc.typ || raw.Content != tc.content || raw.MediaURL != tc.media {
				t.Errorf("got type=%s content=%q media=%q", raw.Type, raw.Content, raw.MediaURL)
			}
		})
	}
}

func TestSplitMessage(t *testing.T) {
	if chunks := splitMessage("short message", 100); len(chunks) != 1 {
		t.Errorf("expected 1 chunk, got %d", len(chunks))
	}

	long := strings.Repeat("word ", 100)
	chunks := splitMessage(long, 50)
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}
	for i, c := range chunks {
		if len(c) > 50 {
			t.Errorf("chunk %d too long: %d", i, len(c))
		}
	}
	if strings.Join(chunks, "") != long {
		t.Error("chunks must reassemble to the original text")
	}

	lines := strings.Repeat("a", 30) + "\n" + strings.Repeat("b", 30)
	chunks = splitMessage(lines, 40)
	if chunks[0] != strings.Repeat("a", 30) {
		t.Errorf("expected cut at newline, got %q", chunks[0])
	}
}

func TestTelegram_SendRequiresConnect(t *testing.T) {
	tg := NewTelegram(TelegramOptions{Logger: testLogger()})
	if _, err := tg.Send(context.Background(), "1", "hi", nil); !errors.Is(err, domain.ErrNotConnected) {
		t.Errorf("expected ErrNotConnected, got %v", err)
	}
	if _, err := tg.Receive(context.Background()); !errors.Is(err, domain.ErrNotConnected) {
		t.Errorf("expected ErrNotConnected, got %v", err)
	}
	if err := tg.Disconnect(context.Background()); err != nil {
		t.Errorf("disconnect without connect: %v", err)
	}
}
