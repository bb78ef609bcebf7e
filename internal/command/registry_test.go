package command

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"reflect"
	"strings"
	"testing"
	"time"

	"chatpipe/internal/domain"
)

var t0 = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

func newTestRegistry(now *time.Time) *Registry {
	return NewRegistry(Config{
		Logger: testLogger(),
		Now:    func() time.Time { return *now },
	})
}

func testMsg(content string) domain.InboundMessage {
	return domain.InboundMessage{
		ID: "m1", From: "+15550001", Type: domain.TypeText,
		Content: content, Timestamp: t0,
	}
}

func TestParse(t *testing.T) {
	tests := []struct {
		line string
		name string
		args []string
	}{
		{"/help", "/help", []string{}},
		{"/Echo  hello   world", "/echo", []string{"hello", "world"}},
		{"  /calc 2 + 3 ", "/calc", []string{"2", "+", "3"}},
		{"", "", []string{}},
		{"   ", "", []string{}},
	}
	for _, tt := range tests {
		name, args := Parse(tt.line)
		if name != tt.name {
			t.Errorf("Parse(%q) name = %q, want %q", tt.line, name, tt.name)
		}
		if !reflect.DeepEqual(args, tt.args) {
			t.Errorf("Parse(%q) args = %#v, want %#v", tt.line, args, tt.args)
		}
	}
}

func TestIsCommand(t *testing.T) {
	tests := map[string]bool{
		"/help":       true,
		"  /status":   true,
		"/a_b":        true,
		"/":           false,
		"/ help":      false,
		"hello /help": false,
		"":            false,
	}
	for in, want := range tests {
		if got := IsCommand(in); got != want {
			t.Errorf("IsCommand(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestBuiltinsRegisteredInOrder(t *testing.T) {
	now := t0
	r := newTestRegistry(&now)

	var names []string
	for _, c := range r.List() {
		names = append(names, c.Name)
	}
	want := []string{"/help", "/status", "/info", "/history", "/echo", "/calc"}
	if !reflect.DeepEqual(names, want) {
		t.Errorf("expected %v, got %v", want, names)
	}
}

func TestSkipBuiltins(t *testing.T) {
	r := NewRegistry(Config{Logger: testLogger(), SkipBuiltins: true})
	if r.Len() != 0 {
		t.Errorf("expected empty registry, got %d", r.Len())
	}
}

func TestExecute_Help(t *testing.T) {
	now := t0
	r := newTestRegistry(&now)

	res := r.Execute(context.Background(), "/help", testMsg("/help"))
	if !res.Success {
		t.Fatalf("expected success, got %+v", res)
	}
	if res.Command != "/help" || res.Type != "text" {
		t.Errorf("unexpected result: %+v", res)
	}
	if !strings.HasPrefix(res.Content, "🤖 Available Commands:\n• /help - Show available commands") {
		t.Errorf("unexpected help content: %q", res.Content)
	}
	if !strings.HasSuffix(res.Content, "\n\nExample: /help, /status, /info") {
		t.Errorf("missing example line: %q", res.Content)
	}
}

func TestExecute_Echo(t *testing.T) {
	now := t0
	r := newTestRegistry(&now)

	res := r.Execute(context.Background(), "/echo hi  there", testMsg(""))
	if res.Content != "🔊 Echo: hi there" {
		t.Errorf("unexpected echo: %q", res.Content)
	}
}

func TestExecute_CaseInsensitive(t *testing.T) {
	now := t0
	r := newTestRegistry(&now)

	res := r.Execute(context.Background(), "/ECHO x", testMsg(""))
	if !res.Success || res.Command != "/echo" {
		t.Errorf("expected /echo to match, got %+v", res)
	}
}

func TestExecute_Unknown(t *testing.T) {
	now := t0
	r := newTestRegistry(&now)

	res := r.Execute(context.Background(), "/nope a b", testMsg(""))
	if res.Success {
		t.Fatal("expected failure for unknown command")
	}
	want := "Unknown command: /nope. Use /help to see available commands."
	if res.Content != want {
		t.Errorf("expected %q, got %q", want, res.Content)
	}
	if r.History().Len() != 1 {
		t.Errorf("unknown commands must still be logged, got %d records", r.History().Len())
	}
}

func TestExecute_NonCommandInput(t *testing.T) {
	now := t0
	r := newTestRegistry(&now)
	ctx := context.Background()

	lines := []string{"", "   ", "no slash", "help me", "/"}
	for i, line := range lines {
		res := r.Execute(ctx, line, testMsg(line))
		if res.Success {
			t.Errorf("Execute(%q) succeeded, want failure", line)
		}
		if !strings.HasPrefix(res.Content, "Unknown command:") {
			t.Errorf("Execute(%q) content = %q", line, res.Content)
		}
		if res.Type != "text" {
			t.Errorf("Execute(%q) type = %q", line, res.Type)
		}
		if got := r.History().Len(); got != i+1 {
			t.Errorf("after %q history has %d records, want %d", line, got, i+1)
		}
	}
}

func TestExecute_HandlerError(t *testing.T) {
	now := t0
	r := newTestRegistry(&now)
	r.Register("/boom", func(context.Context, []string, domain.InboundMessage) (Reply, error) {
		return Reply{}, errors.New("kaput")
	}, "fails")

	res := r.Execute(context.Background(), "/boom", testMsg(""))
	if res.Success {
		t.Fatal("expected failure")
	}
	if res.Content != "Error executing command: kaput" {
		t.Errorf("unexpected content: %q", res.Content)
	}
}

func TestExecute_HandlerPanic(t *testing.T) {
	now := t0
	r := newTestRegistry(&now)
	r.Register("/panic", func(context.Context, []string, domain.InboundMessage) (Reply, error) {
		panic("oops")
	}, "panics")

	res := r.Execute(context.Background(), "/panic", testMsg(""))
	if res.Success || res.Content != "Error executing command: oops" {
		t.Errorf("unexpected result: %+v", res)
	}
}

func TestRegister_ReplacesAndLowercases(t *testing.T) {
	now := t0
	r := newTestRegistry(&now)
	before := r.Len()

	r.Register("/ECHO", func(context.Context, []string, domain.InboundMessage) (Reply, error) {
		return Reply{Content: "custom", Type: "note"}, nil
	}, "custom echo")

	if r.Len() != before {
		t.Errorf("re-registering must not add an entry: %d vs %d", r.Len(), before)
	}
	res := r.Execute(context.Background(), "/echo x", testMsg(""))
	if res.Content != "custom" || res.Type != "note" {
		t.Errorf("expected replaced handler, got %+v", res)
	}
}

func TestExecute_Status(t *testing.T) {
	now := t0
	r := NewRegistry(Config{
		Logger:    testLogger(),
		Now:       func() time.Time { return now },
		Connected: func() bool { return false },
	})
	now = t0.Add(26*time.Hour + 5*time.Minute)

	res := r.Execute(context.Background(), "/status", testMsg("/status"))
	for _, want := range []string{"📊 System Status", "• Uptime: 1d 2h 5m", "• Connected: No", "• Message Handlers: Active", "• Last Message: "} {
		if !strings.Contains(res.Content, want) {
			t.Errorf("status missing %q:\n%s", want, res.Content)
		}
	}
}

func TestExecute_Info(t *testing.T) {
	now := t0
	r := newTestRegistry(&now)

	long := strings.Repeat("é", 120)
	res := r.Execute(context.Background(), "/info", testMsg(long))
	if !strings.Contains(res.Content, "• ID: m1") || !strings.Contains(res.Content, "• From: +15550001") {
		t.Errorf("info missing fields:\n%s", res.Content)
	}
	if !strings.HasSuffix(res.Content, "• Content: "+strings.Repeat("é", 100)+"...") {
		t.Errorf("content not truncated to 100 runes:\n%s", res.Content)
	}
}

func TestExecute_History(t *testing.T) {
	now := t0
	r := newTestRegistry(&now)
	ctx := context.Background()

	r.Execute(ctx, "/echo one", testMsg(""))
	r.Execute(ctx, "/echo two", testMsg(""))

	res := r.Execute(ctx, "/history 2", testMsg(""))
	lines := strings.Split(res.Content, "\n")
	if lines[0] != "📖 Recent Commands (2 of 3):" {
		t.Errorf("unexpected header: %q", lines[0])
	}
	if lines[1] != "• /history 2 - 12:00:00" {
		t.Errorf("expected newest first, got %q", lines[1])
	}
	if lines[2] != "• /echo two - 12:00:00" {
		t.Errorf("unexpected second line: %q", lines[2])
	}
}

func TestExecute_HistoryDefaultLimit(t *testing.T) {
	now := t0
	r := newTestRegistry(&now)
	ctx := context.Background()
	for i := 0; i < 8; i++ {
		r.Execute(ctx, "/echo", testMsg(""))
	}

	res := r.Execute(ctx, "/history abc", testMsg(""))
	if !strings.HasPrefix(res.Content, "📖 Recent Commands (5 of 9):") {
		t.Errorf("expected default limit 5, got %q", res.Content)
	}
}

func TestClearHistory(t *testing.T) {
	now := t0
	r := newTestRegistry(&now)
	r.Execute(context.Background(), "/echo", testMsg(""))
	r.ClearHistory()
	if r.History().Len() != 0 {
		t.Errorf("expected empty history, got %d", r.History().Len())
	}
}

func TestFormatUptime(t *testing.T) {
	tests := map[time.Duration]string{
		0:                           "0m",
		59 * time.Second:            "0m",
		42 * time.Minute:            "42m",
		3*time.Hour + 4*time.Minute: "3h 4m",
		50*time.Hour + time.Minute:  "2d 2h 1m",
		24 * time.Hour:              "1d 0h 0m",
	}
	for d, want := range tests {
		if got := FormatUptime(d); got != want {
			t.Errorf("FormatUptime(%v) = %q, want %q", d, got, want)
		}
	}
}
