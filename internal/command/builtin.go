package command

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"chatpipe/internal/domain"
)

const infoPreviewLen = 100

// calcDisallowed strips everything an arithmetic expression cannot contain.
var calcDisallowed = regexp.MustCompile(`[^0-9+\-*/().\s]`)

func (r *Registry) registerBuiltins() {
	r.Register("/help", r.helpCommand, "Show available commands")
	r.Register("/status", r.statusCommand, "Show system status")
	r.Register("/info", infoCommand, "Show message information")
	r.Register("/history", r.historyCommand, "Show command history")
	r.Register("/echo", echoCommand, "Echo back the provided text")
	r.Register("/calc", calcCommand, "Perform basic calculations")
}

func (r *Registry) helpCommand(_ context.Context, _ []string, _ domain.InboundMessage) (Reply, error) {
	var sb strings.Builder
	sb.WriteString("🤖 Available Commands:\n")
	for i, c := range r.List() {
		if i > 0 {
			sb.WriteString("\n")
		}
		fmt.Fprintf(&sb, "• %s - %s", c.Name, c.Description)
	}
	sb.WriteString("\n\nExample: /help, /status, /info")
	return Reply{Content: sb.String()}, nil
}

func (r *Registry) statusCommand(_ context.Context, _ []string, msg domain.InboundMessage) (Reply, error) {
	connected := "Yes"
	if r.connected != nil && !r.connected() {
		connected = "No"
	}
	var sb strings.Builder
	sb.WriteString("📊 System Status\n")
	fmt.Fprintf(&sb, "• Uptime: %s\n", FormatUptime(r.Uptime()))
	fmt.Fprintf(&sb, "• Connected: %s\n", connected)
	sb.WriteString("• Message Handlers: Active\n")
	fmt.Fprintf(&sb, "• Last Message: %s", msg.Timestamp.Format(time.RFC1123))
	return Reply{Content: sb.String()}, nil
}

func infoCommand(_ context.Context, _ []string, msg domain.InboundMessage) (Reply, error) {
	var sb strings.Builder
	sb.WriteString("ℹ️ Message Info\n")
	fmt.Fprintf(&sb, "• ID: %s\n", msg.ID)
	fmt.Fprintf(&sb, "• Type: %s\n", msg.Type)
	fmt.Fprintf(&sb, "• From: %s\n", msg.From)
	fmt.Fprintf(&sb, "• Received: %s\n", msg.Timestamp.Format(time.RFC1123))
	fmt.Fprintf(&sb, "• Content: %s", Truncate(msg.Content, infoPreviewLen))
	return Reply{Content: sb.String()}, nil
}

func (r *Registry) historyCommand(_ context.Context, args []string, _ domain.InboundMessage) (Reply, error) {
	limit := 5
	if len(args) > 0 {
		if n, err := strconv.Atoi(args[0]); err == nil && n > 0 {
			limit = n
		}
	}

	recent := r.history.Recent(limit)
	total := r.history.Len()

	var lines []string
	for _, rec := range recent {
		line := strings.TrimRight(rec.Command+" "+strings.Join(rec.Args, " "), " ")
		lines = append(lines, fmt.Sprintf("• %s - %s", line, rec.Timestamp.Format(time.TimeOnly)))
	}
	body := strings.Join(lines, "\n")
	if body == "" {
		body = "No commands executed yet."
	}
	return Reply{
		Content: fmt.Sprintf("📖 Recent Commands (%d of %d):\n%s", min(limit, total), total, body),
	}, nil
}

func echoCommand(_ context.Context, args []string, _ domain.InboundMessage) (Reply, error) {
	return Reply{Content: "🔊 Echo: " + strings.Join(args, " ")}, nil
}

func calcCommand(_ context.Context, args []string, _ domain.InboundMessage) (Reply, error) {
	expr := SanitizeExpression(strings.Join(args, ""))
	value, err := Evaluate(expr)
	if err != nil {
		return Reply{Content: fmt.Sprintf("Error in calculation: %s", err.Error())}, nil
	}
	return Reply{Content: fmt.Sprintf("Calculation: %s = %s", expr, FormatNumber(value))}, nil
}

// SanitizeExpression drops every character outside [0-9+\-*/().\s].
func SanitizeExpression(s string) string {
	return strings.TrimSpace(calcDisallowed.ReplaceAllString(s, ""))
}

// FormatUptime renders a duration as "2d 3h 4m", "3h 4m" or "4m".
func FormatUptime(d time.Duration) string {
	days := int(d / (24 * time.Hour))
	hours := int(d % (24 * time.Hour) / time.Hour)
	minutes := int(d % time.Hour / time.Minute)

	switch {
	case days > 0:
		return fmt.Sprintf("%dd %dh %dm", days, hours, minutes)
	case hours > 0:
		return fmt.Sprintf("%dh %dm", hours, minutes)
	default:
		return fmt.Sprintf("%dm", minutes)
	}
}

// Truncate shortens s to max runes, appending "..." when it was cut.
func Truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "..."
}
