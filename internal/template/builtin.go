package template

import (
	"encoding/json"
	"fmt"

	"chatpipe/internal/domain"
)

const previewLen = 50

const helpText = "🤖 WhatsApp Message Handler Help\n\n" +
	"Available features:\n" +
	"• Text message processing\n" +
	"• Image recognition\n" +
	"• Document handling\n" +
	"• Location services\n" +
	"• Command execution (/help, /status, /info)\n\n" +
	"How can I assist you?"

// RegisterBuiltins installs default, simple, greeting, help, error and media.
func (r *Registry) RegisterBuiltins() {
	r.Register(KeyDefault, r.defaultTemplate)
	r.Register(KeySimple, simpleTemplate)
	r.Register(KeyGreeting, greetingTemplate)
	r.Register(KeyHelp, helpTemplate)
	r.Register(KeyError, errorTemplate)
	r.Register(KeyMedia, r.mediaTemplate)
}

func (r *Registry) defaultTemplate(c Context) Payload {
	msg := c.Message
	return Payload{
		Content: fmt.Sprintf("Received your %s message. Content preview: \"%s\"", msg.Type, preview(msg.Content)),
		Type:    "text",
		Metadata: map[string]any{
			"originalMessageId": msg.ID,
			"responseTo":        msg.From,
		},
	}
}

func simpleTemplate(c Context) Payload {
	content, _ := c.Value("customText").(string)
	if content == "" {
		content = fmt.Sprintf("I received your message: \"%s\"", c.Message.Content)
	}
	return Payload{
		Content:  content,
		Type:     "text",
		Metadata: map[string]any{"originalMessageId": c.Message.ID},
	}
}

func greetingTemplate(c Context) Payload {
	return Payload{
		Content: fmt.Sprintf("%s! I received your message: \"%s\". How can I assist you today?",
			Salutation(c.Timestamp.Hour()), c.Message.Content),
		Type:     "text",
		Metadata: map[string]any{"originalMessageId": c.Message.ID},
	}
}

// Salutation picks the time-of-day greeting for a local hour.
func Salutation(hour int) string {
	switch {
	case hour < 12:
		return "Good morning"
	case hour < 18:
		return "Good afternoon"
	default:
		return "Good evening"
	}
}

func helpTemplate(c Context) Payload {
	return Payload{
		Content:  helpText,
		Type:     "text",
		Metadata: map[string]any{"originalMessageId": c.Message.ID},
	}
}

// errorTemplate reads the failure from the "error" value, which may be an
// error or a string.
func errorTemplate(c Context) Payload {
	var reason string
	switch e := c.Value("error").(type) {
	case error:
		reason = e.Error()
	case string:
		reason = e
	case nil:
		reason = "unknown error"
	default:
		reason = fmt.Sprint(e)
	}
	return Payload{
		Content: fmt.Sprintf("⚠️ An error occurred while processing your message: %s\n\nOriginal message: \"%s\"",
			reason, c.Message.Content),
		Type: "text",
		Metadata: map[string]any{
			"originalMessageId": c.Message.ID,
			"isError":           true,
		},
	}
}

func (r *Registry) mediaTemplate(c Context) Payload {
	msg := c.Message
	var label, kind string
	switch msg.Type {
	case domain.TypeImage:
		label, kind = "🖼️ I received your image. Image analysis", "image"
	case domain.TypeDocument:
		label, kind = "📄 I received your document. Document details", "document"
	default:
		return r.defaultTemplate(c)
	}

	details, err := json.MarshalIndent(msg.Metadata, "", "  ")
	if err != nil {
		r.logger.Warn("cannot encode media metadata", "message_id", msg.ID, "err", err)
		details = []byte("{}")
	}
	return Payload{
		Content: fmt.Sprintf("%s: %s", label, details),
		Type:    "text",
		Metadata: map[string]any{
			"originalMessageId": msg.ID,
			"mediaType":         kind,
		},
	}
}

func preview(s string) string {
	runes := []rune(s)
	if len(runes) <= previewLen {
		return s
	}
	return string(runes[:previewLen]) + "..."
}
