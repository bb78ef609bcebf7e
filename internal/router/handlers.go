package router

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"chatpipe/internal/domain"
)

const echoPreviewLen = 50

var (
	greetingWords = []string{"hi", "hello", "hey", "你好", "您好"}
	farewellWords = []string{"bye", "goodbye", "see you", "再见", "拜拜"}
	thanksWords   = []string{"thank", "thanks", "thank you", "谢谢"}
)

// DefaultHandler replies with DefaultResponse. It is the fallback for types
// without a registered handler.
func (r *Router) DefaultHandler(_ context.Context, msg *domain.InboundMessage) (*domain.ReplyIntent, error) {
	r.logger.Debug("using default handler", "type", msg.Type)
	return reply(msg, DefaultResponse(msg)), nil
}

// DefaultResponse picks a canned reply: farewell, thanks, greeting, then a
// per-type acknowledgement, then an echo of the first 50 runes.
func DefaultResponse(msg *domain.InboundMessage) string {
	content := strings.ToLower(msg.Content)
	switch {
	case containsAny(content, farewellWords):
		return "Goodbye! Feel free to contact me anytime."
	case containsAny(content, thanksWords):
		return "You're welcome! Is there anything else I can assist you with?"
	case containsAny(content, greetingWords):
		return "Hello! I received your message. How can I help you?"
	}

	switch msg.Type {
	case domain.TypeImage:
		return "I received your image. Thank you!"
	case domain.TypeDocument:
		return "I received your document. I'll review it soon."
	case domain.TypeLocation:
		return "Thank you for sharing your location."
	}
	return fmt.Sprintf("I received your %s message. Content: %s", msg.Type, truncate(msg.Content, echoPreviewLen))
}

// RegisterCommonHandlers installs the built-in text, image, document,
// location and contact handlers.
func (r *Router) RegisterCommonHandlers() {
	r.RegisterHandler(domain.TypeText, r.handleText)
	r.RegisterHandler(domain.TypeImage, r.handleImage)
	r.RegisterHandler(domain.TypeDocument, r.handleDocument)
	r.RegisterHandler(domain.TypeLocation, r.handleLocation)
	r.RegisterHandler(domain.TypeContact, r.handleContact)
}

func (r *Router) handleText(_ context.Context, msg *domain.InboundMessage) (*domain.ReplyIntent, error) {
	md := msg.Text()
	if md == nil {
		return reply(msg, fmt.Sprintf("I received your message: \"%s\". How can I assist you?", msg.Content)), nil
	}

	if len(md.Commands) > 0 {
		return InlineCommand(msg, md.Commands[0]), nil
	}
	if len(md.URLs) > 0 {
		return reply(msg, fmt.Sprintf("I detected %d URL(s) in your message. URLs: %s",
			len(md.URLs), strings.Join(md.URLs, ", "))), nil
	}

	switch md.Sentiment {
	case domain.SentimentPositive:
		return reply(msg, fmt.Sprintf("Thank you for your positive message! I'm glad to hear that. Original: \"%s\"", msg.Content)), nil
	case domain.SentimentNegative:
		return reply(msg, fmt.Sprintf("I'm sorry to hear that. How can I help improve the situation? Original: \"%s\"", msg.Content)), nil
	}
	return reply(msg, fmt.Sprintf("I received your message: \"%s\". How can I assist you?", msg.Content)), nil
}

// InlineCommand is the router's own fixed interpreter for /help, /status and
// /info. It does not consult the command registry.
func InlineCommand(msg *domain.InboundMessage, command string) *domain.ReplyIntent {
	switch command {
	case "/help":
		return reply(msg, "Available commands: /help, /status, /info")
	case "/status":
		return reply(msg, "System status: Online and processing messages")
	case "/info":
		return reply(msg, fmt.Sprintf("Message Info: Type=%s, From=%s, Time=%s",
			msg.Type, msg.From, msg.Timestamp.Format(time.RFC3339)))
	default:
		return reply(msg, fmt.Sprintf("Unknown command: %s. Try /help for available commands.", command))
	}
}

func (r *Router) handleImage(_ context.Context, msg *domain.InboundMessage) (*domain.ReplyIntent, error) {
	r.logger.Debug("handling image", "url", msg.MediaURL)
	details, err := metadataJSON(msg)
	if err != nil {
		return nil, err
	}
	return reply(msg, "I received your image. Image details: "+details), nil
}

func (r *Router) handleDocument(_ context.Context, msg *domain.InboundMessage) (*domain.ReplyIntent, error) {
	r.logger.Debug("handling document", "url", msg.MediaURL)
	details, err := metadataJSON(msg)
	if err != nil {
		return nil, err
	}
	return reply(msg, "I received your document. Document details: "+details), nil
}

func (r *Router) handleLocation(_ context.Context, msg *domain.InboundMessage) (*domain.ReplyIntent, error) {
	return reply(msg, "Thanks for sharing your location: "+msg.Content), nil
}

func (r *Router) handleContact(_ context.Context, msg *domain.InboundMessage) (*domain.ReplyIntent, error) {
	details, err := metadataJSON(msg)
	if err != nil {
		return nil, err
	}
	return reply(msg, "I received contact information: "+details), nil
}

func reply(msg *domain.InboundMessage, content string) *domain.ReplyIntent {
	return &domain.ReplyIntent{
		To:                msg.From,
		Content:           content,
		Type:              "text",
		OriginalMessageID: msg.ID,
	}
}

func metadataJSON(msg *domain.InboundMessage) (string, error) {
	b, err := json.MarshalIndent(msg.Metadata, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode metadata: %w", err)
	}
	return string(b), nil
}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}

func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "..."
}
