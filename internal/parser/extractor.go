// Package parser turns raw connector payloads into normalized messages with
// derived metadata (mentions, hashtags, URLs, commands, sentiment).
package parser

import (
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"chatpipe/internal/domain"
)

var (
	mentionPattern = regexp.MustCompile(`@\w+`)
	hashtagPattern = regexp.MustCompile(`#\w+`)
	urlPattern     = regexp.MustCompile(`https?://\S+`)
	commandPattern = regexp.MustCompile(`/\w+`)
)

var (
	positiveWords = []string{"good", "great", "excellent", "amazing", "love", "like", "happy", "thank", "thanks", "awesome"}
	negativeWords = []string{"bad", "terrible", "awful", "hate", "dislike", "sad", "angry", "annoying", "worst"}
)

// Extractor normalizes raw messages. It is safe for concurrent use.
type Extractor struct {
	now     func() time.Time
	channel string
}

type Config struct {
	// Now supplies the timestamp for messages that arrive without one.
	Now func() time.Time
	// Channel is stamped on formatted replies (default "whatsapp").
	Channel string
}

func NewExtractor(cfg Config) *Extractor {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Channel == "" {
		cfg.Channel = "whatsapp"
	}
	return &Extractor{now: cfg.Now, channel: cfg.Channel}
}

// Normalize fills in defaults and derives metadata. It never fails: missing
// optional fields get their documented defaults.
func (e *Extractor) Normalize(raw domain.RawMessage) domain.InboundMessage {
	msg := domain.InboundMessage{
		ID:        raw.ID,
		From:      raw.From,
		Type:      raw.Type,
		Content:   raw.Content,
		Timestamp: raw.Timestamp,
		MediaURL:  raw.MediaURL,
	}
	if msg.Type == "" {
		msg.Type = domain.TypeText
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = e.now()
	}
	msg.Metadata = ExtractMetadata(msg.Type, msg.Content, msg.MediaURL, raw)
	return msg
}

// ExtractMetadata is the pure part of normalization: the record depends only
// on the type, content and media URL (raw is kept for passthrough types).
func ExtractMetadata(t domain.MessageType, content, mediaURL string, raw domain.RawMessage) domain.Metadata {
	switch t {
	case domain.TypeText:
		return ParseText(content)
	case domain.TypeImage, domain.TypeDocument:
		return &domain.MediaMetadata{URL: mediaURL, Type: t, Size: "unknown"}
	case domain.TypeLocation:
		return &domain.LocationMetadata{Address: content}
	case domain.TypeContact:
		return &domain.ContactMetadata{Name: content}
	default:
		return &domain.RawMetadata{Raw: raw}
	}
}

// ParseText derives counts, tokens and sentiment from a text body.
func ParseText(content string) *domain.TextMetadata {
	return &domain.TextMetadata{
		WordCount: len(strings.Fields(content)),
		CharCount: utf8.RuneCountInString(content),
		Mentions:  findAll(mentionPattern, content),
		Hashtags:  findAll(hashtagPattern, content),
		URLs:      findAll(urlPattern, content),
		Commands:  findAll(commandPattern, content),
		Sentiment: EstimateSentiment(content),
	}
}

// findAll never returns nil so empty token lists encode as [].
func findAll(re *regexp.Regexp, s string) []string {
	matches := re.FindAllString(s, -1)
	if matches == nil {
		return []string{}
	}
	return matches
}

// EstimateSentiment counts how many keywords of each set occur in content
// (case-insensitive substring match). Ties are neutral.
func EstimateSentiment(content string) domain.Sentiment {
	lower := strings.ToLower(content)
	pos := countContained(lower, positiveWords)
	neg := countContained(lower, negativeWords)

	switch {
	case pos > neg:
		return domain.SentimentPositive
	case neg > pos:
		return domain.SentimentNegative
	default:
		return domain.SentimentNeutral
	}
}

func countContained(s string, words []string) int {
	n := 0
	for _, w := range words {
		if strings.Contains(s, w) {
			n++
		}
	}
	return n
}

// IsValidType reports whether t is a supported message type.
func IsValidType(t domain.MessageType) bool {
	return domain.IsSupported(t)
}

// ReplyOptions tune FormatReply.
type ReplyOptions struct {
	Type     string
	Priority string
	Extra    map[string]any
}

// FormatReply wraps reply text with delivery metadata.
func (e *Extractor) FormatReply(to, content string, opts ReplyOptions) domain.ReplyIntent {
	if opts.Type == "" {
		opts.Type = "text"
	}
	if opts.Priority == "" {
		opts.Priority = "normal"
	}
	options := make(map[string]any, len(opts.Extra))
	for k, v := range opts.Extra {
		options[k] = v
	}
	return domain.ReplyIntent{
		To:      to,
		Content: content,
		Type:    opts.Type,
		Metadata: map[string]any{
			"timestamp": e.now(),
			"priority":  opts.Priority,
			"channel":   e.channel,
		},
		Options: options,
	}
}
