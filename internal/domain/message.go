package domain

import (
	"encoding/json"
	"time"
)

// MessageType classifies an inbound message.
type MessageType string

const (
	TypeText     MessageType = "text"
	TypeImage    MessageType = "image"
	TypeDocument MessageType = "document"
	TypeAudio    MessageType = "audio"
	TypeVideo    MessageType = "video"
	TypeLocation MessageType = "location"
	TypeContact  MessageType = "contact"
	TypeSticker  MessageType = "sticker"
	TypeUnknown  MessageType = "unknown"
)

// SupportedTypes lists every message type the pipeline understands.
var SupportedTypes = []MessageType{
	TypeText, TypeImage, TypeDocument, TypeAudio,
	TypeVideo, TypeLocation, TypeContact, TypeSticker,
}

// IsSupported reports whether t is one of SupportedTypes.
func IsSupported(t MessageType) bool {
	for _, s := range SupportedTypes {
		if s == t {
			return true
		}
	}
	return false
}

// IsMedia reports whether t carries a media payload (image, document, audio, video).
func IsMedia(t MessageType) bool {
	switch t {
	case TypeImage, TypeDocument, TypeAudio, TypeVideo:
		return true
	}
	return false
}

// RawMessage is a message as delivered by a connector, before normalization.
// Only ID and From are required; everything else has a documented default.
type RawMessage struct {
	ID        string         `json:"id"`
	From      string         `json:"from"`
	Type      MessageType    `json:"type,omitempty"`
	Content   string         `json:"content,omitempty"`
	Timestamp time.Time      `json:"timestamp,omitzero"`
	MediaURL  string         `json:"mediaUrl,omitempty"`
	Extra     map[string]any `json:"-"` // any other fields of the connector payload
}

var rawKnownFields = map[string]bool{
	"id": true, "from": true, "type": true, "content": true, "timestamp": true, "mediaUrl": true,
}

// UnmarshalJSON decodes the known fields and keeps every other field in Extra.
func (r *RawMessage) UnmarshalJSON(data []byte) error {
	type plain RawMessage
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	var all map[string]any
	if err := json.Unmarshal(data, &all); err != nil {
		return err
	}
	for k, v := range all {
		if rawKnownFields[k] {
			continue
		}
		if p.Extra == nil {
			p.Extra = make(map[string]any)
		}
		p.Extra[k] = v
	}
	*r = RawMessage(p)
	return nil
}

// MarshalJSON writes the known fields and flattens Extra next to them.
func (r RawMessage) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(r.Extra)+6)
	for k, v := range r.Extra {
		out[k] = v
	}
	out["id"] = r.ID
	out["from"] = r.From
	if r.Type != "" {
		out["type"] = r.Type
	}
	if r.Content != "" {
		out["content"] = r.Content
	}
	if !r.Timestamp.IsZero() {
		out["timestamp"] = r.Timestamp
	}
	if r.MediaURL != "" {
		out["mediaUrl"] = r.MediaURL
	}
	return json.Marshal(out)
}

// InboundMessage is a normalized message. Treat it as immutable: the router
// works on a copy.
type InboundMessage struct {
	ID        string      `json:"id"`
	From      string      `json:"from"`
	Type      MessageType `json:"type"`
	Content   string      `json:"content"`
	Timestamp time.Time   `json:"timestamp"`
	MediaURL  string      `json:"mediaUrl,omitempty"`
	Metadata  Metadata    `json:"metadata"`
}

// Text returns the text metadata, or nil for non-text messages.
func (m InboundMessage) Text() *TextMetadata {
	md, _ := m.Metadata.(*TextMetadata)
	return md
}

// Media returns the media metadata, or nil.
func (m InboundMessage) Media() *MediaMetadata {
	md, _ := m.Metadata.(*MediaMetadata)
	return md
}

// Location returns the location metadata, or nil.
func (m InboundMessage) Location() *LocationMetadata {
	md, _ := m.Metadata.(*LocationMetadata)
	return md
}

// Contact returns the contact metadata, or nil.
func (m InboundMessage) Contact() *ContactMetadata {
	md, _ := m.Metadata.(*ContactMetadata)
	return md
}

// Metadata is the type-specific record derived from a message.
// Its concrete type is determined solely by the message type.
type Metadata interface {
	metadataKind() string
}

// Sentiment is a coarse keyword-based label.
type Sentiment string

const (
	SentimentPositive Sentiment = "positive"
	SentimentNegative Sentiment = "negative"
	SentimentNeutral  Sentiment = "neutral"
)

type TextMetadata struct {
	WordCount int       `json:"wordCount"`
	CharCount int       `json:"charCount"`
	Mentions  []string  `json:"mentions"`
	Hashtags  []string  `json:"hashtags"`
	URLs      []string  `json:"urls"`
	Commands  []string  `json:"commands"`
	Sentiment Sentiment `json:"sentiment"`
}

// Dimensions of an image or video, when known.
type Dimensions struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// MediaMetadata describes an image or document. The pipeline never fetches
// the resource, so everything but URL and Type stays unknown.
type MediaMetadata struct {
	URL        string      `json:"url,omitempty"`
	Type       MessageType `json:"type"`
	Size       string      `json:"size"`
	Dimensions *Dimensions `json:"dimensions"`
	MimeType   *string     `json:"mimeType"`
	Caption    *string     `json:"caption"`
}

// LocationMetadata carries the address text; coordinates stay nil because no
// geocoding is performed.
type LocationMetadata struct {
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
	Address   string   `json:"address"`
	Accuracy  *float64 `json:"accuracy"`
}

type ContactMetadata struct {
	Name  string  `json:"name"`
	Phone *string `json:"phone"`
	Email *string `json:"email"`
}

// RawMetadata passes the original payload through for types without a
// dedicated record.
type RawMetadata struct {
	Raw RawMessage `json:"raw"`
}

func (*TextMetadata) metadataKind() string     { return "text" }
func (*MediaMetadata) metadataKind() string    { return "media" }
func (*LocationMetadata) metadataKind() string { return "location" }
func (*ContactMetadata) metadataKind() string  { return "contact" }
func (*RawMetadata) metadataKind() string      { return "raw" }

// ReplyIntent is an outbound message that has not been delivered yet.
// A nil *ReplyIntent means "no reply"; an intent with empty Content is still a reply.
type ReplyIntent struct {
	To                string         `json:"to"`
	Content           string         `json:"content"`
	Type              string         `json:"type"`
	Metadata          map[string]any `json:"metadata,omitempty"`
	Options           map[string]any `json:"options,omitempty"`
	OriginalMessageID string         `json:"originalMessageId,omitempty"`
}

// CommandRecord is one entry of the command execution log.
type CommandRecord struct {
	Command   string    `json:"command"`
	Args      []string  `json:"args"`
	From      string    `json:"from"`
	Timestamp time.Time `json:"timestamp"`
}
