package template

import (
	"testing"

	"chatpipe/internal/domain"
)

func TestSelect(t *testing.T) {
	tests := []struct {
		name    string
		typ     domain.MessageType
		content string
		want    string
	}{
		{"greeting", domain.TypeText, "Hello there", KeyGreeting},
		{"chinese greeting", domain.TypeText, "你好", KeyGreeting},
		{"greeting beats help", domain.TypeText, "hey, help me", KeyGreeting},
		{"help", domain.TypeText, "what can you do?", KeyHelp},
		{"help phrase", domain.TypeText, "list COMMANDS", KeyHelp},
		{"image", domain.TypeImage, "", KeyMedia},
		{"video", domain.TypeVideo, "", KeyMedia},
		{"greeting caption on image", domain.TypeImage, "good morning", KeyGreeting},
		{"location", domain.TypeLocation, "Main St", KeyDefault},
		{"plain", domain.TypeText, "order status", KeyDefault},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := domain.InboundMessage{ID: "m", From: "+1", Type: tt.typ, Content: tt.content}
			if got := Select(msg); got != tt.want {
				t.Errorf("Select(%q, %q) = %q, want %q", tt.typ, tt.content, got, tt.want)
			}
		})
	}
}

func TestIsGreeting_SubstringMatch(t *testing.T) {
	// matching is a plain substring test, so "this" contains "hi"
	if !IsGreeting("this") {
		t.Error("expected substring match")
	}
	if IsGreeting("ok") {
		t.Error("unexpected match")
	}
}
