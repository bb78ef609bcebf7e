package template

import (
	"strings"

	"chatpipe/internal/domain"
)

var greetingKeywords = []string{
	"hi", "hello", "hey", "good morning", "good afternoon", "good evening",
	"你好", "您好", "早上好", "下午好", "晚上好",
}

var helpKeywords = []string{
	"help", "help me", "what can you do", "how to", "command", "commands",
	"功能", "帮助", "能做什么",
}

// Select picks a template key: greeting, then help, then media, then default.
// Keyword matching is a case-insensitive substring test.
func Select(msg domain.InboundMessage) string {
	content := strings.ToLower(msg.Content)
	switch {
	case IsGreeting(content):
		return KeyGreeting
	case IsHelpRequest(content):
		return KeyHelp
	case domain.IsMedia(msg.Type):
		return KeyMedia
	default:
		return KeyDefault
	}
}

// IsGreeting reports whether content contains a greeting keyword.
func IsGreeting(content string) bool {
	return containsAny(strings.ToLower(content), greetingKeywords)
}

// IsHelpRequest reports whether content contains a help keyword.
func IsHelpRequest(content string) bool {
	return containsAny(strings.ToLower(content), helpKeywords)
}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}
