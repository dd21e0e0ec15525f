// Package types defines the shared types used across all Fateweaver packages.
//
// These types form the lingua franca between providers, agents, the retriever,
// and the coordinator. They are intentionally minimal: each package defines its
// own domain types, but cross-cutting data structures live here to avoid
// circular imports.
package types

import (
	"fmt"
	"unicode"
)

// Lang identifies one of the two supported interaction languages.
type Lang string

const (
	// LangCN is Simplified Chinese.
	LangCN Lang = "cn"

	// LangEN is English.
	LangEN Lang = "en"
)

// IsValid reports whether the language is one of the supported values.
func (l Lang) IsValid() bool {
	return l == LangCN || l == LangEN
}

// ParseLang converts a wire-format language code into a [Lang].
// An empty string resolves to [LangCN], the engine default.
func ParseLang(s string) (Lang, error) {
	switch Lang(s) {
	case LangCN, LangEN:
		return Lang(s), nil
	case "":
		return LangCN, nil
	default:
		return "", fmt.Errorf("types: unsupported language %q (want cn or en)", s)
	}
}

// DetectLang guesses the language of free text. Any Han codepoint marks the
// text as Chinese; everything else is treated as English. Mixed input is
// deliberately biased toward Chinese because world packs address a primarily
// Chinese-speaking audience with English proper nouns sprinkled in.
func DetectLang(s string) Lang {
	for _, r := range s {
		if unicode.Is(unicode.Han, r) {
			return LangCN
		}
	}
	return LangEN
}

// Text is a localized string pair. World packs carry every player-visible
// string in both languages; code never concatenates raw CN/EN fields directly
// but resolves through [Text.In].
type Text struct {
	// CN is the Simplified Chinese rendition.
	CN string `json:"cn,omitempty"`

	// EN is the English rendition.
	EN string `json:"en,omitempty"`
}

// In resolves the text for the requested language. A missing rendition falls
// back to Chinese, and to English when the Chinese side is empty too, so a
// half-translated pack degrades to readable output instead of blank strings.
func (t Text) In(lang Lang) string {
	if lang == LangEN && t.EN != "" {
		return t.EN
	}
	if t.CN != "" {
		return t.CN
	}
	return t.EN
}

// IsZero reports whether both renditions are empty.
func (t Text) IsZero() bool {
	return t.CN == "" && t.EN == ""
}

// Conversation roles for [Message].
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message represents a single message in an LLM conversation history.
type Message struct {
	// Role is one of "system", "user", or "assistant".
	Role string

	// Content is the text content of the message.
	Content string

	// Name is an optional participant name (for multi-speaker contexts).
	Name string
}

// ModelCapabilities describes what an LLM model supports.
type ModelCapabilities struct {
	// ContextWindow is the maximum token count for input + output.
	ContextWindow int

	// MaxOutputTokens is the maximum tokens the model can generate in one completion.
	MaxOutputTokens int

	// SupportsStreaming indicates the model supports streaming completions.
	SupportsStreaming bool
}
