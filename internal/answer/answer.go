// Package answer produces replies to visitor questions on behalf of the
// organisation the kiosk represents.
package answer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Request is one recognized visitor question.
type Request struct {
	Text     string
	Language string
}

// Response is the reply and the language it was written in.
type Response struct {
	Reply    string
	Language string
}

// Answerer answers a single question.
type Answerer interface {
	Answer(ctx context.Context, req Request) (Response, error)
}

// DefaultInstructions are the strict per-language answer rules.
var DefaultInstructions = map[string]string{
	"en": "Always answer ONLY in English. Do not mix Hindi or Marathi.",
	"hi": "हमेशा केवल हिंदी में उत्तर दीजिए। अंग्रेज़ी का उपयोग बिल्कुल न करें।",
	"mr": "नेहमी फक्त मराठीत उत्तर द्या. इंग्रजी अजिबात वापरू नका.",
}

var languageNames = map[string]string{
	"en": "English",
	"hi": "Hindi",
	"mr": "Marathi",
}

// Config controls answerer construction.
type Config struct {
	Provider     string
	APIKey       string
	BaseURL      string
	Model        string
	Timeout      time.Duration
	Profile      string
	Instructions map[string]string
}

func NewAnswerer(cfg Config) (Answerer, error) {
	provider := strings.ToLower(strings.TrimSpace(cfg.Provider))
	if provider == "" {
		provider = "auto"
	}
	prompts := NewPromptBuilder(cfg.Profile, cfg.Instructions)

	switch provider {
	case "auto":
		// Prefer the real model when a key is present; otherwise run offline.
		if strings.TrimSpace(cfg.APIKey) != "" {
			return NewOpenAIAnswerer(cfg.APIKey, cfg.Model, cfg.BaseURL, cfg.Timeout, prompts)
		}
		return NewMockAnswerer(), nil
	case "openai":
		if strings.TrimSpace(cfg.APIKey) == "" {
			return nil, errors.New("OPENAI_API_KEY is required for the openai provider")
		}
		return NewOpenAIAnswerer(cfg.APIKey, cfg.Model, cfg.BaseURL, cfg.Timeout, prompts)
	case "mock":
		return NewMockAnswerer(), nil
	default:
		return nil, fmt.Errorf("unsupported answer provider %q", cfg.Provider)
	}
}

// NormalizeLanguage maps a request language to en, hi or mr.
func NormalizeLanguage(lang string) string {
	v := strings.ToLower(strings.TrimSpace(lang))
	if i := strings.IndexAny(v, "-_"); i > 0 {
		v = v[:i]
	}
	if _, ok := languageNames[v]; ok {
		return v
	}
	return "en"
}

// PromptBuilder renders the system instruction for a language.
type PromptBuilder struct {
	profile      string
	instructions map[string]string
}

func NewPromptBuilder(profile string, instructions map[string]string) PromptBuilder {
	merged := make(map[string]string, len(DefaultInstructions))
	for k, v := range DefaultInstructions {
		merged[k] = v
	}
	for k, v := range instructions {
		if strings.TrimSpace(v) != "" {
			merged[NormalizeLanguage(k)] = strings.TrimSpace(v)
		}
	}
	return PromptBuilder{profile: strings.TrimSpace(profile), instructions: merged}
}

func (b PromptBuilder) System(lang string) string {
	lang = NormalizeLanguage(lang)
	var sb strings.Builder
	if b.profile != "" {
		sb.WriteString("You are an AI assistant representing the following organisation:\n")
		sb.WriteString(b.profile)
		sb.WriteString("\n\n")
	} else {
		sb.WriteString("You are an AI assistant answering visitor questions at an information kiosk.\n\n")
	}
	fmt.Fprintf(&sb, "Always answer strictly in %s. Do not mix with any other language.", languageNames[lang])
	if rule := b.instructions[lang]; rule != "" {
		sb.WriteString("\n")
		sb.WriteString(rule)
	}
	return sb.String()
}
