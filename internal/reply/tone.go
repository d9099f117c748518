package reply

import (
	"context"
	"log/slog"
	"strings"

	"github.com/kalambet/huddle/internal/composer"
	"github.com/kalambet/huddle/internal/llm"
)

// ToneNone is the tone value meaning "leave the reply as-is".
const ToneNone = "none"

// Chatter is the slice of the LLM client tone adjustment needs.
type Chatter interface {
	Chat(ctx context.Context, req llm.ChatRequest) (string, error)
}

// ToneAdjuster rewrites a reply in a requested tone. It is single-attempt
// and fail-soft: any failure returns the original text unchanged.
type ToneAdjuster struct {
	client   Chatter
	model    string
	composer *composer.Composer
	logger   *slog.Logger

	// observe is invoked with the failure when an adjustment degrades to a
	// no-op, so callers can surface it without changing the contract.
	observe func(error)
}

// NewToneAdjuster creates a ToneAdjuster. observe may be nil.
func NewToneAdjuster(client Chatter, model string, c *composer.Composer, logger *slog.Logger, observe func(error)) *ToneAdjuster {
	if logger == nil {
		logger = slog.Default()
	}
	return &ToneAdjuster{client: client, model: model, composer: c, logger: logger, observe: observe}
}

// Adjust returns text rewritten in the given tone. Tone "none" returns text
// unchanged with no network call. Failures degrade to the original text.
func (t *ToneAdjuster) Adjust(ctx context.Context, text, tone string) string {
	if tone == ToneNone || tone == "" {
		return text
	}

	adjusted, err := t.client.Chat(ctx, llm.ChatRequest{
		Model:    t.model,
		Messages: t.composer.BuildToneMessages(text, tone),
	})
	if err != nil {
		t.logger.Warn("tone adjustment failed, keeping original reply", "tone", tone, "error", err)
		if t.observe != nil {
			t.observe(err)
		}
		return text
	}

	adjusted = strings.TrimSpace(adjusted)
	if adjusted == "" {
		return text
	}
	return adjusted
}
