// Package vision extracts conversation text from chat screenshots using a
// multimodal model. Extraction failures are reported in-band through Result
// rather than as call errors, so downstream reply generation can proceed
// with whatever text is available.
package vision

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kalambet/huddle/internal/llm"
)

const extractPrompt = `Extract all visible message text from this chat screenshot.
Transcribe the conversation in order, one message per line, prefixed with the
sender name when visible (e.g. "Alex: running late, be there in 10").
Include only the message content; skip timestamps, UI labels and reactions.
If no message text is readable, respond with exactly: NO_TEXT_FOUND`

// noTextMarker is what the model answers when the screenshot holds no
// readable conversation.
const noTextMarker = "NO_TEXT_FOUND"

// Result carries the outcome of a text extraction. Success is false only
// when the extraction itself failed; a screenshot with no readable text is a
// legitimate result with Success=true and empty Text. Err describes the
// failure for logging.
type Result struct {
	Text    string
	Success bool
	Err     error
}

// Chatter is the slice of the LLM client vision needs.
type Chatter interface {
	Chat(ctx context.Context, req llm.ChatRequest) (string, error)
}

// Extractor runs OCR-style text extraction through a multimodal chat model.
type Extractor struct {
	client  Chatter
	model   string
	timeout time.Duration
	logger  *slog.Logger
}

// NewExtractor creates an Extractor using the given multimodal model.
func NewExtractor(client Chatter, model string, timeout time.Duration, logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{client: client, model: model, timeout: timeout, logger: logger}
}

// ExtractText reads conversation text out of the screenshot bytes. It always
// returns a Result; a failed model call or unreadable image yields
// Success=false, never an error to the caller.
func (e *Extractor) ExtractText(ctx context.Context, image []byte, mimeType string) Result {
	if len(image) == 0 {
		return Result{Success: false, Err: fmt.Errorf("empty image")}
	}
	if mimeType == "" {
		mimeType = "image/png"
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	dataURL := fmt.Sprintf("data:%s;base64,%s", mimeType, base64.StdEncoding.EncodeToString(image))

	text, err := e.client.Chat(ctx, llm.ChatRequest{
		Model: e.model,
		Messages: []llm.Message{
			{
				Role: "user",
				Content: []any{
					llm.TextPart{Type: "text", Text: extractPrompt},
					llm.ImagePart{Type: "image_url", ImageURL: llm.ImageURL{URL: dataURL}},
				},
			},
		},
	})
	if err != nil {
		e.logger.Warn("screenshot text extraction failed", "error", err)
		return Result{Success: false, Err: err}
	}

	text = strings.TrimSpace(text)
	if text == "" || strings.Contains(text, noTextMarker) {
		// No readable text is a valid outcome, not a failure; reply
		// generation proceeds from the draft alone.
		return Result{Success: true}
	}
	return Result{Text: text, Success: true}
}
