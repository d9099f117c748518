// Package api exposes the huddle server's HTTP surface: the reply
// generation stream, tone adjustment, OCR, and interaction/document
// management.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/huddle/internal/composer"
	"github.com/kalambet/huddle/internal/llm"
	"github.com/kalambet/huddle/internal/retrieval"
	"github.com/kalambet/huddle/internal/storage"
	"github.com/kalambet/huddle/internal/vision"
)

const maxRequestBodySize = 1 << 20  // 1MB
const maxUploadBodySize = 20 << 20  // 20MB, screenshots and documents
const maxURLFetchSize = 5 << 20     // 5MB

// ChatClient is the slice of the LLM client the handlers need.
type ChatClient interface {
	Chat(ctx context.Context, req llm.ChatRequest) (string, error)
	ChatStream(ctx context.Context, req llm.ChatRequest, onDelta func(string)) (string, error)
}

// ContextRetriever finds context for a generation request.
type ContextRetriever interface {
	Retrieve(ctx context.Context, query, ownerID string) retrieval.Context
}

// TextExtractor runs OCR on screenshot bytes.
type TextExtractor interface {
	ExtractText(ctx context.Context, image []byte, mimeType string) vision.Result
}

// ToneAdjuster rewrites a reply in a requested tone, fail-soft.
type ToneAdjuster interface {
	Adjust(ctx context.Context, text, tone string) string
}

// VectorDeleter abstracts vector store deletion for cleanup on deletes.
// Optional; when nil, vector cleanup is skipped.
type VectorDeleter interface {
	Delete(id string) error
}

// Deps carries everything the handlers need.
type Deps struct {
	Store     *storage.Store
	Retriever ContextRetriever
	Composer  *composer.Composer
	LLM       ChatClient
	Vision    TextExtractor
	Tone      ToneAdjuster
	Vectors   VectorDeleter

	Model   string
	OwnerID string
	Token   string

	HTTPClient *http.Client
	Logger     *slog.Logger
}

// NewHandler builds the authenticated API router.
func NewHandler(deps Deps) http.Handler {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.HTTPClient == nil {
		deps.HTTPClient = &http.Client{}
	}

	r := chi.NewRouter()

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, map[string]string{"status": "ok"})
	})

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))

		r.Post("/v1/replies/stream", handleStreamReply(deps))
		r.Post("/v1/replies/tone", handleAdjustTone(deps))
		r.Post("/v1/ocr", handleOCR(deps))

		r.Post("/v1/interactions", handleSaveInteraction(deps))
		r.Get("/v1/interactions", handleListInteractions(deps))
		r.Get("/v1/interactions/{id}", handleGetInteraction(deps))
		r.Patch("/v1/interactions/{id}/final-reply", handleUpdateFinalReply(deps))
		r.Delete("/v1/interactions/{id}", handleDeleteInteraction(deps))

		r.Post("/v1/documents", handleIngestDocument(deps))
		r.Get("/v1/documents", handleListDocuments(deps))
		r.Delete("/v1/documents/{id}", handleDeleteDocument(deps))
	})

	return r
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

// parseIntParam reads a query parameter as int with a default and an
// optional maximum (0 means no maximum).
func parseIntParam(r *http.Request, name string, def, max int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return def
	}
	if max > 0 && v > max {
		return max
	}
	return v
}
