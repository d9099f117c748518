package api

import (
	"encoding/json"
	"net/http"

	"github.com/kalambet/huddle/internal/composer"
	"github.com/kalambet/huddle/internal/llm"
	"github.com/kalambet/huddle/internal/reply"
	"github.com/kalambet/huddle/internal/retrieval"
)

type streamReplyRequest struct {
	ScreenshotText    string              `json:"screenshot_text"`
	UserDraft         string              `json:"user_draft"`
	Tone              string              `json:"tone"`
	IsRegeneration    bool                `json:"is_regeneration"`
	PastHuddles       []reply.ContextItem `json:"past_huddles"`
	DocumentKnowledge []reply.ContextItem `json:"document_knowledge"`
}

// handleStreamReply is the server half of the generation stream protocol:
// it retrieves context (skipped on regeneration), emits one meta frame
// describing the context actually used, then token frames as the model
// streams.
func handleStreamReply(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		var req streamReplyRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.ScreenshotText == "" && req.UserDraft == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "screenshot_text or user_draft is required")
			return
		}

		flusher, ok := w.(http.Flusher)
		if !ok {
			httpError(w, http.StatusInternalServerError, "api_error", "streaming unsupported")
			return
		}

		var rc retrieval.Context
		addressTerms := composer.ExtractAddressTerms(req.ScreenshotText)
		sendMeta := false
		if req.IsRegeneration {
			// Retrieval is skipped; the client keeps the context it
			// supplied, so no meta frame is emitted.
			rc = contextFromItems(req.PastHuddles, req.DocumentKnowledge)
		} else {
			query := req.ScreenshotText + "\n" + req.UserDraft
			rc = deps.Retriever.Retrieve(r.Context(), query, deps.OwnerID)
			sendMeta = true
		}

		messages := deps.Composer.BuildGenerationMessages(composer.GenerationInput{
			ScreenshotText: req.ScreenshotText,
			UserDraft:      req.UserDraft,
			Tone:           req.Tone,
			Context:        rc,
			AddressTerms:   addressTerms,
		})

		w.Header().Set("Content-Type", "application/x-ndjson")
		w.Header().Set("Cache-Control", "no-cache")

		if sendMeta {
			meta := reply.MetaFrame{
				PastHuddles:       itemsFromChunks(rc.Huddles),
				DocumentKnowledge: itemsFromChunks(rc.Documents),
				AddressTerms:      addressTerms,
			}
			if !writeFrame(w, flusher, meta, deps) {
				return
			}
		}

		wroteToken := false
		_, err := deps.LLM.ChatStream(r.Context(), llm.ChatRequest{
			Model:    deps.Model,
			Messages: messages,
		}, func(delta string) {
			if writeFrame(w, flusher, reply.TokenFrame{Text: delta}, deps) {
				wroteToken = true
			}
		})
		if err != nil {
			deps.Logger.Error("generation stream failed", "error", err)
			if !sendMeta && !wroteToken {
				// Nothing sent yet, a proper error status is still possible.
				httpError(w, http.StatusBadGateway, "api_error", "generation failed: %v", err)
			}
			return
		}
	}
}

func writeFrame(w http.ResponseWriter, flusher http.Flusher, f reply.Frame, deps Deps) bool {
	b, err := reply.EncodeFrame(f)
	if err != nil {
		deps.Logger.Error("encoding frame failed", "error", err)
		return false
	}
	if _, err := w.Write(b); err != nil {
		return false
	}
	flusher.Flush()
	return true
}

func contextFromItems(huddles, documents []reply.ContextItem) retrieval.Context {
	return retrieval.Context{
		Huddles:   chunksFromItems(huddles),
		Documents: chunksFromItems(documents),
	}
}

func chunksFromItems(items []reply.ContextItem) []retrieval.ContextChunk {
	var chunks []retrieval.ContextChunk
	for _, it := range items {
		chunks = append(chunks, retrieval.ContextChunk{
			ID:        it.ID,
			SourceID:  it.SourceID,
			Text:      it.Text,
			Score:     it.Score,
			CreatedAt: it.CreatedAt,
		})
	}
	return chunks
}

func itemsFromChunks(chunks []retrieval.ContextChunk) []reply.ContextItem {
	items := make([]reply.ContextItem, 0, len(chunks))
	for _, ch := range chunks {
		items = append(items, reply.ContextItem{
			ID:        ch.ID,
			SourceID:  ch.SourceID,
			Text:      ch.Text,
			Score:     ch.Score,
			CreatedAt: ch.CreatedAt,
		})
	}
	return items
}

type adjustToneRequest struct {
	Text string `json:"text"`
	Tone string `json:"tone"`
}

func handleAdjustTone(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		var req adjustToneRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.Text == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "text is required")
			return
		}
		if req.Tone == "" {
			req.Tone = reply.ToneNone
		}

		adjusted := deps.Tone.Adjust(r.Context(), req.Text, req.Tone)
		writeJSON(w, map[string]string{"text": adjusted})
	}
}
