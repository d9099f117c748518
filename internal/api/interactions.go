package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/huddle/internal/ingest"
	"github.com/kalambet/huddle/internal/storage"
)

type saveInteractionRequest struct {
	ScreenshotText string `json:"screenshot_text"`
	UserDraft      string `json:"user_draft"`
	GeneratedReply string `json:"generated_reply"`
	FinalReply     string `json:"final_reply"`
	Tone           string `json:"tone"`
}

type interactionResponse struct {
	ID             string    `json:"id"`
	ScreenshotText string    `json:"screenshot_text"`
	UserDraft      string    `json:"user_draft"`
	GeneratedReply string    `json:"generated_reply"`
	FinalReply     string    `json:"final_reply,omitempty"`
	Tone           string    `json:"tone"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

func toInteractionResponse(i storage.Interaction) interactionResponse {
	return interactionResponse{
		ID:             i.ID,
		ScreenshotText: i.ScreenshotText,
		UserDraft:      i.UserDraft,
		GeneratedReply: i.GeneratedReply,
		FinalReply:     i.FinalReply,
		Tone:           i.Tone,
		CreatedAt:      i.CreatedAt,
		UpdatedAt:      i.UpdatedAt,
	}
}

// handleSaveInteraction persists one screenshot-to-reply episode and queues
// it for embedding so future retrieval can find it.
func handleSaveInteraction(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		var req saveInteractionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.GeneratedReply == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "generated_reply is required")
			return
		}

		saved, err := deps.Store.SaveInteraction(storage.Interaction{
			OwnerID:        deps.OwnerID,
			ScreenshotText: req.ScreenshotText,
			UserDraft:      req.UserDraft,
			GeneratedReply: req.GeneratedReply,
			FinalReply:     req.FinalReply,
			Tone:           req.Tone,
		})
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to save interaction: %v", err)
			return
		}

		job, err := ingest.NewEmbedInteractionJob(saved.ID)
		if err == nil {
			err = deps.Store.EnqueueJob(job)
		}
		if err != nil {
			// The row is saved; embedding will be missing until re-queued.
			deps.Logger.Warn("failed to enqueue embedding job", "interaction_id", saved.ID, "error", err)
		}

		w.WriteHeader(http.StatusCreated)
		writeJSON(w, toInteractionResponse(saved))
	}
}

func handleListInteractions(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := parseIntParam(r, "limit", 20, 100)
		offset := parseIntParam(r, "offset", 0, 0)

		interactions, err := deps.Store.ListInteractions(deps.OwnerID, limit, offset)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list interactions: %v", err)
			return
		}

		resp := make([]interactionResponse, 0, len(interactions))
		for _, i := range interactions {
			resp = append(resp, toInteractionResponse(i))
		}
		writeJSON(w, resp)
	}
}

func handleGetInteraction(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		interaction, err := deps.Store.GetInteraction(id)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "interaction not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get interaction: %v", err)
			return
		}
		writeJSON(w, toInteractionResponse(interaction))
	}
}

type updateFinalReplyRequest struct {
	FinalReply string `json:"final_reply"`
	Tone       string `json:"tone"`
}

func handleUpdateFinalReply(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		var req updateFinalReplyRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.FinalReply == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "final_reply is required")
			return
		}
		if req.Tone == "" {
			req.Tone = "none"
		}

		err := deps.Store.UpdateFinalReply(id, req.FinalReply, req.Tone)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "interaction not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to update final reply: %v", err)
			return
		}

		// The final reply supersedes the generated one in similarity
		// payloads, so the interaction is embedded again.
		job, err := ingest.NewEmbedInteractionJob(id)
		if err == nil {
			err = deps.Store.EnqueueJob(job)
		}
		if err != nil {
			deps.Logger.Warn("failed to enqueue re-embedding job", "interaction_id", id, "error", err)
		}

		writeJSON(w, map[string]string{"status": "updated"})
	}
}

func handleDeleteInteraction(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		interaction, err := deps.Store.GetInteraction(id)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "interaction not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to load interaction: %v", err)
			return
		}

		if err := deps.Store.DeleteInteraction(id); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to delete interaction: %v", err)
			return
		}

		if deps.Vectors != nil && interaction.VectorID != "" {
			if err := deps.Vectors.Delete(interaction.VectorID); err != nil {
				deps.Logger.Warn("failed to delete interaction vector", "vector_id", interaction.VectorID, "error", err)
			}
		}

		writeJSON(w, map[string]string{"status": "deleted"})
	}
}
