package api

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/kalambet/huddle/internal/ingest"
	"github.com/kalambet/huddle/internal/storage"
)

type ingestDocumentRequest struct {
	Title   string `json:"title"`
	Type    string `json:"type"`    // "text" (default), "file", or "url"
	Content string `json:"content"` // raw text, or base64 bytes when type is "file"
	URL     string `json:"url"`
}

// handleIngestDocument accepts a reference document, extracts and chunks its
// text, stores the chunks, and queues them for embedding.
func handleIngestDocument(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxUploadBodySize)
		var req ingestDocumentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.Content == "" && req.URL == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "at least one of content or url is required")
			return
		}
		if req.Type == "" {
			req.Type = "text"
		}

		var raw []byte
		source := req.Type
		switch {
		case req.Type == "url" && req.URL != "":
			body, err := fetchURL(r.Context(), deps.HTTPClient, req.URL)
			if err != nil {
				httpError(w, http.StatusBadGateway, "api_error", "failed to fetch url: %v", err)
				return
			}
			raw = body
			source = req.URL
			if req.Title == "" {
				req.Title = req.URL
			}

		case req.Type == "file":
			decoded, err := base64.StdEncoding.DecodeString(req.Content)
			if err != nil {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid base64 content")
				return
			}
			raw = decoded

		default:
			raw = []byte(req.Content)
		}

		text, err := ingest.ExtractText(raw)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "failed to extract text: %v", err)
			return
		}

		pieces := ingest.Chunk(text, 0)
		if len(pieces) == 0 {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "document contains no text")
			return
		}

		documentID := uuid.NewString()
		chunks := make([]storage.DocumentChunk, len(pieces))
		for i, piece := range pieces {
			chunks[i] = storage.DocumentChunk{
				OwnerID:    deps.OwnerID,
				DocumentID: documentID,
				Title:      req.Title,
				Source:     source,
				Content:    piece,
				Seq:        i,
			}
		}
		if err := deps.Store.SaveDocumentChunks(chunks); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to save document: %v", err)
			return
		}

		job, err := ingest.NewEmbedDocumentJob(documentID)
		if err == nil {
			err = deps.Store.EnqueueJob(job)
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to enqueue job: %v", err)
			return
		}

		w.WriteHeader(http.StatusCreated)
		writeJSON(w, map[string]any{
			"id":     documentID,
			"chunks": len(chunks),
			"status": "queued",
		})
	}
}

func fetchURL(ctx context.Context, client *http.Client, url string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, errors.New("url returned status " + resp.Status)
	}
	return io.ReadAll(io.LimitReader(resp.Body, maxURLFetchSize))
}

func handleListDocuments(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		docs, err := deps.Store.ListDocuments(deps.OwnerID)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list documents: %v", err)
			return
		}

		type documentResponse struct {
			ID         string    `json:"id"`
			Title      string    `json:"title"`
			Source     string    `json:"source"`
			ChunkCount int       `json:"chunk_count"`
			CreatedAt  time.Time `json:"created_at"`
		}
		resp := make([]documentResponse, 0, len(docs))
		for _, d := range docs {
			resp = append(resp, documentResponse{
				ID:         d.ID,
				Title:      d.Title,
				Source:     d.Source,
				ChunkCount: d.ChunkCount,
				CreatedAt:  d.CreatedAt,
			})
		}
		writeJSON(w, resp)
	}
}

func handleDeleteDocument(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		vectorIDs, err := deps.Store.DeleteDocument(id)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "document not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to delete document: %v", err)
			return
		}

		if deps.Vectors != nil {
			for _, vid := range vectorIDs {
				if err := deps.Vectors.Delete(vid); err != nil {
					deps.Logger.Warn("failed to delete document vector", "vector_id", vid, "error", err)
				}
			}
		}

		writeJSON(w, map[string]string{"status": "deleted"})
	}
}
