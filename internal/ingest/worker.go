package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/kalambet/huddle/internal/retrieval"
	"github.com/kalambet/huddle/internal/storage"
)

// Job types processed by the worker.
const (
	JobEmbedInteraction = "embed_interaction"
	JobEmbedDocument    = "embed_document"
)

// JobStore abstracts the job queue and the rows the worker embeds.
type JobStore interface {
	ClaimNextJob(types []string) (*storage.Job, error)
	CompleteJob(id string) error
	FailJob(id string, errMsg string) error
	GetInteraction(id string) (storage.Interaction, error)
	SetInteractionVectorID(id, vectorID string) error
	ListDocumentChunks(documentID string) ([]storage.DocumentChunk, error)
	SetChunkVectorID(id, vectorID string) error
}

// ContentEmbedder generates embeddings for text.
type ContentEmbedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// VectorSink is the slice of the vector store the worker writes to. Delete
// removes the stale vector when an interaction is re-embedded.
type VectorSink interface {
	Insert(records []retrieval.Record) error
	Delete(id string) error
}

// Worker processes embedding jobs from the SQLite job queue.
type Worker struct {
	store    JobStore
	embedder ContentEmbedder
	vectors  VectorSink
	poll     time.Duration
	logger   *slog.Logger
}

// NewWorker creates a Worker with the given dependencies.
// If pollInterval is <= 0, it defaults to 500ms.
func NewWorker(store JobStore, embedder ContentEmbedder, vectors VectorSink, pollInterval time.Duration) *Worker {
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	return &Worker{
		store:    store,
		embedder: embedder,
		vectors:  vectors,
		poll:     pollInterval,
		logger:   slog.Default(),
	}
}

// Run polls for jobs until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		done, err := w.RunOnce(ctx)
		if err != nil {
			w.logger.Error("worker iteration failed", "error", err)
		}
		if done {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(w.poll):
		}
	}
}

// RunOnce claims and processes a single job.
// Returns true if a job was processed (regardless of success/failure).
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	job, err := w.store.ClaimNextJob([]string{JobEmbedInteraction, JobEmbedDocument})
	if err != nil {
		return false, fmt.Errorf("claiming job: %w", err)
	}
	if job == nil {
		return false, nil
	}

	if err := w.processJob(ctx, job); err != nil {
		w.logger.Warn("job failed", "job_id", job.ID, "type", job.Type, "error", err)
		if failErr := w.store.FailJob(job.ID, err.Error()); failErr != nil {
			w.logger.Error("failed to mark job as failed", "job_id", job.ID, "error", failErr)
		}
		return true, nil
	}

	if err := w.store.CompleteJob(job.ID); err != nil {
		return true, fmt.Errorf("completing job %s: %w", job.ID, err)
	}
	return true, nil
}

type embedPayload struct {
	InteractionID string `json:"interaction_id,omitempty"`
	DocumentID    string `json:"document_id,omitempty"`
}

// NewEmbedInteractionJob builds the queue entry for embedding one saved
// interaction.
func NewEmbedInteractionJob(interactionID string) (storage.Job, error) {
	payload, err := json.Marshal(embedPayload{InteractionID: interactionID})
	if err != nil {
		return storage.Job{}, fmt.Errorf("marshaling payload: %w", err)
	}
	return storage.Job{Type: JobEmbedInteraction, PayloadJSON: string(payload)}, nil
}

// NewEmbedDocumentJob builds the queue entry for embedding all chunks of an
// ingested document.
func NewEmbedDocumentJob(documentID string) (storage.Job, error) {
	payload, err := json.Marshal(embedPayload{DocumentID: documentID})
	if err != nil {
		return storage.Job{}, fmt.Errorf("marshaling payload: %w", err)
	}
	return storage.Job{Type: JobEmbedDocument, PayloadJSON: string(payload)}, nil
}

func (w *Worker) processJob(ctx context.Context, job *storage.Job) error {
	var payload embedPayload
	if err := json.Unmarshal([]byte(job.PayloadJSON), &payload); err != nil {
		return fmt.Errorf("parsing payload: %w", err)
	}

	switch job.Type {
	case JobEmbedInteraction:
		return w.embedInteraction(ctx, payload.InteractionID)
	case JobEmbedDocument:
		return w.embedDocument(ctx, payload.DocumentID)
	default:
		return fmt.Errorf("unknown job type %q", job.Type)
	}
}

func (w *Worker) embedInteraction(ctx context.Context, id string) error {
	interaction, err := w.store.GetInteraction(id)
	if err != nil {
		return fmt.Errorf("loading interaction %s: %w", id, err)
	}

	// The final reply supersedes the generated one in similarity payloads.
	text := interaction.ScreenshotText + "\n" + interaction.ReplyText()
	vec, err := w.embedder.Embed(ctx, text)
	if err != nil {
		return fmt.Errorf("embedding interaction: %w", err)
	}

	// A re-embed (final reply recorded) replaces the previous vector.
	if interaction.VectorID != "" {
		if err := w.vectors.Delete(interaction.VectorID); err != nil {
			w.logger.Warn("failed to delete stale vector", "vector_id", interaction.VectorID, "error", err)
		}
	}

	rec := retrieval.Record{
		ID:        uuid.NewString(),
		OwnerID:   interaction.OwnerID,
		SourceID:  interaction.ID,
		Kind:      retrieval.KindHuddle,
		Text:      text,
		Embedding: vec,
		CreatedAt: time.Now().UTC(),
	}
	if err := w.vectors.Insert([]retrieval.Record{rec}); err != nil {
		return fmt.Errorf("inserting vector: %w", err)
	}

	if err := w.store.SetInteractionVectorID(interaction.ID, rec.ID); err != nil {
		return fmt.Errorf("updating vector_id: %w", err)
	}
	return nil
}

func (w *Worker) embedDocument(ctx context.Context, documentID string) error {
	chunks, err := w.store.ListDocumentChunks(documentID)
	if err != nil {
		return fmt.Errorf("loading chunks for %s: %w", documentID, err)
	}

	// Re-runs after a partial failure skip chunks already embedded.
	var pending []storage.DocumentChunk
	var texts []string
	for _, c := range chunks {
		if c.VectorID != "" {
			continue
		}
		pending = append(pending, c)
		texts = append(texts, c.Content)
	}
	if len(pending) == 0 {
		return nil
	}

	vecs, err := w.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return fmt.Errorf("embedding chunks: %w", err)
	}
	if len(vecs) != len(pending) {
		return fmt.Errorf("embedding count mismatch: %d vectors for %d chunks", len(vecs), len(pending))
	}

	now := time.Now().UTC()
	records := make([]retrieval.Record, len(pending))
	for i, c := range pending {
		records[i] = retrieval.Record{
			ID:        uuid.NewString(),
			OwnerID:   c.OwnerID,
			SourceID:  c.ID,
			Kind:      retrieval.KindDocument,
			Text:      c.Content,
			Embedding: vecs[i],
			CreatedAt: now,
		}
	}
	if err := w.vectors.Insert(records); err != nil {
		return fmt.Errorf("inserting vectors: %w", err)
	}

	for i, c := range pending {
		if err := w.store.SetChunkVectorID(c.ID, records[i].ID); err != nil {
			return fmt.Errorf("updating vector_id for chunk %s: %w", c.ID, err)
		}
	}
	return nil
}
