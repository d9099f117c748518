package ingest

import (
	"context"
	"errors"
	"testing"

	"github.com/kalambet/huddle/internal/retrieval"
	"github.com/kalambet/huddle/internal/storage"
)

// fakeJobStore drives the worker with one claimable job and records what
// the worker did with it.
type fakeJobStore struct {
	job          *storage.Job
	interactions map[string]storage.Interaction
	chunks       map[string][]storage.DocumentChunk

	completed      []string
	failed         map[string]string
	vectorIDs      map[string]string
	chunkVectorIDs map[string]string
}

func newFakeJobStore() *fakeJobStore {
	return &fakeJobStore{
		interactions:   make(map[string]storage.Interaction),
		chunks:         make(map[string][]storage.DocumentChunk),
		failed:         make(map[string]string),
		vectorIDs:      make(map[string]string),
		chunkVectorIDs: make(map[string]string),
	}
}

func (f *fakeJobStore) ClaimNextJob(types []string) (*storage.Job, error) {
	j := f.job
	f.job = nil
	return j, nil
}

func (f *fakeJobStore) CompleteJob(id string) error {
	f.completed = append(f.completed, id)
	return nil
}

func (f *fakeJobStore) FailJob(id string, errMsg string) error {
	f.failed[id] = errMsg
	return nil
}

func (f *fakeJobStore) GetInteraction(id string) (storage.Interaction, error) {
	i, ok := f.interactions[id]
	if !ok {
		return storage.Interaction{}, storage.ErrNotFound
	}
	return i, nil
}

func (f *fakeJobStore) SetInteractionVectorID(id, vectorID string) error {
	f.vectorIDs[id] = vectorID
	return nil
}

func (f *fakeJobStore) ListDocumentChunks(documentID string) ([]storage.DocumentChunk, error) {
	return f.chunks[documentID], nil
}

func (f *fakeJobStore) SetChunkVectorID(id, vectorID string) error {
	f.chunkVectorIDs[id] = vectorID
	return nil
}

type fakeEmbedder struct {
	err error
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	return []float32{float32(len(text))}, nil
}

func (f *fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = []float32{float32(len(t))}
	}
	return out, nil
}

type fakeInserter struct {
	records []retrieval.Record
	deleted []string
	err     error
}

func (f *fakeInserter) Insert(records []retrieval.Record) error {
	if f.err != nil {
		return f.err
	}
	f.records = append(f.records, records...)
	return nil
}

func (f *fakeInserter) Delete(id string) error {
	f.deleted = append(f.deleted, id)
	return nil
}

func TestRunOnce_NoJob(t *testing.T) {
	w := NewWorker(newFakeJobStore(), &fakeEmbedder{}, &fakeInserter{}, 0)

	done, err := w.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if done {
		t.Error("done = true with empty queue")
	}
}

func TestRunOnce_EmbedInteraction(t *testing.T) {
	store := newFakeJobStore()
	store.interactions["i1"] = storage.Interaction{
		ID:             "i1",
		OwnerID:        "local",
		ScreenshotText: "Alex: ping",
		GeneratedReply: "pong",
		FinalReply:     "pong!",
	}
	job, err := NewEmbedInteractionJob("i1")
	if err != nil {
		t.Fatalf("NewEmbedInteractionJob: %v", err)
	}
	job.ID = "job1"
	store.job = &job

	inserter := &fakeInserter{}
	w := NewWorker(store, &fakeEmbedder{}, inserter, 0)

	done, err := w.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if !done {
		t.Fatal("done = false, want job processed")
	}

	if len(inserter.records) != 1 {
		t.Fatalf("inserted %d records, want 1", len(inserter.records))
	}
	rec := inserter.records[0]
	if rec.Kind != retrieval.KindHuddle || rec.SourceID != "i1" || rec.OwnerID != "local" {
		t.Errorf("record = %+v", rec)
	}
	// Final reply wins over generated reply in the embedded payload.
	if rec.Text != "Alex: ping\npong!" {
		t.Errorf("Text = %q", rec.Text)
	}
	if store.vectorIDs["i1"] != rec.ID {
		t.Errorf("vector_id not linked: %q", store.vectorIDs["i1"])
	}
	if len(store.completed) != 1 || store.completed[0] != "job1" {
		t.Errorf("completed = %v", store.completed)
	}
}

func TestRunOnce_ReembedReplacesStaleVector(t *testing.T) {
	store := newFakeJobStore()
	store.interactions["i1"] = storage.Interaction{
		ID:             "i1",
		OwnerID:        "local",
		ScreenshotText: "Alex: ping",
		GeneratedReply: "pong",
		FinalReply:     "pong, omw!",
		VectorID:       "old-vec",
	}
	job, _ := NewEmbedInteractionJob("i1")
	job.ID = "job1"
	store.job = &job

	inserter := &fakeInserter{}
	w := NewWorker(store, &fakeEmbedder{}, inserter, 0)

	if _, err := w.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}

	if len(inserter.deleted) != 1 || inserter.deleted[0] != "old-vec" {
		t.Errorf("deleted = %v, want the stale vector removed", inserter.deleted)
	}
	if len(inserter.records) != 1 {
		t.Fatalf("inserted %d records, want 1", len(inserter.records))
	}
	if store.vectorIDs["i1"] != inserter.records[0].ID {
		t.Errorf("vector_id not relinked: %q", store.vectorIDs["i1"])
	}
}

func TestRunOnce_EmbedDocumentSkipsAlreadyEmbedded(t *testing.T) {
	store := newFakeJobStore()
	store.chunks["doc1"] = []storage.DocumentChunk{
		{ID: "c1", OwnerID: "local", DocumentID: "doc1", Content: "first", Seq: 0, VectorID: "existing"},
		{ID: "c2", OwnerID: "local", DocumentID: "doc1", Content: "second", Seq: 1},
	}
	job, err := NewEmbedDocumentJob("doc1")
	if err != nil {
		t.Fatalf("NewEmbedDocumentJob: %v", err)
	}
	job.ID = "job1"
	store.job = &job

	inserter := &fakeInserter{}
	w := NewWorker(store, &fakeEmbedder{}, inserter, 0)

	if _, err := w.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}

	if len(inserter.records) != 1 {
		t.Fatalf("inserted %d records, want only the unembedded chunk", len(inserter.records))
	}
	if inserter.records[0].SourceID != "c2" || inserter.records[0].Kind != retrieval.KindDocument {
		t.Errorf("record = %+v", inserter.records[0])
	}
	if store.chunkVectorIDs["c2"] == "" {
		t.Error("chunk c2 vector_id not linked")
	}
	if _, ok := store.chunkVectorIDs["c1"]; ok {
		t.Error("already-embedded chunk relinked")
	}
}

func TestRunOnce_FailureMarksJobFailed(t *testing.T) {
	store := newFakeJobStore()
	job, _ := NewEmbedInteractionJob("missing")
	job.ID = "job1"
	store.job = &job

	w := NewWorker(store, &fakeEmbedder{}, &fakeInserter{}, 0)

	done, err := w.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if !done {
		t.Fatal("done = false")
	}
	if _, ok := store.failed["job1"]; !ok {
		t.Error("job not marked failed")
	}
	if len(store.completed) != 0 {
		t.Errorf("completed = %v, want none", store.completed)
	}
}

func TestRunOnce_EmbedderErrorFailsJob(t *testing.T) {
	store := newFakeJobStore()
	store.interactions["i1"] = storage.Interaction{ID: "i1", OwnerID: "local", GeneratedReply: "x"}
	job, _ := NewEmbedInteractionJob("i1")
	job.ID = "job1"
	store.job = &job

	w := NewWorker(store, &fakeEmbedder{err: errors.New("provider down")}, &fakeInserter{}, 0)

	if _, err := w.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if msg := store.failed["job1"]; msg == "" {
		t.Error("job not marked failed with error message")
	}
}
