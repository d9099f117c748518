package retrieval

import (
	"context"
	"time"
)

// Record kinds stored in the vector table.
const (
	KindHuddle   = "huddle"
	KindDocument = "document"
)

// VectorStore is the interface for vector storage and similarity search
// backends. The current implementation uses SQLite with brute-force cosine
// similarity; an ANN-capable backend can replace it behind this interface.
type VectorStore interface {
	// Insert adds records to the store.
	Insert(records []Record) error

	// Search returns the top-K records of the given kind most similar to
	// the query vector, scoped to one owner. Results are ordered by score
	// descending, ties broken by recency descending.
	Search(ownerID, kind string, vector []float32, topK int) ([]ScoredRecord, error)

	// SearchText returns records of the given kind whose text contains any
	// of the terms (case-insensitive), newest first. Used as the degraded
	// path when embedding is unavailable.
	SearchText(ownerID, kind string, terms []string, limit int) ([]Record, error)

	// GetByIDs returns records matching the given IDs.
	GetByIDs(ctx context.Context, ids []string) ([]Record, error)

	// Delete removes a record by ID.
	Delete(id string) error

	// Count returns the number of records of the given kind for an owner.
	Count(ownerID, kind string) (int, error)
}

// Record represents a row in the vector store.
type Record struct {
	ID        string
	OwnerID   string
	SourceID  string
	Kind      string
	Text      string
	Embedding []float32
	CreatedAt time.Time
}

// ScoredRecord is a Record with a similarity score attached.
type ScoredRecord struct {
	Record
	Score float32
}
