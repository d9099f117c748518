package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Interaction is one screenshot-to-reply exchange. GeneratedReply is what the
// model produced; FinalReply is what the user actually sent (possibly edited
// or tone-adjusted) and supersedes GeneratedReply wherever one reply text is
// needed.
type Interaction struct {
	ID             string
	OwnerID        string
	ScreenshotText string
	UserDraft      string
	GeneratedReply string
	FinalReply     string
	Tone           string
	VectorID       string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// ReplyText returns the reply that represents this interaction: the final
// reply when the user set one, the generated reply otherwise.
func (i Interaction) ReplyText() string {
	if i.FinalReply != "" {
		return i.FinalReply
	}
	return i.GeneratedReply
}

// DocumentChunk is one embeddable slice of an ingested knowledge document.
// Chunks of the same document share DocumentID and are ordered by Seq.
type DocumentChunk struct {
	ID         string
	OwnerID    string
	DocumentID string
	Title      string
	Source     string
	Content    string
	Seq        int
	VectorID   string
	CreatedAt  time.Time
}

// Document summarizes an ingested document across its chunks.
type Document struct {
	ID         string
	OwnerID    string
	Title      string
	Source     string
	ChunkCount int
	CreatedAt  time.Time
}

// Job is a queued background task, currently embedding work produced by
// interaction saves and document ingestion.
type Job struct {
	ID          string
	Type        string
	PayloadJSON string
	Status      string // "pending", "running", "completed", "failed"
	Attempts    int
	MaxAttempts int
	RunAfter    time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
	LastError   string
}
