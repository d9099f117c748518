package retrieval

import (
	"context"
	"log/slog"
	"strings"
	"time"
)

// fallbackScore is assigned to keyword-matched chunks when the vector path
// is unavailable. Sits above the similarity threshold so degraded results
// still reach the prompt.
const fallbackScore = 0.5

// fallbackTerms caps how many query words the keyword fallback matches on.
const fallbackTerms = 3

// ContextChunk is a retrieved context fragment with its similarity score.
type ContextChunk struct {
	ID        string
	SourceID  string
	Text      string
	Score     float32
	CreatedAt time.Time
}

// Context is everything retrieval found for one reply generation: past
// huddles (prior screenshot-to-reply exchanges) and knowledge document
// chunks.
type Context struct {
	Huddles   []ContextChunk
	Documents []ContextChunk
}

// Retriever combines embedding and vector search to find context relevant
// to a conversation. Retrieval is best-effort: a reply can be generated
// without context, so Retrieve degrades instead of failing.
type Retriever struct {
	embedder  *Embedder
	store     VectorStore
	topK      int
	threshold float32
	logger    *slog.Logger
}

// NewRetriever creates a Retriever. threshold is the minimum cosine
// similarity a chunk needs to be included; topK bounds results per kind.
func NewRetriever(embedder *Embedder, store VectorStore, topK int, threshold float32, logger *slog.Logger) *Retriever {
	if logger == nil {
		logger = slog.Default()
	}
	return &Retriever{embedder: embedder, store: store, topK: topK, threshold: threshold, logger: logger}
}

// Retrieve returns context relevant to the query for the given owner. It
// never returns an error: when embedding or vector search fails it falls
// back to keyword matching, and when that fails too the result is empty.
func (r *Retriever) Retrieve(ctx context.Context, query, ownerID string) Context {
	query = strings.TrimSpace(query)
	if query == "" {
		return Context{}
	}

	vec, err := r.embedder.Embed(ctx, query)
	if err != nil {
		r.logger.Warn("query embedding failed, using keyword fallback", "error", err)
		return r.keywordFallback(ownerID, query)
	}

	return Context{
		Huddles:   r.searchKind(ownerID, KindHuddle, vec, query),
		Documents: r.searchKind(ownerID, KindDocument, vec, query),
	}
}

// searchKind runs the vector search for one kind, degrading to the keyword
// fallback for that kind alone when it fails.
func (r *Retriever) searchKind(ownerID, kind string, vec []float32, query string) []ContextChunk {
	scored, err := r.store.Search(ownerID, kind, vec, r.topK)
	if err != nil {
		r.logger.Warn("vector search failed, using keyword fallback", "kind", kind, "error", err)
		return r.keywordKind(ownerID, kind, query)
	}
	return r.filterByThreshold(scored)
}

// filterByThreshold keeps chunks scoring at or above the similarity
// threshold, preserving the store's ordering.
func (r *Retriever) filterByThreshold(scored []ScoredRecord) []ContextChunk {
	var chunks []ContextChunk
	for _, s := range scored {
		if s.Score < r.threshold {
			continue
		}
		chunks = append(chunks, ContextChunk{
			ID:        s.ID,
			SourceID:  s.SourceID,
			Text:      s.Text,
			Score:     s.Score,
			CreatedAt: s.CreatedAt,
		})
	}
	return chunks
}

// keywordFallback matches on the first few words of the query with a fixed
// score. Errors here degrade to an empty result.
func (r *Retriever) keywordFallback(ownerID, query string) Context {
	return Context{
		Huddles:   r.keywordKind(ownerID, KindHuddle, query),
		Documents: r.keywordKind(ownerID, KindDocument, query),
	}
}

func (r *Retriever) keywordKind(ownerID, kind, query string) []ContextChunk {
	terms := strings.Fields(query)
	if len(terms) > fallbackTerms {
		terms = terms[:fallbackTerms]
	}
	records, err := r.store.SearchText(ownerID, kind, terms, r.topK)
	if err != nil {
		r.logger.Warn("keyword fallback failed", "kind", kind, "error", err)
		return nil
	}
	return recordsToChunks(records)
}

func recordsToChunks(records []Record) []ContextChunk {
	var chunks []ContextChunk
	for _, rec := range records {
		chunks = append(chunks, ContextChunk{
			ID:        rec.ID,
			SourceID:  rec.SourceID,
			Text:      rec.Text,
			Score:     fallbackScore,
			CreatedAt: rec.CreatedAt,
		})
	}
	return chunks
}
