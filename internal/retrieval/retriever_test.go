package retrieval

import (
	"context"
	"errors"
	"testing"
)

type fakeEmbedClient struct {
	vec []float32
	err error
}

func (f *fakeEmbedClient) Embed(ctx context.Context, model, text string) ([]float32, error) {
	return f.vec, f.err
}

func (f *fakeEmbedClient) EmbedBatch(ctx context.Context, model string, texts []string) ([][]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = f.vec
	}
	return out, nil
}

// fakeVectorStore is an in-memory VectorStore with per-method overrides.
type fakeVectorStore struct {
	searchFn     func(ownerID, kind string, vector []float32, topK int) ([]ScoredRecord, error)
	searchTextFn func(ownerID, kind string, terms []string, limit int) ([]Record, error)
	gotTerms     []string
}

func (f *fakeVectorStore) Insert(records []Record) error { return nil }

func (f *fakeVectorStore) Search(ownerID, kind string, vector []float32, topK int) ([]ScoredRecord, error) {
	if f.searchFn != nil {
		return f.searchFn(ownerID, kind, vector, topK)
	}
	return nil, nil
}

func (f *fakeVectorStore) SearchText(ownerID, kind string, terms []string, limit int) ([]Record, error) {
	f.gotTerms = terms
	if f.searchTextFn != nil {
		return f.searchTextFn(ownerID, kind, terms, limit)
	}
	return nil, nil
}

func (f *fakeVectorStore) GetByIDs(ctx context.Context, ids []string) ([]Record, error) {
	return nil, nil
}
func (f *fakeVectorStore) Delete(id string) error         { return nil }
func (f *fakeVectorStore) Count(o, k string) (int, error) { return 0, nil }

func TestRetrieve_FiltersByThreshold(t *testing.T) {
	store := &fakeVectorStore{
		searchFn: func(ownerID, kind string, vector []float32, topK int) ([]ScoredRecord, error) {
			if kind != KindHuddle {
				return nil, nil
			}
			return []ScoredRecord{
				{Record: Record{ID: "strong", Text: "very similar"}, Score: 0.8},
				{Record: Record{ID: "borderline", Text: "just enough"}, Score: 0.25},
				{Record: Record{ID: "weak", Text: "noise"}, Score: 0.1},
			}, nil
		},
	}
	r := NewRetriever(NewEmbedder(&fakeEmbedClient{vec: []float32{1}}, "m"), store, 5, 0.25, nil)

	got := r.Retrieve(context.Background(), "lunch plans", "local")
	if len(got.Huddles) != 2 {
		t.Fatalf("got %d huddles, want 2 (threshold is inclusive)", len(got.Huddles))
	}
	if got.Huddles[0].ID != "strong" || got.Huddles[1].ID != "borderline" {
		t.Errorf("huddles = [%s %s]", got.Huddles[0].ID, got.Huddles[1].ID)
	}
}

func TestRetrieve_EmbedFailureFallsBackToKeywords(t *testing.T) {
	store := &fakeVectorStore{
		searchTextFn: func(ownerID, kind string, terms []string, limit int) ([]Record, error) {
			if kind != KindHuddle {
				return nil, nil
			}
			return []Record{{ID: "kw", Text: "friday lunch"}}, nil
		},
	}
	r := NewRetriever(NewEmbedder(&fakeEmbedClient{err: errors.New("embed down")}, "m"), store, 5, 0.25, nil)

	got := r.Retrieve(context.Background(), "are we still on for friday lunch", "local")
	if len(got.Huddles) != 1 {
		t.Fatalf("got %d huddles, want 1 from keyword fallback", len(got.Huddles))
	}
	if got.Huddles[0].Score != fallbackScore {
		t.Errorf("fallback score = %v, want %v", got.Huddles[0].Score, fallbackScore)
	}
	if len(store.gotTerms) != 3 {
		t.Fatalf("fallback used %d terms, want first 3 words", len(store.gotTerms))
	}
	if store.gotTerms[0] != "are" || store.gotTerms[2] != "still" {
		t.Errorf("terms = %v", store.gotTerms)
	}
}

func TestRetrieve_PerKindFallbackOnSearchFailure(t *testing.T) {
	store := &fakeVectorStore{
		searchFn: func(ownerID, kind string, vector []float32, topK int) ([]ScoredRecord, error) {
			if kind == KindDocument {
				return nil, errors.New("db locked")
			}
			return []ScoredRecord{{Record: Record{ID: "vec-hit", Text: "similar huddle"}, Score: 0.9}}, nil
		},
		searchTextFn: func(ownerID, kind string, terms []string, limit int) ([]Record, error) {
			if kind != KindDocument {
				t.Errorf("keyword fallback ran for %s, want documents only", kind)
			}
			return []Record{{ID: "kw-doc", Text: "handbook section"}}, nil
		},
	}
	r := NewRetriever(NewEmbedder(&fakeEmbedClient{vec: []float32{1}}, "m"), store, 5, 0.25, nil)

	got := r.Retrieve(context.Background(), "what does the handbook say", "local")
	if len(got.Huddles) != 1 || got.Huddles[0].ID != "vec-hit" {
		t.Errorf("huddles = %+v, want the vector result kept", got.Huddles)
	}
	if len(got.Documents) != 1 || got.Documents[0].ID != "kw-doc" {
		t.Fatalf("documents = %+v, want the keyword fallback for the failed kind", got.Documents)
	}
	if got.Documents[0].Score != fallbackScore {
		t.Errorf("fallback score = %v, want %v", got.Documents[0].Score, fallbackScore)
	}
}

func TestRetrieve_SearchFailureNeverErrors(t *testing.T) {
	store := &fakeVectorStore{
		searchFn: func(ownerID, kind string, vector []float32, topK int) ([]ScoredRecord, error) {
			return nil, errors.New("db locked")
		},
		searchTextFn: func(ownerID, kind string, terms []string, limit int) ([]Record, error) {
			return nil, errors.New("db locked")
		},
	}
	r := NewRetriever(NewEmbedder(&fakeEmbedClient{vec: []float32{1}}, "m"), store, 5, 0.25, nil)

	got := r.Retrieve(context.Background(), "anything", "local")
	if len(got.Huddles) != 0 || len(got.Documents) != 0 {
		t.Errorf("got %+v, want empty context when everything fails", got)
	}
}

func TestRetrieve_EmptyQuery(t *testing.T) {
	r := NewRetriever(NewEmbedder(&fakeEmbedClient{vec: []float32{1}}, "m"), &fakeVectorStore{}, 5, 0.25, nil)

	got := r.Retrieve(context.Background(), "   ", "local")
	if len(got.Huddles) != 0 || len(got.Documents) != 0 {
		t.Errorf("got %+v, want empty context for blank query", got)
	}
}
