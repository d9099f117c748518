package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/kalambet/huddle/internal/reply"
	"github.com/kalambet/huddle/internal/retrieval"
)

func decodeFrames(t *testing.T, body []byte) []reply.Frame {
	t.Helper()
	dec := reply.NewFrameDecoder(bytes.NewReader(body), true)
	var frames []reply.Frame
	for {
		f, err := dec.Next()
		if errors.Is(err, io.EOF) {
			return frames
		}
		if err != nil {
			t.Fatalf("decoding frame: %v", err)
		}
		frames = append(frames, f)
	}
}

func TestStreamReplyEmitsMetaThenTokens(t *testing.T) {
	deps := newTestDeps(t)
	retriever := &fakeRetriever{ctx: retrieval.Context{
		Huddles: []retrieval.ContextChunk{
			{ID: "v1", SourceID: "i1", Text: "past huddle", Score: 0.9, CreatedAt: time.Now()},
		},
	}}
	deps.Retriever = retriever
	deps.LLM = &fakeChat{deltas: []string{"Sounds ", "good!"}}
	h := NewHandler(deps)

	w := doRequest(t, h, http.MethodPost, "/v1/replies/stream", map[string]any{
		"screenshot_text": "Alex: are we still on for tomorrow?",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/x-ndjson" {
		t.Fatalf("unexpected content type %q", ct)
	}

	frames := decodeFrames(t, w.Body.Bytes())
	if len(frames) != 3 {
		t.Fatalf("expected 3 frames, got %d", len(frames))
	}

	meta, ok := frames[0].(reply.MetaFrame)
	if !ok {
		t.Fatalf("expected first frame to be meta, got %T", frames[0])
	}
	if len(meta.PastHuddles) != 1 || meta.PastHuddles[0].Text != "past huddle" {
		t.Fatalf("unexpected meta past huddles: %+v", meta.PastHuddles)
	}
	if len(meta.AddressTerms) != 1 || meta.AddressTerms[0] != "Alex" {
		t.Fatalf("unexpected address terms: %v", meta.AddressTerms)
	}

	var got string
	for _, f := range frames[1:] {
		tok, ok := f.(reply.TokenFrame)
		if !ok {
			t.Fatalf("expected token frame, got %T", f)
		}
		got += tok.Text
	}
	if got != "Sounds good!" {
		t.Fatalf("unexpected streamed text %q", got)
	}

	if len(retriever.queries) != 1 {
		t.Fatalf("expected one retrieval, got %d", len(retriever.queries))
	}
}

func TestStreamReplyRegenerationOmitsMeta(t *testing.T) {
	deps := newTestDeps(t)
	retriever := &fakeRetriever{}
	deps.Retriever = retriever
	deps.LLM = &fakeChat{deltas: []string{"Take two."}}
	h := NewHandler(deps)

	w := doRequest(t, h, http.MethodPost, "/v1/replies/stream", map[string]any{
		"screenshot_text": "are we still on?",
		"is_regeneration": true,
		"past_huddles": []map[string]any{
			{"id": "v1", "source_id": "i1", "text": "earlier context", "score": 0.8},
		},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	frames := decodeFrames(t, w.Body.Bytes())
	for _, f := range frames {
		if _, ok := f.(reply.MetaFrame); ok {
			t.Fatal("regeneration response should not contain a meta frame")
		}
	}
	if len(retriever.queries) != 0 {
		t.Fatalf("regeneration must not trigger retrieval, got %d queries", len(retriever.queries))
	}
}

func TestStreamReplyRequiresInput(t *testing.T) {
	h := NewHandler(newTestDeps(t))

	w := doRequest(t, h, http.MethodPost, "/v1/replies/stream", map[string]any{})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestStreamReplyUpstreamFailure(t *testing.T) {
	deps := newTestDeps(t)
	deps.LLM = &fakeChat{err: errors.New("model unavailable")}
	h := NewHandler(deps)

	w := doRequest(t, h, http.MethodPost, "/v1/replies/stream", map[string]any{
		"screenshot_text": "hello",
		"is_regeneration": true,
	})
	// No frame was written before the failure, so a real status is possible.
	if w.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", w.Code)
	}
}

func TestAdjustToneEndpoint(t *testing.T) {
	deps := newTestDeps(t)
	tone := &fakeTone{}
	deps.Tone = tone
	h := NewHandler(deps)

	w := doRequest(t, h, http.MethodPost, "/v1/replies/tone", map[string]any{
		"text": "see you then",
		"tone": "formal",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var resp map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if resp["text"] != "[formal] see you then" {
		t.Fatalf("unexpected adjusted text %q", resp["text"])
	}
	if tone.calls != 1 {
		t.Fatalf("expected one tone call, got %d", tone.calls)
	}
}

func TestAdjustToneRequiresText(t *testing.T) {
	h := NewHandler(newTestDeps(t))

	w := doRequest(t, h, http.MethodPost, "/v1/replies/tone", map[string]any{"tone": "formal"})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}
