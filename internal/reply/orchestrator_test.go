package reply

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"
)

type streamResponse struct {
	body string
	err  error

	// midErr, when set, fails the read after body has been delivered.
	midErr error
}

// scriptedStreamer plays back responses in call order; the last response
// repeats if more calls arrive.
type scriptedStreamer struct {
	responses []streamResponse
	calls     []Request
}

func (s *scriptedStreamer) OpenStream(ctx context.Context, req Request) (io.ReadCloser, error) {
	s.calls = append(s.calls, req)
	i := len(s.calls) - 1
	if i >= len(s.responses) {
		i = len(s.responses) - 1
	}
	r := s.responses[i]
	if r.err != nil {
		return nil, r.err
	}
	var rd io.Reader = strings.NewReader(r.body)
	if r.midErr != nil {
		rd = io.MultiReader(rd, errReader{r.midErr})
	}
	return io.NopCloser(rd), nil
}

type errReader struct{ err error }

func (e errReader) Read([]byte) (int, error) { return 0, e.err }

func newTestOrchestrator(s Streamer) *Orchestrator {
	o := NewOrchestrator(s, nil)
	o.delay = 0
	return o
}

func tokenStream(tokens ...string) string {
	var sb strings.Builder
	for _, tok := range tokens {
		fmt.Fprintf(&sb, `{"kind":"token","text":%q}`+"\n", tok)
	}
	return sb.String()
}

func TestGenerate_StreamsTokensInOrder(t *testing.T) {
	s := &scriptedStreamer{responses: []streamResponse{{body: tokenStream("Sounds ", "good, ", "see you!")}}}
	o := newTestOrchestrator(s)

	var updates []string
	res, err := o.Generate(context.Background(), Request{UserDraft: "ok"}, func(text string) {
		updates = append(updates, text)
	})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if res.Reply != "Sounds good, see you!" {
		t.Errorf("Reply = %q", res.Reply)
	}
	if len(s.calls) != 1 {
		t.Errorf("calls = %d, want 1", len(s.calls))
	}

	want := []string{"Sounds ", "Sounds good, ", "Sounds good, see you!", "Sounds good, see you!"}
	if len(updates) != len(want) {
		t.Fatalf("updates = %v", updates)
	}
	for i := range want {
		if updates[i] != want[i] {
			t.Errorf("updates[%d] = %q, want %q", i, updates[i], want[i])
		}
	}
}

func TestGenerate_FinalCallbackIsTrimmedFullText(t *testing.T) {
	s := &scriptedStreamer{responses: []streamResponse{{body: tokenStream("  hello", " there  ")}}}
	o := newTestOrchestrator(s)

	var last string
	res, err := o.Generate(context.Background(), Request{}, func(text string) { last = text })
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if res.Reply != "hello there" {
		t.Errorf("Reply = %q, want trimmed", res.Reply)
	}
	if last != res.Reply {
		t.Errorf("final callback = %q, want %q", last, res.Reply)
	}
}

func TestGenerate_FinalCallbackEvenWithoutTokenFrames(t *testing.T) {
	meta := `{"kind":"meta","past_huddles":[],"document_knowledge":[]}` + "\n"
	s := &scriptedStreamer{responses: []streamResponse{{body: meta}}}
	o := newTestOrchestrator(s)

	called := false
	if _, err := o.Generate(context.Background(), Request{}, func(string) { called = true }); err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if !called {
		t.Error("token callback never invoked")
	}
}

func TestGenerate_RetriesThenSucceeds(t *testing.T) {
	s := &scriptedStreamer{responses: []streamResponse{
		{err: errors.New("connection reset")},
		{err: errors.New("connection reset")},
		{body: tokenStream("recovered")},
	}}
	o := newTestOrchestrator(s)

	res, err := o.Generate(context.Background(), Request{}, nil)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if res.Reply != "recovered" {
		t.Errorf("Reply = %q", res.Reply)
	}
	if len(s.calls) != 3 {
		t.Errorf("calls = %d, want exactly 3", len(s.calls))
	}
}

func TestGenerate_RetryReusesRetrievedContext(t *testing.T) {
	meta := `{"kind":"meta","past_huddles":[{"id":"h1","text":"past huddle","score":0.8}]}` + "\n"
	s := &scriptedStreamer{responses: []streamResponse{
		{body: meta, midErr: errors.New("connection reset")},
		{body: tokenStream("recovered")},
	}}
	o := newTestOrchestrator(s)

	res, err := o.Generate(context.Background(), Request{UserDraft: "ok"}, nil)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if res.Reply != "recovered" {
		t.Errorf("Reply = %q", res.Reply)
	}
	if len(s.calls) != 2 {
		t.Fatalf("calls = %d, want 2", len(s.calls))
	}
	if s.calls[0].IsRegeneration {
		t.Error("first call flagged as regeneration")
	}
	// The server answered with a meta frame before the stream broke, so the
	// retry resends that context instead of triggering retrieval again.
	retry := s.calls[1]
	if !retry.IsRegeneration {
		t.Error("retry after a meta frame did not skip retrieval")
	}
	if len(retry.PastHuddles) != 1 || retry.PastHuddles[0].ID != "h1" {
		t.Errorf("retry PastHuddles = %+v, want the retrieved context", retry.PastHuddles)
	}
	if len(res.PastHuddles) != 1 || res.PastHuddles[0].ID != "h1" {
		t.Errorf("PastHuddles = %+v", res.PastHuddles)
	}
}

func TestGenerate_ExhaustedAttemptsThenRegeneration(t *testing.T) {
	s := &scriptedStreamer{responses: []streamResponse{{err: errors.New("down")}}}
	o := newTestOrchestrator(s)

	res, err := o.Generate(context.Background(), Request{}, nil)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if res.Reply != SentinelReply {
		t.Errorf("Reply = %q, want sentinel", res.Reply)
	}
	// Two passes of maxAttempts each: the original and one regeneration.
	if len(s.calls) != 2*maxAttempts {
		t.Errorf("calls = %d, want %d", len(s.calls), 2*maxAttempts)
	}
	if !s.calls[maxAttempts].IsRegeneration {
		t.Error("second pass not flagged as regeneration")
	}
}

func TestGenerate_TerminalFailureCarriesNoContext(t *testing.T) {
	s := &scriptedStreamer{responses: []streamResponse{{err: errors.New("down")}}}
	o := newTestOrchestrator(s)

	res, err := o.Generate(context.Background(), Request{
		IsRegeneration: true,
		PastHuddles:    []ContextItem{{ID: "h1", Text: "supplied"}},
	}, nil)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if res.Reply != SentinelReply {
		t.Fatalf("Reply = %q, want sentinel", res.Reply)
	}
	if len(res.PastHuddles) != 0 || len(res.DocumentKnowledge) != 0 || len(res.AddressTerms) != 0 {
		t.Errorf("context = %+v %+v %v, want empty on terminal failure",
			res.PastHuddles, res.DocumentKnowledge, res.AddressTerms)
	}
}

func TestGenerate_SentinelTriggersExactlyOneRegeneration(t *testing.T) {
	s := &scriptedStreamer{responses: []streamResponse{
		{body: tokenStream(SentinelReply)},
		{body: tokenStream("second try worked")},
	}}
	o := newTestOrchestrator(s)

	res, err := o.Generate(context.Background(), Request{}, nil)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if res.Reply != "second try worked" {
		t.Errorf("Reply = %q", res.Reply)
	}
	if len(s.calls) != 2 {
		t.Fatalf("calls = %d, want 2", len(s.calls))
	}
	if s.calls[0].IsRegeneration {
		t.Error("first call flagged as regeneration")
	}
	if !s.calls[1].IsRegeneration {
		t.Error("regeneration call not flagged")
	}
}

func TestGenerate_SecondSentinelIsReturnedAsIs(t *testing.T) {
	s := &scriptedStreamer{responses: []streamResponse{{body: tokenStream(SentinelReply)}}}
	o := newTestOrchestrator(s)

	res, err := o.Generate(context.Background(), Request{}, nil)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if res.Reply != SentinelReply {
		t.Errorf("Reply = %q, want sentinel surfaced", res.Reply)
	}
	// Depth bound: the sentinel on the regeneration pass must not trigger
	// a third pass.
	if len(s.calls) != 2 {
		t.Errorf("calls = %d, want 2", len(s.calls))
	}
}

func TestGenerate_RegenerationReusesSuppliedContextVerbatim(t *testing.T) {
	supplied := []ContextItem{{ID: "h1", Text: "one"}, {ID: "h2", Text: "two"}}
	// No meta frame in the response.
	s := &scriptedStreamer{responses: []streamResponse{{body: tokenStream("done")}}}
	o := newTestOrchestrator(s)

	res, err := o.Generate(context.Background(), Request{
		IsRegeneration: true,
		PastHuddles:    supplied,
	}, nil)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if len(res.PastHuddles) != 2 || res.PastHuddles[0].ID != "h1" || res.PastHuddles[1].ID != "h2" {
		t.Errorf("PastHuddles = %+v, want supplied context unchanged", res.PastHuddles)
	}
}

func TestGenerate_FreshMetaFrameOverridesSuppliedContext(t *testing.T) {
	body := `{"kind":"meta","past_huddles":[{"id":"fresh","text":"new","score":0.9}],"address_terms":["Alex"]}` + "\n" +
		tokenStream("done")
	s := &scriptedStreamer{responses: []streamResponse{{body: body}}}
	o := newTestOrchestrator(s)

	res, err := o.Generate(context.Background(), Request{
		IsRegeneration: true,
		PastHuddles:    []ContextItem{{ID: "stale"}},
	}, nil)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if len(res.PastHuddles) != 1 || res.PastHuddles[0].ID != "fresh" {
		t.Errorf("PastHuddles = %+v, want server meta to win", res.PastHuddles)
	}
	if len(res.AddressTerms) != 1 || res.AddressTerms[0] != "Alex" {
		t.Errorf("AddressTerms = %v", res.AddressTerms)
	}
}

func TestGenerate_NotConfigured(t *testing.T) {
	o := newTestOrchestrator(nil)
	if _, err := o.Generate(context.Background(), Request{}, nil); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("err = %v, want ErrNotConfigured", err)
	}
}
