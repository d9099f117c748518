package reply

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
)

// perRequestStreamer answers based on the request's draft text.
type perRequestStreamer struct {
	calls []Request
}

func (s *perRequestStreamer) OpenStream(ctx context.Context, req Request) (io.ReadCloser, error) {
	s.calls = append(s.calls, req)
	if strings.HasPrefix(req.UserDraft, "fail") {
		return nil, errors.New("stream failed")
	}
	return io.NopCloser(strings.NewReader(tokenStream("reply to " + req.UserDraft))), nil
}

func TestGenerateAll_ProcessesItemsInOrder(t *testing.T) {
	s := &perRequestStreamer{}
	b := NewBatchRunner(newTestOrchestrator(s))
	b.pause = 0

	items := b.GenerateAll(context.Background(), []Request{
		{UserDraft: "one"},
		{UserDraft: "two"},
	}, nil)

	if len(items) != 2 {
		t.Fatalf("got %d items, want 2", len(items))
	}
	if items[0].Result.Reply != "reply to one" || items[1].Result.Reply != "reply to two" {
		t.Errorf("replies = %q, %q", items[0].Result.Reply, items[1].Result.Reply)
	}
}

func TestGenerateAll_FailedItemDoesNotStopBatch(t *testing.T) {
	s := &perRequestStreamer{}
	b := NewBatchRunner(newTestOrchestrator(s))
	b.pause = 0

	items := b.GenerateAll(context.Background(), []Request{
		{UserDraft: "fail-me"},
		{UserDraft: "fine"},
	}, nil)

	if items[0].Result.Reply != SentinelReply {
		t.Errorf("failed item reply = %q, want sentinel", items[0].Result.Reply)
	}
	if items[1].Result.Reply != "reply to fine" {
		t.Errorf("second item reply = %q", items[1].Result.Reply)
	}
}

func TestGenerateAll_TokenCallbackCarriesItemIndex(t *testing.T) {
	s := &perRequestStreamer{}
	b := NewBatchRunner(newTestOrchestrator(s))
	b.pause = 0

	indices := make(map[int]bool)
	b.GenerateAll(context.Background(), []Request{
		{UserDraft: "a"},
		{UserDraft: "b"},
	}, func(i int, text string) {
		indices[i] = true
	})

	if !indices[0] || !indices[1] {
		t.Errorf("indices seen = %v, want both items", indices)
	}
}
