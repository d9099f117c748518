package vision

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/kalambet/huddle/internal/llm"
)

type fakeChatter struct {
	reply string
	err   error
	got   llm.ChatRequest
}

func (f *fakeChatter) Chat(ctx context.Context, req llm.ChatRequest) (string, error) {
	f.got = req
	return f.reply, f.err
}

func TestExtractText_Success(t *testing.T) {
	f := &fakeChatter{reply: "Alex: running late\nSam: no worries"}
	e := NewExtractor(f, "vision-model", time.Second, nil)

	res := e.ExtractText(context.Background(), []byte("png-bytes"), "image/png")
	if !res.Success {
		t.Fatalf("Success = false, Err = %v", res.Err)
	}
	if !strings.Contains(res.Text, "running late") {
		t.Errorf("Text = %q", res.Text)
	}
	if f.got.Model != "vision-model" {
		t.Errorf("Model = %q", f.got.Model)
	}

	parts, ok := f.got.Messages[0].Content.([]any)
	if !ok || len(parts) != 2 {
		t.Fatalf("Content = %#v, want two multimodal parts", f.got.Messages[0].Content)
	}
	img, ok := parts[1].(llm.ImagePart)
	if !ok {
		t.Fatalf("second part is %T, want ImagePart", parts[1])
	}
	if !strings.HasPrefix(img.ImageURL.URL, "data:image/png;base64,") {
		t.Errorf("image URL = %q, want base64 data URL", img.ImageURL.URL)
	}
}

func TestExtractText_ModelFailureIsInBand(t *testing.T) {
	f := &fakeChatter{err: errors.New("upstream down")}
	e := NewExtractor(f, "m", time.Second, nil)

	res := e.ExtractText(context.Background(), []byte("x"), "image/jpeg")
	if res.Success {
		t.Fatal("Success = true on model failure")
	}
	if res.Err == nil {
		t.Error("Err = nil, want model error carried in Result")
	}
}

func TestExtractText_NoTextMarkerIsEmptySuccess(t *testing.T) {
	f := &fakeChatter{reply: "NO_TEXT_FOUND"}
	e := NewExtractor(f, "m", time.Second, nil)

	res := e.ExtractText(context.Background(), []byte("x"), "")
	if !res.Success {
		t.Fatal("Success = false; a textless screenshot is not a failure")
	}
	if res.Err != nil {
		t.Errorf("Err = %v, want nil for no-text case", res.Err)
	}
	if res.Text != "" {
		t.Errorf("Text = %q, want empty", res.Text)
	}
}

func TestExtractText_WhitespaceReplyIsEmptySuccess(t *testing.T) {
	f := &fakeChatter{reply: "   \n"}
	e := NewExtractor(f, "m", time.Second, nil)

	res := e.ExtractText(context.Background(), []byte("x"), "")
	if !res.Success || res.Text != "" || res.Err != nil {
		t.Errorf("Result = %+v, want empty success", res)
	}
}

func TestExtractText_EmptyImage(t *testing.T) {
	e := NewExtractor(&fakeChatter{}, "m", time.Second, nil)

	res := e.ExtractText(context.Background(), nil, "image/png")
	if res.Success {
		t.Fatal("Success = true for empty image")
	}
	if res.Err == nil {
		t.Error("Err = nil, want empty-image error")
	}
}

func TestExtractText_DefaultsMimeType(t *testing.T) {
	f := &fakeChatter{reply: "hello"}
	e := NewExtractor(f, "m", time.Second, nil)

	e.ExtractText(context.Background(), []byte("x"), "")
	parts := f.got.Messages[0].Content.([]any)
	img := parts[1].(llm.ImagePart)
	if !strings.HasPrefix(img.ImageURL.URL, "data:image/png;base64,") {
		t.Errorf("image URL = %q, want image/png default", img.ImageURL.URL)
	}
}
