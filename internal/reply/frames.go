// Package reply implements the reply generation pipeline: the newline-
// delimited JSON stream protocol between server and client, the bounded
// retry/regeneration orchestrator that consumes it, tone adjustment, and
// batch generation.
package reply

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"time"
)

// Frame kinds on the generation stream.
const (
	frameKindMeta  = "meta"
	frameKindToken = "token"
)

// ContextItem is one retrieved context entry as carried on the wire and in
// generation results.
type ContextItem struct {
	ID        string    `json:"id"`
	SourceID  string    `json:"source_id,omitempty"`
	Text      string    `json:"text"`
	Score     float32   `json:"score"`
	CreatedAt time.Time `json:"created_at,omitempty"`
}

// Frame is one message of the generation stream: either a MetaFrame or a
// TokenFrame.
type Frame interface {
	isFrame()
}

// MetaFrame carries the context the server actually used to produce the
// reply, plus auxiliary cues. It may arrive before or between token frames.
type MetaFrame struct {
	PastHuddles       []ContextItem `json:"past_huddles"`
	DocumentKnowledge []ContextItem `json:"document_knowledge"`
	AddressTerms      []string      `json:"address_terms,omitempty"`
}

func (MetaFrame) isFrame() {}

// TokenFrame carries one incremental text fragment of the reply.
type TokenFrame struct {
	Text string `json:"text"`
}

func (TokenFrame) isFrame() {}

// wireFrame is the on-the-wire shape of any frame; Kind discriminates.
type wireFrame struct {
	Kind              string        `json:"kind"`
	Text              string        `json:"text,omitempty"`
	PastHuddles       []ContextItem `json:"past_huddles,omitempty"`
	DocumentKnowledge []ContextItem `json:"document_knowledge,omitempty"`
	AddressTerms      []string      `json:"address_terms,omitempty"`
}

// DecodeFrame parses one stream line into a Frame. In strict mode unknown
// kinds and malformed payloads are errors; otherwise they decode to
// (nil, nil) so production consumers can skip them.
func DecodeFrame(line []byte, strict bool) (Frame, error) {
	var w wireFrame
	if err := json.Unmarshal(line, &w); err != nil {
		if strict {
			return nil, fmt.Errorf("malformed frame: %w", err)
		}
		return nil, nil
	}

	switch w.Kind {
	case frameKindMeta:
		return MetaFrame{
			PastHuddles:       w.PastHuddles,
			DocumentKnowledge: w.DocumentKnowledge,
			AddressTerms:      w.AddressTerms,
		}, nil
	case frameKindToken:
		return TokenFrame{Text: w.Text}, nil
	default:
		if strict {
			return nil, fmt.Errorf("unknown frame kind %q", w.Kind)
		}
		return nil, nil
	}
}

// EncodeFrame serializes a Frame to one newline-terminated stream line.
func EncodeFrame(f Frame) ([]byte, error) {
	var w wireFrame
	switch v := f.(type) {
	case MetaFrame:
		w = wireFrame{
			Kind:              frameKindMeta,
			PastHuddles:       v.PastHuddles,
			DocumentKnowledge: v.DocumentKnowledge,
			AddressTerms:      v.AddressTerms,
		}
	case TokenFrame:
		w = wireFrame{Kind: frameKindToken, Text: v.Text}
	default:
		return nil, fmt.Errorf("unsupported frame type %T", f)
	}

	b, err := json.Marshal(w)
	if err != nil {
		return nil, fmt.Errorf("encoding frame: %w", err)
	}
	return append(b, '\n'), nil
}

// FrameDecoder reads newline-delimited frames from a stream. A trailing
// frame without a terminating newline is still delivered.
type FrameDecoder struct {
	scanner *bufio.Scanner
	strict  bool
}

// NewFrameDecoder wraps a stream body. strict controls how malformed lines
// are handled; see DecodeFrame.
func NewFrameDecoder(r io.Reader, strict bool) *FrameDecoder {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	return &FrameDecoder{scanner: scanner, strict: strict}
}

// Next returns the next frame. It returns io.EOF when the stream ends. In
// lenient mode unparseable lines are skipped silently.
func (d *FrameDecoder) Next() (Frame, error) {
	for d.scanner.Scan() {
		line := d.scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		f, err := DecodeFrame(line, d.strict)
		if err != nil {
			return nil, err
		}
		if f == nil {
			continue
		}
		return f, nil
	}
	if err := d.scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading stream: %w", err)
	}
	return nil, io.EOF
}
