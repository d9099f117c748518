package reply

import (
	"io"
	"strings"
	"testing"
)

func TestDecodeFrame_Token(t *testing.T) {
	f, err := DecodeFrame([]byte(`{"kind":"token","text":"Hel"}`), true)
	if err != nil {
		t.Fatalf("DecodeFrame: %v", err)
	}
	tok, ok := f.(TokenFrame)
	if !ok {
		t.Fatalf("frame is %T, want TokenFrame", f)
	}
	if tok.Text != "Hel" {
		t.Errorf("Text = %q", tok.Text)
	}
}

func TestDecodeFrame_Meta(t *testing.T) {
	line := `{"kind":"meta","past_huddles":[{"id":"h1","text":"hi","score":0.7}],"address_terms":["Alex"]}`
	f, err := DecodeFrame([]byte(line), true)
	if err != nil {
		t.Fatalf("DecodeFrame: %v", err)
	}
	meta, ok := f.(MetaFrame)
	if !ok {
		t.Fatalf("frame is %T, want MetaFrame", f)
	}
	if len(meta.PastHuddles) != 1 || meta.PastHuddles[0].ID != "h1" {
		t.Errorf("PastHuddles = %+v", meta.PastHuddles)
	}
	if len(meta.AddressTerms) != 1 || meta.AddressTerms[0] != "Alex" {
		t.Errorf("AddressTerms = %v", meta.AddressTerms)
	}
}

func TestDecodeFrame_UnknownKind(t *testing.T) {
	line := []byte(`{"kind":"status","text":"thinking"}`)

	if _, err := DecodeFrame(line, true); err == nil {
		t.Error("strict mode accepted unknown kind")
	}

	f, err := DecodeFrame(line, false)
	if err != nil {
		t.Errorf("lenient mode errored: %v", err)
	}
	if f != nil {
		t.Errorf("lenient mode returned %T, want nil skip", f)
	}
}

func TestDecodeFrame_Malformed(t *testing.T) {
	line := []byte(`{"kind":`)

	if _, err := DecodeFrame(line, true); err == nil {
		t.Error("strict mode accepted malformed JSON")
	}
	if f, err := DecodeFrame(line, false); err != nil || f != nil {
		t.Errorf("lenient mode: frame=%v err=%v, want nil/nil", f, err)
	}
}

func TestEncodeFrame_Roundtrip(t *testing.T) {
	in := MetaFrame{
		PastHuddles:  []ContextItem{{ID: "h1", Text: "past", Score: 0.6}},
		AddressTerms: []string{"Sam"},
	}
	b, err := EncodeFrame(in)
	if err != nil {
		t.Fatalf("EncodeFrame: %v", err)
	}
	if b[len(b)-1] != '\n' {
		t.Error("encoded frame not newline-terminated")
	}

	f, err := DecodeFrame(b[:len(b)-1], true)
	if err != nil {
		t.Fatalf("DecodeFrame: %v", err)
	}
	meta := f.(MetaFrame)
	if meta.PastHuddles[0].ID != "h1" || meta.AddressTerms[0] != "Sam" {
		t.Errorf("roundtrip = %+v", meta)
	}
}

func TestFrameDecoder_ToleratesTrailingFrameWithoutNewline(t *testing.T) {
	stream := `{"kind":"token","text":"a"}` + "\n" + `{"kind":"token","text":"b"}`
	dec := NewFrameDecoder(strings.NewReader(stream), true)

	var texts []string
	for {
		f, err := dec.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		texts = append(texts, f.(TokenFrame).Text)
	}
	if len(texts) != 2 || texts[1] != "b" {
		t.Errorf("texts = %v, want trailing frame delivered", texts)
	}
}

func TestFrameDecoder_SkipsBlankAndUnknownLinesLeniently(t *testing.T) {
	stream := "\n" + `{"kind":"debug"}` + "\n" + `{"kind":"token","text":"x"}` + "\n"
	dec := NewFrameDecoder(strings.NewReader(stream), false)

	f, err := dec.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if f.(TokenFrame).Text != "x" {
		t.Errorf("frame = %+v", f)
	}
	if _, err := dec.Next(); err != io.EOF {
		t.Errorf("err = %v, want EOF", err)
	}
}
