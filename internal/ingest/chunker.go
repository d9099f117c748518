package ingest

import "strings"

// defaultChunkSize is the target chunk length in characters, roughly 300
// tokens at 4 chars per token.
const defaultChunkSize = 1200

// Chunk splits extracted text into pieces of at most maxChars, preferring
// paragraph boundaries and falling back to word boundaries for oversized
// paragraphs. Chunk order follows text order; maxChars <= 0 uses the
// default.
func Chunk(text string, maxChars int) []string {
	if maxChars <= 0 {
		maxChars = defaultChunkSize
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	var chunks []string
	var current strings.Builder

	flush := func() {
		if current.Len() > 0 {
			chunks = append(chunks, current.String())
			current.Reset()
		}
	}

	for _, para := range strings.Split(text, "\n\n") {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}

		if len(para) > maxChars {
			flush()
			chunks = append(chunks, splitWords(para, maxChars)...)
			continue
		}

		if current.Len() > 0 && current.Len()+2+len(para) > maxChars {
			flush()
		}
		if current.Len() > 0 {
			current.WriteString("\n\n")
		}
		current.WriteString(para)
	}
	flush()

	return chunks
}

// splitWords breaks one oversized paragraph on word boundaries.
func splitWords(para string, maxChars int) []string {
	var chunks []string
	var current strings.Builder

	for _, word := range strings.Fields(para) {
		if current.Len() > 0 && current.Len()+1+len(word) > maxChars {
			chunks = append(chunks, current.String())
			current.Reset()
		}
		if current.Len() > 0 {
			current.WriteString(" ")
		}
		current.WriteString(word)
	}
	if current.Len() > 0 {
		chunks = append(chunks, current.String())
	}
	return chunks
}
