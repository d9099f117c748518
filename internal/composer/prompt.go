// Package composer assembles chat prompts for reply generation and tone
// adjustment from screenshot text, the user's draft, and retrieved context.
package composer

import (
	"fmt"
	"sort"
	"strings"

	"github.com/kalambet/huddle/internal/llm"
	"github.com/kalambet/huddle/internal/retrieval"
)

const defaultMaxContextTokens = 4000

// noScreenshotPlaceholder stands in for the conversation when OCR produced
// nothing, so the model knows it is working from the draft alone.
const noScreenshotPlaceholder = "(no message text could be read from the screenshot)"

const generationSystemPrompt = `You are a reply assistant. Given a chat conversation extracted from a
screenshot, draft the reply the user should send next. Write in the user's
voice: match the register and length of their previous messages. Output only
the reply text, with no preamble, quotes, or explanation.`

// Composer assembles prompts from screenshot text, the user's draft, and
// retrieved context chunks, keeping injected context under a token budget.
type Composer struct {
	MaxContextTokens int
}

// New creates a Composer with the given token budget for injected context.
// If maxContextTokens <= 0, the default (4000) is used.
func New(maxContextTokens int) *Composer {
	if maxContextTokens <= 0 {
		maxContextTokens = defaultMaxContextTokens
	}
	return &Composer{MaxContextTokens: maxContextTokens}
}

// GenerationInput is everything that shapes one reply generation prompt.
type GenerationInput struct {
	ScreenshotText string
	UserDraft      string
	Tone           string
	Context        retrieval.Context
	AddressTerms   []string
}

// BuildGenerationMessages builds the chat messages for reply generation.
// Retrieved context is injected into the system message, lowest-scoring
// chunks dropped first when over budget.
func (c *Composer) BuildGenerationMessages(in GenerationInput) []llm.Message {
	var sys strings.Builder
	sys.WriteString(generationSystemPrompt)

	if enrichment := c.buildEnrichment(in.Context, in.AddressTerms); enrichment != "" {
		sys.WriteString("\n\n")
		sys.WriteString(enrichment)
	}
	if in.Tone != "" && in.Tone != "none" {
		fmt.Fprintf(&sys, "\n\nWrite the reply in a %s tone.", in.Tone)
	}

	var user strings.Builder
	screenshot := strings.TrimSpace(in.ScreenshotText)
	if screenshot == "" {
		screenshot = noScreenshotPlaceholder
	}
	user.WriteString("[Conversation]\n")
	user.WriteString(screenshot)
	if draft := strings.TrimSpace(in.UserDraft); draft != "" {
		user.WriteString("\n\n[My draft so far]\n")
		user.WriteString(draft)
		user.WriteString("\n\nFinish or improve this draft as the reply.")
	} else {
		user.WriteString("\n\nDraft my reply.")
	}

	return []llm.Message{
		{Role: "system", Content: sys.String()},
		{Role: "user", Content: user.String()},
	}
}

// BuildToneMessages builds the chat messages that rewrite a reply in the
// requested tone without changing its meaning.
func (c *Composer) BuildToneMessages(reply, tone string) []llm.Message {
	sys := fmt.Sprintf(`You adjust the tone of short chat replies. Rewrite the reply in a %s tone.
Keep the meaning, facts, and approximate length. Output only the rewritten
reply.`, tone)
	return []llm.Message{
		{Role: "system", Content: sys},
		{Role: "user", Content: reply},
	}
}

// buildEnrichment renders past huddles, document knowledge, and address
// terms into the system prompt, respecting the token budget by dropping
// lowest-scoring chunks first.
func (c *Composer) buildEnrichment(rc retrieval.Context, addressTerms []string) string {
	var sb strings.Builder

	if len(addressTerms) > 0 {
		sb.WriteString("[How the user addresses people]\n")
		sb.WriteString(strings.Join(addressTerms, ", "))
	}

	remaining := c.MaxContextTokens - EstimateTokens(sb.String())

	if section := c.renderSection("[Past conversations]", rc.Huddles, &remaining); section != "" {
		if sb.Len() > 0 {
			sb.WriteString("\n\n")
		}
		sb.WriteString(section)
	}
	if section := c.renderSection("[Relevant knowledge]", rc.Documents, &remaining); section != "" {
		if sb.Len() > 0 {
			sb.WriteString("\n\n")
		}
		sb.WriteString(section)
	}

	return sb.String()
}

// renderSection formats one chunk list under a header, consuming from the
// shared token budget.
func (c *Composer) renderSection(header string, chunks []retrieval.ContextChunk, remaining *int) string {
	if len(chunks) == 0 {
		return ""
	}

	sorted := make([]retrieval.ContextChunk, len(chunks))
	copy(sorted, chunks)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Score > sorted[j].Score
	})

	headerTokens := EstimateTokens(header + "\n")
	budget := *remaining - headerTokens

	var entries []string
	for _, ch := range sorted {
		entry := fmt.Sprintf("- %s\n", strings.TrimSpace(ch.Text))
		tokens := EstimateTokens(entry)
		if tokens > budget {
			continue
		}
		entries = append(entries, entry)
		budget -= tokens
	}
	if len(entries) == 0 {
		return ""
	}

	*remaining = budget
	return header + "\n" + strings.Join(entries, "")
}

// EstimateTokens provides a rough token count using a 4 chars per token
// heuristic.
func EstimateTokens(text string) int {
	return (len(text) + 3) / 4
}

// ExtractAddressTerms pulls sender names out of screenshot text. Lines are
// expected in "Name: message" form; duplicate names are collapsed, order of
// first appearance preserved.
func ExtractAddressTerms(screenshotText string) []string {
	var terms []string
	seen := make(map[string]bool)
	for _, line := range strings.Split(screenshotText, "\n") {
		name, _, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		name = strings.TrimSpace(name)
		// Sender labels are short; anything longer is message text with a colon.
		if name == "" || len(name) > 40 || strings.ContainsAny(name, ".!?") {
			continue
		}
		if seen[name] {
			continue
		}
		seen[name] = true
		terms = append(terms, name)
	}
	return terms
}
