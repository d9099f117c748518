package composer

import (
	"strings"
	"testing"

	"github.com/kalambet/huddle/internal/retrieval"
)

func messageText(t *testing.T, content any) string {
	t.Helper()
	s, ok := content.(string)
	if !ok {
		t.Fatalf("content is %T, want string", content)
	}
	return s
}

func TestBuildGenerationMessages_Basic(t *testing.T) {
	c := New(0)

	msgs := c.BuildGenerationMessages(GenerationInput{
		ScreenshotText: "Alex: are we still on for lunch?",
		UserDraft:      "yes but",
	})
	if len(msgs) != 2 {
		t.Fatalf("got %d messages, want system + user", len(msgs))
	}
	if msgs[0].Role != "system" || msgs[1].Role != "user" {
		t.Errorf("roles = %s, %s", msgs[0].Role, msgs[1].Role)
	}

	user := messageText(t, msgs[1].Content)
	if !strings.Contains(user, "are we still on for lunch?") {
		t.Errorf("user message missing screenshot text: %q", user)
	}
	if !strings.Contains(user, "yes but") {
		t.Errorf("user message missing draft: %q", user)
	}
}

func TestBuildGenerationMessages_EmptyScreenshotGetsPlaceholder(t *testing.T) {
	c := New(0)

	msgs := c.BuildGenerationMessages(GenerationInput{ScreenshotText: "  ", UserDraft: "thanks!"})
	user := messageText(t, msgs[1].Content)
	if !strings.Contains(user, noScreenshotPlaceholder) {
		t.Errorf("user message missing placeholder: %q", user)
	}
}

func TestBuildGenerationMessages_InjectsContextAndAddressTerms(t *testing.T) {
	c := New(0)

	msgs := c.BuildGenerationMessages(GenerationInput{
		ScreenshotText: "Alex: ping",
		Context: retrieval.Context{
			Huddles:   []retrieval.ContextChunk{{Text: "last week we moved lunch to Friday", Score: 0.7}},
			Documents: []retrieval.ContextChunk{{Text: "team lunch budget is $20 per person", Score: 0.5}},
		},
		AddressTerms: []string{"Alex", "Sam"},
	})

	sys := messageText(t, msgs[0].Content)
	if !strings.Contains(sys, "moved lunch to Friday") {
		t.Errorf("system message missing huddle context: %q", sys)
	}
	if !strings.Contains(sys, "$20 per person") {
		t.Errorf("system message missing document context: %q", sys)
	}
	if !strings.Contains(sys, "Alex, Sam") {
		t.Errorf("system message missing address terms: %q", sys)
	}
}

func TestBuildGenerationMessages_ToneInstruction(t *testing.T) {
	c := New(0)

	sys := messageText(t, c.BuildGenerationMessages(GenerationInput{Tone: "professional"})[0].Content)
	if !strings.Contains(sys, "professional tone") {
		t.Errorf("system message missing tone instruction: %q", sys)
	}

	sys = messageText(t, c.BuildGenerationMessages(GenerationInput{Tone: "none"})[0].Content)
	if strings.Contains(sys, "tone.") {
		t.Errorf("tone %q must not add an instruction: %q", "none", sys)
	}
}

func TestBuildGenerationMessages_BudgetDropsLowestScoringFirst(t *testing.T) {
	// Budget of 30 tokens (~120 chars) fits the header and one chunk only.
	c := New(30)

	long := strings.Repeat("x", 80)
	msgs := c.BuildGenerationMessages(GenerationInput{
		Context: retrieval.Context{
			Huddles: []retrieval.ContextChunk{
				{Text: "low " + long, Score: 0.3},
				{Text: "high " + long, Score: 0.9},
			},
		},
	})

	sys := messageText(t, msgs[0].Content)
	if !strings.Contains(sys, "high ") {
		t.Errorf("high-scoring chunk dropped: %q", sys)
	}
	if strings.Contains(sys, "low ") {
		t.Errorf("low-scoring chunk kept over budget: %q", sys)
	}
}

func TestBuildToneMessages(t *testing.T) {
	c := New(0)

	msgs := c.BuildToneMessages("sounds good, see you then", "formal")
	if len(msgs) != 2 {
		t.Fatalf("got %d messages, want 2", len(msgs))
	}
	sys := messageText(t, msgs[0].Content)
	if !strings.Contains(sys, "formal tone") {
		t.Errorf("system message missing tone: %q", sys)
	}
	if messageText(t, msgs[1].Content) != "sounds good, see you then" {
		t.Errorf("user message = %q", msgs[1].Content)
	}
}

func TestEstimateTokens(t *testing.T) {
	cases := []struct {
		text string
		want int
	}{
		{"", 0},
		{"abc", 1},
		{"abcd", 1},
		{"abcde", 2},
	}
	for _, tc := range cases {
		if got := EstimateTokens(tc.text); got != tc.want {
			t.Errorf("EstimateTokens(%q) = %d, want %d", tc.text, got, tc.want)
		}
	}
}

func TestExtractAddressTerms(t *testing.T) {
	text := "Alex: hey, you around?\nme: yes: definitely\nAlex: cool\njust a line without sender\nDr. Smith: results are in"
	got := ExtractAddressTerms(text)

	want := []string{"Alex", "me"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("terms[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}
