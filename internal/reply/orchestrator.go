package reply

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"time"
)

const (
	// maxAttempts bounds how many underlying streams one generation pass
	// may open before giving up.
	maxAttempts = 5

	// retryDelay is inserted once, after the first failed attempt only.
	retryDelay = 600 * time.Millisecond

	// maxRegenerations bounds the sentinel-triggered regeneration passes
	// to exactly one.
	maxRegenerations = 1
)

// SentinelReply is the fixed string the model emits when it could not
// produce a substantive answer. It is a soft-failure signal, not content.
const SentinelReply = "generation failed, please regenerate"

// ErrNotConfigured is returned when generation cannot start at all, as
// opposed to running and degrading to the sentinel reply.
var ErrNotConfigured = errors.New("reply generation is not configured")

// Request describes one generation call.
type Request struct {
	ScreenshotText string
	UserDraft      string
	Tone           string

	// IsRegeneration skips server-side retrieval; the context below is
	// reused instead.
	IsRegeneration    bool
	PastHuddles       []ContextItem
	DocumentKnowledge []ContextItem
}

// Result is the terminal outcome of one generation call. Reply equals
// SentinelReply when generation ran but was exhausted.
type Result struct {
	Reply             string
	PastHuddles       []ContextItem
	DocumentKnowledge []ContextItem
	AddressTerms      []string
}

// Streamer opens one generation stream. The returned body is a sequence of
// newline-delimited frames; see FrameDecoder.
type Streamer interface {
	OpenStream(ctx context.Context, req Request) (io.ReadCloser, error)
}

// Orchestrator drives the generation state machine: bounded attempts over
// the stream protocol, context reuse across retries, and a single silent
// regeneration when the model answers with the sentinel.
type Orchestrator struct {
	streamer Streamer
	logger   *slog.Logger

	// delay between the first failed attempt and the second; variable so
	// tests run without wall-clock waits.
	delay time.Duration
}

// NewOrchestrator creates an Orchestrator over the given Streamer.
func NewOrchestrator(streamer Streamer, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{streamer: streamer, logger: logger, delay: retryDelay}
}

// Generate runs the full generation state machine. onToken, when non-nil,
// receives the accumulated reply text after every token frame and is always
// invoked one final time with the complete trimmed text. An error is
// returned only when generation could not start; a run that degrades ends
// with Result.Reply == SentinelReply instead.
//
// Regeneration is an explicit loop with a depth bound, not recursion: pass
// zero is the caller's request, pass one is the single allowed
// sentinel-triggered regeneration.
func (o *Orchestrator) Generate(ctx context.Context, req Request, onToken func(string)) (*Result, error) {
	if o.streamer == nil {
		return nil, ErrNotConfigured
	}

	// Context gathered so far. Seeded from the request (regeneration case)
	// and overwritten whenever a stream delivers a fresh meta frame.
	pastHuddles := req.PastHuddles
	documentKnowledge := req.DocumentKnowledge
	var addressTerms []string

	current := req
	var text string
	var streamed bool

	for depth := 0; ; depth++ {
		text, streamed = o.runAttempts(ctx, current, &pastHuddles, &documentKnowledge, &addressTerms, onToken)

		if !streamed {
			// All attempts failed. One silent regeneration pass is
			// allowed; past that the failure is terminal and the result
			// carries the sentinel with no context.
			if depth < maxRegenerations {
				current = o.contextRequest(req, pastHuddles, documentKnowledge)
				continue
			}
			text = SentinelReply
			pastHuddles, documentKnowledge, addressTerms = nil, nil, nil
			break
		}

		text = strings.TrimSpace(text)
		if text == SentinelReply && depth < maxRegenerations {
			o.logger.Info("sentinel reply received, regenerating once")
			current = o.contextRequest(req, pastHuddles, documentKnowledge)
			continue
		}
		break
	}

	if onToken != nil {
		onToken(text)
	}
	return &Result{
		Reply:             text,
		PastHuddles:       pastHuddles,
		DocumentKnowledge: documentKnowledge,
		AddressTerms:      addressTerms,
	}, nil
}

// runAttempts opens up to maxAttempts streams for one generation pass,
// returning the accumulated text of the first stream that completes. The
// context slices are updated in place as meta frames arrive so retries and
// a later regeneration pass reuse them: once the server has answered with a
// meta frame, retries resend that context instead of retrieving again.
func (o *Orchestrator) runAttempts(ctx context.Context, req Request, pastHuddles, documentKnowledge *[]ContextItem, addressTerms *[]string, onToken func(string)) (string, bool) {
	current := req
	var sawMeta bool
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		text, err := o.streamOnce(ctx, current, pastHuddles, documentKnowledge, addressTerms, &sawMeta, onToken)
		if err == nil {
			return text, true
		}

		o.logger.Warn("generation attempt failed", "attempt", attempt, "error", err)
		if attempt == 1 {
			select {
			case <-ctx.Done():
				return "", false
			case <-time.After(o.delay):
			}
		}

		if sawMeta && !current.IsRegeneration {
			current = o.contextRequest(req, *pastHuddles, *documentKnowledge)
		}
	}
	return "", false
}

// streamOnce opens a single stream and consumes it to the end, applying
// token frames in arrival order.
func (o *Orchestrator) streamOnce(ctx context.Context, req Request, pastHuddles, documentKnowledge *[]ContextItem, addressTerms *[]string, sawMeta *bool, onToken func(string)) (string, error) {
	body, err := o.streamer.OpenStream(ctx, req)
	if err != nil {
		return "", err
	}
	defer body.Close()

	var sb strings.Builder
	dec := NewFrameDecoder(body, false)
	for {
		frame, err := dec.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", err
		}

		switch f := frame.(type) {
		case MetaFrame:
			// The server is authoritative once it answers.
			*sawMeta = true
			*pastHuddles = f.PastHuddles
			*documentKnowledge = f.DocumentKnowledge
			if len(f.AddressTerms) > 0 {
				*addressTerms = f.AddressTerms
			}
		case TokenFrame:
			sb.WriteString(f.Text)
			if onToken != nil {
				onToken(sb.String())
			}
		}
	}

	return sb.String(), nil
}

// contextRequest builds a request that skips retrieval and passes through
// the context gathered so far. Used both for retries after the server has
// answered once and for the single regeneration pass.
func (o *Orchestrator) contextRequest(orig Request, pastHuddles, documentKnowledge []ContextItem) Request {
	return Request{
		ScreenshotText:    orig.ScreenshotText,
		UserDraft:         orig.UserDraft,
		Tone:              orig.Tone,
		IsRegeneration:    true,
		PastHuddles:       pastHuddles,
		DocumentKnowledge: documentKnowledge,
	}
}
