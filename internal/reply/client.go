package reply

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// streamRequestBody is the JSON body of a stream open call.
type streamRequestBody struct {
	ScreenshotText    string        `json:"screenshot_text"`
	UserDraft         string        `json:"user_draft"`
	Tone              string        `json:"tone,omitempty"`
	IsRegeneration    bool          `json:"is_regeneration,omitempty"`
	PastHuddles       []ContextItem `json:"past_huddles,omitempty"`
	DocumentKnowledge []ContextItem `json:"document_knowledge,omitempty"`
}

// HTTPStreamer opens generation streams against a running huddle server.
// It is the client half of the stream protocol; the server half lives in
// the API layer.
type HTTPStreamer struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewHTTPStreamer creates a streamer for the server at baseURL,
// authenticating with the given bearer token.
func NewHTTPStreamer(baseURL, token string) *HTTPStreamer {
	return &HTTPStreamer{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		// No client timeout: streams are long-lived and bounded by ctx.
		httpClient: &http.Client{},
	}
}

// OpenStream POSTs the generation request and returns the frame stream.
func (s *HTTPStreamer) OpenStream(ctx context.Context, req Request) (io.ReadCloser, error) {
	body, err := json.Marshal(streamRequestBody{
		ScreenshotText:    req.ScreenshotText,
		UserDraft:         req.UserDraft,
		Tone:              req.Tone,
		IsRegeneration:    req.IsRegeneration,
		PastHuddles:       req.PastHuddles,
		DocumentKnowledge: req.DocumentKnowledge,
	})
	if err != nil {
		return nil, fmt.Errorf("marshaling stream request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/v1/replies/stream", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating stream request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+s.token)

	resp, err := s.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("opening stream: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, fmt.Errorf("stream request failed with status %d: %s", resp.StatusCode, string(respBody))
	}
	return resp.Body, nil
}
