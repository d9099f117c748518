package api

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
)

type ocrRequest struct {
	Image    string `json:"image"` // base64-encoded screenshot bytes
	MimeType string `json:"mime_type"`
}

type ocrResponse struct {
	Text    string `json:"text"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// handleOCR extracts conversation text from a screenshot. Extraction
// failures are reported in the response body, not as HTTP errors, matching
// the extractor's in-band contract.
func handleOCR(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxUploadBodySize)
		var req ocrRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.Image == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "image is required")
			return
		}

		image, err := base64.StdEncoding.DecodeString(req.Image)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid base64 image")
			return
		}

		result := deps.Vision.ExtractText(r.Context(), image, req.MimeType)
		resp := ocrResponse{Text: result.Text, Success: result.Success}
		if result.Err != nil {
			resp.Error = result.Err.Error()
		}
		writeJSON(w, resp)
	}
}
