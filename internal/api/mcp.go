package api

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/huddle/internal/composer"
	"github.com/kalambet/huddle/internal/ingest"
	"github.com/kalambet/huddle/internal/llm"
	"github.com/kalambet/huddle/internal/reply"
	"github.com/kalambet/huddle/internal/retrieval"
	"github.com/kalambet/huddle/internal/storage"
)

// NewMCPServer creates an MCP server exposing reply drafting, recall, and
// interaction management to MCP clients.
func NewMCPServer(deps Deps) *server.MCPServer {
	s := server.NewMCPServer(
		"huddle",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("huddle — screenshot-to-reply assistant with retrieval over past conversations and uploaded documents."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("draft_reply",
			mcp.WithDescription("Draft a reply to a conversation. Retrieves relevant past conversations and documents for context."),
			mcp.WithString("screenshot_text", mcp.Description("Conversation text extracted from a screenshot")),
			mcp.WithString("user_draft", mcp.Description("The user's partial draft, if any")),
			mcp.WithString("tone", mcp.Description("Desired tone, or \"none\"")),
		),
		mcpDraftReply(deps),
	)

	s.AddTool(
		mcp.NewTool("recall",
			mcp.WithDescription("Semantically search past conversations and uploaded documents."),
			mcp.WithString("query", mcp.Description("Search query"), mcp.Required()),
		),
		mcpRecall(deps),
	)

	s.AddTool(
		mcp.NewTool("save_interaction",
			mcp.WithDescription("Persist a screenshot-to-reply exchange so future drafts can recall it."),
			mcp.WithString("screenshot_text", mcp.Description("Conversation text from the screenshot")),
			mcp.WithString("user_draft", mcp.Description("The user's draft")),
			mcp.WithString("generated_reply", mcp.Description("The reply that was generated"), mcp.Required()),
			mcp.WithString("final_reply", mcp.Description("The reply actually sent, if edited")),
			mcp.WithString("tone", mcp.Description("Tone applied to the reply")),
		),
		mcpSaveInteraction(deps),
	)

	s.AddTool(
		mcp.NewTool("adjust_tone",
			mcp.WithDescription("Rewrite a reply in a different tone. Tone \"none\" returns the text unchanged."),
			mcp.WithString("text", mcp.Description("Reply text to adjust"), mcp.Required()),
			mcp.WithString("tone", mcp.Description("Target tone"), mcp.Required()),
		),
		mcpAdjustTone(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"huddle://recent",
			"Recent Interactions",
			mcp.WithResourceDescription("Last 10 saved screenshot-to-reply exchanges (summaries only)"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceRecent(deps),
	)

	return s
}

func mcpDraftReply(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		screenshotText := req.GetString("screenshot_text", "")
		userDraft := req.GetString("user_draft", "")
		tone := req.GetString("tone", reply.ToneNone)
		if screenshotText == "" && userDraft == "" {
			return mcpError("at least one of screenshot_text or user_draft is required"), nil
		}

		rc := deps.Retriever.Retrieve(ctx, screenshotText+"\n"+userDraft, deps.OwnerID)
		messages := deps.Composer.BuildGenerationMessages(composer.GenerationInput{
			ScreenshotText: screenshotText,
			UserDraft:      userDraft,
			Tone:           tone,
			Context:        rc,
			AddressTerms:   composer.ExtractAddressTerms(screenshotText),
		})

		text, err := deps.LLM.Chat(ctx, llm.ChatRequest{Model: deps.Model, Messages: messages})
		if err != nil {
			return mcpError(fmt.Sprintf("generation failed: %v", err)), nil
		}
		return mcpText(text), nil
	}
}

func mcpRecall(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query, err := req.RequireString("query")
		if err != nil {
			return mcpError("query is required"), nil
		}

		rc := deps.Retriever.Retrieve(ctx, query, deps.OwnerID)

		type chunkResult struct {
			ID       string  `json:"id"`
			SourceID string  `json:"source_id"`
			Kind     string  `json:"kind"`
			Text     string  `json:"text"`
			Score    float32 `json:"score"`
		}
		var results []chunkResult
		appendChunks := func(kind string, chunks []retrieval.ContextChunk) {
			for _, c := range chunks {
				results = append(results, chunkResult{
					ID:       c.ID,
					SourceID: c.SourceID,
					Kind:     kind,
					Text:     c.Text,
					Score:    c.Score,
				})
			}
		}
		appendChunks(retrieval.KindHuddle, rc.Huddles)
		appendChunks(retrieval.KindDocument, rc.Documents)

		if len(results) == 0 {
			return mcpText("[]"), nil
		}
		b, err := json.Marshal(results)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal results: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpSaveInteraction(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		generatedReply, err := req.RequireString("generated_reply")
		if err != nil {
			return mcpError("generated_reply is required"), nil
		}

		saved, err := deps.Store.SaveInteraction(storage.Interaction{
			OwnerID:        deps.OwnerID,
			ScreenshotText: req.GetString("screenshot_text", ""),
			UserDraft:      req.GetString("user_draft", ""),
			GeneratedReply: generatedReply,
			FinalReply:     req.GetString("final_reply", ""),
			Tone:           req.GetString("tone", ""),
		})
		if err != nil {
			return mcpError(fmt.Sprintf("failed to save: %v", err)), nil
		}

		job, err := ingest.NewEmbedInteractionJob(saved.ID)
		if err == nil {
			err = deps.Store.EnqueueJob(job)
		}
		if err != nil {
			return mcpError(fmt.Sprintf("saved interaction %s but failed to queue embedding: %v", saved.ID, err)), nil
		}

		return mcpText(fmt.Sprintf("Saved interaction %s", saved.ID)), nil
	}
}

func mcpAdjustTone(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		text, err := req.RequireString("text")
		if err != nil {
			return mcpError("text is required"), nil
		}
		tone, err := req.RequireString("tone")
		if err != nil {
			return mcpError("tone is required"), nil
		}

		return mcpText(deps.Tone.Adjust(ctx, text, tone)), nil
	}
}

func mcpResourceRecent(deps Deps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		interactions, err := deps.Store.ListInteractions(deps.OwnerID, 10, 0)
		if err != nil {
			return nil, fmt.Errorf("failed to list interactions: %w", err)
		}

		type interactionSummary struct {
			ID        string `json:"id"`
			CreatedAt string `json:"created_at"`
			Reply     string `json:"reply"`
		}
		summaries := make([]interactionSummary, len(interactions))
		for i, ix := range interactions {
			text := ix.ReplyText()
			if utf8.RuneCountInString(text) > 200 {
				runes := []rune(text)
				text = string(runes[:200]) + "..."
			}
			summaries[i] = interactionSummary{
				ID:        ix.ID,
				CreatedAt: ix.CreatedAt.Format(time.RFC3339),
				Reply:     text,
			}
		}

		b, err := json.Marshal(summaries)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal interactions: %w", err)
		}

		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
