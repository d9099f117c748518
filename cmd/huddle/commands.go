package main

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kalambet/huddle/internal/config"
	"github.com/kalambet/huddle/internal/reply"
)

// --- reply ---

var replyCmd = &cobra.Command{
	Use:   "reply",
	Short: "Generate a reply to a conversation",
	Long: `Generate a reply to a conversation.

Examples:
  huddle reply --screenshot ./chat.png
  huddle reply --text "Alex: are we still on for tomorrow?" --tone casual
  huddle reply --text "Alex: lunch?" --draft "sure, how about" --save
  huddle reply --batch ./requests.json`,
	RunE: func(cmd *cobra.Command, args []string) error {
		screenshot, _ := cmd.Flags().GetString("screenshot")
		text, _ := cmd.Flags().GetString("text")
		draft, _ := cmd.Flags().GetString("draft")
		tone, _ := cmd.Flags().GetString("tone")
		save, _ := cmd.Flags().GetBool("save")
		regenerate, _ := cmd.Flags().GetBool("regenerate")
		batchFile, _ := cmd.Flags().GetString("batch")

		if screenshot == "" && text == "" && draft == "" && batchFile == "" {
			return fmt.Errorf("one of --screenshot, --text, --draft, or --batch is required")
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		orch := reply.NewOrchestrator(reply.NewHTTPStreamer(client.baseURL, client.token), slog.Default())

		if batchFile != "" {
			return runBatch(cmd, orch, batchFile)
		}

		if screenshot != "" {
			extracted, err := runOCR(cmd, client, screenshot)
			if err != nil {
				return err
			}
			// A textless screenshot still generates from the draft alone.
			if extracted == "" && text == "" && draft == "" {
				return fmt.Errorf("no readable text in %s; add --text or --draft", screenshot)
			}
			if extracted != "" {
				text = extracted
			}
		}

		result, err := orch.Generate(cmd.Context(), reply.Request{
			ScreenshotText: text,
			UserDraft:      draft,
			Tone:           tone,
			IsRegeneration: regenerate,
		}, streamPrinter())
		if err != nil {
			return err
		}
		fmt.Println()

		if result.Reply == reply.SentinelReply {
			printWarning("Generation was exhausted; try again or rephrase")
			return nil
		}

		if save {
			resp, err := client.post(cmd.Context(), "/v1/interactions", map[string]any{
				"screenshot_text": text,
				"user_draft":      draft,
				"generated_reply": result.Reply,
				"tone":            tone,
			})
			if err != nil {
				return err
			}
			var saved struct {
				ID string `json:"id"`
			}
			if err := decodeJSON(resp, &saved); err != nil {
				return err
			}
			printSuccess("Saved interaction %s", saved.ID)
		}
		return nil
	},
}

// streamPrinter renders the accumulating reply. The callback receives the
// full text so far, so only the new suffix is printed.
func streamPrinter() func(string) {
	return streamPrinterTo(os.Stdout)
}

func streamPrinterTo(w io.Writer) func(string) {
	last := ""
	return func(text string) {
		if strings.HasPrefix(text, last) {
			fmt.Fprint(w, text[len(last):])
		} else {
			fmt.Fprint(w, "\n"+text)
		}
		last = text
	}
}

func runBatch(cmd *cobra.Command, orch *reply.Orchestrator, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading batch file: %w", err)
	}

	var specs []struct {
		ScreenshotText string `json:"screenshot_text"`
		UserDraft      string `json:"user_draft"`
		Tone           string `json:"tone"`
	}
	if err := json.Unmarshal(data, &specs); err != nil {
		return fmt.Errorf("invalid batch file: %w", err)
	}
	if len(specs) == 0 {
		return fmt.Errorf("batch file contains no requests")
	}

	reqs := make([]reply.Request, len(specs))
	for i, s := range specs {
		reqs[i] = reply.Request{
			ScreenshotText: s.ScreenshotText,
			UserDraft:      s.UserDraft,
			Tone:           s.Tone,
		}
	}

	runner := reply.NewBatchRunner(orch)
	items := runner.GenerateAll(cmd.Context(), reqs, nil)

	failures := 0
	for i, item := range items {
		fmt.Printf("\n%s\n", colorize(colorBold, fmt.Sprintf("Reply %d", i+1)))
		switch {
		case item.Err != nil:
			failures++
			printError("failed: %v", item.Err)
		case item.Result.Reply == reply.SentinelReply:
			failures++
			printWarning("generation exhausted")
		default:
			fmt.Println(item.Result.Reply)
		}
	}
	if failures > 0 {
		printWarning("%d of %d requests did not produce a reply", failures, len(items))
	}
	return nil
}

func init() {
	replyCmd.Flags().String("screenshot", "", "screenshot image to extract the conversation from")
	replyCmd.Flags().String("text", "", "conversation text (skips OCR)")
	replyCmd.Flags().String("draft", "", "partial draft to complete")
	replyCmd.Flags().String("tone", "", "desired tone (e.g. casual, formal)")
	replyCmd.Flags().Bool("save", false, "save the exchange for future recall")
	replyCmd.Flags().Bool("regenerate", false, "regenerate without fresh retrieval")
	replyCmd.Flags().String("batch", "", "JSON file with an array of requests")
}

// --- tone ---

var toneCmd = &cobra.Command{
	Use:   "tone <tone> <text>",
	Short: "Rewrite a reply in a different tone",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		tone := args[0]
		text := strings.Join(args[1:], " ")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/v1/replies/tone", map[string]string{
			"text": text,
			"tone": tone,
		})
		if err != nil {
			return err
		}

		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		fmt.Println(result["text"])
		return nil
	},
}

// --- ocr ---

var ocrCmd = &cobra.Command{
	Use:   "ocr <image>",
	Short: "Extract conversation text from a screenshot",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		text, err := runOCR(cmd, client, args[0])
		if err != nil {
			return err
		}
		if text == "" {
			printWarning("No readable text in %s", args[0])
			return nil
		}
		fmt.Println(text)
		return nil
	},
}

func runOCR(cmd *cobra.Command, client *apiClient, path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("reading image: %w", err)
	}

	resp, err := client.post(cmd.Context(), "/v1/ocr", map[string]string{
		"image":     base64.StdEncoding.EncodeToString(data),
		"mime_type": mimeForImage(path),
	})
	if err != nil {
		return "", err
	}

	var result struct {
		Text    string `json:"text"`
		Success bool   `json:"success"`
		Error   string `json:"error"`
	}
	if err := decodeJSON(resp, &result); err != nil {
		return "", err
	}
	if !result.Success {
		if result.Error != "" {
			return "", fmt.Errorf("text extraction failed: %s", result.Error)
		}
		return "", fmt.Errorf("text extraction failed for %s", path)
	}
	return result.Text, nil
}

func mimeForImage(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".webp":
		return "image/webp"
	default:
		return "image/png"
	}
}

// --- ingest ---

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Ingest a reference document into the knowledge base",
	Long: `Ingest a reference document into the knowledge base.

Examples:
  huddle ingest --text "Standup is at 9:30 every weekday" --title "Team norms"
  huddle ingest --url https://example.com/onboarding
  huddle ingest --file ./handbook.pdf --title "Handbook"`,
	RunE: func(cmd *cobra.Command, args []string) error {
		text, _ := cmd.Flags().GetString("text")
		url, _ := cmd.Flags().GetString("url")
		file, _ := cmd.Flags().GetString("file")
		title, _ := cmd.Flags().GetString("title")

		if text == "" && url == "" && file == "" {
			return fmt.Errorf("one of --text, --url, or --file is required")
		}

		req := map[string]any{}
		if title != "" {
			req["title"] = title
		}

		switch {
		case text != "":
			req["type"] = "text"
			req["content"] = text
		case url != "":
			req["type"] = "url"
			req["url"] = url
		case file != "":
			data, err := os.ReadFile(file)
			if err != nil {
				return fmt.Errorf("reading file: %w", err)
			}
			req["type"] = "file"
			req["content"] = base64.StdEncoding.EncodeToString(data)
			if title == "" {
				req["title"] = file
			}
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/v1/documents", req)
		if err != nil {
			return err
		}

		var result struct {
			ID     string `json:"id"`
			Chunks int    `json:"chunks"`
			Status string `json:"status"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Queued document %s (%d chunks)", result.ID, result.Chunks)
		return nil
	},
}

func init() {
	ingestCmd.Flags().String("text", "", "text content to ingest")
	ingestCmd.Flags().String("url", "", "URL to fetch and ingest")
	ingestCmd.Flags().String("file", "", "file path to ingest (text, HTML, or PDF)")
	ingestCmd.Flags().String("title", "", "title for the document")
}

// --- documents ---

var documentsCmd = &cobra.Command{
	Use:   "documents",
	Short: "Manage ingested documents",
}

var documentsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List ingested documents",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/v1/documents")
		if err != nil {
			return err
		}

		var docs []struct {
			ID         string `json:"id"`
			Title      string `json:"title"`
			ChunkCount int    `json:"chunk_count"`
			CreatedAt  string `json:"created_at"`
		}
		if err := decodeJSON(resp, &docs); err != nil {
			return err
		}

		if len(docs) == 0 {
			fmt.Println("No documents found.")
			return nil
		}
		for _, d := range docs {
			title := d.Title
			if title == "" {
				title = "(untitled)"
			}
			fmt.Printf("%s  %s  %d chunks\n", colorize(colorCyan, d.ID[:8]), title, d.ChunkCount)
		}
		return nil
	},
}

var documentsDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a document and its embeddings",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.delete(cmd.Context(), "/v1/documents/"+args[0])
		if err != nil {
			return err
		}

		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Deleted document %s", args[0])
		return nil
	},
}

func init() {
	documentsCmd.AddCommand(documentsListCmd)
	documentsCmd.AddCommand(documentsDeleteCmd)
}

// --- interactions ---

var interactionsCmd = &cobra.Command{
	Use:   "interactions",
	Short: "Manage saved exchanges",
}

var interactionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent exchanges",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), fmt.Sprintf("/v1/interactions?limit=%d", limit))
		if err != nil {
			return err
		}

		var interactions []struct {
			ID             string `json:"id"`
			CreatedAt      string `json:"created_at"`
			ScreenshotText string `json:"screenshot_text"`
		}
		if err := decodeJSON(resp, &interactions); err != nil {
			return err
		}

		if len(interactions) == 0 {
			fmt.Println("No interactions found.")
			return nil
		}
		for _, ix := range interactions {
			summary := strings.ReplaceAll(ix.ScreenshotText, "\n", " ")
			if len(summary) > 80 {
				summary = summary[:80] + "..."
			}
			fmt.Printf("%s  %s  %s\n", colorize(colorCyan, ix.ID[:8]), ix.CreatedAt, summary)
		}
		return nil
	},
}

var interactionsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a single exchange",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/v1/interactions/"+args[0])
		if err != nil {
			return err
		}

		var interaction any
		if err := decodeJSON(resp, &interaction); err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(interaction)
	},
}

var interactionsFinalCmd = &cobra.Command{
	Use:   "final <id> <text>",
	Short: "Record the reply that was actually sent",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		tone, _ := cmd.Flags().GetString("tone")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		body := map[string]string{"final_reply": strings.Join(args[1:], " ")}
		if tone != "" {
			body["tone"] = tone
		}
		resp, err := client.patch(cmd.Context(), "/v1/interactions/"+args[0]+"/final-reply", body)
		if err != nil {
			return err
		}

		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Recorded final reply for %s", args[0])
		return nil
	},
}

var interactionsDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete an exchange and its embedding",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.delete(cmd.Context(), "/v1/interactions/"+args[0])
		if err != nil {
			return err
		}

		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Deleted interaction %s", args[0])
		return nil
	},
}

func init() {
	interactionsListCmd.Flags().Int("limit", 20, "maximum number of exchanges to list")
	interactionsFinalCmd.Flags().String("tone", "", "tone the final reply was written in")
	interactionsCmd.AddCommand(interactionsListCmd)
	interactionsCmd.AddCommand(interactionsShowCmd)
	interactionsCmd.AddCommand(interactionsFinalCmd)
	interactionsCmd.AddCommand(interactionsDeleteCmd)
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		keys := config.ShowAll(cfg)
		for _, k := range keys {
			fmt.Printf("  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}
