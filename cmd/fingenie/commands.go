package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/fingenie/fingenie/internal/api"
)

// --- ask ---

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Ask the assistant a question",
	Long: `Ask the assistant a one-shot question against the running server.

Examples:
  fingenie ask "What is a P/E ratio?"
  fingenie ask --user rahul "What's the latest news on RELIANCE?"`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		userID, _ := cmd.Flags().GetString("user")
		question := strings.Join(args, " ")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/chat", api.ChatRequest{
			UserID:  userID,
			Message: question,
		})
		if err != nil {
			return err
		}

		var answer api.ChatResponse
		if err := decodeJSON(resp, &answer); err != nil {
			return err
		}

		fmt.Println(answer.Reply)
		if answer.State != "ai_primary" {
			printWarning("answer served in %s mode", answer.State)
		}
		return nil
	},
}

// --- ingest ---

var ingestCmd = &cobra.Command{
	Use:   "ingest <dir>",
	Short: "Ingest a directory of documents into the knowledge base",
	Long: `Ingest a directory of documents into the knowledge base.

Supported formats: .txt .md .csv .html .xlsx .pdf

Examples:
  fingenie ingest ./docs
  fingenie ingest /srv/fingenie/reports`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/ingest", api.IngestRequest{Dir: args[0]})
		if err != nil {
			return err
		}

		var report api.IngestResponse
		if err := decodeJSON(resp, &report); err != nil {
			return err
		}

		printSuccess("Ingested %d documents (%d chunks)", report.Processed, report.Chunks)
		if report.Errors > 0 {
			printWarning("%d documents failed — see server logs", report.Errors)
		}
		return nil
	},
}

func init() {
	askCmd.Flags().String("user", "cli", "conversation identity")
}
