package main

import (
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

var noColor bool

var rootCmd = &cobra.Command{
	Use:           "huddle",
	Short:         "Screenshot-to-reply assistant with local memory",
	SilenceUsage:  true,
	SilenceErrors: false,
	Version:       version,
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")

	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(replyCmd)
	rootCmd.AddCommand(toneCmd)
	rootCmd.AddCommand(ocrCmd)
	rootCmd.AddCommand(ingestCmd)
	rootCmd.AddCommand(documentsCmd)
	rootCmd.AddCommand(interactionsCmd)
	rootCmd.AddCommand(configCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
