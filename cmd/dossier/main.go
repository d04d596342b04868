package main

import (
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

func main() {
	// Optional .env for DOSSIER_API_KEY; a missing file is fine.
	_ = godotenv.Load()

	root := &cobra.Command{
		Use:           "dossier",
		Short:         "Document-grounded biography enrichment",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.AddCommand(enrichCmd())
	root.AddCommand(indexCmd())
	root.AddCommand(newsCmd())
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}
