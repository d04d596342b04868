package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cognicore/dossier/pkg/dossier/news"
)

var newsStorePath string

func newsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "news",
		Short: "News-article index maintenance",
	}
	cmd.AddCommand(newsDedupCmd(), newsRepairCmd())
	return cmd
}

func newsDedupCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dedup",
		Short: "Remove duplicate articles and re-normalize store metadata",
		RunE:  runNewsDedup,
	}
	cmd.Flags().StringVar(&newsStorePath, "store", "news.json", "News store file")
	return cmd
}

func newsRepairCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "repair",
		Short: "Rebuild store metadata after a record-count mismatch",
		Long: `Rebuild the summary metadata of a news store that refuses to load
because its declared record count no longer matches its payload. The
articles are kept as-is; restore from the newest .bak_ file instead if
the payload itself is suspect.`,
		RunE: runNewsRepair,
	}
	cmd.Flags().StringVar(&newsStorePath, "store", "news.json", "News store file")
	return cmd
}

func runNewsRepair(cmd *cobra.Command, args []string) error {
	store, err := news.Repair(newsStorePath)
	if err != nil {
		return err
	}
	all, err := store.All()
	if err != nil {
		return err
	}
	fmt.Printf("Repair complete: %d articles, metadata re-derived.\n", len(all))
	return nil
}

func runNewsDedup(cmd *cobra.Command, args []string) error {
	store, err := news.Open(newsStorePath)
	if err != nil {
		return err
	}

	res, err := store.Dedup()
	if err != nil {
		return err
	}

	fmt.Printf("Deduplication complete.\n")
	fmt.Printf("  Scanned: %d\n", res.Scanned)
	fmt.Printf("  Removed: %d\n", res.Removed)
	fmt.Printf("  Kept:    %d\n", res.Kept)
	return nil
}
