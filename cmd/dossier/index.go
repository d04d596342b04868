package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/cognicore/dossier/pkg/dossier/index/sqlite"
)

var indexDBPath string

func indexCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "index",
		Short: "Mention index maintenance",
	}
	cmd.AddCommand(indexImportCmd())
	return cmd
}

func indexImportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import <mentions.tsv>",
		Short: "Load entity/document mention counts into the index",
		Long: `Reads tab-separated lines of the form

	entity_id<TAB>document_path<TAB>mention_count

as produced by the corpus scanner, and upserts them into the sqlite
mention index. Lines starting with # are skipped.`,
		Args: cobra.ExactArgs(1),
		RunE: runIndexImport,
	}
	cmd.Flags().StringVar(&indexDBPath, "db", "mentions.db", "Mention index database")
	return cmd
}

func runIndexImport(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	store, err := sqlite.Open(ctx, indexDBPath)
	if err != nil {
		return err
	}
	defer store.Close()

	f, err := os.Open(args[0])
	if err != nil {
		return err
	}
	defer f.Close()

	var imported, skipped int
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for lineNo := 1; scanner.Scan(); lineNo++ {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.Split(line, "\t")
		if len(parts) != 3 {
			skipped++
			fmt.Fprintf(os.Stderr, "line %d: want 3 fields, got %d\n", lineNo, len(parts))
			continue
		}
		count, err := strconv.Atoi(parts[2])
		if err != nil || count < 0 {
			skipped++
			fmt.Fprintf(os.Stderr, "line %d: bad mention count %q\n", lineNo, parts[2])
			continue
		}
		if err := store.UpsertMention(ctx, parts[0], parts[1], count); err != nil {
			return fmt.Errorf("line %d: %w", lineNo, err)
		}
		imported++
	}
	if err := scanner.Err(); err != nil {
		return err
	}

	fmt.Printf("Imported %d mention rows (%d skipped).\n", imported, skipped)
	return nil
}
