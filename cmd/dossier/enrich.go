package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/cognicore/dossier/pkg/dossier"
	"github.com/cognicore/dossier/pkg/dossier/config"
)

var (
	enrichConfig      string
	enrichAll         bool
	enrichMinMentions int
	enrichDocLimit    int
	enrichDryRun      bool
	enrichReportPath  string
)

func enrichCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "enrich [entity-id...]",
		Short: "Enrich biography records from ranked source documents",
		Long: `Ranks each entity's source documents by mention count, extracts
relevant paragraphs, asks the generative-text service for grounded factual
statements, and merges the result into the biography store. With --all,
processes every entity whose total mentions meet --min-mentions.`,
		RunE: runEnrich,
	}
	cmd.Flags().StringVar(&enrichConfig, "config", "dossier.yaml", "Configuration file")
	cmd.Flags().BoolVar(&enrichAll, "all", false, "Process all entities above the mention threshold")
	cmd.Flags().IntVar(&enrichMinMentions, "min-mentions", 0, "Mention threshold for --all (0 uses the configured value)")
	cmd.Flags().IntVar(&enrichDocLimit, "limit", 0, "Documents per entity (0 uses the configured value)")
	cmd.Flags().BoolVar(&enrichDryRun, "dry-run", false, "Rank and extract only; skip the service call and the write")
	cmd.Flags().StringVar(&enrichReportPath, "report", "", "Write the JSON run report here instead of stdout")
	return cmd
}

func runEnrich(cmd *cobra.Command, args []string) error {
	if len(args) == 0 && !enrichAll {
		return fmt.Errorf("pass entity identifiers or --all")
	}

	cfg, err := config.Load(enrichConfig)
	if err != nil {
		return err
	}

	loader := &config.Loader{
		Config: cfg,
		APIKey: os.Getenv("DOSSIER_API_KEY"),
		Log:    log.New(os.Stderr, "dossier: ", log.LstdFlags),
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	comp, err := loader.Build(ctx)
	if err != nil {
		return err
	}
	defer comp.Close()

	req := dossier.RunRequest{
		EntityIDs:   args,
		MinMentions: enrichMinMentions,
		DocLimit:    enrichDocLimit,
		DryRun:      enrichDryRun,
	}
	if req.MinMentions == 0 {
		req.MinMentions = cfg.Pipeline.MinMentions
	}
	if req.DocLimit == 0 {
		req.DocLimit = cfg.Pipeline.DocLimit
	}

	report, runErr := comp.Dossier.Run(ctx, req)

	if err := emitReport(report); err != nil {
		return err
	}
	printSummary(report)
	return runErr
}

func emitReport(report dossier.Report) error {
	data, err := report.JSON()
	if err != nil {
		return err
	}
	if enrichReportPath == "" {
		fmt.Println(string(data))
		return nil
	}
	return os.WriteFile(enrichReportPath, append(data, '\n'), 0o644)
}

func printSummary(report dossier.Report) {
	ok := color.New(color.FgGreen).SprintFunc()
	bad := color.New(color.FgRed).SprintFunc()

	fmt.Fprintf(os.Stderr, "\n%d entities, %s enriched, %s failed, %d tokens, %dms elapsed\n",
		report.Entities, ok(report.Succeeded), bad(report.Failed),
		report.Tokens, report.ElapsedMS)
	for _, out := range report.Outcomes {
		if out.State != dossier.StateFailed {
			continue
		}
		fmt.Fprintf(os.Stderr, "  %s %s (%s)\n", bad("FAILED"), out.EntityID, out.Cause)
	}
}
