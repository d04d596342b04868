package config

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/cognicore/dossier/pkg/dossier"
	"github.com/cognicore/dossier/pkg/dossier/bio"
	"github.com/cognicore/dossier/pkg/dossier/enrich"
	"github.com/cognicore/dossier/pkg/dossier/extract"
	"github.com/cognicore/dossier/pkg/dossier/index"
	"github.com/cognicore/dossier/pkg/dossier/index/sqlite"
)

// Loader builds wired pipeline components from a validated Config.
type Loader struct {
	Config *Config
	APIKey string // from the environment, never from the config file
	Log    *log.Logger
}

// Components holds the constructed pipeline plus the handles that need
// closing when the run is done.
type Components struct {
	Dossier  *dossier.Dossier
	Mentions index.MentionStore
	Bios     *bio.Store
}

// Close releases the mention index handle.
func (c *Components) Close() error {
	return c.Mentions.Close()
}

// Build opens the stores and assembles the pipeline.
func (l *Loader) Build(ctx context.Context) (*Components, error) {
	cfg := l.Config

	mentions, err := sqlite.Open(ctx, cfg.Stores.Mentions)
	if err != nil {
		return nil, fmt.Errorf("config: open mention index: %w", err)
	}

	bios, err := bio.Open(cfg.Stores.Biographies)
	if err != nil {
		mentions.Close()
		return nil, fmt.Errorf("config: open biography store: %w", err)
	}

	retry := enrich.DefaultRetryPolicy()
	if cfg.Service.Retry.MaxAttempts > 0 {
		retry = enrich.RetryPolicy{
			MaxAttempts: cfg.Service.Retry.MaxAttempts,
			BaseDelay:   time.Duration(cfg.Service.Retry.BaseDelayMS) * time.Millisecond,
		}
	}

	enricher := &enrich.Enricher{
		Client: &enrich.Client{
			BaseURL: cfg.Service.BaseURL,
			APIKey:  l.APIKey,
			Model:   cfg.Service.Model,
			Timeout: cfg.Service.Timeout(),
		},
		Policy: retry,
		Gate:   &enrich.Gate{Delay: cfg.Service.RateDelay()},
	}

	d := dossier.New(dossier.Options{
		Index: &index.Index{
			Store:    mentions,
			Resolver: index.NewResolver(cfg.Paths),
			Log:      l.Log,
		},
		Extractor: &extract.Extractor{MaxBytes: cfg.Pipeline.MaxExcerptBytes},
		Enricher:  enricher,
		Bios:      bios,
		Workers:   cfg.Pipeline.Workers,
		Log:       l.Log,
	})

	return &Components{Dossier: d, Mentions: mentions, Bios: bios}, nil
}
