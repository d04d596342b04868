// Package dossier drives the document-grounded biography enrichment
// pipeline: rank an entity's source documents, extract relevant
// paragraphs, ask the generative-text service for grounded statements,
// and merge the result into the biography store.
package dossier

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/cognicore/dossier/pkg/dossier/bio"
	"github.com/cognicore/dossier/pkg/dossier/enrich"
	"github.com/cognicore/dossier/pkg/dossier/extract"
	"github.com/cognicore/dossier/pkg/dossier/index"
	"github.com/cognicore/dossier/pkg/dossier/internalerr"
)

// State is an entity's position in the per-entity pipeline.
type State string

const (
	StatePending   State = "PENDING"
	StateRanked    State = "RANKED"
	StateExtracted State = "EXTRACTED"
	StateEnriched  State = "ENRICHED"
	StateMerged    State = "MERGED"
	StateFailed    State = "FAILED"
)

// Dossier is the pipeline orchestrator facade.
type Dossier struct {
	index    *index.Index
	extract  *extract.Extractor
	enricher *enrich.Enricher
	bios     *bio.Store
	workers  int
	log      *log.Logger
	now      func() time.Time
}

// Options configures a Dossier instance.
type Options struct {
	Index     *index.Index
	Extractor *extract.Extractor
	Enricher  *enrich.Enricher
	Bios      *bio.Store

	// Workers bounds the ranking/extraction fan-out. Enrichment calls are
	// serialized by the Enricher's shared gate regardless, and merges go
	// through a single writer.
	Workers int

	Log *log.Logger
	Now func() time.Time
}

// New creates a Dossier with the given dependencies.
func New(opts Options) *Dossier {
	workers := opts.Workers
	if workers <= 0 {
		workers = 4
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Dossier{
		index:    opts.Index,
		extract:  opts.Extractor,
		enricher: opts.Enricher,
		bios:     opts.Bios,
		workers:  workers,
		log:      opts.Log,
		now:      now,
	}
}

// RunRequest selects the entities to process and how.
type RunRequest struct {
	// EntityIDs is an explicit list. Empty means "all entities with
	// total mentions >= MinMentions".
	EntityIDs   []string
	MinMentions int

	// DocLimit overrides the documents retrieved per entity (0 = default).
	DocLimit int

	// DryRun performs ranking and extraction but skips the external call
	// and the store write.
	DryRun bool
}

type mergeItem struct {
	entityID string
	result   enrich.Result
	started  time.Time
}

// Run drives each selected entity through the pipeline. Per-entity errors
// are recorded and never abort sibling entities; only consistency
// violations, entities whose documents all failed to resolve, and
// unrecoverable store I/O end the run early. Cancelling ctx stops
// dispatching new service calls immediately; merges already queued drain
// before Run returns.
func (d *Dossier) Run(ctx context.Context, req RunRequest) (Report, error) {
	started := d.now()

	entities, err := d.selectEntities(ctx, req)
	if err != nil {
		return Report{}, err
	}

	stats := newRunStats()
	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	// Shallow per-run copy so attempt accounting lands in this run's
	// stats without contaminating concurrent runs.
	enricher := *d.enricher
	prior := enricher.Observe
	enricher.Observe = func(tokens int64, err error) {
		stats.observeCall(tokens, err)
		if prior != nil {
			prior(tokens, err)
		}
	}

	var (
		fatalMu  sync.Mutex
		fatalErr error
	)
	fatal := func(err error) {
		fatalMu.Lock()
		if fatalErr == nil {
			fatalErr = err
		}
		fatalMu.Unlock()
		cancelRun()
	}

	entityCh := make(chan string)
	mergeCh := make(chan mergeItem)

	// Single writer: the summary-metadata invariant requires
	// read-modify-write atomicity against the whole store file.
	var mergeWG sync.WaitGroup
	mergeWG.Add(1)
	go func() {
		defer mergeWG.Done()
		for item := range mergeCh {
			if err := d.bios.MergeAndSave(item.entityID, item.result); err != nil {
				stats.failEntity(item.entityID, err, d.now().Sub(item.started))
				// A missing record fails only this entity; consistency
				// violations and store I/O failures end the run.
				if !errors.Is(err, internalerr.ErrNotFound) {
					fatal(err)
				}
				continue
			}
			stats.finishEntity(item.entityID, StateMerged, d.now().Sub(item.started))
		}
	}()

	var workerWG sync.WaitGroup
	for i := 0; i < d.workers; i++ {
		workerWG.Add(1)
		go func() {
			defer workerWG.Done()
			for id := range entityCh {
				d.processEntity(runCtx, req, id, &enricher, stats, mergeCh, fatal)
			}
		}()
	}

feed:
	for _, id := range entities {
		select {
		case entityCh <- id:
		case <-runCtx.Done():
			break feed
		}
	}
	close(entityCh)
	workerWG.Wait()
	close(mergeCh)
	mergeWG.Wait()

	report := stats.report(entities, started, d.now(), req.DryRun)

	fatalMu.Lock()
	err = fatalErr
	fatalMu.Unlock()
	if err == nil && ctx.Err() != nil {
		err = ctx.Err()
	}
	return report, err
}

// processEntity walks one entity through the state machine up to the merge
// hand-off. Merge itself belongs to the single writer.
func (d *Dossier) processEntity(ctx context.Context, req RunRequest, id string, enricher *enrich.Enricher, stats *runStats, mergeCh chan<- mergeItem, fatal func(error)) {
	started := d.now()

	who, err := d.bios.Identity(id)
	if err != nil {
		stats.failEntity(id, err, d.now().Sub(started))
		return
	}

	refs, err := d.index.Rank(ctx, id, req.DocLimit)
	if err != nil {
		stats.failEntity(id, err, d.now().Sub(started))
		if errors.Is(err, internalerr.ErrUnresolved) {
			// An entity with mentions but no resolvable documents is the
			// historical data-loss signature; surface it to the operator.
			fatal(err)
		}
		return
	}

	var excerpts []extract.Excerpt
	for _, ref := range refs {
		got, err := d.extract.Extract(ref, who)
		if err != nil {
			if errors.Is(err, internalerr.ErrDocumentUnavailable) {
				stats.observeUnavailable()
				if d.log != nil {
					d.log.Printf("run: entity %s: %v", id, err)
				}
				continue
			}
			stats.failEntity(id, err, d.now().Sub(started))
			return
		}
		excerpts = append(excerpts, got...)
	}
	if len(excerpts) == 0 {
		stats.failEntity(id, fmt.Errorf("run: entity %s: no relevant excerpts: %w", id, internalerr.ErrDocumentUnavailable), d.now().Sub(started))
		return
	}

	if req.DryRun {
		stats.finishEntity(id, StateExtracted, d.now().Sub(started))
		return
	}

	result, err := enricher.Enrich(ctx, who, excerpts)
	if err != nil {
		stats.failEntity(id, err, d.now().Sub(started))
		return
	}

	mergeCh <- mergeItem{entityID: id, result: result, started: started}
}

func (d *Dossier) selectEntities(ctx context.Context, req RunRequest) ([]string, error) {
	if len(req.EntityIDs) > 0 {
		ids := append([]string(nil), req.EntityIDs...)
		sort.Strings(ids)
		// An entity named twice is still processed once.
		uniq := ids[:0]
		for i, id := range ids {
			if i == 0 || id != ids[i-1] {
				uniq = append(uniq, id)
			}
		}
		return uniq, nil
	}
	ids, err := d.index.Store.EntitiesAbove(ctx, req.MinMentions)
	if err != nil {
		return nil, fmt.Errorf("run: select entities: %w", err)
	}
	return ids, nil
}
