package dossier

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/cognicore/dossier/pkg/dossier/internalerr"
)

// Failure causes as they appear in the run report.
const (
	CauseNotFound            = "not_found"
	CauseDocumentUnavailable = "document_unavailable"
	CauseEnrichmentFailed    = "enrichment_failed"
	CauseConsistency         = "consistency"
	CauseUnresolved          = "unresolved"
	CauseCancelled           = "cancelled"
	CauseIO                  = "io_error"
)

// Cause classifies an error into its report taxonomy class.
func Cause(err error) string {
	switch {
	case errors.Is(err, internalerr.ErrNotFound):
		return CauseNotFound
	case errors.Is(err, internalerr.ErrDocumentUnavailable):
		return CauseDocumentUnavailable
	case errors.Is(err, internalerr.ErrEnrichmentFailed):
		return CauseEnrichmentFailed
	case errors.Is(err, internalerr.ErrConsistency):
		return CauseConsistency
	case errors.Is(err, internalerr.ErrUnresolved):
		return CauseUnresolved
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return CauseCancelled
	default:
		return CauseIO
	}
}

// EntityOutcome is one entity's final pipeline state for the run.
type EntityOutcome struct {
	EntityID  string `json:"entity_id"`
	State     State  `json:"state"`
	Cause     string `json:"cause,omitempty"`
	Error     string `json:"error,omitempty"`
	LatencyMS int64  `json:"latency_ms"`

	latency time.Duration
}

// Requests counts outbound service calls, success or failure: every call
// consumes external quota and is accounted for.
type Requests struct {
	Attempted int `json:"attempted"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
}

// Report is the machine-parseable end-of-run summary.
type Report struct {
	Started         time.Time       `json:"started"`
	ElapsedMS       int64           `json:"elapsed_ms"`
	DryRun          bool            `json:"dry_run,omitempty"`
	Entities        int             `json:"entities"`
	Succeeded       int             `json:"succeeded"`
	Failed          int             `json:"failed"`
	FailuresByCause map[string]int  `json:"failures_by_cause,omitempty"`
	Requests        Requests        `json:"requests"`
	Tokens          int64           `json:"tokens"`
	DocsUnavailable int             `json:"docs_unavailable,omitempty"`
	AvgEntityMS     int64           `json:"avg_entity_ms"`
	Outcomes        []EntityOutcome `json:"outcomes"`
}

// JSON renders the report for operator tooling.
func (r Report) JSON() ([]byte, error) {
	return json.MarshalIndent(r, "", "  ")
}

// runStats is the per-run accounting context. It is created per Run so
// concurrent runs (and tests) never share counters.
type runStats struct {
	mu          sync.Mutex
	requests    Requests
	tokens      int64
	unavailable int
	outcomes    map[string]EntityOutcome
}

func newRunStats() *runStats {
	return &runStats{outcomes: make(map[string]EntityOutcome)}
}

func (s *runStats) observeCall(tokens int64, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests.Attempted++
	if err != nil {
		s.requests.Failed++
	} else {
		s.requests.Succeeded++
	}
	s.tokens += tokens
}

func (s *runStats) observeUnavailable() {
	s.mu.Lock()
	s.unavailable++
	s.mu.Unlock()
}

func (s *runStats) finishEntity(id string, state State, latency time.Duration) {
	s.mu.Lock()
	s.outcomes[id] = EntityOutcome{EntityID: id, State: state, LatencyMS: latency.Milliseconds(), latency: latency}
	s.mu.Unlock()
}

func (s *runStats) failEntity(id string, err error, latency time.Duration) {
	s.mu.Lock()
	s.outcomes[id] = EntityOutcome{
		EntityID:  id,
		State:     StateFailed,
		Cause:     Cause(err),
		Error:     err.Error(),
		LatencyMS: latency.Milliseconds(),
		latency:   latency,
	}
	s.mu.Unlock()
}

func (s *runStats) report(entities []string, started, finished time.Time, dryRun bool) Report {
	s.mu.Lock()
	defer s.mu.Unlock()

	rep := Report{
		Started:         started.UTC(),
		ElapsedMS:       finished.Sub(started).Milliseconds(),
		DryRun:          dryRun,
		Entities:        len(entities),
		Requests:        s.requests,
		Tokens:          s.tokens,
		DocsUnavailable: s.unavailable,
	}

	var totalLatency time.Duration
	for _, id := range entities {
		out, ok := s.outcomes[id]
		if !ok {
			// Never dispatched: the run was cancelled before this entity.
			out = EntityOutcome{EntityID: id, State: StatePending}
		}
		rep.Outcomes = append(rep.Outcomes, out)
		totalLatency += out.latency
		switch out.State {
		case StateFailed:
			rep.Failed++
			if rep.FailuresByCause == nil {
				rep.FailuresByCause = make(map[string]int)
			}
			rep.FailuresByCause[out.Cause]++
		case StateMerged, StateExtracted:
			rep.Succeeded++
		}
	}
	sort.Slice(rep.Outcomes, func(i, j int) bool {
		return rep.Outcomes[i].EntityID < rep.Outcomes[j].EntityID
	})
	if done := rep.Succeeded + rep.Failed; done > 0 {
		rep.AvgEntityMS = (totalLatency / time.Duration(done)).Milliseconds()
	}
	return rep
}
