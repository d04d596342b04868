package enrich

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/cognicore/dossier/pkg/dossier/extract"
	"github.com/cognicore/dossier/pkg/dossier/internalerr"
)

// RetryPolicy is an explicit bounded-retry schedule for service calls.
type RetryPolicy struct {
	MaxAttempts int           // total attempts, including the first
	BaseDelay   time.Duration // doubled after each failed attempt
}

// DefaultRetryPolicy allows two additional attempts after the first.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, BaseDelay: 500 * time.Millisecond}
}

// Backoff returns the delay before the given retry (attempt 1 is the first
// retry).
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	d := p.BaseDelay
	for i := 1; i < attempt; i++ {
		d *= 2
	}
	return d
}

// Result is one round of enrichment output for an entity.
type Result struct {
	Statements   []string  `json:"statements"`
	Confidence   float64   `json:"confidence"`
	Model        string    `json:"model"`
	ExtractedAt  time.Time `json:"extracted_at"`
	DocsAnalyzed int       `json:"docs_analyzed"`
}

// Enricher converts extracted excerpts into grounded factual statements via
// the external generative-text service. Transport failures, timeouts, and
// malformed bodies are handled identically: retried per Policy, then the
// entity fails with internalerr.ErrEnrichmentFailed.
type Enricher struct {
	Client *Client
	Policy RetryPolicy
	Gate   *Gate

	// Observe is called once per outbound attempt, success or failure,
	// with the compute-units the service reported for the call.
	Observe func(tokens int64, err error)

	// Now and Sleep are injectable for tests.
	Now   func() time.Time
	Sleep func(time.Duration)
}

// Enrich bundles the identity context and excerpt text into one request and
// parses the structured response. One call to Enrich makes at most
// Policy.MaxAttempts outbound calls, each spaced by the shared Gate.
func (e *Enricher) Enrich(ctx context.Context, who extract.Identity, excerpts []extract.Excerpt) (Result, error) {
	if len(excerpts) == 0 {
		return Result{}, fmt.Errorf("enrich: %s: no excerpts to ground on", who.ID)
	}

	policy := e.Policy
	if policy.MaxAttempts <= 0 {
		policy = DefaultRetryPolicy()
	}

	user := formatPrompt(who, excerpts)
	docs := distinctDocs(excerpts)

	var lastErr error
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		if attempt > 1 {
			e.sleep(policy.Backoff(attempt - 1))
		}
		if e.Gate != nil {
			if err := e.Gate.Wait(ctx); err != nil {
				return Result{}, err
			}
		}

		content, tokens, err := e.Client.Complete(ctx, systemPrompt, user)
		var res Result
		if err == nil {
			res, err = parseResult(content)
		}
		if e.Observe != nil {
			e.Observe(tokens, err)
		}
		if err != nil {
			lastErr = err
			if ctx.Err() != nil {
				return Result{}, ctx.Err()
			}
			continue
		}

		res.Model = e.Client.Model
		res.ExtractedAt = e.now().UTC()
		res.DocsAnalyzed = docs
		return res, nil
	}

	return Result{}, fmt.Errorf("enrich: %s after %d attempts: %v: %w",
		who.ID, policy.MaxAttempts, lastErr, internalerr.ErrEnrichmentFailed)
}

// parseResult validates the service's structured payload: a JSON object
// with a non-empty statement list and a confidence in [0,1]. Anything else
// counts as malformed and is retried by the caller.
func parseResult(content string) (Result, error) {
	var payload struct {
		Statements []string `json:"statements"`
		Confidence float64  `json:"confidence"`
	}
	dec := json.NewDecoder(strings.NewReader(stripFences(content)))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&payload); err != nil {
		return Result{}, fmt.Errorf("enrich: malformed response: %w", err)
	}
	if len(payload.Statements) == 0 {
		return Result{}, fmt.Errorf("enrich: malformed response: no statements")
	}
	for _, s := range payload.Statements {
		if strings.TrimSpace(s) == "" {
			return Result{}, fmt.Errorf("enrich: malformed response: blank statement")
		}
	}
	if payload.Confidence < 0 || payload.Confidence > 1 {
		return Result{}, fmt.Errorf("enrich: malformed response: confidence %v out of range", payload.Confidence)
	}
	return Result{Statements: payload.Statements, Confidence: payload.Confidence}, nil
}

// stripFences unwraps a markdown code fence some models insist on emitting.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

func distinctDocs(excerpts []extract.Excerpt) int {
	seen := make(map[string]struct{}, len(excerpts))
	for _, ex := range excerpts {
		seen[ex.DocID] = struct{}{}
	}
	return len(seen)
}

func (e *Enricher) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e *Enricher) sleep(d time.Duration) {
	if e.Sleep != nil {
		e.Sleep(d)
		return
	}
	time.Sleep(d)
}
