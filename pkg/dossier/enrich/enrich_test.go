package enrich

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/cognicore/dossier/pkg/dossier/extract"
	"github.com/cognicore/dossier/pkg/dossier/internalerr"
)

type roundTrip func(*http.Request) *http.Response

func (rt roundTrip) RoundTrip(req *http.Request) (*http.Response, error) {
	return rt(req), nil
}

func jsonResponse(body string) *http.Response {
	return &http.Response{
		StatusCode: 200,
		Body:       io.NopCloser(strings.NewReader(body)),
		Header:     make(http.Header),
	}
}

func testClient(rt roundTrip) *Client {
	return &Client{
		BaseURL:    "https://api.test/v1/chat/completions",
		Model:      "model-test",
		HTTPClient: &http.Client{Transport: rt},
	}
}

func goodBody(content string) string {
	return fmt.Sprintf(`{"choices":[{"message":{"role":"assistant","content":%q}}],"usage":{"total_tokens":42}}`, content)
}

var testIdentity = extract.Identity{ID: "john_doe", Name: "John Doe", Variants: []string{"J. Doe"}}

var testExcerpts = []extract.Excerpt{
	{DocID: "doc1.txt", Text: "John Doe attended the meeting.", Position: 2},
	{DocID: "doc2.txt", Text: "J. Doe signed the ledger.", Position: 0},
}

func TestEnrichSuccess(t *testing.T) {
	var calls int
	e := &Enricher{
		Client: testClient(func(req *http.Request) *http.Response {
			calls++
			body, _ := io.ReadAll(req.Body)
			if !strings.Contains(string(body), "John Doe") || !strings.Contains(string(body), "doc1.txt") {
				t.Fatalf("prompt missing identity or excerpt context: %s", body)
			}
			return jsonResponse(goodBody(`{"statements":["Attended the meeting.","Signed the ledger."],"confidence":0.8}`))
		}),
		Now: func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) },
	}

	var observedTokens int64
	e.Observe = func(tokens int64, err error) {
		observedTokens += tokens
		if err != nil {
			t.Fatalf("unexpected observed error: %v", err)
		}
	}

	res, err := e.Enrich(context.Background(), testIdentity, testExcerpts)
	if err != nil {
		t.Fatalf("Enrich: %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected exactly 1 outbound call, got %d", calls)
	}
	if len(res.Statements) != 2 || res.Confidence != 0.8 {
		t.Fatalf("unexpected result: %+v", res)
	}
	if res.Model != "model-test" || res.DocsAnalyzed != 2 {
		t.Fatalf("metadata not attached: %+v", res)
	}
	if res.ExtractedAt.IsZero() {
		t.Fatal("timestamp not set")
	}
	if observedTokens != 42 {
		t.Fatalf("expected 42 observed tokens, got %d", observedTokens)
	}
}

func TestEnrichStripsCodeFence(t *testing.T) {
	e := &Enricher{
		Client: testClient(func(*http.Request) *http.Response {
			return jsonResponse(goodBody("```json\n{\"statements\":[\"Fact.\"],\"confidence\":0.5}\n```"))
		}),
	}
	res, err := e.Enrich(context.Background(), testIdentity, testExcerpts)
	if err != nil {
		t.Fatalf("Enrich: %v", err)
	}
	if len(res.Statements) != 1 {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestEnrichRetriesMalformedThenFails(t *testing.T) {
	var calls int
	var slept []time.Duration
	e := &Enricher{
		Client: testClient(func(*http.Request) *http.Response {
			calls++
			return jsonResponse(goodBody("not json at all"))
		}),
		Policy: RetryPolicy{MaxAttempts: 3, BaseDelay: 100 * time.Millisecond},
		Sleep:  func(d time.Duration) { slept = append(slept, d) },
	}

	var observedErrs int
	e.Observe = func(tokens int64, err error) {
		if err != nil {
			observedErrs++
		}
	}

	_, err := e.Enrich(context.Background(), testIdentity, testExcerpts)
	if !errors.Is(err, internalerr.ErrEnrichmentFailed) {
		t.Fatalf("expected ErrEnrichmentFailed, got %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls)
	}
	if observedErrs != 3 {
		t.Fatalf("every attempt should be observed, got %d", observedErrs)
	}
	want := []time.Duration{100 * time.Millisecond, 200 * time.Millisecond}
	if len(slept) != len(want) || slept[0] != want[0] || slept[1] != want[1] {
		t.Fatalf("backoff schedule %v, want %v", slept, want)
	}
}

func TestEnrichRecoversOnRetry(t *testing.T) {
	var calls int
	e := &Enricher{
		Client: testClient(func(*http.Request) *http.Response {
			calls++
			if calls == 1 {
				return jsonResponse(goodBody("garbage"))
			}
			return jsonResponse(goodBody(`{"statements":["Fact."],"confidence":1}`))
		}),
		Sleep: func(time.Duration) {},
	}
	res, err := e.Enrich(context.Background(), testIdentity, testExcerpts)
	if err != nil {
		t.Fatalf("Enrich: %v", err)
	}
	if calls != 2 || res.Confidence != 1 {
		t.Fatalf("calls=%d result=%+v", calls, res)
	}
}

func TestEnrichRejectsOutOfRangeConfidence(t *testing.T) {
	e := &Enricher{
		Client: testClient(func(*http.Request) *http.Response {
			return jsonResponse(goodBody(`{"statements":["Fact."],"confidence":1.7}`))
		}),
		Policy: RetryPolicy{MaxAttempts: 1},
	}
	if _, err := e.Enrich(context.Background(), testIdentity, testExcerpts); !errors.Is(err, internalerr.ErrEnrichmentFailed) {
		t.Fatalf("expected ErrEnrichmentFailed, got %v", err)
	}
}

func TestEnrichNoExcerpts(t *testing.T) {
	e := &Enricher{Client: testClient(func(*http.Request) *http.Response {
		t.Fatal("no outbound call expected")
		return nil
	})}
	if _, err := e.Enrich(context.Background(), testIdentity, nil); err == nil {
		t.Fatal("expected error for empty excerpts")
	}
}

func TestGateEnforcesMinimumDelay(t *testing.T) {
	clock := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	g := &Gate{
		Delay: time.Second,
		Now:   func() time.Time { return clock },
		Sleep: func(d time.Duration) { clock = clock.Add(d) },
	}

	ctx := context.Background()
	var dispatches []time.Time
	for i := 0; i < 4; i++ {
		if err := g.Wait(ctx); err != nil {
			t.Fatalf("Wait: %v", err)
		}
		dispatches = append(dispatches, clock)
		// Simulate a fast service: only 100ms elapses per call.
		clock = clock.Add(100 * time.Millisecond)
	}

	for i := 1; i < len(dispatches); i++ {
		if gap := dispatches[i].Sub(dispatches[i-1]); gap < time.Second {
			t.Fatalf("dispatch %d only %v after previous", i, gap)
		}
	}
}

func TestGateFirstCallImmediate(t *testing.T) {
	slept := false
	g := &Gate{
		Delay: time.Second,
		Now:   func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) },
		Sleep: func(time.Duration) { slept = true },
	}
	if err := g.Wait(context.Background()); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if slept {
		t.Fatal("first dispatch should not wait")
	}
}

func TestGateCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	g := &Gate{Delay: time.Second}
	if err := g.Wait(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestRetryPolicyBackoffDoubles(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 4, BaseDelay: time.Second}
	for attempt, want := range map[int]time.Duration{1: time.Second, 2: 2 * time.Second, 3: 4 * time.Second} {
		if got := p.Backoff(attempt); got != want {
			t.Fatalf("Backoff(%d) = %v, want %v", attempt, got, want)
		}
	}
}
