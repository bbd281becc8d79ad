// Package executor runs a single research task against the search
// provider and streams the findings it produces.
package executor

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strings"
	"sync/atomic"
	"time"
	"unicode"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"sleuth/internal/logging"
	"sleuth/internal/plan"
	"sleuth/internal/provider"
	"sleuth/internal/types"
)

var (
	// ErrExhausted is yielded when a finding sequence is ranged a second time.
	ErrExhausted = errors.New("finding sequence already consumed")
	// ErrCancelled is yielded when the caller's context is cancelled.
	ErrCancelled = errors.New("research unit cancelled")
)

// TimeoutError reports that a node's deadline expired.
type TimeoutError struct {
	NodeID string
	After  time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("node %s timed out after %v", e.NodeID, e.After.Round(time.Millisecond))
}

// Config configures research units.
type Config struct {
	RelevanceFloor      float64
	ProviderConcurrency int
	MaxResults          int
}

// DefaultConfig returns the standard executor settings.
func DefaultConfig() Config {
	return Config{RelevanceFloor: 0.3, ProviderConcurrency: 3, MaxResults: 8}
}

// Executor turns task nodes into findings. Provider calls from all
// concurrently running nodes share one concurrency limit.
type Executor struct {
	cfg      Config
	searcher provider.Searcher
	sem      *semaphore.Weighted
	now      func() time.Time
	newID    func() string
}

// New creates an Executor.
func New(cfg Config, searcher provider.Searcher) *Executor {
	if cfg.ProviderConcurrency < 1 {
		cfg.ProviderConcurrency = 1
	}
	return &Executor{
		cfg:      cfg,
		searcher: searcher,
		sem:      semaphore.NewWeighted(int64(cfg.ProviderConcurrency)),
		now:      time.Now,
		newID:    uuid.NewString,
	}
}

// WithClock replaces the timestamp source.
func (e *Executor) WithClock(now func() time.Time) *Executor {
	e.now = now
	return e
}

// Execute returns a lazy, single-use sequence of findings for node. Each
// finding is yielded as soon as it is extracted. A failure is yielded as
// the final element: *provider.Error, *TimeoutError or ErrCancelled.
// query fills {query} in the strategy templates. node is read but never
// modified.
func (e *Executor) Execute(ctx context.Context, node *plan.TaskNode, query string) iter.Seq2[types.Finding, error] {
	var used atomic.Bool
	return func(yield func(types.Finding, error) bool) {
		if used.Swap(true) {
			yield(types.Finding{}, ErrExhausted)
			return
		}
		e.run(ctx, node, query, yield)
	}
}

func (e *Executor) run(ctx context.Context, node *plan.TaskNode, query string, yield func(types.Finding, error) bool) {
	start := e.now()
	timer := logging.StartTimer(logging.CategoryResearch, "Execute "+node.ID)
	defer timer.Stop()

	queries := node.Strategy.Expand(node.Subject, query)
	if len(queries) == 0 {
		queries = []string{strings.TrimSpace(node.Subject + " " + query)}
	}
	filters := provider.SearchFilters{
		Domains:    node.Strategy.Domains,
		Since:      node.Strategy.Since,
		Until:      node.Strategy.Until,
		MaxResults: node.Strategy.MaxResults,
	}
	if filters.MaxResults <= 0 {
		filters.MaxResults = e.cfg.MaxResults
	}

	seen := make(map[string]bool)
	produced := 0
	for _, q := range queries {
		docs, err := e.search(ctx, q, filters)
		if err != nil {
			err = e.classify(ctx, node.ID, start, err)
			logging.ResearchWarn("Node %s query %q failed: %v", node.ID, q, err)
			yield(types.Finding{}, err)
			return
		}
		terms := queryTerms(node.Subject + " " + q)
		for _, doc := range docs {
			for _, f := range e.findings(node, doc, terms) {
				dedup := f.SourceURL + "\x00" + f.Attribute + "\x00" + f.Claim
				if seen[dedup] {
					continue
				}
				seen[dedup] = true
				produced++
				if !yield(f, nil) {
					return
				}
			}
		}
		if err := ctx.Err(); err != nil {
			yield(types.Finding{}, e.classify(ctx, node.ID, start, err))
			return
		}
	}
	logging.Research("Node %s produced %d findings from %d queries", node.ID, produced, len(queries))
}

func (e *Executor) search(ctx context.Context, q string, f provider.SearchFilters) ([]provider.Document, error) {
	if err := e.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer e.sem.Release(1)
	logging.ResearchDebug("Searching %q (domains=%v)", q, f.Domains)
	return e.searcher.Search(ctx, q, f)
}

func (e *Executor) classify(ctx context.Context, nodeID string, start time.Time, err error) error {
	if _, ok := provider.AsError(err); ok {
		return err
	}
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded), errors.Is(err, context.DeadlineExceeded):
		after := e.now().Sub(start)
		if dl, ok := ctx.Deadline(); ok {
			after = dl.Sub(start)
		}
		return &TimeoutError{NodeID: nodeID, After: after}
	case errors.Is(ctx.Err(), context.Canceled), errors.Is(err, context.Canceled):
		return ErrCancelled
	}
	return provider.NewError("search", provider.KindUnavailable, err)
}

func (e *Executor) findings(node *plan.TaskNode, doc provider.Document, terms []string) []types.Finding {
	text := strings.Join([]string{doc.Title, StripMarkup(doc.Snippet), StripMarkup(doc.Body)}, " ")
	relevance := Relevance(node.Subject, terms, text)
	if relevance < e.cfg.RelevanceFloor {
		logging.ResearchDebug("Dropping %s for node %s: relevance %.2f", doc.URL, node.ID, relevance)
		return nil
	}
	cred := Credibility(doc.URL)
	now := e.now()

	var out []types.Finding
	for _, x := range Extract(text, node.Strategy.Attributes) {
		out = append(out, types.Finding{
			ID:                e.newID(),
			SourceURL:         doc.URL,
			Subject:           node.Subject,
			SubjectType:       node.SubjectType,
			Attribute:         x.Attribute,
			Claim:             x.Claim,
			PublishedDate:     doc.Published,
			SourceCredibility: cred,
			RelevanceScore:    relevance,
			ProducingNodeID:   node.ID,
			Verification:      node.Strategy.Kind == plan.StrategyVerification,
			Timestamp:         now,
		})
	}
	return out
}

var stopwords = map[string]bool{
	"the": true, "a": true, "an": true, "of": true, "and": true, "or": true, "in": true,
	"for": true, "to": true, "on": true, "with": true, "by": true, "is": true, "site": true,
}

func tokenize(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func queryTerms(s string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, t := range tokenize(s) {
		if len(t) < 2 || stopwords[t] || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out
}

// Relevance scores text against a subject and query terms in [0,1]. A
// subject mention is worth 0.6; term overlap supplies the rest.
func Relevance(subject string, terms []string, text string) float64 {
	words := make(map[string]bool)
	for _, t := range tokenize(text) {
		words[t] = true
	}
	if len(words) == 0 {
		return 0
	}

	subjectHit := 0.0
	lower := " " + strings.Join(tokenize(text), " ") + " "
	if subj := strings.Join(tokenize(subject), " "); subj != "" {
		if strings.Contains(lower, " "+subj+" ") {
			subjectHit = 1
		} else if first := queryTerms(subject); len(first) > 0 && words[first[0]] {
			subjectHit = 0.75
		}
	}

	overlap := 0.0
	if len(terms) > 0 {
		hits := 0
		for _, t := range terms {
			if words[t] {
				hits++
			}
		}
		overlap = float64(hits) / float64(len(terms))
	}
	return 0.6*subjectHit + 0.4*overlap
}
