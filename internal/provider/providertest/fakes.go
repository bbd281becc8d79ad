// Package providertest provides scripted provider fakes for tests.
package providertest

import (
	"context"
	"strings"
	"sync"

	"sleuth/internal/provider"
)

// Response is one scripted search result.
type Response struct {
	Docs []provider.Document
	Err  error
}

// Searcher answers queries from a script. Queries are matched by substring,
// longest pattern first; unmatched queries return no documents.
type Searcher struct {
	mu      sync.Mutex
	script  map[string][]Response // consumed front to back; the last entry repeats
	calls   []string
	block   map[string]chan struct{}
	started chan string
}

// NewSearcher creates an empty script.
func NewSearcher() *Searcher {
	return &Searcher{script: map[string][]Response{}, block: map[string]chan struct{}{}}
}

// On appends responses for queries containing pattern.
func (s *Searcher) On(pattern string, responses ...Response) *Searcher {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.script[pattern] = append(s.script[pattern], responses...)
	return s
}

// Docs is shorthand for a successful response.
func (s *Searcher) Docs(pattern string, docs ...provider.Document) *Searcher {
	return s.On(pattern, Response{Docs: docs})
}

// Block makes queries containing pattern wait until Release or ctx ends.
func (s *Searcher) Block(pattern string) *Searcher {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.block[pattern] = make(chan struct{})
	return s
}

// Release unblocks pattern.
func (s *Searcher) Release(pattern string) {
	s.mu.Lock()
	ch, ok := s.block[pattern]
	delete(s.block, pattern)
	s.mu.Unlock()
	if ok {
		close(ch)
	}
}

// Started returns a channel receiving each query as it begins. It must be
// requested before the searches it should observe.
func (s *Searcher) Started() <-chan string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started == nil {
		s.started = make(chan string, 256)
	}
	return s.started
}

// Calls returns every query received, in order.
func (s *Searcher) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

// Search implements provider.Searcher.
func (s *Searcher) Search(ctx context.Context, query string, f provider.SearchFilters) ([]provider.Document, error) {
	s.mu.Lock()
	s.calls = append(s.calls, query)
	if s.started != nil {
		select {
		case s.started <- query:
		default:
		}
	}
	var gate chan struct{}
	for p, ch := range s.block {
		if strings.Contains(query, p) {
			gate = ch
			break
		}
	}
	s.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	pattern, ok := s.match(query)
	if !ok {
		return nil, nil
	}
	queue := s.script[pattern]
	resp := queue[0]
	if len(queue) > 1 {
		s.script[pattern] = queue[1:]
	}
	if resp.Err != nil {
		return nil, resp.Err
	}
	docs := resp.Docs
	if f.MaxResults > 0 && len(docs) > f.MaxResults {
		docs = docs[:f.MaxResults]
	}
	return append([]provider.Document(nil), docs...), nil
}

func (s *Searcher) match(query string) (string, bool) {
	best := ""
	found := false
	for p, queue := range s.script {
		if len(queue) == 0 || !strings.Contains(query, p) {
			continue
		}
		if !found || len(p) > len(best) || (len(p) == len(best) && p < best) {
			best, found = p, true
		}
	}
	return best, found
}

// Generator returns canned text.
type Generator struct {
	mu      sync.Mutex
	Reply   func(prompt string) (string, error)
	prompts []string
}

// NewGenerator returns a Generator that always answers text.
func NewGenerator(text string) *Generator {
	return &Generator{Reply: func(string) (string, error) { return text, nil }}
}

// Generate implements provider.Generator.
func (g *Generator) Generate(ctx context.Context, prompt string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	g.mu.Lock()
	g.prompts = append(g.prompts, prompt)
	reply := g.Reply
	g.mu.Unlock()
	return reply(prompt)
}

// Prompts returns every prompt received.
func (g *Generator) Prompts() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.prompts...)
}
