// Package web implements provider.Searcher against the DuckDuckGo HTML
// endpoint. No API key is required.
package web

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/html"

	"sleuth/internal/logging"
	"sleuth/internal/provider"
)

const providerName = "duckduckgo"

// Config configures the searcher.
type Config struct {
	Endpoint  string
	UserAgent string
	Timeout   time.Duration
}

// Searcher queries DuckDuckGo.
type Searcher struct {
	cfg    Config
	client *http.Client
}

// New creates a Searcher. A nil client uses a default one bounded by cfg.Timeout.
func New(cfg Config, client *http.Client) *Searcher {
	if cfg.Endpoint == "" {
		cfg.Endpoint = "https://html.duckduckgo.com/html/"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	return &Searcher{cfg: cfg, client: client}
}

// Search runs one query. Domain filters become site: operators.
func (s *Searcher) Search(ctx context.Context, query string, f provider.SearchFilters) ([]provider.Document, error) {
	maxResults := f.MaxResults
	if maxResults <= 0 {
		maxResults = 10
	}
	if maxResults > 30 {
		maxResults = 30
	}

	q := buildQuery(query, f.Domains)
	logging.ResearchDebug("Web search: query=%q, max_results=%d", q, maxResults)

	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	searchURL := s.cfg.Endpoint + "?q=" + url.QueryEscape(q)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, searchURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if s.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", s.cfg.UserAgent)
	}
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.5")

	resp, err := s.client.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		return nil, provider.NewError(providerName, provider.KindUnavailable, err)
	}
	defer resp.Body.Close()

	if perr := provider.FromStatus(providerName, resp.StatusCode); perr != nil {
		logging.ResearchWarn("Web search failed: %v", perr)
		return nil, perr
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, provider.NewError(providerName, provider.KindUnavailable, fmt.Errorf("failed to read response: %w", err))
	}

	docs, err := parseResults(string(body), maxResults)
	if err != nil {
		return nil, provider.NewError(providerName, provider.KindUnavailable, err)
	}
	docs = filterDomains(docs, f.Domains)
	logging.Research("Web search completed: %d results for %q", len(docs), q)
	return docs, nil
}

func buildQuery(query string, domains []string) string {
	if len(domains) == 0 {
		return query
	}
	sites := make([]string, len(domains))
	for i, d := range domains {
		sites[i] = "site:" + d
	}
	return query + " (" + strings.Join(sites, " OR ") + ")"
}

// filterDomains drops hits outside the requested domains; DuckDuckGo treats
// site: operators as hints.
func filterDomains(docs []provider.Document, domains []string) []provider.Document {
	if len(domains) == 0 {
		return docs
	}
	out := docs[:0]
	for _, d := range docs {
		u, err := url.Parse(d.URL)
		if err != nil {
			continue
		}
		host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
		for _, want := range domains {
			want = strings.ToLower(want)
			if host == want || strings.HasSuffix(host, "."+want) {
				out = append(out, d)
				break
			}
		}
	}
	return out
}

func parseResults(htmlContent string, maxResults int) ([]provider.Document, error) {
	doc, err := html.Parse(strings.NewReader(htmlContent))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}

	var results []provider.Document
	var find func(*html.Node)
	find = func(n *html.Node) {
		if len(results) >= maxResults {
			return
		}
		if n.Type == html.ElementNode && n.Data == "div" {
			class := attr(n, "class")
			if strings.Contains(class, "result") && strings.Contains(class, "results_links") {
				if r := extractResult(n); r.URL != "" && r.Title != "" {
					results = append(results, r)
				}
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			find(c)
		}
	}
	find(doc)
	return results, nil
}

func extractResult(n *html.Node) provider.Document {
	var r provider.Document
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "a" {
			class := attr(n, "class")
			switch {
			case strings.Contains(class, "result__a"):
				r.URL = attr(n, "href")
				r.Title = text(n)
			case strings.Contains(class, "result__snippet"):
				r.Snippet = text(n)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	r.URL = unwrapRedirect(r.URL)
	r.Body = r.Snippet
	return r
}

func unwrapRedirect(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	if strings.HasSuffix(u.Host, "duckduckgo.com") && u.Path == "/l/" {
		if target := u.Query().Get("uddg"); target != "" {
			return target
		}
	}
	return raw
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

// text returns the whitespace-joined text content of n.
func text(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && (n.Data == "script" || n.Data == "style") {
			return
		}
		if n.Type == html.TextNode {
			if t := strings.TrimSpace(n.Data); t != "" {
				sb.WriteString(t)
				sb.WriteString(" ")
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return strings.TrimSpace(sb.String())
}
