package web

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sleuth/internal/provider"
)

const resultsPage = `<html><body>
<div class="result results_links results_links_deep web-result">
  <h2><a class="result__a" href="//duckduckgo.com/l/?uddg=https%3A%2F%2Fwww.sec.gov%2Facme&amp;rut=abc">Acme Corp 10-K</a></h2>
  <a class="result__snippet" href="#">Acme reported revenue of <b>$10.2 million</b> for fiscal 2023.</a>
</div>
<div class="result results_links results_links_deep web-result">
  <h2><a class="result__a" href="https://blog.example.com/acme">Acme rumors</a></h2>
  <a class="result__snippet" href="#">Revenue around $4M.</a>
</div>
<div class="result results_links web-result">
  <h2><a class="result__a" href="">No url</a></h2>
</div>
</body></html>`

func TestSearchParsesResults(t *testing.T) {
	var gotQuery, gotUA string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query().Get("q")
		gotUA = r.Header.Get("User-Agent")
		_, _ = w.Write([]byte(resultsPage))
	}))
	defer srv.Close()

	s := New(Config{Endpoint: srv.URL + "/html/", UserAgent: "sleuth-test"}, srv.Client())
	docs, err := s.Search(context.Background(), "Acme Corp revenue", provider.SearchFilters{})
	require.NoError(t, err)

	assert.Equal(t, "Acme Corp revenue", gotQuery)
	assert.Equal(t, "sleuth-test", gotUA)
	require.Len(t, docs, 2)
	assert.Equal(t, "https://www.sec.gov/acme", docs[0].URL)
	assert.Equal(t, "Acme Corp 10-K", docs[0].Title)
	assert.Equal(t, "Acme reported revenue of $10.2 million for fiscal 2023.", docs[0].Snippet)
}

func TestSearchAppliesDomainFilter(t *testing.T) {
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query().Get("q")
		_, _ = w.Write([]byte(resultsPage))
	}))
	defer srv.Close()

	s := New(Config{Endpoint: srv.URL}, srv.Client())
	docs, err := s.Search(context.Background(), "Acme", provider.SearchFilters{Domains: []string{"sec.gov", "courtlistener.com"}})
	require.NoError(t, err)

	assert.Equal(t, "Acme (site:sec.gov OR site:courtlistener.com)", gotQuery)
	require.Len(t, docs, 1)
	assert.Equal(t, "https://www.sec.gov/acme", docs[0].URL)
}

func TestSearchMaxResults(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(resultsPage))
	}))
	defer srv.Close()

	docs, err := New(Config{Endpoint: srv.URL}, srv.Client()).Search(context.Background(), "Acme", provider.SearchFilters{MaxResults: 1})
	require.NoError(t, err)
	assert.Len(t, docs, 1)
}

func TestSearchClassifiesStatus(t *testing.T) {
	tests := []struct {
		status    int
		kind      provider.ErrorKind
		retryable bool
	}{
		{http.StatusTooManyRequests, provider.KindRateLimited, true},
		{http.StatusServiceUnavailable, provider.KindUnavailable, true},
		{http.StatusForbidden, provider.KindInvalidCredentials, false},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			_, err := New(Config{Endpoint: srv.URL}, srv.Client()).Search(context.Background(), "q", provider.SearchFilters{})
			pe, ok := provider.AsError(err)
			require.True(t, ok, "expected provider error, got %v", err)
			assert.Equal(t, tt.kind, pe.Kind)
			assert.Equal(t, tt.retryable, pe.Retryable())
		})
	}
}

func TestSearchHonorsCancellation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New(Config{Endpoint: srv.URL}, srv.Client()).Search(ctx, "q", provider.SearchFilters{})
	assert.ErrorIs(t, err, context.Canceled)
}
