package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"sleuth/internal/plan"
	"sleuth/internal/session"
	"sleuth/internal/types"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var t0 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func sampleSession(query string) *session.Session {
	published := t0.Add(-48 * time.Hour)
	p := &plan.WorkflowPlan{ID: "plan-1", Query: query, Version: 2, Phases: []*plan.PhaseNode{
		{ID: "discovery", Title: "Discovery", Tasks: []*plan.TaskNode{
			{ID: "discovery/acme-background", Subject: "Acme Corp", Priority: 8, State: plan.StateCompleted,
				Strategy: plan.TaskStrategy{Kind: plan.StrategyWebSearch, Queries: []string{"{entity} overview"}},
				Attempts: 1, StartedAt: &t0, FinishedAt: &t0},
		}},
		{ID: "financial", DependsOn: []string{"discovery"}, Tasks: []*plan.TaskNode{
			{ID: "financial/filings", Subject: "Acme Corp", Priority: 7, State: plan.StateFailed,
				Strategy:  plan.TaskStrategy{Kind: plan.StrategyFinancial, Attributes: []string{"revenue"}},
				LastError: &plan.NodeError{Kind: plan.ErrorUnavailable, Message: "503", Retryable: true, At: t0}},
		}},
	}}
	s := session.New(query, types.Analysis{
		Query:    query,
		Entities: []types.Entity{{Name: "Acme Corp", Type: types.EntityCompany, Significance: types.SignificancePrimary}},
		Domains:  []string{"financial"},
	}, p, t0)
	s.Findings = []types.Finding{
		{ID: "f1", SourceURL: "https://sec.gov/acme", Subject: "Acme Corp", Attribute: "revenue", Claim: "$10M",
			PublishedDate: &published, SourceCredibility: 0.9, RelevanceScore: 0.8, ProducingNodeID: "discovery/acme-background", Timestamp: t0},
	}
	s.PutScore(types.ConfidenceScore{Subject: "acme corp", Attribute: "revenue", Value: 0.41, Findings: 1,
		Factors: []types.Factor{{Name: "corroboration_mass", Value: 0.45, Weight: 0.6}}, ComputedAt: t0})
	return s
}

func roundTrip(t *testing.T, st Store) {
	t.Helper()
	ctx := context.Background()
	s := sampleSession("Acme Corp financial health")

	require.NoError(t, st.Save(ctx, s))
	got, err := st.Load(ctx, s.ID)
	require.NoError(t, err)

	if diff := cmp.Diff(s, got, cmpopts.EquateEmpty()); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}

	_, err = st.Load(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func listing(t *testing.T, st Store) {
	t.Helper()
	ctx := context.Background()
	older := sampleSession("older")
	newer := sampleSession("newer")
	newer.UpdatedAt = t0.Add(time.Hour)
	require.NoError(t, st.Save(ctx, older))
	require.NoError(t, st.Save(ctx, newer))

	// Overwrite keeps a single entry.
	older.Status = session.StatusPaused
	require.NoError(t, st.Save(ctx, older))

	list, err := st.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, newer.ID, list[0].ID)
	assert.Equal(t, session.StatusPaused, list[1].Status)
	assert.Equal(t, 1, list[0].Nodes[plan.StateCompleted])
	assert.Equal(t, 1, list[0].Nodes[plan.StateFailed])
	assert.Equal(t, 1, list[0].Findings)
}

func TestFileStore(t *testing.T) {
	dir := t.TempDir()
	fs, err := NewFileStore(dir)
	require.NoError(t, err)

	t.Run("round trip", func(t *testing.T) { roundTrip(t, fs) })

	fs2, err := NewFileStore(filepath.Join(dir, "list"))
	require.NoError(t, err)
	t.Run("list", func(t *testing.T) { listing(t, fs2) })
}

func TestFileStoreLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	fs, err := NewFileStore(dir)
	require.NoError(t, err)

	s := sampleSession("q")
	for i := 0; i < 5; i++ {
		s.UpdatedAt = t0.Add(time.Duration(i) * time.Minute)
		require.NoError(t, fs.Save(context.Background(), s))
	}
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, s.ID+".json", entries[0].Name())
}

func TestFileStoreSkipsCorruptFiles(t *testing.T) {
	dir := t.TempDir()
	fs, err := NewFileStore(dir)
	require.NoError(t, err)
	require.NoError(t, fs.Save(context.Background(), sampleSession("q")))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.json"), []byte("{"), 0644))

	list, err := fs.List(context.Background())
	require.NoError(t, err)
	assert.Len(t, list, 1)

	_, err = fs.Load(context.Background(), "broken")
	var pe *PersistenceError
	assert.ErrorAs(t, err, &pe)
}

func TestSQLiteStore(t *testing.T) {
	st, err := NewSQLiteStore(filepath.Join(t.TempDir(), "sleuth.db"))
	require.NoError(t, err)
	defer st.Close()

	t.Run("round trip", func(t *testing.T) { roundTrip(t, st) })
}

func TestSQLiteStoreList(t *testing.T) {
	st, err := NewSQLiteStore(filepath.Join(t.TempDir(), "nested", "sleuth.db"))
	require.NoError(t, err)
	defer st.Close()

	listing(t, st)
}

func TestSQLiteStoreSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sleuth.db")
	st, err := NewSQLiteStore(path)
	require.NoError(t, err)
	s := sampleSession("q")
	require.NoError(t, st.Save(context.Background(), s))
	require.NoError(t, st.Close())

	st, err = NewSQLiteStore(path)
	require.NoError(t, err)
	defer st.Close()
	got, err := st.Load(context.Background(), s.ID)
	require.NoError(t, err)
	assert.Equal(t, s.Query, got.Query)
}

func TestMemoryStore(t *testing.T) {
	roundTrip(t, NewMemoryStore())
	listing(t, NewMemoryStore())
}

// Readers racing a writer must always see a complete snapshot.
func TestConcurrentSaveLoadIsAtomic(t *testing.T) {
	fs, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	s := sampleSession("v1")
	require.NoError(t, fs.Save(ctx, s))

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		w := s.Clone()
		for i := 0; i < 50; i++ {
			w.Findings = append(w.Findings, types.Finding{ID: fmt.Sprintf("g%d", i), Claim: "x"})
			w.Query = fmt.Sprintf("v%d", len(w.Findings))
			_ = fs.Save(ctx, w)
		}
	}()

	for i := 0; i < 50; i++ {
		got, err := fs.Load(ctx, s.ID)
		require.NoError(t, err)
		// Query and Findings are written together; a torn write would split them.
		assert.Equal(t, fmt.Sprintf("v%d", len(got.Findings)), got.Query, "iteration %d", i)
	}
	wg.Wait()
}

func TestPersistenceErrorUnwraps(t *testing.T) {
	cause := errors.New("disk full")
	err := persistErr("save", "s1", cause)
	var pe *PersistenceError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "save", pe.Op)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "persistence save s1: disk full", err.Error())

	// Already-typed errors are not double wrapped.
	assert.Same(t, err, persistErr("list", "", err))
}
