package analysis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sleuth/internal/provider"
	"sleuth/internal/provider/providertest"
	"sleuth/internal/types"
)

func TestAnalyzeParsesGeneratorJSON(t *testing.T) {
	gen := providertest.NewGenerator("```json\n" + `{
  "entities": [
    {"name": "Acme Corp", "type": "company", "aliases": ["Acme", "acme corp"], "significance": "primary_subject"},
    {"name": "Jane Smith", "type": "person", "significance": "relationship_target"},
    {"name": "Acme Corp", "type": "company"}
  ],
  "domains": ["Financial", "legal", "astrology", "legal"],
  "complexity": {"level": "moderate", "factors": ["two entities"], "estimated_minutes": 12}
}` + "\n```")

	a, err := New(gen).Analyze(context.Background(), "  Is Acme Corp's CEO Jane Smith in trouble?  ")
	require.NoError(t, err)

	assert.Equal(t, "Is Acme Corp's CEO Jane Smith in trouble?", a.Query)
	require.Len(t, a.Entities, 2)
	assert.Equal(t, types.Entity{
		Name: "Acme Corp", Type: types.EntityCompany, Aliases: []string{"Acme"},
		Significance: types.SignificancePrimary,
	}, a.Entities[0])
	assert.Equal(t, types.SignificanceRelationship, a.Entities[1].Significance)
	assert.Equal(t, []string{"financial", "legal"}, a.Domains)
	assert.Equal(t, types.ComplexityModerate, a.Complexity.Level)
	assert.Equal(t, 12*time.Minute, a.Complexity.EstimatedDuration)
	assert.False(t, a.Degraded)

	prompts := gen.Prompts()
	require.Len(t, prompts, 1)
	assert.Contains(t, prompts[0], "Acme Corp's CEO")
}

func TestAnalyzeUnknownFieldsNormalize(t *testing.T) {
	gen := providertest.NewGenerator(`Here you go: {"entities":[{"name":"Globex","type":"organization","significance":"primary"}],"complexity":{"level":"extreme"}} thanks`)
	a, err := New(gen).Analyze(context.Background(), "Globex")
	require.NoError(t, err)
	require.Len(t, a.Entities, 1)
	assert.Equal(t, types.EntityCompany, a.Entities[0].Type)
	assert.Equal(t, types.SignificancePrimary, a.Entities[0].Significance)
	assert.Equal(t, types.ComplexitySimple, a.Complexity.Level)
}

func TestAnalyzeFallsBackOnBadJSON(t *testing.T) {
	for name, reply := range map[string]string{
		"not json": "I cannot help with that.",
		"empty":    `{"entities": []}`,
	} {
		t.Run(name, func(t *testing.T) {
			q := "Does Acme Corp have any lawsuits?"
			a, err := New(providertest.NewGenerator(reply)).Analyze(context.Background(), q)
			require.NoError(t, err)
			assert.Equal(t, Heuristic(q), a)
		})
	}
}

func TestAnalyzeDegradesOnProviderError(t *testing.T) {
	gen := &providertest.Generator{Reply: func(string) (string, error) {
		return "", provider.NewError("gemini", provider.KindUnavailable, errors.New("503"))
	}}
	a, err := New(gen).Analyze(context.Background(), "Acme Corp revenue")
	require.NoError(t, err)
	assert.True(t, a.Degraded)
	assert.Empty(t, a.Entities)
	assert.Equal(t, types.ComplexityUnknown, a.Complexity.Level)
	assert.Equal(t, "Acme Corp revenue", a.Query)
}

func TestAnalyzeReturnsContextError(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New(providertest.NewGenerator("{}")).Analyze(ctx, "Acme")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestAnalyzeWithoutGenerator(t *testing.T) {
	a, err := New(nil).Analyze(context.Background(), "Acme Corp revenue")
	require.NoError(t, err)
	assert.Equal(t, Heuristic("Acme Corp revenue"), a)
}

func TestHeuristicEntities(t *testing.T) {
	tests := []struct {
		query string
		want  []types.Entity
	}{
		{
			query: "Does Acme Corp have any lawsuits or revenue problems?",
			want: []types.Entity{
				{Name: "Acme Corp", Type: types.EntityCompany, Aliases: []string{"Acme"}, Significance: types.SignificancePrimary},
			},
		},
		{
			query: "Investigate John J. Smith and Globex, Inc.",
			want: []types.Entity{
				{Name: "John J Smith", Type: types.EntityPerson, Significance: types.SignificancePrimary},
				{Name: "Globex Inc", Type: types.EntityCompany, Aliases: []string{"Globex"}, Significance: types.SignificanceRelationship},
			},
		},
		{
			query: "Who owns Initech? Is Initech profitable?",
			want: []types.Entity{
				{Name: "Initech", Type: types.EntityCompany, Significance: types.SignificancePrimary},
			},
		},
		{
			query: "who owns the moon",
		},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			assert.Equal(t, tt.want, Heuristic(tt.query).Entities)
		})
	}
}

func TestHeuristicDomainsAndComplexity(t *testing.T) {
	a := Heuristic("Acme Corp revenue, lawsuits and latest news about the CEO")
	assert.Equal(t, []string{"financial", "legal", "osint", "news"}, a.Domains)
	assert.Equal(t, types.ComplexityComplex, a.Complexity.Level)
	assert.Equal(t, 30*time.Minute, a.Complexity.EstimatedDuration)

	simple := Heuristic("Tell me about Acme Corp")
	assert.Equal(t, []string{"financial", "legal"}, simple.Domains)
	assert.Equal(t, types.ComplexityModerate, simple.Complexity.Level)

	assert.Equal(t, Heuristic("Acme Corp revenue"), Heuristic("Acme Corp revenue"))
}
