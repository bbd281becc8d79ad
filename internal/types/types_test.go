package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEntityKeyNormalizes(t *testing.T) {
	a := Entity{Name: "  Acme   Corp. ", Type: EntityCompany}
	b := Entity{Name: "acme corp", Type: EntityCompany}
	c := Entity{Name: "acme corp", Type: EntityPerson}

	assert.Equal(t, a.Key(), b.Key())
	assert.NotEqual(t, b.Key(), c.Key())
}

func TestResolverAliases(t *testing.T) {
	r := NewResolver([]Entity{
		{Name: "Acme Corporation", Type: EntityCompany, Aliases: []string{"Acme Corp", "ACME"}},
	})

	assert.Equal(t, "acme corporation", r.Canonical("acme corp", ""))
	assert.Equal(t, "acme corporation", r.Canonical("ACME", EntityCompany))
	assert.Equal(t, "globex", r.Canonical("Globex", ""))

	var nilResolver *Resolver
	assert.Equal(t, "acme corp", nilResolver.Canonical("Acme Corp", EntityCompany))
}

func TestResolverSeparatesSameNameByType(t *testing.T) {
	r := NewResolver([]Entity{
		{Name: "Jordan", Type: EntityPerson, Aliases: []string{"Michael Jordan"}},
		{Name: "Jordan", Type: EntityPlace},
		{Name: "Acme Corp", Type: EntityCompany},
	})

	person := r.Canonical("jordan", EntityPerson)
	place := r.Canonical("Jordan", EntityPlace)
	assert.Equal(t, "jordan (person)", person)
	assert.Equal(t, "jordan (place)", place)
	assert.Equal(t, person, r.Canonical("Michael Jordan", ""), "alias is unambiguous")
	assert.Equal(t, "jordan", r.Canonical("Jordan", ""), "untyped ambiguous name stays unqualified")
	assert.Equal(t, "jordan (company)", r.Canonical("Jordan", EntityCompany))

	// A name held by one entity is not qualified, typed or not.
	assert.Equal(t, "acme corp", r.Canonical("Acme Corp", EntityCompany))
	assert.Equal(t, "acme corp", r.Canonical("Acme Corp", ""))
}

func TestFindingValidate(t *testing.T) {
	f := Finding{ID: "f1", Subject: "Acme", Attribute: "revenue", SourceCredibility: 0.9, RelevanceScore: 0.5}
	assert.NoError(t, f.Validate())

	bad := f
	bad.SourceCredibility = 1.2
	assert.Error(t, bad.Validate())

	bad = f
	bad.Attribute = ""
	assert.Error(t, bad.Validate())
}

func TestSourceHost(t *testing.T) {
	tests := []struct {
		url  string
		want string
	}{
		{"https://www.Reuters.com/markets/acme", "reuters.com"},
		{"http://sec.gov/cgi-bin/browse", "sec.gov"},
		{"not a url", "finding:f1"},
	}
	for _, tt := range tests {
		f := Finding{ID: "f1", SourceURL: tt.url}
		assert.Equal(t, tt.want, f.SourceHost(), tt.url)
	}
}

func TestSeverityRank(t *testing.T) {
	assert.Greater(t, SeverityHigh.Rank(), SeverityMedium.Rank())
	assert.Greater(t, SeverityMedium.Rank(), SeverityLow.Rank())
	assert.Zero(t, Severity("bogus").Rank())
}

func TestSignificantEntities(t *testing.T) {
	a := Analysis{Entities: []Entity{
		{Name: "Acme", Significance: SignificancePrimary},
		{Name: "Bob", Significance: SignificanceMentioned},
		{Name: "Globex", Significance: SignificanceRelationship},
	}, Domains: []string{"financial"}}

	got := a.SignificantEntities()
	assert.Len(t, got, 2)
	assert.True(t, a.HasDomain("financial"))
	assert.False(t, a.HasDomain("legal"))
}
