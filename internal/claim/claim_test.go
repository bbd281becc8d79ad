package claim

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseNumeric(t *testing.T) {
	tests := []struct {
		raw  string
		want float64
		unit string
	}{
		{"$10M", 10e6, "USD"},
		{"10.2 million", 10.2e6, ""},
		{"$10.2M", 10.2e6, "USD"},
		{"1,200 employees", 1200, ""},
		{"4.5B", 4.5e9, ""},
		{"12%", 12, "%"},
		{"approximately 300 staff", 300, ""},
		{"EUR 2bn", 2e9, "EUR"},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			v := Parse(tt.raw)
			require.Equal(t, KindNumeric, v.Kind, v.Kind.String())
			assert.InDelta(t, tt.want, v.Number, 1e-6)
			assert.Equal(t, tt.unit, v.Unit)
		})
	}
}

func TestParseDates(t *testing.T) {
	v := ParseFor("founded", "2019")
	require.Equal(t, KindDate, v.Kind)
	assert.Equal(t, 2019, v.From.Year())
	assert.Equal(t, 2020, v.To.Year())

	assert.Equal(t, KindNumeric, Parse("2019").Kind)
	assert.Equal(t, KindDate, Parse("March 2020").Kind)
	assert.Equal(t, KindDate, Parse("2021-06-30").Kind)
	assert.Equal(t, KindDate, Parse("2019-2021").Kind)
}

func TestParseText(t *testing.T) {
	v := Parse("  Springfield, IL ")
	assert.Equal(t, KindText, v.Kind)
	assert.Equal(t, "springfield il", v.Text)
}

func TestDivergesNumeric(t *testing.T) {
	assert.True(t, Diverges(Parse("$10M"), Parse("$4M"), 0.05))
	assert.False(t, Diverges(Parse("$10M"), Parse("10.2 million"), 0.05))
	assert.True(t, Diverges(Parse("$10M"), Parse("$10.6M"), 0.05))
	assert.False(t, Diverges(Parse("0"), Parse("0"), 0.05))
}

func TestDivergesDates(t *testing.T) {
	assert.False(t, Diverges(ParseFor("founded", "2019"), Parse("March 2019"), 0.05))
	assert.True(t, Diverges(ParseFor("founded", "2019"), ParseFor("founded", "2020"), 0.05))
	assert.False(t, Diverges(Parse("2018-2020"), ParseFor("founded", "2020"), 0.05))
}

func TestDivergesUnitsAndText(t *testing.T) {
	assert.True(t, Diverges(Parse("12%"), Parse("$12"), 0.05))
	assert.False(t, Diverges(Parse("Jane Doe"), Parse("jane  doe."), 0.05))
	assert.True(t, Diverges(Parse("Jane Doe"), Parse("John Roe"), 0.05))
}

func TestDivergesIsSymmetric(t *testing.T) {
	values := []string{"$10M", "$4M", "10.2 million", "2019", "March 2019", "Acme", "acme", "12%"}
	for _, a := range values {
		for _, b := range values {
			va, vb := ParseFor("founded", a), ParseFor("founded", b)
			assert.Equal(t, Diverges(va, vb, 0.05), Diverges(vb, va, 0.05), "%s vs %s", a, b)
		}
	}
}

func TestIsDateAttribute(t *testing.T) {
	assert.True(t, IsDateAttribute("founded"))
	assert.True(t, IsDateAttribute("filing_date"))
	assert.False(t, IsDateAttribute("revenue"))
}
