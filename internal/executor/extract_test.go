package executor

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
)

func TestExtract(t *testing.T) {
	tests := []struct {
		name   string
		text   string
		wanted []string
		want   []Extracted
	}{
		{
			name: "revenue and headcount",
			text: "Acme Corp reported annual revenue of $10.2 million and has 250 employees.",
			want: []Extracted{{"revenue", "$10.2 million"}, {"employees", "250"}},
		},
		{
			name: "net loss is negative",
			text: "The company posted a net loss of $3.1M in 2023.",
			want: []Extracted{{"net_income", "-$3.1M"}},
		},
		{
			name: "funding and valuation",
			text: "Acme raised $25 million in a Series B. The round valued the company at $300M.",
			want: []Extracted{{"funding", "$25 million"}, {"valuation", "$300M"}},
		},
		{
			name: "founding and location",
			text: "Founded in 2009, Acme is headquartered in Austin, Texas.",
			want: []Extracted{{"founded", "2009"}, {"headquarters", "Austin, Texas"}},
		},
		{
			name: "ceo",
			text: "Chief Executive Officer Jane Smith said sales were up.",
			want: []Extracted{{"ceo", "Jane Smith"}},
		},
		{
			name: "legal status",
			text: "Acme was sued by a supplier and later filed for Chapter 11 bankruptcy.",
			want: []Extracted{{"lawsuit", "litigation reported"}, {"status", "bankrupt"}},
		},
		{
			name:   "restricted to wanted",
			text:   "Acme reported revenue of $10M and has 250 employees.",
			wanted: []string{"Employees"},
			want:   []Extracted{{"employees", "250"}},
		},
		{
			name: "nothing",
			text: "A quiet day with no figures.",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Extract(tt.text, tt.wanted)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("Extract() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestStripMarkup(t *testing.T) {
	tests := map[string]string{
		"plain   text\n here":                          "plain text here",
		"<p>Revenue of <b>$10M</b></p>":                "Revenue of $10M",
		"<script>var x = 1;</script><p>Body</p>":       "Body",
		"<style>p{}</style>Fish &amp; Chips<br/>Later": "Fish & Chips Later",
	}
	for in, want := range tests {
		assert.Equal(t, want, StripMarkup(in), "input %q", in)
	}
}

func TestCredibility(t *testing.T) {
	tests := map[string]float64{
		"https://www.sec.gov/cgi-bin/browse-edgar": CredibilityOfficial,
		"https://www.courtlistener.com/docket/1":   CredibilityOfficial,
		"https://data.ca.gov/dataset":              CredibilityOfficial,
		"https://www.reuters.com/business/acme":    CredibilityWire,
		"https://www.nytimes.com/2024/acme":        CredibilityPress,
		"https://opencorporates.com/companies/x":   CredibilityFilings,
		"https://investors.acme.com/annual":        CredibilityFilings,
		"https://old.reddit.com/r/acme":            CredibilitySocial,
		"https://acme-fan-blog.net/post":           CredibilityUnknown,
		"not a url":                                CredibilityUnknown,
	}
	for u, want := range tests {
		assert.Equal(t, want, Credibility(u), u)
	}
}
