package executor

import (
	"net/url"
	"strings"
)

// Credibility tiers by source domain.
const (
	CredibilityOfficial = 0.95
	CredibilityFilings  = 0.8
	CredibilityWire     = 0.85
	CredibilityPress    = 0.75
	CredibilityUnknown  = 0.5
	CredibilitySocial   = 0.3
)

var (
	officialDomains = []string{
		"sec.gov", "irs.gov", "ftc.gov", "justice.gov", "treasury.gov", "uscourts.gov",
		"supremecourt.gov", "bls.gov", "census.gov", "federalregister.gov", "govinfo.gov",
		"gpo.gov", "uspto.gov", "courtlistener.com", "pacer.gov", "law.cornell.edu",
	}
	filingDomains = []string{
		"opencorporates.com", "corporationwiki.com", "bizapedia.com", "annualreports.com",
		"companieshouse.gov.uk", "find-and-update.company-information.service.gov.uk",
	}
	wireDomains = []string{
		"reuters.com", "apnews.com", "ap.org", "bloomberg.com", "afp.com",
	}
	pressDomains = []string{
		"wsj.com", "ft.com", "nytimes.com", "washingtonpost.com", "bbc.com", "bbc.co.uk",
		"npr.org", "pbs.org", "theguardian.com", "economist.com", "cnbc.com", "forbes.com",
		"marketwatch.com", "morningstar.com", "finance.yahoo.com", "factcheck.org",
		"politifact.com", "snopes.com",
	}
	socialDomains = []string{
		"reddit.com", "twitter.com", "x.com", "facebook.com", "instagram.com", "tiktok.com",
		"quora.com", "medium.com", "substack.com", "linkedin.com", "youtube.com",
	}
)

// Credibility scores a source URL by its domain tier.
func Credibility(rawURL string) float64 {
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return CredibilityUnknown
	}
	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")

	switch {
	case matches(host, officialDomains):
		return CredibilityOfficial
	case matches(host, filingDomains):
		return CredibilityFilings
	case matches(host, wireDomains):
		return CredibilityWire
	case matches(host, pressDomains):
		return CredibilityPress
	case matches(host, socialDomains):
		return CredibilitySocial
	case strings.HasSuffix(host, ".gov") || strings.HasSuffix(host, ".mil") || strings.Contains(host, ".gov."):
		return CredibilityOfficial
	case strings.HasPrefix(host, "investor.") || strings.HasPrefix(host, "investors.") || strings.HasPrefix(host, "ir."):
		return CredibilityFilings
	}
	return CredibilityUnknown
}

func matches(host string, domains []string) bool {
	for _, d := range domains {
		if host == d || strings.HasSuffix(host, "."+d) {
			return true
		}
	}
	return false
}
