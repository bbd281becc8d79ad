// Package conflict detects contradictions between findings that share a
// (subject, attribute) key and grades and resolves them.
package conflict

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"

	"sleuth/internal/claim"
	"sleuth/internal/types"
)

// Key identifies a (subject, attribute) population. Subject is canonical.
type Key struct {
	Subject   string
	Attribute string
}

func (k Key) String() string { return k.Subject + "/" + k.Attribute }

// ID returns the deterministic conflict id for the key.
func (k Key) ID() string {
	sum := sha256.Sum256([]byte(k.Subject + "\x00" + k.Attribute))
	return "conflict-" + hex.EncodeToString(sum[:])[:12]
}

type entry struct {
	finding types.Finding
	value   claim.Value
	// maxDivergent is the highest credibility among entries diverging from
	// this one, or -1 when nothing diverges.
	maxDivergent float64
}

func (e *entry) isMember() bool { return e.maxDivergent >= 0 }

type bucket struct {
	key      Key
	entries  []*entry
	worstMin float64 // max over divergent pairs of min(credibility); -1 when none
	conflict *types.Conflict
}

// Index holds findings grouped by key along with each key's conflict.
type Index struct {
	resolver  *types.Resolver
	tolerance float64
	buckets   map[Key]*bucket
}

// NewIndex creates an empty index. Subjects are canonicalized by resolver,
// which may be nil.
func NewIndex(resolver *types.Resolver, tolerance float64) *Index {
	return &Index{resolver: resolver, tolerance: tolerance, buckets: make(map[Key]*bucket)}
}

// KeyOf returns the key a finding belongs to.
func (ix *Index) KeyOf(f types.Finding) Key {
	return Key{
		Subject:   ix.resolver.Canonical(f.Subject, f.SubjectType),
		Attribute: strings.ToLower(strings.TrimSpace(f.Attribute)),
	}
}

// add inserts f and updates divergence bookkeeping in O(k).
func (ix *Index) add(f types.Finding) *bucket {
	k := ix.KeyOf(f)
	b, ok := ix.buckets[k]
	if !ok {
		b = &bucket{key: k, worstMin: -1}
		ix.buckets[k] = b
	}
	for _, e := range b.entries {
		if e.finding.ID == f.ID {
			return b
		}
	}

	ne := &entry{finding: f, value: claim.ParseFor(k.Attribute, f.Claim), maxDivergent: -1}
	for _, e := range b.entries {
		if !claim.Diverges(e.value, ne.value, ix.tolerance) {
			continue
		}
		ec, nc := e.finding.SourceCredibility, f.SourceCredibility
		e.maxDivergent = max(e.maxDivergent, nc)
		ne.maxDivergent = max(ne.maxDivergent, ec)
		b.worstMin = max(b.worstMin, min(ec, nc))
	}
	b.entries = append(b.entries, ne)
	return b
}

// Findings returns the findings of a key in insertion order.
func (ix *Index) Findings(k Key) []types.Finding {
	b, ok := ix.buckets[k]
	if !ok {
		return nil
	}
	out := make([]types.Finding, len(b.entries))
	for i, e := range b.entries {
		out[i] = e.finding
	}
	return out
}

// Conflict returns the current conflict of a key, or nil.
func (ix *Index) Conflict(k Key) *types.Conflict {
	if b, ok := ix.buckets[k]; ok {
		return b.conflict
	}
	return nil
}

// Keys returns all populated keys sorted by subject then attribute.
func (ix *Index) Keys() []Key {
	keys := make([]Key, 0, len(ix.buckets))
	for k := range ix.buckets {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Subject != keys[j].Subject {
			return keys[i].Subject < keys[j].Subject
		}
		return keys[i].Attribute < keys[j].Attribute
	})
	return keys
}

// Len returns the number of indexed findings.
func (ix *Index) Len() int {
	n := 0
	for _, b := range ix.buckets {
		n += len(b.entries)
	}
	return n
}

func (b *bucket) members() []string {
	var ids []string
	for _, e := range b.entries {
		if e.isMember() {
			ids = append(ids, e.finding.ID)
		}
	}
	sort.Strings(ids)
	return ids
}
