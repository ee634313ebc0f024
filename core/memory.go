package core

import "sort"

// MemoryMap accumulates short natural-language facts per domain (typically a
// connected application identity) across the turns of one conversation. It
// lets the engine hand previously discovered facts back to the tool provider
// instead of re-running lookups.
//
// A MemoryMap is exclusively owned by one conversation's orchestrator and is
// intentionally unsynchronized. Facts within a domain carry set semantics:
// merging is append-only and deduplicating. Clear discards everything.
type MemoryMap struct {
	facts map[string][]string
	seen  map[string]map[string]struct{}
}

// NewMemoryMap creates an empty MemoryMap.
func NewMemoryMap() *MemoryMap {
	return &MemoryMap{
		facts: map[string][]string{},
		seen:  map[string]map[string]struct{}{},
	}
}

// NewMemoryMapFrom seeds a MemoryMap from a persisted snapshot, deduplicating
// on the way in.
func NewMemoryMapFrom(snapshot map[string][]string) *MemoryMap {
	m := NewMemoryMap()
	for domain, facts := range snapshot {
		m.Merge(domain, facts)
	}
	return m
}

// Merge adds facts under the named domain, skipping empty strings and
// duplicates. It returns the number of facts actually added.
func (m *MemoryMap) Merge(domain string, facts []string) int {
	if domain == "" || len(facts) == 0 {
		return 0
	}
	set, ok := m.seen[domain]
	if !ok {
		set = map[string]struct{}{}
		m.seen[domain] = set
	}
	added := 0
	for _, f := range facts {
		if f == "" {
			continue
		}
		if _, dup := set[f]; dup {
			continue
		}
		set[f] = struct{}{}
		m.facts[domain] = append(m.facts[domain], f)
		added++
	}
	return added
}

// MergeAll merges every domain from the update map.
func (m *MemoryMap) MergeAll(update map[string][]string) int {
	added := 0
	for domain, facts := range update {
		added += m.Merge(domain, facts)
	}
	return added
}

// Snapshot returns a deep copy suitable for persistence or injection into
// provider calls. Fact order within a domain is preserved (first merged
// first).
func (m *MemoryMap) Snapshot() map[string][]string {
	out := make(map[string][]string, len(m.facts))
	for domain, facts := range m.facts {
		cp := make([]string, len(facts))
		copy(cp, facts)
		out[domain] = cp
	}
	return out
}

// Domains returns the sorted domain names that hold at least one fact.
func (m *MemoryMap) Domains() []string {
	names := make([]string, 0, len(m.facts))
	for d := range m.facts {
		names = append(names, d)
	}
	sort.Strings(names)
	return names
}

// Len returns the total number of stored facts across all domains.
func (m *MemoryMap) Len() int {
	n := 0
	for _, facts := range m.facts {
		n += len(facts)
	}
	return n
}

// Clear discards all accumulated facts.
func (m *MemoryMap) Clear() {
	m.facts = map[string][]string{}
	m.seen = map[string]map[string]struct{}{}
}
