package wildcard

import (
	"sort"
	"sync"
)

// GlobalGroup is consulted by every IsSimilar query.
const GlobalGroup = ""

// Filter is a registry of analyzers keyed by group and learning iteration.
// It is safe for concurrent use and is meant to outlive engine stop/start cycles.
type Filter struct {
	mu     sync.RWMutex
	groups map[string]map[int]*VariationsAnalyzer
}

// NewFilter returns an empty filter.
func NewFilter() *Filter {
	return &Filter{groups: make(map[string]map[int]*VariationsAnalyzer)}
}

// Learn feeds sig to the analyzer of (group, iteration), creating it on first use.
func (f *Filter) Learn(group string, iteration int, sig Signature) {
	f.mu.Lock()
	iterations, ok := f.groups[group]
	if !ok {
		iterations = make(map[int]*VariationsAnalyzer)
		f.groups[group] = iterations
	}
	a, ok := iterations[iteration]
	if !ok {
		a = NewVariationsAnalyzer()
		iterations[iteration] = a
	}
	f.mu.Unlock()
	a.Learn(sig)
}

// IsSimilar reports whether sig is a wildcard response. The global group is
// checked first; group is then checked when it names a non-global group.
// Groups without analyzers never match.
func (f *Filter) IsSimilar(group string, sig Signature) bool {
	if f.groupMatches(GlobalGroup, sig) {
		return true
	}
	if group == GlobalGroup {
		return false
	}
	return f.groupMatches(group, sig)
}

func (f *Filter) groupMatches(group string, sig Signature) bool {
	for _, a := range f.analyzers(group) {
		if a.Matches(sig) {
			return true
		}
	}
	return false
}

func (f *Filter) analyzers(group string) []*VariationsAnalyzer {
	f.mu.RLock()
	defer f.mu.RUnlock()
	iterations := f.groups[group]
	out := make([]*VariationsAnalyzer, 0, len(iterations))
	for _, a := range iterations {
		out = append(out, a)
	}
	return out
}

// HasGroup reports whether anything was learned for group. Callers use it to
// tell "never learned" apart from "learned and distinct".
func (f *Filter) HasGroup(group string) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.groups[group]) > 0
}

// Groups lists the learned group keys, sorted.
func (f *Filter) Groups() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]string, 0, len(f.groups))
	for g := range f.groups {
		out = append(out, g)
	}
	sort.Strings(out)
	return out
}

// Analyzer returns the analyzer of (group, iteration), or nil.
func (f *Filter) Analyzer(group string, iteration int) *VariationsAnalyzer {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.groups[group][iteration]
}

// Reset forgets everything learned.
func (f *Filter) Reset() {
	f.mu.Lock()
	f.groups = make(map[string]map[int]*VariationsAnalyzer)
	f.mu.Unlock()
}
