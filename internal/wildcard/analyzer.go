package wildcard

import "sync"

// VariationsAnalyzer learns which signature fields stay constant across samples.
//
// The first sample becomes the baseline and every field starts invariant.
// Each later sample compares the still invariant fields against the baseline
// and moves any that differ to the variant set. A variant field never returns
// to invariant, so the invariant set only shrinks as samples accumulate.
type VariationsAnalyzer struct {
	mu        sync.RWMutex
	baseline  Signature
	invariant FieldSet
	variant   FieldSet
	samples   int
}

// NewVariationsAnalyzer returns an analyzer with no baseline.
func NewVariationsAnalyzer() *VariationsAnalyzer {
	return &VariationsAnalyzer{}
}

// Learn adds one sample.
func (a *VariationsAnalyzer) Learn(sig Signature) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.samples++
	if a.samples == 1 {
		a.baseline = sig
		a.invariant = AllFields
		a.variant = 0
		return
	}
	for _, f := range a.invariant.Fields() {
		if a.baseline.values[f] != sig.values[f] {
			a.invariant = a.invariant.without(f)
			a.variant = a.variant.with(f)
		}
	}
}

// Matches reports whether sig equals the baseline on every invariant field.
// An analyzer without samples matches nothing.
func (a *VariationsAnalyzer) Matches(sig Signature) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.samples == 0 {
		return false
	}
	for _, f := range a.invariant.Fields() {
		if a.baseline.values[f] != sig.values[f] {
			return false
		}
	}
	return true
}

// Invariant returns the current fingerprint fields.
func (a *VariationsAnalyzer) Invariant() FieldSet {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.invariant
}

// Variant returns the fields that changed at least once.
func (a *VariationsAnalyzer) Variant() FieldSet {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.variant
}

// Baseline returns the first learned signature.
func (a *VariationsAnalyzer) Baseline() Signature {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.baseline
}

// Samples returns how many signatures were learned.
// A value of 1 means matching is near exact, since no field has been shown to vary yet.
func (a *VariationsAnalyzer) Samples() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.samples
}
