package models

import (
	"fmt"
	"sort"
)

// ExtremumKind tells whether an extremum is a local maximum or minimum.
type ExtremumKind string

const (
	ExtremumMax ExtremumKind = "max"
	ExtremumMin ExtremumKind = "min"
)

// ExtremumPoint is a local extreme of a series.
type ExtremumPoint struct {
	Index int
	Price float64
	Kind  ExtremumKind
}

// ExtremaSequence is ordered by Index ascending.
type ExtremaSequence []ExtremumPoint

// Indices returns the bar indices of the sequence.
func (s ExtremaSequence) Indices() []int {
	out := make([]int, len(s))
	for i, p := range s {
		out[i] = p.Index
	}
	return out
}

// Prices returns the prices of the sequence.
func (s ExtremaSequence) Prices() []float64 {
	out := make([]float64, len(s))
	for i, p := range s {
		out[i] = p.Price
	}
	return out
}

// PatternKind identifies a chart pattern.
type PatternKind string

const (
	HeadAndShoulders        PatternKind = "HS"
	InverseHeadAndShoulders PatternKind = "IHS"
)

// PatternKinds lists every supported kind in reporting order.
var PatternKinds = []PatternKind{HeadAndShoulders, InverseHeadAndShoulders}

// Valid reports whether k is a supported pattern kind.
func (k PatternKind) Valid() bool {
	return k == HeadAndShoulders || k == InverseHeadAndShoulders
}

// Name returns the human readable pattern name.
func (k PatternKind) Name() string {
	switch k {
	case HeadAndShoulders:
		return "Head and Shoulders"
	case InverseHeadAndShoulders:
		return "Inverse Head and Shoulders"
	default:
		return string(k)
	}
}

// PatternInstance is one classified window of five consecutive extrema.
// Both kinds carry the same record so that every instance can be simulated.
type PatternInstance struct {
	Kind PatternKind
	// Window is the position of the first extremum in the ExtremaSequence.
	Window  int
	Prices  [5]float64
	Indices [5]int
}

// E returns the n-th anchor price, 1-based (E(1)..E(5)).
func (p PatternInstance) E(n int) float64 { return p.Prices[n-1] }

// NecklineStart is the bar index of e2.
func (p PatternInstance) NecklineStart() int { return p.Indices[1] }

// NecklineEnd is the bar index of e4.
func (p PatternInstance) NecklineEnd() int { return p.Indices[3] }

// Start is the bar index of e1.
func (p PatternInstance) Start() int { return p.Indices[0] }

// End is the bar index of e5.
func (p PatternInstance) End() int { return p.Indices[4] }

// Span is the number of bars between e1 and e5.
func (p PatternInstance) Span() int { return p.End() - p.Start() }

func (p PatternInstance) String() string {
	return fmt.Sprintf("%s[w=%d bars=%d..%d]", p.Kind, p.Window, p.Start(), p.End())
}

// PatternSet maps each pattern kind to its matches in window order.
type PatternSet map[PatternKind][]PatternInstance

// NewPatternSet returns an empty set with every kind present.
func NewPatternSet() PatternSet {
	set := make(PatternSet, len(PatternKinds))
	for _, k := range PatternKinds {
		set[k] = []PatternInstance{}
	}
	return set
}

// Count returns the total number of instances across kinds.
func (s PatternSet) Count() int {
	n := 0
	for _, list := range s {
		n += len(list)
	}
	return n
}

// All returns every instance ordered by window position.
func (s PatternSet) All() []PatternInstance {
	out := make([]PatternInstance, 0, s.Count())
	for _, k := range PatternKinds {
		out = append(out, s[k]...)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Window < out[j].Window })
	return out
}
