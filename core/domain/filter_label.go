package domain

import (
	"fmt"
	"strings"
)

// Label is an index into a LabelSet. Vote tallies and class weights are
// slices indexed by Label, so their length always equals the set size.
type Label int

// NoLabel marks an unresolved label.
const NoLabel Label = -1

// LabelSet is the ordered label vocabulary fixed at load time.
// The first label wins argmax ties; Positive names the spam label.
type LabelSet struct {
	names    []string
	index    map[string]Label
	positive Label
}

// NewLabelSet builds a label set from ordered names.
func NewLabelSet(names []string, positive string) (*LabelSet, error) {
	if len(names) < 2 {
		return nil, fmt.Errorf("label set needs at least two labels, got %d", len(names))
	}
	ls := &LabelSet{
		names:    make([]string, len(names)),
		index:    make(map[string]Label, len(names)),
		positive: NoLabel,
	}
	for i, n := range names {
		n = strings.ToLower(strings.TrimSpace(n))
		if n == "" {
			return nil, fmt.Errorf("label %d is empty", i)
		}
		if _, dup := ls.index[n]; dup {
			return nil, fmt.Errorf("duplicate label %q", n)
		}
		ls.names[i] = n
		ls.index[n] = Label(i)
	}
	p, ok := ls.index[strings.ToLower(strings.TrimSpace(positive))]
	if !ok {
		return nil, fmt.Errorf("positive label %q not in %v", positive, ls.names)
	}
	ls.positive = p
	return ls, nil
}

// DefaultLabelSet is ham/spam with spam positive.
func DefaultLabelSet() *LabelSet {
	ls, _ := NewLabelSet([]string{"ham", "spam"}, "spam")
	return ls
}

func (ls *LabelSet) Len() int        { return len(ls.names) }
func (ls *LabelSet) Positive() Label { return ls.positive }

// Names returns a copy of the ordered label names.
func (ls *LabelSet) Names() []string {
	out := make([]string, len(ls.names))
	copy(out, ls.names)
	return out
}

// Name returns the label's name, or "unknown" when out of range.
func (ls *LabelSet) Name(l Label) string {
	if l < 0 || int(l) >= len(ls.names) {
		return "unknown"
	}
	return ls.names[l]
}

// Lookup resolves a label name (case-insensitive).
func (ls *LabelSet) Lookup(name string) (Label, bool) {
	l, ok := ls.index[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return NoLabel, false
	}
	return l, true
}

// Valid reports whether l indexes this set.
func (ls *LabelSet) Valid(l Label) bool {
	return l >= 0 && int(l) < len(ls.names)
}

// VoteTally accumulates vote weight per label.
type VoteTally []float64

// NewVoteTally returns a zeroed tally sized to the label set.
func NewVoteTally(ls *LabelSet) VoteTally {
	return make(VoteTally, ls.Len())
}

// Argmax returns the label with the highest score. Ties go to the
// lowest index, i.e. the first label in the set.
func (t VoteTally) Argmax() Label {
	best := Label(0)
	for i := 1; i < len(t); i++ {
		if t[i] > t[best] {
			best = Label(i)
		}
	}
	return best
}

// Sum returns the total vote weight.
func (t VoteTally) Sum() float64 {
	var s float64
	for _, v := range t {
		s += v
	}
	return s
}

// ToMap renders the tally keyed by label name.
func (t VoteTally) ToMap(ls *LabelSet) map[string]float64 {
	out := make(map[string]float64, len(t))
	for i, v := range t {
		out[ls.Name(Label(i))] = v
	}
	return out
}
