package domain

import (
	"fmt"
	"math"
)

// ClassWeights holds the inverse-frequency weight per label.
type ClassWeights []float64

// ComputeClassWeights returns total/(num_labels*count) for each label.
// Every label must occur at least once.
func ComputeClassWeights(ls *LabelSet, labels []Label) (ClassWeights, error) {
	if len(labels) == 0 {
		return nil, fmt.Errorf("no samples to weight")
	}
	counts := make([]int, ls.Len())
	for _, l := range labels {
		if !ls.Valid(l) {
			return nil, fmt.Errorf("label %d out of range", l)
		}
		counts[l]++
	}
	w := make(ClassWeights, ls.Len())
	total := float64(len(labels))
	for i, c := range counts {
		if c == 0 {
			return nil, fmt.Errorf("label %q has no samples", ls.Name(Label(i)))
		}
		w[i] = total / (float64(ls.Len()) * float64(c))
	}
	return w, nil
}

// ClassWeightsFromMap converts a persisted name->weight map.
func ClassWeightsFromMap(ls *LabelSet, m map[string]float64) (ClassWeights, error) {
	w := make(ClassWeights, ls.Len())
	for i, name := range ls.names {
		v, ok := m[name]
		if !ok {
			return nil, fmt.Errorf("class weight for %q missing", name)
		}
		if v <= 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("class weight for %q must be positive, got %v", name, v)
		}
		w[i] = v
	}
	return w, nil
}

// ToMap renders the weights keyed by label name.
func (w ClassWeights) ToMap(ls *LabelSet) map[string]float64 {
	out := make(map[string]float64, len(w))
	for i, v := range w {
		out[ls.Name(Label(i))] = v
	}
	return out
}

// Validate checks the table matches the label set.
func (w ClassWeights) Validate(ls *LabelSet) error {
	if len(w) != ls.Len() {
		return fmt.Errorf("class weights cover %d labels, label set has %d", len(w), ls.Len())
	}
	for i, v := range w {
		if v <= 0 {
			return fmt.Errorf("class weight for %q must be positive", ls.Name(Label(i)))
		}
	}
	return nil
}
