// Package training builds and calibrates the reference corpus offline.
package training

import (
	"fmt"
	"math"
	"math/rand"

	"spamfilter/core/domain"
)

// StratifiedSplit shuffles each label's samples with a seeded source and
// moves round(n*testFraction) of them (at least one, at most n-1) to the
// test split. Output order is deterministic for a given seed.
func StratifiedSplit(samples []domain.Sample, labels *domain.LabelSet, testFraction float64, seed int64) (train, test []domain.Sample, err error) {
	if testFraction <= 0 || testFraction >= 1 {
		return nil, nil, fmt.Errorf("test fraction must be within (0,1), got %v", testFraction)
	}
	groups := make([][]domain.Sample, labels.Len())
	for _, s := range samples {
		if !labels.Valid(s.Label) {
			return nil, nil, fmt.Errorf("sample label %d is not in the label set", s.Label)
		}
		groups[s.Label] = append(groups[s.Label], s)
	}

	rng := rand.New(rand.NewSource(seed))
	for i, g := range groups {
		if len(g) < 2 {
			return nil, nil, fmt.Errorf("label %q needs at least 2 samples, has %d", labels.Name(domain.Label(i)), len(g))
		}
		rng.Shuffle(len(g), func(a, b int) { g[a], g[b] = g[b], g[a] })

		nTest := int(math.Round(float64(len(g)) * testFraction))
		nTest = max(1, min(nTest, len(g)-1))
		test = append(test, g[:nTest]...)
		train = append(train, g[nTest:]...)
	}
	rng.Shuffle(len(train), func(a, b int) { train[a], train[b] = train[b], train[a] })
	rng.Shuffle(len(test), func(a, b int) { test[a], test[b] = test[b], test[a] })
	return train, test, nil
}
