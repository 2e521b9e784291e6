package classification

import "spamfilter/core/domain"

// =============================================================================
// Weighted Voting
// =============================================================================

// Vote runs the saliency-weighted kNN vote. It is pure: the same inputs
// always produce the same Classification, and neighbors is not modified.
//
//	weight_i = (1-alpha) * sim_i * classWeight[label_i] + alpha * saliency
//
// The prediction is the argmax of the tally with ties going to the first
// label in the set. When the tally sum is not positive the vote is
// degenerate: Confidence is 0 and Degenerate is set.
func Vote(labels *domain.LabelSet, weights domain.ClassWeights, neighbors []domain.Neighbor, saliency, alpha float64) domain.Classification {
	tally := domain.NewVoteTally(labels)
	weighted := make([]domain.Neighbor, len(neighbors))

	for i, n := range neighbors {
		w := voteWeight(weights, n, saliency, alpha)
		tally[n.Label] += w
		weighted[i] = n
		weighted[i].Weight = w
	}

	pred := tally.Argmax()
	conf, degenerate := confidence(tally, pred)

	return domain.Classification{
		Prediction:     pred,
		Confidence:     conf,
		VoteScores:     tally,
		Neighbors:      weighted,
		SaliencyWeight: saliency,
		AlphaUsed:      alpha,
		Degenerate:     degenerate,
	}
}

// predict is Vote without the neighbor copy, for the calibration loop.
func predict(weights domain.ClassWeights, tally domain.VoteTally, neighbors []domain.Neighbor, saliency, alpha float64) domain.Label {
	for i := range tally {
		tally[i] = 0
	}
	for _, n := range neighbors {
		tally[n.Label] += voteWeight(weights, n, saliency, alpha)
	}
	return tally.Argmax()
}

func voteWeight(weights domain.ClassWeights, n domain.Neighbor, saliency, alpha float64) float64 {
	return (1-alpha)*n.Similarity*weights[n.Label] + alpha*saliency
}

func confidence(tally domain.VoteTally, pred domain.Label) (float64, bool) {
	sum := tally.Sum()
	// !(sum > 0) also catches NaN.
	if !(sum > 0) {
		return 0, true
	}
	return clamp(tally[pred]/sum, 0, 1), false
}
