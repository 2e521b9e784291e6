package classification

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"spamfilter/core/domain"
	"spamfilter/pkg/apperr"
	"spamfilter/pkg/logger"
)

// =============================================================================
// Alpha Calibrator (offline grid search)
// =============================================================================

const (
	// CalibrationSaliency replaces the lexical heuristic during calibration.
	CalibrationSaliency = 0.5
	gridSteps           = 10
)

// AlphaGrid returns {0.0, 0.1, ..., 1.0}.
func AlphaGrid() []float64 {
	grid := make([]float64, gridSteps+1)
	for i := range grid {
		grid[i] = float64(i) / gridSteps
	}
	return grid
}

// Calibrator replays the vote over held-out vectors for every grid alpha.
type Calibrator struct {
	corpus      *Corpus
	weights     domain.ClassWeights
	concurrency int
	log         *logger.Logger
}

// NewCalibrator creates a calibrator over the trained corpus and weights.
func NewCalibrator(corpus *Corpus, weights domain.ClassWeights, concurrency int) *Calibrator {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Calibrator{
		corpus:      corpus,
		weights:     weights,
		concurrency: concurrency,
		log:         logger.WithField("component", "calibrator"),
	}
}

// Calibrate picks the alpha with the strictly highest held-out accuracy;
// ties go to the lowest alpha. Each example is searched once and the
// neighbors are reused across the grid.
func (c *Calibrator) Calibrate(ctx context.Context, vectors [][]float32, truth []domain.Label, k int) (*domain.Calibration, error) {
	if err := c.corpus.Validate(); err != nil {
		return nil, err
	}
	if err := c.weights.Validate(c.corpus.Labels); err != nil {
		return nil, apperr.ConfigError(err.Error())
	}
	if len(vectors) == 0 {
		return nil, apperr.ValidationFailed("held-out set is empty")
	}
	if len(vectors) != len(truth) {
		return nil, apperr.ValidationFailed(fmt.Sprintf("held-out set has %d vectors but %d labels", len(vectors), len(truth)))
	}
	if k < 1 || k > c.corpus.Index.Size() {
		return nil, apperr.InvalidInput("k", fmt.Sprintf("must be within [1,%d]", c.corpus.Index.Size()))
	}
	for i, l := range truth {
		if !c.corpus.Labels.Valid(l) {
			return nil, apperr.InvalidInput("labels", fmt.Sprintf("held-out label %d at position %d is not in the label set", l, i))
		}
	}

	neighbors := make([][]domain.Neighbor, len(vectors))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)
	for i, vec := range vectors {
		g.Go(func() error {
			n, err := c.corpus.Search(gctx, vec, k)
			if err != nil {
				return fmt.Errorf("search held-out example %d: %w", i, err)
			}
			neighbors[i] = n
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	total := float64(len(vectors))
	tally := domain.NewVoteTally(c.corpus.Labels)
	result := &domain.Calibration{BestAccuracy: -1}

	for _, alpha := range AlphaGrid() {
		correct := 0
		for i, n := range neighbors {
			if predict(c.weights, tally, n, CalibrationSaliency, alpha) == truth[i] {
				correct++
			}
		}
		acc := float64(correct) / total
		result.Results = append(result.Results, domain.AlphaResult{Alpha: alpha, Accuracy: acc})
		c.log.Debug("alpha=%.1f accuracy=%.4f", alpha, acc)

		if acc > result.BestAccuracy {
			result.BestAccuracy = acc
			result.BestAlpha = alpha
		}
	}

	c.log.Info("best alpha %.1f (accuracy %.4f over %d examples)", result.BestAlpha, result.BestAccuracy, len(vectors))
	return result, nil
}
