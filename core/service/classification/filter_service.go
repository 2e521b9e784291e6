package classification

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync/atomic"

	"spamfilter/core/domain"
	"spamfilter/core/port/in"
	"spamfilter/core/port/out"
	"spamfilter/pkg/apperr"
	"spamfilter/pkg/logger"
	"spamfilter/pkg/metrics"
)

var _ in.ClassifierService = (*Service)(nil)

// ServiceConfig holds serving options that are not loaded artifacts.
type ServiceConfig struct {
	DefaultAlpha       float64
	ExplainConcurrency int
	ModelConfig        *domain.ModelConfig
	IndexBackend       string
	MetadataBackend    string
}

// Service is the classifier handle built once at startup. Everything it
// holds is read-only after construction.
type Service struct {
	embedder   out.Embedder
	explainer  *TokenExplainer
	corpus     *Corpus
	weights    domain.ClassWeights
	heuristics *Heuristics
	alpha      float64
	model      domain.ModelConfig
	cfg        ServiceConfig
	labelDist  map[string]int
	ready      atomic.Bool
	log        *logger.Logger
}

// NewService validates the loaded state and returns a ready service.
// tokenizer may be nil, in which case ExplainTokens is unavailable.
func NewService(embedder out.Embedder, tokenizer out.Tokenizer, corpus *Corpus, weights domain.ClassWeights, heuristics *Heuristics, cfg ServiceConfig) (*Service, error) {
	if embedder == nil {
		return nil, apperr.ResourceNotLoaded("embedding provider")
	}
	if err := corpus.Validate(); err != nil {
		return nil, err
	}
	if err := weights.Validate(corpus.Labels); err != nil {
		return nil, apperr.ConfigError(err.Error())
	}
	if heuristics == nil {
		heuristics = MustDefaultHeuristics()
	}

	s := &Service{
		embedder:   embedder,
		corpus:     corpus,
		weights:    weights,
		heuristics: heuristics,
		cfg:        cfg,
		log:        logger.WithField("component", "classifier"),
	}
	if cfg.ModelConfig != nil {
		s.model = *cfg.ModelConfig
		if s.model.EmbeddingDim > 0 && embedder.Dimension() > 0 && s.model.EmbeddingDim != embedder.Dimension() {
			return nil, apperr.ConfigError(fmt.Sprintf("index was built with dimension %d but embedder produces %d", s.model.EmbeddingDim, embedder.Dimension()))
		}
	}

	s.alpha = cfg.DefaultAlpha
	if s.model.BestAlpha != nil {
		if err := validateAlpha(*s.model.BestAlpha); err != nil {
			return nil, apperr.ConfigError(fmt.Sprintf("persisted best_alpha: %v", err))
		}
		s.alpha = *s.model.BestAlpha
	}
	if err := validateAlpha(s.alpha); err != nil {
		return nil, apperr.ConfigError(fmt.Sprintf("default alpha: %v", err))
	}

	if tokenizer != nil {
		s.explainer = NewTokenExplainer(embedder, tokenizer, corpus, cfg.ExplainConcurrency)
	}

	s.labelDist = make(map[string]int, corpus.Labels.Len())
	for _, name := range corpus.Labels.Names() {
		s.labelDist[name] = 0
	}
	for id := 0; id < corpus.Metadata.Len(); id++ {
		if name, _, ok := corpus.Metadata.Get(id); ok {
			s.labelDist[strings.ToLower(name)]++
		}
	}

	s.ready.Store(true)
	s.log.Info("classifier ready: %d reference vectors, alpha=%.2f, lexicon=%s", corpus.Index.Size(), s.alpha, heuristics.Version())
	return s, nil
}

// Close marks the service unavailable; later calls fail with RESOURCE_NOT_LOADED.
func (s *Service) Close() {
	s.ready.Store(false)
}

// Ready reports whether the service can serve requests.
func (s *Service) Ready() bool {
	return s != nil && s.ready.Load()
}

// Labels returns the configured label set.
func (s *Service) Labels() *domain.LabelSet {
	return s.corpus.Labels
}

// DefaultAlpha returns the alpha used when a request omits one.
func (s *Service) DefaultAlpha() float64 {
	return s.alpha
}

func (s *Service) available() error {
	if !s.Ready() {
		return apperr.ResourceNotLoaded("classifier")
	}
	return nil
}

func validateAlpha(a float64) error {
	if math.IsNaN(a) || a < 0 || a > 1 {
		return fmt.Errorf("alpha must be within [0,1], got %v", a)
	}
	return nil
}

func (s *Service) validate(text string, k int) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", apperr.InvalidInput("message", "must not be empty")
	}
	if k < 1 {
		return "", apperr.InvalidInput("k", "must be at least 1")
	}
	if size := s.corpus.Index.Size(); k > size {
		return "", apperr.InvalidInput("k", fmt.Sprintf("must not exceed index size %d", size))
	}
	return text, nil
}

// Classify runs the weighted kNN vote for text. A nil alpha uses the
// calibrated default.
func (s *Service) Classify(ctx context.Context, text string, k int, alpha *float64) (*domain.Classification, error) {
	if err := s.available(); err != nil {
		return nil, err
	}
	text, err := s.validate(text, k)
	if err != nil {
		return nil, err
	}
	a := s.alpha
	if alpha != nil {
		if err := validateAlpha(*alpha); err != nil {
			return nil, apperr.InvalidInput("alpha", err.Error())
		}
		a = *alpha
	}

	defer s.corpus.Latency.Observe(metrics.StageClassify)()

	done := s.corpus.Latency.Observe(metrics.StageEmbed)
	vec, err := s.embedder.Embed(ctx, text)
	done()
	if err != nil {
		return nil, upstreamError(ctx, "embedding", err)
	}

	neighbors, err := s.corpus.Search(ctx, vec, k)
	if err != nil {
		return nil, err
	}

	res := Vote(s.corpus.Labels, s.weights, neighbors, s.heuristics.Saliency(text), a)
	if res.Degenerate {
		logger.WithContext(ctx).
			WithField("code", apperr.CodeDegenerateVote).
			Warn("vote-score sum %.6f is not positive, reporting zero confidence", res.VoteScores.Sum())
	}
	return &res, nil
}

// ExplainTokens runs occlusion attribution over text's tokens.
func (s *Service) ExplainTokens(ctx context.Context, text string, k int) ([]domain.TokenSaliency, error) {
	if err := s.available(); err != nil {
		return nil, err
	}
	if s.explainer == nil {
		return nil, apperr.ResourceNotLoaded("tokenizer")
	}
	text, err := s.validate(text, k)
	if err != nil {
		return nil, err
	}
	defer s.corpus.Latency.Observe(metrics.StageExplain)()
	return s.explainer.Explain(ctx, text, k)
}

// Subcategory refines a spam verdict.
func (s *Service) Subcategory(text string) domain.Subcategory {
	return s.heuristics.Subcategory(text)
}

// Saliency exposes the lexical heuristic.
func (s *Service) Saliency(text string) float64 {
	return s.heuristics.Saliency(text)
}

// IsPositive reports whether l is the spam label.
func (s *Service) IsPositive(l domain.Label) bool {
	return l == s.corpus.Labels.Positive()
}

// Stats describes the loaded corpus and model.
func (s *Service) Stats() *in.Stats {
	dist := make(map[string]int, len(s.labelDist))
	for k, v := range s.labelDist {
		dist[k] = v
	}
	name := s.model.ModelName
	if name == "" {
		name = s.embedder.ModelName()
	}
	return &in.Stats{
		TotalSamples:      s.corpus.Metadata.Len(),
		LabelDistribution: dist,
		ClassWeights:      s.weights.ToMap(s.corpus.Labels),
		ModelName:         name,
		BestAlpha:         s.alpha,
		AlphaResults:      s.model.AlphaResults,
		IndexSize:         s.corpus.Index.Size(),
		IndexBackend:      s.cfg.IndexBackend,
		MetadataBackend:   s.cfg.MetadataBackend,
		EmbeddingDim:      s.embedder.Dimension(),
	}
}
