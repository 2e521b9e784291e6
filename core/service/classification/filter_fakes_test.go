package classification

import (
	"context"
	"errors"
	"math"
	"sort"
	"strings"
	"sync"
	"unicode"

	"spamfilter/core/domain"
	"spamfilter/core/port/out"
)

// =============================================================================
// Test doubles
// =============================================================================

const testDim = 256

// vocabEmbedder is a bag-of-words embedder over a lazily assigned vocabulary.
// Distinct words never collide while the vocabulary stays under testDim.
type vocabEmbedder struct {
	mu    sync.Mutex
	vocab map[string]int
	calls int
	fail  func(text string) error
}

func newVocabEmbedder() *vocabEmbedder {
	return &vocabEmbedder{vocab: make(map[string]int)}
}

func words(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func (e *vocabEmbedder) vector(text string) []float32 {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls++

	vec := make([]float32, testDim)
	for _, w := range words(text) {
		idx, ok := e.vocab[w]
		if !ok {
			idx = len(e.vocab) % testDim
			e.vocab[w] = idx
		}
		vec[idx]++
	}
	var norm float64
	for _, v := range vec {
		norm += float64(v * v)
	}
	if norm > 0 {
		inv := float32(1 / math.Sqrt(norm))
		for i := range vec {
			vec[i] *= inv
		}
	}
	return vec
}

func (e *vocabEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if e.fail != nil {
		if err := e.fail(text); err != nil {
			return nil, err
		}
	}
	return e.vector(text), nil
}

func (e *vocabEmbedder) EmbedPassage(ctx context.Context, text string) ([]float32, error) {
	return e.Embed(ctx, text)
}

func (e *vocabEmbedder) Dimension() int    { return testDim }
func (e *vocabEmbedder) ModelName() string { return "test-vocab" }

// spaceTokenizer splits on whitespace.
type spaceTokenizer struct{}

func (spaceTokenizer) Tokenize(text string) ([]string, error) { return strings.Fields(text), nil }
func (spaceTokenizer) Detokenize(tokens []string) (string, error) {
	return strings.Join(tokens, " "), nil
}
func (spaceTokenizer) MaskToken() string { return "<pad>" }

// bruteIndex is an exact inner-product index.
type bruteIndex struct {
	vectors [][]float32
}

func (b *bruteIndex) Search(ctx context.Context, q []float32, k int) ([]out.Hit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	hits := make([]out.Hit, len(b.vectors))
	for i, v := range b.vectors {
		var dot float64
		for j := range v {
			dot += float64(v[j] * q[j])
		}
		hits[i] = out.Hit{ID: i, Score: dot}
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if k > len(hits) {
		k = len(hits)
	}
	return hits[:k], nil
}

func (b *bruteIndex) Size() int { return len(b.vectors) }

// fixedIndex returns canned hits regardless of the query.
type fixedIndex struct {
	hits []out.Hit
	size int
}

func (f *fixedIndex) Search(_ context.Context, _ []float32, k int) ([]out.Hit, error) {
	if k > len(f.hits) {
		k = len(f.hits)
	}
	return f.hits[:k], nil
}

func (f *fixedIndex) Size() int { return f.size }

// sliceMetadata is an in-memory metadata store.
type sliceMetadata []domain.Record

func (m sliceMetadata) Get(id int) (string, string, bool) {
	if id < 0 || id >= len(m) {
		return "", "", false
	}
	return m[id].Label, m[id].Message, true
}

func (m sliceMetadata) Len() int { return len(m) }

var errEmbed = errors.New("embedding backend down")

// testCorpus is a small reference set with clearly separated vocabulary.
var testCorpus = []domain.Record{
	{ID: 0, Label: "spam", Message: "Congratulations you won a free prize click here now"},
	{ID: 1, Label: "spam", Message: "You have won $500 cash click to claim now"},
	{ID: 2, Label: "spam", Message: "Winner! Claim your $1000 gift card now, click here"},
	{ID: 3, Label: "spam", Message: "Click here now to win a free iPhone"},
	{ID: 4, Label: "ham", Message: "Meeting at 3pm tomorrow in room 2"},
	{ID: 5, Label: "ham", Message: "Can we move the meeting to tomorrow afternoon"},
	{ID: 6, Label: "ham", Message: "Lunch at noon tomorrow?"},
	{ID: 7, Label: "ham", Message: "Please review the report before the meeting"},
	{ID: 8, Label: "ham", Message: "See you at the meeting at 3pm"},
	{ID: 9, Label: "ham", Message: "Happy birthday, see you tomorrow"},
}

type fixture struct {
	embedder *vocabEmbedder
	corpus   *Corpus
	weights  domain.ClassWeights
}

func newFixture() *fixture {
	labels := domain.DefaultLabelSet()
	emb := newVocabEmbedder()

	idx := &bruteIndex{}
	truth := make([]domain.Label, len(testCorpus))
	for i, r := range testCorpus {
		idx.vectors = append(idx.vectors, emb.vector(r.Message))
		truth[i], _ = labels.Lookup(r.Label)
	}
	weights, err := domain.ComputeClassWeights(labels, truth)
	if err != nil {
		panic(err)
	}
	return &fixture{
		embedder: emb,
		corpus:   &Corpus{Index: idx, Metadata: sliceMetadata(testCorpus), Labels: labels},
		weights:  weights,
	}
}

func (f *fixture) service(cfg ServiceConfig) *Service {
	if cfg.DefaultAlpha == 0 && cfg.ModelConfig == nil {
		cfg.DefaultAlpha = 0.8
	}
	s, err := NewService(f.embedder, spaceTokenizer{}, f.corpus, f.weights, MustDefaultHeuristics(), cfg)
	if err != nil {
		panic(err)
	}
	return s
}

func ptr[T any](v T) *T { return &v }
