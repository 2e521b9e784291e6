package embedding

import (
	"context"
	"strings"
	"unicode"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/text/cases"

	"spamfilter/core/port/out"
)

var _ out.TokenizingEmbedder = (*HashEmbedder)(nil)

// HashEmbedder is a deterministic feature-hashing embedder over word
// unigrams and bigrams. It needs no model files and is used for development
// and tests.
type HashEmbedder struct {
	dim  int
	mask string
	name string
}

// NewHashEmbedder creates a hash embedder with dim buckets.
func NewHashEmbedder(dim int, maskToken string) *HashEmbedder {
	if dim <= 0 {
		dim = 384
	}
	if maskToken == "" {
		maskToken = "<pad>"
	}
	return &HashEmbedder{dim: dim, mask: maskToken, name: "hash-xxh64"}
}

func (h *HashEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return h.vector(text), nil
}

func (h *HashEmbedder) EmbedPassage(ctx context.Context, text string) ([]float32, error) {
	return h.Embed(ctx, text)
}

func (h *HashEmbedder) Dimension() int    { return h.dim }
func (h *HashEmbedder) ModelName() string { return h.name }

func (h *HashEmbedder) Tokenize(text string) ([]string, error) {
	return strings.Fields(text), nil
}

func (h *HashEmbedder) Detokenize(tokens []string) (string, error) {
	return strings.Join(tokens, " "), nil
}

func (h *HashEmbedder) MaskToken() string { return h.mask }

func (h *HashEmbedder) terms(text string) []string {
	folder := cases.Fold()
	var terms []string
	for _, field := range strings.Fields(text) {
		if field == h.mask {
			continue
		}
		parts := strings.FieldsFunc(folder.String(field), func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '$'
		})
		terms = append(terms, parts...)
	}
	return terms
}

func (h *HashEmbedder) vector(text string) []float32 {
	vec := make([]float32, h.dim)
	terms := h.terms(text)
	add := func(feature string, weight float32) {
		sum := xxhash.Sum64String(feature)
		idx := int(sum % uint64(h.dim))
		if sum>>63 == 1 {
			weight = -weight
		}
		vec[idx] += weight
	}
	for i, t := range terms {
		add(t, 1)
		if i > 0 {
			add(terms[i-1]+" "+t, 0.5)
		}
	}
	return normalize(vec)
}
