package embedding

import (
	"context"
	"errors"
	"fmt"

	"github.com/pkoukk/tiktoken-go"
	"github.com/sashabaranov/go-openai"

	"spamfilter/core/port/out"
	"spamfilter/pkg/resilience"
)

var _ out.TokenizingEmbedder = (*OpenAIEmbedder)(nil)

const tiktokenEncoding = "cl100k_base"

// OpenAIEmbedder calls the OpenAI embeddings API. Tokenization for the
// explainer uses the matching tiktoken encoding.
type OpenAIEmbedder struct {
	client *openai.Client
	model  openai.EmbeddingModel
	dim    int
	mask   string
	tkm    *tiktoken.Tiktoken
	cb     *resilience.Breaker
}

// NewOpenAIEmbedder creates an OpenAI-backed embedder.
func NewOpenAIEmbedder(cfg Config) (*OpenAIEmbedder, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("OPENAI_API_KEY is not set")
	}
	model, err := resolveEmbeddingModel(cfg.ModelName)
	if err != nil {
		return nil, err
	}
	tkm, err := tiktoken.GetEncoding(tiktokenEncoding)
	if err != nil {
		return nil, fmt.Errorf("load %s encoding: %w", tiktokenEncoding, err)
	}
	mask := cfg.MaskToken
	if mask == "" {
		mask = "<pad>"
	}
	return &OpenAIEmbedder{
		client: openai.NewClient(cfg.APIKey),
		model:  model,
		dim:    cfg.Dimension,
		mask:   mask,
		tkm:    tkm,
		cb:     resilience.NewBreaker(resilience.DefaultBreakerConfig("openai-embeddings")),
	}, nil
}

// resolveEmbeddingModel maps a model name onto the client's model enum.
func resolveEmbeddingModel(name string) (openai.EmbeddingModel, error) {
	var m openai.EmbeddingModel
	if err := m.UnmarshalText([]byte(name)); err != nil {
		return openai.Unknown, fmt.Errorf("embedding model %q: %w", name, err)
	}
	if m == openai.Unknown {
		return openai.Unknown, fmt.Errorf("unsupported embedding model %q", name)
	}
	return m, nil
}

func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return e.embed(ctx, text)
}

// EmbedPassage is symmetric for OpenAI models.
func (e *OpenAIEmbedder) EmbedPassage(ctx context.Context, text string) ([]float32, error) {
	return e.embed(ctx, text)
}

func (e *OpenAIEmbedder) embed(ctx context.Context, text string) ([]float32, error) {
	return resilience.Execute(e.cb, func() ([]float32, error) {
		resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
			Model: e.model,
			Input: []string{text},
		})
		if err != nil {
			return nil, err
		}
		if len(resp.Data) == 0 {
			return nil, errors.New("empty embedding response")
		}
		vec := resp.Data[0].Embedding
		if e.dim > 0 && len(vec) != e.dim {
			return nil, fmt.Errorf("embedding has %d dimensions, expected %d", len(vec), e.dim)
		}
		return normalize(vec), nil
	})
}

func (e *OpenAIEmbedder) Dimension() int    { return e.dim }
func (e *OpenAIEmbedder) ModelName() string { return e.model.String() }

// Tokenize splits text into decoded BPE pieces.
func (e *OpenAIEmbedder) Tokenize(text string) ([]string, error) {
	ids := e.tkm.Encode(text, nil, nil)
	tokens := make([]string, len(ids))
	for i, id := range ids {
		tokens[i] = e.tkm.Decode([]int{id})
	}
	return tokens, nil
}

// Detokenize concatenates pieces; masked positions become a space.
func (e *OpenAIEmbedder) Detokenize(tokens []string) (string, error) {
	var b []byte
	for _, t := range tokens {
		if t == e.mask {
			b = append(b, ' ')
			continue
		}
		b = append(b, t...)
	}
	return string(b), nil
}

func (e *OpenAIEmbedder) MaskToken() string { return e.mask }
