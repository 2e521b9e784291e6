// Package out defines outbound ports (driven ports) for the application.
package out

import "context"

// =============================================================================
// Embedding Provider
// =============================================================================

// Embedder turns text into an L2-normalized vector of fixed dimension.
// 구현체: ONNX (local E5), OpenAI, hash (dev/test)
type Embedder interface {
	// Embed encodes serving-time input (query form).
	Embed(ctx context.Context, text string) ([]float32, error)
	// EmbedPassage encodes reference corpus text (passage form).
	EmbedPassage(ctx context.Context, text string) ([]float32, error)
	Dimension() int
	ModelName() string
}

// Tokenizer is the tokenization capability used by the token explainer.
type Tokenizer interface {
	Tokenize(text string) ([]string, error)
	Detokenize(tokens []string) (string, error)
	MaskToken() string
}

// TokenizingEmbedder is an Embedder that also exposes its tokenizer.
type TokenizingEmbedder interface {
	Embedder
	Tokenizer
}
