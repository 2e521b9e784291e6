// Package embedding provides the embedding providers behind out.Embedder.
package embedding

import (
	"github.com/viterin/vek/vek32"
)

// Config selects and configures a provider.
type Config struct {
	Provider      string // onnx | openai | hash
	ModelName     string
	Dimension     int
	QueryPrefix   string
	PassagePrefix string
	MaskToken     string

	// ONNX
	LibraryPath   string
	ModelPath     string
	TokenizerPath string
	MaxSeqLen     int

	// OpenAI
	APIKey string
}

// normalize scales vec to unit L2 norm in place. Zero vectors are left as is.
func normalize(vec []float32) []float32 {
	n := vek32.Norm(vec)
	if n == 0 {
		return vec
	}
	vek32.MulNumber_Inplace(vec, 1/n)
	return vec
}
