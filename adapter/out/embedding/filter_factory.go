package embedding

import (
	"fmt"

	"spamfilter/core/port/out"
)

// New builds the provider named by cfg.Provider.
func New(cfg Config) (out.TokenizingEmbedder, error) {
	switch cfg.Provider {
	case "onnx":
		return NewONNXEmbedder(cfg)
	case "openai":
		return NewOpenAIEmbedder(cfg)
	case "hash":
		return NewHashEmbedder(cfg.Dimension, cfg.MaskToken), nil
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.Provider)
	}
}
