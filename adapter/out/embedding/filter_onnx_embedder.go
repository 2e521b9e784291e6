package embedding

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sugarme/tokenizer"
	"github.com/sugarme/tokenizer/pretrained"
	ort "github.com/yalue/onnxruntime_go"

	"spamfilter/core/port/out"
	"spamfilter/pkg/logger"
)

var _ out.TokenizingEmbedder = (*ONNXEmbedder)(nil)

var (
	ortOnce sync.Once
	ortErr  error
)

func initRuntime(libraryPath string) error {
	ortOnce.Do(func() {
		if libraryPath != "" {
			ort.SetSharedLibraryPath(libraryPath)
		}
		ortErr = ort.InitializeEnvironment()
	})
	return ortErr
}

// ONNXEmbedder runs an E5-style sentence encoder locally through ONNX
// Runtime: mean pooling over the attention mask, then L2 normalization.
type ONNXEmbedder struct {
	session *ort.DynamicAdvancedSession
	tk      *tokenizer.Tokenizer
	cfg     Config
	mu      sync.Mutex // guards session.Run
	log     *logger.Logger
}

// NewONNXEmbedder loads the model and tokenizer files.
func NewONNXEmbedder(cfg Config) (*ONNXEmbedder, error) {
	if cfg.ModelPath == "" || cfg.TokenizerPath == "" {
		return nil, errors.New("onnx embedder needs ONNX_MODEL_PATH and TOKENIZER_PATH")
	}
	if cfg.Dimension <= 0 {
		return nil, fmt.Errorf("invalid embedding dimension %d", cfg.Dimension)
	}
	if cfg.MaxSeqLen <= 0 {
		cfg.MaxSeqLen = 512
	}
	if cfg.MaskToken == "" {
		cfg.MaskToken = "<pad>"
	}

	if err := initRuntime(cfg.LibraryPath); err != nil {
		return nil, fmt.Errorf("initialize onnxruntime: %w", err)
	}
	tk, err := pretrained.FromFile(cfg.TokenizerPath)
	if err != nil {
		return nil, fmt.Errorf("load tokenizer %s: %w", cfg.TokenizerPath, err)
	}
	session, err := ort.NewDynamicAdvancedSession(cfg.ModelPath,
		[]string{"input_ids", "attention_mask"},
		[]string{"last_hidden_state"},
		nil)
	if err != nil {
		return nil, fmt.Errorf("load model %s: %w", cfg.ModelPath, err)
	}

	e := &ONNXEmbedder{
		session: session,
		tk:      tk,
		cfg:     cfg,
		log:     logger.WithField("component", "onnx_embedder"),
	}
	e.log.Info("loaded %s (dim=%d, max_seq_len=%d)", cfg.ModelName, cfg.Dimension, cfg.MaxSeqLen)
	return e, nil
}

// Close releases the session.
func (e *ONNXEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session == nil {
		return nil
	}
	err := e.session.Destroy()
	e.session = nil
	return err
}

func (e *ONNXEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return e.encode(ctx, e.cfg.QueryPrefix+text)
}

func (e *ONNXEmbedder) EmbedPassage(ctx context.Context, text string) ([]float32, error) {
	return e.encode(ctx, e.cfg.PassagePrefix+text)
}

func (e *ONNXEmbedder) Dimension() int    { return e.cfg.Dimension }
func (e *ONNXEmbedder) ModelName() string { return e.cfg.ModelName }

func (e *ONNXEmbedder) encode(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	enc, err := e.tk.EncodeSingle(text, true)
	if err != nil {
		return nil, fmt.Errorf("tokenize: %w", err)
	}
	ids, mask := truncate(enc.Ids, enc.AttentionMask, e.cfg.MaxSeqLen)
	seq := int64(len(ids))
	if seq == 0 {
		return nil, errors.New("tokenizer produced no tokens")
	}

	idData := make([]int64, seq)
	maskData := make([]int64, seq)
	for i := range ids {
		idData[i] = int64(ids[i])
		maskData[i] = int64(mask[i])
	}

	idTensor, err := ort.NewTensor(ort.NewShape(1, seq), idData)
	if err != nil {
		return nil, err
	}
	defer idTensor.Destroy()
	maskTensor, err := ort.NewTensor(ort.NewShape(1, seq), maskData)
	if err != nil {
		return nil, err
	}
	defer maskTensor.Destroy()
	output, err := ort.NewEmptyTensor[float32](ort.NewShape(1, seq, int64(e.cfg.Dimension)))
	if err != nil {
		return nil, err
	}
	defer output.Destroy()

	e.mu.Lock()
	if e.session == nil {
		e.mu.Unlock()
		return nil, errors.New("onnx session is closed")
	}
	err = e.session.Run([]ort.Value{idTensor, maskTensor}, []ort.Value{output})
	e.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("onnx run: %w", err)
	}

	return normalize(meanPool(output.GetData(), mask, e.cfg.Dimension)), nil
}

// truncate keeps the first max-1 tokens and the final special token.
func truncate(ids, mask []int, max int) ([]int, []int) {
	if len(ids) <= max {
		return ids, mask
	}
	outIDs := append(append([]int{}, ids[:max-1]...), ids[len(ids)-1])
	outMask := append(append([]int{}, mask[:max-1]...), mask[len(mask)-1])
	return outIDs, outMask
}

// meanPool averages hidden states over positions where mask is 1.
func meanPool(hidden []float32, mask []int, dim int) []float32 {
	out := make([]float32, dim)
	var count float32
	for pos, m := range mask {
		if m == 0 {
			continue
		}
		row := hidden[pos*dim : (pos+1)*dim]
		for j, v := range row {
			out[j] += v
		}
		count++
	}
	if count > 0 {
		for j := range out {
			out[j] /= count
		}
	}
	return out
}

// Tokenize returns subword pieces without special tokens.
func (e *ONNXEmbedder) Tokenize(text string) ([]string, error) {
	enc, err := e.tk.EncodeSingle(text, false)
	if err != nil {
		return nil, fmt.Errorf("tokenize: %w", err)
	}
	return enc.Tokens, nil
}

// Detokenize maps pieces back to ids and decodes, dropping special tokens.
func (e *ONNXEmbedder) Detokenize(tokens []string) (string, error) {
	ids := make([]int, 0, len(tokens))
	for _, t := range tokens {
		id, ok := e.tk.TokenToId(t)
		if !ok {
			return "", fmt.Errorf("token %q is not in the vocabulary", t)
		}
		ids = append(ids, id)
	}
	return e.tk.Decode(ids, true), nil
}

func (e *ONNXEmbedder) MaskToken() string { return e.cfg.MaskToken }
