//go:build cgo
// +build cgo

package embedding

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/hyperjump/embedkit/pkg/utils"
	ort "github.com/yalue/onnxruntime_go"
)

// ONNXEmbedder runs a sentence-transformer ONNX model and mean-pools its last hidden state.
// The session is created on the first Embed call. Requires CGO and the onnxruntime shared library.
type ONNXEmbedder struct {
	modelPath  string
	dimensions int
	maxTokens  int
	tokenizer  Tokenizer

	loadOnce sync.Once
	loadErr  error

	mu                  sync.Mutex
	session             *ort.AdvancedSession
	inputIDsTensor      *ort.Tensor[int64]
	attentionMaskTensor *ort.Tensor[int64]
	tokenTypeIDsTensor  *ort.Tensor[int64]
	hiddenTensor        *ort.Tensor[float32]
}

// NewONNXEmbedder returns an embedder for the model at modelPath. A nil tokenizer uses
// WordTokenizer. Nothing is loaded until first use.
func NewONNXEmbedder(modelPath string, tokenizer Tokenizer, dimensions, maxTokens int) (*ONNXEmbedder, error) {
	if dimensions <= 0 {
		return nil, fmt.Errorf("invalid dimensions %d", dimensions)
	}
	if maxTokens <= 2 {
		maxTokens = 128
	}
	if tokenizer == nil {
		tokenizer = &WordTokenizer{}
	}
	return &ONNXEmbedder{
		modelPath:  modelPath,
		dimensions: dimensions,
		maxTokens:  maxTokens,
		tokenizer:  tokenizer,
	}, nil
}

// Load creates the ONNX session. Safe to call repeatedly; only the first call does work.
func (e *ONNXEmbedder) Load() error {
	e.loadOnce.Do(func() {
		e.loadErr = e.load()
	})
	return e.loadErr
}

func (e *ONNXEmbedder) load() error {
	if !ort.IsInitialized() {
		if err := ort.InitializeEnvironment(); err != nil {
			return fmt.Errorf("failed to initialize ONNX runtime: %w", err)
		}
	}

	shape := ort.NewShape(1, int64(e.maxTokens))
	inputIDs, err := ort.NewEmptyTensor[int64](shape)
	if err != nil {
		return fmt.Errorf("failed to create input_ids tensor: %w", err)
	}
	attentionMask, err := ort.NewEmptyTensor[int64](shape)
	if err != nil {
		inputIDs.Destroy()
		return fmt.Errorf("failed to create attention_mask tensor: %w", err)
	}
	tokenTypeIDs, err := ort.NewEmptyTensor[int64](shape)
	if err != nil {
		inputIDs.Destroy()
		attentionMask.Destroy()
		return fmt.Errorf("failed to create token_type_ids tensor: %w", err)
	}
	hidden, err := ort.NewEmptyTensor[float32](ort.NewShape(1, int64(e.maxTokens), int64(e.dimensions)))
	if err != nil {
		inputIDs.Destroy()
		attentionMask.Destroy()
		tokenTypeIDs.Destroy()
		return fmt.Errorf("failed to create output tensor: %w", err)
	}

	// XLM-R exports take no token_type_ids; bind it only when the model declares it.
	inputs, _, err := ort.GetInputOutputInfo(e.modelPath)
	if err != nil {
		inputIDs.Destroy()
		attentionMask.Destroy()
		tokenTypeIDs.Destroy()
		hidden.Destroy()
		return fmt.Errorf("failed to inspect model %s: %w", e.modelPath, err)
	}
	names := []string{"input_ids", "attention_mask"}
	tensors := []ort.ArbitraryTensor{inputIDs, attentionMask}
	for _, in := range inputs {
		if in.Name == "token_type_ids" {
			names = append(names, in.Name)
			tensors = append(tensors, tokenTypeIDs)
		}
	}

	session, err := ort.NewAdvancedSession(
		e.modelPath,
		names,
		[]string{"last_hidden_state"},
		tensors,
		[]ort.ArbitraryTensor{hidden},
		nil,
	)
	if err != nil {
		inputIDs.Destroy()
		attentionMask.Destroy()
		tokenTypeIDs.Destroy()
		hidden.Destroy()
		return fmt.Errorf("failed to create ONNX session for %s: %w", e.modelPath, err)
	}

	e.session = session
	e.inputIDsTensor = inputIDs
	e.attentionMaskTensor = attentionMask
	e.tokenTypeIDsTensor = tokenTypeIDs
	e.hiddenTensor = hidden
	return nil
}

// Embed returns the mean-pooled, L2-normalized embedding for text.
func (e *ONNXEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := e.Load(); err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session == nil {
		return nil, fmt.Errorf("embedder closed")
	}

	inputIDs, attentionMask, tokenTypeIDs := e.tokenizer.Tokenize(text, e.maxTokens)
	copy(e.inputIDsTensor.GetData(), inputIDs)
	copy(e.attentionMaskTensor.GetData(), attentionMask)
	copy(e.tokenTypeIDsTensor.GetData(), tokenTypeIDs)

	if err := e.session.Run(); err != nil {
		return nil, fmt.Errorf("inference failed: %w", err)
	}

	embedding := meanPool(e.hiddenTensor.GetData(), attentionMask, e.dimensions)
	utils.NormalizeL2(embedding)
	return embedding, nil
}

// EmbedBatch calls Embed for each text.
func (e *ONNXEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return embedEach(ctx, e, texts)
}

// Dimensions returns the embedding dimension.
func (e *ONNXEmbedder) Dimensions() int {
	return e.dimensions
}

// Model returns the model file name without its directory.
func (e *ONNXEmbedder) Model() string {
	return filepath.Base(e.modelPath)
}

// Close destroys the session and tensors.
func (e *ONNXEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	var err error
	if e.session != nil {
		err = e.session.Destroy()
		e.session = nil
	}
	if e.inputIDsTensor != nil {
		_ = e.inputIDsTensor.Destroy()
		e.inputIDsTensor = nil
	}
	if e.attentionMaskTensor != nil {
		_ = e.attentionMaskTensor.Destroy()
		e.attentionMaskTensor = nil
	}
	if e.tokenTypeIDsTensor != nil {
		_ = e.tokenTypeIDsTensor.Destroy()
		e.tokenTypeIDsTensor = nil
	}
	if e.hiddenTensor != nil {
		_ = e.hiddenTensor.Destroy()
		e.hiddenTensor = nil
	}
	return err
}
