//go:build !cgo
// +build !cgo

package embedding

import (
	"context"
	"errors"
	"path/filepath"
)

var errNoCGO = errors.New("ONNX embedder requires CGO; build with CGO_ENABLED=1 and onnxruntime, or use provider \"hash\"")

// ONNXEmbedder stub type when built without CGO (see onnx.go for real implementation).
type ONNXEmbedder struct {
	modelPath  string
	dimensions int
}

// NewONNXEmbedder returns a stub whose Load and Embed always fail.
func NewONNXEmbedder(modelPath string, _ Tokenizer, dimensions, _ int) (*ONNXEmbedder, error) {
	return &ONNXEmbedder{modelPath: modelPath, dimensions: dimensions}, nil
}

func (e *ONNXEmbedder) Load() error { return errNoCGO }

func (e *ONNXEmbedder) Embed(context.Context, string) ([]float32, error) { return nil, errNoCGO }

func (e *ONNXEmbedder) EmbedBatch(context.Context, []string) ([][]float32, error) {
	return nil, errNoCGO
}

func (e *ONNXEmbedder) Dimensions() int { return e.dimensions }

func (e *ONNXEmbedder) Model() string { return filepath.Base(e.modelPath) }

func (e *ONNXEmbedder) Close() error { return nil }
