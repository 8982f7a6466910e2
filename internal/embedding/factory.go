package embedding

import (
	"context"
	"fmt"

	"github.com/hyperjump/embedkit/internal/config"
)

// NewFromConfig builds the embedder named by cfg.Embedding.Provider. For "onnx" the model
// is fetched into cfg.Worker.CacheDir when missing and loaded before returning, so load
// failures surface here rather than on the first request.
func NewFromConfig(ctx context.Context, cfg *config.Config, progress ProgressFunc) (Embedder, error) {
	dims := cfg.Cache.Dimensions
	switch cfg.Embedding.Provider {
	case "hash":
		return NewHashEmbedder(dims), nil
	case "onnx", "":
		path, err := EnsureModel(ctx, cfg.Worker.CacheDir, cfg.Embedding.ModelFile, cfg.Embedding.ModelURL, progress)
		if err != nil {
			return nil, err
		}
		tok, err := tokenizerFromConfig(ctx, cfg, progress)
		if err != nil {
			return nil, err
		}
		e, err := NewONNXEmbedder(path, tok, dims, cfg.Embedding.MaxTokens)
		if err != nil {
			return nil, err
		}
		if err := e.Load(); err != nil {
			_ = e.Close()
			return nil, err
		}
		return e, nil
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.Embedding.Provider)
	}
}

// tokenizerFromConfig loads cfg.Embedding.TokenizerFile from the model cache, fetching it
// when missing. An empty name or "none" selects the built-in WordTokenizer.
func tokenizerFromConfig(ctx context.Context, cfg *config.Config, progress ProgressFunc) (Tokenizer, error) {
	file := cfg.Embedding.TokenizerFile
	if file == "" || file == "none" {
		return &WordTokenizer{}, nil
	}
	path, err := EnsureModel(ctx, cfg.Worker.CacheDir, file, cfg.Embedding.TokenizerURL, progress)
	if err != nil {
		return nil, err
	}
	return LoadUnigramTokenizer(path)
}
