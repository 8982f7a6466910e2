package config

const (
	// DefaultTTLMs is seven days.
	DefaultTTLMs            = 7 * 24 * 60 * 60 * 1000
	DefaultMaxSize          = 10000
	DefaultDimensions       = 384
	DefaultRequestTimeoutMs = 30_000
	DefaultReadyTimeoutMs   = 10 * 60 * 1000
	DefaultShutdownGraceMs  = 5_000
	DefaultModelFile        = "paraphrase-multilingual-MiniLM-L12-v2.onnx"
	DefaultModelURL         = "https://huggingface.co/Xenova/paraphrase-multilingual-MiniLM-L12-v2/resolve/main/onnx/model.onnx"
	DefaultTokenizerFile    = "paraphrase-multilingual-MiniLM-L12-v2.tokenizer.json"
	DefaultTokenizerURL     = "https://huggingface.co/Xenova/paraphrase-multilingual-MiniLM-L12-v2/resolve/main/tokenizer.json"
)

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Cache.DatabasePath == "" {
		cfg.Cache.DatabasePath = ".embedkit/cache/embeddings.db"
	}
	if cfg.Cache.TTLMs == 0 {
		cfg.Cache.TTLMs = DefaultTTLMs
	}
	if cfg.Cache.MaxSize == 0 {
		cfg.Cache.MaxSize = DefaultMaxSize
	}
	if cfg.Cache.Dimensions == 0 {
		cfg.Cache.Dimensions = DefaultDimensions
	}
	if cfg.Worker.CacheDir == "" {
		cfg.Worker.CacheDir = ".embedkit/models"
	}
	if cfg.Worker.RequestTimeoutMs == 0 {
		cfg.Worker.RequestTimeoutMs = DefaultRequestTimeoutMs
	}
	if cfg.Worker.ReadyTimeoutMs == 0 {
		cfg.Worker.ReadyTimeoutMs = DefaultReadyTimeoutMs
	}
	if cfg.Worker.ShutdownGraceMs == 0 {
		cfg.Worker.ShutdownGraceMs = DefaultShutdownGraceMs
	}
	if cfg.Worker.Concurrency == 0 {
		cfg.Worker.Concurrency = 4
	}
	if cfg.Embedding.Provider == "" {
		cfg.Embedding.Provider = "onnx"
	}
	// Download URLs default only together with the default file names.
	if cfg.Embedding.ModelFile == "" {
		cfg.Embedding.ModelFile = DefaultModelFile
		if cfg.Embedding.ModelURL == "" {
			cfg.Embedding.ModelURL = DefaultModelURL
		}
	}
	if cfg.Embedding.TokenizerFile == "" {
		cfg.Embedding.TokenizerFile = DefaultTokenizerFile
		if cfg.Embedding.TokenizerURL == "" {
			cfg.Embedding.TokenizerURL = DefaultTokenizerURL
		}
	}
	if cfg.Embedding.MaxTokens == 0 {
		cfg.Embedding.MaxTokens = 128
	}
	if cfg.Service.MemoryCacheSize == 0 {
		cfg.Service.MemoryCacheSize = 1024
	}
}
