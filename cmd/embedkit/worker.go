package main

import (
	"context"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/hyperjump/embedkit/internal/config"
	"github.com/hyperjump/embedkit/internal/embedding"
	"github.com/hyperjump/embedkit/internal/worker"
)

// applyWorkerEnv overrides cfg with the settings the host passes in the environment.
func applyWorkerEnv(cfg *config.Config, getenv func(string) string) {
	if dir := getenv(worker.EnvCacheDir); dir != "" {
		cfg.Worker.CacheDir = dir
	}
	if dims, err := strconv.Atoi(getenv(worker.EnvDimensions)); err == nil && dims > 0 {
		cfg.Cache.Dimensions = dims
	}
}

func newWorkerCmd(a *app) *cobra.Command {
	var provider string
	var dimensions int
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Serve embedding requests on stdin/stdout",
		Long: `Load the embedding model and answer line-delimited JSON requests on stdin with
responses on stdout. Logs go to stderr. Started by the other commands; not meant to be
run by hand.`,
		Hidden: true,
		Args:   cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := *a.cfg
			applyWorkerEnv(&cfg, os.Getenv)
			if provider != "" {
				cfg.Embedding.Provider = provider
			}
			if dimensions > 0 {
				cfg.Cache.Dimensions = dimensions
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			load := func(ctx context.Context, progress embedding.ProgressFunc) (embedding.Embedder, error) {
				return embedding.NewFromConfig(ctx, &cfg, progress)
			}
			return worker.Serve(cmd.Context(), cmd.InOrStdin(), cmd.OutOrStdout(), load, worker.ServeOptions{
				Concurrency: cfg.Worker.Concurrency,
				Logger:      a.logger,
			})
		},
	}
	cmd.Flags().StringVar(&provider, "provider", "", "embedding provider override: onnx, hash")
	cmd.Flags().IntVar(&dimensions, "dimensions", 0, "vector length override")
	return cmd
}
