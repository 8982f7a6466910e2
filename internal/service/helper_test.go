package service

import (
	"context"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/hyperjump/embedkit/internal/embedding"
	"github.com/hyperjump/embedkit/internal/worker"
)

const (
	helperEnv     = "EMBEDKIT_SERVICE_HELPER"
	helperDimsEnv = "EMBEDKIT_SERVICE_HELPER_DIMS"
)

// testEmbedder exits the process on "crash" and returns a short vector for "short".
type testEmbedder struct {
	*embedding.HashEmbedder
}

func (e *testEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	switch text {
	case "crash":
		os.Exit(2)
	case "short":
		v, err := e.HashEmbedder.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		return v[:len(v)-1], nil
	}
	return e.HashEmbedder.Embed(ctx, text)
}

// TestHelperProcess is re-executed as the worker subprocess by the service tests.
func TestHelperProcess(t *testing.T) {
	if os.Getenv(helperEnv) != "1" {
		return
	}
	dims, _ := strconv.Atoi(os.Getenv(worker.EnvDimensions))
	if forced, err := strconv.Atoi(os.Getenv(helperDimsEnv)); err == nil {
		dims = forced
	}
	if dims <= 0 {
		dims = 384
	}
	loader := func(ctx context.Context, progress embedding.ProgressFunc) (embedding.Embedder, error) {
		progress(0, 100)
		progress(100, 100)
		return &testEmbedder{embedding.NewHashEmbedder(dims)}, nil
	}
	if err := worker.Serve(context.Background(), os.Stdin, os.Stdout, loader, worker.ServeOptions{}); err != nil {
		os.Exit(1)
	}
	os.Exit(0)
}

func helperWorkerOptions() worker.Options {
	return worker.Options{
		Command:        []string{os.Args[0], "-test.run=^TestHelperProcess$", "--"},
		Env:            []string{helperEnv + "=1"},
		RequestTimeout: 5 * time.Second,
		ReadyTimeout:   10 * time.Second,
		ShutdownGrace:  2 * time.Second,
	}
}
