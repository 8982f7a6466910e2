package worker

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/hyperjump/embedkit/internal/embedding"
)

const (
	helperEnv     = "EMBEDKIT_WORKER_HELPER"
	helperModeEnv = "EMBEDKIT_WORKER_HELPER_MODE"
)

// scriptedEmbedder wraps HashEmbedder and changes behavior for a few magic texts.
type scriptedEmbedder struct {
	*embedding.HashEmbedder
}

func (e *scriptedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	switch text {
	case "slow":
		time.Sleep(300 * time.Millisecond)
	case "crash":
		os.Exit(2)
	case "hang":
		time.Sleep(time.Hour)
	case "fail":
		return nil, errors.New("scripted failure")
	case "nan":
		v := make([]float32, e.Dimensions())
		v[0] = float32(math.NaN())
		return v, nil
	}
	return e.HashEmbedder.Embed(ctx, text)
}

// TestHelperProcess is not a real test. It is re-executed as the worker subprocess by
// the client tests.
func TestHelperProcess(t *testing.T) {
	if os.Getenv(helperEnv) != "1" {
		return
	}
	dims, _ := strconv.Atoi(os.Getenv(EnvDimensions))
	if dims <= 0 {
		dims = 8
	}
	mode := os.Getenv(helperModeEnv)
	if mode == "no-read" {
		// Announces ready and then never reads stdin, so the request pipe fills up.
		_ = json.NewEncoder(os.Stdout).Encode(Message{Type: TypeReady, Dimensions: dims, Model: embedding.HashModelName})
		time.Sleep(time.Hour)
	}
	loader := func(ctx context.Context, progress embedding.ProgressFunc) (embedding.Embedder, error) {
		switch mode {
		case "fatal":
			return nil, errors.New("model file corrupt")
		case "exit-before-ready":
			os.Exit(3)
		case "wrong-dims":
			dims++
		}
		progress(0, 100)
		progress(100, 100)
		return &scriptedEmbedder{embedding.NewHashEmbedder(dims)}, nil
	}
	if err := Serve(context.Background(), os.Stdin, os.Stdout, loader, ServeOptions{Concurrency: 8}); err != nil {
		os.Exit(1)
	}
	os.Exit(0)
}

// helperOptions returns Options that run TestHelperProcess in the given mode.
func helperOptions(mode string) Options {
	return Options{
		Command:        []string{os.Args[0], "-test.run=^TestHelperProcess$", "--"},
		Env:            []string{helperEnv + "=1", helperModeEnv + "=" + mode},
		Dimensions:     8,
		RequestTimeout: 5 * time.Second,
		ReadyTimeout:   10 * time.Second,
		ShutdownGrace:  2 * time.Second,
	}
}
