package worker

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"go.uber.org/zap"

	"github.com/hyperjump/embedkit/internal/embedding"
	"github.com/hyperjump/embedkit/pkg/utils"
)

// progressStep is the minimum byte delta between forwarded download progress messages.
const progressStep = 1 << 20

// Loader prepares the embedder, reporting download progress through progress.
type Loader func(ctx context.Context, progress embedding.ProgressFunc) (embedding.Embedder, error)

// ServeOptions configures Serve.
type ServeOptions struct {
	// Concurrency bounds how many requests are embedded at once. Defaults to 4.
	Concurrency int
	Logger      *zap.Logger
}

// messageWriter serializes whole-line writes to out.
type messageWriter struct {
	mu  sync.Mutex
	out io.Writer
}

func (w *messageWriter) write(msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	_, err = w.out.Write(append(data, '\n'))
	return err
}

// Serve is the worker side of the protocol. It loads the embedder, announces ready (or
// fatal, returning the load error), then answers requests read from in until EOF. Each
// request is embedded on its own goroutine, so responses are written in completion order.
func Serve(ctx context.Context, in io.Reader, out io.Writer, load Loader, opts ServeOptions) error {
	logger := utils.LoggerOrNop(opts.Logger)
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	w := &messageWriter{out: out}

	var lastSent int64 = -1
	progress := func(current, total int64) {
		if lastSent >= 0 && current-lastSent < progressStep && current != total {
			return
		}
		lastSent = current
		if err := w.write(Message{Type: TypeProgress, Stage: StageDownload, Current: current, Total: total}); err != nil {
			logger.Warn("failed to write progress", zap.Error(err))
		}
	}

	emb, err := load(ctx, progress)
	if err != nil {
		logger.Error("failed to load embedder", zap.Error(err))
		if werr := w.write(Message{Type: TypeFatal, Error: err.Error()}); werr != nil {
			logger.Warn("failed to write fatal message", zap.Error(werr))
		}
		return fmt.Errorf("failed to load embedder: %w", err)
	}
	defer emb.Close()

	if err := w.write(Message{Type: TypeReady, Dimensions: emb.Dimensions(), Model: emb.Model()}); err != nil {
		return fmt.Errorf("failed to write ready: %w", err)
	}
	logger.Info("worker ready", zap.String("model", emb.Model()), zap.Int("dimensions", emb.Dimensions()))

	sem := make(chan struct{}, opts.Concurrency)
	var wg sync.WaitGroup
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)
	for scanner.Scan() {
		var req Request
		if err := json.Unmarshal(scanner.Bytes(), &req); err != nil {
			logger.Warn("malformed request", zap.Error(err), zap.String("line", utils.Preview(scanner.Text(), 200)))
			continue
		}
		if req.ID == "" {
			logger.Warn("request without id")
			continue
		}

		// The slot is taken inside the goroutine so stdin keeps draining while every slot is busy.
		wg.Add(1)
		go func(req Request) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			w.respond(ctx, emb, req, logger)
		}(req)
	}
	wg.Wait()
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read requests: %w", err)
	}
	return nil
}

func (w *messageWriter) respond(ctx context.Context, emb embedding.Embedder, req Request, logger *zap.Logger) {
	vec, err := emb.Embed(ctx, req.Text)
	msg := Message{Type: TypeResult, ID: req.ID, Embedding: vec}
	if err != nil {
		msg = Message{Type: TypeResult, ID: req.ID, Error: err.Error()}
	}
	werr := w.write(msg)
	if werr != nil && err == nil {
		// Vectors with NaN or Inf components cannot be encoded as JSON.
		werr = w.write(Message{Type: TypeResult, ID: req.ID, Error: fmt.Sprintf("failed to encode embedding: %v", werr)})
	}
	if werr != nil {
		logger.Warn("failed to write response", zap.String("id", req.ID), zap.Error(werr))
	}
}
