package worker

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	appErr "github.com/hyperjump/embedkit/internal/pkg/errors"
	"github.com/hyperjump/embedkit/pkg/utils"
)

// maxLineBytes bounds a single protocol line.
const maxLineBytes = 16 * 1024 * 1024

// State is the worker lifecycle state.
type State int32

const (
	StateNotSpawned State = iota
	StateSpawning
	StateReady
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateNotSpawned:
		return "not_spawned"
	case StateSpawning:
		return "spawning"
	case StateReady:
		return "ready"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// ProgressFunc receives progress messages sent by the worker before it is ready.
type ProgressFunc func(stage string, current, total int64)

// Options configures a Worker.
type Options struct {
	// Command is the executable and arguments. Empty runs the current executable with "worker".
	Command []string
	// Env is appended to the host environment.
	Env []string
	// CacheDir is where the worker keeps model files.
	CacheDir string
	// Dimensions is the expected vector length; a ready message reporting another
	// length fails WaitReady. Zero skips the check.
	Dimensions     int
	RequestTimeout time.Duration
	ReadyTimeout   time.Duration
	ShutdownGrace  time.Duration
	Logger         *zap.Logger
	OnProgress     ProgressFunc
}

type result struct {
	embedding []float32
	err       error
}

// Worker is the host-side handle of one worker process. A Worker is single-use: once
// terminated it cannot be spawned again.
type Worker struct {
	opts   Options
	logger *zap.Logger
	state  atomic.Int32

	mu           sync.Mutex
	cmd          *exec.Cmd
	stdin        io.WriteCloser
	pending      map[string]chan result
	info         Info
	readyErr     error
	shuttingDown bool

	writes    chan []byte
	readyOnce sync.Once
	readyCh   chan struct{}
	doneOnce  sync.Once
	doneCh    chan struct{}

	shutdownOnce sync.Once
	shutdownErr  error
}

// New returns a worker in the NotSpawned state.
func New(opts Options) *Worker {
	if opts.ShutdownGrace <= 0 {
		opts.ShutdownGrace = 5 * time.Second
	}
	return &Worker{
		opts:    opts,
		logger:  utils.LoggerOrNop(opts.Logger).Named("worker"),
		pending: make(map[string]chan result),
		writes:  make(chan []byte),
		readyCh: make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
}

// State returns the current lifecycle state.
func (w *Worker) State() State {
	return State(w.state.Load())
}

// Done is closed once the worker process has exited (or the worker was shut down before spawning).
func (w *Worker) Done() <-chan struct{} {
	return w.doneCh
}

// Pending returns the number of in-flight requests.
func (w *Worker) Pending() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.pending)
}

// Info returns the model description from the ready message.
func (w *Worker) Info() Info {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.info
}

func (w *Worker) command() ([]string, error) {
	if len(w.opts.Command) > 0 {
		return w.opts.Command, nil
	}
	exe, err := os.Executable()
	if err != nil {
		return nil, err
	}
	return []string{exe, "worker"}, nil
}

// Spawn starts the worker process. It does not wait for readiness; use WaitReady.
// Spawning an already spawning or ready worker is a no-op.
func (w *Worker) Spawn(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.state.CompareAndSwap(int32(StateNotSpawned), int32(StateSpawning)) {
		if w.State() == StateTerminated {
			return fmt.Errorf("%w: worker cannot be respawned", appErr.ErrShutdown)
		}
		return nil
	}

	args, err := w.command()
	if err != nil {
		w.failStartLocked(err)
		return fmt.Errorf("%w: resolve command: %w", appErr.ErrWorker, err)
	}
	cmd := exec.Command(args[0], args[1:]...)
	cmd.Env = append(os.Environ(), w.opts.Env...)
	if w.opts.CacheDir != "" {
		cmd.Env = append(cmd.Env, EnvCacheDir+"="+w.opts.CacheDir)
	}
	if w.opts.Dimensions > 0 {
		cmd.Env = append(cmd.Env, EnvDimensions+"="+strconv.Itoa(w.opts.Dimensions))
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		w.failStartLocked(err)
		return fmt.Errorf("%w: stdin pipe: %w", appErr.ErrWorker, err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		w.failStartLocked(err)
		return fmt.Errorf("%w: stdout pipe: %w", appErr.ErrWorker, err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		w.failStartLocked(err)
		return fmt.Errorf("%w: stderr pipe: %w", appErr.ErrWorker, err)
	}
	if err := cmd.Start(); err != nil {
		w.failStartLocked(err)
		return fmt.Errorf("%w: start %s: %w", appErr.ErrWorker, args[0], err)
	}

	w.cmd = cmd
	w.stdin = stdin
	w.logger.Debug("worker spawned", zap.Int("pid", cmd.Process.Pid), zap.Strings("command", args))

	var stderrDone sync.WaitGroup
	stderrDone.Add(1)
	go func() {
		defer stderrDone.Done()
		w.forwardStderr(stderr)
	}()
	go w.readLoop(stdout, &stderrDone)
	go w.writeLoop(stdin)
	return nil
}

// writeLoop owns the worker's stdin. Embed hands lines over on w.writes, so a stalled pipe
// blocks only this goroutine and callers still observe their own deadline.
func (w *Worker) writeLoop(stdin io.Writer) {
	for {
		select {
		case line := <-w.writes:
			if _, err := stdin.Write(line); err != nil {
				w.mu.Lock()
				shuttingDown := w.shuttingDown
				w.mu.Unlock()
				if !shuttingDown {
					w.logger.Warn("worker stdin write failed", zap.Error(err))
					w.kill()
				}
				return
			}
		case <-w.doneCh:
			return
		}
	}
}

// failStartLocked moves a worker that never started straight to Terminated.
func (w *Worker) failStartLocked(err error) {
	w.readyErr = fmt.Errorf("%w: %w", appErr.ErrWorker, err)
	w.state.Store(int32(StateTerminated))
	w.closeReady()
	w.closeDone()
}

func (w *Worker) closeReady() {
	w.readyOnce.Do(func() { close(w.readyCh) })
}

func (w *Worker) closeDone() {
	w.doneOnce.Do(func() { close(w.doneCh) })
}

// WaitReady blocks until the worker reports ready, fails to load, exits, or ReadyTimeout passes.
func (w *Worker) WaitReady(ctx context.Context) error {
	if w.State() == StateNotSpawned {
		return appErr.ErrNotReady
	}
	var timeout <-chan time.Time
	if w.opts.ReadyTimeout > 0 {
		timer := time.NewTimer(w.opts.ReadyTimeout)
		defer timer.Stop()
		timeout = timer.C
	}
	select {
	case <-w.readyCh:
		w.mu.Lock()
		defer w.mu.Unlock()
		if w.readyErr == nil && w.State() == StateTerminated {
			return appErr.ErrWorkerCrashed
		}
		return w.readyErr
	case <-timeout:
		return fmt.Errorf("%w: not ready after %s", appErr.ErrTimeout, w.opts.ReadyTimeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Embed sends text to the worker and waits for its vector. RequestTimeout and ctx cover
// both handing the request to the worker and waiting for the response.
func (w *Worker) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	id := uuid.NewString()
	data, err := json.Marshal(Request{ID: id, Text: text})
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}
	var timeout <-chan time.Time
	if w.opts.RequestTimeout > 0 {
		timer := time.NewTimer(w.opts.RequestTimeout)
		defer timer.Stop()
		timeout = timer.C
	}

	ch := make(chan result, 1)

	w.mu.Lock()
	if w.shuttingDown {
		w.mu.Unlock()
		return nil, appErr.ErrShutdown
	}
	if w.State() != StateReady {
		w.mu.Unlock()
		return nil, appErr.ErrNotReady
	}
	w.pending[id] = ch
	w.mu.Unlock()

	sent := false
	line := append(data, '\n')
	for {
		writes := w.writes
		if sent {
			writes = nil
		}
		select {
		case writes <- line:
			sent = true
		case r := <-ch:
			return r.embedding, r.err
		case <-timeout:
			w.logger.Warn("worker request timed out", zap.String("id", id), zap.Bool("sent", sent), zap.Duration("timeout", w.opts.RequestTimeout))
			return w.abandon(id, ch, fmt.Errorf("%w after %s", appErr.ErrTimeout, w.opts.RequestTimeout))
		case <-ctx.Done():
			return w.abandon(id, ch, ctx.Err())
		}
	}
}

// abandon stops waiting for id. If a result already resolved it, that result wins.
func (w *Worker) abandon(id string, ch chan result, err error) ([]float32, error) {
	if w.removePending(id) {
		return nil, err
	}
	r := <-ch
	return r.embedding, r.err
}

// removePending deletes id and reports whether it was still waiting. A false return means
// another path already resolved it and a result is buffered on its channel.
func (w *Worker) removePending(id string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.pending[id]; !ok {
		return false
	}
	delete(w.pending, id)
	return true
}

// takePendingLocked removes and returns every waiting request.
func (w *Worker) takePendingLocked() map[string]chan result {
	pending := w.pending
	w.pending = make(map[string]chan result)
	return pending
}

func (w *Worker) readLoop(stdout io.Reader, stderrDone *sync.WaitGroup) {
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)
	for scanner.Scan() {
		var msg Message
		if err := json.Unmarshal(scanner.Bytes(), &msg); err != nil {
			w.logger.Warn("malformed worker message", zap.Error(err), zap.String("line", utils.Preview(scanner.Text(), 200)))
			continue
		}
		w.handleMessage(msg)
	}
	if err := scanner.Err(); err != nil {
		w.logger.Warn("worker stdout read failed", zap.Error(err))
		w.kill()
	}

	stderrDone.Wait()
	w.mu.Lock()
	cmd := w.cmd
	w.mu.Unlock()
	w.terminate(cmd.Wait())
}

func (w *Worker) handleMessage(msg Message) {
	switch msg.Type {
	case TypeReady:
		w.mu.Lock()
		if w.opts.Dimensions > 0 && msg.Dimensions != w.opts.Dimensions {
			w.readyErr = fmt.Errorf("%w: worker reports %d dimensions, want %d",
				appErr.ErrDimensionMismatch, msg.Dimensions, w.opts.Dimensions)
			w.mu.Unlock()
			w.closeReady()
			w.logger.Error("worker model has wrong dimensions", zap.Int("got", msg.Dimensions), zap.Int("want", w.opts.Dimensions))
			w.kill()
			return
		}
		w.info = Info{Dimensions: msg.Dimensions, Model: msg.Model}
		w.state.CompareAndSwap(int32(StateSpawning), int32(StateReady))
		w.mu.Unlock()
		w.closeReady()
		w.logger.Info("worker ready", zap.String("model", msg.Model), zap.Int("dimensions", msg.Dimensions))

	case TypeFatal:
		w.mu.Lock()
		w.readyErr = fmt.Errorf("%w: %s", appErr.ErrWorker, msg.Error)
		w.mu.Unlock()
		w.closeReady()
		w.logger.Error("worker failed to load model", zap.String("error", msg.Error))

	case TypeProgress:
		w.logger.Debug("worker progress", zap.String("stage", msg.Stage), zap.Int64("current", msg.Current), zap.Int64("total", msg.Total))
		if w.opts.OnProgress != nil {
			w.opts.OnProgress(msg.Stage, msg.Current, msg.Total)
		}

	case TypeResult:
		w.mu.Lock()
		ch, ok := w.pending[msg.ID]
		delete(w.pending, msg.ID)
		w.mu.Unlock()
		if !ok {
			w.logger.Warn("dropping response for unknown request", zap.String("id", msg.ID))
			return
		}
		if msg.Error != "" {
			ch <- result{err: fmt.Errorf("%w: %s", appErr.ErrWorker, msg.Error)}
			return
		}
		emb := msg.Embedding
		if emb == nil {
			emb = []float32{}
		}
		ch <- result{embedding: emb}

	default:
		w.logger.Warn("unknown worker message type", zap.String("type", string(msg.Type)))
	}
}

func (w *Worker) forwardStderr(r io.Reader) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)
	for scanner.Scan() {
		w.logger.Debug("worker stderr", zap.String("line", scanner.Text()))
	}
}

// terminate runs once the process has exited: every waiter is failed and the worker
// moves to Terminated.
func (w *Worker) terminate(exitErr error) {
	w.mu.Lock()
	reason := appErr.ErrWorkerCrashed
	if w.shuttingDown {
		reason = appErr.ErrShutdown
	}
	detail := "process exited"
	if exitErr != nil {
		detail = exitErr.Error()
	}
	if w.State() != StateReady && w.readyErr == nil {
		w.readyErr = fmt.Errorf("%w: exited before ready: %s", reason, detail)
	}
	pending := w.takePendingLocked()
	wasShuttingDown := w.shuttingDown
	w.state.Store(int32(StateTerminated))
	w.mu.Unlock()

	for _, ch := range pending {
		ch <- result{err: fmt.Errorf("%w: %s", reason, detail)}
	}
	w.closeReady()
	w.closeDone()

	if wasShuttingDown {
		w.logger.Debug("worker exited", zap.String("detail", detail))
	} else {
		w.logger.Warn("worker exited unexpectedly", zap.String("detail", detail), zap.Int("failed_requests", len(pending)))
	}
}

func (w *Worker) kill() {
	w.mu.Lock()
	cmd := w.cmd
	w.mu.Unlock()
	if cmd != nil && cmd.Process != nil {
		_ = cmd.Process.Kill()
	}
}

// Shutdown rejects in-flight requests with ErrShutdown, closes the worker's stdin and waits
// up to ShutdownGrace for it to exit before killing it. Safe to call more than once.
func (w *Worker) Shutdown(ctx context.Context) error {
	w.shutdownOnce.Do(func() {
		w.shutdownErr = w.shutdown(ctx)
	})
	return w.shutdownErr
}

func (w *Worker) shutdown(ctx context.Context) error {
	w.mu.Lock()
	if w.state.CompareAndSwap(int32(StateNotSpawned), int32(StateTerminated)) {
		w.readyErr = appErr.ErrShutdown
		w.mu.Unlock()
		w.closeReady()
		w.closeDone()
		return nil
	}
	w.shuttingDown = true
	pending := w.takePendingLocked()
	stdin := w.stdin
	w.mu.Unlock()

	for _, ch := range pending {
		ch <- result{err: appErr.ErrShutdown}
	}
	if stdin != nil {
		_ = stdin.Close()
	}

	timer := time.NewTimer(w.opts.ShutdownGrace)
	defer timer.Stop()
	select {
	case <-w.doneCh:
		return nil
	case <-timer.C:
		w.logger.Warn("worker did not exit in time, killing", zap.Duration("grace", w.opts.ShutdownGrace))
		w.kill()
		<-w.doneCh
		return nil
	case <-ctx.Done():
		w.kill()
		<-w.doneCh
		return ctx.Err()
	}
}
