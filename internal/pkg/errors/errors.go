// Package errors defines the error taxonomy shared by the cache, worker, and service.
// Callers match with errors.Is; wrapped messages carry the detail.
package errors

import "errors"

var (
	ErrNotReady          = errors.New("worker not ready")
	ErrTimeout           = errors.New("worker request timed out")
	ErrWorker            = errors.New("worker error")
	ErrWorkerCrashed     = errors.New("worker crashed")
	ErrShutdown          = errors.New("worker shut down")
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
	ErrStorage           = errors.New("cache storage error")
	ErrInvalidConfig     = errors.New("invalid config")
)

func IsNotReady(err error) bool {
	return errors.Is(err, ErrNotReady)
}

func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout)
}

func IsWorkerError(err error) bool {
	return errors.Is(err, ErrWorker)
}

func IsWorkerCrashed(err error) bool {
	return errors.Is(err, ErrWorkerCrashed)
}

func IsShutdown(err error) bool {
	return errors.Is(err, ErrShutdown)
}

func IsDimensionMismatch(err error) bool {
	return errors.Is(err, ErrDimensionMismatch)
}

func IsStorage(err error) bool {
	return errors.Is(err, ErrStorage)
}
