package server

import (
	"context"

	"lendpool/internal/core"
)

// EngineRunner serializes all engine access onto a single goroutine. The
// engine is single-writer; HTTP handlers and the price feed submit closures
// here instead of calling it directly.
type EngineRunner struct {
	engine   *core.PoolEngine
	requests chan func()
}

func NewEngineRunner(engine *core.PoolEngine, buffer int) *EngineRunner {
	return &EngineRunner{
		engine:   engine,
		requests: make(chan func(), buffer),
	}
}

// Run owns the engine until ctx is cancelled. Everything the engine does
// after startup happens inside this loop.
func (r *EngineRunner) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case fn := <-r.requests:
			fn()
		}
	}
}

// Do runs fn on the engine goroutine and returns its error. Blocks until the
// engine has picked up and finished the closure, or ctx is cancelled while
// still queued.
func (r *EngineRunner) Do(ctx context.Context, fn func(*core.PoolEngine) error) error {
	done := make(chan error, 1)
	select {
	case r.requests <- func() { done <- fn(r.engine) }:
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
