package jobs

import (
	"context"
	"time"
)

// Queue is the delayed-job runner surface consumed by the timer registry.
// EnqueueDelayed schedules a named task to fire after delay and returns an
// opaque cancellation handle; Cancel invalidates it. Cancelling a job that
// already fired (or was already cancelled) is a no-op.
type Queue interface {
	EnqueueDelayed(ctx context.Context, name, payload string, delay time.Duration) (string, error)
	Cancel(ctx context.Context, jobID string) error
}

// Handler processes a fired job. The dispatcher invokes it at most once per
// successful fire.
type Handler func(ctx context.Context, payload string) error

// HandlerRegistry binds handlers to job names before dispatching starts.
type HandlerRegistry interface {
	RegisterHandler(name string, handler Handler)
}
