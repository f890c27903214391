// Package handler defines the job handler contract and registry.
//
// Domain packages implement Handler for their job types and register them
// by name, keeping the queue and dispatcher decoupled from domain logic.
// The dispatcher routes claimed queue jobs through the registry.
package handler

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/ronittamrakar/Xordon-sub048/errors"
	"github.com/ronittamrakar/Xordon-sub048/queue"
)

// ErrUnknownJobType is returned by Dispatch when no handler is registered
// for a job's type. The dispatcher marks such jobs failed rather than
// leaving them to spin forever.
var ErrUnknownJobType = errors.New("unknown job type")

// Handler executes one job type.
//
// Execute decodes the payload itself; the queue stores it opaquely. The
// returned result is persisted on the job row on success. Handlers must
// tolerate at-least-once delivery: a stale-released job is retried from
// the start.
type Handler interface {
	// Execute runs the job. Handlers should check ctx.Done() during
	// long-running work and return ctx.Err() when cancelled.
	Execute(ctx context.Context, job *queue.Job) (json.RawMessage, error)

	// Name returns the job type string this handler serves
	// (e.g. "push.send", "report.generate", "workflow.step").
	Name() string
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc struct {
	JobType string
	Fn      func(ctx context.Context, job *queue.Job) (json.RawMessage, error)
}

func (h HandlerFunc) Execute(ctx context.Context, job *queue.Job) (json.RawMessage, error) {
	return h.Fn(ctx, job)
}

func (h HandlerFunc) Name() string { return h.JobType }

// Registry maps job type strings to handlers.
// Thread-safe for concurrent registration and dispatch.
type Registry struct {
	handlers map[string]Handler
	mu       sync.RWMutex
}

// NewRegistry creates an empty handler registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register adds a handler under its name. Registering the same name twice
// is a programming error and returns an error instead of silently
// replacing the first handler.
func (r *Registry) Register(h Handler) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := h.Name()
	if name == "" {
		return errors.New("handler name cannot be empty")
	}
	if _, exists := r.handlers[name]; exists {
		return errors.Newf("handler already registered for job type %q", name)
	}
	r.handlers[name] = h
	return nil
}

// MustRegister registers a handler and panics on conflict. For use during
// process startup where a duplicate registration is unrecoverable.
func (r *Registry) MustRegister(h Handler) {
	if err := r.Register(h); err != nil {
		panic(err)
	}
}

// Get retrieves the handler for a job type, or nil if none is registered.
func (r *Registry) Get(jobType string) Handler {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.handlers[jobType]
}

// Has checks whether a handler is registered for a job type.
func (r *Registry) Has(jobType string) bool {
	return r.Get(jobType) != nil
}

// Names returns the registered job types (unordered).
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	return names
}

// Dispatch routes a job to its handler and returns the handler's result.
// Returns ErrUnknownJobType (with the type attached) when no handler is
// registered for job.JobType.
func (r *Registry) Dispatch(ctx context.Context, job *queue.Job) (json.RawMessage, error) {
	h := r.Get(job.JobType)
	if h == nil {
		return nil, errors.Wrapf(ErrUnknownJobType, "%s", job.JobType)
	}
	return h.Execute(ctx, job)
}
