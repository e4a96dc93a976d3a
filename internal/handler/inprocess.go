package handler

import (
	"context"
	"sync"

	"github.com/jobforge/jobforge/internal/jobforge"
)

// InProcessHandler is the test double tests inject in place of an
// outbound HTTP call: a plain function keyed by (queue, type).
type InProcessHandler struct {
	mu       sync.Mutex
	handlers map[string]jobforge.HandlerFunc
}

// NewInProcessHandler builds an empty in-process handler registry.
func NewInProcessHandler() *InProcessHandler {
	return &InProcessHandler{handlers: make(map[string]jobforge.HandlerFunc)}
}

// Register binds a handler function to a (queue, type) pair.
func (h *InProcessHandler) Register(queue, jobType string, fn jobforge.HandlerFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.handlers[queue+"/"+jobType] = fn
}

// Handle dispatches to the registered function, or returns
// INVALID_JOB_TYPE if nothing is registered for (queue, type).
func (h *InProcessHandler) Handle(ctx context.Context, job jobforge.Job) ([]byte, error) {
	h.mu.Lock()
	fn, ok := h.handlers[job.Queue+"/"+job.Type]
	h.mu.Unlock()
	if !ok {
		return nil, jobforge.NewError(jobforge.CodeInvalidJobType, job.Queue+"/"+job.Type+" has no in-process handler", nil)
	}
	return fn(ctx, job)
}
