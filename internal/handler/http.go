// Package handler supplies the Handler capability a Worker Pool
// invokes per (queue, type): an outbound HTTP call indexed by a
// registered JobTypeDef. This lifts handler dispatch out of the
// Worker Pool itself.
package handler

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/jobforge/jobforge/internal/jobforge"
)

// HTTPHandler performs the outbound call for every (queue, type)
// registered against it, looking up the target URL/method/headers
// from the TypeRegistry.
type HTTPHandler struct {
	client   *http.Client
	registry *jobforge.TypeRegistry
}

// NewHTTPHandler builds an outbound handler bound to a type registry.
func NewHTTPHandler(registry *jobforge.TypeRegistry) *HTTPHandler {
	return &HTTPHandler{
		client:   &http.Client{},
		registry: registry,
	}
}

// Handle posts the job payload to the registered URL, carrying the
// job id in a dedicated header so the downstream worker can
// deduplicate retries, and the owner in X-Job-Owner whenever the job
// has one.
func (h *HTTPHandler) Handle(ctx context.Context, job jobforge.Job) ([]byte, error) {
	def, ok := h.registry.Lookup(job.Queue, job.Type)
	if !ok {
		return nil, jobforge.NewError(jobforge.CodeInvalidJobType, fmt.Sprintf("%s/%s not registered", job.Queue, job.Type), nil)
	}

	method := def.Method
	if method == "" {
		method = http.MethodPost
	}

	timeout := time.Duration(def.Timeout) * time.Millisecond
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, method, def.URL, bytes.NewReader(job.Payload))
	if err != nil {
		return nil, jobforge.Wrap(jobforge.CodeHandlerFatal, err, "build request for %s", job.ID)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Job-ID", job.ID)
	if job.Owner != "" {
		req.Header.Set("X-Job-Owner", job.Owner)
	}
	for k, v := range def.Headers {
		req.Header.Set(k, v)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		if reqCtx.Err() != nil {
			return nil, jobforge.NewError(jobforge.CodeHandlerTimeout, fmt.Sprintf("handler call for %s timed out", job.ID), err)
		}
		return nil, jobforge.Wrap(jobforge.CodeHandlerRetriable, err, "handler call for %s", job.ID)
	}
	defer resp.Body.Close()

	body, readErr := io.ReadAll(resp.Body)
	if readErr != nil {
		return nil, jobforge.Wrap(jobforge.CodeHandlerRetriable, readErr, "read response for %s", job.ID)
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return body, nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return nil, jobforge.NewError(jobforge.CodeHandlerFatal, fmt.Sprintf("handler returned %d for %s", resp.StatusCode, job.ID), nil)
	default:
		return nil, jobforge.NewError(jobforge.CodeHandlerRetriable, fmt.Sprintf("handler returned %d for %s", resp.StatusCode, job.ID), nil)
	}
}
