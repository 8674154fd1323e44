package tool

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Registry is an in-process Catalog backed by a mutex-guarded map.
// Unknown and duplicate ids are rejected at registration time, not call time.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
	descs    map[string]Descriptor
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[string]Handler),
		descs:    make(map[string]Descriptor),
	}
}

// Register adds a tool to the registry. Mutating tools always require
// approval, regardless of what the descriptor claims.
func (r *Registry) Register(desc Descriptor, h Handler) error {
	if desc.ID == "" {
		return fmt.Errorf("tool: descriptor id must not be empty")
	}
	if desc.Category == "" {
		return fmt.Errorf("tool: descriptor %q has no category", desc.ID)
	}
	if h == nil {
		return fmt.Errorf("tool: handler for %q must not be nil", desc.ID)
	}
	if desc.Mutating {
		desc.RequiresApproval = true
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.descs[desc.ID]; exists {
		return fmt.Errorf("tool: %q already registered", desc.ID)
	}
	r.descs[desc.ID] = desc
	r.handlers[desc.ID] = h
	return nil
}

// List returns every registered descriptor, sorted by id.
func (r *Registry) List() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Descriptor, 0, len(r.descs))
	for _, d := range r.descs {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Describe returns the descriptor for id, if registered.
func (r *Registry) Describe(id string) (Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.descs[id]
	return d, ok
}

// Invoke runs the tool and wraps the handler outcome in a Result.
// The handler error is carried in the Result, not returned, so callers can
// persist failed invocations uniformly; the returned error is reserved for
// unknown ids.
func (r *Registry) Invoke(ctx context.Context, id string, params map[string]any, ic InvokeContext) (Result, error) {
	r.mu.RLock()
	h, ok := r.handlers[id]
	r.mu.RUnlock()
	if !ok {
		return Result{}, fmt.Errorf("tool: %q is not registered", id)
	}

	start := time.Now()
	out, err := h.Invoke(ctx, params, ic)
	res := Result{
		InvocationID: uuid.New(),
		Duration:     time.Since(start),
	}
	if err != nil {
		res.Success = false
		res.Error = err.Error()
		return res, nil
	}
	res.Success = true
	res.Output = out
	return res, nil
}
