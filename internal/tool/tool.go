// Package tool defines the typed tool catalog the orchestrator plans against.
//
// The engine never inspects tool internals; it relies on the descriptor's
// category tag for capability matching and the mutating/approval flags for
// policy decisions. Concrete integrations live behind the Handler interface.
package tool

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/The-social-drink-company/sentia-ai-manufacturing-app-sub011/internal/model"
)

// Descriptor is the catalog metadata for one tool.
type Descriptor struct {
	ID               string             `json:"id"`
	Category         model.ToolCategory `json:"category"`
	Mutating         bool               `json:"mutating"`
	RequiresApproval bool               `json:"requires_approval"`
	Description      string             `json:"description,omitempty"`
}

// InvokeContext carries run-scoped identity into a tool invocation.
type InvokeContext struct {
	RunID  uuid.UUID
	UserID string
	Scope  model.Scope
}

// Result is the outcome of a single tool invocation.
type Result struct {
	InvocationID uuid.UUID      `json:"invocation_id"`
	Success      bool           `json:"success"`
	Output       map[string]any `json:"output,omitempty"`
	Error        string         `json:"error,omitempty"`
	Duration     time.Duration  `json:"duration"`
}

// Handler executes one tool. Implementations must be safe for concurrent use.
type Handler interface {
	Invoke(ctx context.Context, params map[string]any, ic InvokeContext) (map[string]any, error)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, params map[string]any, ic InvokeContext) (map[string]any, error)

// Invoke calls f.
func (f HandlerFunc) Invoke(ctx context.Context, params map[string]any, ic InvokeContext) (map[string]any, error) {
	return f(ctx, params, ic)
}

// Catalog is the registry of named, categorized tools the planner consults.
type Catalog interface {
	// List returns every registered tool descriptor, sorted by id.
	List() []Descriptor

	// Describe returns the descriptor for id, if registered.
	Describe(id string) (Descriptor, bool)

	// Invoke runs the tool. Unknown ids fail with an error Result; the
	// registry variant rejects them at registration instead, so an unknown
	// id here indicates drift between planner and catalog.
	Invoke(ctx context.Context, id string, params map[string]any, ic InvokeContext) (Result, error)
}
