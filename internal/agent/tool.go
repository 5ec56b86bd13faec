package agent

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/haasonsaas/operon/pkg/models"
)

// Tool is a named, schema-described, permission-leveled operation invokable
// by the agent loop or directly by the Runtime. Execute is an awaitable
// operation that may perform I/O and must be safe to invoke from many
// concurrent callers, since tools are long-lived and shared across agents.
// Implementations do not enforce timeouts or authorization; those are the
// Runtime's responsibility (see Runtime.ExecuteTool).
type Tool interface {
	// Execute runs the tool against input and returns its raw JSON result.
	Execute(ctx context.Context, input json.RawMessage) (json.RawMessage, error)

	// Name is stable for the tool's lifetime and is used as the registry key.
	Name() string

	// Schema is what the tool advertises to the model.
	Schema() models.ToolSchema

	// PermissionLevel is the minimum caller permission the tool-policy
	// pipeline requires before Execute may be invoked.
	PermissionLevel() models.PermissionLevel
}

// ToolRegistry is a concurrent name->Tool map. Per the runtime's shared
// resource policy, it is mutated only while the owning Runtime is Idle;
// readers take no lock.
type ToolRegistry struct {
	tools sync.Map // string -> Tool
}

// NewToolRegistry returns an empty registry.
func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{}
}

// Register adds or replaces a tool under its own Name().
func (r *ToolRegistry) Register(tool Tool) {
	if tool == nil {
		return
	}
	r.tools.Store(tool.Name(), tool)
}

// Unregister removes a tool by name. A no-op if the name isn't registered.
func (r *ToolRegistry) Unregister(name string) {
	r.tools.Delete(name)
}

// Lookup returns the tool registered under name, if any.
func (r *ToolRegistry) Lookup(name string) (Tool, bool) {
	v, ok := r.tools.Load(name)
	if !ok {
		return nil, false
	}
	return v.(Tool), true
}

// Schemas returns the ToolSchema of every registered tool, for advertising
// to a model. names, when non-empty, restricts the result to that whitelist;
// an unregistered name in the whitelist is silently omitted (see DESIGN.md's
// decision on agent tool whitelist filtering).
func (r *ToolRegistry) Schemas(names []string) []models.ToolSchema {
	if len(names) == 0 {
		var out []models.ToolSchema
		r.tools.Range(func(_, v any) bool {
			out = append(out, v.(Tool).Schema())
			return true
		})
		return out
	}
	out := make([]models.ToolSchema, 0, len(names))
	for _, name := range names {
		if tool, ok := r.Lookup(name); ok {
			out = append(out, tool.Schema())
		}
	}
	return out
}

// Names returns every registered tool name, unordered.
func (r *ToolRegistry) Names() []string {
	var out []string
	r.tools.Range(func(k, _ any) bool {
		out = append(out, k.(string))
		return true
	})
	return out
}
