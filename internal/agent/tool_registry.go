package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/careerforge/orchestrator/pkg/models"
)

// ToolKind declares a tool's side-effect class. The Agent Runtime uses Kind
// to decide per-tool timeout and retry policy: read-only tools get one retry
// on timeout, external-effect tools are retried only when also Idempotent.
type ToolKind string

const (
	ToolReadOnly      ToolKind = "read_only"
	ToolExternalEffect ToolKind = "external_effect"
)

// Tool parameter limits, to prevent resource exhaustion at the dispatch
// boundary before a handler ever runs.
const (
	MaxToolNameLength  = 256
	MaxToolParamsSize  = 1 << 20
)

// Tool is the contract every registered tool handler implements.
type Tool interface {
	Name() string
	Description() string
	Kind() ToolKind
	// Idempotent reports whether re-invoking with the same args is safe to
	// retry. Only consulted for ToolExternalEffect tools.
	Idempotent() bool
	// Schema returns the JSON Schema used to validate Args before dispatch.
	Schema() json.RawMessage
	Execute(ctx context.Context, args json.RawMessage) (*models.ToolResult, error)
}

// ToolRegistry holds a name→(schema, handler) map. It is constructed once
// and treated as read-only after the owning process finishes wiring,
// mirroring the teacher's ToolRegistry.
type ToolRegistry struct {
	mu      sync.RWMutex
	tools   map[string]Tool
	schemas map[string]*jsonschema.Schema
	logger  func(msg string, args ...any)
}

// NewToolRegistry creates an empty tool registry. logWarn may be nil.
func NewToolRegistry(logWarn func(msg string, args ...any)) *ToolRegistry {
	if logWarn == nil {
		logWarn = func(string, ...any) {}
	}
	return &ToolRegistry{
		tools:   make(map[string]Tool),
		schemas: make(map[string]*jsonschema.Schema),
		logger:  logWarn,
	}
}

// Register adds a tool. Duplicate registration overwrites the map entry and
// logs a warning rather than panicking — registration happens only at
// construction time, so a duplicate indicates wiring code to fix, not a
// runtime condition to guard against.
func (r *ToolRegistry) Register(tool Tool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := tool.Name()
	if _, exists := r.tools[name]; exists {
		r.logger("tool registered twice, overwriting", "tool", name)
	}

	compiled, err := compileSchema(name, tool.Schema())
	if err != nil {
		return fmt.Errorf("tool %q: compile schema: %w", name, err)
	}

	r.tools[name] = tool
	r.schemas[name] = compiled
	return nil
}

// Unregister removes a tool from the registry by name.
func (r *ToolRegistry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tools, name)
	delete(r.schemas, name)
}

// Get returns a tool by name.
func (r *ToolRegistry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// AsLLMTools returns every registered tool, for passing name/description/
// schema triples to an LLMProvider's tool-use surface.
func (r *ToolRegistry) AsLLMTools() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Tool, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, t)
	}
	return out
}

// Execute validates args against the tool's schema and dispatches. Unknown
// tool name returns no_such_tool; schema mismatch returns invalid_args
// without invoking the handler.
func (r *ToolRegistry) Execute(ctx context.Context, name string, args json.RawMessage) (*models.ToolResult, error) {
	start := time.Now()

	if len(name) > MaxToolNameLength {
		return &models.ToolResult{OK: false, ErrorKind: "invalid_args", Latency: time.Since(start)}, nil
	}
	if len(args) > MaxToolParamsSize {
		return &models.ToolResult{OK: false, ErrorKind: "invalid_args", Latency: time.Since(start)}, nil
	}

	r.mu.RLock()
	tool, ok := r.tools[name]
	schema := r.schemas[name]
	r.mu.RUnlock()
	if !ok {
		return &models.ToolResult{OK: false, ErrorKind: "no_such_tool", Latency: time.Since(start)}, nil
	}

	if schema != nil {
		if err := validateAgainstSchema(schema, args); err != nil {
			return &models.ToolResult{OK: false, ErrorKind: "invalid_args", Latency: time.Since(start)}, nil
		}
	}

	result, err := tool.Execute(ctx, args)
	if err != nil {
		return &models.ToolResult{OK: false, ErrorKind: "tool_failed", Latency: time.Since(start)}, err
	}
	if result == nil {
		result = &models.ToolResult{OK: true}
	}
	result.Latency = time.Since(start)
	return result, nil
}

func compileSchema(name string, raw json.RawMessage) (*jsonschema.Schema, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	compiler := jsonschema.NewCompiler()
	uri := "tool:" + name
	if err := compiler.AddResource(uri, bytes.NewReader(raw)); err != nil {
		return nil, err
	}
	return compiler.Compile(uri)
}

func validateAgainstSchema(schema *jsonschema.Schema, args json.RawMessage) error {
	var v any
	if len(args) == 0 {
		v = map[string]any{}
	} else if err := json.Unmarshal(args, &v); err != nil {
		return err
	}
	return schema.Validate(v)
}
