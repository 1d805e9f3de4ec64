// Package tools implements the tool registry exposed to the conversation
// loop. Definitions are immutable once registered; argument maps parsed from
// model output are validated against the definition's schema before any
// side-effecting call.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/atlasfin/atlas/internal/adapter/broker"
	"github.com/atlasfin/atlas/internal/adapter/llm"
)

// Field is one named argument in a tool schema.
type Field struct {
	Type        string   // string, number, boolean
	Description string
	Required    bool
	Enum        []string
	Minimum     *float64
}

// HandlerFunc executes a tool against the broker with validated arguments.
type HandlerFunc func(ctx context.Context, b broker.Broker, args map[string]any) (Result, error)

// Definition describes one registered tool.
type Definition struct {
	Name        string
	Description string
	Schema      map[string]Field
	Handler     HandlerFunc
}

// Spec renders the definition as the JSON-schema shape advertised to the model.
func (d Definition) Spec() llm.ToolSpec {
	properties := make(map[string]any, len(d.Schema))
	var required []string
	for name, field := range d.Schema {
		prop := map[string]any{"type": field.Type}
		if field.Description != "" {
			prop["description"] = field.Description
		}
		if len(field.Enum) > 0 {
			prop["enum"] = field.Enum
		}
		if field.Minimum != nil {
			prop["minimum"] = *field.Minimum
		}
		properties[name] = prop
		if field.Required {
			required = append(required, name)
		}
	}
	return llm.ToolSpec{
		Name:        d.Name,
		Description: d.Description,
		Parameters: map[string]any{
			"type":       "object",
			"properties": properties,
			"required":   required,
		},
	}
}

// Result is the structured outcome of a tool invocation, in the shape fed
// back into the model-visible history.
type Result struct {
	Tool    string `json:"tool"`
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

// Payload renders the result as the tool-role message content.
func (r Result) Payload() string {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Sprintf(`{"tool":%q,"success":false,"error":"unserializable result"}`, r.Tool)
	}
	return string(data)
}

// ErrorPayload renders a tool failure as the tool-role message content.
func ErrorPayload(tool, message string) string {
	data, _ := json.Marshal(map[string]any{
		"tool":    tool,
		"success": false,
		"error":   message,
	})
	return string(data)
}

// Registry stores tool definitions keyed by name.
type Registry struct {
	mu   sync.RWMutex
	defs map[string]Definition
}

// NewRegistry creates an empty tool registry.
func NewRegistry() *Registry {
	return &Registry{defs: make(map[string]Definition)}
}

// Register adds a definition. Fails with ErrDuplicateTool if the name is taken.
func (r *Registry) Register(def Definition) error {
	if def.Name == "" {
		return fmt.Errorf("tool name is required")
	}
	if def.Handler == nil {
		return fmt.Errorf("tool handler is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.defs[def.Name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateTool, def.Name)
	}
	r.defs[def.Name] = def
	return nil
}

// MustRegister adds a definition or panics.
func (r *Registry) MustRegister(def Definition) {
	if err := r.Register(def); err != nil {
		panic(err)
	}
}

// Resolve returns the definition for a name, or ErrUnknownTool.
func (r *Registry) Resolve(name string) (Definition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.defs[name]
	if !ok {
		return Definition{}, fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}
	return def, nil
}

// Has reports whether a tool name is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.defs[name]
	return ok
}

// Specs returns the LLM-visible specs of all registered tools.
func (r *Registry) Specs() []llm.ToolSpec {
	r.mu.RLock()
	defer r.mu.RUnlock()
	specs := make([]llm.ToolSpec, 0, len(r.defs))
	for _, def := range r.defs {
		specs = append(specs, def.Spec())
	}
	return specs
}

// Invoke validates args against the tool's schema and executes it against
// the broker. Validation failures surface as *InvalidArgumentsError before
// any side effect; broker failures are wrapped as *BrokerOperationError.
func (r *Registry) Invoke(ctx context.Context, name string, rawArgs json.RawMessage, b broker.Broker) (Result, error) {
	def, err := r.Resolve(name)
	if err != nil {
		return Result{}, err
	}

	args := map[string]any{}
	if len(rawArgs) > 0 {
		if err := json.Unmarshal(rawArgs, &args); err != nil {
			return Result{}, &InvalidArgumentsError{Tool: name, Mistyped: []string{"args"}}
		}
	}
	if err := validate(def, args); err != nil {
		return Result{}, err
	}

	result, err := def.Handler(ctx, b, args)
	if err != nil {
		return Result{}, &BrokerOperationError{Tool: name, Err: err}
	}
	return result, nil
}

func validate(def Definition, args map[string]any) error {
	verr := &InvalidArgumentsError{Tool: def.Name}
	for name, field := range def.Schema {
		val, present := args[name]
		if !present || val == nil {
			if field.Required {
				verr.Missing = append(verr.Missing, name)
			}
			continue
		}
		if !typeMatches(field, val) {
			verr.Mistyped = append(verr.Mistyped, name)
		}
	}
	if len(verr.Missing) > 0 || len(verr.Mistyped) > 0 {
		return verr
	}
	return nil
}

func typeMatches(field Field, val any) bool {
	switch field.Type {
	case "string":
		s, ok := val.(string)
		if !ok {
			return false
		}
		if len(field.Enum) > 0 {
			for _, e := range field.Enum {
				if s == e {
					return true
				}
			}
			return false
		}
		return true
	case "number":
		n, ok := val.(float64)
		if !ok {
			return false
		}
		if field.Minimum != nil && n < *field.Minimum {
			return false
		}
		return true
	case "boolean":
		_, ok := val.(bool)
		return ok
	}
	return true
}
