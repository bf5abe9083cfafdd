// Package tool defines the pluggable analysis tool contract and the
// registry that maps tool names to execution units.
//
// The orchestration engine stays agnostic to what each tool computes:
// tools identify themselves by name, validate their own parameter
// payloads, and return an opaque structured result. The registry is
// populated once at process start and is read-only afterwards.
package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/airbais/conductor/errors"
)

// Params is the opaque key-value payload passed verbatim to a tool.
type Params map[string]interface{}

// ParameterSpec describes a tool's parameter contract: which keys must be
// present at submission and which are accepted optionally.
type ParameterSpec struct {
	Required []string `json:"required"`
	Optional []string `json:"optional"`
}

// Tool is the uniform invocation contract for one analysis capability.
//
// Implementations decode their own parameters, block for as long as the
// underlying analysis takes (minutes for crawls, up to ~10 minutes for
// LLM-backed evaluation), and honor ctx cancellation.
type Tool interface {
	// Name returns the stable registry name (e.g. "intentcrawler").
	Name() string

	// Description returns a human-readable one-line description.
	Description() string

	// Parameters returns the tool's parameter contract.
	Parameters() ParameterSpec

	// Validate checks a submission payload against the parameter
	// contract. Returns an error wrapping errors.ErrInvalidParameters
	// when the payload is rejected; no job is created in that case.
	Validate(params Params) error

	// Execute runs the analysis and returns the result payload.
	// Blocking; must exit promptly when ctx is cancelled.
	Execute(ctx context.Context, params Params) (json.RawMessage, error)
}

// Info is the registry metadata exposed for a tool.
type Info struct {
	Name           string        `json:"name"`
	Description    string        `json:"description"`
	Parameters     ParameterSpec `json:"parameters"`
	ResultEnvelope string        `json:"result_envelope,omitempty"`
}

// Registry maps tool names to tools. Registration happens at process
// start; lookups are safe for unlimited concurrent reads.
type Registry struct {
	tools map[string]Tool
	order []string // registration order, for deterministic listing
	mu    sync.RWMutex
}

// NewRegistry creates an empty tool registry.
func NewRegistry() *Registry {
	return &Registry{
		tools: make(map[string]Tool),
	}
}

// Register adds a tool under its name.
// Panics if a tool is already registered with that name.
func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := t.Name()
	if _, exists := r.tools[name]; exists {
		panic(fmt.Sprintf("tool already registered: %s", name))
	}
	r.tools[name] = t
	r.order = append(r.order, name)
}

// Lookup returns the tool registered under name, or an error wrapping
// errors.ErrUnknownTool.
func (r *Registry) Lookup(name string) (Tool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.tools[name]
	if !ok {
		return nil, errors.Wrapf(errors.ErrUnknownTool, "%s", name)
	}
	return t, nil
}

// Has checks if a tool is registered under name.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.tools[name]
	return ok
}

// Names returns all registered tool names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, len(r.order))
	copy(names, r.order)
	return names
}

// List returns metadata for all registered tools in registration order.
func (r *Registry) List() []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]Info, 0, len(r.order))
	for _, name := range r.order {
		infos = append(infos, describe(r.tools[name]))
	}
	return infos
}

// Describe returns metadata for one tool, or an error wrapping
// errors.ErrUnknownTool.
func (r *Registry) Describe(name string) (Info, error) {
	t, err := r.Lookup(name)
	if err != nil {
		return Info{}, err
	}
	return describe(t), nil
}

func describe(t Tool) Info {
	info := Info{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters:  t.Parameters(),
	}
	if st, ok := t.(*ScriptTool); ok {
		info.ResultEnvelope = st.def.ResultEnvelope
	}
	return info
}

// ValidateRequired is the shared parameter check used by tool
// implementations: every required key must be present and non-empty.
func ValidateRequired(spec ParameterSpec, params Params) error {
	var missing []string
	for _, key := range spec.Required {
		v, ok := params[key]
		if !ok || v == nil || v == "" {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		return errors.NewInvalidParametersError("missing required parameters: %v", missing)
	}
	return nil
}
