package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Descriptor describes one tool known to the global registry.
type Descriptor struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema,omitempty"`
	Mutating    bool            `json:"mutating,omitempty"`

	// AllowSubAgentUse gates whether the tool may appear in a sub-agent's
	// filtered view at all.
	AllowSubAgentUse bool `json:"allow_sub_agent_use,omitempty"`
}

// Result is the normalized outcome of one tool execution.
type Result struct {
	Parts   []string `json:"parts,omitempty"`
	Display string   `json:"display,omitempty"`
	Error   string   `json:"error,omitempty"`
}

// Handler executes a tool invocation.
type Handler interface {
	Execute(ctx context.Context, args map[string]any) (Result, error)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, args map[string]any) (Result, error)

func (f HandlerFunc) Execute(ctx context.Context, args map[string]any) (Result, error) {
	return f(ctx, args)
}

type registeredTool struct {
	desc    Descriptor
	handler Handler
}

// Registry is the process-wide tool registry. Mutation is rare after startup;
// readers tolerate concurrent registration.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]registeredTool
}

func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]registeredTool)}
}

func (r *Registry) Register(desc Descriptor, handler Handler) error {
	if r == nil {
		return errors.New("nil tool registry")
	}
	name := strings.TrimSpace(desc.Name)
	if name == "" {
		return errors.New("tool name is required")
	}
	if handler == nil {
		return fmt.Errorf("tool %s missing handler", name)
	}
	desc.Name = name

	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[name] = registeredTool{desc: desc, handler: handler}
	return nil
}

func (r *Registry) Unregister(name string) error {
	if r == nil {
		return errors.New("nil tool registry")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return errors.New("tool name is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tools, name)
	return nil
}

// GetTool resolves a tool by name.
func (r *Registry) GetTool(name string) (Descriptor, Handler, bool) {
	if r == nil {
		return Descriptor{}, nil, false
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return Descriptor{}, nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	item, ok := r.tools[name]
	if !ok {
		return Descriptor{}, nil, false
	}
	return item.desc, item.handler, true
}

// Snapshot returns all descriptors sorted by name.
func (r *Registry) Snapshot() []Descriptor {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Descriptor, 0, len(r.tools))
	for _, item := range r.tools {
		out = append(out, item.desc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
