package ai

import (
	"strings"

	"github.com/OrionStarAI/DeepVCode-sub011/internal/ai/tools"
)

// ToolView is the restricted slice of the global registry a sub-agent may invoke.
// A view is immutable once built; later registry changes are not reflected.
type ToolView struct {
	names    []string
	byName   map[string]tools.Descriptor
	registry *tools.Registry
}

// BuildToolView derives the view for one sub-agent definition:
// sub-agent-eligible tools, minus ExcludedTools, intersected with AllowedTools
// when that list is non-empty.
func BuildToolView(registry *tools.Registry, cfg SubAgentConfig) *ToolView {
	view := &ToolView{byName: map[string]tools.Descriptor{}, registry: registry}
	if registry == nil {
		return view
	}

	excluded := map[string]struct{}{}
	for _, name := range cfg.ExcludedTools {
		if n := strings.TrimSpace(name); n != "" {
			excluded[n] = struct{}{}
		}
	}
	allowed := map[string]struct{}{}
	for _, name := range cfg.AllowedTools {
		if n := strings.TrimSpace(name); n != "" {
			allowed[n] = struct{}{}
		}
	}

	for _, desc := range registry.Snapshot() {
		if !desc.AllowSubAgentUse {
			continue
		}
		if _, ok := excluded[desc.Name]; ok {
			continue
		}
		if len(allowed) > 0 {
			if _, ok := allowed[desc.Name]; !ok {
				continue
			}
		}
		view.names = append(view.names, desc.Name)
		view.byName[desc.Name] = desc
	}
	return view
}

// Names returns the permitted tool names in registry snapshot order.
func (v *ToolView) Names() []string {
	if v == nil || len(v.names) == 0 {
		return nil
	}
	out := make([]string, len(v.names))
	copy(out, v.names)
	return out
}

func (v *ToolView) Descriptors() []tools.Descriptor {
	if v == nil {
		return nil
	}
	out := make([]tools.Descriptor, 0, len(v.names))
	for _, name := range v.names {
		out = append(out, v.byName[name])
	}
	return out
}

// GetTool resolves a tool only if it is part of the view.
func (v *ToolView) GetTool(name string) (tools.Descriptor, tools.Handler, bool) {
	if v == nil || v.registry == nil {
		return tools.Descriptor{}, nil, false
	}
	name = strings.TrimSpace(name)
	if _, ok := v.byName[name]; !ok {
		return tools.Descriptor{}, nil, false
	}
	return v.registry.GetTool(name)
}
