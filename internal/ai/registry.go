package ai

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
)

// CustomIDPrefix namespaces user-defined sub-agent ids so they can never collide
// with built-ins.
const CustomIDPrefix = "custom:"

// TriggerType selects the matching rule for a trigger value.
type TriggerType string

const (
	TriggerKeyword       TriggerType = "keyword"
	TriggerPattern       TriggerType = "pattern"
	TriggerFileExtension TriggerType = "file_extension"
)

// Trigger is one rule used to route a prompt to a sub-agent.
type Trigger struct {
	Type     TriggerType `json:"type"`
	Value    string      `json:"value"`
	Priority int         `json:"priority,omitempty"`
}

// SubAgentConfig is one sub-agent definition. User-defined configs carry the
// "custom:" id prefix; built-ins use bare ids.
type SubAgentConfig struct {
	ID              string    `json:"id"`
	Name            string    `json:"name"`
	SystemPrompt    string    `json:"systemPrompt"`
	Triggers        []Trigger `json:"triggers,omitempty"`
	AllowedTools    []string  `json:"allowedTools,omitempty"`
	ExcludedTools   []string  `json:"excludedTools,omitempty"`
	DefaultMaxTurns int       `json:"defaultMaxTurns,omitempty"`
	Enabled         bool      `json:"enabled"`
}

func (c SubAgentConfig) validate() error {
	if strings.TrimSpace(c.ID) == "" {
		return errors.New("missing id")
	}
	if strings.TrimSpace(c.Name) == "" {
		return errors.New("missing name")
	}
	if strings.TrimSpace(c.SystemPrompt) == "" {
		return errors.New("missing systemPrompt")
	}
	return nil
}

// subAgentsDoc is the persisted JSON document shape.
type subAgentsDoc struct {
	SubAgents []SubAgentConfig `json:"subAgents"`
}

type definitionOrigin int

const (
	originBuiltIn definitionOrigin = iota
	originFile
	originRuntime
)

type definition struct {
	cfg    SubAgentConfig
	origin definitionOrigin
}

// Registry holds the sub-agent definitions and answers trigger-match queries.
// Definition order is registration order and is never reshuffled: match
// tie-breaks depend on it.
type Registry struct {
	log  *slog.Logger
	path string
	bus  *Bus

	disabledBuiltIns map[string]struct{}

	mu   sync.RWMutex
	defs []definition
}

type RegistryOptions struct {
	Logger *slog.Logger
	// Path is the persisted definitions document (.deepvcode/subagents.json).
	Path string
	Bus  *Bus
	// DisabledBuiltIns skips the named built-ins at load time.
	DisabledBuiltIns []string
}

func NewRegistry(opts RegistryOptions) *Registry {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	disabled := map[string]struct{}{}
	for _, id := range opts.DisabledBuiltIns {
		if v := strings.TrimSpace(id); v != "" {
			disabled[v] = struct{}{}
		}
	}
	return &Registry{
		log:              log,
		path:             strings.TrimSpace(opts.Path),
		bus:              opts.Bus,
		disabledBuiltIns: disabled,
	}
}

// Initialize loads built-ins (minus disabled) and then the persisted document.
// Invalid persisted entries are dropped with a warning; a missing document is not
// an error.
func (r *Registry) Initialize() error {
	if r == nil {
		return errors.New("nil registry")
	}
	r.mu.Lock()
	r.defs = r.defs[:0]
	for _, cfg := range builtInSubAgents() {
		if _, ok := r.disabledBuiltIns[cfg.ID]; ok {
			continue
		}
		r.defs = append(r.defs, definition{cfg: cfg, origin: originBuiltIn})
	}
	r.mu.Unlock()

	if err := r.loadPersisted(); err != nil {
		return err
	}
	if r.bus != nil {
		r.bus.Publish(SignalConfigLoaded, r.Summary())
	}
	return nil
}

func (r *Registry) loadPersisted() error {
	if r.path == "" {
		return nil
	}
	b, err := os.ReadFile(r.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	var doc subAgentsDoc
	if err := json.Unmarshal(b, &doc); err != nil {
		r.log.Warn("sub-agent document is not valid JSON; skipping", "path", r.path, "error", err)
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, cfg := range doc.SubAgents {
		if !strings.HasPrefix(cfg.ID, CustomIDPrefix) {
			cfg.ID = CustomIDPrefix + strings.TrimSpace(cfg.ID)
		}
		if err := cfg.validate(); err != nil {
			r.log.Warn("dropping invalid sub-agent definition", "id", cfg.ID, "error", err)
			continue
		}
		if r.indexOfLocked(cfg.ID) >= 0 {
			r.log.Warn("dropping duplicate sub-agent definition", "id", cfg.ID)
			continue
		}
		r.defs = append(r.defs, definition{cfg: cfg, origin: originFile})
	}
	return nil
}

// Reload discards file-backed definitions and re-reads the document. Built-ins
// and runtime registrations survive.
func (r *Registry) Reload() error {
	if r == nil {
		return errors.New("nil registry")
	}
	r.mu.Lock()
	kept := r.defs[:0]
	for _, def := range r.defs {
		if def.origin != originFile {
			kept = append(kept, def)
		}
	}
	r.defs = kept
	r.mu.Unlock()

	if err := r.loadPersisted(); err != nil {
		return err
	}
	if r.bus != nil {
		r.bus.Publish(SignalConfigLoaded, r.Summary())
	}
	return nil
}

// Register adds or replaces a runtime definition. Runtime registrations survive
// Reload but are not persisted unless Save is called.
func (r *Registry) Register(cfg SubAgentConfig) error {
	if r == nil {
		return errors.New("nil registry")
	}
	if err := cfg.validate(); err != nil {
		return err
	}
	r.mu.Lock()
	if idx := r.indexOfLocked(cfg.ID); idx >= 0 {
		if r.defs[idx].origin == originBuiltIn {
			r.mu.Unlock()
			return fmt.Errorf("cannot replace built-in sub-agent %q", cfg.ID)
		}
		r.defs[idx] = definition{cfg: cfg, origin: originRuntime}
	} else {
		r.defs = append(r.defs, definition{cfg: cfg, origin: originRuntime})
	}
	r.mu.Unlock()

	if r.bus != nil {
		r.bus.Publish(SignalConfigUpdated, r.Summary())
	}
	return nil
}

// Unregister removes a non-built-in definition. Built-ins are never removable;
// unknown or built-in ids return false with no side effects.
func (r *Registry) Unregister(id string) bool {
	if r == nil {
		return false
	}
	id = strings.TrimSpace(id)

	r.mu.Lock()
	idx := r.indexOfLocked(id)
	if idx < 0 || r.defs[idx].origin == originBuiltIn {
		r.mu.Unlock()
		return false
	}
	r.defs = append(r.defs[:idx], r.defs[idx+1:]...)
	r.mu.Unlock()

	if r.bus != nil {
		r.bus.Publish(SignalConfigUpdated, r.Summary())
	}
	return true
}

// Get returns the definition for id.
func (r *Registry) Get(id string) (SubAgentConfig, bool) {
	if r == nil {
		return SubAgentConfig{}, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	idx := r.indexOfLocked(strings.TrimSpace(id))
	if idx < 0 {
		return SubAgentConfig{}, false
	}
	return r.defs[idx].cfg, true
}

// List returns all definitions in registration order.
func (r *Registry) List() []SubAgentConfig {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]SubAgentConfig, 0, len(r.defs))
	for _, def := range r.defs {
		out = append(out, def.cfg)
	}
	return out
}

// Match returns the enabled definition whose firing trigger has the highest
// priority for prompt, or false when nothing matches. Equal priorities keep the
// earliest-registered definition.
func (r *Registry) Match(prompt string) (SubAgentConfig, bool) {
	if r == nil {
		return SubAgentConfig{}, false
	}
	prompt = strings.ToLower(prompt)
	if strings.TrimSpace(prompt) == "" {
		return SubAgentConfig{}, false
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	best := -1
	bestPriority := 0
	for i, def := range r.defs {
		if !def.cfg.Enabled {
			continue
		}
		for _, trigger := range def.cfg.Triggers {
			if !triggerFires(trigger, prompt) {
				continue
			}
			if best < 0 || trigger.Priority > bestPriority {
				best = i
				bestPriority = trigger.Priority
			}
		}
	}
	if best < 0 {
		return SubAgentConfig{}, false
	}
	return r.defs[best].cfg, true
}

// Save rewrites the persisted document from the current file- and runtime-backed
// definitions, stripping the custom id prefix.
func (r *Registry) Save() error {
	if r == nil {
		return errors.New("nil registry")
	}
	if r.path == "" {
		return errors.New("registry has no persistence path")
	}

	r.mu.RLock()
	doc := subAgentsDoc{SubAgents: []SubAgentConfig{}}
	for _, def := range r.defs {
		if def.origin == originBuiltIn {
			continue
		}
		cfg := def.cfg
		cfg.ID = strings.TrimPrefix(cfg.ID, CustomIDPrefix)
		doc.SubAgents = append(doc.SubAgents, cfg)
	}
	r.mu.RUnlock()

	b, err := json.MarshalIndent(&doc, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(r.path), 0o700); err != nil {
		return err
	}
	return os.WriteFile(r.path, b, 0o600)
}

// Summary is a small payload for config bus signals.
func (r *Registry) Summary() map[string]any {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	builtIn, custom, enabled := 0, 0, 0
	for _, def := range r.defs {
		if def.origin == originBuiltIn {
			builtIn++
		} else {
			custom++
		}
		if def.cfg.Enabled {
			enabled++
		}
	}
	return map[string]any{
		"total":    len(r.defs),
		"built_in": builtIn,
		"custom":   custom,
		"enabled":  enabled,
	}
}

func (r *Registry) indexOfLocked(id string) int {
	for i, def := range r.defs {
		if def.cfg.ID == id {
			return i
		}
	}
	return -1
}

// triggerFires evaluates one trigger against a lower-cased prompt.
// Keyword and file-extension rules are case-insensitive containment; pattern
// rules are best-effort case-insensitive regexps where an invalid pattern simply
// never fires.
func triggerFires(trigger Trigger, lowerPrompt string) bool {
	value := strings.TrimSpace(trigger.Value)
	if value == "" {
		return false
	}
	switch trigger.Type {
	case TriggerKeyword, TriggerFileExtension:
		return strings.Contains(lowerPrompt, strings.ToLower(value))
	case TriggerPattern:
		re, err := regexp.Compile("(?i)" + value)
		if err != nil {
			return false
		}
		return re.MatchString(lowerPrompt)
	default:
		return false
	}
}
