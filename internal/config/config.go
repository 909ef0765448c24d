package config

// On-disk settings for the agent core. Stored as YAML at <state dir>/settings.yaml.
//
// NOTE: API keys are never stored here; each provider names the environment
// variable that holds its key.

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Provider describes one model backend the agent may talk to.
type Provider struct {
	Name      string `yaml:"name"`
	Type      string `yaml:"type"` // openai|openai_compatible|anthropic
	BaseURL   string `yaml:"base_url,omitempty"`
	APIKeyEnv string `yaml:"api_key_env"`
	Default   bool   `yaml:"default,omitempty"`
}

// RepairPolicy enables function-call repair for models matching ModelPrefix.
// The table is external configuration: the repair routine itself is model-agnostic.
type RepairPolicy struct {
	ModelPrefix      string `yaml:"model_prefix"`
	GenerateCallIDs  bool   `yaml:"generate_call_ids,omitempty"`
	CoerceStringArgs bool   `yaml:"coerce_string_args,omitempty"`
}

// Settings is the full on-disk document.
type Settings struct {
	Workspace string `yaml:"workspace,omitempty"`
	StateDir  string `yaml:"state_dir,omitempty"`

	// LogFormat is "json" or "text"; LogLevel is "debug|info|warn|error".
	LogFormat string `yaml:"log_format,omitempty"`
	LogLevel  string `yaml:"log_level,omitempty"`

	Providers []Provider     `yaml:"providers,omitempty"`
	Repair    []RepairPolicy `yaml:"repair,omitempty"`

	// DisabledBuiltIns lists built-in sub-agent ids that must not be loaded.
	DisabledBuiltIns []string `yaml:"disabled_builtins,omitempty"`
}

func Default() *Settings {
	home, _ := os.UserHomeDir()
	stateDir := ""
	if strings.TrimSpace(home) != "" {
		stateDir = filepath.Join(home, ".deepvcode")
	}
	return &Settings{
		StateDir:  stateDir,
		LogFormat: "text",
		LogLevel:  "info",
		Repair: []RepairPolicy{
			// Gateway-served open models routinely omit call ids and double-encode args.
			{ModelPrefix: "glm-", GenerateCallIDs: true, CoerceStringArgs: true},
			{ModelPrefix: "qwen", GenerateCallIDs: true, CoerceStringArgs: true},
		},
	}
}

func (s *Settings) Validate() error {
	if s == nil {
		return errors.New("nil settings")
	}
	seen := map[string]struct{}{}
	defaults := 0
	for i, p := range s.Providers {
		name := strings.TrimSpace(p.Name)
		if name == "" {
			return fmt.Errorf("providers[%d]: missing name", i)
		}
		if _, ok := seen[name]; ok {
			return fmt.Errorf("providers[%d]: duplicate name %q", i, name)
		}
		seen[name] = struct{}{}
		switch strings.ToLower(strings.TrimSpace(p.Type)) {
		case "openai", "openai_compatible", "anthropic":
		default:
			return fmt.Errorf("providers[%d]: unsupported type %q", i, p.Type)
		}
		if strings.TrimSpace(p.APIKeyEnv) == "" {
			return fmt.Errorf("providers[%d]: missing api_key_env", i)
		}
		if p.Default {
			defaults++
		}
	}
	if defaults > 1 {
		return errors.New("more than one default provider")
	}
	for i, r := range s.Repair {
		if strings.TrimSpace(r.ModelPrefix) == "" {
			return fmt.Errorf("repair[%d]: missing model_prefix", i)
		}
	}
	return nil
}

// DefaultProvider returns the provider marked default, or the first one.
func (s *Settings) DefaultProvider() (Provider, bool) {
	if s == nil || len(s.Providers) == 0 {
		return Provider{}, false
	}
	for _, p := range s.Providers {
		if p.Default {
			return p, true
		}
	}
	return s.Providers[0], true
}

// SubAgentsPath is the fixed per-project location of the persisted sub-agent
// definitions document.
func (s *Settings) SubAgentsPath() string {
	ws := ""
	if s != nil {
		ws = strings.TrimSpace(s.Workspace)
	}
	if ws == "" {
		ws = "."
	}
	return filepath.Join(ws, ".deepvcode", "subagents.json")
}

// TaskStorePath is the SQLite database holding terminal task outcomes.
func (s *Settings) TaskStorePath() string {
	dir := ""
	if s != nil {
		dir = strings.TrimSpace(s.StateDir)
	}
	if dir == "" {
		dir = ".deepvcode"
	}
	return filepath.Join(dir, "tasks.db")
}

func Load(path string) (*Settings, error) {
	p := strings.TrimSpace(path)
	if p == "" {
		return nil, errors.New("missing settings path")
	}
	b, err := os.ReadFile(p)
	if err != nil {
		return nil, err
	}
	var s Settings
	if err := yaml.Unmarshal(b, &s); err != nil {
		return nil, fmt.Errorf("parse settings: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

func Save(path string, s *Settings) error {
	p := strings.TrimSpace(path)
	if p == "" {
		return errors.New("missing settings path")
	}
	if s == nil {
		return errors.New("nil settings")
	}
	if err := s.Validate(); err != nil {
		return err
	}
	b, err := yaml.Marshal(s)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o700); err != nil {
		return err
	}
	return os.WriteFile(p, b, 0o600)
}
