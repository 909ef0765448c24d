package ai

// builtInSubAgents returns the definitions shipped with the binary. The slice is
// rebuilt per call so callers can never mutate shared state.
func builtInSubAgents() []SubAgentConfig {
	return []SubAgentConfig{
		{
			ID:           "code-assist",
			Name:         "Code Assist",
			SystemPrompt: "You are a focused coding assistant. Work on the requested change only, keep edits minimal, and report what you changed.",
			Triggers: []Trigger{
				{Type: TriggerFileExtension, Value: ".py", Priority: 1},
				{Type: TriggerFileExtension, Value: ".go", Priority: 1},
				{Type: TriggerFileExtension, Value: ".ts", Priority: 1},
			},
			ExcludedTools:   []string{"web_search"},
			DefaultMaxTurns: 10,
			Enabled:         true,
		},
		{
			ID:           "code-review",
			Name:         "Code Review",
			SystemPrompt: "You are a code reviewer. Read the referenced code, list concrete problems ordered by severity, and suggest fixes without applying them.",
			Triggers: []Trigger{
				{Type: TriggerKeyword, Value: "review", Priority: 2},
				{Type: TriggerPattern, Value: `\b(lgtm|looks good)\b`, Priority: 1},
			},
			AllowedTools:    []string{"read_file", "list_dir", "grep"},
			DefaultMaxTurns: 6,
			Enabled:         true,
		},
		{
			ID:           "doc-writer",
			Name:         "Doc Writer",
			SystemPrompt: "You write and update documentation. Match the surrounding document's tone and structure; never invent behavior the code does not have.",
			Triggers: []Trigger{
				{Type: TriggerKeyword, Value: "readme", Priority: 2},
				{Type: TriggerKeyword, Value: "documentation", Priority: 2},
				{Type: TriggerFileExtension, Value: ".md", Priority: 1},
			},
			DefaultMaxTurns: 4,
			Enabled:         true,
		},
	}
}
