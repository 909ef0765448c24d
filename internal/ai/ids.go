package ai

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// NewPromptID returns an opaque id correlating all events of one turn.
func NewPromptID() (string, error) {
	b := make([]byte, 12)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return "prompt_" + base64.RawURLEncoding.EncodeToString(b), nil
}

// generateCallID builds a call id for proposals the model left unidentified.
// The id embeds the tool name, a millisecond timestamp and a random suffix so ids
// never collide within one turn.
func generateCallID(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		name = "call"
	}
	suffix := make([]byte, 4)
	if _, err := rand.Read(suffix); err != nil {
		// Degenerate fallback; timestamp alone still separates sequential calls.
		return fmt.Sprintf("%s-%d", name, time.Now().UnixNano())
	}
	return fmt.Sprintf("%s-%d-%s", name, time.Now().UnixMilli(), hex.EncodeToString(suffix))
}
