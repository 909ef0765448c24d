package ai

import (
	"encoding/json"
	"strings"

	"github.com/OrionStarAI/DeepVCode-sub011/internal/config"
)

// repairFunctionCall applies best-effort fixes to a raw tool-call proposal for
// models known to emit malformed calls. It is pure and never fails: any problem
// leaves the original call untouched.
//
// Repairs, per policy:
//   - GenerateCallIDs: fill a missing id with a deterministic-shape generated one.
//   - CoerceStringArgs: models behind some gateways double-encode arguments as a
//     JSON string; decode it into the args map when the map is empty.
func repairFunctionCall(call FunctionCall, modelName string, policies []config.RepairPolicy) FunctionCall {
	policy, ok := matchRepairPolicy(modelName, policies)
	if !ok {
		return call
	}

	out := call

	if policy.CoerceStringArgs && len(out.Args) == 0 {
		raw := strings.TrimSpace(out.RawArgs)
		if raw != "" {
			var decoded map[string]any
			if err := json.Unmarshal([]byte(raw), &decoded); err == nil && len(decoded) > 0 {
				out.Args = decoded
			} else {
				// Double-encoded: the payload is a JSON string containing JSON.
				var inner string
				if err := json.Unmarshal([]byte(raw), &inner); err == nil {
					if err := json.Unmarshal([]byte(inner), &decoded); err == nil && len(decoded) > 0 {
						out.Args = decoded
					}
				}
			}
		}
	}

	if policy.GenerateCallIDs && strings.TrimSpace(out.ID) == "" {
		out.ID = generateCallID(out.Name)
	}

	return out
}

func matchRepairPolicy(modelName string, policies []config.RepairPolicy) (config.RepairPolicy, bool) {
	model := strings.ToLower(strings.TrimSpace(modelName))
	if model == "" {
		return config.RepairPolicy{}, false
	}
	for _, p := range policies {
		prefix := strings.ToLower(strings.TrimSpace(p.ModelPrefix))
		if prefix == "" {
			continue
		}
		if strings.HasPrefix(model, prefix) {
			return p, true
		}
	}
	return config.RepairPolicy{}, false
}
