package provider

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/OrionStarAI/DeepVCode-sub011/internal/ai"
	"github.com/OrionStarAI/DeepVCode-sub011/internal/ai/tools"
)

type anthropicClient struct {
	client anthropic.Client
}

func (c *anthropicClient) SendMessageStream(ctx context.Context, req ai.ChatRequest) (ai.ChatStream, error) {
	if c == nil {
		return nil, errors.New("nil anthropic client")
	}
	if strings.TrimSpace(req.Model) == "" {
		return nil, errors.New("missing model")
	}

	message := strings.TrimSpace(req.Message)
	if message == "" {
		message = "Continue."
	}
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(strings.TrimSpace(req.Model)),
		MaxTokens: defaultMaxOutputTokens,
		Messages:  []anthropic.MessageParam{anthropic.NewUserMessage(anthropic.NewTextBlock(message))},
	}
	if system := strings.TrimSpace(req.SystemPrompt); system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}
	if toolParams := buildAnthropicTools(req.Tools); len(toolParams) > 0 {
		params.Tools = toolParams
	}

	return &anthropicStream{
		stream:   c.client.Messages.NewStreaming(ctx, params),
		partials: map[int64]*anthropicPartialCall{},
	}, nil
}

func buildAnthropicTools(defs []tools.Descriptor) []anthropic.ToolUnionParam {
	out := make([]anthropic.ToolUnionParam, 0, len(defs))
	for _, def := range defs {
		name := strings.TrimSpace(def.Name)
		if name == "" {
			continue
		}
		schema := map[string]any{}
		if len(def.InputSchema) > 0 {
			_ = json.Unmarshal(def.InputSchema, &schema)
		}
		param := anthropic.ToolParam{
			Name:        name,
			Description: anthropic.String(strings.TrimSpace(def.Description)),
			InputSchema: anthropic.ToolInputSchemaParam{
				Type:       "object",
				Properties: schema["properties"],
				Required:   schemaRequired(schema["required"]),
			},
		}
		out = append(out, anthropic.ToolUnionParam{OfTool: &param})
	}
	return out
}

func schemaRequired(v any) []string {
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok && strings.TrimSpace(s) != "" {
			out = append(out, strings.TrimSpace(s))
		}
	}
	return out
}

type anthropicPartialCall struct {
	Index   int64
	ID      string
	Name    string
	Ended   bool
	ArgsRaw strings.Builder
}

// anthropicStream adapts the Messages SSE stream to the ChatStream contract,
// accumulating the full message alongside so tool input lost to delta gaps can
// be recovered from the accumulated content blocks.
type anthropicStream struct {
	stream   *ssestream.Stream[anthropic.MessageStreamEventUnion]
	msg      anthropic.Message
	partials map[int64]*anthropicPartialCall

	queue   []ai.ChatChunk
	current ai.ChatChunk
	err     error
	done    bool
}

func (s *anthropicStream) Next() bool {
	for {
		if len(s.queue) > 0 {
			s.current = s.queue[0]
			s.queue = s.queue[1:]
			return true
		}
		if s.done {
			return false
		}
		if !s.stream.Next() {
			s.done = true
			if err := s.stream.Err(); err != nil {
				s.err = err
				return false
			}
			s.queue = append(s.queue, s.finalChunk())
			continue
		}
		event := s.stream.Current()
		if err := s.msg.Accumulate(event); err != nil {
			s.done = true
			s.err = err
			return false
		}
		s.handle(event)
	}
}

func (s *anthropicStream) Current() ai.ChatChunk { return s.current }

func (s *anthropicStream) Err() error { return s.err }

func (s *anthropicStream) handle(event anthropic.MessageStreamEventUnion) {
	switch variant := event.AsAny().(type) {
	case anthropic.ContentBlockStartEvent:
		if strings.TrimSpace(variant.ContentBlock.Type) != "tool_use" {
			return
		}
		s.partials[variant.Index] = &anthropicPartialCall{
			Index: variant.Index,
			ID:    strings.TrimSpace(variant.ContentBlock.ID),
			Name:  strings.TrimSpace(variant.ContentBlock.Name),
		}

	case anthropic.ContentBlockDeltaEvent:
		switch delta := variant.Delta.AsAny().(type) {
		case anthropic.TextDelta:
			if delta.Text != "" {
				s.queue = append(s.queue, ai.ChatChunk{Text: delta.Text})
			}
		case anthropic.ThinkingDelta:
			if strings.TrimSpace(delta.Thinking) != "" {
				s.queue = append(s.queue, ai.ChatChunk{Thought: true, Text: delta.Thinking})
			}
		case anthropic.InputJSONDelta:
			if pc := s.partials[variant.Index]; pc != nil && delta.PartialJSON != "" {
				pc.ArgsRaw.WriteString(delta.PartialJSON)
			}
		}

	case anthropic.ContentBlockStopEvent:
		pc := s.partials[variant.Index]
		if pc == nil || pc.Ended {
			return
		}
		if strings.TrimSpace(pc.ArgsRaw.String()) == "" {
			idx := int(variant.Index)
			if idx >= 0 && idx < len(s.msg.Content) {
				if tu, ok := s.msg.Content[idx].AsAny().(anthropic.ToolUseBlock); ok && len(tu.Input) > 0 {
					pc.ArgsRaw.WriteString(strings.TrimSpace(string(tu.Input)))
				}
			}
		}
		pc.Ended = true
	}
}

func (s *anthropicStream) finalChunk() ai.ChatChunk {
	indices := make([]int64, 0, len(s.partials))
	for idx, pc := range s.partials {
		if pc != nil && pc.Ended && strings.TrimSpace(pc.ID) != "" {
			indices = append(indices, idx)
		}
	}
	sort.Slice(indices, func(i, j int) bool { return indices[i] < indices[j] })

	chunk := ai.ChatChunk{}
	for _, idx := range indices {
		pc := s.partials[idx]
		chunk.FunctionCalls = append(chunk.FunctionCalls, partialToCall(pc.ID, pc.Name, pc.ArgsRaw.String()))
	}

	chunk.FinishReason = mapAnthropicStopReason(s.msg.StopReason)
	if len(chunk.FunctionCalls) > 0 {
		chunk.FinishReason = ai.FinishReasonToolCalls
	}
	chunk.Usage = &ai.UsageMetadata{
		InputTokens:      s.msg.Usage.InputTokens,
		OutputTokens:     s.msg.Usage.OutputTokens,
		TotalTokens:      s.msg.Usage.InputTokens + s.msg.Usage.OutputTokens,
		CacheWriteTokens: s.msg.Usage.CacheCreationInputTokens,
		CacheReadTokens:  s.msg.Usage.CacheReadInputTokens,
	}
	return chunk
}

func mapAnthropicStopReason(reason anthropic.StopReason) ai.FinishReason {
	switch strings.TrimSpace(strings.ToLower(string(reason))) {
	case "tool_use":
		return ai.FinishReasonToolCalls
	case "end_turn", "stop_sequence":
		return ai.FinishReasonStop
	case "max_tokens":
		return ai.FinishReasonMaxTokens
	case "refusal":
		return ai.FinishReasonSafety
	default:
		return ai.FinishReasonOther
	}
}
