package provider

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/packages/ssestream"
	oresponses "github.com/openai/openai-go/responses"
	oshared "github.com/openai/openai-go/shared"

	"github.com/OrionStarAI/DeepVCode-sub011/internal/ai"
	"github.com/OrionStarAI/DeepVCode-sub011/internal/ai/tools"
)

type openAIClient struct {
	client openai.Client
}

func (c *openAIClient) SendMessageStream(ctx context.Context, req ai.ChatRequest) (ai.ChatStream, error) {
	if c == nil {
		return nil, errors.New("nil openai client")
	}
	if strings.TrimSpace(req.Model) == "" {
		return nil, errors.New("missing model")
	}

	params := oresponses.ResponseNewParams{
		Model:             oshared.ResponsesModel(strings.TrimSpace(req.Model)),
		MaxOutputTokens:   openai.Int(defaultMaxOutputTokens),
		ParallelToolCalls: openai.Bool(false),
	}
	if system := strings.TrimSpace(req.SystemPrompt); system != "" {
		params.Instructions = openai.String(system)
	}
	if toolParams := buildOpenAITools(req.Tools); len(toolParams) > 0 {
		params.Tools = toolParams
	}
	message := strings.TrimSpace(req.Message)
	if message == "" {
		message = "Continue."
	}
	params.Input = oresponses.ResponseNewParamsInputUnion{
		OfInputItemList: []oresponses.ResponseInputItemUnionParam{
			oresponses.ResponseInputItemParamOfMessage(message, oresponses.EasyInputMessageRoleUser),
		},
	}

	return &openAIStream{
		stream:   c.client.Responses.NewStreaming(ctx, params),
		partials: map[string]*openAIPartialCall{},
	}, nil
}

// openAIPartialCall accumulates one streamed function call across its delta
// events until the done event seals it.
type openAIPartialCall struct {
	ItemID      string
	CallID      string
	Name        string
	OutputIndex int64
	Ended       bool
	ArgsRaw     strings.Builder
}

// openAIStream adapts the Responses SSE stream to the ChatStream contract.
// Text deltas surface immediately; function calls and the finish/usage chunk
// are emitted once the response completes, in output order.
type openAIStream struct {
	stream   *ssestream.Stream[oresponses.ResponseStreamEventUnion]
	partials map[string]*openAIPartialCall

	completed    oresponses.Response
	gotCompleted bool

	queue   []ai.ChatChunk
	current ai.ChatChunk
	err     error
	done    bool
}

func (s *openAIStream) Next() bool {
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
			if !s.gotCompleted {
				s.err = errors.New("missing response.completed event")
				return false
			}
			s.queue = append(s.queue, s.finalChunk())
			continue
		}
		s.handle(s.stream.Current())
	}
}

func (s *openAIStream) Current() ai.ChatChunk { return s.current }

func (s *openAIStream) Err() error { return s.err }

func (s *openAIStream) partial(itemID string) *openAIPartialCall {
	itemID = strings.TrimSpace(itemID)
	if itemID == "" {
		return nil
	}
	if pc := s.partials[itemID]; pc != nil {
		return pc
	}
	pc := &openAIPartialCall{ItemID: itemID, CallID: itemID, OutputIndex: -1}
	s.partials[itemID] = pc
	return pc
}

func (s *openAIStream) handle(event oresponses.ResponseStreamEventUnion) {
	switch strings.TrimSpace(event.Type) {
	case "response.output_text.delta":
		if delta := event.Delta.OfString; delta != "" {
			s.queue = append(s.queue, ai.ChatChunk{Text: delta})
		}

	case "response.reasoning_summary_text.delta":
		if delta := event.Delta.OfString; delta != "" {
			s.queue = append(s.queue, ai.ChatChunk{Thought: true, Text: delta})
		}

	case "response.output_item.added":
		item := event.Item
		if strings.TrimSpace(item.Type) != "function_call" {
			return
		}
		pc := s.partial(item.ID)
		if pc == nil {
			return
		}
		if pc.OutputIndex < 0 {
			pc.OutputIndex = event.OutputIndex
		}
		if cid := strings.TrimSpace(item.CallID); cid != "" {
			pc.CallID = cid
		}
		if name := strings.TrimSpace(item.Name); name != "" {
			pc.Name = name
		}
		if raw := strings.TrimSpace(item.Arguments); raw != "" {
			pc.ArgsRaw.WriteString(raw)
		}

	case "response.function_call_arguments.delta":
		pc := s.partial(event.ItemID)
		if pc == nil {
			return
		}
		if delta := event.Delta.OfString; delta != "" {
			pc.ArgsRaw.WriteString(delta)
		}

	case "response.function_call_arguments.done":
		pc := s.partial(event.ItemID)
		if pc == nil {
			return
		}
		if raw := strings.TrimSpace(event.Arguments); raw != "" {
			pc.ArgsRaw.Reset()
			pc.ArgsRaw.WriteString(raw)
		}
		pc.Ended = true

	case "response.output_item.done":
		item := event.Item
		if strings.TrimSpace(item.Type) != "function_call" {
			return
		}
		pc := s.partial(item.ID)
		if pc == nil {
			return
		}
		if cid := strings.TrimSpace(item.CallID); cid != "" {
			pc.CallID = cid
		}
		if name := strings.TrimSpace(item.Name); name != "" {
			pc.Name = name
		}
		if raw := strings.TrimSpace(item.Arguments); raw != "" && strings.TrimSpace(pc.ArgsRaw.String()) == "" {
			pc.ArgsRaw.WriteString(raw)
		}
		pc.Ended = true

	case "response.completed":
		s.completed = event.Response
		s.gotCompleted = true
	}
}

// finalChunk carries the ordered function calls, finish reason and usage.
func (s *openAIStream) finalChunk() ai.ChatChunk {
	ordered := make([]*openAIPartialCall, 0, len(s.partials))
	seen := map[string]struct{}{}
	for _, pc := range s.partials {
		if pc == nil || !pc.Ended || strings.TrimSpace(pc.CallID) == "" {
			continue
		}
		seen[strings.TrimSpace(pc.CallID)] = struct{}{}
		ordered = append(ordered, pc)
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		oi, oj := ordered[i].OutputIndex, ordered[j].OutputIndex
		if oi < 0 && oj >= 0 {
			return false
		}
		if oj < 0 && oi >= 0 {
			return true
		}
		if oi == oj {
			return ordered[i].CallID < ordered[j].CallID
		}
		return oi < oj
	})

	chunk := ai.ChatChunk{}
	for _, pc := range ordered {
		chunk.FunctionCalls = append(chunk.FunctionCalls, partialToCall(pc.CallID, pc.Name, pc.ArgsRaw.String()))
	}
	// Recover calls the event stream missed from the completed output.
	for _, item := range s.completed.Output {
		if strings.TrimSpace(item.Type) != "function_call" {
			continue
		}
		callID := strings.TrimSpace(item.CallID)
		if callID == "" {
			callID = strings.TrimSpace(item.ID)
		}
		if callID == "" {
			continue
		}
		if _, ok := seen[callID]; ok {
			continue
		}
		chunk.FunctionCalls = append(chunk.FunctionCalls, partialToCall(callID, item.Name, item.Arguments))
	}

	chunk.FinishReason = mapOpenAIStatus(s.completed.Status)
	if len(chunk.FunctionCalls) > 0 {
		chunk.FinishReason = ai.FinishReasonToolCalls
	}
	chunk.Usage = &ai.UsageMetadata{
		InputTokens:  s.completed.Usage.InputTokens,
		OutputTokens: s.completed.Usage.OutputTokens,
		TotalTokens:  s.completed.Usage.TotalTokens,
		CachedTokens: s.completed.Usage.InputTokensDetails.CachedTokens,
	}
	return chunk
}

func buildOpenAITools(defs []tools.Descriptor) []oresponses.ToolUnionParam {
	out := make([]oresponses.ToolUnionParam, 0, len(defs))
	for _, def := range defs {
		name := strings.TrimSpace(def.Name)
		if name == "" {
			continue
		}
		schema := map[string]any{}
		if len(def.InputSchema) > 0 {
			_ = json.Unmarshal(def.InputSchema, &schema)
		}
		out = append(out, oresponses.ToolParamOfFunction(name, schema, false))
	}
	return out
}

func partialToCall(callID string, name string, rawArgs string) ai.FunctionCall {
	rawArgs = strings.TrimSpace(rawArgs)
	args := map[string]any{}
	if rawArgs != "" {
		_ = json.Unmarshal([]byte(rawArgs), &args)
	}
	return ai.FunctionCall{
		ID:      strings.TrimSpace(callID),
		Name:    strings.TrimSpace(name),
		Args:    args,
		RawArgs: rawArgs,
	}
}

func mapOpenAIStatus(status oresponses.ResponseStatus) ai.FinishReason {
	switch strings.TrimSpace(strings.ToLower(string(status))) {
	case "completed":
		return ai.FinishReasonStop
	case "incomplete":
		return ai.FinishReasonMaxTokens
	default:
		return ai.FinishReasonOther
	}
}
