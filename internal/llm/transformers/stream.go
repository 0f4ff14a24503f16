package transformers

import (
	"encoding/json"
	"sort"
	"strings"

	log "github.com/sirupsen/logrus"
	"google.golang.org/genai"

	"github.com/m2tx/transformers_agent/internal/llm"
)

// streamAccumulator rebuilds one response from incremental deltas. Text
// concatenates into a single buffer; tool-call fragments are keyed by the
// per-call index and concatenated in arrival order. State is local to one
// request, no locking needed.
type streamAccumulator struct {
	content   strings.Builder
	toolCalls map[int]*toolCallFragments
}

type toolCallFragments struct {
	id   string
	name strings.Builder
	args strings.Builder
}

func newStreamAccumulator() *streamAccumulator {
	return &streamAccumulator{
		toolCalls: map[int]*toolCallFragments{},
	}
}

// apply folds one decoded chunk into the accumulator and returns the text
// token carried by the chunk (if any) and the finish reason (if signaled).
func (s *streamAccumulator) apply(chunk *chatCompletionChunk) (token string, finish string) {
	if len(chunk.Choices) == 0 {
		return "", ""
	}

	choice := chunk.Choices[0]

	if choice.Delta.Content != "" {
		token = choice.Delta.Content
		s.content.WriteString(token)
	}

	for _, tc := range choice.Delta.ToolCalls {
		frag, ok := s.toolCalls[tc.Index]
		if !ok {
			frag = &toolCallFragments{id: tc.ID}
			s.toolCalls[tc.Index] = frag
		}
		frag.name.WriteString(tc.Function.Name)
		frag.args.WriteString(tc.Function.Arguments)
	}

	return token, choice.FinishReason
}

// suppressed reports whether partial text emission should be withheld because
// the accumulated content looks like a function call being written out. This
// keeps raw JSON from leaking to the caller before the call completes.
func (s *streamAccumulator) suppressed() bool {
	return looksLikeFunctionCallInProgress(s.content.String())
}

func looksLikeFunctionCallInProgress(content string) bool {
	trimmed := strings.TrimSpace(content)
	return strings.Contains(trimmed, `{"name"`) || strings.Contains(trimmed, `{"type"`)
}

// finalize builds the single final response: text-level function call
// recovery first, then every accumulated tool call with a complete name.
// Returns nil when nothing accumulated.
func (s *streamAccumulator) finalize(reason genai.FinishReason, allowRecovery bool) *llm.Response {
	parts := []*genai.Part{}

	if text := s.content.String(); text != "" {
		if part := tryParseFunctionCall(text, allowRecovery); part != nil {
			parts = append(parts, part)
		} else {
			parts = append(parts, &genai.Part{Text: text})
		}
	}

	indexes := make([]int, 0, len(s.toolCalls))
	for idx := range s.toolCalls {
		indexes = append(indexes, idx)
	}
	sort.Ints(indexes)

	for _, idx := range indexes {
		frag := s.toolCalls[idx]
		name := frag.name.String()
		if name == "" {
			continue
		}

		args := map[string]any{}
		if raw := frag.args.String(); raw != "" {
			if err := json.Unmarshal([]byte(raw), &args); err != nil {
				log.Errorf("transformers: tool call %q stream arguments: %v", name, err)
				args = map[string]any{}
			}
		}

		parts = append(parts, &genai.Part{
			FunctionCall: &genai.FunctionCall{
				ID:   frag.id,
				Name: name,
				Args: args,
			},
		})
	}

	if len(parts) == 0 {
		return nil
	}

	return modelResponse(parts, reason)
}

// flush ends the stream after a mid-stream failure: accumulated text is too
// valuable to drop, so it is emitted as a final STOP response. With nothing
// accumulated the stream just ends.
func (s *streamAccumulator) flush() *llm.Response {
	if s.content.Len() == 0 {
		return nil
	}
	return modelResponse([]*genai.Part{{Text: s.content.String()}}, genai.FinishReasonStop)
}

// reduceEventStream is the batch form of the reconstructor: it consumes a
// complete SSE body in one pass and reduces it to the final response, used
// when a non-streaming request came back stream-shaped.
func reduceEventStream(body string, hasFunctionResponses bool) *llm.Response {
	acc := newStreamAccumulator()

	for _, line := range strings.Split(body, "\n") {
		data, ok := ssePayload(line)
		if !ok {
			continue
		}

		var chunk chatCompletionChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			continue
		}
		acc.apply(&chunk)
	}

	if resp := acc.finalize(genai.FinishReasonStop, !hasFunctionResponses); resp != nil {
		return resp
	}

	return errorResponse(ErrCodeNoContent, "no content found in streaming response")
}

// ssePayload extracts the JSON payload from one SSE frame line. The [DONE]
// sentinel and non-data lines yield ok=false.
func ssePayload(line string) (string, bool) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "data:") {
		return "", false
	}

	data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
	if data == "" || data == "[DONE]" {
		return "", false
	}

	return data, true
}

// mapFinishReason translates wire finish reasons into framework ones.
// tool_calls maps to STOP: the turn ended normally, the calls themselves
// travel as parts.
func mapFinishReason(reason string) genai.FinishReason {
	switch reason {
	case "stop":
		return genai.FinishReasonStop
	case "length":
		return genai.FinishReasonMaxTokens
	case "tool_calls":
		return genai.FinishReasonStop
	case "content_filter":
		return genai.FinishReasonSafety
	default:
		return genai.FinishReasonUnspecified
	}
}
