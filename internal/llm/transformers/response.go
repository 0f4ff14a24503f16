package transformers

import (
	"encoding/json"
	"fmt"
	"hash/fnv"
	"strings"

	log "github.com/sirupsen/logrus"
	"google.golang.org/genai"

	"github.com/m2tx/transformers_agent/internal/llm"
)

// Error codes surfaced through error-shaped responses. Failures never cross
// the adapter boundary as raised faults.
const (
	ErrCodeNoChoices     = "NO_CHOICES"
	ErrCodeNoContent     = "NO_CONTENT"
	ErrCodeRawConversion = "RAW_CONVERSION_ERROR"
	ErrCodeRawHTTP       = "ASYNC_RAW_HTTP_ERROR"
	ErrCodeAPI           = "TRANSFORMERS_API_ERROR"
)

func errorResponse(code string, format string, args ...any) *llm.Response {
	return &llm.Response{
		ErrorCode:    code,
		ErrorMessage: fmt.Sprintf(format, args...),
	}
}

func modelResponse(parts []*genai.Part, reason genai.FinishReason) *llm.Response {
	return &llm.Response{
		Content: &genai.Content{
			Role:  genai.RoleModel,
			Parts: parts,
		},
		FinishReason: reason,
	}
}

// decodeBody converts a raw HTTP body into a normalized response. Servers
// occasionally answer a non-streaming request with an SSE stream; such bodies
// are recognized by the data: prefix and replayed through the stream
// accumulator instead of the JSON decoder.
func decodeBody(body string, hasFunctionResponses bool) *llm.Response {
	trimmed := strings.TrimSpace(body)

	if strings.HasPrefix(trimmed, "data:") {
		return reduceEventStream(trimmed, hasFunctionResponses)
	}

	var resp chatCompletionResponse
	if err := json.Unmarshal([]byte(trimmed), &resp); err != nil {
		return errorResponse(ErrCodeRawConversion, "decode response body: %v", err)
	}

	return decodeResponse(&resp, hasFunctionResponses)
}

// decodeResponse converts one non-streaming completion into a normalized
// response. Recovery of text-encoded function calls is attempted only when
// the conversation holds no function result yet, so a model's natural
// language summary of a tool run is never re-read as a new call.
func decodeResponse(resp *chatCompletionResponse, hasFunctionResponses bool) *llm.Response {
	if len(resp.Choices) == 0 {
		return errorResponse(ErrCodeNoChoices, "no choices in response")
	}

	msg := resp.Choices[0].Message
	parts := []*genai.Part{}

	if msg.Content != "" && len(msg.ToolCalls) == 0 {
		if part := tryParseFunctionCall(msg.Content, !hasFunctionResponses); part != nil {
			parts = append(parts, part)
		} else {
			parts = append(parts, &genai.Part{Text: msg.Content})
		}
	} else if msg.Content != "" {
		parts = append(parts, &genai.Part{Text: msg.Content})
	}

	for _, tc := range msg.ToolCalls {
		part, err := decodeToolCall(tc)
		if err != nil {
			log.Errorf("transformers: skipping tool call: %v", err)
			continue
		}
		parts = append(parts, part)
	}

	if len(parts) == 0 {
		return errorResponse(ErrCodeNoContent, "no content in response")
	}

	return modelResponse(parts, genai.FinishReasonStop)
}

// decodeToolCall converts one structured tool call. An empty argument string
// defaults to {}; malformed argument JSON fails just this call.
func decodeToolCall(tc toolCall) (*genai.Part, error) {
	if tc.Function.Name == "" {
		return nil, fmt.Errorf("tool call %q has no function name", tc.ID)
	}

	args := map[string]any{}
	if tc.Function.Arguments != "" {
		if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
			return nil, fmt.Errorf("tool call %q arguments: %w", tc.Function.Name, err)
		}
	}

	return &genai.Part{
		FunctionCall: &genai.FunctionCall{
			ID:   tc.ID,
			Name: tc.Function.Name,
			Args: args,
		},
	}, nil
}

// looseCall covers the ad-hoc JSON shapes models emit when they answer with a
// function call as plain text instead of a structured tool call.
type looseCall struct {
	Type       string          `json:"type"`
	Function   json.RawMessage `json:"function"`
	Name       string          `json:"name"`
	Parameters json.RawMessage `json:"parameters"`
}

// tryParseFunctionCall attempts to recover a function call from text content.
// Three shapes are recognized, first match wins:
//
//	{"type": "function", "function": "<name>", "parameters": {...}}
//	{"name": "<name>", "parameters": {...}}
//	{"function": {"name": "<name>", "parameters": {...} | "json string"}}
//
// Returns nil when recovery is disabled, the text is not bounded by braces,
// or no shape matches. Parse failures are not errors here.
func tryParseFunctionCall(content string, allow bool) *genai.Part {
	if !allow {
		log.Debug("transformers: function call recovery disabled, treating as text")
		return nil
	}

	trimmed := strings.TrimSpace(content)
	if !strings.HasPrefix(trimmed, "{") || !strings.HasSuffix(trimmed, "}") {
		return nil
	}

	var loose looseCall
	if err := json.Unmarshal([]byte(trimmed), &loose); err != nil {
		log.Debugf("transformers: content is not a function call: %v", err)
		return nil
	}

	var name string
	var args map[string]any

	switch {
	case loose.Type == "function" && loose.Function != nil && loose.Parameters != nil:
		if err := json.Unmarshal(loose.Function, &name); err != nil || name == "" {
			return nil
		}
		args = decodeLooseParams(loose.Parameters)

	case loose.Name != "" && loose.Parameters != nil:
		name = loose.Name
		args = decodeLooseParams(loose.Parameters)

	case loose.Function != nil:
		var nested struct {
			Name       string          `json:"name"`
			Parameters json.RawMessage `json:"parameters"`
		}
		if err := json.Unmarshal(loose.Function, &nested); err != nil || nested.Name == "" {
			return nil
		}
		name = nested.Name
		args = decodeNestedParams(nested.Parameters)

	default:
		return nil
	}

	log.Debugf("transformers: recovered function call %q from text", name)

	return &genai.Part{
		FunctionCall: &genai.FunctionCall{
			ID:   syntheticCallID(trimmed),
			Name: name,
			Args: args,
		},
	}
}

// decodeLooseParams reads parameters that should be an object; anything else
// degrades to an empty argument map.
func decodeLooseParams(raw json.RawMessage) map[string]any {
	args := map[string]any{}
	if raw == nil {
		return args
	}
	if err := json.Unmarshal(raw, &args); err != nil {
		return map[string]any{}
	}
	return args
}

// decodeNestedParams additionally accepts parameters serialized as a JSON
// string, which some models produce inside the nested shape.
func decodeNestedParams(raw json.RawMessage) map[string]any {
	if raw == nil {
		return map[string]any{}
	}

	args := map[string]any{}
	if err := json.Unmarshal(raw, &args); err == nil {
		return args
	}

	var encoded string
	if err := json.Unmarshal(raw, &encoded); err == nil {
		inner := map[string]any{}
		if err := json.Unmarshal([]byte(encoded), &inner); err == nil {
			return inner
		}
	}

	return map[string]any{}
}

// syntheticCallID derives a best-effort id for recovered calls. Not collision
// resistant; nothing downstream keys on uniqueness.
func syntheticCallID(content string) string {
	h := fnv.New32a()
	h.Write([]byte(content))
	return fmt.Sprintf("call_%d", h.Sum32()%10000)
}
