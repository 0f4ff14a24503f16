package transformers

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"
	"google.golang.org/genai"
)

// convertContents flattens framework conversation history into the chat
// message list. Contents carrying function responses become one tool message
// per response part; everything else becomes a single role/content message,
// with assistant function calls serialized into tool_calls.
func convertContents(contents []*genai.Content) []chatMessage {
	messages := []chatMessage{}

	for _, content := range contents {
		if content == nil {
			continue
		}

		if hasFunctionResponse(content) {
			for _, part := range content.Parts {
				if part == nil || part.FunctionResponse == nil {
					continue
				}
				messages = append(messages, chatMessage{
					Role:       "tool",
					ToolCallID: part.FunctionResponse.ID,
					Content:    encodeFunctionResponse(part.FunctionResponse),
				})
			}
			continue
		}

		msg := chatMessage{
			Role:    convertRole(content.Role),
			Content: convertParts(content.Parts),
		}

		if content.Role == genai.RoleModel || content.Role == "assistant" {
			msg.ToolCalls = convertFunctionCalls(content.Parts)
		}

		messages = append(messages, msg)
	}

	return messages
}

func hasFunctionResponse(content *genai.Content) bool {
	for _, part := range content.Parts {
		if part != nil && part.FunctionResponse != nil {
			return true
		}
	}
	return false
}

func convertRole(role string) string {
	switch role {
	case genai.RoleModel, "assistant":
		return "assistant"
	case genai.RoleUser:
		return "user"
	case "system":
		return "system"
	default:
		return "user"
	}
}

// convertParts maps parts onto wire content. A single text part collapses to
// a bare string, an empty part list to ""; anything else stays a typed list.
func convertParts(parts []*genai.Part) any {
	items := []contentItem{}

	for _, part := range parts {
		if part == nil {
			continue
		}

		switch {
		case part.Text != "":
			items = append(items, contentItem{Type: "text", Text: part.Text})

		case part.InlineData != nil && part.InlineData.MIMEType != "" && len(part.InlineData.Data) > 0:
			if item, ok := convertInlineData(part.InlineData); ok {
				items = append(items, item)
			}

		case part.FileData != nil && part.FileData.FileURI != "":
			items = append(items, convertFileData(part.FileData))
		}
	}

	if len(items) == 1 && items[0].Type == "text" {
		return items[0].Text
	}

	if len(items) == 0 {
		return ""
	}

	return items
}

func convertInlineData(blob *genai.Blob) (contentItem, bool) {
	encoded := base64.StdEncoding.EncodeToString(blob.Data)

	switch {
	case strings.HasPrefix(blob.MIMEType, "image"):
		return contentItem{
			Type: "image_url",
			ImageURL: &imageURL{
				URL: fmt.Sprintf("data:%s;base64,%s", blob.MIMEType, encoded),
			},
		}, true

	case strings.HasPrefix(blob.MIMEType, "audio"):
		format := blob.MIMEType
		if idx := strings.LastIndex(format, "/"); idx >= 0 {
			format = format[idx+1:]
		}
		return contentItem{
			Type: "input_audio",
			InputAudio: &inputAudio{
				Data:   encoded,
				Format: format,
			},
		}, true
	}

	return contentItem{}, false
}

func convertFileData(file *genai.FileData) contentItem {
	if strings.HasPrefix(file.FileURI, "http://") || strings.HasPrefix(file.FileURI, "https://") {
		return contentItem{
			Type:     "image_url",
			ImageURL: &imageURL{URL: file.FileURI},
		}
	}

	return contentItem{
		Type: "text",
		Text: fmt.Sprintf("[File: %s]", file.FileURI),
	}
}

func convertFunctionCalls(parts []*genai.Part) []toolCall {
	var calls []toolCall

	for _, part := range parts {
		if part == nil || part.FunctionCall == nil {
			continue
		}

		calls = append(calls, toolCall{
			ID:   part.FunctionCall.ID,
			Type: "function",
			Function: functionCall{
				Name:      part.FunctionCall.Name,
				Arguments: encodeArgs(part.FunctionCall.Args),
			},
		})
	}

	return calls
}

func encodeArgs(args map[string]any) string {
	if args == nil {
		args = map[string]any{}
	}
	data, err := json.Marshal(args)
	if err != nil {
		log.Errorf("transformers: marshal function call args: %v", err)
		return "{}"
	}
	return string(data)
}

func encodeFunctionResponse(resp *genai.FunctionResponse) string {
	data, err := json.Marshal(resp.Response)
	if err != nil {
		log.Errorf("transformers: marshal function response %q: %v", resp.Name, err)
		return "{}"
	}
	return string(data)
}

// hasToolMessages reports whether the encoded conversation already contains a
// function result. Tool definitions are withheld in that case so the model
// answers in natural language instead of re-invoking a tool.
func hasToolMessages(messages []chatMessage) bool {
	for _, msg := range messages {
		if msg.Role == "tool" {
			return true
		}
	}
	return false
}
