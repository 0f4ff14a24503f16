// Package llm defines the contract between the agent and a model backend.
package llm

import (
	"context"
	"fmt"
	"iter"

	"google.golang.org/genai"
)

// Request carries one generation request: the conversation so far plus the
// generation configuration (tools, system instruction, sampling parameters).
type Request struct {
	Model    string
	Contents []*genai.Content
	Config   *genai.GenerateContentConfig
}

// Response is the normalized model output. It is either an error (ErrorCode
// set) or a content payload. Partial marks incremental streaming chunks;
// a partial response never carries a finish reason.
type Response struct {
	Content      *genai.Content
	FinishReason genai.FinishReason
	Partial      bool
	ErrorCode    string
	ErrorMessage string
}

// Err returns the response error as a Go error, or nil if the response
// carries content.
func (r *Response) Err() error {
	if r == nil || r.ErrorCode == "" {
		return nil
	}
	return fmt.Errorf("%s: %s", r.ErrorCode, r.ErrorMessage)
}

// Model generates content from conversation history. Failures are reported
// as error-shaped responses, never as panics crossing this boundary.
type Model interface {
	// Generate performs one blocking request and returns the final response.
	Generate(ctx context.Context, req *Request) *Response

	// GenerateStream yields zero or more partial responses followed by at
	// most one final response. A stream that ends without a finish signal
	// simply stops yielding. Abandoning the iteration cancels the stream.
	GenerateStream(ctx context.Context, req *Request) iter.Seq[*Response]

	// Supports reports whether the backend accepts the given model name.
	Supports(model string) bool
}

const continuationPrompt = "Continue processing the request as instructed, or summarize if nothing remains to be done."

// MaybeAppendUserContent ensures the conversation ends with user-attributable
// content, appending a synthetic user turn when it does not. Models refuse or
// misbehave when asked to continue from their own turn.
func MaybeAppendUserContent(contents []*genai.Content) []*genai.Content {
	if len(contents) > 0 && contents[len(contents)-1].Role == genai.RoleUser {
		return contents
	}

	return append(contents, &genai.Content{
		Role:  genai.RoleUser,
		Parts: []*genai.Part{{Text: continuationPrompt}},
	})
}
