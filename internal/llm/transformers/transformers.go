// Package transformers adapts the framework's conversation model to
// OpenAI-compatible chat completion endpoints, as served by HuggingFace
// Transformers, vLLM, llama.cpp, LiteLLM and similar backends. It supports
// streaming and non-streaming responses, tool calling, and multimodal
// content.
package transformers

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"iter"
	"net/http"
	"regexp"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"google.golang.org/genai"

	"github.com/m2tx/transformers_agent/internal/llm"
)

const (
	// DefaultBaseURL targets a locally served OpenAI-compatible endpoint.
	DefaultBaseURL    = "http://localhost:4000/v1"
	DefaultMaxRetries = 3
	DefaultTimeout    = 60 * time.Second
)

// defaultToolKeywords gates tool attachment to queries that plausibly need a
// tool. Small local models invoke tools on unrelated queries when tools are
// always offered; this is a stopgap policy, replaceable via Config.ToolGate.
var defaultToolKeywords = []string{"weather", "time", "temperature", "forecast", "clock"}

// supportedModelPatterns are tried in order; the final catch-all accepts any
// name, since custom endpoints serve arbitrary models.
var supportedModelPatterns = []*regexp.Regexp{
	regexp.MustCompile(`^deepseek-ai/.*$`),
	regexp.MustCompile(`^meta-llama/.*$`),
	regexp.MustCompile(`^mistralai/.*$`),
	regexp.MustCompile(`^unsloth/.*$`),
	regexp.MustCompile(`^.*$`),
}

// Config holds configuration for the Transformers adapter.
type Config struct {
	// APIKey is optional; local endpoints generally accept any bearer token.
	APIKey string

	// BaseURL of the endpoint, without the /chat/completions suffix.
	// Default: http://localhost:4000/v1.
	BaseURL string

	// Organization id, sent as the OpenAI-Organization header when set.
	Organization string

	// MaxRetries for the streaming client path. Default: 3.
	MaxRetries int

	// Timeout per request. Default: 60s.
	Timeout time.Duration

	// ToolGate decides, given the latest message's text, whether tool
	// definitions are attached to the request. Defaults to
	// KeywordToolGate over weather/time style trigger words.
	ToolGate func(latest string) bool
}

// KeywordToolGate returns a gate that attaches tools when the text contains
// any of the given keywords, case-insensitively.
func KeywordToolGate(keywords ...string) func(string) bool {
	return func(latest string) bool {
		latest = strings.ToLower(latest)
		for _, kw := range keywords {
			if strings.Contains(latest, kw) {
				return true
			}
		}
		return false
	}
}

// Model is an llm.Model backed by an OpenAI-compatible chat completions
// endpoint. One instance owns one lazily-built transport client and is safe
// for concurrent requests; all per-request state lives on the stack.
type Model struct {
	name string
	cfg  Config

	clientOnce sync.Once
	client     *http.Client
}

var _ llm.Model = (*Model)(nil)

// New creates a Transformers adapter for the given model name.
func New(name string, cfg Config) *Model {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.ToolGate == nil {
		cfg.ToolGate = KeywordToolGate(defaultToolKeywords...)
	}

	return &Model{name: name, cfg: cfg}
}

// Name returns the configured model identifier.
func (m *Model) Name() string {
	return m.name
}

// Supports reports whether the model name matches a known provider pattern.
// The matcher list ends with a catch-all, so custom endpoint models pass.
func (m *Model) Supports(model string) bool {
	for _, pattern := range supportedModelPatterns {
		if pattern.MatchString(model) {
			return true
		}
	}
	return false
}

// httpClient returns the cached transport client, building it on first use.
func (m *Model) httpClient() *http.Client {
	m.clientOnce.Do(func() {
		m.client = &http.Client{Timeout: m.cfg.Timeout}
	})
	return m.client
}

// Generate performs one non-streaming request. The call always goes through
// the raw HTTP path: some servers answer non-streaming requests with a
// streaming-shaped body, which a strict JSON client cannot digest, so the
// body is inspected and decoded accordingly.
func (m *Model) Generate(ctx context.Context, req *llm.Request) *llm.Response {
	api, hasToolMsgs, err := m.buildRequest(req, false)
	if err != nil {
		log.Errorf("transformers: API error: %v", err)
		return errorResponse(ErrCodeAPI, "%v", err)
	}

	log.Debugf("transformers: non-streaming request for model %s", api.Model)

	body, err := m.postRaw(ctx, api)
	if err != nil {
		log.Errorf("transformers: raw HTTP request failed: %v", err)
		return errorResponse(ErrCodeRawHTTP, "%v", err)
	}

	return decodeBody(body, hasToolMsgs)
}

// GenerateStream performs one streaming request, yielding a partial response
// per text token and one final response when the server signals completion.
// Abandoning the iteration closes the underlying stream.
func (m *Model) GenerateStream(ctx context.Context, req *llm.Request) iter.Seq[*llm.Response] {
	return func(yield func(*llm.Response) bool) {
		api, _, err := m.buildRequest(req, true)
		if err != nil {
			log.Errorf("transformers: API error: %v", err)
			yield(errorResponse(ErrCodeAPI, "%v", err))
			return
		}

		log.Debugf("transformers: streaming request for model %s", api.Model)

		body, err := m.openStream(ctx, api)
		if err != nil {
			log.Errorf("transformers: API error: %v", err)
			yield(errorResponse(ErrCodeAPI, "%v", err))
			return
		}
		defer body.Close()

		acc := newStreamAccumulator()
		scanner := bufio.NewScanner(body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

		for scanner.Scan() {
			data, ok := ssePayload(scanner.Text())
			if !ok {
				continue
			}

			var chunk chatCompletionChunk
			if err := json.Unmarshal([]byte(data), &chunk); err != nil {
				continue
			}

			token, finish := acc.apply(&chunk)

			if token != "" && !acc.suppressed() {
				partial := &llm.Response{
					Content: &genai.Content{
						Role:  genai.RoleModel,
						Parts: []*genai.Part{{Text: token}},
					},
					Partial: true,
				}
				if !yield(partial) {
					return
				}
			}

			if finish != "" {
				if final := acc.finalize(mapFinishReason(finish), true); final != nil {
					yield(final)
				}
				return
			}
		}

		if err := scanner.Err(); err != nil {
			log.Errorf("transformers: error in streaming completion: %v", err)
			if final := acc.flush(); final != nil {
				yield(final)
			}
			return
		}
		// Transport closed without a finish signal: soft end.
	}
}

// buildRequest assembles the API parameters: message list, optional system
// instruction, gated tool definitions and sampling parameters. The second
// return value reports whether the conversation already contains a tool
// result, which downstream decoding needs for the recovery gate.
func (m *Model) buildRequest(req *llm.Request, stream bool) (*chatCompletionRequest, bool, error) {
	if req == nil {
		return nil, false, fmt.Errorf("nil request")
	}

	contents := llm.MaybeAppendUserContent(req.Contents)
	messages := convertContents(contents)

	if instruction := systemInstructionText(req.Config); instruction != "" {
		messages = append([]chatMessage{{Role: "system", Content: instruction}}, messages...)
	}

	model := req.Model
	if model == "" {
		model = m.name
	}

	api := &chatCompletionRequest{
		Model:    model,
		Messages: messages,
		Stream:   stream,
	}

	hasToolMsgs := hasToolMessages(messages)

	if tools := convertTools(req.Config); len(tools) > 0 {
		switch {
		case hasToolMsgs:
			log.Debug("transformers: function responses present, withholding tools")
		case m.cfg.ToolGate(latestMessageText(messages)):
			log.Debugf("transformers: attaching %d tools", len(tools))
			api.Tools = tools
			api.ToolChoice = "auto"
		default:
			log.Debug("transformers: query does not look tool-related, withholding tools")
		}
	}

	applyGenerationConfig(api, req.Config)

	return api, hasToolMsgs, nil
}

func systemInstructionText(config *genai.GenerateContentConfig) string {
	if config == nil || config.SystemInstruction == nil {
		return ""
	}

	var sb strings.Builder
	for _, part := range config.SystemInstruction.Parts {
		if part != nil && part.Text != "" {
			if sb.Len() > 0 {
				sb.WriteString("\n")
			}
			sb.WriteString(part.Text)
		}
	}
	return sb.String()
}

// latestMessageText returns the last message's content when it is plain
// text; structured content yields "".
func latestMessageText(messages []chatMessage) string {
	if len(messages) == 0 {
		return ""
	}
	if text, ok := messages[len(messages)-1].Content.(string); ok {
		return text
	}
	return ""
}

func applyGenerationConfig(api *chatCompletionRequest, config *genai.GenerateContentConfig) {
	if config == nil {
		return
	}

	api.Temperature = config.Temperature
	api.TopP = config.TopP
	api.PresencePenalty = config.PresencePenalty
	api.FrequencyPenalty = config.FrequencyPenalty

	if config.MaxOutputTokens > 0 {
		api.MaxTokens = config.MaxOutputTokens
	}

	if len(config.StopSequences) > 0 {
		api.Stop = config.StopSequences
	}
}

// postRaw performs the single-attempt raw HTTP call and returns the body
// verbatim, leaving shape detection to the caller.
func (m *Model) postRaw(ctx context.Context, api *chatCompletionRequest) (string, error) {
	api.Stream = false

	resp, err := m.doRequest(ctx, api)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	return string(body), nil
}

// openStream opens the streaming response body, retrying connection-level
// failures up to the configured retry count.
func (m *Model) openStream(ctx context.Context, api *chatCompletionRequest) (io.ReadCloser, error) {
	resp, err := withRetry(ctx, m.cfg.MaxRetries, "transformers stream", func(ctx context.Context) (*http.Response, error) {
		resp, err := m.doRequest(ctx, api)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			body, _ := io.ReadAll(resp.Body)
			resp.Body.Close()
			return nil, fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
		}
		return resp, nil
	})
	if err != nil {
		return nil, err
	}

	return resp.Body, nil
}

func (m *Model) doRequest(ctx context.Context, api *chatCompletionRequest) (*http.Response, error) {
	payload, err := json.Marshal(api)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	url := m.cfg.BaseURL + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	apiKey := m.cfg.APIKey
	if apiKey == "" {
		apiKey = "random_string"
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+apiKey)
	if m.cfg.Organization != "" {
		req.Header.Set("OpenAI-Organization", m.cfg.Organization)
	}

	return m.httpClient().Do(req)
}
