package agent

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"
	"google.golang.org/genai"

	"github.com/m2tx/transformers_agent/internal/llm"
	"github.com/m2tx/transformers_agent/internal/model"
	"github.com/m2tx/transformers_agent/internal/repository"
)

// maxToolTurns bounds the generate/execute loop for one prompt, so a model
// that keeps requesting tools cannot spin forever.
const maxToolTurns = 5

type Agent struct {
	model             llm.Model
	systemInstruction string
	functionsMap      map[string]*FunctionDeclaration
	sessionRepository repository.SessionRepository
}

type FunctionDeclaration struct {
	Name         string
	Description  string
	Parameters   *genai.Schema
	FunctionCall FunctionCallFn
}

type FunctionCallFn func(ctx context.Context, args map[string]any) (map[string]any, error)

func New(m llm.Model, systemInstruction string) *Agent {
	return &Agent{
		model:             m,
		systemInstruction: systemInstruction,
		functionsMap:      make(map[string]*FunctionDeclaration),
	}
}

func NewWithRepo(m llm.Model, systemInstruction string, sessionRepository repository.SessionRepository) *Agent {
	a := New(m, systemInstruction)
	a.sessionRepository = sessionRepository
	return a
}

func (a *Agent) AddFunctionCall(functionDeclaration *FunctionDeclaration) error {
	if functionDeclaration == nil {
		return fmt.Errorf("function declaration cannot be nil")
	}

	if functionDeclaration.Name == "" {
		return fmt.Errorf("function name cannot be empty")
	}

	if functionDeclaration.FunctionCall == nil {
		return fmt.Errorf("function call implementation cannot be nil")
	}

	a.functionsMap[functionDeclaration.Name] = functionDeclaration

	return nil
}

func (a *Agent) getTools() []*genai.Tool {
	functions := []*genai.FunctionDeclaration{}

	for _, fd := range a.functionsMap {
		functions = append(functions, &genai.FunctionDeclaration{
			Name:        fd.Name,
			Description: fd.Description,
			Parameters:  fd.Parameters,
		})
	}

	return []*genai.Tool{
		{
			FunctionDeclarations: functions,
		},
	}
}

func (a *Agent) generateConfig() *genai.GenerateContentConfig {
	return &genai.GenerateContentConfig{
		SystemInstruction: &genai.Content{
			Parts: []*genai.Part{{Text: a.systemInstruction}},
		},
		Tools: a.getTools(),
	}
}

func (a *Agent) loadHistory(ctx context.Context, sessionID string) ([]*genai.Content, error) {
	if a.sessionRepository == nil {
		return []*genai.Content{}, nil
	}

	stored, err := a.sessionRepository.Load(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}

	return toGenAIContents(stored), nil
}

// Send runs one prompt through the model, executing any requested function
// calls and feeding their results back until the model answers in text.
// Returns the contents produced during this exchange.
func (a *Agent) Send(ctx context.Context, sessionID string, prompt string) ([]model.Content, error) {
	return a.send(ctx, sessionID, prompt, nil)
}

// SendStream behaves like Send but streams the first model turn, invoking
// onToken for each partial text token. Tool-call turns that follow run
// non-streaming.
func (a *Agent) SendStream(ctx context.Context, sessionID string, prompt string, onToken func(token string)) ([]model.Content, error) {
	return a.send(ctx, sessionID, prompt, onToken)
}

func (a *Agent) send(ctx context.Context, sessionID string, prompt string, onToken func(string)) ([]model.Content, error) {
	history, err := a.loadHistory(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	history = append(history, &genai.Content{
		Role:  genai.RoleUser,
		Parts: []*genai.Part{{Text: prompt}},
	})

	newContents := []*genai.Content{}

	for turn := 0; turn < maxToolTurns; turn++ {
		req := &llm.Request{Contents: history, Config: a.generateConfig()}

		var resp *llm.Response
		if turn == 0 && onToken != nil {
			resp = a.generateStream(ctx, req, onToken)
		} else {
			resp = a.model.Generate(ctx, req)
		}

		if resp == nil {
			break
		}
		if err := resp.Err(); err != nil {
			return nil, err
		}
		if resp.Content == nil {
			break
		}

		history = append(history, resp.Content)
		newContents = append(newContents, resp.Content)

		functionResponses, err := a.executeFunctionCalls(ctx, resp.Content)
		if err != nil {
			return nil, err
		}
		if len(functionResponses) == 0 {
			break
		}

		frContent := &genai.Content{
			Role:  genai.RoleUser,
			Parts: functionResponses,
		}
		history = append(history, frContent)
		newContents = append(newContents, frContent)
	}

	if a.sessionRepository != nil {
		if saveErr := a.sessionRepository.Save(ctx, sessionID, toModelContents(history)); saveErr != nil {
			log.Warnf("agent: failed to save session %q: %v", sessionID, saveErr)
		}
	}

	return parseContents(newContents)
}

// generateStream consumes one streamed turn and returns its final response,
// or nil when the stream ends without one.
func (a *Agent) generateStream(ctx context.Context, req *llm.Request, onToken func(string)) *llm.Response {
	var final *llm.Response

	for resp := range a.model.GenerateStream(ctx, req) {
		if resp == nil {
			continue
		}
		if !resp.Partial {
			final = resp
			continue
		}
		if resp.Content != nil {
			for _, part := range resp.Content.Parts {
				if part != nil && part.Text != "" {
					onToken(part.Text)
				}
			}
		}
	}

	return final
}

func (a *Agent) executeFunctionCalls(ctx context.Context, content *genai.Content) ([]*genai.Part, error) {
	functionResponses := []*genai.Part{}

	for _, part := range content.Parts {
		if part == nil || part.FunctionCall == nil {
			continue
		}

		log.Debugf("agent: function call %s %v", part.FunctionCall.Name, part.FunctionCall.Args)

		funcResp, err := a.handleFunctionCall(ctx, part.FunctionCall.Name, part.FunctionCall.Args)
		if err != nil {
			return nil, err
		}

		functionResponses = append(functionResponses, &genai.Part{
			FunctionResponse: &genai.FunctionResponse{
				ID:       part.FunctionCall.ID,
				Name:     part.FunctionCall.Name,
				Response: funcResp,
			},
		})
	}

	return functionResponses, nil
}

func (a *Agent) handleFunctionCall(ctx context.Context, functionName string, args map[string]any) (map[string]any, error) {
	if fd, exists := a.functionsMap[functionName]; exists {
		return fd.FunctionCall(ctx, args)
	}

	return nil, fmt.Errorf("function %s not found", functionName)
}

func (a *Agent) ClearSession(ctx context.Context, sessionID string) {
	if a.sessionRepository != nil {
		if err := a.sessionRepository.Delete(ctx, sessionID); err != nil {
			log.Warnf("agent: failed to delete session %q: %v", sessionID, err)
		}
	}
}

func (a *Agent) GetSession(ctx context.Context, sessionID string) ([]model.Content, error) {
	if a.sessionRepository == nil {
		return []model.Content{}, nil
	}

	stored, err := a.sessionRepository.Load(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("GetSession: %w", err)
	}

	if stored == nil {
		return []model.Content{}, nil
	}

	return stored, nil
}

// parseContents converts a slice of genai.Content into []model.Content for the API response.
func parseContents(contents []*genai.Content) ([]model.Content, error) {
	parsed := make([]model.Content, 0, len(contents))
	for _, c := range contents {
		parts, err := parseParts(c.Parts)
		if err != nil {
			return nil, err
		}
		parsed = append(parsed, model.Content{Parts: parts, Role: c.Role})
	}
	return parsed, nil
}

func parseParts(parts []*genai.Part) ([]model.Part, error) {
	parsed := make([]model.Part, 0, len(parts))
	for _, p := range parts {
		switch {
		case p.FunctionCall != nil:
			parsed = append(parsed, model.Part{
				FunctionCall: &model.FunctionCall{
					ID:   p.FunctionCall.ID,
					Name: p.FunctionCall.Name,
					Args: p.FunctionCall.Args,
				},
			})
		case p.FunctionResponse != nil:
			parsed = append(parsed, model.Part{
				FunctionResponse: &model.FunctionResponse{
					ID:       p.FunctionResponse.ID,
					Name:     p.FunctionResponse.Name,
					Response: p.FunctionResponse.Response,
				},
			})
		default:
			parsed = append(parsed, model.Part{Text: p.Text})
		}
	}
	return parsed, nil
}

// toModelContents converts genai history to []model.Content for persistence.
func toModelContents(contents []*genai.Content) []model.Content {
	result := make([]model.Content, 0, len(contents))
	for _, c := range contents {
		mc := model.Content{Role: c.Role, Parts: make([]model.Part, 0, len(c.Parts))}
		for _, p := range c.Parts {
			mp := model.Part{Text: p.Text}
			if p.FunctionCall != nil {
				mp.FunctionCall = &model.FunctionCall{
					ID:   p.FunctionCall.ID,
					Name: p.FunctionCall.Name,
					Args: p.FunctionCall.Args,
				}
			}
			if p.FunctionResponse != nil {
				mp.FunctionResponse = &model.FunctionResponse{
					ID:       p.FunctionResponse.ID,
					Name:     p.FunctionResponse.Name,
					Response: p.FunctionResponse.Response,
				}
			}
			mc.Parts = append(mc.Parts, mp)
		}
		result = append(result, mc)
	}
	return result
}

// toGenAIContents converts []model.Content from persistence back to genai history.
func toGenAIContents(contents []model.Content) []*genai.Content {
	result := make([]*genai.Content, 0, len(contents))
	for _, c := range contents {
		gc := &genai.Content{Role: c.Role, Parts: make([]*genai.Part, 0, len(c.Parts))}
		for _, p := range c.Parts {
			gp := &genai.Part{Text: p.Text}
			if p.FunctionCall != nil {
				gp.FunctionCall = &genai.FunctionCall{
					ID:   p.FunctionCall.ID,
					Name: p.FunctionCall.Name,
					Args: p.FunctionCall.Args,
				}
			}
			if p.FunctionResponse != nil {
				gp.FunctionResponse = &genai.FunctionResponse{
					ID:       p.FunctionResponse.ID,
					Name:     p.FunctionResponse.Name,
					Response: p.FunctionResponse.Response,
				}
			}
			gc.Parts = append(gc.Parts, gp)
		}
		result = append(result, gc)
	}
	return result
}
