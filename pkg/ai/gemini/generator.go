package gemini

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/nawresmhed/guidezella/pkg/ai"
	"github.com/nawresmhed/guidezella/pkg/conversation"
	"github.com/nawresmhed/guidezella/pkg/session"
	"github.com/nawresmhed/guidezella/pkg/tools"
	"google.golang.org/genai"
)

// generatedIDPrefix marks call ids made up locally for calls the API
// returned without one. They are not sent back.
const generatedIDPrefix = "gz-"

type Generator struct {
	client *genai.Client
	model  string
	policy ai.CallPolicy
}

func New(ctx context.Context, model string, policy ai.CallPolicy, cc *genai.ClientConfig) (*Generator, error) {
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, err
	}
	return &Generator{
		client: client,
		model:  model,
		policy: policy,
	}, nil
}

func toFunctionDeclaration(d tools.Definition) (*genai.FunctionDeclaration, error) {
	params, err := d.ParametersMap()
	if err != nil {
		return nil, err
	}
	return &genai.FunctionDeclaration{
		Name:                 d.Name,
		Description:          d.Description,
		Behavior:             genai.BehaviorBlocking,
		ParametersJsonSchema: params,
	}, nil
}

func wireID(id string) string {
	if strings.HasPrefix(id, generatedIDPrefix) {
		return ""
	}
	return id
}

// toolResponse wraps the serialized result the way the API expects:
// {"output": ...} on success and {"error": ...} on failure.
func toolResponse(r *conversation.ToolResult) map[string]any {
	var decoded any = r.Content
	if json.Valid([]byte(r.Content)) {
		if err := json.Unmarshal([]byte(r.Content), &decoded); err != nil {
			decoded = r.Content
		}
	}
	if r.IsError {
		if m, ok := decoded.(map[string]any); ok {
			if msg, ok := m["error"]; ok {
				return map[string]any{"error": msg}
			}
		}
		return map[string]any{"error": decoded}
	}
	return map[string]any{"output": decoded}
}

func toContents(transcript []conversation.Turn) ([]*genai.Content, error) {
	names := map[string]string{}
	contents := make([]*genai.Content, 0, len(transcript))
	for i, t := range transcript {
		switch t.Role {
		case conversation.RoleUser:
			contents = append(contents, genai.NewContentFromText(t.Text, genai.RoleUser))
		case conversation.RoleAssistant:
			var parts []*genai.Part
			if t.Text != "" {
				parts = append(parts, genai.NewPartFromText(t.Text))
			}
			if c := t.Call; c != nil {
				names[c.ID] = c.Name
				parts = append(parts, &genai.Part{
					FunctionCall: &genai.FunctionCall{
						ID:   wireID(c.ID),
						Name: c.Name,
						Args: c.Args,
					},
				})
			}
			contents = append(contents, genai.NewContentFromParts(parts, genai.RoleModel))
		case conversation.RoleTool:
			name, ok := names[t.Result.CallID]
			if !ok {
				return nil, fmt.Errorf("turn %d: %w: no call %s", i, conversation.ErrProtocolViolation, t.Result.CallID)
			}
			contents = append(contents, genai.NewContentFromParts([]*genai.Part{{
				FunctionResponse: &genai.FunctionResponse{
					ID:       wireID(t.Result.CallID),
					Name:     name,
					Response: toolResponse(t.Result),
				},
			}}, genai.RoleUser))
		default:
			return nil, fmt.Errorf("turn %d: %w: role %q", i, conversation.ErrMalformedTurn, t.Role)
		}
	}
	return contents, nil
}

// Generate implements ai.Generator.
func (g *Generator) Generate(ctx context.Context, req ai.Request) (conversation.Turn, error) {
	logger := session.Logger(ctx, "gemini")
	contents, err := toContents(req.Transcript)
	if err != nil {
		return conversation.Turn{}, err
	}
	config := &genai.GenerateContentConfig{}
	if req.SystemPrompt != "" {
		config.SystemInstruction = genai.NewContentFromText(req.SystemPrompt, genai.RoleUser)
	}
	if len(req.Tools) > 0 {
		funcs := make([]*genai.FunctionDeclaration, 0, len(req.Tools))
		for _, d := range req.Tools {
			fd, err := toFunctionDeclaration(d)
			if err != nil {
				return conversation.Turn{}, fmt.Errorf("failed to encode request schema for %s: %w", d.Name, err)
			}
			funcs = append(funcs, fd)
		}
		config.Tools = []*genai.Tool{{FunctionDeclarations: funcs}}
		config.ToolConfig = &genai.ToolConfig{
			FunctionCallingConfig: &genai.FunctionCallingConfig{
				Mode: genai.FunctionCallingConfigModeAuto,
			},
		}
	}
	logger.Debug("sending", "model", g.model, "contents", len(contents), "tools", len(req.Tools))
	resp, err := g.client.Models.GenerateContent(ctx, g.model, contents, config)
	if err != nil {
		return conversation.Turn{}, err
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return conversation.Turn{}, ai.ErrNoCandidates
	}

	var text strings.Builder
	var calls []conversation.ToolCall
	for _, part := range resp.Candidates[0].Content.Parts {
		if part.FunctionCall != nil {
			id := part.FunctionCall.ID
			if id == "" {
				id = generatedIDPrefix + uuid.NewString()
			}
			args := part.FunctionCall.Args
			if args == nil {
				args = map[string]any{}
			}
			calls = append(calls, conversation.ToolCall{
				ID:   id,
				Name: part.FunctionCall.Name,
				Args: args,
			})
			continue
		}
		if part.Text != "" && !part.Thought {
			text.WriteString(part.Text)
		}
	}
	logger.Debug("received", "finish_reason", resp.Candidates[0].FinishReason, "tool_calls", len(calls))
	call, err := ai.SingleCall(calls, g.policy)
	if err != nil {
		return conversation.Turn{}, err
	}
	return conversation.AssistantTurn(text.String(), call), nil
}
