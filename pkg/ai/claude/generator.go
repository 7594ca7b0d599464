// package claude implements ai.Generator with the Anthropic messages API.
package claude

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/nawresmhed/guidezella/pkg/ai"
	"github.com/nawresmhed/guidezella/pkg/conversation"
	"github.com/nawresmhed/guidezella/pkg/session"
	"github.com/nawresmhed/guidezella/pkg/tools"
)

type Generator struct {
	client    anthropic.Client
	model     anthropic.Model
	maxTokens int64
	policy    ai.CallPolicy
}

func New(model anthropic.Model, maxTokens int64, policy ai.CallPolicy, opts ...option.RequestOption) *Generator {
	return &Generator{
		client:    anthropic.NewClient(opts...),
		model:     model,
		maxTokens: maxTokens,
		policy:    policy,
	}
}

func convertToolDef(d tools.Definition) (anthropic.ToolUnionParam, error) {
	params, err := d.ParametersMap()
	if err != nil {
		return anthropic.ToolUnionParam{}, err
	}
	inputSchema := anthropic.ToolInputSchemaParam{
		Properties: params["properties"],
	}
	if required, ok := params["required"].([]any); ok {
		for _, r := range required {
			if s, ok := r.(string); ok {
				inputSchema.Required = append(inputSchema.Required, s)
			}
		}
	}
	extra := map[string]any{}
	for k, v := range params {
		switch k {
		case "type", "properties", "required":
		default:
			extra[k] = v
		}
	}
	if len(extra) > 0 {
		inputSchema.ExtraFields = extra
	}
	result := anthropic.ToolUnionParamOfTool(inputSchema, d.Name)
	if d.Description != "" {
		result.OfTool.Description = anthropic.String(d.Description)
	}
	return result, nil
}

func toMessages(transcript []conversation.Turn) ([]anthropic.MessageParam, error) {
	messages := make([]anthropic.MessageParam, 0, len(transcript))
	for i, t := range transcript {
		switch t.Role {
		case conversation.RoleUser:
			messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(t.Text)))
		case conversation.RoleAssistant:
			var blocks []anthropic.ContentBlockParamUnion
			if t.Text != "" {
				blocks = append(blocks, anthropic.NewTextBlock(t.Text))
			}
			if c := t.Call; c != nil {
				args := c.Args
				if args == nil {
					args = map[string]any{}
				}
				blocks = append(blocks, anthropic.ContentBlockParamUnion{OfToolUse: &anthropic.ToolUseBlockParam{
					ID:    c.ID,
					Name:  c.Name,
					Input: args,
				}})
			}
			if len(blocks) == 0 {
				continue
			}
			messages = append(messages, anthropic.NewAssistantMessage(blocks...))
		case conversation.RoleTool:
			messages = append(messages, anthropic.NewUserMessage(
				anthropic.NewToolResultBlock(t.Result.CallID, t.Result.Content, t.Result.IsError),
			))
		default:
			return nil, fmt.Errorf("turn %d: %w: role %q", i, conversation.ErrMalformedTurn, t.Role)
		}
	}
	return messages, nil
}

// Generate implements ai.Generator.
func (g *Generator) Generate(ctx context.Context, req ai.Request) (conversation.Turn, error) {
	logger := session.Logger(ctx, "claude")
	messages, err := toMessages(req.Transcript)
	if err != nil {
		return conversation.Turn{}, err
	}
	params := anthropic.MessageNewParams{
		Model:     g.model,
		Messages:  messages,
		MaxTokens: g.maxTokens,
	}
	if req.SystemPrompt != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.SystemPrompt}}
	}
	if len(req.Tools) > 0 {
		for _, d := range req.Tools {
			tp, err := convertToolDef(d)
			if err != nil {
				return conversation.Turn{}, fmt.Errorf("failed to encode request schema for %s: %w", d.Name, err)
			}
			params.Tools = append(params.Tools, tp)
		}
		params.ToolChoice = anthropic.ToolChoiceUnionParam{
			OfAuto: &anthropic.ToolChoiceAutoParam{
				DisableParallelToolUse: anthropic.Bool(true),
			},
		}
	}
	logger.Debug("sending", "model", g.model, "messages", len(messages), "tools", len(params.Tools))
	msg, err := g.client.Messages.New(ctx, params)
	if err != nil {
		return conversation.Turn{}, err
	}
	if len(msg.Content) == 0 && msg.StopReason == "" {
		return conversation.Turn{}, ai.ErrNoCandidates
	}

	var text strings.Builder
	var calls []conversation.ToolCall
	for _, block := range msg.Content {
		switch b := block.AsAny().(type) {
		case anthropic.TextBlock:
			text.WriteString(b.Text)
		case anthropic.ToolUseBlock:
			args, err := conversation.ParseArgs(string(b.Input))
			if err != nil {
				return conversation.Turn{}, fmt.Errorf("tool call %s: %w", b.Name, err)
			}
			calls = append(calls, conversation.ToolCall{
				ID:   b.ID,
				Name: b.Name,
				Args: args,
			})
		}
	}
	logger.Debug("received", "stop_reason", msg.StopReason, "tool_calls", len(calls))
	call, err := ai.SingleCall(calls, g.policy)
	if err != nil {
		return conversation.Turn{}, err
	}
	return conversation.AssistantTurn(text.String(), call), nil
}
