// package openai implements ai.Generator with the OpenAI chat completion API.
package openai

import (
	"context"
	"fmt"

	"github.com/nawresmhed/guidezella/pkg/ai"
	"github.com/nawresmhed/guidezella/pkg/conversation"
	"github.com/nawresmhed/guidezella/pkg/session"
	"github.com/nawresmhed/guidezella/pkg/tools"
	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/packages/param"
	"github.com/openai/openai-go/v3/shared"
)

type Generator struct {
	client openai.ChatCompletionService
	model  string
	policy ai.CallPolicy
}

func New(model string, policy ai.CallPolicy, opts ...option.RequestOption) *Generator {
	return &Generator{
		client: openai.NewChatCompletionService(opts...),
		model:  model,
		policy: policy,
	}
}

func convertToolDef(d tools.Definition) (openai.ChatCompletionToolUnionParam, error) {
	parameters, err := d.ParametersMap()
	if err != nil {
		return openai.ChatCompletionToolUnionParam{}, err
	}
	fn := shared.FunctionDefinitionParam{
		Name:       d.Name,
		Parameters: parameters,
	}
	if d.Description != "" {
		fn.Description = param.NewOpt(d.Description)
	}
	return openai.ChatCompletionToolUnionParam{
		OfFunction: &openai.ChatCompletionFunctionToolParam{
			Function: fn,
			Type:     "function",
		},
	}, nil
}

func turnToMessage(t conversation.Turn) (openai.ChatCompletionMessageParamUnion, error) {
	switch t.Role {
	case conversation.RoleUser:
		return openai.UserMessage(t.Text), nil
	case conversation.RoleAssistant:
		msg := &openai.ChatCompletionAssistantMessageParam{}
		if t.Text != "" {
			msg.Content.OfString = param.NewOpt(t.Text)
		}
		if c := t.Call; c != nil {
			args, err := c.ArgsJSON()
			if err != nil {
				return openai.ChatCompletionMessageParamUnion{}, err
			}
			msg.ToolCalls = []openai.ChatCompletionMessageToolCallUnionParam{{
				OfFunction: &openai.ChatCompletionMessageFunctionToolCallParam{
					ID: c.ID,
					Function: openai.ChatCompletionMessageFunctionToolCallFunctionParam{
						Arguments: args,
						Name:      c.Name,
					},
					Type: "function",
				},
			}}
		}
		return openai.ChatCompletionMessageParamUnion{OfAssistant: msg}, nil
	case conversation.RoleTool:
		return openai.ToolMessage(t.Result.Content, t.Result.CallID), nil
	}
	return openai.ChatCompletionMessageParamUnion{}, fmt.Errorf("%w: role %q", conversation.ErrMalformedTurn, t.Role)
}

func (g *Generator) params(req ai.Request) (openai.ChatCompletionNewParams, error) {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Transcript)+1)
	if req.SystemPrompt != "" {
		messages = append(messages, openai.SystemMessage(req.SystemPrompt))
	}
	for i, t := range req.Transcript {
		msg, err := turnToMessage(t)
		if err != nil {
			return openai.ChatCompletionNewParams{}, fmt.Errorf("turn %d: %w", i, err)
		}
		messages = append(messages, msg)
	}
	params := openai.ChatCompletionNewParams{
		Messages: messages,
		Model:    g.model,
	}
	for _, d := range req.Tools {
		toolParam, err := convertToolDef(d)
		if err != nil {
			return openai.ChatCompletionNewParams{}, err
		}
		params.Tools = append(params.Tools, toolParam)
	}
	// parallel_tool_calls is rejected by the API when no tools are sent.
	if len(params.Tools) > 0 {
		params.ParallelToolCalls = openai.Bool(false)
	}
	return params, nil
}

// Generate implements ai.Generator.
func (g *Generator) Generate(ctx context.Context, req ai.Request) (conversation.Turn, error) {
	logger := session.Logger(ctx, "openai")
	params, err := g.params(req)
	if err != nil {
		return conversation.Turn{}, err
	}
	logger.Debug("sending", "model", g.model, "messages", len(params.Messages), "tools", len(params.Tools))
	resp, err := g.client.New(ctx, params)
	if err != nil {
		return conversation.Turn{}, err
	}
	if len(resp.Choices) == 0 {
		return conversation.Turn{}, ai.ErrNoCandidates
	}
	msg := resp.Choices[0].Message
	logger.Debug("received", "finish_reason", resp.Choices[0].FinishReason, "content", msg.Content, "tool_calls", len(msg.ToolCalls))

	var calls []conversation.ToolCall
	for _, tc := range msg.ToolCalls {
		if tc.Type != "" && tc.Type != "function" {
			logger.Warn("ignoring tool call", "type", tc.Type, "id", tc.ID)
			continue
		}
		args, err := conversation.ParseArgs(tc.Function.Arguments)
		if err != nil {
			return conversation.Turn{}, fmt.Errorf("tool call %s: %w", tc.Function.Name, err)
		}
		calls = append(calls, conversation.ToolCall{
			ID:   tc.ID,
			Name: tc.Function.Name,
			Args: args,
		})
	}
	call, err := ai.SingleCall(calls, g.policy)
	if err != nil {
		return conversation.Turn{}, err
	}
	text := msg.Content
	if text == "" && call == nil {
		text = msg.Refusal
	}
	return conversation.AssistantTurn(text, call), nil
}
