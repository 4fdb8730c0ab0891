package llm

import (
	"context"
	"fmt"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const defaultMaxTokens = 512

// AnthropicClient completes requests with the Anthropic Messages API.
type AnthropicClient struct {
	client    anthropic.Client
	model     anthropic.Model
	maxTokens int64
}

// NewAnthropicClient creates a client for model. Extra options are passed to
// the SDK, e.g. option.WithBaseURL in tests.
func NewAnthropicClient(apiKey, model string, timeout time.Duration, opts ...option.RequestOption) *AnthropicClient {
	base := []option.RequestOption{option.WithAPIKey(apiKey)}
	if timeout > 0 {
		base = append(base, option.WithRequestTimeout(timeout))
	}
	return &AnthropicClient{
		client:    anthropic.NewClient(append(base, opts...)...),
		model:     anthropic.Model(model),
		maxTokens: defaultMaxTokens,
	}
}

func (c *AnthropicClient) Complete(ctx context.Context, req Request) (Response, error) {
	messages := make([]anthropic.MessageParam, 0, 2*len(req.Examples)+1)
	for _, ex := range req.Examples {
		messages = append(messages,
			anthropic.NewUserMessage(anthropic.NewTextBlock(ex.User)),
			anthropic.NewAssistantMessage(anthropic.NewTextBlock(ex.Assistant)),
		)
	}
	messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(req.Input)))

	params := anthropic.MessageNewParams{
		Model:     c.model,
		MaxTokens: c.maxTokens,
		Messages:  messages,
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}
	if tool, ok := req.Tool.Get(); ok {
		params.Tools = []anthropic.ToolUnionParam{{
			OfTool: &anthropic.ToolParam{
				Name:        tool.Name,
				Description: anthropic.String(tool.Description),
				InputSchema: anthropic.ToolInputSchemaParam{
					Properties: tool.Properties,
					Required:   tool.Required,
				},
			},
		}}
		params.ToolChoice = anthropic.ToolChoiceUnionParam{
			OfTool: &anthropic.ToolChoiceToolParam{Name: tool.Name},
		}
	}

	msg, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return Response{}, fmt.Errorf("anthropic messages: %w", err)
	}

	var resp Response
	for _, block := range msg.Content {
		switch block.Type {
		case "text":
			resp.Text += block.Text
		case "tool_use":
			if len(resp.ToolInput) == 0 {
				resp.ToolInput = block.Input
			}
		}
	}
	return resp, nil
}
