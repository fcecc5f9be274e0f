package llm

import (
	"commercebot/internal/entities"
	"commercebot/internal/interfaces"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
)

// OpenAIClient speaks the chat completions protocol. DeepSeek and Grok
// expose the same protocol, so one client type serves all three families.
type OpenAIClient struct {
	name    string
	baseURL string
	client  openai.Client
}

func NewOpenAIClient(apiKey string, opts ...Option) (*OpenAIClient, error) {
	return newOpenAICompatible("openai", "https://api.openai.com/v1", apiKey, opts)
}

func NewDeepSeekClient(apiKey string, opts ...Option) (*OpenAIClient, error) {
	return newOpenAICompatible("deepseek", "https://api.deepseek.com/v1", apiKey, opts)
}

func NewGrokClient(apiKey string, opts ...Option) (*OpenAIClient, error) {
	return newOpenAICompatible("grok", "https://api.x.ai/v1", apiKey, opts)
}

func newOpenAICompatible(name, defaultBase, apiKey string, opts []Option) (*OpenAIClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("llm: %s api key must not be empty", name)
	}
	o := buildOptions(defaultBase, opts)
	return &OpenAIClient{
		name:    name,
		baseURL: o.baseURL,
		client: openai.NewClient(
			option.WithAPIKey(apiKey),
			option.WithBaseURL(o.baseURL+"/"),
			option.WithHTTPClient(o.httpClient),
			option.WithMaxRetries(0),
		),
	}, nil
}

func (c *OpenAIClient) buildParams(req interfaces.StreamRequest) (openai.ChatCompletionNewParams, error) {
	params := openai.ChatCompletionNewParams{Model: openai.ChatModel(req.Model)}
	if req.System != "" {
		params.Messages = append(params.Messages, openai.SystemMessage(req.System))
	}
	for _, m := range req.Messages {
		switch m.Role {
		case entities.RoleAssistant:
			params.Messages = append(params.Messages, openai.AssistantMessage(m.Content))
		case entities.RoleSystem:
			params.Messages = append(params.Messages, openai.SystemMessage(m.Content))
		default:
			params.Messages = append(params.Messages, openai.UserMessage(m.Content))
		}
	}
	if req.UserTag != "" {
		params.User = openai.String(req.UserTag)
	}
	if req.ReasoningOnly {
		if req.MaxTokens > 0 {
			params.MaxCompletionTokens = openai.Int(int64(req.MaxTokens))
		}
	} else {
		if req.MaxTokens > 0 {
			params.MaxTokens = openai.Int(int64(req.MaxTokens))
		}
		params.Temperature = openai.Float(req.Temperature)
	}
	for _, t := range req.Tools {
		var schema shared.FunctionParameters
		if len(t.Parameters) > 0 {
			if err := json.Unmarshal(t.Parameters, &schema); err != nil {
				return params, fmt.Errorf("llm: tool %s schema: %w", t.Name, err)
			}
		}
		params.Tools = append(params.Tools, openai.ChatCompletionToolParam{
			Function: shared.FunctionDefinitionParam{
				Name:        t.Name,
				Description: openai.String(t.Description),
				Parameters:  schema,
			},
		})
	}
	return params, nil
}

// reasoningContent reads the DeepSeek-style reasoning field, which the
// typed chunk does not carry.
func reasoningContent(rawDelta string) string {
	if rawDelta == "" {
		return ""
	}
	var extra struct {
		ReasoningContent string `json:"reasoning_content"`
	}
	if err := json.Unmarshal([]byte(rawDelta), &extra); err != nil {
		return ""
	}
	return extra.ReasoningContent
}

func (c *OpenAIClient) streamError(ctx context.Context, err error) error {
	var apiErr *openai.Error
	switch {
	case errors.As(err, &apiErr):
		body := apiErr.Message
		if body == "" {
			body = apiErr.Error()
		}
		return &HTTPStatusError{StatusCode: apiErr.StatusCode, URL: c.baseURL + "/chat/completions", Body: body}
	case ctx.Err() != nil:
		return fmt.Errorf("llm: %s stream: %w", c.name, err)
	default:
		return &StreamError{Provider: c.name, Message: err.Error()}
	}
}

// Stream ends with DeltaEnd only when a choice reported a finish reason.
// A body that closes before that is a truncated reply.
func (c *OpenAIClient) Stream(ctx context.Context, req interfaces.StreamRequest) iter.Seq2[entities.Delta, error] {
	return func(yield func(entities.Delta, error) bool) {
		params, err := c.buildParams(req)
		if err != nil {
			yield(entities.Delta{}, err)
			return
		}
		stream := c.client.Chat.Completions.NewStreaming(ctx, params)
		defer stream.Close()

		var (
			acc      openai.ChatCompletionAccumulator
			finished bool
		)
		for stream.Next() {
			chunk := stream.Current()
			acc.AddChunk(chunk)
			for _, choice := range chunk.Choices {
				if text := reasoningContent(choice.Delta.RawJSON()); text != "" {
					if !yield(entities.Delta{Kind: entities.DeltaReasoning, Text: text}, nil) {
						return
					}
				}
				if choice.Delta.Content != "" {
					if !yield(entities.Delta{Kind: entities.DeltaAnswer, Text: choice.Delta.Content}, nil) {
						return
					}
				}
				if choice.FinishReason != "" {
					finished = true
				}
			}
		}
		if err := stream.Err(); err != nil {
			yield(entities.Delta{}, c.streamError(ctx, err))
			return
		}
		if !finished {
			yield(entities.Delta{}, truncated(c.name))
			return
		}

		if len(acc.Choices) > 0 {
			for _, tc := range acc.Choices[0].Message.ToolCalls {
				if tc.Function.Name == "" {
					yield(entities.Delta{}, errors.New("llm: tool call without a function name"))
					return
				}
				args := tc.Function.Arguments
				if args == "" {
					args = "{}"
				}
				call := &entities.ToolCall{ID: tc.ID, Name: tc.Function.Name, Arguments: json.RawMessage(args)}
				if !yield(entities.Delta{Kind: entities.DeltaToolCall, ToolCall: call}, nil) {
					return
				}
			}
		}
		yield(entities.Delta{Kind: entities.DeltaEnd}, nil)
	}
}
