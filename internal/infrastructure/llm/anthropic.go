package llm

import (
	"commercebot/internal/entities"
	"commercebot/internal/interfaces"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
)

const anthropicVersion = "2023-06-01"

type AnthropicClient struct {
	apiKey string
	opts   options
}

func NewAnthropicClient(apiKey string, opts ...Option) (*AnthropicClient, error) {
	if apiKey == "" {
		return nil, errors.New("llm: anthropic api key must not be empty")
	}
	return &AnthropicClient{apiKey: apiKey, opts: buildOptions("https://api.anthropic.com", opts)}, nil
}

type anthropicRequest struct {
	Model       string             `json:"model"`
	System      string             `json:"system,omitempty"`
	Messages    []anthropicMessage `json:"messages"`
	MaxTokens   int                `json:"max_tokens"`
	Temperature *float64           `json:"temperature,omitempty"`
	Stream      bool               `json:"stream"`
	Metadata    *struct {
		UserID string `json:"user_id"`
	} `json:"metadata,omitempty"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicEvent struct {
	Type  string `json:"type"`
	Delta struct {
		Type     string `json:"type"`
		Text     string `json:"text"`
		Thinking string `json:"thinking"`
	} `json:"delta"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

func (c *AnthropicClient) messagesURL() string {
	return c.opts.baseURL + "/v1/messages"
}

func (c *AnthropicClient) buildRequest(req interfaces.StreamRequest) anthropicRequest {
	body := anthropicRequest{
		Model:     req.Model,
		System:    req.System,
		MaxTokens: req.MaxTokens,
		Stream:    true,
	}
	// the messages API allows at most 1.0
	temp := min(req.Temperature, 1.0)
	body.Temperature = &temp
	for _, m := range req.Messages {
		if m.Role == entities.RoleSystem {
			continue
		}
		body.Messages = append(body.Messages, anthropicMessage{Role: string(m.Role), Content: m.Content})
	}
	if req.UserTag != "" {
		body.Metadata = &struct {
			UserID string `json:"user_id"`
		}{UserID: req.UserTag}
	}
	return body
}

func (c *AnthropicClient) Stream(ctx context.Context, req interfaces.StreamRequest) iter.Seq2[entities.Delta, error] {
	return func(yield func(entities.Delta, error) bool) {
		resp, err := postStream(ctx, c.opts.httpClient, c.messagesURL(), c.buildRequest(req), map[string]string{
			"x-api-key":         c.apiKey,
			"anthropic-version": anthropicVersion,
		})
		if err != nil {
			yield(entities.Delta{}, err)
			return
		}
		defer resp.Body.Close()

		err = readSSE(resp.Body, func(event, data string) error {
			var ev anthropicEvent
			if err := json.Unmarshal([]byte(data), &ev); err != nil {
				return fmt.Errorf("llm: decode anthropic event: %w", err)
			}
			if ev.Type == "" {
				ev.Type = event
			}
			switch ev.Type {
			case "error":
				msg := "unknown error"
				if ev.Error != nil {
					msg = ev.Error.Message
				}
				return &StreamError{Provider: "anthropic", Message: msg}
			case "content_block_delta":
				switch ev.Delta.Type {
				case "text_delta":
					if ev.Delta.Text != "" {
						return emit(yield, entities.Delta{Kind: entities.DeltaAnswer, Text: ev.Delta.Text})
					}
				case "thinking_delta":
					if ev.Delta.Thinking != "" {
						return emit(yield, entities.Delta{Kind: entities.DeltaReasoning, Text: ev.Delta.Thinking})
					}
				}
			case "message_stop":
				return errStreamDone
			}
			return nil
		})
		if err == nil {
			// EOF without message_stop
			err = truncated("anthropic")
		}
		if !finish(err, yield) {
			return
		}
		yield(entities.Delta{Kind: entities.DeltaEnd}, nil)
	}
}
