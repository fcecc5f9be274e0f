package llm

import (
	"commercebot/internal/entities"
	"commercebot/internal/interfaces"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"net/url"
)

type GeminiClient struct {
	apiKey string
	opts   options
}

func NewGeminiClient(apiKey string, opts ...Option) (*GeminiClient, error) {
	if apiKey == "" {
		return nil, errors.New("llm: gemini api key must not be empty")
	}
	return &GeminiClient{apiKey: apiKey, opts: buildOptions("https://generativelanguage.googleapis.com/v1beta", opts)}, nil
}

type geminiPart struct {
	Text    string `json:"text,omitempty"`
	Thought bool   `json:"thought,omitempty"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiRequest struct {
	SystemInstruction *geminiContent  `json:"systemInstruction,omitempty"`
	Contents          []geminiContent `json:"contents"`
	GenerationConfig  struct {
		Temperature     float64 `json:"temperature"`
		MaxOutputTokens int     `json:"maxOutputTokens,omitempty"`
	} `json:"generationConfig"`
}

type geminiChunk struct {
	Candidates []struct {
		Content      geminiContent `json:"content"`
		FinishReason string        `json:"finishReason"`
	} `json:"candidates"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (c *GeminiClient) streamURL(model string) string {
	return fmt.Sprintf("%s/models/%s:streamGenerateContent?alt=sse", c.opts.baseURL, url.PathEscape(model))
}

func (c *GeminiClient) buildRequest(req interfaces.StreamRequest) geminiRequest {
	var body geminiRequest
	if req.System != "" {
		body.SystemInstruction = &geminiContent{Parts: []geminiPart{{Text: req.System}}}
	}
	for _, m := range req.Messages {
		role := "user"
		if m.Role == entities.RoleAssistant {
			role = "model"
		}
		body.Contents = append(body.Contents, geminiContent{Role: role, Parts: []geminiPart{{Text: m.Content}}})
	}
	body.GenerationConfig.Temperature = req.Temperature
	body.GenerationConfig.MaxOutputTokens = req.MaxTokens
	return body
}

func (c *GeminiClient) Stream(ctx context.Context, req interfaces.StreamRequest) iter.Seq2[entities.Delta, error] {
	return func(yield func(entities.Delta, error) bool) {
		resp, err := postStream(ctx, c.opts.httpClient, c.streamURL(req.Model), c.buildRequest(req), map[string]string{
			"x-goog-api-key": c.apiKey,
		})
		if err != nil {
			yield(entities.Delta{}, err)
			return
		}
		defer resp.Body.Close()

		finished := false
		err = readSSE(resp.Body, func(_, data string) error {
			var chunk geminiChunk
			if err := json.Unmarshal([]byte(data), &chunk); err != nil {
				return fmt.Errorf("llm: decode gemini chunk: %w", err)
			}
			if chunk.Error != nil {
				return &StreamError{Provider: "gemini", Message: chunk.Error.Message}
			}
			for _, cand := range chunk.Candidates {
				if cand.FinishReason != "" {
					finished = true
				}
				for _, part := range cand.Content.Parts {
					if part.Text == "" {
						continue
					}
					kind := entities.DeltaAnswer
					if part.Thought {
						kind = entities.DeltaReasoning
					}
					if err := emit(yield, entities.Delta{Kind: kind, Text: part.Text}); err != nil {
						return err
					}
				}
			}
			return nil
		})
		if err == nil && !finished {
			err = truncated("gemini")
		}
		if !finish(err, yield) {
			return
		}
		yield(entities.Delta{Kind: entities.DeltaEnd}, nil)
	}
}
