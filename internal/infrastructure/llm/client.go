// Package llm holds the streaming chat adapters, one per provider family.
package llm

import (
	"bufio"
	"bytes"
	"commercebot/internal/entities"
	"commercebot/internal/interfaces"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const maxErrorBody = 4 << 10

// HTTPStatusError captures a non-2xx provider response.
type HTTPStatusError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("llm: unexpected status %d from %s: %s", e.StatusCode, e.URL, e.Body)
}

func (e *HTTPStatusError) HTTPStatusCode() int {
	return e.StatusCode
}

// StreamError is an error event reported inside an otherwise healthy stream.
type StreamError struct {
	Provider string
	Message  string
}

func (e *StreamError) Error() string {
	return fmt.Sprintf("llm: %s stream error: %s", e.Provider, e.Message)
}

// truncated reports a body that closed before the provider's completion marker.
func truncated(provider string) error {
	return &StreamError{Provider: provider, Message: "stream ended before completion"}
}

type options struct {
	baseURL    string
	httpClient *http.Client
}

type Option func(*options)

func WithBaseURL(baseURL string) Option {
	return func(o *options) {
		if u := strings.TrimSpace(baseURL); u != "" {
			o.baseURL = strings.TrimRight(u, "/")
		}
	}
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(o *options) {
		if httpClient != nil {
			o.httpClient = httpClient
		}
	}
}

func buildOptions(defaultBase string, opts []Option) options {
	o := options{
		baseURL:    defaultBase,
		httpClient: &http.Client{Timeout: 120 * time.Second},
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// postStream sends a JSON body and returns the open response for a 2xx
// status. The caller closes the body.
func postStream(ctx context.Context, client *http.Client, url string, body any, headers map[string]string) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("llm: encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("llm: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("llm: request %s: %w", url, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &HTTPStatusError{StatusCode: resp.StatusCode, URL: url, Body: strings.TrimSpace(string(msg))}
	}
	return resp, nil
}

var (
	errStreamDone      = errors.New("llm: stream done")
	errConsumerStopped = errors.New("llm: consumer stopped")
)

// readSSE calls fn for every server-sent event in r. Returning errStreamDone
// from fn ends the read cleanly.
func readSSE(r io.Reader, fn func(event, data string) error) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64<<10), 4<<20)

	var (
		event string
		data  strings.Builder
	)
	flush := func() error {
		if data.Len() == 0 {
			event = ""
			return nil
		}
		err := fn(event, data.String())
		event = ""
		data.Reset()
		return err
	}

	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			if err := flush(); err != nil {
				return err
			}
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue
		}
		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		switch field {
		case "event":
			event = value
		case "data":
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(value)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("llm: read stream: %w", err)
	}
	return flush()
}

// finish turns the outcome of readSSE into the tail of a delta sequence.
// It reports false when the consumer has stopped or an error was yielded.
func finish(err error, yield func(entities.Delta, error) bool) bool {
	switch {
	case errors.Is(err, errConsumerStopped):
		return false
	case err != nil && !errors.Is(err, errStreamDone):
		yield(entities.Delta{}, err)
		return false
	}
	return true
}

// emit yields one delta and converts a stopped consumer into an error that
// unwinds readSSE.
func emit(yield func(entities.Delta, error) bool, d entities.Delta) error {
	if !yield(d, nil) {
		return errConsumerStopped
	}
	return nil
}

var _ interfaces.ChatProvider = (*OpenAIClient)(nil)
var _ interfaces.ChatProvider = (*AnthropicClient)(nil)
var _ interfaces.ChatProvider = (*GeminiClient)(nil)
