package infrastructure

import (
	"bytes"
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

// RetrievalClient queries the semantic chunk search of the knowledge store.
type RetrievalClient struct {
	baseURL    string
	apiKey     string
	pageSize   int
	httpClient *http.Client
}

var _ interfaces.Retriever = (*RetrievalClient)(nil)

func NewRetrievalClient(baseURL, apiKey string, pageSize int) (*RetrievalClient, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, errors.New("retrieval: base url must not be empty")
	}
	if pageSize <= 0 {
		pageSize = 5
	}
	return &RetrievalClient{
		baseURL:    baseURL,
		apiKey:     apiKey,
		pageSize:   pageSize,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}, nil
}

type searchRequest struct {
	Query      string `json:"query"`
	SearchType string `json:"search_type"`
	PageSize   int    `json:"page_size"`
}

type searchResponse struct {
	Chunks []struct {
		Chunk struct {
			ChunkHTML string `json:"chunk_html"`
		} `json:"chunk"`
	} `json:"chunks"`
}

// Search returns the matching snippets in ranking order.
func (c *RetrievalClient) Search(ctx context.Context, datasetID, query string) ([]string, error) {
	payload, err := json.Marshal(searchRequest{Query: query, SearchType: "semantic", PageSize: c.pageSize})
	if err != nil {
		return nil, err
	}
	url := c.baseURL + "/api/chunk/search"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("retrieval: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", c.apiKey)
	}
	if datasetID != "" {
		req.Header.Set("TR-Dataset", datasetID)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("retrieval: search: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, fmt.Errorf("retrieval: unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var out searchResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 4<<20)).Decode(&out); err != nil {
		return nil, fmt.Errorf("retrieval: decode response: %w", err)
	}
	snippets := make([]string, 0, len(out.Chunks))
	for _, ch := range out.Chunks {
		snippets = append(snippets, ch.Chunk.ChunkHTML)
	}
	return snippets, nil
}
