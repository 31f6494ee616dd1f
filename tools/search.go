package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// SearchConfig carries the Tavily credentials and endpoint.
type SearchConfig struct {
	APIKey string
	APIURL string
}

type tavilyRequest struct {
	Query         string `json:"query"`
	IncludeAnswer bool   `json:"include_answer"`
	MaxResults    int    `json:"max_results"`
}

type tavilyResponse struct {
	Answer  string `json:"answer"`
	Results []struct {
		Title   string `json:"title"`
		URL     string `json:"url"`
		Content string `json:"content"`
	} `json:"results"`
}

// RegisterSearchTool registers web_search backed by the Tavily search API.
func (r *Registry) RegisterSearchTool(cfg SearchConfig, httpClient *http.Client) {
	r.logger.Info().Msg("Registering web search tool in registry")

	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}

	r.Register("web_search", func(ctx context.Context, sessionID string, args json.RawMessage) (any, error) {
		var payload struct {
			Query string `json:"query"`
		}
		if err := json.Unmarshal(args, &payload); err != nil {
			return nil, fmt.Errorf("failed to unmarshal arguments: %w", err)
		}
		query := strings.TrimSpace(payload.Query)
		if query == "" {
			return nil, fmt.Errorf("query cannot be empty")
		}

		if cfg.APIKey == "" {
			return nil, fmt.Errorf("web search is not configured: missing Tavily API key")
		}

		body, err := json.Marshal(tavilyRequest{
			Query:         query,
			IncludeAnswer: true,
			MaxResults:    5,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to marshal search request: %w", err)
		}

		url := strings.TrimRight(cfg.APIURL, "/") + "/search"
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("failed to build search request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+cfg.APIKey)

		resp, err := httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("search request failed: %w", err)
		}
		defer resp.Body.Close()

		respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxOutputBytes))
		if err != nil {
			return nil, fmt.Errorf("failed to read search response: %w", err)
		}
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("search API returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
		}

		var result tavilyResponse
		if err := json.Unmarshal(respBody, &result); err != nil {
			return nil, fmt.Errorf("failed to parse search response: %w", err)
		}

		r.logger.Debug().Str("sessionID", sessionID).Str("query", query).
			Int("results", len(result.Results)).Msg("Web search completed")
		return map[string]any{
			"query":   query,
			"results": formatSearchResults(&result),
		}, nil
	})
}

// formatSearchResults renders the answer plus the top three results as plain
// text for the model.
func formatSearchResults(resp *tavilyResponse) string {
	var b strings.Builder

	if resp.Answer != "" {
		b.WriteString("Answer: ")
		b.WriteString(resp.Answer)
		b.WriteString("\n\n")
	}

	limit := len(resp.Results)
	if limit > 3 {
		limit = 3
	}
	for i := 0; i < limit; i++ {
		res := resp.Results[i]
		fmt.Fprintf(&b, "%d. %s\n%s\nSource: %s\n\n", i+1, res.Title, res.Content, res.URL)
	}

	if b.Len() == 0 {
		return "No results found."
	}
	return strings.TrimSpace(b.String())
}
