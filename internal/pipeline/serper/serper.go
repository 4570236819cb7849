// Package serper is a minimal client for the serper.dev Google search API.
package serper

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/acem-systems/agentd/internal/retry"
)

const defaultEndpoint = "https://google.serper.dev/search"

// Result is one organic search hit.
type Result struct {
	Title   string `json:"title"`
	Link    string `json:"link"`
	Snippet string `json:"snippet"`
}

// Response is the subset of the search response the pipeline consumes.
type Response struct {
	Organic        []Result       `json:"organic"`
	KnowledgeGraph map[string]any `json:"knowledgeGraph"`
	AnswerBox      map[string]any `json:"answerBox"`
}

// Client calls the search API. The zero value is not usable; construct
// with New.
type Client struct {
	apiKey   string
	endpoint string
	http     *http.Client
}

// New creates a client. An empty endpoint selects the public API.
func New(apiKey, endpoint string) *Client {
	if endpoint == "" {
		endpoint = defaultEndpoint
	}
	return &Client{
		apiKey:   apiKey,
		endpoint: endpoint,
		http:     &http.Client{Timeout: 10 * time.Second},
	}
}

// Configured reports whether an API key is present.
func (c *Client) Configured() bool { return c != nil && c.apiKey != "" }

// Search runs one query and returns up to num results.
func (c *Client) Search(ctx context.Context, query string, num int) (*Response, error) {
	if !c.Configured() {
		return nil, fmt.Errorf("serper: api key not configured")
	}

	payload, err := json.Marshal(map[string]any{"q": query, "num": num})
	if err != nil {
		return nil, fmt.Errorf("serper: encode request: %w", err)
	}

	var out Response
	err = retry.Do(ctx, 2, 3*time.Second, nil, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
		if err != nil {
			return retry.WrapPermanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-API-KEY", c.apiKey)

		resp, err := c.http.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if err != nil {
			return err
		}
		if resp.StatusCode != http.StatusOK {
			err := fmt.Errorf("serper: status %d", resp.StatusCode)
			if resp.StatusCode >= 400 && resp.StatusCode < 500 {
				return retry.WrapPermanent(err)
			}
			return err
		}
		if err := json.Unmarshal(body, &out); err != nil {
			return retry.WrapPermanent(fmt.Errorf("serper: decode response: %w", err))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}
