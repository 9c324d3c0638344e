package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// HTTPFetcher pulls unread inbound email from a JSON endpoint exposed by the
// mail bridge. The endpoint returns `{"messages": [...]}` and marks returned
// messages as read on a successful 200 response.
type HTTPFetcher struct {
	url    string
	token  string
	client *http.Client
}

// NewHTTPFetcher creates a fetcher for the given inbox endpoint.
func NewHTTPFetcher(url, token string) *HTTPFetcher {
	return &HTTPFetcher{
		url:    url,
		token:  token,
		client: &http.Client{Timeout: 30 * time.Second},
	}
}

type inboxResponse struct {
	Messages []InboundEmail `json:"messages"`
}

// Fetch retrieves the unread messages.
func (f *HTTPFetcher) Fetch(ctx context.Context) ([]InboundEmail, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.url, nil)
	if err != nil {
		return nil, fmt.Errorf("inbox request: %w", err)
	}
	if f.token != "" {
		req.Header.Set("Authorization", "Bearer "+f.token)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("inbox fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("inbox fetch: unexpected status %d", resp.StatusCode)
	}

	var parsed inboxResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("inbox decode: %w", err)
	}
	return parsed.Messages, nil
}
