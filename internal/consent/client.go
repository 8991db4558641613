package consent

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/datalegis/lgpd-sentinel/internal/config"
)

// Client talks to the consent service over HTTP. It implements Source.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a consent service client.
func NewClient(cfg config.ConsentConfig) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Client{
		baseURL: cfg.BaseURL,
		http:    &http.Client{Timeout: timeout},
	}
}

// Records fetches every consent event for a data subject.
func (c *Client) Records(ctx context.Context, subjectID string) ([]Record, error) {
	endpoint := fmt.Sprintf("%s/v1/subjects/%s/consents", c.baseURL, url.PathEscape(subjectID))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build consent request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("consent service unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		// Unknown subject: no records, not an error.
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("consent service returned %d: %s", resp.StatusCode, string(body))
	}

	var payload struct {
		Records []Record `json:"records"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("failed to decode consent response: %w", err)
	}
	return payload.Records, nil
}
