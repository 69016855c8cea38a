package hubspot

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// ErrNotConfigured is returned when no API key is set.
var ErrNotConfigured = errors.New("HUBSPOT_API_KEY not configured")

// Client is a minimal HubSpot CRM v3 API client.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// Object is a generic CRM object as returned by the v3 objects API.
type Object struct {
	ID         string            `json:"id"`
	Properties map[string]string `json:"properties"`
	CreatedAt  time.Time         `json:"createdAt"`
	UpdatedAt  time.Time         `json:"updatedAt"`
}

type listResponse struct {
	Results []Object `json:"results"`
}

// UpdateObject issues a PATCH for a single object's properties.
func (c *Client) UpdateObject(ctx context.Context, objectType, externalID string, properties map[string]string) error {
	payload, err := json.Marshal(map[string]any{"properties": properties})
	if err != nil {
		return fmt.Errorf("encode properties: %w", err)
	}
	endpoint := fmt.Sprintf("/crm/v3/objects/%s/%s", objectType, externalID)
	if _, err := c.do(ctx, http.MethodPatch, endpoint, payload); err != nil {
		return err
	}
	return nil
}

// ListObjects fetches up to limit objects with the requested properties.
func (c *Client) ListObjects(ctx context.Context, objectType string, limit int, properties []string) ([]Object, error) {
	endpoint := fmt.Sprintf("/crm/v3/objects/%s?limit=%s&properties=%s",
		objectType, strconv.Itoa(limit), url.QueryEscape(strings.Join(properties, ",")))
	body, err := c.do(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	var decoded listResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, fmt.Errorf("decode %s list: %w", objectType, err)
	}
	return decoded.Results, nil
}

func (c *Client) do(ctx context.Context, method, endpoint string, payload []byte) ([]byte, error) {
	if c.apiKey == "" {
		return nil, ErrNotConfigured
	}

	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, reader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("hubspot request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read hubspot response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("hubspot api error (%d): %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return body, nil
}
