// Package hub is the HTTP client for the remote memory hub, the authority
// that local engrams eventually converge with. Every call carries a bounded
// timeout; callers are expected to degrade to the local store when the hub
// is unreachable.
package hub

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rs/zerolog"
)

// DefaultTimeout bounds every hub round trip unless configured otherwise.
const DefaultTimeout = 10 * time.Second

// Engram is the hub wire representation of a memory unit. The hub calls the
// body field "digest".
type Engram struct {
	ID               int64   `json:"id,omitempty"`
	AgentID          string  `json:"agent_id,omitempty"`
	Type             string  `json:"type"`
	Digest           string  `json:"digest"`
	Importance       int     `json:"importance"`
	EmotionalValence float64 `json:"emotional_valence"`
	Project          string  `json:"project,omitempty"`
	CreatedAt        string  `json:"created_at,omitempty"`
}

// RetrieveParams are the query parameters for a hub retrieve call.
type RetrieveParams struct {
	Query         string
	Project       string
	MinImportance int
	Limit         int
}

// Client talks to the hub over HTTP with bearer token auth.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	logger     zerolog.Logger
}

// NewClient creates a hub client. A zero timeout falls back to DefaultTimeout.
func NewClient(baseURL, token string, timeout time.Duration, logger zerolog.Logger) (*Client, error) {
	if baseURL == "" {
		return nil, errors.New("hub base URL is required")
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("invalid hub URL: %w", err)
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		baseURL:    baseURL,
		token:      token,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger.With().Str("component", "hub_client").Logger(),
	}, nil
}

// Upload pushes one engram to the hub and returns the hub-assigned id.
func (c *Client) Upload(ctx context.Context, e Engram) (int64, error) {
	body, err := json.Marshal(e)
	if err != nil {
		return 0, fmt.Errorf("marshal engram: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/engrams/upload", bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("build upload request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("upload engram: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck // no remedy for body close error

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return 0, fmt.Errorf("hub upload returned status %d", resp.StatusCode)
	}

	var uploaded struct {
		ID int64 `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&uploaded); err != nil {
		return 0, fmt.Errorf("decode upload response: %w", err)
	}
	if uploaded.ID == 0 {
		return 0, errors.New("hub upload response missing id")
	}

	c.logger.Debug().
		Int64("hub_id", uploaded.ID).
		Str("type", e.Type).
		Msg("Engram uploaded to hub")
	return uploaded.ID, nil
}

// Retrieve fetches engrams from the hub.
func (c *Client) Retrieve(ctx context.Context, p RetrieveParams) ([]Engram, error) {
	limit := p.Limit
	if limit <= 0 {
		limit = 20
	}

	params := url.Values{}
	params.Set("limit", strconv.Itoa(limit))
	params.Set("min_importance", strconv.Itoa(p.MinImportance))
	if p.Query != "" {
		params.Set("query", p.Query)
	}
	if p.Project != "" {
		params.Set("project", p.Project)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/engrams/retrieve?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("build retrieve request: %w", err)
	}
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("retrieve engrams: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck // no remedy for body close error

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("hub retrieve returned status %d", resp.StatusCode)
	}

	var retrieved struct {
		Count   int      `json:"count"`
		Engrams []Engram `json:"engrams"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&retrieved); err != nil {
		return nil, fmt.Errorf("decode retrieve response: %w", err)
	}

	c.logger.Debug().
		Int("count", len(retrieved.Engrams)).
		Str("query", p.Query).
		Msg("Engrams retrieved from hub")
	return retrieved.Engrams, nil
}

// Stats returns the hub-side memory statistics for an agent.
func (c *Client) Stats(ctx context.Context, agentID string) (map[string]interface{}, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/agents/"+url.PathEscape(agentID)+"/stats", nil)
	if err != nil {
		return nil, fmt.Errorf("build stats request: %w", err)
	}
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch hub stats: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck // no remedy for body close error

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("hub stats returned status %d", resp.StatusCode)
	}

	var stats map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		return nil, fmt.Errorf("decode stats response: %w", err)
	}
	return stats, nil
}

func (c *Client) authorize(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}
