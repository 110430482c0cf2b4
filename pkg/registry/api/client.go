// Package api is the hybrid registry client: a JSON REST transport
// with an optional fallback to the static index client.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"github.com/owlhub/platform/pkg/config"
	"github.com/owlhub/platform/pkg/registry/hub"
	"github.com/owlhub/platform/pkg/registry/index"
	"github.com/owlhub/platform/pkg/registry/manifest"
)

// APIError is a non-2xx response from the registry API, surfaced
// verbatim when the caller explicitly selected api mode.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("registry api: %d: %s", e.StatusCode, e.Body)
}

// PublishRequest is the write payload: the normalized manifest plus
// either a download URL or a content digest.
type PublishRequest struct {
	Manifest    manifest.Manifest `json:"manifest"`
	DownloadURL string            `json:"download_url,omitempty"`
	Digest      string            `json:"digest,omitempty"`
}

// Client reads through the API, the index, or both depending on mode.
type Client struct {
	mode    config.RegistryMode
	baseURL string
	token   string
	http    *http.Client
	hub     *hub.Client
	breaker *gobreaker.CircuitBreaker
}

// NewClient creates a hybrid client. hubClient may be nil in pure api
// mode.
func NewClient(cfg *config.RegistryClientConfig, hubClient *hub.Client) *Client {
	return &Client{
		mode:    cfg.Mode,
		baseURL: strings.TrimRight(cfg.APIBaseURL, "/"),
		token:   cfg.APIToken,
		http:    &http.Client{Timeout: 30 * time.Second},
		hub:     hubClient,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "registry-api",
			Timeout: 30 * time.Second,
		}),
	}
}

// ListSkills returns all visible skills.
func (c *Client) ListSkills(ctx context.Context) ([]index.Entry, error) {
	switch c.mode {
	case config.ModeIndex:
		return c.hub.Search(ctx, hub.SearchOptions{})
	case config.ModeAPI:
		return c.apiList(ctx)
	default:
		entries, err := c.viaBreaker(func() (any, error) { return c.apiList(ctx) })
		if err != nil {
			if _, ok := err.(*APIError); ok {
				return nil, err
			}
			slog.Warn("Registry API unreachable, falling back to index", "error", err)
			return c.hub.Search(ctx, hub.SearchOptions{})
		}
		return entries.([]index.Entry), nil
	}
}

// GetSkill returns the latest visible entry for publisher/name.
func (c *Client) GetSkill(ctx context.Context, publisher, name string) (*index.Entry, error) {
	switch c.mode {
	case config.ModeIndex:
		return c.indexGet(ctx, publisher, name)
	case config.ModeAPI:
		return c.apiGet(ctx, publisher, name)
	default:
		entry, err := c.viaBreaker(func() (any, error) { return c.apiGet(ctx, publisher, name) })
		if err != nil {
			if _, ok := err.(*APIError); ok {
				return nil, err
			}
			slog.Warn("Registry API unreachable, falling back to index", "error", err)
			return c.indexGet(ctx, publisher, name)
		}
		return entry.(*index.Entry), nil
	}
}

// Publish validates and normalizes the manifest, then writes it through
// the API with the bearer token. Writes never use the index.
func (c *Client) Publish(ctx context.Context, req PublishRequest) error {
	normalizeManifest(&req.Manifest)
	if err := manifest.Validate(&req.Manifest); err != nil {
		return err
	}
	if req.DownloadURL == "" && req.Digest == "" {
		return fmt.Errorf("publish %s: download_url or digest is required", req.Manifest.ID())
	}

	body, err := json.Marshal(req)
	if err != nil {
		return err
	}
	_, err = c.call(ctx, http.MethodPost, "/api/v1/skills", body)
	return err
}

func (c *Client) apiList(ctx context.Context) ([]index.Entry, error) {
	data, err := c.call(ctx, http.MethodGet, "/api/v1/skills", nil)
	if err != nil {
		return nil, err
	}
	var entries []index.Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("decode skills: %w", err)
	}
	return entries, nil
}

func (c *Client) apiGet(ctx context.Context, publisher, name string) (*index.Entry, error) {
	data, err := c.call(ctx, http.MethodGet, fmt.Sprintf("/api/v1/skills/%s/%s", publisher, name), nil)
	if err != nil {
		return nil, err
	}
	var entry index.Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("decode skill: %w", err)
	}
	return &entry, nil
}

func (c *Client) indexGet(ctx context.Context, publisher, name string) (*index.Entry, error) {
	entries, err := c.hub.Search(ctx, hub.SearchOptions{Query: name})
	if err != nil {
		return nil, err
	}
	for i := range entries {
		if entries[i].Publisher == publisher && entries[i].Name == name {
			return &entries[i], nil
		}
	}
	return nil, fmt.Errorf("%w: %s/%s", hub.ErrSkillNotFound, publisher, name)
}

// viaBreaker runs an API call through the circuit breaker so repeated
// transport failures trip straight to the index fallback.
func (c *Client) viaBreaker(call func() (any, error)) (any, error) {
	return c.breaker.Execute(call)
}

func (c *Client) call(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}
	return data, nil
}

func normalizeManifest(m *manifest.Manifest) {
	m.Name = strings.TrimSpace(m.Name)
	m.Publisher = strings.TrimSpace(m.Publisher)
	m.Version = strings.TrimSpace(m.Version)
	m.Description = strings.TrimSpace(m.Description)
	m.License = strings.TrimSpace(m.License)

	var tags []string
	for _, tag := range m.Tags {
		if trimmed := strings.TrimSpace(tag); trimmed != "" {
			tags = append(tags, trimmed)
		}
	}
	m.Tags = tags
}
