package stats

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

const defaultGitHubAPI = "https://api.github.com"

// ReleasePoller reads release download counts from GitHub so indexed
// statistics can include out-of-band downloads. Responses are cached
// with a TTL and rate limiting degrades to zero rather than failing.
type ReleasePoller struct {
	httpClient *http.Client
	baseURL    string
	token      string
	cache      *releaseCache
}

// NewReleasePoller creates a poller. token may be empty (public repos
// only, lower rate limits).
func NewReleasePoller(token string, cacheTTL time.Duration) *ReleasePoller {
	return &ReleasePoller{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		baseURL:    defaultGitHubAPI,
		token:      token,
		cache:      newReleaseCache(cacheTTL),
	}
}

// SetBaseURL points the poller at a different API host. Tests only.
func (p *ReleasePoller) SetBaseURL(url string) { p.baseURL = url }

type releaseAsset struct {
	Name          string `json:"name"`
	DownloadCount int64  `json:"download_count"`
}

type release struct {
	TagName string         `json:"tag_name"`
	Assets  []releaseAsset `json:"assets"`
}

// ReleaseDownloads sums asset download counts across all releases of
// owner/repo. A 403 (rate limited) yields zero additional downloads
// instead of an error.
func (p *ReleasePoller) ReleaseDownloads(ctx context.Context, owner, repo string) (int64, error) {
	key := owner + "/" + repo
	if count, ok := p.cache.get(key); ok {
		return count, nil
	}

	apiURL := fmt.Sprintf("%s/repos/%s/%s/releases", p.baseURL, owner, repo)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL, nil)
	if err != nil {
		return 0, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github.v3+json")
	if p.token != "" {
		req.Header.Set("Authorization", "Bearer "+p.token)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("list releases for %s: %w", key, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusForbidden {
		io.Copy(io.Discard, resp.Body)
		slog.Warn("GitHub rate limited, counting zero additional downloads", "repo", key)
		return 0, nil
	}
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("GitHub returned HTTP %d for %s", resp.StatusCode, key)
	}

	var releases []release
	if err := json.NewDecoder(resp.Body).Decode(&releases); err != nil {
		return 0, fmt.Errorf("decode releases response: %w", err)
	}

	var total int64
	for _, rel := range releases {
		for _, asset := range rel.Assets {
			total += asset.DownloadCount
		}
	}
	p.cache.set(key, total)
	return total, nil
}

// cachedCount holds one cached count with its fetch time.
type cachedCount struct {
	count     int64
	fetchedAt time.Time
}

// releaseCache is a TTL cache with lazy expiry on get.
type releaseCache struct {
	mu      sync.RWMutex
	entries map[string]*cachedCount
	ttl     time.Duration
}

func newReleaseCache(ttl time.Duration) *releaseCache {
	return &releaseCache{entries: make(map[string]*cachedCount), ttl: ttl}
}

func (c *releaseCache) get(key string) (int64, bool) {
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok {
		return 0, false
	}
	if time.Since(entry.fetchedAt) > c.ttl {
		c.mu.Lock()
		if current, ok := c.entries[key]; ok && time.Since(current.fetchedAt) > c.ttl {
			delete(c.entries, key)
		}
		c.mu.Unlock()
		return 0, false
	}
	return entry.count, true
}

func (c *releaseCache) set(key string, count int64) {
	c.mu.Lock()
	c.entries[key] = &cachedCount{count: count, fetchedAt: time.Now()}
	c.mu.Unlock()
}
