// Package hub is the skill registry client: index loading, search,
// install, and update against a published index.
package hub

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/owlhub/platform/pkg/registry/index"
)

// fetchRetries is how many attempts a remote index fetch gets.
const fetchRetries = 3

// Loader resolves the index from a URL or local path, with a disk
// cache keyed by URL.
type Loader struct {
	indexURL string
	cacheDir string
	noCache  bool
	client   *http.Client
}

// NewLoader creates a loader. cacheDir may be empty when noCache is set.
func NewLoader(indexURL, cacheDir string, noCache bool) *Loader {
	return &Loader{
		indexURL: indexURL,
		cacheDir: cacheDir,
		noCache:  noCache,
		client:   &http.Client{Timeout: 30 * time.Second},
	}
}

// Load returns the parsed index. Remote URLs are served from the disk
// cache when present; fetches retry transport errors up to 3 times and
// refresh the cache on success.
func (l *Loader) Load(ctx context.Context) (*index.Index, error) {
	if !strings.HasPrefix(l.indexURL, "http://") && !strings.HasPrefix(l.indexURL, "https://") {
		data, err := os.ReadFile(l.indexURL)
		if err != nil {
			return nil, fmt.Errorf("read index file: %w", err)
		}
		return index.Parse(data)
	}

	if !l.noCache {
		if data, err := os.ReadFile(l.cachePath()); err == nil {
			return index.Parse(data)
		}
	}

	data, err := l.fetch(ctx)
	if err != nil {
		return nil, err
	}

	if !l.noCache {
		if err := l.writeCache(data); err != nil {
			slog.Warn("Failed to cache index payload", "url", l.indexURL, "error", err)
		}
	}
	return index.Parse(data)
}

func (l *Loader) fetch(ctx context.Context) ([]byte, error) {
	var lastErr error
	for attempt := 1; attempt <= fetchRetries; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.indexURL, nil)
		if err != nil {
			return nil, err
		}

		resp, err := l.client.Do(req)
		if err != nil {
			lastErr = err
			slog.Warn("Index fetch failed", "attempt", attempt, "error", err)
			continue
		}

		data, err := func() ([]byte, error) {
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				return nil, fmt.Errorf("index fetch returned %d", resp.StatusCode)
			}
			return io.ReadAll(resp.Body)
		}()
		if err != nil {
			lastErr = err
			continue
		}
		return data, nil
	}
	return nil, fmt.Errorf("fetch index after %d attempts: %w", fetchRetries, lastErr)
}

// ClearCache removes all cached payloads atomically: the cache dir is
// renamed aside before deletion so readers never see a partial state.
func (l *Loader) ClearCache() error {
	if l.cacheDir == "" {
		return nil
	}
	if _, err := os.Stat(l.cacheDir); os.IsNotExist(err) {
		return nil
	}

	doomed := l.cacheDir + ".clearing"
	if err := os.Rename(l.cacheDir, doomed); err != nil {
		return fmt.Errorf("clear cache: %w", err)
	}
	return os.RemoveAll(doomed)
}

func (l *Loader) cachePath() string {
	sum := sha256.Sum256([]byte(l.indexURL))
	return filepath.Join(l.cacheDir, hex.EncodeToString(sum[:])+".json")
}

func (l *Loader) writeCache(data []byte) error {
	if err := os.MkdirAll(l.cacheDir, 0o755); err != nil {
		return err
	}
	return os.WriteFile(l.cachePath(), data, 0o644)
}
