package stats

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testTracker(t *testing.T) (*Tracker, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "stats.jsonl")
	return NewTracker(path), path
}

func TestSnapshotAggregation(t *testing.T) {
	tracker, _ := testTracker(t)
	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	tracker.SetNowFunc(func() time.Time { return now })

	require.NoError(t, tracker.RecordDownload("acme", "log-parser", "user-1"))
	require.NoError(t, tracker.RecordDownload("acme", "log-parser", "user-2"))
	require.NoError(t, tracker.RecordInstall("acme", "log-parser", "user-1"))
	require.NoError(t, tracker.RecordInstall("acme", "log-parser", "user-2"))
	require.NoError(t, tracker.RecordInstall("acme", "log-parser", "user-1"))
	// Unrelated skill must not bleed into the aggregate.
	require.NoError(t, tracker.RecordDownload("acme", "formatter", "user-9"))

	record, err := tracker.Snapshot("acme", "log-parser")
	require.NoError(t, err)
	assert.Equal(t, int64(2), record.TotalDownloads)
	assert.Equal(t, int64(3), record.TotalInstalls)
	assert.Equal(t, int64(2), record.ActiveInstalls, "distinct users, not install count")
	assert.Equal(t, now, record.LastUpdated)
}

func TestActiveInstallsWindow(t *testing.T) {
	tracker, _ := testTracker(t)
	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)

	// user-old installed 40 days ago, outside the 30-day window.
	tracker.SetNowFunc(func() time.Time { return now.Add(-40 * 24 * time.Hour) })
	require.NoError(t, tracker.RecordInstall("acme", "log-parser", "user-old"))
	require.NoError(t, tracker.RecordDownload("acme", "log-parser", "user-old"))

	tracker.SetNowFunc(func() time.Time { return now.Add(-time.Hour) })
	require.NoError(t, tracker.RecordInstall("acme", "log-parser", "user-new"))

	tracker.SetNowFunc(func() time.Time { return now })
	record, err := tracker.Snapshot("acme", "log-parser")
	require.NoError(t, err)
	assert.Equal(t, int64(2), record.TotalInstalls)
	assert.Equal(t, int64(1), record.ActiveInstalls)
	assert.Equal(t, int64(1), record.TotalDownloads)
	assert.Equal(t, int64(0), record.RecentDownloads)
}

func TestEventsPersistAsJSONL(t *testing.T) {
	tracker, path := testTracker(t)
	require.NoError(t, tracker.RecordDownload("acme", "log-parser", "user-1"))
	require.NoError(t, tracker.RecordInstall("acme", "log-parser", "user-1"))

	reopened := NewTracker(path)
	record, err := reopened.Snapshot("acme", "log-parser")
	require.NoError(t, err)
	assert.Equal(t, int64(1), record.TotalDownloads)
	assert.Equal(t, int64(1), record.TotalInstalls)
}

func TestAllListsEverySkill(t *testing.T) {
	tracker, _ := testTracker(t)
	require.NoError(t, tracker.RecordDownload("acme", "log-parser", "u"))
	require.NoError(t, tracker.RecordDownload("beta", "formatter", "u"))

	records, err := tracker.All()
	require.NoError(t, err)
	assert.Len(t, records, 2)
}

func TestIndexStatisticsAdapter(t *testing.T) {
	tracker, _ := testTracker(t)
	require.NoError(t, tracker.RecordDownload("acme", "log-parser", "user-1"))
	require.NoError(t, tracker.RecordInstall("acme", "log-parser", "user-1"))

	lookup := tracker.IndexStatistics()
	got := lookup("acme/log-parser@1.0.0")
	require.NotNil(t, got)
	assert.Equal(t, 1, got.Downloads)
	assert.Equal(t, 1, got.Installs)
	assert.Equal(t, 1, got.ActiveInstalls)

	assert.Nil(t, lookup("acme/unknown@1.0.0"))
	assert.Nil(t, lookup("not-an-id"))
}

func TestReleaseDownloads(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, "/repos/acme/log-parser/releases", r.URL.Path)
		releases := []release{
			{TagName: "v1.0.0", Assets: []releaseAsset{{Name: "a.zip", DownloadCount: 10}}},
			{TagName: "v1.1.0", Assets: []releaseAsset{
				{Name: "a.zip", DownloadCount: 5},
				{Name: "b.zip", DownloadCount: 7},
			}},
		}
		assert.NoError(t, json.NewEncoder(w).Encode(releases))
	}))
	defer srv.Close()

	poller := NewReleasePoller("", time.Minute)
	poller.SetBaseURL(srv.URL)

	count, err := poller.ReleaseDownloads(context.Background(), "acme", "log-parser")
	require.NoError(t, err)
	assert.Equal(t, int64(22), count)

	// Second read is served from the TTL cache.
	count, err = poller.ReleaseDownloads(context.Background(), "acme", "log-parser")
	require.NoError(t, err)
	assert.Equal(t, int64(22), count)
	assert.Equal(t, int64(1), calls.Load())
}

func TestReleaseDownloads_RateLimitedCountsZero(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message":"API rate limit exceeded"}`, http.StatusForbidden)
	}))
	defer srv.Close()

	poller := NewReleasePoller("", time.Minute)
	poller.SetBaseURL(srv.URL)

	count, err := poller.ReleaseDownloads(context.Background(), "acme", "log-parser")
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)
}

func TestReleaseDownloads_ServerErrorFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	poller := NewReleasePoller("", time.Minute)
	poller.SetBaseURL(srv.URL)

	_, err := poller.ReleaseDownloads(context.Background(), "acme", "log-parser")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HTTP 500")
}
