package metrics

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/feedroll/internal/model"
	"github.com/JakeFAU/feedroll/internal/plugin"
)

func TestSanitizeSite(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{"standard http", "http://example.com/path", "example.com"},
		{"standard https", "https://Example.com/path", "example.com"},
		{"no scheme", "example.com/path", "example.com"},
		{"just host", "example.com", "example.com"},
		{"host with port", "example.com:8080", "example.com"},
		{"ip address", "192.168.1.1", "192.168.1.1"},
		{"invalid url", "http://%", "unknown"},
		{"empty string", "", "unknown"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := SanitizeSite(tc.input); got != tc.expected {
				t.Errorf("SanitizeSite(%q) = %q; want %q", tc.input, got, tc.expected)
			}
		})
	}
}

func TestRecorderHooks(t *testing.T) {
	t.Parallel()

	r := New()
	feed := model.NewFeed("https://Blog.example.com/rss")
	a := model.NewArticle(feed.URL, model.Entry{Link: "x"}, time.Unix(0, 0), 0)

	r.FeedFetched(context.Background(), plugin.FetchReport{Feed: feed, Result: &model.FetchResult{Status: 200}})
	r.FeedFetched(context.Background(), plugin.FetchReport{Feed: feed, Result: &model.FetchResult{Status: 304}})
	r.FeedFetched(context.Background(), plugin.FetchReport{Feed: feed, Error: "The feed has gone."})
	r.FeedFetched(context.Background(), plugin.FetchReport{Feed: feed, Error: "moved", NonFatal: true})
	r.ArticleAdded(a, time.Time{})
	r.ArticleAdded(a, time.Time{})
	r.ArticleExpired(a, time.Time{})
	r.IncActiveWorkers()
	r.IncActiveWorkers()
	r.DecActiveWorkers()
	r.ObserveRateLimitDelay("blog.example.com", 250*time.Millisecond)

	state := model.NewState()
	state.Feeds[feed.URL] = feed
	r.UpdateFinished(context.Background(), state, time.Time{})
	r.AfterWrite(context.Background(), "out.html", []byte("12345"))

	assert.Equal(t, 1.0, testutil.ToFloat64(r.fetchesTotal.WithLabelValues("blog.example.com", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.fetchesTotal.WithLabelValues("blog.example.com", "not_modified")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.fetchesTotal.WithLabelValues("blog.example.com", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.fetchesTotal.WithLabelValues("blog.example.com", "moved")))
	assert.Equal(t, 2.0, testutil.ToFloat64(r.articlesAddedTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.articlesExpiredTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.activeWorkers))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.feeds))
	assert.Equal(t, 5.0, testutil.ToFloat64(r.outputBytes))
	assert.Equal(t, 1, testutil.CollectAndCount(r.rateLimitDelays))
}

func TestWriteTextfile(t *testing.T) {
	t.Parallel()

	r := New()
	r.ArticleAdded(model.NewArticle("https://a.example/", model.Entry{}, time.Unix(0, 0), 0), time.Time{})
	path := filepath.Join(t.TempDir(), "feedroll.prom")
	require.NoError(t, r.WriteTextfile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(data), `feedroll_articles_added_total{site="a.example"} 1`))
}

// Fuzz test for SanitizeSite.
func FuzzSanitizeSite(f *testing.F) {
	testcases := []string{"http://example.com", "https://google.com", "ftp://example.com"}
	for _, tc := range testcases {
		f.Add(tc)
	}
	f.Fuzz(func(t *testing.T, orig string) {
		sanitized := SanitizeSite(orig)
		if sanitized == "" {
			t.Errorf("SanitizeSite(%q) returned an empty string", orig)
		}
	})
}
