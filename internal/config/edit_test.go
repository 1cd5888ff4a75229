package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddChangeRemoveFeed(t *testing.T) {
	t.Parallel()

	dir := writeConfig(t, `# my feeds
max_articles: 10
feeds:
  - url: https://example.com/a.xml
    period: 1h
`)
	path := filepath.Join(dir, DefaultFileName)

	require.NoError(t, AddFeed(path, "https://example.com/b.xml", "3h"))
	require.ErrorIs(t, AddFeed(path, "https://example.com/b.xml", "3h"), ErrFeedExists)

	cfg, err := Load(dir, "")
	require.NoError(t, err)
	require.Len(t, cfg.Feeds, 2)
	assert.Equal(t, "https://example.com/b.xml", cfg.Feeds[1].URL)
	assert.Equal(t, 10, cfg.MaxArticles)

	require.NoError(t, ChangeFeedURL(path, "https://example.com/a.xml", "https://example.org/a.xml"))
	removed, err := RemoveFeed(path, "https://example.com/b.xml")
	require.NoError(t, err)
	assert.True(t, removed)

	cfg, err = Load(dir, "")
	require.NoError(t, err)
	require.Len(t, cfg.Feeds, 1)
	assert.Equal(t, "https://example.org/a.xml", cfg.Feeds[0].URL)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "# my feeds")
}

func TestRemoveMissingFeed(t *testing.T) {
	t.Parallel()

	dir := writeConfig(t, "feeds:\n  - https://example.com/a.xml\n")
	path := filepath.Join(dir, DefaultFileName)

	removed, err := RemoveFeed(path, "https://nowhere.example/")
	require.NoError(t, err)
	assert.False(t, removed)
}

func TestAddFeedToEmptyConfig(t *testing.T) {
	t.Parallel()

	dir := writeConfig(t, "")
	path := filepath.Join(dir, DefaultFileName)

	require.NoError(t, AddFeed(path, "https://example.com/feed", "3h"))
	cfg, err := Load(dir, "")
	require.NoError(t, err)
	require.Len(t, cfg.Feeds, 1)
	assert.Equal(t, "https://example.com/feed", cfg.Feeds[0].URL)
}
