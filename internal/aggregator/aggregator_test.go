package aggregator

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/feedroll/internal/clock/system"
	"github.com/JakeFAU/feedroll/internal/config"
	"github.com/JakeFAU/feedroll/internal/fetcher"
	"github.com/JakeFAU/feedroll/internal/model"
	"github.com/JakeFAU/feedroll/internal/plugin"
	"github.com/JakeFAU/feedroll/internal/storage"
	"github.com/JakeFAU/feedroll/internal/storage/memory"
	"github.com/JakeFAU/feedroll/internal/store"
)

type fakeFetcher struct {
	mu       sync.Mutex
	results  map[string]*model.FetchResult
	requests []fetcher.Request
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{results: map[string]*model.FetchResult{}}
}

func (f *fakeFetcher) set(url string, res *model.FetchResult) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.results[url] = res
}

func (f *fakeFetcher) Fetch(_ context.Context, req fetcher.Request) *model.FetchResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if res, ok := f.results[req.URL]; ok {
		cp := *res
		return &cp
	}
	return &model.FetchResult{URL: req.URL, Status: 404}
}

func (f *fakeFetcher) requested() []fetcher.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]fetcher.Request(nil), f.requests...)
}

func entries(feed string, titles ...string) *model.FetchResult {
	res := &model.FetchResult{Status: 200, URL: feed, Info: &model.FeedInfo{
		Title: &model.Detail{Type: "text/plain", Value: "Feed " + feed},
		Link:  feed + "/home",
	}}
	for _, title := range titles {
		res.Entries = append(res.Entries, model.Entry{
			Title: &model.Detail{Type: "text/plain", Value: title},
			Link:  feed + "/" + strings.ReplaceAll(title, " ", "-"),
		})
	}
	return res
}

type harness struct {
	dir     string
	fetcher *fakeFetcher
	blobs   *memory.BlobStore
	clock   *system.Fixed
	stdout  *bytes.Buffer
	stderr  *bytes.Buffer
	bus     *plugin.Bus
}

func newHarness(t *testing.T, configBody string) *harness {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, config.DefaultFileName), []byte(configBody), 0o600))
	return &harness{
		dir:     dir,
		fetcher: newFakeFetcher(),
		blobs:   memory.NewBlobStore(),
		clock:   &system.Fixed{T: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)},
		stdout:  &bytes.Buffer{},
		stderr:  &bytes.Buffer{},
		bus:     plugin.NewBus(),
	}
}

func (h *harness) open(t *testing.T) *Aggregator {
	t.Helper()
	cfg, err := config.Load(h.dir, "")
	require.NoError(t, err)
	agg, err := Open(Options{
		Config:  cfg,
		Store:   store.Options{Locking: true, NoWait: true},
		Fetcher: h.fetcher,
		Output:  h.blobs,
		Bus:     h.bus,
		Clock:   h.clock,
		Stdout:  h.stdout,
		Stderr:  h.stderr,
	})
	require.NoError(t, err)
	require.NoError(t, agg.SyncFromConfig())
	return agg
}

func (h *harness) configText(t *testing.T) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(h.dir, config.DefaultFileName))
	require.NoError(t, err)
	return string(data)
}

const twoFeeds = `
feeds:
  - url: https://a.example/feed
    period: 0
  - url: https://b.example/feed
    period: 0
`

func TestUpdateThenWrite(t *testing.T) {
	t.Parallel()

	h := newHarness(t, twoFeeds)
	h.fetcher.set("https://a.example/feed", entries("https://a.example/feed", "first", "second"))
	h.fetcher.set("https://b.example/feed", entries("https://b.example/feed", "third"))

	agg := h.open(t)
	require.NoError(t, agg.Update(context.Background(), ""))
	assert.Len(t, agg.State().Articles, 3)
	assert.Equal(t, h.clock.T, agg.State().Feeds["https://a.example/feed"].LastUpdate)

	require.NoError(t, agg.Write(context.Background()))
	obj, ok := h.blobs.Get(filepath.Join(h.dir, "output.html"))
	require.True(t, ok)
	assert.Equal(t, PageContentType, obj.ContentType)
	page := string(obj.Data)
	for _, title := range []string{"first", "second", "third"} {
		assert.Contains(t, page, title)
	}
	assert.Contains(t, page, "Feed https://a.example/feed")
	require.NoError(t, agg.Close())

	reopened := h.open(t)
	defer func() { require.NoError(t, reopened.Close()) }()
	assert.Len(t, reopened.State().Articles, 3, "state is persisted on close")
}

func TestUpdateConcurrentFetchPool(t *testing.T) {
	t.Parallel()

	h := newHarness(t, "num_threads: 4\n"+twoFeeds)
	h.fetcher.set("https://a.example/feed", entries("https://a.example/feed", "one"))
	h.fetcher.set("https://b.example/feed", entries("https://b.example/feed", "two"))

	agg := h.open(t)
	defer func() { require.NoError(t, agg.Close()) }()
	require.NoError(t, agg.Update(context.Background(), ""))
	assert.Len(t, agg.State().Articles, 2)
	assert.Len(t, h.fetcher.requested(), 2)
}

func TestUpdateSkipsFeedsNotDue(t *testing.T) {
	t.Parallel()

	h := newHarness(t, `
feeds:
  - url: https://a.example/feed
    period: 60
`)
	h.fetcher.set("https://a.example/feed", entries("https://a.example/feed", "one"))
	agg := h.open(t)
	defer func() { require.NoError(t, agg.Close()) }()

	require.NoError(t, agg.Update(context.Background(), ""))
	require.NoError(t, agg.Update(context.Background(), ""))
	assert.Len(t, h.fetcher.requested(), 1, "second run is inside the period")

	h.clock.Advance(time.Hour)
	require.NoError(t, agg.Update(context.Background(), ""))
	assert.Len(t, h.fetcher.requested(), 2)
}

func TestForcedUpdate(t *testing.T) {
	t.Parallel()

	h := newHarness(t, twoFeeds)
	res := entries("https://a.example/feed", "one")
	res.ETag = `"v1"`
	h.fetcher.set("https://a.example/feed", res)

	agg := h.open(t)
	defer func() { require.NoError(t, agg.Close()) }()
	require.NoError(t, agg.Update(context.Background(), "https://a.example/feed"))
	require.NoError(t, agg.Update(context.Background(), "https://a.example/feed"))

	reqs := h.fetcher.requested()
	require.Len(t, reqs, 2, "only the forced feed is fetched")
	assert.Empty(t, reqs[1].ETag, "forcing a feed clears its validators")

	require.NoError(t, agg.Update(context.Background(), "https://missing.example/"))
	assert.Equal(t, "No such feed: https://missing.example/\n", h.stdout.String())
}

func TestUpdateExpiresUnseenArticles(t *testing.T) {
	t.Parallel()

	h := newHarness(t, "expire_age: 1h\n"+twoFeeds)
	h.fetcher.set("https://a.example/feed", entries("https://a.example/feed", "keep", "drop"))
	agg := h.open(t)
	defer func() { require.NoError(t, agg.Close()) }()
	require.NoError(t, agg.Update(context.Background(), ""))
	require.Len(t, agg.State().Articles, 2)

	h.clock.Advance(2 * time.Hour)
	h.fetcher.set("https://a.example/feed", entries("https://a.example/feed", "keep"))
	require.NoError(t, agg.Update(context.Background(), ""))

	require.Len(t, agg.State().Articles, 1)
	for _, a := range agg.State().Articles {
		assert.Equal(t, "keep", a.Entry.Title.Value)
	}
}

func TestUpdateSplitState(t *testing.T) {
	t.Parallel()

	h := newHarness(t, "split_state: true\n"+twoFeeds)
	h.fetcher.set("https://a.example/feed", entries("https://a.example/feed", "one", "two"))

	agg := h.open(t)
	require.NoError(t, agg.Update(context.Background(), ""))
	assert.Empty(t, agg.State().Articles, "split mode keeps articles out of the root state")
	assert.FileExists(t, filepath.Join(h.dir, model.StateFileFor("https://a.example/feed")))

	require.NoError(t, agg.Write(context.Background()))
	obj, ok := h.blobs.Get(filepath.Join(h.dir, "output.html"))
	require.True(t, ok)
	assert.Contains(t, string(obj.Data), "two")
	require.NoError(t, agg.Close())
}

func TestSyncFromConfigMigratesLayout(t *testing.T) {
	t.Parallel()

	h := newHarness(t, twoFeeds)
	h.fetcher.set("https://a.example/feed", entries("https://a.example/feed", "one"))
	agg := h.open(t)
	require.NoError(t, agg.Update(context.Background(), ""))
	require.NoError(t, agg.Close())

	require.NoError(t, os.WriteFile(filepath.Join(h.dir, config.DefaultFileName), []byte("split_state: true\n"+twoFeeds), 0o600))
	split := h.open(t)
	assert.Empty(t, split.State().Articles)
	assert.True(t, split.State().SplitState())
	assert.FileExists(t, filepath.Join(h.dir, model.StateFileFor("https://a.example/feed")))
	require.NoError(t, split.Close())

	require.NoError(t, os.WriteFile(filepath.Join(h.dir, config.DefaultFileName), []byte(twoFeeds), 0o600))
	single := h.open(t)
	defer func() { require.NoError(t, single.Close()) }()
	assert.Len(t, single.State().Articles, 1)
	assert.NoFileExists(t, filepath.Join(h.dir, model.StateFileFor("https://a.example/feed")))
}

func TestSyncFromConfigRemovesFeeds(t *testing.T) {
	t.Parallel()

	h := newHarness(t, twoFeeds)
	h.fetcher.set("https://a.example/feed", entries("https://a.example/feed", "one"))
	h.fetcher.set("https://b.example/feed", entries("https://b.example/feed", "two"))
	agg := h.open(t)
	defer func() { require.NoError(t, agg.Close()) }()
	require.NoError(t, agg.Update(context.Background(), ""))
	require.Len(t, agg.State().Articles, 2)

	require.NoError(t, agg.RemoveFeed("https://b.example/feed"))
	assert.Contains(t, h.stderr.String(), "Removing feed https://b.example/feed")
	assert.NotContains(t, h.configText(t), "b.example")
	assert.Len(t, agg.State().Feeds, 1)
	assert.Len(t, agg.State().Articles, 1)

	require.NoError(t, agg.RemoveFeed("https://b.example/feed"))
	assert.Contains(t, h.stderr.String(), "Feed https://b.example/feed is not in the config file")
}

func TestSyncFromConfigAppliesPeriodAndOptions(t *testing.T) {
	t.Parallel()

	h := newHarness(t, `
feeds:
  - url: https://a.example/feed
    period: 45
    keepmin: 2
`)
	agg := h.open(t)
	defer func() { require.NoError(t, agg.Close()) }()
	feed := agg.State().Feeds["https://a.example/feed"]
	require.NotNil(t, feed)
	assert.Equal(t, 45*time.Minute, feed.Period)
	assert.Equal(t, 2, feed.Options.KeepMinOr(0))
}

type fakeFinder struct {
	feeds []string
	err   error
}

func (f fakeFinder) Discover(context.Context, string) ([]string, error) { return f.feeds, f.err }

func TestAddFeed(t *testing.T) {
	t.Parallel()

	h := newHarness(t, twoFeeds)
	agg := h.open(t)
	defer func() { require.NoError(t, agg.Close()) }()

	agg.finder = fakeFinder{feeds: []string{"https://c.example/atom.xml", "https://c.example/comments"}}
	require.NoError(t, agg.AddFeed(context.Background(), "https://c.example/"))
	assert.Contains(t, h.stderr.String(), "Adding feed https://c.example/atom.xml")
	assert.Contains(t, h.configText(t), "https://c.example/atom.xml")
	feed, ok := agg.State().Feeds["https://c.example/atom.xml"]
	require.True(t, ok)
	assert.Equal(t, 3*time.Hour, feed.Period)

	require.NoError(t, agg.AddFeed(context.Background(), "https://c.example/"))
	assert.Contains(t, h.stderr.String(), "Feed https://c.example/atom.xml is already in the config file")

	agg.finder = fakeFinder{}
	require.NoError(t, agg.AddFeed(context.Background(), "https://nothing.example/"))
	assert.Contains(t, h.stderr.String(), "Cannot find any feeds in https://nothing.example/")

	agg.finder = fakeFinder{err: errors.New("dns")}
	assert.Error(t, agg.AddFeed(context.Background(), "https://broken.example/"))
}

func TestMovedFeedRewritesConfig(t *testing.T) {
	t.Parallel()

	h := newHarness(t, twoFeeds)
	moved := entries("https://a.example/new", "one")
	moved.Status = 301
	h.fetcher.set("https://a.example/feed", moved)

	agg := h.open(t)
	defer func() { require.NoError(t, agg.Close()) }()
	require.NoError(t, agg.Update(context.Background(), "https://a.example/feed"))

	_, old := agg.State().Feeds["https://a.example/feed"]
	assert.False(t, old)
	require.Contains(t, agg.State().Feeds, "https://a.example/new")
	assert.Contains(t, h.configText(t), "https://a.example/new")
	assert.Contains(t, h.stderr.String(), "The config file has been updated automatically.")
	assert.Contains(t, h.stderr.String(), "Feed URL automatically changed.")
	require.Len(t, agg.State().Articles, 1)
	for _, a := range agg.State().Articles {
		assert.Equal(t, "https://a.example/new", a.FeedURL)
	}
}

func TestMovedFeedWithoutEntriesStillMoves(t *testing.T) {
	t.Parallel()

	h := newHarness(t, twoFeeds)
	h.fetcher.set("https://a.example/feed", &model.FetchResult{
		Status: 301,
		URL:    "https://a.example/new",
	})

	agg := h.open(t)
	defer func() { require.NoError(t, agg.Close()) }()
	require.NoError(t, agg.Update(context.Background(), "https://a.example/feed"))

	assert.NotContains(t, agg.State().Feeds, "https://a.example/feed")
	assert.Contains(t, agg.State().Feeds, "https://a.example/new")
	assert.Contains(t, h.configText(t), "https://a.example/new")
	assert.Empty(t, agg.State().Articles)
}

func TestMovedFeedRefusesExistingTarget(t *testing.T) {
	t.Parallel()

	h := newHarness(t, twoFeeds)
	moved := entries("https://b.example/feed", "one")
	moved.Status = 301
	h.fetcher.set("https://a.example/feed", moved)

	agg := h.open(t)
	defer func() { require.NoError(t, agg.Close()) }()
	require.NoError(t, agg.Update(context.Background(), "https://a.example/feed"))

	assert.Contains(t, h.stderr.String(), "Error: New feed URL is already subscribed; please remove the old one\nfrom the config file by hand.\n")
	assert.Contains(t, agg.State().Feeds, "https://a.example/feed")
	assert.Contains(t, h.configText(t), "https://a.example/feed")
}

func TestChangeFeedURLSplitState(t *testing.T) {
	t.Parallel()

	h := newHarness(t, "split_state: true\n"+twoFeeds)
	h.fetcher.set("https://a.example/feed", entries("https://a.example/feed", "one"))
	agg := h.open(t)
	defer func() { require.NoError(t, agg.Close()) }()
	require.NoError(t, agg.Update(context.Background(), ""))

	require.NoError(t, agg.ChangeFeedURL("https://a.example/feed", "https://a.example/moved"))
	assert.NoFileExists(t, filepath.Join(h.dir, model.StateFileFor("https://a.example/feed")))

	p, err := model.OpenFeedState(h.dir, "https://a.example/moved", store.Options{})
	require.NoError(t, err)
	defer func() { _ = p.Close() }()
	require.Len(t, p.Object().Articles, 1)
	for _, a := range p.Object().Articles {
		assert.Equal(t, "https://a.example/moved", a.FeedURL)
	}
}

type handledWrite struct{ calls int }

func (h *handledWrite) BeforeWrite(context.Context, []*model.Article, map[string]time.Time) bool {
	h.calls++
	return true
}

type afterWrite struct {
	target string
	size   int
}

func (a *afterWrite) AfterWrite(_ context.Context, target string, page []byte) {
	a.target = target
	a.size = len(page)
}

func TestWriteHooks(t *testing.T) {
	t.Parallel()

	h := newHarness(t, twoFeeds)
	after := &afterWrite{}
	h.bus.Register(after)
	agg := h.open(t)
	defer func() { require.NoError(t, agg.Close()) }()

	require.NoError(t, agg.Write(context.Background()))
	assert.Equal(t, "memory://"+filepath.Join(h.dir, "output.html"), after.target)
	assert.Positive(t, after.size)

	handled := &handledWrite{}
	h.bus.Register(handled)
	require.NoError(t, agg.Write(context.Background()))
	assert.Equal(t, 1, handled.calls)
	assert.Equal(t, 1, h.blobs.Puts(), "a handled write publishes nothing")
}

func TestWriteMirror(t *testing.T) {
	t.Parallel()

	h := newHarness(t, "output_file: www/index.html\n"+twoFeeds)
	cfg, err := config.Load(h.dir, "")
	require.NoError(t, err)
	mirror := memory.NewBlobStore()
	agg, err := Open(Options{
		Config:     cfg,
		Output:     h.blobs,
		Mirror:     mirror,
		MirrorPath: "index.html",
		Clock:      h.clock,
		Stdout:     h.stdout,
		Stderr:     h.stderr,
	})
	require.NoError(t, err)
	defer func() { require.NoError(t, agg.Close()) }()

	require.NoError(t, agg.Write(context.Background()))
	local, ok := h.blobs.Get(filepath.Join(h.dir, "www", "index.html"))
	require.True(t, ok)
	remote, ok := mirror.Get("index.html")
	require.True(t, ok)
	assert.Equal(t, local.Data, remote.Data)
}

func TestWriteMirrorFailure(t *testing.T) {
	t.Parallel()

	h := newHarness(t, twoFeeds)
	cfg, err := config.Load(h.dir, "")
	require.NoError(t, err)
	mirror := &storage.MockProvider{}
	mirror.On("PutObject", mock.Anything, "index.html", PageContentType, mock.AnythingOfType("string")).
		Return("", errors.New("permission denied"))
	agg, err := Open(Options{
		Config:     cfg,
		Output:     h.blobs,
		Mirror:     mirror,
		MirrorPath: "index.html",
		Clock:      h.clock,
		Stdout:     h.stdout,
		Stderr:     h.stderr,
	})
	require.NoError(t, err)
	defer func() { require.NoError(t, agg.Close()) }()

	err = agg.Write(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "permission denied")
	assert.Equal(t, 1, h.blobs.Puts(), "the local page is written before the mirror")
	mirror.AssertExpectations(t)
}

func TestListAndTemplates(t *testing.T) {
	t.Parallel()

	h := newHarness(t, twoFeeds)
	h.fetcher.set("https://a.example/feed", entries("https://a.example/feed", "one"))
	agg := h.open(t)
	defer func() { require.NoError(t, agg.Close()) }()
	require.NoError(t, agg.Update(context.Background(), ""))

	agg.List()
	out := h.stdout.String()
	assert.Contains(t, out, "https://a.example/feed\n  ID: ")
	assert.Contains(t, out, "  Title: Feed https://a.example/feed\n")
	assert.Contains(t, out, "  Link: https://a.example/feed/home\n")
	assert.Contains(t, out, "https://b.example/feed\n")

	h.stdout.Reset()
	require.NoError(t, agg.ShowTemplate())
	assert.Contains(t, h.stdout.String(), "__items__")
	h.stdout.Reset()
	require.NoError(t, agg.ShowItemTemplate())
	assert.Contains(t, h.stdout.String(), "__description__")
}

func TestOpenRejectsOtherStateVersion(t *testing.T) {
	t.Parallel()

	h := newHarness(t, twoFeeds)
	require.NoError(t, os.WriteFile(filepath.Join(h.dir, StateFileName), []byte(`{"version":1,"feeds":{}}`), 0o600))
	cfg, err := config.Load(h.dir, "")
	require.NoError(t, err)

	_, err = Open(Options{Config: cfg})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrStateVersion))
	assert.Contains(t, err.Error(), "removing it will fix the problem")
}

func TestReleaseDiscardsUnsavedChanges(t *testing.T) {
	t.Parallel()

	h := newHarness(t, twoFeeds)
	agg := h.open(t)
	require.Len(t, agg.State().Feeds, 2)
	require.NoError(t, agg.Release())

	_, err := os.Stat(filepath.Join(h.dir, StateFileName))
	assert.True(t, os.IsNotExist(err), "release must not write the state")

	again := h.open(t)
	defer func() { require.NoError(t, again.Close()) }()
}

func TestOpenHonorsLock(t *testing.T) {
	t.Parallel()

	h := newHarness(t, twoFeeds)
	first := h.open(t)
	defer func() { require.NoError(t, first.Close()) }()

	cfg, err := config.Load(h.dir, "")
	require.NoError(t, err)
	_, err = Open(Options{Config: cfg, Store: store.Options{Locking: true, NoWait: true}})
	assert.ErrorIs(t, err, store.ErrLocked)
}
