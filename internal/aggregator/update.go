package aggregator

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/feedroll/internal/config"
	"github.com/JakeFAU/feedroll/internal/fetcher"
	"github.com/JakeFAU/feedroll/internal/merge"
	"github.com/JakeFAU/feedroll/internal/model"
	"github.com/JakeFAU/feedroll/internal/store"
)

// Update fetches every due feed, or only feedURL when it is non-empty, merges
// the results and expires old articles. Forcing a feed clears its cache
// validators so the server sends the full document.
func (a *Aggregator) Update(ctx context.Context, feedURL string) error {
	a.logger.Info("Starting update")
	now := a.clock.Now()
	a.bus.UpdateStarted(ctx, a.state, now)

	due := a.dueFeeds(feedURL, now)
	a.logger.Info("Will update feeds", zap.Int("feeds", len(due)))

	var prefetched map[string]*model.FetchResult
	if a.cfg.NumThreads > 0 && len(due) > 0 {
		prefetched = a.scheduler.Run(ctx, due, a.cfg.NumThreads)
	}

	split := a.state.SplitState()
	seen := make(map[string]bool, len(due))
	for i, feed := range due {
		a.logger.Debug("Updating feed",
			zap.Int("n", i+1),
			zap.Int("of", len(due)),
			zap.String("url", feed.URL))

		result, ok := prefetched[feed.URL]
		if !ok {
			result = a.prefetch(ctx, feed)
		}
		if err := a.updateFeed(ctx, feed, result, split, seen, now); err != nil {
			return err
		}
	}

	if !split {
		expired := a.expirer.Expire(a.state.Articles, a.state.Feeds, seen, now)
		a.logger.Info("Expired articles", zap.Int("expired", expired), zap.Int("remaining", len(a.state.Articles)))
	}
	a.state.MarkModified()
	a.bus.UpdateFinished(ctx, a.state, now)
	a.logger.Info("Finished update")
	return nil
}

func (a *Aggregator) dueFeeds(feedURL string, now time.Time) []*model.Feed {
	if feedURL != "" {
		feed, ok := a.state.Feeds[feedURL]
		if !ok {
			fmt.Fprintln(a.stdout, "No such feed: "+feedURL)
			return nil
		}
		feed.ETag = ""
		feed.LastModified = ""
		return []*model.Feed{feed}
	}
	var due []*model.Feed
	for _, url := range sortedKeys(a.state.Feeds) {
		if feed := a.state.Feeds[url]; feed.NeedsUpdate(now) {
			due = append(due, feed)
		}
	}
	return due
}

// prefetch announces and performs one retrieval. The fetch pool calls it
// from worker goroutines.
func (a *Aggregator) prefetch(ctx context.Context, feed *model.Feed) *model.FetchResult {
	a.bus.PreUpdateFeed(feed)
	if a.fetcher == nil {
		return &model.FetchResult{URL: feed.URL, Err: fmt.Errorf("no fetcher configured")}
	}
	req := fetcher.NewRequest(feed, a.cfg.KeepMin, a.cfg.CurrentOnly, a.cfg.Timeout)
	return a.fetcher.Fetch(ctx, req)
}

func (a *Aggregator) updateFeed(ctx context.Context, feed *model.Feed, result *model.FetchResult, split bool, seen map[string]bool, now time.Time) error {
	outcome, ferr := a.engine.Classify(feed, result, now)
	if outcome == merge.OutcomeMoved && a.cfg.ChangeConfig {
		if err := a.ChangeFeedURL(feed.URL, result.URL); err != nil {
			a.logger.Warn("change feed url failed", zap.String("url", feed.URL), zap.Error(err))
		}
	}
	a.engine.Report(ctx, feed, result, ferr)

	var (
		articles = a.state.Articles
		fs       *store.Persister[*model.FeedState]
	)
	if split {
		p, err := model.OpenFeedState(a.cfg.Dir, feed.URL, a.storeOpts)
		if err != nil {
			return err
		}
		fs = p
		articles = p.Object().Articles
	}

	got := false
	if outcome.Mergeable() {
		got = a.engine.Merge(feed, articles, result, now)
	}
	a.bus.PostUpdateFeed(feed, got)
	if got {
		seen[feed.URL] = true
	}

	if fs == nil {
		return nil
	}
	expired := a.expirer.Expire(articles, a.state.Feeds, seen, now)
	if got || expired > 0 {
		fs.Object().MarkModified()
	}
	saveErr := fs.Save()
	closeErr := fs.Close()
	if saveErr != nil {
		return fmt.Errorf("save feed state %s: %w", feed.URL, saveErr)
	}
	if closeErr != nil {
		return fmt.Errorf("release feed state %s: %w", feed.URL, closeErr)
	}
	return nil
}

// ChangeFeedURL moves a subscription to newURL in the config file and in the
// state. It refuses when newURL is already subscribed.
func (a *Aggregator) ChangeFeedURL(oldURL, newURL string) error {
	feed, ok := a.state.Feeds[oldURL]
	if !ok {
		return fmt.Errorf("change feed url: %s is not subscribed", oldURL)
	}
	if oldURL == newURL {
		return nil
	}
	if _, exists := a.state.Feeds[newURL]; exists {
		fmt.Fprintln(a.stderr, "Error: New feed URL is already subscribed; please remove the old one")
		fmt.Fprintln(a.stderr, "from the config file by hand.")
		return nil
	}

	if err := config.ChangeFeedURL(a.cfg.Path, oldURL, newURL); err != nil {
		return fmt.Errorf("change feed url: %w", err)
	}
	for i := range a.cfg.Feeds {
		if a.cfg.Feeds[i].URL == oldURL {
			a.cfg.Feeds[i].URL = newURL
		}
	}

	feed.URL = newURL
	delete(a.state.Feeds, oldURL)
	a.state.Feeds[newURL] = feed

	if a.state.SplitState() {
		if err := a.rekeyFeedState(oldURL, newURL); err != nil {
			return err
		}
	} else {
		for _, art := range a.state.Articles {
			if art.FeedURL == oldURL {
				art.FeedURL = newURL
			}
		}
	}
	a.state.MarkModified()
	fmt.Fprintln(a.stderr, "Feed URL automatically changed.")
	return nil
}

func (a *Aggregator) rekeyFeedState(oldURL, newURL string) error {
	p, err := model.OpenFeedState(a.cfg.Dir, oldURL, a.storeOpts)
	if err != nil {
		return err
	}
	for _, art := range p.Object().Articles {
		art.FeedURL = newURL
	}
	p.Object().MarkModified()
	saveErr := p.Save()
	closeErr := p.Close()
	if saveErr != nil {
		return fmt.Errorf("save feed state %s: %w", oldURL, saveErr)
	}
	if closeErr != nil {
		return fmt.Errorf("release feed state %s: %w", oldURL, closeErr)
	}
	return model.RenameFeedState(a.cfg.Dir, oldURL, newURL)
}
