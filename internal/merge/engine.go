// Package merge interprets fetch results and reconciles fetched entries with
// a feed's stored articles.
package merge

import (
	"context"
	"io"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/feedroll/internal/model"
	"github.com/JakeFAU/feedroll/internal/plugin"
)

// Options control matching and retention during a merge.
type Options struct {
	IgnoreTimeouts bool
	ChangeConfig   bool
	// UseIDs matches entries by their declared ID before falling back to the hash.
	UseIDs bool
	// CurrentOnly drops stored articles the feed no longer lists.
	CurrentOnly bool
}

// Engine merges fetch results into article collections.
type Engine struct {
	opts   Options
	bus    *plugin.Bus
	logger *zap.Logger
	errOut io.Writer
}

// NewEngine builds an Engine. errOut receives per-feed error blocks and
// defaults to stderr.
func NewEngine(opts Options, bus *plugin.Bus, logger *zap.Logger, errOut io.Writer) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if errOut == nil {
		errOut = os.Stderr
	}
	return &Engine{opts: opts, bus: bus, logger: logger, errOut: errOut}
}

// Classify stamps the feed as updated and classifies the result.
func (e *Engine) Classify(feed *model.Feed, result *model.FetchResult, now time.Time) (Outcome, *FeedError) {
	feed.LastUpdate = now
	return Classify(feed.URL, result, ClassifyOptions{
		IgnoreTimeouts: e.opts.IgnoreTimeouts,
		ChangeConfig:   e.opts.ChangeConfig,
	})
}

// Report announces the classified fetch to subscribers and writes any error
// block.
func (e *Engine) Report(ctx context.Context, feed *model.Feed, result *model.FetchResult, ferr *FeedError) {
	report := plugin.FetchReport{Feed: feed, Result: result}
	if ferr != nil {
		report.Error = ferr.Message
		report.NonFatal = ferr.NonFatal()
	}
	e.bus.FeedFetched(ctx, report)
	if ferr == nil {
		return
	}
	e.logger.Debug("feed error",
		zap.String("feed", ferr.URL),
		zap.Int("status", ferr.Status),
		zap.Stringer("outcome", ferr.Outcome))
	if err := ferr.Report(e.errOut); err != nil {
		e.logger.Warn("cannot report feed error", zap.Error(err))
	}
}

// Update classifies, reports and merges in one step. It returns whether any
// entries were merged, which gates expiry for the feed.
func (e *Engine) Update(ctx context.Context, feed *model.Feed, articles map[string]*model.Article, result *model.FetchResult, now time.Time) (bool, Outcome) {
	outcome, ferr := e.Classify(feed, result, now)
	if outcome == OutcomeIgnored {
		return false, outcome
	}
	e.Report(ctx, feed, result, ferr)
	if !outcome.Mergeable() {
		return false, outcome
	}
	return e.Merge(feed, articles, result, now), outcome
}

// Merge folds the result's entries into articles, which holds at least every
// stored article of feed. Zero entries leave validators and articles alone
// and return false.
func (e *Engine) Merge(feed *model.Feed, articles map[string]*model.Article, result *model.FetchResult, now time.Time) bool {
	Normalize(result)
	if len(result.Entries) == 0 {
		return false
	}

	feed.ETag = result.ETag
	feed.LastModified = result.LastModified
	if result.Info != nil {
		feed.Info = *result.Info
	} else {
		feed.Info = model.FeedInfo{}
	}
	url := feed.URL

	// Declared entry ID to the key of the stored article carrying it.
	byID := map[string]string{}
	if e.opts.UseIDs {
		for key, a := range articles {
			if a.FeedURL == url && a.Entry.ID != "" {
				byID[a.Entry.ID] = key
			}
		}
	}

	seen := map[string]struct{}{}
	sequence := 0
	added, updated := 0, 0
	for _, entry := range result.Entries {
		article := model.NewArticle(url, entry, now, sequence)
		if e.bus.ArticleSeen(article) {
			continue
		}
		sequence++

		key := article.Hash
		if entry.ID != "" {
			if k, ok := byID[entry.ID]; ok {
				key = k
			}
		}
		seen[key] = struct{}{}

		if existing, ok := articles[key]; ok {
			existing.UpdateFrom(article, now)
			e.bus.ArticleUpdated(existing, now)
			updated++
			continue
		}
		articles[article.Hash] = article
		e.bus.ArticleAdded(article, now)
		added++
	}

	if e.opts.CurrentOnly {
		for key, a := range articles {
			if a.FeedURL != url {
				continue
			}
			if _, ok := seen[key]; !ok {
				delete(articles, key)
			}
		}
	}

	e.logger.Debug("merged feed",
		zap.String("feed", url),
		zap.Int("added", added),
		zap.Int("updated", updated))
	return true
}
