// Package expiry prunes stale articles while honoring per-feed minimum
// retention.
package expiry

import (
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/feedroll/internal/model"
	"github.com/JakeFAU/feedroll/internal/plugin"
)

// Policy carries the global retention settings.
type Policy struct {
	// ExpireAge is how long an article may go unseen before it is eligible.
	ExpireAge time.Duration
	// KeepMin is the default per-feed floor.
	KeepMin int
}

// Expirer deletes articles from a collection.
type Expirer struct {
	policy Policy
	bus    *plugin.Bus
	logger *zap.Logger
}

// New builds an Expirer.
func New(policy Policy, bus *plugin.Bus, logger *zap.Logger) *Expirer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Expirer{policy: policy, bus: bus, logger: logger}
}

type candidate struct {
	added    time.Time
	sequence int
	key      string
	article  *model.Article
}

// Expire walks articles oldest first and deletes those that are stale,
// belong to a feed that produced entries this round (seen) and whose feed
// still holds more than its floor. Articles of feeds missing from feeds are
// always deleted. It returns the number deleted.
func (x *Expirer) Expire(articles map[string]*model.Article, feeds map[string]*model.Feed, seen map[string]bool, now time.Time) int {
	counts := make(map[string]int, len(feeds))
	list := make([]candidate, 0, len(articles))
	for key, a := range articles {
		counts[a.FeedURL]++
		list = append(list, candidate{added: a.Added, sequence: a.Sequence, key: key, article: a})
	}
	sort.Slice(list, func(i, j int) bool {
		a, b := list[i], list[j]
		if !a.added.Equal(b.added) {
			return a.added.Before(b.added)
		}
		if a.sequence != b.sequence {
			return a.sequence < b.sequence
		}
		return a.key < b.key
	})

	expired := 0
	for _, c := range list {
		url := c.article.FeedURL
		feed, ok := feeds[url]
		if !ok {
			x.logger.Debug("expired article for nonexistent feed", zap.String("feed", url))
			delete(articles, c.key)
			expired++
			continue
		}
		if !seen[url] {
			continue
		}
		if !c.article.CanExpire(now, x.policy.ExpireAge) {
			continue
		}
		if counts[url] <= feed.Options.KeepMinOr(x.policy.KeepMin) {
			continue
		}
		x.bus.ArticleExpired(c.article, now)
		delete(articles, c.key)
		counts[url]--
		expired++
	}
	x.logger.Debug("expired articles", zap.Int("expired", expired), zap.Int("remaining", len(articles)))
	return expired
}
