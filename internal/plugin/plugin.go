// Package plugin provides the extension channel: an ordered list of
// subscribers, each implementing any subset of the hook interfaces below.
package plugin

import (
	"context"
	"io"
	"time"

	"github.com/JakeFAU/feedroll/internal/model"
)

// UpdateStartedHook runs before any feed is fetched.
type UpdateStartedHook interface {
	UpdateStarted(ctx context.Context, state *model.State, now time.Time)
}

// UpdateFinishedHook runs after merging and expiry, before state is saved.
type UpdateFinishedHook interface {
	UpdateFinished(ctx context.Context, state *model.State, now time.Time)
}

// PreUpdateFeedHook runs just before a feed is fetched. With a worker pool it
// is called from several goroutines at once.
type PreUpdateFeedHook interface {
	PreUpdateFeed(feed *model.Feed)
}

// FetchReport describes how a fetch was classified.
type FetchReport struct {
	Feed   *model.Feed
	Result *model.FetchResult
	// Error is empty when the fetch succeeded.
	Error string
	// NonFatal is set for notices, such as a permanent redirect, after which
	// the entries are still merged.
	NonFatal bool
}

// FeedFetchedHook runs once a fetch result has been classified.
type FeedFetchedHook interface {
	FeedFetched(ctx context.Context, report FetchReport)
}

// PostUpdateFeedHook runs after a feed's entries were merged. gotItems is
// false when nothing was merged.
type PostUpdateFeedHook interface {
	PostUpdateFeed(feed *model.Feed, gotItems bool)
}

// ArticleSeenHook may veto an entry; vetoed entries are skipped entirely.
type ArticleSeenHook interface {
	ArticleSeen(article *model.Article) (ignore bool)
}

// ArticleAddedHook runs when an article is inserted.
type ArticleAddedHook interface {
	ArticleAdded(article *model.Article, now time.Time)
}

// ArticleUpdatedHook runs when a known article is re-observed.
type ArticleUpdatedHook interface {
	ArticleUpdated(article *model.Article, now time.Time)
}

// ArticleExpiredHook runs just before an article is deleted by expiry.
type ArticleExpiredHook interface {
	ArticleExpired(article *model.Article, now time.Time)
}

// OutputItemsBeginHook may write markup ahead of the first item.
type OutputItemsBeginHook interface {
	OutputItemsBegin(w io.Writer)
}

// OutputItemsEndHook may write markup after the last item.
type OutputItemsEndHook interface {
	OutputItemsEnd(w io.Writer)
}

// OutputItemBitsHook may rewrite the template bindings of one item.
type OutputItemBitsHook interface {
	OutputItemBits(feed *model.Feed, article *model.Article, bits map[string]string)
}

// OutputBitsHook may rewrite the page template bindings.
type OutputBitsHook interface {
	OutputBits(bits map[string]string)
}

// BeforeWriteHook may take over output entirely by returning handled.
type BeforeWriteHook interface {
	BeforeWrite(ctx context.Context, articles []*model.Article, dates map[string]time.Time) (handled bool)
}

// AfterWriteHook runs once the page has been written to target.
type AfterWriteHook interface {
	AfterWrite(ctx context.Context, target string, page []byte)
}

// Bus dispatches hooks to subscribers in registration order. A nil Bus has
// no subscribers.
type Bus struct {
	updateStarted  []UpdateStartedHook
	updateFinished []UpdateFinishedHook
	preUpdateFeed  []PreUpdateFeedHook
	feedFetched    []FeedFetchedHook
	postUpdateFeed []PostUpdateFeedHook
	articleSeen    []ArticleSeenHook
	articleAdded   []ArticleAddedHook
	articleUpdated []ArticleUpdatedHook
	articleExpired []ArticleExpiredHook
	itemsBegin     []OutputItemsBeginHook
	itemsEnd       []OutputItemsEndHook
	itemBits       []OutputItemBitsHook
	outputBits     []OutputBitsHook
	beforeWrite    []BeforeWriteHook
	afterWrite     []AfterWriteHook
}

// NewBus builds a bus with the given subscribers.
func NewBus(subscribers ...any) *Bus {
	b := &Bus{}
	for _, s := range subscribers {
		b.Register(s)
	}
	return b
}

// Register appends a subscriber to every hook list it implements.
func (b *Bus) Register(s any) {
	if h, ok := s.(UpdateStartedHook); ok {
		b.updateStarted = append(b.updateStarted, h)
	}
	if h, ok := s.(UpdateFinishedHook); ok {
		b.updateFinished = append(b.updateFinished, h)
	}
	if h, ok := s.(PreUpdateFeedHook); ok {
		b.preUpdateFeed = append(b.preUpdateFeed, h)
	}
	if h, ok := s.(FeedFetchedHook); ok {
		b.feedFetched = append(b.feedFetched, h)
	}
	if h, ok := s.(PostUpdateFeedHook); ok {
		b.postUpdateFeed = append(b.postUpdateFeed, h)
	}
	if h, ok := s.(ArticleSeenHook); ok {
		b.articleSeen = append(b.articleSeen, h)
	}
	if h, ok := s.(ArticleAddedHook); ok {
		b.articleAdded = append(b.articleAdded, h)
	}
	if h, ok := s.(ArticleUpdatedHook); ok {
		b.articleUpdated = append(b.articleUpdated, h)
	}
	if h, ok := s.(ArticleExpiredHook); ok {
		b.articleExpired = append(b.articleExpired, h)
	}
	if h, ok := s.(OutputItemsBeginHook); ok {
		b.itemsBegin = append(b.itemsBegin, h)
	}
	if h, ok := s.(OutputItemsEndHook); ok {
		b.itemsEnd = append(b.itemsEnd, h)
	}
	if h, ok := s.(OutputItemBitsHook); ok {
		b.itemBits = append(b.itemBits, h)
	}
	if h, ok := s.(OutputBitsHook); ok {
		b.outputBits = append(b.outputBits, h)
	}
	if h, ok := s.(BeforeWriteHook); ok {
		b.beforeWrite = append(b.beforeWrite, h)
	}
	if h, ok := s.(AfterWriteHook); ok {
		b.afterWrite = append(b.afterWrite, h)
	}
}

// UpdateStarted notifies subscribers that an update began.
func (b *Bus) UpdateStarted(ctx context.Context, state *model.State, now time.Time) {
	if b == nil {
		return
	}
	for _, h := range b.updateStarted {
		h.UpdateStarted(ctx, state, now)
	}
}

// UpdateFinished notifies subscribers that an update completed.
func (b *Bus) UpdateFinished(ctx context.Context, state *model.State, now time.Time) {
	if b == nil {
		return
	}
	for _, h := range b.updateFinished {
		h.UpdateFinished(ctx, state, now)
	}
}

// PreUpdateFeed notifies subscribers that feed is about to be fetched.
func (b *Bus) PreUpdateFeed(feed *model.Feed) {
	if b == nil {
		return
	}
	for _, h := range b.preUpdateFeed {
		h.PreUpdateFeed(feed)
	}
}

// FeedFetched reports a classified fetch.
func (b *Bus) FeedFetched(ctx context.Context, report FetchReport) {
	if b == nil {
		return
	}
	for _, h := range b.feedFetched {
		h.FeedFetched(ctx, report)
	}
}

// PostUpdateFeed reports that merging for feed finished.
func (b *Bus) PostUpdateFeed(feed *model.Feed, gotItems bool) {
	if b == nil {
		return
	}
	for _, h := range b.postUpdateFeed {
		h.PostUpdateFeed(feed, gotItems)
	}
}

// ArticleSeen reports whether any subscriber vetoes the article. Dispatch
// stops at the first veto.
func (b *Bus) ArticleSeen(article *model.Article) bool {
	if b == nil {
		return false
	}
	for _, h := range b.articleSeen {
		if h.ArticleSeen(article) {
			return true
		}
	}
	return false
}

// ArticleAdded reports an inserted article.
func (b *Bus) ArticleAdded(article *model.Article, now time.Time) {
	if b == nil {
		return
	}
	for _, h := range b.articleAdded {
		h.ArticleAdded(article, now)
	}
}

// ArticleUpdated reports a re-observed article.
func (b *Bus) ArticleUpdated(article *model.Article, now time.Time) {
	if b == nil {
		return
	}
	for _, h := range b.articleUpdated {
		h.ArticleUpdated(article, now)
	}
}

// ArticleExpired reports an article about to be deleted.
func (b *Bus) ArticleExpired(article *model.Article, now time.Time) {
	if b == nil {
		return
	}
	for _, h := range b.articleExpired {
		h.ArticleExpired(article, now)
	}
}

// OutputItemsBegin lets subscribers write ahead of the items.
func (b *Bus) OutputItemsBegin(w io.Writer) {
	if b == nil {
		return
	}
	for _, h := range b.itemsBegin {
		h.OutputItemsBegin(w)
	}
}

// OutputItemsEnd lets subscribers write after the items.
func (b *Bus) OutputItemsEnd(w io.Writer) {
	if b == nil {
		return
	}
	for _, h := range b.itemsEnd {
		h.OutputItemsEnd(w)
	}
}

// OutputItemBits lets subscribers rewrite one item's bindings.
func (b *Bus) OutputItemBits(feed *model.Feed, article *model.Article, bits map[string]string) {
	if b == nil {
		return
	}
	for _, h := range b.itemBits {
		h.OutputItemBits(feed, article, bits)
	}
}

// OutputBits lets subscribers rewrite the page bindings.
func (b *Bus) OutputBits(bits map[string]string) {
	if b == nil {
		return
	}
	for _, h := range b.outputBits {
		h.OutputBits(bits)
	}
}

// BeforeWrite reports whether a subscriber handled output itself. Dispatch
// stops at the first subscriber that does.
func (b *Bus) BeforeWrite(ctx context.Context, articles []*model.Article, dates map[string]time.Time) bool {
	if b == nil {
		return false
	}
	for _, h := range b.beforeWrite {
		if h.BeforeWrite(ctx, articles, dates) {
			return true
		}
	}
	return false
}

// AfterWrite reports the written page.
func (b *Bus) AfterWrite(ctx context.Context, target string, page []byte) {
	if b == nil {
		return
	}
	for _, h := range b.afterWrite {
		h.AfterWrite(ctx, target, page)
	}
}
