// Package fetcher defines the feed retrieval contract used by the scheduler
// and the aggregator.
package fetcher

import (
	"context"
	"time"

	"github.com/JakeFAU/feedroll/internal/config"
	"github.com/JakeFAU/feedroll/internal/model"
)

// Request describes one conditional feed retrieval.
type Request struct {
	URL          string
	ETag         string
	LastModified string
	Options      config.FeedOptions
	// UseDelta advertises RFC 3229 delta encoding with "A-IM: feed".
	UseDelta bool
	Timeout  time.Duration
}

// Fetcher retrieves and parses a feed. Failures are reported in
// FetchResult.Err, never by panicking or returning nil.
type Fetcher interface {
	Fetch(ctx context.Context, req Request) *model.FetchResult
}

// Func adapts a function to the Fetcher interface.
type Func func(ctx context.Context, req Request) *model.FetchResult

// Fetch calls f.
func (f Func) Fetch(ctx context.Context, req Request) *model.FetchResult {
	return f(ctx, req)
}

// NewRequest builds the request for a feed. Delta encoding is only safe when
// articles missing from a response are not treated as deleted and at least one
// article is retained.
func NewRequest(feed *model.Feed, keepMin int, currentOnly bool, timeout time.Duration) Request {
	return Request{
		URL:          feed.URL,
		ETag:         feed.ETag,
		LastModified: feed.LastModified,
		Options:      feed.Options,
		UseDelta:     feed.Options.KeepMinOr(keepMin) != 0 && !currentOnly,
		Timeout:      timeout,
	}
}
