package collyfetcher

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"

	"github.com/gocolly/colly/v2"
	"github.com/mmcdole/gofeed"
)

var feedLinkTypes = []string{
	"application/rss+xml",
	"application/atom+xml",
	"application/rdf+xml",
	"application/xml",
	"text/xml",
}

var feedSuffixes = []string{".rss", ".rdf", ".xml", ".atom"}

// partScores steers the choice between a site's several feeds.
var partScores = map[string]int{
	"comment": -10,
	"atom":    2,
}

// Discover returns the feeds a page links to, best first. A URL that is itself
// a feed is returned as the only candidate.
func (f *Fetcher) Discover(ctx context.Context, pageURL string) ([]string, error) {
	collector := colly.NewCollector(colly.Async(false), colly.AllowURLRevisit())
	if f.cfg.UserAgent != "" {
		collector.UserAgent = f.cfg.UserAgent
	}
	timeout := f.cfg.Timeout
	if timeout == 0 {
		timeout = defaultTimeout
	}
	collector.SetRequestTimeout(timeout)
	collector.WithTransport(f.transport)

	var (
		found    []string
		anchors  []string
		isFeed   bool
		fetchErr error
	)
	seen := map[string]struct{}{}
	add := func(list *[]string, u string) {
		if u == "" {
			return
		}
		if _, ok := seen[u]; ok {
			return
		}
		seen[u] = struct{}{}
		*list = append(*list, u)
	}

	collector.OnResponse(func(r *colly.Response) {
		if _, err := gofeed.NewParser().Parse(bytes.NewReader(r.Body)); err == nil {
			isFeed = true
		}
	})
	collector.OnHTML(`link[rel~="alternate"]`, func(e *colly.HTMLElement) {
		typ := strings.ToLower(strings.TrimSpace(e.Attr("type")))
		for _, t := range feedLinkTypes {
			if typ == t {
				add(&found, e.Request.AbsoluteURL(e.Attr("href")))
				return
			}
		}
	})
	collector.OnHTML("a[href]", func(e *colly.HTMLElement) {
		href := strings.ToLower(e.Attr("href"))
		for _, suffix := range feedSuffixes {
			if strings.HasSuffix(href, suffix) {
				add(&anchors, e.Request.AbsoluteURL(e.Attr("href")))
				return
			}
		}
	})
	collector.OnError(func(_ *colly.Response, err error) {
		fetchErr = err
	})

	if err := f.runCollector(ctx, func() error {
		return collector.Request(http.MethodGet, pageURL, nil, nil, http.Header{"Accept": {acceptHeader}})
	}); err != nil {
		return nil, fmt.Errorf("discover feeds: %w", err)
	}
	if fetchErr != nil {
		return nil, fmt.Errorf("discover feeds: %w", fetchErr)
	}
	if isFeed {
		return []string{pageURL}, nil
	}
	if len(found) == 0 {
		found = anchors
	}
	return RankFeeds(found), nil
}

// RankFeeds orders candidate feed URLs by preference: comment feeds last,
// Atom ahead of other formats, otherwise alphabetically.
func RankFeeds(urls []string) []string {
	ranked := append([]string(nil), urls...)
	score := func(u string) int {
		s := 0
		for part, v := range partScores {
			if strings.Contains(u, part) {
				s += v
			}
		}
		return s
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		si, sj := score(ranked[i]), score(ranked[j])
		if si != sj {
			return si > sj
		}
		return ranked[i] < ranked[j]
	})
	return ranked
}
