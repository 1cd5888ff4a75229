// Package collyfetcher implements fetcher.Fetcher using gocolly for HTTP and
// gofeed for parsing.
package collyfetcher

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"mime"
	"net"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/mmcdole/gofeed"

	"github.com/JakeFAU/feedroll/internal/fetcher"
	"github.com/JakeFAU/feedroll/internal/model"
)

const defaultTimeout = 30 * time.Second

const acceptHeader = "application/atom+xml,application/rdf+xml,application/rss+xml," +
	"application/x-netcdf,application/xml;q=0.9,text/xml;q=0.2,*/*;q=0.1"

// Waiter delays a request, typically for per-host politeness.
type Waiter interface {
	Wait(ctx context.Context, url string) error
}

// Config controls collector behavior.
type Config struct {
	UserAgent string
	Timeout   time.Duration
	Limiter   Waiter
}

// Fetcher implements fetcher.Fetcher using a fresh Colly collector per feed.
type Fetcher struct {
	cfg       Config
	transport *http.Transport
}

type collectorHooks interface {
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Fetcher.
func New(cfg Config) *Fetcher {
	return &Fetcher{
		cfg:       cfg,
		transport: newHTTPTransport(),
	}
}

// Fetch retrieves and parses one feed.
func (f *Fetcher) Fetch(ctx context.Context, req fetcher.Request) *model.FetchResult {
	result := &model.FetchResult{URL: req.URL}
	if f.cfg.Limiter != nil {
		if err := f.cfg.Limiter.Wait(ctx, req.URL); err != nil {
			result.Err = err
			return result
		}
	}

	collector, redirects, err := f.buildCollector(req)
	if err != nil {
		result.Err = err
		return result
	}
	var (
		resp     *colly.Response
		fetchErr error
	)
	f.configureCollectorHooks(collector, &resp, &fetchErr)

	err = f.runCollector(ctx, func() error {
		return collector.Request(http.MethodGet, req.URL, nil, nil, requestHeaders(req))
	})
	if err == nil {
		err = fetchErr
	}
	if err != nil {
		if isTimeout(err) && ctx.Err() == nil {
			// A timeout yields an empty result with no status.
			return result
		}
		result.Err = fmt.Errorf("fetch %s: %w", req.URL, err)
		return result
	}
	if resp == nil {
		result.Err = fmt.Errorf("fetch %s: no response", req.URL)
		return result
	}
	return f.buildResult(req, resp, redirects)
}

func (f *Fetcher) buildCollector(req fetcher.Request) (*colly.Collector, *redirectState, error) {
	collector := colly.NewCollector(colly.Async(false), colly.AllowURLRevisit())
	if f.cfg.UserAgent != "" {
		collector.UserAgent = f.cfg.UserAgent
	}
	collector.ParseHTTPErrorResponse = true
	collector.IgnoreRobotsTxt = true

	timeout := req.Timeout
	if timeout == 0 {
		timeout = f.cfg.Timeout
	}
	if timeout == 0 {
		timeout = defaultTimeout
	}
	collector.SetRequestTimeout(timeout)

	var base http.RoundTripper = f.transport
	if len(req.Options.Proxies) > 0 {
		proxy, err := proxyFunc(req.Options.Proxies, req.Options.ProxyUser, req.Options.ProxyPassword)
		if err != nil {
			return nil, nil, err
		}
		t := f.transport.Clone()
		t.Proxy = proxy
		base = t
	}
	state := newRedirectState()
	collector.WithTransport(&redirectTrackingTransport{base: base, state: state})
	return collector, state, nil
}

func (f *Fetcher) configureCollectorHooks(hooks collectorHooks, resp **colly.Response, fetchErr *error) {
	hooks.OnResponse(func(r *colly.Response) {
		*resp = r
	})
	hooks.OnError(func(r *colly.Response, err error) {
		*resp = r
		*fetchErr = err
	})
}

func (f *Fetcher) runCollector(ctx context.Context, visit func() error) error {
	done := make(chan error, 1)
	go func() {
		done <- visit()
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("colly visit failed: %w", err)
		}
		return nil
	}
}

func (f *Fetcher) buildResult(req fetcher.Request, resp *colly.Response, redirects *redirectState) *model.FetchResult {
	result := &model.FetchResult{
		Status: resp.StatusCode,
		URL:    req.URL,
	}
	if finalURL := redirects.final(); finalURL != "" {
		result.URL = finalURL
	}
	if resp.Headers != nil {
		result.ETag = resp.Headers.Get("ETag")
		result.LastModified = resp.Headers.Get("Last-Modified")
		result.Encoding = charsetOf(resp.Headers.Get("Content-Type"))
	}
	// A permanent first hop reports the move whatever the new location answered.
	if finalURL, moved := redirects.movedPermanently(); moved {
		result.Status = http.StatusMovedPermanently
		result.URL = finalURL
	}
	if resp.StatusCode == http.StatusNotModified || resp.StatusCode >= http.StatusBadRequest {
		return result
	}

	feed, err := gofeed.NewParser().Parse(bytes.NewReader(resp.Body))
	if err != nil {
		result.Err = fmt.Errorf("parse feed %s: %w", req.URL, err)
		return result
	}
	result.Info, result.Entries = convertFeed(feed, result.URL)
	return result
}

func requestHeaders(req fetcher.Request) http.Header {
	hdr := http.Header{}
	hdr.Set("Accept", acceptHeader)
	if req.ETag != "" {
		hdr.Set("If-None-Match", req.ETag)
	}
	if req.LastModified != "" {
		hdr.Set("If-Modified-Since", req.LastModified)
	}
	if req.UseDelta {
		hdr.Set("A-IM", "feed")
	}
	if req.Options.User != "" && req.Options.Password != "" {
		creds := base64.StdEncoding.EncodeToString([]byte(req.Options.User + ":" + req.Options.Password))
		hdr.Set("Authorization", "Basic "+creds)
	}
	return hdr
}

func charsetOf(contentType string) string {
	if contentType == "" {
		return ""
	}
	_, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		return ""
	}
	return strings.ToLower(params["charset"])
}

var markupPattern = regexp.MustCompile(`<[a-zA-Z/!][^>]*>|&[a-zA-Z#][a-zA-Z0-9]*;`)

// detail wraps feed text, guessing HTML when it carries tags or entities.
func detail(value, base string) *model.Detail {
	if value == "" {
		return nil
	}
	typ := "text/plain"
	if markupPattern.MatchString(value) {
		typ = "text/html"
	}
	return &model.Detail{Type: typ, Value: value, Base: base}
}

func convertFeed(feed *gofeed.Feed, base string) (*model.FeedInfo, []model.Entry) {
	info := &model.FeedInfo{
		Title: detail(feed.Title, base),
		Link:  feed.Link,
	}
	entries := make([]model.Entry, 0, len(feed.Items))
	for _, item := range feed.Items {
		if item == nil {
			continue
		}
		entries = append(entries, convertItem(item, base))
	}
	return info, entries
}

func convertItem(item *gofeed.Item, base string) model.Entry {
	entry := model.Entry{
		ID:        item.GUID,
		Title:     detail(item.Title, base),
		Link:      item.Link,
		Summary:   detail(item.Description, base),
		Updated:   item.UpdatedParsed,
		Published: item.PublishedParsed,
	}
	if entry.Link == "" && len(item.Links) > 0 {
		entry.Link = item.Links[0]
	}
	if c := detail(item.Content, base); c != nil {
		entry.Content = []model.Detail{*c}
	}
	author := item.Author
	if len(item.Authors) > 0 && item.Authors[0] != nil {
		author = item.Authors[0]
	}
	if author != nil {
		entry.Author = author.Name
		entry.AuthorEmail = author.Email
	}
	return entry
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
