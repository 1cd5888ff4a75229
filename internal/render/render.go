// Package render turns selected articles into the output page using
// __key__ templates.
package render

import (
	"context"
	"html"
	"strconv"
	"strings"
	"time"

	"github.com/JakeFAU/feedroll/internal/model"
	"github.com/JakeFAU/feedroll/internal/plugin"
)

// Version is reported in the page's version binding.
var Version = "1.0.0"

// Sanitizer makes feed-provided markup safe to embed.
type Sanitizer interface {
	Sanitize(markup, base string, inline bool) string
}

// Settings configure page generation.
type Settings struct {
	// PageTemplate and ItemTemplate are file paths, or DefaultTemplate.
	PageTemplate string
	ItemTemplate string
	Formats      TimeFormats
	DaySections  bool
	TimeSections bool
	UseRefresh   bool
	ShowFeeds    bool
	ExpireAge    time.Duration
	Defines      map[string]string
}

// Renderer produces the output page.
type Renderer struct {
	settings  Settings
	sanitizer Sanitizer
	cache     *FileCache
	bus       *plugin.Bus
}

// New builds a Renderer. A nil cache gets a private one.
func New(settings Settings, sanitizer Sanitizer, cache *FileCache, bus *plugin.Bus) *Renderer {
	if cache == nil {
		cache = NewFileCache()
	}
	if settings.PageTemplate == "" {
		settings.PageTemplate = DefaultTemplate
	}
	if settings.ItemTemplate == "" {
		settings.ItemTemplate = DefaultTemplate
	}
	return &Renderer{settings: settings, sanitizer: sanitizer, cache: cache, bus: bus}
}

// PageTemplate returns the configured page template.
func (r *Renderer) PageTemplate() (string, error) {
	if r.settings.PageTemplate == DefaultTemplate {
		return defaultPageTemplate(r.settings.UseRefresh, r.settings.ShowFeeds), nil
	}
	return r.cache.Load(r.settings.PageTemplate)
}

// ItemTemplate returns the configured item template.
func (r *Renderer) ItemTemplate() (string, error) {
	if r.settings.ItemTemplate == DefaultTemplate {
		return defaultItemTemplate, nil
	}
	return r.cache.Load(r.settings.ItemTemplate)
}

// Render writes the selected articles, newest first, into the page template.
// dates holds each article's display date keyed by hash.
func (r *Renderer) Render(_ context.Context, feeds map[string]*model.Feed, articles []*model.Article, dates map[string]time.Time) ([]byte, error) {
	itemTmpl, err := r.ItemTemplate()
	if err != nil {
		return nil, err
	}
	pageTmpl, err := r.PageTemplate()
	if err != nil {
		return nil, err
	}

	var items strings.Builder
	days := NewDayWriter(&items, r.settings.Formats, r.settings.DaySections, r.settings.TimeSections)
	r.bus.OutputItemsBegin(&items)
	written := 0
	for _, a := range articles {
		feed, ok := feeds[a.FeedURL]
		if !ok {
			continue
		}
		date, ok := dates[a.Hash]
		if !ok {
			date = a.Added
		}
		days.Time(date)
		bits := r.ItemBits(feed, a)
		r.bus.OutputItemBits(feed, a, bits)
		items.WriteString(Fill(itemTmpl, bits))
		written++
	}
	days.Close(0)
	r.bus.OutputItemsEnd(&items)

	bits := r.PageBits(feeds)
	bits["items"] = items.String()
	bits["num_items"] = strconv.Itoa(written)
	r.bus.OutputBits(bits)
	return []byte(Fill(pageTmpl, bits)), nil
}

func escape(s string) string {
	return html.EscapeString(s)
}
