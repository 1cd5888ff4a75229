// Package model defines the persisted feed and article graph shared by the
// aggregator components.
package model

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/JakeFAU/feedroll/internal/config"
	"github.com/JakeFAU/feedroll/internal/hash/sha256"
	"github.com/JakeFAU/feedroll/internal/store"
)

// StateVersion is the on-disk format version of State.
const StateVersion = 2

// Detail is a piece of feed text together with its content type and base URL.
type Detail struct {
	Type  string `json:"type,omitempty"`
	Value string `json:"value"`
	Base  string `json:"base,omitempty"`
}

// Entry is the raw payload of one feed item as parsed.
type Entry struct {
	ID          string     `json:"id,omitempty"`
	Title       *Detail    `json:"title,omitempty"`
	Link        string     `json:"link,omitempty"`
	Content     []Detail   `json:"content,omitempty"`
	Summary     *Detail    `json:"summary,omitempty"`
	Author      string     `json:"author,omitempty"`
	AuthorEmail string     `json:"author_email,omitempty"`
	AuthorURL   string     `json:"author_url,omitempty"`
	Updated     *time.Time `json:"updated,omitempty"`
	Published   *time.Time `json:"published,omitempty"`
	Created     *time.Time `json:"created,omitempty"`
}

// Date returns the first of updated, published and created that is set.
func (e Entry) Date() *time.Time {
	for _, t := range []*time.Time{e.Updated, e.Published, e.Created} {
		if t != nil {
			d := t.UTC()
			return &d
		}
	}
	return nil
}

// FeedInfo caches feed-level metadata from the last successful fetch.
type FeedInfo struct {
	Title *Detail `json:"title,omitempty"`
	Link  string  `json:"link,omitempty"`
}

// Feed is a subscribed feed and its fetch bookkeeping.
type Feed struct {
	URL          string             `json:"url"`
	Period       time.Duration      `json:"period"`
	Options      config.FeedOptions `json:"options"`
	ETag         string             `json:"etag,omitempty"`
	LastModified string             `json:"last_modified,omitempty"`
	LastUpdate   time.Time          `json:"last_update"`
	Info         FeedInfo           `json:"info"`
}

// NewFeed returns a feed that is due immediately.
func NewFeed(url string) *Feed {
	return &Feed{URL: url, Period: config.DefaultFeedPeriod}
}

// NeedsUpdate reports whether the feed's period has elapsed since its last update.
func (f *Feed) NeedsUpdate(now time.Time) bool {
	return now.Sub(f.LastUpdate) >= f.Period
}

// StateFile returns the split-state file for the feed, relative to the state directory.
func (f *Feed) StateFile() string {
	return StateFileFor(f.URL)
}

// StateFileFor returns the split-state file for a feed URL.
func StateFileFor(url string) string {
	return fmt.Sprintf("feeds/%s.state", sha256.Short(url))
}

// Article is one entry tracked across fetches.
type Article struct {
	Hash     string     `json:"hash"`
	FeedURL  string     `json:"feed"`
	Entry    Entry      `json:"entry"`
	Sequence int        `json:"sequence"`
	Date     *time.Time `json:"date,omitempty"`
	Added    time.Time  `json:"added"`
	LastSeen time.Time  `json:"last_seen"`
}

// NewArticle builds the candidate article for an entry observed at now.
func NewArticle(feedURL string, entry Entry, now time.Time, sequence int) *Article {
	return &Article{
		Hash:     ArticleHash(feedURL, entry),
		FeedURL:  feedURL,
		Entry:    entry,
		Sequence: sequence,
		Date:     entry.Date(),
		Added:    now,
		LastSeen: now,
	}
}

// ArticleHash digests the feed URL with the entry's title, link, content and summary.
func ArticleHash(feedURL string, entry Entry) string {
	parts := []string{"feed", feedURL}
	if entry.Title != nil {
		parts = append(parts, "title", entry.Title.Value)
	}
	if entry.Link != "" {
		parts = append(parts, "link", entry.Link)
	}
	for _, c := range entry.Content {
		parts = append(parts, "content", c.Value)
	}
	if entry.Summary != nil {
		parts = append(parts, "summary", entry.Summary.Value)
	}
	return sha256.Sum(parts...)
}

// UpdateFrom copies a re-observed article's payload, keeping hash and added time.
func (a *Article) UpdateFrom(n *Article, now time.Time) {
	a.Entry = n.Entry
	a.Sequence = n.Sequence
	a.Date = n.Date
	a.LastSeen = now
}

// CanExpire reports whether the article has gone unseen for longer than expireAge.
func (a *Article) CanExpire(now time.Time, expireAge time.Duration) bool {
	return now.Sub(a.LastSeen) > expireAge
}

// SortDate is the time the article is ordered by for output.
func (a *Article) SortDate(byFeedDate bool) time.Time {
	if byFeedDate && a.Date != nil {
		return *a.Date
	}
	return a.Added
}

// State is the persisted root: feeds, articles in single-file mode and
// subscriber storage.
type State struct {
	store.Tracker
	Version  int                 `json:"version"`
	Feeds    map[string]*Feed    `json:"feeds"`
	Articles map[string]*Article `json:"articles"`
	// UsingSplitState is nil for state written before the layout was recorded.
	UsingSplitState *bool                      `json:"using_split_state,omitempty"`
	PluginStorage   map[string]json.RawMessage `json:"plugin_storage,omitempty"`
}

// NewState returns an empty state at the current version.
func NewState() *State {
	return &State{
		Version:       StateVersion,
		Feeds:         map[string]*Feed{},
		Articles:      map[string]*Article{},
		PluginStorage: map[string]json.RawMessage{},
	}
}

// EnsureMaps replaces nil maps left by decoding with empty ones.
func (s *State) EnsureMaps() {
	if s.Feeds == nil {
		s.Feeds = map[string]*Feed{}
	}
	if s.Articles == nil {
		s.Articles = map[string]*Article{}
	}
	if s.PluginStorage == nil {
		s.PluginStorage = map[string]json.RawMessage{}
	}
}

// SplitState reports the effective layout; an unknown layout means single file.
func (s *State) SplitState() bool {
	return s.UsingSplitState != nil && *s.UsingSplitState
}

// SetSplitState records the layout.
func (s *State) SetSplitState(split bool) {
	s.UsingSplitState = &split
	s.MarkModified()
}

// LoadPluginData decodes the named subscriber's storage into v. It reports
// false when nothing is stored yet.
func (s *State) LoadPluginData(name string, v any) (bool, error) {
	raw, ok := s.PluginStorage[name]
	if !ok || len(raw) == 0 {
		return false, nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return false, fmt.Errorf("decode plugin storage %s: %w", name, err)
	}
	return true, nil
}

// StorePluginData replaces the named subscriber's storage with v.
func (s *State) StorePluginData(name string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode plugin storage %s: %w", name, err)
	}
	if s.PluginStorage == nil {
		s.PluginStorage = map[string]json.RawMessage{}
	}
	s.PluginStorage[name] = raw
	s.MarkModified()
	return nil
}

// FeedState holds one feed's articles in split-state mode.
type FeedState struct {
	store.Tracker
	Articles map[string]*Article `json:"articles"`
}

// NewFeedState returns an empty container.
func NewFeedState() *FeedState {
	return &FeedState{Articles: map[string]*Article{}}
}

// EnsureMaps replaces a nil article map left by decoding.
func (s *FeedState) EnsureMaps() {
	if s.Articles == nil {
		s.Articles = map[string]*Article{}
	}
}

// FetchResult is the outcome of retrieving and parsing one feed.
type FetchResult struct {
	// Status is the HTTP status, or 0 when the transport produced none.
	Status int
	// URL is the final URL after redirects.
	URL          string
	ETag         string
	LastModified string
	Encoding     string
	// Info is nil when the response carried no feed document.
	Info    *FeedInfo
	Entries []Entry
	Err     error
}
