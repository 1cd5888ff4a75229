// Package output chooses which stored articles appear in the generated page
// and in what order.
package output

import (
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/feedroll/internal/config"
	"github.com/JakeFAU/feedroll/internal/model"
	"github.com/JakeFAU/feedroll/internal/store"
)

// Options configure selection.
type Options struct {
	// MaxArticles caps the selection; 0 means unlimited.
	MaxArticles int
	// MaxAge hides articles added longer ago; 0 disables the check.
	MaxAge time.Duration
	// HideDuplicates lists de-duplication keys in priority order.
	HideDuplicates []string
	SortByFeedDate bool
	// Split reads articles from per-feed files under Dir.
	Split bool
	Dir   string
	Store store.Options
}

// Key orders articles: newest first, then feed URL, sequence and hash.
type Key struct {
	Date     time.Time
	FeedURL  string
	Sequence int
	Hash     string
}

// Less reports whether k sorts before o.
func (k Key) Less(o Key) bool {
	if !k.Date.Equal(o.Date) {
		return k.Date.After(o.Date)
	}
	if k.FeedURL != o.FeedURL {
		return k.FeedURL < o.FeedURL
	}
	if k.Sequence != o.Sequence {
		return k.Sequence < o.Sequence
	}
	return k.Hash < o.Hash
}

// Selection is the result of Select.
type Selection struct {
	Articles []*model.Article
	// Dates holds each kept article's display date keyed by hash.
	Dates map[string]time.Time
	// Total is the number of articles considered before capping.
	Total      int
	Duplicates int
}

// Selector picks the articles to write.
type Selector struct {
	opts   Options
	logger *zap.Logger
}

// New builds a Selector.
func New(opts Options, logger *zap.Logger) *Selector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Selector{opts: opts, logger: logger}
}

// Select orders every stored article, caps the list and drops hidden ones.
func (s *Selector) Select(state *model.State, now time.Time) (Selection, error) {
	var keys []Key
	if s.opts.Split {
		for url := range state.Feeds {
			p, err := model.OpenFeedState(s.opts.Dir, url, s.opts.Store)
			if err != nil {
				return Selection{}, err
			}
			keys = append(keys, s.keys(p.Object().Articles)...)
			if err := p.Close(); err != nil {
				return Selection{}, err
			}
		}
	} else {
		keys = s.keys(state.Articles)
	}
	total := len(keys)

	sort.Slice(keys, func(i, j int) bool { return keys[i].Less(keys[j]) })
	if s.opts.MaxArticles > 0 && len(keys) > s.opts.MaxArticles {
		keys = keys[:s.opts.MaxArticles]
	}

	found, err := s.resolve(state, keys)
	if err != nil {
		return Selection{}, err
	}

	dates := make(map[string]time.Time, len(keys))
	ordered := make([]*model.Article, 0, len(keys))
	for _, k := range keys {
		a, ok := found[k.Hash]
		if !ok {
			continue
		}
		ordered = append(ordered, a)
		dates[a.Hash] = k.Date
	}

	sel := Selection{Dates: map[string]time.Time{}, Total: total}
	sel.Articles, sel.Duplicates = s.filter(state.Feeds, ordered, now)
	for _, a := range sel.Articles {
		sel.Dates[a.Hash] = dates[a.Hash]
	}
	s.logger.Debug("selected articles",
		zap.Int("selected", len(sel.Articles)),
		zap.Int("total", total),
		zap.Int("duplicates", sel.Duplicates))
	return sel, nil
}

func (s *Selector) keys(articles map[string]*model.Article) []Key {
	keys := make([]Key, 0, len(articles))
	for _, a := range articles {
		keys = append(keys, Key{
			Date:     a.SortDate(s.opts.SortByFeedDate),
			FeedURL:  a.FeedURL,
			Sequence: a.Sequence,
			Hash:     a.Hash,
		})
	}
	return keys
}

// resolve maps the capped keys back to articles, loading in split mode only
// the feeds that contribute. Keys of feeds that are no longer configured are
// skipped; their articles expire on a later update.
func (s *Selector) resolve(state *model.State, keys []Key) (map[string]*model.Article, error) {
	if !s.opts.Split {
		return state.Articles, nil
	}
	wanted := map[string][]string{}
	for _, k := range keys {
		if _, ok := state.Feeds[k.FeedURL]; !ok {
			continue
		}
		wanted[k.FeedURL] = append(wanted[k.FeedURL], k.Hash)
	}
	found := make(map[string]*model.Article, len(keys))
	for url, hashes := range wanted {
		p, err := model.OpenFeedState(s.opts.Dir, url, s.opts.Store)
		if err != nil {
			return nil, err
		}
		for _, h := range hashes {
			if a, ok := p.Object().Articles[h]; ok {
				found[h] = a
			}
		}
		if err := p.Close(); err != nil {
			return nil, err
		}
	}
	return found, nil
}

// filter drops articles past their max age and presentation duplicates. For
// each article only the first applicable de-duplication key is checked.
func (s *Selector) filter(feeds map[string]*model.Feed, articles []*model.Article, now time.Time) ([]*model.Article, int) {
	kept := make([]*model.Article, 0, len(articles))
	seen := map[string]map[string]struct{}{
		config.DuplicateByID:   {},
		config.DuplicateByLink: {},
	}
	dups := 0
	for _, a := range articles {
		feed, ok := feeds[a.FeedURL]
		if !ok {
			continue
		}
		maxAge := feed.Options.MaxAgeOr(s.opts.MaxAge)
		if maxAge != 0 && now.Sub(a.Added) > maxAge {
			continue
		}

		if !feed.Options.AllowDuplicates {
			dup := false
			for _, key := range s.opts.HideDuplicates {
				var value string
				switch key {
				case config.DuplicateByID:
					value = a.Entry.ID
				case config.DuplicateByLink:
					value = a.Entry.Link
				}
				if value == "" {
					continue
				}
				if _, ok := seen[key][value]; ok {
					dup = true
				}
				seen[key][value] = struct{}{}
				break
			}
			if dup {
				dups++
				continue
			}
		}
		kept = append(kept, a)
	}
	return kept, dups
}
