package render

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/JakeFAU/feedroll/internal/hash/sha256"
	"github.com/JakeFAU/feedroll/internal/model"
)

var detailScores = map[string]int{
	"text/html":             30,
	"application/xhtml+xml": 20,
	"text/plain":            10,
}

// selectDetail picks the richest non-empty detail.
func selectDetail(details ...*model.Detail) *model.Detail {
	var best *model.Detail
	bestScore := -1
	for _, d := range details {
		if d == nil || d.Value == "" {
			continue
		}
		if score := detailScores[d.Type]; score > bestScore {
			best, bestScore = d, score
		}
	}
	return best
}

func (r *Renderer) detailHTML(inline, preformatted bool, details ...*model.Detail) string {
	d := selectDetail(details...)
	if d == nil {
		return ""
	}
	var markup string
	switch {
	case preformatted:
		markup = "<pre>" + escape(d.Value) + "</pre>"
	case d.Type == "text/plain" || d.Type == "":
		markup = escape(d.Value)
	default:
		markup = d.Value
	}
	return r.sanitizer.Sanitize(markup, d.Base, inline)
}

func (r *Renderer) stringHTML(s string) string {
	return r.sanitizer.Sanitize(escape(s), "", true)
}

// FeedName is the feed's display name as inline HTML: its title, else its
// link, else its URL.
func (r *Renderer) FeedName(feed *model.Feed) string {
	if feed.Info.Title != nil {
		return r.detailHTML(true, false, feed.Info.Title)
	}
	if feed.Info.Link != "" {
		return r.stringHTML(feed.Info.Link)
	}
	return r.stringHTML(feed.URL)
}

// FeedLink is FeedName wrapped in a link to the feed's site when known.
func (r *Renderer) FeedLink(feed *model.Feed) string {
	name := r.FeedName(feed)
	if feed.Info.Link == "" {
		return name
	}
	return `<a href="` + r.stringHTML(feed.Info.Link) + `">` + name + `</a>`
}

var nonAlphanumeric = regexp.MustCompile(`<[^>]*>|&[^;]*;|[^a-z0-9]`)

// FeedID is the feed's configured id, else its lowercased name reduced to
// letters and digits.
func (r *Renderer) FeedID(feed *model.Feed) string {
	if feed.Options.ID != "" {
		return feed.Options.ID
	}
	return nonAlphanumeric.ReplaceAllString(strings.ToLower(r.FeedName(feed)), "")
}

func (r *Renderer) authorHTML(e model.Entry, feedURL string) string {
	name := e.Author
	link := e.AuthorURL
	if link == "" && e.AuthorEmail != "" {
		link = "mailto:" + e.AuthorEmail
	}
	if name == "" {
		switch {
		case e.AuthorEmail != "":
			name = e.AuthorEmail
		case e.AuthorURL != "":
			name = e.AuthorURL
		default:
			return ""
		}
	}
	markup := name
	if link != "" {
		markup = `<a href="` + escape(link) + `">` + escape(name) + `</a>`
	}
	return r.sanitizer.Sanitize(markup, feedURL, true)
}

// ItemBits builds the template bindings for one article.
func (r *Renderer) ItemBits(feed *model.Feed, a *model.Article) map[string]string {
	e := a.Entry
	bits := map[string]string{}
	for name, value := range feed.Options.Defines {
		bits[name] = r.sanitizer.Sanitize(value, "", true)
	}

	title := r.detailHTML(true, false, e.Title)
	if title == "" {
		title = "Article"
		if e.Link != "" {
			title = "Link"
		}
	}
	bits["title_no_link"] = title
	bits["title"] = title
	bits["url"] = ""
	if e.Link != "" {
		bits["url"] = r.stringHTML(e.Link)
		bits["title"] = `<a href="` + bits["url"] + `">` + title + `</a>`
	}
	bits["guid"] = ""
	if e.ID != "" {
		bits["guid"] = r.stringHTML(e.ID)
	}

	preformatted := feed.Options.Format == "text"
	switch {
	case len(e.Content) > 0:
		content := make([]*model.Detail, len(e.Content))
		for i := range e.Content {
			content[i] = &e.Content[i]
		}
		bits["description"] = r.detailHTML(false, preformatted, content...)
	case e.Summary != nil:
		bits["description"] = r.detailHTML(false, preformatted, e.Summary)
	default:
		bits["description"] = ""
	}

	bits["feed_title_no_link"] = r.detailHTML(true, false, feed.Info.Title)
	bits["feed_title"] = r.FeedLink(feed)
	bits["feed_url"] = r.stringHTML(feed.URL)
	bits["feed_hash"] = sha256.Short(feed.URL)
	bits["feed_id"] = r.FeedID(feed)
	bits["hash"] = sha256.Short(a.Hash)
	bits["author"] = r.authorHTML(e, feed.URL)
	bits["added"] = r.settings.Formats.FormatDateTime(a.Added)
	bits["date"] = ""
	if a.Date != nil {
		bits["date"] = r.settings.Formats.FormatDateTime(*a.Date)
	}
	return bits
}

// PageBits builds the page bindings other than items and num_items.
func (r *Renderer) PageBits(feeds map[string]*model.Feed) map[string]string {
	bits := map[string]string{"version": Version}
	for k, v := range r.settings.Defines {
		bits[k] = v
	}

	refresh := r.settings.ExpireAge
	for _, f := range feeds {
		if f.Period < refresh {
			refresh = f.Period
		}
	}
	bits["refresh"] = `<meta http-equiv="Refresh" content="` + strconv.Itoa(int(refresh/time.Second)) + `">`

	type row struct {
		key  string
		feed *model.Feed
	}
	rows := make([]row, 0, len(feeds))
	for _, f := range feeds {
		rows = append(rows, row{key: strings.ToLower(r.FeedName(f)), feed: f})
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].key != rows[j].key {
			return rows[i].key < rows[j].key
		}
		return rows[i].feed.URL < rows[j].feed.URL
	})

	var b strings.Builder
	b.WriteString("<table id=\"feeds\">\n<tr id=\"feedsheader\">\n" +
		"<th>Feed</th><th>RSS</th><th>Last fetched</th><th>Next fetched after</th>\n</tr>\n")
	for _, rw := range rows {
		f := rw.feed
		b.WriteString("<tr class=\"feedsrow\">\n")
		b.WriteString("<td>" + r.FeedLink(f) + "</td>\n")
		b.WriteString(`<td><a class="xmlbutton" href="` + escape(f.URL) + "\">XML</a></td>\n")
		b.WriteString("<td>" + r.settings.Formats.FormatDateTime(f.LastUpdate) + "</td>\n")
		b.WriteString("<td>" + r.settings.Formats.FormatDateTime(f.LastUpdate.Add(f.Period)) + "</td>\n")
		b.WriteString("</tr>\n")
	}
	b.WriteString("</table>\n")
	bits["feeds"] = b.String()
	bits["num_feeds"] = strconv.Itoa(len(rows))
	return bits
}
