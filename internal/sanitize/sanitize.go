// Package sanitize turns feed-provided markup into HTML that is safe to embed
// in the generated page.
package sanitize

import (
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/net/html"
)

var allowedElements = setOf(
	"a", "abbr", "acronym", "address", "area", "b", "big", "blockquote", "br",
	"caption", "center", "cite", "code", "col", "colgroup", "dd", "del", "dfn",
	"dir", "div", "dl", "dt", "em", "font", "h1", "h2", "h3", "h4", "h5", "h6",
	"hr", "i", "img", "ins", "kbd", "li", "map", "menu", "ol", "p", "pre", "q",
	"s", "samp", "small", "span", "strike", "strong", "sub", "sup", "table",
	"tbody", "td", "tfoot", "th", "thead", "tr", "tt", "u", "ul", "var",
)

// Content inside these is dropped along with the tags.
var droppedElements = setOf("script", "style", "applet", "object", "embed", "iframe", "noscript", "title")

var voidElements = setOf("area", "br", "col", "hr", "img")

var allowedAttributes = setOf(
	"abbr", "align", "alt", "axis", "border", "cellpadding", "cellspacing",
	"char", "charoff", "cite", "class", "clear", "color", "cols", "colspan",
	"compact", "coords", "datetime", "dir", "face", "headers", "height", "href",
	"hreflang", "hspace", "id", "lang", "longdesc", "name", "noshade", "nowrap",
	"rel", "rev", "rows", "rowspan", "rules", "scope", "shape", "size", "span",
	"src", "start", "summary", "target", "title", "type", "usemap", "valign",
	"vspace", "width",
)

var uriAttributes = setOf("href", "src", "cite", "longdesc", "usemap")

var safeSchemes = setOf("", "http", "https", "ftp", "mailto", "news", "nntp", "gopher", "feed")

var blockLevel = regexp.MustCompile(`(?i)^\s*<(p|h1|h2|h3|h4|h5|h6|ul|ol|pre|dl|div|noscript|blockquote|form|hr|table|fieldset|address)[^a-z]`)

// Sanitizer cleans markup.
type Sanitizer struct {
	blockLevel bool
}

// New builds a Sanitizer. With blockLevel set, block-context output that
// does not start with a block element is prefixed with <p>.
func New(blockLevel bool) *Sanitizer {
	return &Sanitizer{blockLevel: blockLevel}
}

// Sanitize strips disallowed elements and attributes, resolves relative
// links against base and encodes non-ASCII characters as numeric references.
// inline selects between an inline fragment and a sequence of blocks.
func (s *Sanitizer) Sanitize(markup, base string, inline bool) string {
	var baseURL *url.URL
	if base != "" {
		if u, err := url.Parse(base); err == nil {
			baseURL = u
		}
	}

	var b strings.Builder
	z := html.NewTokenizer(strings.NewReader(markup))
	skip := 0
	for {
		tt := z.Next()
		if tt == html.ErrorToken {
			// io.EOF; a strings.Reader has no other failure.
			break
		}
		tok := z.Token()
		switch tt {
		case html.TextToken:
			if skip == 0 {
				b.WriteString(EncodeReferences(html.EscapeString(tok.Data)))
			}
		case html.StartTagToken, html.SelfClosingTagToken:
			name := tok.Data
			if _, drop := droppedElements[name]; drop {
				if tt == html.StartTagToken {
					skip++
				}
				continue
			}
			if _, ok := allowedElements[name]; !ok || skip > 0 {
				continue
			}
			b.WriteByte('<')
			b.WriteString(name)
			writeAttributes(&b, tok.Attr, baseURL)
			if _, void := voidElements[name]; void {
				b.WriteString(" />")
			} else {
				b.WriteByte('>')
			}
		case html.EndTagToken:
			name := tok.Data
			if _, drop := droppedElements[name]; drop {
				if skip > 0 {
					skip--
				}
				continue
			}
			if skip > 0 {
				continue
			}
			_, ok := allowedElements[name]
			_, void := voidElements[name]
			if ok && !void {
				b.WriteString("</" + name + ">")
			}
		}
	}

	out := b.String()
	if !inline && s.blockLevel && !blockLevel.MatchString(out) {
		out = "<p>" + out
	}
	return out
}

func writeAttributes(b *strings.Builder, attrs []html.Attribute, base *url.URL) {
	for _, a := range attrs {
		key := strings.ToLower(a.Key)
		if a.Namespace != "" {
			continue
		}
		if _, ok := allowedAttributes[key]; !ok {
			continue
		}
		val := a.Val
		if _, isURI := uriAttributes[key]; isURI {
			resolved, ok := resolveURI(val, base)
			if !ok {
				continue
			}
			val = resolved
		}
		b.WriteByte(' ')
		b.WriteString(key)
		b.WriteString(`="`)
		b.WriteString(EncodeReferences(html.EscapeString(val)))
		b.WriteByte('"')
	}
}

func resolveURI(raw string, base *url.URL) (string, bool) {
	ref, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", false
	}
	if _, ok := safeSchemes[strings.ToLower(ref.Scheme)]; !ok {
		return "", false
	}
	if base != nil {
		ref = base.ResolveReference(ref)
	}
	return ref.String(), true
}

// EncodeReferences replaces every non-ASCII character with a numeric
// character reference.
func EncodeReferences(s string) string {
	ascii := true
	for i := 0; i < len(s); i++ {
		if s[i] > 0x7f {
			ascii = false
			break
		}
	}
	if ascii {
		return s
	}
	var b strings.Builder
	for _, r := range s {
		if r > 0x7f {
			b.WriteString("&#" + strconv.Itoa(int(r)) + ";")
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func setOf(items ...string) map[string]struct{} {
	m := make(map[string]struct{}, len(items))
	for _, it := range items {
		m[it] = struct{}{}
	}
	return m
}
