package merge

import (
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/htmlindex"

	"github.com/JakeFAU/feedroll/internal/model"
)

// Normalize rewrites every string in the result's entries and feed info as
// valid UTF-8, decoding with the declared charset and falling back to
// ISO-8859-1 so the byte stream is preserved.
func Normalize(result *model.FetchResult) {
	if result == nil {
		return
	}
	dec := decoderFor(result.Encoding)
	fix := func(s string) string {
		if utf8.ValidString(s) {
			return s
		}
		if dec != nil {
			if out, err := dec.String(s); err == nil && utf8.ValidString(out) {
				return out
			}
		}
		out, err := charmap.ISO8859_1.NewDecoder().String(s)
		if err != nil {
			return s
		}
		return out
	}
	fixDetail := func(d *model.Detail) {
		if d == nil {
			return
		}
		d.Value = fix(d.Value)
		d.Base = fix(d.Base)
	}

	if result.Info != nil {
		fixDetail(result.Info.Title)
		result.Info.Link = fix(result.Info.Link)
	}
	for i := range result.Entries {
		e := &result.Entries[i]
		e.ID = fix(e.ID)
		e.Link = fix(e.Link)
		e.Author = fix(e.Author)
		e.AuthorEmail = fix(e.AuthorEmail)
		e.AuthorURL = fix(e.AuthorURL)
		fixDetail(e.Title)
		fixDetail(e.Summary)
		for j := range e.Content {
			fixDetail(&e.Content[j])
		}
	}
}

func decoderFor(name string) *encoding.Decoder {
	if name == "" {
		return nil
	}
	enc, err := htmlindex.Get(name)
	if err != nil || enc == nil {
		return nil
	}
	return enc.NewDecoder()
}
