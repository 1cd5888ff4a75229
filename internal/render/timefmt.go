package render

import (
	"fmt"
	"io"
	"time"

	"github.com/ncruces/go-strftime"

	"github.com/JakeFAU/feedroll/internal/sanitize"
)

// TimeFormats holds the strftime layouts used in output.
type TimeFormats struct {
	Day      string
	Time     string
	DateTime string
	// Location defaults to time.Local.
	Location *time.Location
}

func (f TimeFormats) location() *time.Location {
	if f.Location == nil {
		return time.Local
	}
	return f.Location
}

// Format renders t with layout in the configured zone, as ASCII HTML.
func (f TimeFormats) Format(layout string, t time.Time) string {
	return sanitize.EncodeReferences(strftime.Format(layout, t.In(f.location())))
}

// FormatDateTime renders a full timestamp. Without a DateTime layout it
// joins the time and day layouts.
func (f TimeFormats) FormatDateTime(t time.Time) string {
	layout := f.DateTime
	if layout == "" {
		layout = f.Time + ", " + f.Day
	}
	return f.Format(layout, t)
}

// DayWriter emits the nested day and time section headings between items.
type DayWriter struct {
	w       io.Writer
	formats TimeFormats
	days    bool
	times   bool
	last    time.Time
	started bool
	open    int
}

// NewDayWriter builds a DayWriter writing to w.
func NewDayWriter(w io.Writer, formats TimeFormats, daySections, timeSections bool) *DayWriter {
	return &DayWriter{w: w, formats: formats, days: daySections, times: timeSections}
}

// Time opens new sections when t starts a new day or a new second relative
// to the previous item.
func (d *DayWriter) Time(t time.Time) {
	t = t.In(d.formats.location())
	y, m, day := t.Date()
	ly, lm, lday := d.last.Date()
	newDay := !d.started || y != ly || m != lm || day != lday
	newTime := newDay || t.Hour() != d.last.Hour() || t.Minute() != d.last.Minute() || t.Second() != d.last.Second()

	if newDay && d.days {
		d.Close(0)
		fmt.Fprintf(d.w, "<div class=\"day\">\n<h2>%s</h2>\n", d.formats.Format(d.formats.Day, t))
		d.open++
	}
	if newTime && d.times {
		if d.days {
			d.Close(1)
		} else {
			d.Close(0)
		}
		fmt.Fprintf(d.w, "<div class=\"time\">\n<h3>%s</h3>\n", d.formats.Format(d.formats.Time, t))
		d.open++
	}
	d.last = t
	d.started = true
}

// Close ends open sections until only n remain.
func (d *DayWriter) Close(n int) {
	for d.open > n {
		_, _ = io.WriteString(d.w, "</div>\n")
		d.open--
	}
}
