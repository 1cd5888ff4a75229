package merge

import (
	"errors"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"golang.org/x/text/encoding/charmap"

	"github.com/JakeFAU/feedroll/internal/model"
)

func TestClassify(t *testing.T) {
	t.Parallel()

	info := &model.FeedInfo{Link: "https://example.com/"}
	tests := []struct {
		name    string
		result  *model.FetchResult
		opts    ClassifyOptions
		want    Outcome
		message string
	}{
		{name: "error", result: &model.FetchResult{Err: errors.New("boom")}, want: OutcomeError, message: "Error fetching or parsing feed: boom"},
		{name: "timeout", result: &model.FetchResult{}, want: OutcomeError, message: "Timeout while reading feed."},
		{name: "ignored timeout", result: &model.FetchResult{}, opts: ClassifyOptions{IgnoreTimeouts: true}, want: OutcomeIgnored},
		{name: "no status with feed", result: &model.FetchResult{Info: info}, want: OutcomeOK},
		{name: "ok", result: &model.FetchResult{Status: 200}, want: OutcomeOK},
		{name: "not modified", result: &model.FetchResult{Status: 304}, want: OutcomeOK},
		{name: "moved", result: &model.FetchResult{Status: 301, URL: "https://new/"}, opts: ClassifyOptions{ChangeConfig: true}, want: OutcomeMoved, message: "The config file has been updated automatically."},
		{name: "forbidden", result: &model.FetchResult{Status: http.StatusForbidden}, want: OutcomeGone, message: "The feed has gone."},
		{name: "gone", result: &model.FetchResult{Status: http.StatusGone}, want: OutcomeGone, message: "The feed has gone."},
		{name: "not found", result: &model.FetchResult{Status: http.StatusNotFound}, want: OutcomeError, message: "The feed returned an error."},
		{name: "server error", result: &model.FetchResult{Status: http.StatusBadGateway}, want: OutcomeError, message: "If this condition persists"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, ferr := Classify("https://example.com/feed", tt.result, tt.opts)
			assert.Equal(t, tt.want, got)
			if tt.message == "" {
				assert.Nil(t, ferr)
				return
			}
			if assert.NotNil(t, ferr) {
				assert.Contains(t, ferr.Message, tt.message)
				assert.Equal(t, tt.want == OutcomeMoved, ferr.NonFatal())
			}
		})
	}
}

func TestReportOmitsMissingStatus(t *testing.T) {
	t.Parallel()

	var b strings.Builder
	err := (&FeedError{URL: "u", Message: "Timeout while reading feed."}).Report(&b)
	assert.NoError(t, err)
	assert.Equal(t, "Feed:        u\nTimeout while reading feed.\n\n", b.String())
}

func TestNormalizeDecodesDeclaredCharset(t *testing.T) {
	t.Parallel()

	latin, err := charmap.Windows1252.NewEncoder().String("café €")
	assert.NoError(t, err)

	res := &model.FetchResult{
		Encoding: "windows-1252",
		Entries:  []model.Entry{{Title: &model.Detail{Value: latin}}},
	}
	Normalize(res)
	assert.Equal(t, "café €", res.Entries[0].Title.Value)
}

func TestNormalizeFallsBackToLatin1(t *testing.T) {
	t.Parallel()

	res := &model.FetchResult{
		Encoding: "no-such-charset",
		Info:     &model.FeedInfo{Title: &model.Detail{Value: "na\xefve"}},
	}
	Normalize(res)
	assert.Equal(t, "naïve", res.Info.Title.Value)
}
