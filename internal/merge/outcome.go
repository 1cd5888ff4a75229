package merge

import (
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/JakeFAU/feedroll/internal/model"
)

// Outcome is the feed-level verdict on one fetch.
type Outcome int

const (
	// OutcomeOK means the entries should be merged.
	OutcomeOK Outcome = iota
	// OutcomeMoved means the feed redirected permanently; entries are still merged.
	OutcomeMoved
	// OutcomeGone means the feed is forbidden or gone and should be unsubscribed.
	OutcomeGone
	// OutcomeError is a transient failure.
	OutcomeError
	// OutcomeIgnored is a timeout the configuration says to disregard.
	OutcomeIgnored
)

func (o Outcome) String() string {
	switch o {
	case OutcomeOK:
		return "ok"
	case OutcomeMoved:
		return "moved"
	case OutcomeGone:
		return "gone"
	case OutcomeError:
		return "error"
	case OutcomeIgnored:
		return "ignored"
	default:
		return "unknown"
	}
}

// Mergeable reports whether entries should be merged after this outcome.
func (o Outcome) Mergeable() bool {
	return o == OutcomeOK || o == OutcomeMoved
}

// FeedError describes a problem with one feed. It never aborts a batch.
type FeedError struct {
	URL     string
	Status  int
	Message string
	Outcome Outcome
}

func (e *FeedError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("feed %s: HTTP %d: %s", e.URL, e.Status, e.Message)
	}
	return fmt.Sprintf("feed %s: %s", e.URL, e.Message)
}

// NonFatal reports whether processing of the feed continues after the error.
func (e *FeedError) NonFatal() bool {
	return e.Outcome == OutcomeMoved
}

// Report writes the operator-facing block for the error.
func (e *FeedError) Report(w io.Writer) error {
	block := "Feed:        " + e.URL + "\n"
	if e.Status != 0 {
		block += "HTTP Status: " + strconv.Itoa(e.Status) + "\n"
	}
	block += e.Message + "\n\n"
	if _, err := io.WriteString(w, block); err != nil {
		return fmt.Errorf("write feed error: %w", err)
	}
	return nil
}

// ClassifyOptions tunes Classify.
type ClassifyOptions struct {
	IgnoreTimeouts bool
	ChangeConfig   bool
}

// Classify decides what to do with a fetch result. The returned error is nil
// for OutcomeOK and OutcomeIgnored.
func Classify(feedURL string, result *model.FetchResult, opts ClassifyOptions) (Outcome, *FeedError) {
	if result == nil {
		result = &model.FetchResult{}
	}
	fail := func(o Outcome, msg string) (Outcome, *FeedError) {
		return o, &FeedError{URL: feedURL, Status: result.Status, Message: msg, Outcome: o}
	}
	status := result.Status
	switch {
	case result.Err != nil:
		return fail(OutcomeError, "Error fetching or parsing feed: "+result.Err.Error())
	case status == 0 && result.Info == nil && len(result.Entries) == 0:
		if opts.IgnoreTimeouts {
			return OutcomeIgnored, nil
		}
		return fail(OutcomeError, "Timeout while reading feed.")
	case status == 0:
		return OutcomeOK, nil
	case status == http.StatusMovedPermanently:
		msg := "New URL:     " + result.URL + "\n" +
			"The feed has moved permanently to a new URL.\n"
		if opts.ChangeConfig {
			msg += "The config file has been updated automatically."
		} else {
			msg += "You should update its entry in your config file."
		}
		return fail(OutcomeMoved, msg)
	case status == http.StatusForbidden || status == http.StatusGone:
		return fail(OutcomeGone, "The feed has gone.\n"+
			"You should remove it from your config file.")
	case status >= 400 && status < 600:
		return fail(OutcomeError, "The feed returned an error.\n"+
			"If this condition persists, you should remove it from your config file.")
	default:
		return OutcomeOK, nil
	}
}
