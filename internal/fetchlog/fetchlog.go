// Package fetchlog records one row per feed fetch for later analysis.
package fetchlog

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/feedroll/internal/plugin"
)

// Result values stored in Record.Result.
const (
	ResultOK          = "ok"
	ResultNotModified = "not_modified"
	ResultMoved       = "moved"
	ResultError       = "error"
)

// Record is one fetch as persisted.
type Record struct {
	ID           string
	RunID        string
	FeedURL      string
	FinalURL     string
	FetchedAt    time.Time
	Status       int
	Result       string
	ETag         string
	LastModified string
	Entries      int
	Error        string
}

// Store persists fetch records.
type Store interface {
	StoreFetch(ctx context.Context, rec Record) error
}

// NoopStore drops every record.
type NoopStore struct{}

// StoreFetch does nothing.
func (NoopStore) StoreFetch(context.Context, Record) error { return nil }

// IDGenerator issues record IDs.
type IDGenerator interface {
	NewID() (string, error)
}

// Hook writes a Record for every FeedFetched notification. Store failures are
// logged and never abort the update.
type Hook struct {
	store  Store
	ids    IDGenerator
	runID  string
	logger *zap.Logger
}

// NewHook builds a Hook.
func NewHook(store Store, ids IDGenerator, runID string, logger *zap.Logger) *Hook {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hook{store: store, ids: ids, runID: runID, logger: logger}
}

// FeedFetched implements plugin.FeedFetchedHook.
func (h *Hook) FeedFetched(ctx context.Context, report plugin.FetchReport) {
	rec := RecordFrom(report)
	rec.RunID = h.runID
	id, err := h.ids.NewID()
	if err != nil {
		h.logger.Warn("fetch log id failed", zap.String("feed", rec.FeedURL), zap.Error(err))
		return
	}
	rec.ID = id
	if err := h.store.StoreFetch(ctx, rec); err != nil {
		h.logger.Warn("fetch log write failed", zap.String("feed", rec.FeedURL), zap.Error(err))
	}
}

// RecordFrom converts a report into a Record without ID or run.
func RecordFrom(report plugin.FetchReport) Record {
	rec := Record{Result: Classify(report)}
	if report.Feed != nil {
		rec.FeedURL = report.Feed.URL
		rec.FetchedAt = report.Feed.LastUpdate
	}
	if r := report.Result; r != nil {
		rec.FinalURL = r.URL
		rec.Status = r.Status
		rec.ETag = r.ETag
		rec.LastModified = r.LastModified
		rec.Entries = len(r.Entries)
	}
	rec.Error = report.Error
	return rec
}

// Classify maps a report to one of the Result constants.
func Classify(report plugin.FetchReport) string {
	switch {
	case report.Error != "" && report.NonFatal:
		return ResultMoved
	case report.Error != "":
		return ResultError
	case report.Result != nil && report.Result.Status == http.StatusNotModified:
		return ResultNotModified
	default:
		return ResultOK
	}
}
