// Package publisher announces new articles to downstream consumers.
package publisher

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/feedroll/internal/model"
)

// EventArticleAdded is the event name of a new-article announcement.
const EventArticleAdded = "article.added"

// Publisher sends a JSON-encodable payload tagged with an event name and
// returns the message ID assigned by the transport.
type Publisher interface {
	Publish(ctx context.Context, event string, payload any) (string, error)
	Close() error
}

// NoOp discards every message.
type NoOp struct{}

// Publish does nothing.
func (NoOp) Publish(context.Context, string, any) (string, error) { return "", nil }

// Close does nothing.
func (NoOp) Close() error { return nil }

// ArticleEvent is the payload announced for a new article.
type ArticleEvent struct {
	RunID   string     `json:"run_id,omitempty"`
	Hash    string     `json:"hash"`
	Feed    string     `json:"feed"`
	Title   string     `json:"title,omitempty"`
	Link    string     `json:"link,omitempty"`
	GUID    string     `json:"guid,omitempty"`
	Date    *time.Time `json:"date,omitempty"`
	AddedAt time.Time  `json:"added_at"`
}

// ArticleNotifier collects articles added during an update and publishes
// them once the update finishes, so nothing is sent for a run that fails
// before merging completes.
type ArticleNotifier struct {
	pub    Publisher
	runID  string
	logger *zap.Logger

	mu      sync.Mutex
	pending []ArticleEvent
}

// NewArticleNotifier builds a notifier publishing through pub.
func NewArticleNotifier(pub Publisher, runID string, logger *zap.Logger) *ArticleNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ArticleNotifier{pub: pub, runID: runID, logger: logger}
}

// ArticleAdded queues an announcement.
func (n *ArticleNotifier) ArticleAdded(a *model.Article, now time.Time) {
	ev := ArticleEvent{
		RunID:   n.runID,
		Hash:    a.Hash,
		Feed:    a.FeedURL,
		Link:    a.Entry.Link,
		GUID:    a.Entry.ID,
		Date:    a.Date,
		AddedAt: now,
	}
	if a.Entry.Title != nil {
		ev.Title = a.Entry.Title.Value
	}
	n.mu.Lock()
	n.pending = append(n.pending, ev)
	n.mu.Unlock()
}

// UpdateFinished publishes the queued announcements. Failures are logged;
// they never fail the update.
func (n *ArticleNotifier) UpdateFinished(ctx context.Context, _ *model.State, _ time.Time) {
	n.mu.Lock()
	pending := n.pending
	n.pending = nil
	n.mu.Unlock()

	published := 0
	for _, ev := range pending {
		if _, err := n.pub.Publish(ctx, EventArticleAdded, ev); err != nil {
			n.logger.Warn("publish article event failed", zap.String("hash", ev.Hash), zap.Error(err))
			continue
		}
		published++
	}
	if len(pending) > 0 {
		n.logger.Debug("published article events", zap.Int("published", published), zap.Int("queued", len(pending)))
	}
}
