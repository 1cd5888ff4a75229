package aggregator

import (
	"context"
	"errors"
	"fmt"

	"github.com/JakeFAU/feedroll/internal/config"
	"github.com/JakeFAU/feedroll/internal/hash/sha256"
)

// List prints every subscribed feed with its identifiers.
func (a *Aggregator) List() {
	for _, url := range sortedKeys(a.state.Feeds) {
		feed := a.state.Feeds[url]
		fmt.Fprintln(a.stdout, url)
		fmt.Fprintln(a.stdout, "  ID:", a.renderer.FeedID(feed))
		fmt.Fprintln(a.stdout, "  Hash:", sha256.Short(url))
		fmt.Fprintln(a.stdout, "  Title:", a.renderer.FeedName(feed))
		fmt.Fprintln(a.stdout, "  Link:", feed.Info.Link)
	}
}

// ShowTemplate prints the page template in use.
func (a *Aggregator) ShowTemplate() error {
	tmpl, err := a.renderer.PageTemplate()
	if err != nil {
		return fmt.Errorf("load template: %w", err)
	}
	fmt.Fprintln(a.stdout, tmpl)
	return nil
}

// ShowItemTemplate prints the item template in use.
func (a *Aggregator) ShowItemTemplate() error {
	tmpl, err := a.renderer.ItemTemplate()
	if err != nil {
		return fmt.Errorf("load item template: %w", err)
	}
	fmt.Fprintln(a.stdout, tmpl)
	return nil
}

// AddFeed subscribes to the best feed found at pageURL, using the configured
// new_feed_period, and syncs the state with the rewritten config.
func (a *Aggregator) AddFeed(ctx context.Context, pageURL string) error {
	feeds := []string{pageURL}
	if a.finder != nil {
		found, err := a.finder.Discover(ctx, pageURL)
		if err != nil {
			return fmt.Errorf("add feed: %w", err)
		}
		feeds = found
	}
	if len(feeds) == 0 {
		fmt.Fprintln(a.stderr, "Cannot find any feeds in "+pageURL)
		return nil
	}

	feed := feeds[0]
	if _, ok := a.state.Feeds[feed]; ok {
		fmt.Fprintln(a.stderr, "Feed "+feed+" is already in the config file")
		return nil
	}
	fmt.Fprintln(a.stderr, "Adding feed "+feed)
	if err := config.AddFeed(a.cfg.Path, feed, a.cfg.NewFeedPeriod); err != nil {
		if errors.Is(err, config.ErrFeedExists) {
			fmt.Fprintln(a.stderr, "Feed "+feed+" is already in the config file")
			return nil
		}
		return fmt.Errorf("add feed: %w", err)
	}
	return a.Reload()
}

// RemoveFeed unsubscribes url and syncs the state with the rewritten config.
func (a *Aggregator) RemoveFeed(url string) error {
	removed, err := config.RemoveFeed(a.cfg.Path, url)
	if err != nil {
		return fmt.Errorf("remove feed: %w", err)
	}
	if !removed {
		fmt.Fprintln(a.stderr, "Feed "+url+" is not in the config file")
		return nil
	}
	fmt.Fprintln(a.stderr, "Removing feed "+url)
	return a.Reload()
}
