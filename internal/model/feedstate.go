package model

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/JakeFAU/feedroll/internal/store"
)

// OpenFeedState opens the split-state file of the feed at url, relative to
// the state directory dir.
func OpenFeedState(dir, url string, opts store.Options) (*store.Persister[*FeedState], error) {
	p, err := store.Open(filepath.Join(dir, StateFileFor(url)), NewFeedState, opts)
	if err != nil {
		return nil, fmt.Errorf("open feed state for %s: %w", url, err)
	}
	p.Object().EnsureMaps()
	return p, nil
}

// RemoveFeedState deletes the split-state file of url and its lock file. A
// missing file is not an error.
func RemoveFeedState(dir, url string) error {
	path := filepath.Join(dir, StateFileFor(url))
	for _, p := range []string{path, path + ".lock"} {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("remove feed state: %w", err)
		}
	}
	return nil
}

// RenameFeedState moves the split-state file of oldURL to the name used by
// newURL. A missing file is not an error.
func RenameFeedState(dir, oldURL, newURL string) error {
	from := filepath.Join(dir, StateFileFor(oldURL))
	to := filepath.Join(dir, StateFileFor(newURL))
	if err := os.Rename(from, to); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("rename feed state: %w", err)
	}
	_ = os.Remove(from + ".lock")
	return nil
}
