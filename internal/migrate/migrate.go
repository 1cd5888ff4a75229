// Package migrate converts persisted state between the single-file and
// per-feed layouts.
package migrate

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/feedroll/internal/model"
	"github.com/JakeFAU/feedroll/internal/store"
)

// Migrator moves articles between the root state and per-feed files under Dir.
type Migrator struct {
	dir    string
	opts   store.Options
	logger *zap.Logger
}

// New builds a Migrator for the state directory dir. opts is used to open
// per-feed files.
func New(dir string, opts store.Options, logger *zap.Logger) *Migrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Migrator{dir: dir, opts: opts, logger: logger}
}

// Sync brings state to the requested layout. It does nothing when the layout
// already matches; a state with no recorded layout counts as single-file.
//
// commit persists the root state. It is called once the articles are safely
// in their new home and before anything in the old layout is discarded, so
// an interrupted run leaves readable state that the next run finishes.
func (m *Migrator) Sync(state *model.State, split bool, commit func() error) error {
	if commit == nil {
		commit = func() error { return nil }
	}
	if state.UsingSplitState != nil && *state.UsingSplitState == split {
		return nil
	}
	if state.SplitState() == split {
		// Only the flag is missing.
		state.SetSplitState(split)
		return nil
	}
	if split {
		return m.toSplit(state, commit)
	}
	return m.toSingle(state, commit)
}

func (m *Migrator) toSplit(state *model.State, commit func() error) error {
	m.logger.Info("converting to split state files", zap.Int("feeds", len(state.Feeds)))
	for url := range state.Feeds {
		p, err := model.OpenFeedState(m.dir, url, m.opts)
		if err != nil {
			return err
		}
		fs := p.Object()
		fs.Articles = map[string]*model.Article{}
		for hash, a := range state.Articles {
			if a.FeedURL == url {
				fs.Articles[hash] = a
			}
		}
		fs.MarkModified()
		err = p.Save()
		if cerr := p.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			return fmt.Errorf("migrate %s to split state: %w", url, err)
		}
	}
	state.Articles = map[string]*model.Article{}
	state.SetSplitState(true)
	return commit()
}

func (m *Migrator) toSingle(state *model.State, commit func() error) error {
	m.logger.Info("converting to single state file", zap.Int("feeds", len(state.Feeds)))
	articles := map[string]*model.Article{}
	for url := range state.Feeds {
		p, err := model.OpenFeedState(m.dir, url, m.opts)
		if err != nil {
			return err
		}
		for hash, a := range p.Object().Articles {
			articles[hash] = a
		}
		if err := p.Close(); err != nil {
			return fmt.Errorf("migrate %s to single state: %w", url, err)
		}
	}
	state.Articles = articles
	state.SetSplitState(false)
	if err := commit(); err != nil {
		return err
	}
	for url := range state.Feeds {
		if err := model.RemoveFeedState(m.dir, url); err != nil {
			return err
		}
	}
	return nil
}
