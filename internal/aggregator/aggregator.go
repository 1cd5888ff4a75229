// Package aggregator drives a feedroll run: it keeps the persisted state in
// step with the configuration, updates feeds, and writes the output page.
package aggregator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/feedroll/internal/clock/system"
	"github.com/JakeFAU/feedroll/internal/config"
	"github.com/JakeFAU/feedroll/internal/expiry"
	"github.com/JakeFAU/feedroll/internal/fetcher"
	"github.com/JakeFAU/feedroll/internal/merge"
	"github.com/JakeFAU/feedroll/internal/migrate"
	"github.com/JakeFAU/feedroll/internal/model"
	"github.com/JakeFAU/feedroll/internal/output"
	"github.com/JakeFAU/feedroll/internal/plugin"
	"github.com/JakeFAU/feedroll/internal/render"
	"github.com/JakeFAU/feedroll/internal/sanitize"
	"github.com/JakeFAU/feedroll/internal/scheduler"
	"github.com/JakeFAU/feedroll/internal/storage"
	"github.com/JakeFAU/feedroll/internal/store"
)

// StateFileName is the root state file inside the state directory.
const StateFileName = "state"

// ErrStateVersion is returned when the root state was written in a format
// this build cannot read.
var ErrStateVersion = errors.New("incompatible state version")

// Clock abstracts time so runs are reproducible in tests.
type Clock interface {
	Now() time.Time
}

// FeedFinder lists the feeds a web page links to, best first.
type FeedFinder interface {
	Discover(ctx context.Context, pageURL string) ([]string, error)
}

// Options wire an Aggregator's collaborators. Nil collaborators get inert
// defaults, except Fetcher, which Update requires.
type Options struct {
	Config  config.Config
	Store   store.Options
	Fetcher fetcher.Fetcher
	Finder  FeedFinder
	// Output receives the page at Config.OutputFile.
	Output storage.Provider
	// Mirror, when set, receives a copy of the page at MirrorPath.
	Mirror     storage.Provider
	MirrorPath string
	Bus        *plugin.Bus
	Clock      Clock
	Observer   scheduler.ActivityObserver
	Logger     *zap.Logger
	Stdout     io.Writer
	Stderr     io.Writer
}

// Aggregator owns the locked root state for the duration of a run.
type Aggregator struct {
	cfg        config.Config
	storeOpts  store.Options
	fetcher    fetcher.Fetcher
	finder     FeedFinder
	output     storage.Provider
	mirror     storage.Provider
	mirrorPath string
	bus        *plugin.Bus
	clock      Clock
	observer   scheduler.ActivityObserver
	logger     *zap.Logger
	stdout     io.Writer
	stderr     io.Writer

	persister *store.Persister[*model.State]
	state     *model.State

	engine    *merge.Engine
	expirer   *expiry.Expirer
	migrator  *migrate.Migrator
	selector  *output.Selector
	renderer  *render.Renderer
	scheduler *scheduler.Scheduler
}

// Open loads and locks the root state in the configured directory and checks
// its version. The caller must Close the Aggregator.
func Open(opts Options) (*Aggregator, error) {
	a := &Aggregator{
		cfg:        opts.Config,
		storeOpts:  opts.Store,
		fetcher:    opts.Fetcher,
		finder:     opts.Finder,
		output:     opts.Output,
		mirror:     opts.Mirror,
		mirrorPath: opts.MirrorPath,
		bus:        opts.Bus,
		clock:      opts.Clock,
		observer:   opts.Observer,
		logger:     opts.Logger,
		stdout:     opts.Stdout,
		stderr:     opts.Stderr,
	}
	if a.clock == nil {
		a.clock = system.New()
	}
	if a.logger == nil {
		a.logger = zap.NewNop()
	}
	if a.stdout == nil {
		a.stdout = os.Stdout
	}
	if a.stderr == nil {
		a.stderr = os.Stderr
	}
	if a.output == nil {
		a.output = storage.NoOpProvider{}
	}

	path := filepath.Join(a.cfg.Dir, StateFileName)
	p, err := store.Open(path, model.NewState, a.storeOpts)
	if err != nil {
		return nil, err
	}
	state := p.Object()
	if state.Version != model.StateVersion {
		_ = p.Close()
		return nil, fmt.Errorf("state file %s was created by another version and cannot be read; removing it will fix the problem: %w", path, ErrStateVersion)
	}
	state.EnsureMaps()
	a.persister = p
	a.state = state
	a.build()
	return a, nil
}

func (a *Aggregator) build() {
	cfg := a.cfg
	a.engine = merge.NewEngine(merge.Options{
		IgnoreTimeouts: cfg.IgnoreTimeouts,
		ChangeConfig:   cfg.ChangeConfig,
		UseIDs:         cfg.UseIDs,
		CurrentOnly:    cfg.CurrentOnly,
	}, a.bus, a.logger, a.stderr)
	a.expirer = expiry.New(expiry.Policy{ExpireAge: cfg.ExpireAge, KeepMin: cfg.KeepMin}, a.bus, a.logger)
	a.migrator = migrate.New(cfg.Dir, a.storeOpts, a.logger)
	a.selector = output.New(output.Options{
		MaxArticles:    cfg.MaxArticles,
		MaxAge:         cfg.MaxAge,
		HideDuplicates: cfg.HideDuplicates,
		SortByFeedDate: cfg.SortByFeedDate,
		Split:          cfg.SplitState,
		Dir:            cfg.Dir,
		Store:          a.storeOpts,
	}, a.logger)
	a.renderer = render.New(render.Settings{
		PageTemplate: a.templatePath(cfg.Template),
		ItemTemplate: a.templatePath(cfg.ItemTemplate),
		Formats: render.TimeFormats{
			Day:      cfg.DayFormat,
			Time:     cfg.TimeFormat,
			DateTime: cfg.DateTimeFormat,
		},
		DaySections:  cfg.DaySections,
		TimeSections: cfg.TimeSections,
		UseRefresh:   cfg.UseRefresh,
		ShowFeeds:    cfg.ShowFeeds,
		ExpireAge:    cfg.ExpireAge,
		Defines:      cfg.Defines,
	}, sanitize.New(cfg.BlockLevelHTML), render.NewFileCache(), a.bus)
	a.scheduler = scheduler.New(a.prefetch, a.observer, a.logger)
}

func (a *Aggregator) templatePath(name string) string {
	if name == "" || name == render.DefaultTemplate {
		return render.DefaultTemplate
	}
	return a.cfg.ResolvePath(name)
}

// State exposes the loaded root state.
func (a *Aggregator) State() *model.State {
	return a.state
}

// Save writes the root state if it changed.
func (a *Aggregator) Save() error {
	if err := a.persister.Save(); err != nil {
		return fmt.Errorf("save state: %w", err)
	}
	return nil
}

// Close saves the root state and releases its lock.
func (a *Aggregator) Close() error {
	saveErr := a.Save()
	closeErr := a.persister.Close()
	if saveErr != nil {
		return saveErr
	}
	if closeErr != nil {
		return fmt.Errorf("release state: %w", closeErr)
	}
	return nil
}

// Release drops the lock without saving, discarding changes made since the
// last Save.
func (a *Aggregator) Release() error {
	if err := a.persister.Close(); err != nil {
		return fmt.Errorf("release state: %w", err)
	}
	return nil
}

// SyncFromConfig brings the state in line with the configuration: it
// converts the storage layout if needed, then adds, updates and removes
// feeds to match the feed list.
func (a *Aggregator) SyncFromConfig() error {
	if err := a.migrator.Sync(a.state, a.cfg.SplitState, a.Save); err != nil {
		return fmt.Errorf("sync state layout: %w", err)
	}

	seen := make(map[string]struct{}, len(a.cfg.Feeds))
	for _, fc := range a.cfg.Feeds {
		seen[fc.URL] = struct{}{}
		feed, ok := a.state.Feeds[fc.URL]
		if !ok {
			a.logger.Info("Adding new feed", zap.String("url", fc.URL))
			feed = model.NewFeed(fc.URL)
			a.state.Feeds[fc.URL] = feed
			a.state.MarkModified()
		}
		if feed.Period != fc.Period {
			a.logger.Debug("Changed feed period", zap.String("url", fc.URL), zap.Duration("period", fc.Period))
			feed.Period = fc.Period
			a.state.MarkModified()
		}
		if !feed.Options.Equal(fc.Options) {
			a.logger.Debug("Changed feed options", zap.String("url", fc.URL))
			feed.Options = fc.Options
			a.state.MarkModified()
		}
	}

	for _, url := range sortedKeys(a.state.Feeds) {
		if _, ok := seen[url]; ok {
			continue
		}
		a.logger.Info("Removing feed", zap.String("url", url))
		if a.state.SplitState() {
			if err := model.RemoveFeedState(a.cfg.Dir, url); err != nil {
				return err
			}
		} else {
			for key, art := range a.state.Articles {
				if art.FeedURL == url {
					delete(a.state.Articles, key)
				}
			}
		}
		delete(a.state.Feeds, url)
		a.state.MarkModified()
	}
	return nil
}

// Reload re-reads the configuration file and syncs the state with it.
func (a *Aggregator) Reload() error {
	cfg, err := config.Load(a.cfg.Dir, a.cfg.Path)
	if err != nil {
		return err
	}
	a.cfg = cfg
	return a.SyncFromConfig()
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
