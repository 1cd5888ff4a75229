// Package scheduler fans feed fetches out over a bounded pool of goroutines
// and collects one result per feed.
package scheduler

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/feedroll/internal/model"
)

// FetchFunc retrieves one feed. It is called concurrently from workers.
type FetchFunc func(ctx context.Context, feed *model.Feed) *model.FetchResult

// ActivityObserver tracks how many workers are fetching at a time.
type ActivityObserver interface {
	IncActiveWorkers()
	DecActiveWorkers()
}

// JobSet is the set of feed URLs still to be fetched together with the
// results gathered so far. One mutex guards both.
type JobSet struct {
	mu      sync.Mutex
	jobs    []string
	results map[string]*model.FetchResult
}

// NewJobSet builds a job set from the given URLs.
func NewJobSet(urls []string) *JobSet {
	return &JobSet{
		jobs:    append([]string(nil), urls...),
		results: make(map[string]*model.FetchResult, len(urls)),
	}
}

// Claim hands the next URL to exactly one caller.
func (s *JobSet) Claim() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.jobs) == 0 {
		return "", false
	}
	url := s.jobs[0]
	s.jobs = s.jobs[1:]
	return url, true
}

// Len returns the number of unclaimed jobs.
func (s *JobSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.jobs)
}

// Complete records the result for url.
func (s *JobSet) Complete(url string, res *model.FetchResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results[url] = res
}

// Results returns a copy of the collected results.
func (s *JobSet) Results() map[string]*model.FetchResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]*model.FetchResult, len(s.results))
	for k, v := range s.results {
		out[k] = v
	}
	return out
}

// Scheduler runs fetches concurrently.
type Scheduler struct {
	fetch    FetchFunc
	observer ActivityObserver
	logger   *zap.Logger
}

// New creates a Scheduler. observer may be nil.
func New(fetch FetchFunc, observer ActivityObserver, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{fetch: fetch, observer: observer, logger: logger}
}

// Run fetches every feed using up to workers goroutines and returns once all
// of them have finished. Callers handle workers <= 0 by fetching inline.
func (s *Scheduler) Run(ctx context.Context, feeds []*model.Feed, workers int) map[string]*model.FetchResult {
	byURL := make(map[string]*model.Feed, len(feeds))
	urls := make([]string, 0, len(feeds))
	for _, f := range feeds {
		if _, dup := byURL[f.URL]; dup {
			continue
		}
		byURL[f.URL] = f
		urls = append(urls, f.URL)
	}
	jobs := NewJobSet(urls)
	if workers > len(urls) {
		workers = len(urls)
	}
	s.logger.Debug("Fetch pool starting", zap.Int("jobs", len(urls)), zap.Int("workers", workers))

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(num int) {
			defer wg.Done()
			s.work(ctx, num, jobs, byURL)
		}(i)
	}
	wg.Wait()

	results := jobs.Results()
	s.logger.Debug("Fetch pool finished", zap.Int("results", len(results)))
	return results
}

func (s *Scheduler) work(ctx context.Context, num int, jobs *JobSet, feeds map[string]*model.Feed) {
	s.logger.Debug("Worker starting", zap.Int("worker", num))
	for {
		url, ok := jobs.Claim()
		if !ok {
			break
		}
		s.logger.Debug("Worker fetching feed", zap.Int("worker", num), zap.String("url", url))
		jobs.Complete(url, s.fetchOne(ctx, feeds[url]))
	}
	s.logger.Debug("Worker done", zap.Int("worker", num))
}

func (s *Scheduler) fetchOne(ctx context.Context, feed *model.Feed) (res *model.FetchResult) {
	if s.observer != nil {
		s.observer.IncActiveWorkers()
		defer s.observer.DecActiveWorkers()
	}
	defer func() {
		if r := recover(); r != nil {
			res = &model.FetchResult{URL: feed.URL, Err: fmt.Errorf("fetcher panicked: %v", r)}
		}
	}()
	res = s.fetch(ctx, feed)
	if res == nil {
		res = &model.FetchResult{URL: feed.URL, Err: fmt.Errorf("fetcher returned no result")}
	}
	return res
}
