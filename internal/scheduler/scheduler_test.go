package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/feedroll/internal/model"
)

func feeds(n int) []*model.Feed {
	out := make([]*model.Feed, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, model.NewFeed(fmt.Sprintf("https://example.com/%d", i)))
	}
	return out
}

type gauge struct {
	mu      sync.Mutex
	current int
	peak    int
}

func (g *gauge) IncActiveWorkers() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.current++
	if g.current > g.peak {
		g.peak = g.current
	}
}

func (g *gauge) DecActiveWorkers() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.current--
}

func TestRunFetchesEachFeedOnce(t *testing.T) {
	t.Parallel()

	var calls sync.Map
	var total atomic.Int32
	fetch := func(_ context.Context, f *model.Feed) *model.FetchResult {
		total.Add(1)
		if _, loaded := calls.LoadOrStore(f.URL, true); loaded {
			t.Errorf("feed %s fetched twice", f.URL)
		}
		time.Sleep(5 * time.Millisecond)
		return &model.FetchResult{URL: f.URL, Status: 200}
	}
	g := &gauge{}
	s := New(fetch, g, zap.NewNop())

	results := s.Run(context.Background(), feeds(20), 4)
	require.Len(t, results, 20)
	assert.Equal(t, int32(20), total.Load())
	for url, res := range results {
		assert.Equal(t, url, res.URL)
	}
	assert.LessOrEqual(t, g.peak, 4)
	assert.Equal(t, 0, g.current)
}

func TestRunClampsWorkers(t *testing.T) {
	t.Parallel()

	g := &gauge{}
	started := make(chan struct{}, 10)
	fetch := func(_ context.Context, f *model.Feed) *model.FetchResult {
		started <- struct{}{}
		time.Sleep(10 * time.Millisecond)
		return &model.FetchResult{URL: f.URL}
	}
	results := New(fetch, g, nil).Run(context.Background(), feeds(2), 10)
	assert.Len(t, results, 2)
	assert.LessOrEqual(t, g.peak, 2)
	assert.Len(t, started, 2)
}

func TestRunRecoversPanics(t *testing.T) {
	t.Parallel()

	fetch := func(_ context.Context, f *model.Feed) *model.FetchResult {
		if f.URL == "https://example.com/1" {
			panic("boom")
		}
		return &model.FetchResult{URL: f.URL}
	}
	results := New(fetch, nil, nil).Run(context.Background(), feeds(3), 2)
	require.Len(t, results, 3)
	require.Error(t, results["https://example.com/1"].Err)
	assert.Contains(t, results["https://example.com/1"].Err.Error(), "panicked")
	assert.NoError(t, results["https://example.com/0"].Err)
}

func TestRunKeepsErrorsPerFeed(t *testing.T) {
	t.Parallel()

	fetch := func(_ context.Context, f *model.Feed) *model.FetchResult {
		return &model.FetchResult{URL: f.URL, Err: errors.New("unreachable")}
	}
	results := New(fetch, nil, nil).Run(context.Background(), feeds(2), 2)
	for _, res := range results {
		assert.EqualError(t, res.Err, "unreachable")
	}
}

func TestRunNoJobs(t *testing.T) {
	t.Parallel()

	results := New(nil, nil, nil).Run(context.Background(), nil, 4)
	assert.Empty(t, results)
}

func TestJobSetClaimOnce(t *testing.T) {
	t.Parallel()

	js := NewJobSet([]string{"a", "b", "c"})
	assert.Equal(t, 3, js.Len())

	seen := map[string]int{}
	var mu sync.Mutex
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				url, ok := js.Claim()
				if !ok {
					return
				}
				mu.Lock()
				seen[url]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, map[string]int{"a": 1, "b": 1, "c": 1}, seen)
	assert.Equal(t, 0, js.Len())
}
