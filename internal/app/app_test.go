package app_test

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/feedroll/internal/app"
	"github.com/JakeFAU/feedroll/internal/config"
	"github.com/JakeFAU/feedroll/internal/fetchlog"
	"github.com/JakeFAU/feedroll/internal/publisher"
	"github.com/JakeFAU/feedroll/internal/storage"
	"github.com/JakeFAU/feedroll/internal/storage/local"
	"github.com/JakeFAU/feedroll/internal/store"
)

func baseConfig(t *testing.T) config.Config {
	t.Helper()
	return config.Config{
		Dir:        t.TempDir(),
		OutputFile: "output.html",
		Publish:    config.PublishConfig{Provider: "local"},
		FetchLog:   config.FetchLogConfig{Provider: "noop"},
		Notify:     config.NotifyConfig{Provider: "noop"},
	}
}

func TestNewApp_Success(t *testing.T) {
	t.Parallel()

	a, err := app.NewApp(context.Background(), baseConfig(t), nil, nil)
	require.NoError(t, err)
	t.Cleanup(a.Close)

	assert.NotNil(t, a.Logger())
	assert.NotEmpty(t, a.RunID())
	assert.NotNil(t, a.Metrics())
	assert.IsType(t, &local.BlobStore{}, a.Output())
	assert.Nil(t, a.Mirror())
	assert.IsType(t, fetchlog.NoopStore{}, a.FetchLog())
	assert.IsType(t, publisher.NoOp{}, a.Publisher())
	assert.NotNil(t, a.Bus())
}

func TestNewApp_StdoutAndNone(t *testing.T) {
	t.Parallel()

	cfg := baseConfig(t)
	cfg.OutputFile = "-"
	var out bytes.Buffer
	a, err := app.NewApp(context.Background(), cfg, nil, &out)
	require.NoError(t, err)
	t.Cleanup(a.Close)
	assert.Equal(t, storage.WriterProvider{W: &out}, a.Output())

	cfg = baseConfig(t)
	cfg.Publish.Provider = "none"
	b, err := app.NewApp(context.Background(), cfg, nil, nil)
	require.NoError(t, err)
	t.Cleanup(b.Close)
	assert.IsType(t, storage.NoOpProvider{}, b.Output())
}

func TestNewApp_UnknownProviders(t *testing.T) {
	t.Parallel()

	cases := map[string]func(*config.Config){
		"publish":  func(c *config.Config) { c.Publish.Provider = "ftp" },
		"fetchlog": func(c *config.Config) { c.FetchLog.Provider = "mysql" },
		"notify":   func(c *config.Config) { c.Notify.Provider = "kafka" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			cfg := baseConfig(t)
			mutate(&cfg)
			_, err := app.NewApp(context.Background(), cfg, nil, nil)
			require.Error(t, err)
			assert.Contains(t, err.Error(), "unknown "+name+" provider")
		})
	}
}

func TestNewApp_MissingOutputDir(t *testing.T) {
	t.Parallel()

	cfg := baseConfig(t)
	cfg.Dir = filepath.Join(cfg.Dir, "missing")
	_, err := app.NewApp(context.Background(), cfg, nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to initialize output")
}

func TestClose_WritesMetricsTextfile(t *testing.T) {
	t.Parallel()

	cfg := baseConfig(t)
	cfg.Metrics.Textfile = "feedroll.prom"
	a, err := app.NewApp(context.Background(), cfg, nil, nil)
	require.NoError(t, err)
	a.Close()

	data, err := os.ReadFile(filepath.Join(cfg.Dir, "feedroll.prom"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "feedroll_feeds")
}

func TestAggregatorOptions(t *testing.T) {
	t.Parallel()

	a, err := app.NewApp(context.Background(), baseConfig(t), nil, nil)
	require.NoError(t, err)
	t.Cleanup(a.Close)

	var stdout, stderr bytes.Buffer
	opts := a.AggregatorOptions(store.Options{Locking: true}, &stdout, &stderr)
	assert.True(t, opts.Store.Locking)
	assert.NotNil(t, opts.Fetcher)
	assert.NotNil(t, opts.Finder)
	assert.Same(t, a.Bus(), opts.Bus)
	assert.Equal(t, a.Output(), opts.Output)
	assert.Same(t, a.Metrics(), opts.Observer)
	assert.Same(t, &stdout, opts.Stdout)
}
