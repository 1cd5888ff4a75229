package store

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type counter struct {
	Tracker
	Count int               `json:"count"`
	Names map[string]string `json:"names,omitempty"`
}

func newCounter() *counter {
	return &counter{Names: map[string]string{}}
}

func TestOpenMissingFileUsesFactory(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "state")
	p, err := Open(path, newCounter, Options{})
	require.NoError(t, err)
	defer func() { require.NoError(t, p.Close()) }()

	assert.Equal(t, 0, p.Object().Count)
	assert.False(t, p.Object().IsModified())
	require.NoError(t, p.Save())
	_, statErr := os.Stat(path)
	assert.True(t, errors.Is(statErr, os.ErrNotExist), "unmodified object must not be written")
}

func TestSaveRoundTrip(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "state")
	p, err := Open(path, newCounter, Options{Locking: true})
	require.NoError(t, err)
	p.Object().Count = 7
	p.Object().Names["a"] = "b"
	p.Object().MarkModified()
	require.NoError(t, p.Save())
	assert.False(t, p.Object().IsModified())
	require.NoError(t, p.Close())

	again, err := Open(path, newCounter, Options{Locking: true})
	require.NoError(t, err)
	defer func() { require.NoError(t, again.Close()) }()
	assert.Equal(t, 7, again.Object().Count)
	assert.Equal(t, "b", again.Object().Names["a"])
}

func TestOpenCorruptFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "state")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	_, err := Open(path, newCounter, Options{})
	var corrupt *CorruptStateError
	require.ErrorAs(t, err, &corrupt)
	assert.Equal(t, path, corrupt.Path)
	assert.Contains(t, err.Error(), "removing it will fix the problem")
}

func TestLockNoWait(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "state")
	first, err := Open(path, newCounter, Options{Locking: true})
	require.NoError(t, err)

	_, err = Open(path, newCounter, Options{Locking: true, NoWait: true})
	require.ErrorIs(t, err, ErrLocked)

	require.NoError(t, first.Close())
	second, err := Open(path, newCounter, Options{Locking: true, NoWait: true})
	require.NoError(t, err)
	require.NoError(t, second.Close())
}

func TestWriteFileAtomicReplaces(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "out.html")
	require.NoError(t, WriteFileAtomic(path, []byte("one"), 0o644))
	require.NoError(t, WriteFileAtomic(path, []byte("two"), 0o644))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "two", string(data))

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp files must not be left behind")
}
