// Package store persists JSON object graphs on disk with advisory locking and
// atomic replacement of the target file.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// ErrLocked signals that another process holds the lock and the caller asked not to wait.
var ErrLocked = errors.New("state is locked by another process")

// CorruptStateError is returned when a state file exists but cannot be decoded.
type CorruptStateError struct {
	Path string
	Err  error
}

func (e *CorruptStateError) Error() string {
	return fmt.Sprintf(
		"the state file %s is corrupt (%v); removing it will fix the problem, but articles will be lost",
		e.Path, e.Err,
	)
}

func (e *CorruptStateError) Unwrap() error {
	return e.Err
}

// Trackable is implemented by persisted roots that know whether they changed.
type Trackable interface {
	IsModified() bool
	ResetModified()
}

// Tracker records whether an object changed since it was loaded or last saved.
// Embed it in persisted roots; it carries no serialized fields.
type Tracker struct {
	modified bool
}

// MarkModified flags the owning object as changed.
func (t *Tracker) MarkModified() {
	t.modified = true
}

// IsModified reports whether the owning object changed.
func (t *Tracker) IsModified() bool {
	return t.modified
}

// ResetModified clears the modified flag.
func (t *Tracker) ResetModified() {
	t.modified = false
}

// Options controls locking behavior.
type Options struct {
	// Locking takes an exclusive flock on the sidecar lock file.
	Locking bool
	// NoWait fails with ErrLocked instead of blocking on a held lock.
	NoWait bool
}

// Persister owns one on-disk object for the lifetime of the handle.
type Persister[T Trackable] struct {
	path string
	obj  T
	lock *os.File
}

// Open loads the object stored at path, or builds a fresh one with factory when
// the file does not exist yet.
func Open[T Trackable](path string, factory func() T, opts Options) (*Persister[T], error) {
	p := &Persister[T]{path: path}
	if opts.Locking {
		lock, err := acquireLock(path+".lock", opts.NoWait)
		if err != nil {
			return nil, err
		}
		p.lock = lock
	}

	obj := factory()
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		p.release()
		return nil, fmt.Errorf("read state %s: %w", path, err)
	default:
		if err := json.Unmarshal(data, obj); err != nil {
			p.release()
			return nil, &CorruptStateError{Path: path, Err: err}
		}
	}
	obj.ResetModified()
	p.obj = obj
	return p, nil
}

// Object returns the loaded object.
func (p *Persister[T]) Object() T {
	return p.obj
}

// Path returns the file the object is stored in.
func (p *Persister[T]) Path() string {
	return p.path
}

// Save writes the object if it reports a modification.
func (p *Persister[T]) Save() error {
	if !p.obj.IsModified() {
		return nil
	}
	data, err := json.Marshal(p.obj)
	if err != nil {
		return fmt.Errorf("encode state %s: %w", p.path, err)
	}
	if err := WriteFileAtomic(p.path, data, 0o600); err != nil {
		return err
	}
	p.obj.ResetModified()
	return nil
}

// Close releases the lock. It does not save.
func (p *Persister[T]) Close() error {
	return p.release()
}

func (p *Persister[T]) release() error {
	if p.lock == nil {
		return nil
	}
	lock := p.lock
	p.lock = nil
	unlockErr := unix.Flock(int(lock.Fd()), unix.LOCK_UN)
	closeErr := lock.Close()
	if unlockErr != nil {
		return fmt.Errorf("unlock %s: %w", lock.Name(), unlockErr)
	}
	if closeErr != nil {
		return fmt.Errorf("close lock %s: %w", lock.Name(), closeErr)
	}
	return nil
}

func acquireLock(path string, noWait bool) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("create lock dir: %w", err)
	}
	// #nosec G304 -- lock path is derived from the configured state directory.
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open lock %s: %w", path, err)
	}
	how := unix.LOCK_EX
	if noWait {
		how |= unix.LOCK_NB
	}
	if err := unix.Flock(int(f.Fd()), how); err != nil {
		_ = f.Close()
		if errors.Is(err, unix.EWOULDBLOCK) {
			return nil, ErrLocked
		}
		return nil, fmt.Errorf("lock %s: %w", path, err)
	}
	return f, nil
}

// WriteFileAtomic writes data to a temp file next to path, fsyncs it and renames
// it over path, so readers see either the old or the new content.
func WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create parent directories: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() {
		_ = os.Remove(tmpName)
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Chmod(tmpName, perm); err != nil {
		cleanup()
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		cleanup()
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}
