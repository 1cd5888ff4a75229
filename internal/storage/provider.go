// Package storage defines where a rendered page is published. Implementations
// cover the local filesystem, Google Cloud Storage and a plain writer such as
// standard output.
package storage

import (
	"context"
	"fmt"
	"io"
)

// StdoutTarget is the output path that means "write to standard output".
const StdoutTarget = "-"

// Provider stores one object and returns a URI describing where it went.
type Provider interface {
	PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error)
}

// NoOpProvider discards everything. It backs the "none" publish provider.
type NoOpProvider struct{}

// PutObject drains nothing and always succeeds.
func (NoOpProvider) PutObject(context.Context, string, string, io.Reader) (string, error) {
	return "", nil
}

// WriterProvider copies objects to a single writer, ignoring the path.
type WriterProvider struct {
	W io.Writer
}

// PutObject copies r to the writer.
func (p WriterProvider) PutObject(_ context.Context, _ string, _ string, r io.Reader) (string, error) {
	if p.W == nil {
		return "", fmt.Errorf("writer is required")
	}
	if _, err := io.Copy(p.W, r); err != nil {
		return "", fmt.Errorf("copy object: %w", err)
	}
	return StdoutTarget, nil
}
