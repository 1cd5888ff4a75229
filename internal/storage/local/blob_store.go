// Package local publishes pages to the local filesystem.
package local

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/JakeFAU/feedroll/internal/store"
)

// Config captures the parameters for the local filesystem blob store.
type Config struct {
	// BaseDir is the directory relative paths resolve against.
	BaseDir string `mapstructure:"base_dir" yaml:"base_dir"`
	// Perm is the mode of written files. Zero means 0644.
	Perm os.FileMode `mapstructure:"perm" yaml:"perm"`
}

// BlobStore writes files atomically so readers never see a partial page.
type BlobStore struct {
	baseDir string
	perm    os.FileMode
}

// New creates a new local filesystem-backed blob store.
func New(cfg Config) (*BlobStore, error) {
	if strings.TrimSpace(cfg.BaseDir) == "" {
		return nil, fmt.Errorf("base directory is required")
	}
	info, err := os.Stat(cfg.BaseDir)
	if err != nil {
		return nil, fmt.Errorf("failed to stat base directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("base directory path is not a directory")
	}
	perm := cfg.Perm
	if perm == 0 {
		perm = 0o644
	}
	return &BlobStore{baseDir: cfg.BaseDir, perm: perm}, nil
}

// PutObject writes data to path and returns a file:// URI. Absolute paths are
// used as given; relative paths must stay inside the base directory.
func (s *BlobStore) PutObject(_ context.Context, path string, _ string, data io.Reader) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", fmt.Errorf("path is required")
	}

	fullPath := path
	if !filepath.IsAbs(path) {
		fullPath = filepath.Join(s.baseDir, path)
		cleanBaseDir := filepath.Clean(s.baseDir)
		if !strings.HasPrefix(filepath.Clean(fullPath), cleanBaseDir+string(filepath.Separator)) {
			return "", fmt.Errorf("path traversal detected")
		}
	}

	byteData, err := io.ReadAll(data)
	if err != nil {
		return "", fmt.Errorf("failed to read data from reader: %w", err)
	}
	if err := store.WriteFileAtomic(fullPath, byteData, s.perm); err != nil {
		return "", fmt.Errorf("failed to write file: %w", err)
	}
	return fmt.Sprintf("file://%s", fullPath), nil
}
