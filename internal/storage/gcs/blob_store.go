// Package gcs publishes pages to Google Cloud Storage.
package gcs

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"

	"cloud.google.com/go/storage"
)

// Config captures the parameters required to connect to GCS.
type Config struct {
	Bucket string
	// Prefix is prepended to every object name.
	Prefix string
	// CacheControl is set on uploaded objects when non-empty.
	CacheControl string
}

// BlobStore writes objects to a configured GCS bucket.
type BlobStore struct {
	client *storage.Client
	cfg    Config
}

// New creates a GCS-backed blob store.
func New(client *storage.Client, cfg Config) (*BlobStore, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	return &BlobStore{client: client, cfg: cfg}, nil
}

// ObjectName returns the object a path is uploaded to.
func (s *BlobStore) ObjectName(p string) string {
	name := strings.TrimLeft(p, "/")
	if s.cfg.Prefix != "" {
		name = path.Join(s.cfg.Prefix, name)
	}
	return name
}

// PutObject uploads data to the configured bucket and returns a gs:// URI.
func (s *BlobStore) PutObject(ctx context.Context, p string, contentType string, r io.Reader) (string, error) {
	if strings.TrimSpace(p) == "" {
		return "", fmt.Errorf("path is required")
	}
	name := s.ObjectName(p)
	writer := s.client.Bucket(s.cfg.Bucket).Object(name).NewWriter(ctx)
	if contentType != "" {
		writer.ContentType = contentType
	}
	if s.cfg.CacheControl != "" {
		writer.CacheControl = s.cfg.CacheControl
	}
	if _, err := io.Copy(writer, r); err != nil {
		closeErr := writer.Close()
		if closeErr != nil {
			return "", fmt.Errorf("copy object: %w (close writer: %v)", err, closeErr)
		}
		return "", fmt.Errorf("copy object: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("close writer: %w", err)
	}
	return fmt.Sprintf("gs://%s/%s", s.cfg.Bucket, name), nil
}
