// Package memory keeps published pages in memory for tests and dry runs.
package memory

import (
	"context"
	"fmt"
	"io"
	"sync"
)

// Object is one stored page.
type Object struct {
	ContentType string
	Data        []byte
}

// BlobStore stores objects by path and returns memory:// URIs.
type BlobStore struct {
	mu      sync.RWMutex
	objects map[string]Object
	puts    int
}

// NewBlobStore creates a new in-memory blob store.
func NewBlobStore() *BlobStore {
	return &BlobStore{objects: make(map[string]Object)}
}

// PutObject replaces the object at path.
func (s *BlobStore) PutObject(_ context.Context, path string, contentType string, data io.Reader) (string, error) {
	byteData, err := io.ReadAll(data)
	if err != nil {
		return "", fmt.Errorf("failed to read data from reader: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[path] = Object{ContentType: contentType, Data: byteData}
	s.puts++
	return fmt.Sprintf("memory://%s", path), nil
}

// Get returns a copy of the object at path.
func (s *BlobStore) Get(path string) (Object, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	obj, ok := s.objects[path]
	if !ok {
		return Object{}, false
	}
	obj.Data = append([]byte(nil), obj.Data...)
	return obj, true
}

// Puts counts PutObject calls.
func (s *BlobStore) Puts() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.puts
}
