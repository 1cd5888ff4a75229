package storage

import (
	"context"
	"fmt"
	"io"

	"github.com/stretchr/testify/mock"
)

// MockProvider is a testify mock of Provider. The object body is read fully
// and passed to Called as a string so expectations can match on it.
type MockProvider struct {
	mock.Mock
}

// PutObject records the call.
func (m *MockProvider) PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error) {
	body, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("read object: %w", err)
	}
	args := m.Called(ctx, path, contentType, string(body))
	return args.String(0), args.Error(1) //nolint:wrapcheck
}
