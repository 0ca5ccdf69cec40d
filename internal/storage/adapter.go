package storage

import (
	"bytes"
	"context"
	"io"
)

// Adapter is the object-store contract the pipeline stages share. Keys are
// deterministic functions of entity identifiers (see internal/objkey), so
// writes are idempotent and safe under message redelivery.
type Adapter interface {
	// Put stores data at the given key, overwriting any existing object
	Put(ctx context.Context, key string, data io.Reader) error

	// Get retrieves the object at the given key
	Get(ctx context.Context, key string) (io.ReadCloser, error)

	// Exists checks whether an object exists at the given key
	Exists(ctx context.Context, key string) (bool, error)

	// List returns all object keys under the given prefix
	List(ctx context.Context, prefix string) ([]string, error)

	// Close cleans up any resources
	Close() error
}

// PutBytes stores a byte slice at the given key.
func PutBytes(ctx context.Context, a Adapter, key string, data []byte) error {
	return a.Put(ctx, key, bytes.NewReader(data))
}

// GetBytes retrieves the full object at the given key.
func GetBytes(ctx context.Context, a Adapter, key string) ([]byte, error) {
	reader, err := a.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	defer reader.Close()
	return io.ReadAll(reader)
}
