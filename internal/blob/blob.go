// Package blob abstracts the object store holding canonical usage-record
// JSON. The pipeline only needs path-addressed write/read, so a cloud bucket
// implementation can be swapped in without touching the proof anchor.
package blob

import (
	"context"
	"errors"
	"fmt"

	"github.com/hunnyEscape/gaming-cafe-billing/internal/config"
	"go.uber.org/fx"
)

var ErrNotFound = errors.New("blob_not_found")

// Store is a path-addressed object store.
type Store interface {
	Put(ctx context.Context, path string, content []byte, contentType string) error
	Get(ctx context.Context, path string) ([]byte, error)
	Exists(ctx context.Context, path string) (bool, error)
}

// NewFromConfig selects the configured backend.
func NewFromConfig(cfg config.Config) (Store, error) {
	switch cfg.Blob.Type {
	case "fs":
		return NewFSStore(cfg.Blob.Root), nil
	case "memory":
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unsupported blob store type %q", cfg.Blob.Type)
	}
}

// Module provides the blob store.
var Module = fx.Module("blob",
	fx.Provide(NewFromConfig),
)
