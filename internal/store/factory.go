package store

import (
	"context"
	"fmt"

	"github.com/stacklok/crosspost-server/internal/config"
)

// Stores bundles the job and link stores a backend provides, plus an
// optional close function for backends holding connections.
type Stores struct {
	Jobs  JobStore
	Links LinkStore

	// Close releases backend resources; nil for backends without any.
	Close func()
}

// NewFromConfig creates the store backend selected by configuration.
func NewFromConfig(ctx context.Context, cfg *config.StoreConfig) (*Stores, error) {
	switch cfg.Type {
	case "", config.StoreTypeMemory:
		mem := NewMemoryStore()
		return &Stores{Jobs: mem, Links: mem}, nil

	case config.StoreTypeFile:
		fs, err := NewFileStore(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to create file store: %w", err)
		}
		return &Stores{Jobs: fs, Links: fs}, nil

	case config.StoreTypePostgres:
		pg, err := NewPostgresStore(ctx, cfg.Postgres)
		if err != nil {
			return nil, fmt.Errorf("failed to create postgres store: %w", err)
		}
		return &Stores{Jobs: pg, Links: pg, Close: pg.Close}, nil

	default:
		return nil, fmt.Errorf("unknown store type: %s", cfg.Type)
	}
}
