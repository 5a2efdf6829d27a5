// Package store persists flow definitions.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/devicelab-dev/screencast-runner/pkg/config"
	"github.com/devicelab-dev/screencast-runner/pkg/flow"
)

// Errors returned by every FlowStore implementation.
var (
	ErrNotFound  = errors.New("flow not found")
	ErrMissingID = errors.New("flow id is required")
)

// FlowStore manages flow definition persistence. Implementations return
// copies, so callers may modify what they get back.
type FlowStore interface {
	// List returns all flows in insertion order.
	List(ctx context.Context) ([]flow.Flow, error)

	// Get returns the flow with the given id or ErrNotFound.
	Get(ctx context.Context, id string) (*flow.Flow, error)

	// Save creates or replaces a flow, keyed by its id.
	Save(ctx context.Context, f *flow.Flow) error

	// Delete removes a flow. Deleting an unknown id returns ErrNotFound.
	Delete(ctx context.Context, id string) error

	// Close releases any connection held by the store.
	Close() error
}

// New creates the flow store selected by the configuration.
func New(ctx context.Context, cfg config.StoreConfig) (FlowStore, error) {
	switch strings.ToLower(cfg.Provider) {
	case config.StoreMemory:
		return NewMemory(), nil

	case config.StoreFile, "":
		if cfg.FlowsFile == "" {
			return nil, fmt.Errorf("flows file is required for the file store")
		}
		return OpenFile(cfg.FlowsFile)

	case config.StoreRedis:
		if cfg.RedisURL == "" {
			return nil, fmt.Errorf("redis url is required for the redis store")
		}
		return OpenRedis(ctx, cfg.RedisURL)

	default:
		return nil, fmt.Errorf("unknown flow store: %s", cfg.Provider)
	}
}

func checkID(f *flow.Flow) error {
	if f == nil || strings.TrimSpace(f.ID) == "" {
		return ErrMissingID
	}
	return nil
}

func clone(f *flow.Flow) *flow.Flow {
	c := f.Clone()
	c.SourcePath = ""
	return &c
}
