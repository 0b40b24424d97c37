// Package pending tracks which notes still await agent processing.
package pending

import (
	"context"
	"fmt"
	"strings"

	"github.com/starford/snippets/internal/apperr"
)

// Queue is the set of note ids waiting for the agent. Membership is a set:
// enqueueing twice leaves one entry and dequeueing an absent id is a no-op.
type Queue interface {
	Enqueue(ctx context.Context, id string) error
	Dequeue(ctx context.Context, id string) error
	List(ctx context.Context) ([]string, error)
	Len(ctx context.Context) (int, error)
}

// Backend names accepted by Open.
const (
	BackendFile  = "file"
	BackendRedis = "redis"
)

// Config selects and configures a Queue backend.
type Config struct {
	Backend string
	Dir     string // file backend: marker directory
	Redis   RedisConfig
}

// Open builds the configured backend.
func Open(cfg Config) (Queue, error) {
	switch cfg.Backend {
	case "", BackendFile:
		return NewFileQueue(cfg.Dir)
	case BackendRedis:
		return NewRedisQueue(cfg.Redis), nil
	default:
		return nil, fmt.Errorf("pending: unknown backend %q", cfg.Backend)
	}
}

// checkID rejects ids that could not be stored as a single marker name.
func checkID(id string) error {
	if id == "" || id == "." || id == ".." || strings.ContainsAny(id, `/\`+"\x00") {
		return fmt.Errorf("%w: note id %q", apperr.ErrInvalidPath, id)
	}
	return nil
}
