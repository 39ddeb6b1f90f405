// Package backend opens the configured knowledge store.
package backend

import (
	"context"
	"fmt"

	"github.com/dyluth/effectd/internal/config"
	"github.com/dyluth/effectd/internal/sqlstore"
	"github.com/dyluth/effectd/pkg/knowledge"
)

// Store is everything effectd and effectctl need from a knowledge store.
type Store interface {
	knowledge.Store
	knowledge.Browser
	knowledge.Pinger
	Close() error
}

// Subscriber is implemented by stores that stream insert events.
type Subscriber interface {
	SubscribeEffectEvents(ctx context.Context) (*knowledge.Subscription, error)
}

var (
	_ Store      = (*knowledge.Client)(nil)
	_ Store      = (*sqlstore.Store)(nil)
	_ Subscriber = (*knowledge.Client)(nil)
)

// Open connects to the backend named in cfg. The connection is not checked;
// call Ping for that.
func Open(cfg config.StoreConfig) (Store, error) {
	switch cfg.Backend {
	case config.BackendRedis:
		client, err := knowledge.NewClientFromURL(cfg.RedisURL, cfg.Instance)
		if err != nil {
			return nil, fmt.Errorf("failed to open redis store: %w", err)
		}
		return client, nil
	case config.BackendSQLite:
		store, err := sqlstore.Open(cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite store: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}

// Describe names the store for log lines and error context.
func Describe(cfg config.StoreConfig) map[string]string {
	switch cfg.Backend {
	case config.BackendSQLite:
		return map[string]string{"Backend": cfg.Backend, "Path": cfg.SQLitePath}
	default:
		return map[string]string{"Backend": cfg.Backend, "URL": cfg.RedisURL, "Instance": cfg.Instance}
	}
}
