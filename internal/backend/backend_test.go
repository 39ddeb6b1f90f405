package backend

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dyluth/effectd/internal/config"
)

func TestOpen(t *testing.T) {
	ctx := context.Background()

	t.Run("redis", func(t *testing.T) {
		mr := miniredis.RunT(t)
		store, err := Open(config.StoreConfig{Backend: config.BackendRedis, RedisURL: "redis://" + mr.Addr(), Instance: "t"})
		require.NoError(t, err)
		defer store.Close()

		require.NoError(t, store.Ping(ctx))
		_, ok := store.(Subscriber)
		assert.True(t, ok)
	})

	t.Run("sqlite", func(t *testing.T) {
		store, err := Open(config.StoreConfig{Backend: config.BackendSQLite, SQLitePath: filepath.Join(t.TempDir(), "effects.db")})
		require.NoError(t, err)
		defer store.Close()

		require.NoError(t, store.Ping(ctx))
		_, ok := store.(Subscriber)
		assert.False(t, ok)
	})

	t.Run("bad redis url", func(t *testing.T) {
		_, err := Open(config.StoreConfig{Backend: config.BackendRedis, RedisURL: "http://nope", Instance: "t"})
		assert.Error(t, err)
	})

	t.Run("unknown backend", func(t *testing.T) {
		_, err := Open(config.StoreConfig{Backend: "mongo"})
		assert.ErrorContains(t, err, "unknown store backend")
	})
}

func TestDescribe(t *testing.T) {
	assert.Equal(t, map[string]string{"Backend": "sqlite", "Path": "x.db"},
		Describe(config.StoreConfig{Backend: config.BackendSQLite, SQLitePath: "x.db"}))
	assert.Equal(t, "default", Describe(config.StoreConfig{Backend: config.BackendRedis, Instance: "default"})["Instance"])
}
