package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/dyluth/effectd/internal/backend"
	"github.com/dyluth/effectd/internal/catalog"
	"github.com/dyluth/effectd/internal/config"
	"github.com/dyluth/effectd/internal/logging"
	"github.com/dyluth/effectd/internal/printer"
	"github.com/dyluth/effectd/internal/resolver"
	"github.com/dyluth/effectd/internal/serving"
)

const shutdownTimeout = 15 * time.Second

var serveConfigPath string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP serving front",
	Long: `Run the HTTP serving front.

Configuration is read from --config (optional), then overridden by EFFECTD_*
environment variables, then by flags. For example EFFECTD_STORE_REDIS_URL
overrides store.redis_url.

Endpoints:
  POST /v1/effects/{group}/predict   {"subject", "target", "features": {...}}
  POST /v1/effects/{group}/forecast  {"subject", "objectives": [...], "amount"}
  POST /                             predict for server.default_group
  GET  /healthz                      knowledge store ping
  GET  /metrics                      Prometheus metrics`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVarP(&serveConfigPath, "config", "c", "", "Path to effectd.yml")
	registerOverrideFlags(serveCmd.Flags())
	rootCmd.AddCommand(serveCmd)
}

// registerOverrideFlags adds one flag per overridable config key, named
// after the key with dots turned into dashes (store.redis_url -> --store-redis-url).
func registerOverrideFlags(fs *pflag.FlagSet) {
	fs.String("server-address", "", "Listen address (server.address)")
	fs.Duration("server-read-timeout", 0, "HTTP read timeout (server.read_timeout)")
	fs.Duration("server-write-timeout", 0, "HTTP write timeout (server.write_timeout)")
	fs.String("server-default-group", "", "Group served on POST / (server.default_group)")
	fs.String("store-backend", "", "Knowledge store backend: redis or sqlite (store.backend)")
	fs.String("store-redis-url", "", "Redis URL (store.redis_url)")
	fs.String("store-instance", "", "Redis key namespace (store.instance)")
	fs.String("store-sqlite-path", "", "SQLite database file (store.sqlite_path)")
	fs.Duration("store-query-timeout", 0, "Store query timeout (store.query_timeout)")
	fs.Int("store-max-candidates", 0, "Records fetched per resolution (store.max_candidates)")
	fs.Duration("resolver-lookback", 0, "Max age of a non-static record (resolver.lookback)")
	fs.Bool("cache-enabled", true, "Cache decoded models (cache.enabled)")
	fs.String("logging-level", "", "Log level (logging.level)")
	fs.String("logging-format", "", "Log format: json or console (logging.format)")
}

// newViper binds the environment and the changed flags of fs to the config keys.
func newViper(fs *pflag.FlagSet) (*viper.Viper, error) {
	v := viper.New()
	if err := config.BindEnv(v); err != nil {
		return nil, err
	}
	for _, key := range config.Keys {
		flag := fs.Lookup(flagName(key))
		if flag == nil {
			continue
		}
		if err := v.BindPFlag(key, flag); err != nil {
			return nil, fmt.Errorf("failed to bind --%s: %w", flag.Name, err)
		}
	}
	return v, nil
}

func flagName(key string) string {
	out := []byte(key)
	for i, c := range out {
		if c == '.' || c == '_' {
			out[i] = '-'
		}
	}
	return string(out)
}

func runServe(cmd *cobra.Command, args []string) error {
	v, err := newViper(cmd.Flags())
	if err != nil {
		return err
	}

	cfg, err := config.LoadWithOverrides(serveConfigPath, v)
	if err != nil {
		return printer.Error(
			"invalid configuration",
			err.Error(),
			[]string{"Check effectd.yml and any EFFECTD_* environment variables"},
		)
	}

	logger, err := logging.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	cat, err := catalog.New(cfg.GroupFamilies())
	if err != nil {
		return fmt.Errorf("failed to build capability registries: %w", err)
	}

	store, err := backend.Open(cfg.Store)
	if err != nil {
		return printer.ErrorWithContext("failed to open knowledge store", err.Error(), backend.Describe(cfg.Store), nil)
	}
	defer store.Close()

	pingCtx, cancel := context.WithTimeout(cmd.Context(), cfg.Store.QueryTimeout)
	err = store.Ping(pingCtx)
	cancel()
	if err != nil {
		// Requests fail with 503 until the store is reachable.
		logger.Warn("Knowledge store is not reachable yet", zap.String("backend", cfg.Store.Backend), zap.Error(err))
	}

	res := resolver.New(store, resolver.Options{
		Lookback:      cfg.Resolver.Lookback,
		QueryTimeout:  cfg.Store.QueryTimeout,
		MaxCandidates: cfg.Store.MaxCandidates,
	})

	srv, err := serving.New(serving.Options{
		Address:      cfg.Server.Address,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		DefaultGroup: cfg.Server.DefaultGroup,
		CacheHandles: cfg.CacheEnabled(),
	}, cat, res, store, logger)
	if err != nil {
		return err
	}

	logger.Info("effectd configured",
		logging.Event("startup"),
		zap.String("backend", cfg.Store.Backend),
		zap.Strings("groups", cat.Groups()),
		zap.Duration("lookback", cfg.Resolver.Lookback),
		zap.Bool("cache", cfg.CacheEnabled()))

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := srv.Start()
	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("serving front failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("Shutting down", logging.Event("shutdown"))
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancelShutdown()
	return srv.Shutdown(shutdownCtx)
}
