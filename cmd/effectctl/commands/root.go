package commands

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/dyluth/effectd/internal/backend"
	"github.com/dyluth/effectd/internal/catalog"
	"github.com/dyluth/effectd/internal/config"
	"github.com/dyluth/effectd/internal/printer"
)

var configPath string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "effectctl",
	Short: "effectctl - inspect and seed an effectd knowledge store",
	Long: `effectctl works directly against the knowledge store effectd serves from.

It lists and inspects stored effect records, writes hand-authored records
from YAML manifests, checks every stored model against the registered
types of its group, and follows new records as they land.

Store selection uses the same effectd.yml and EFFECTD_* variables as
effectd, with --store-* flags taking precedence.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

// Execute runs the root command.
func Execute() error {
	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true
	return rootCmd.Execute()
}

// SetVersionInfo sets the version information for the CLI
func SetVersionInfo(v, c, d string) {
	rootCmd.Version = fmt.Sprintf("%s (commit: %s, built: %s)", v, c, d)
}

// storeFlags maps persistent flags to the config keys they override.
var storeFlags = map[string]string{
	"store-backend":     "store.backend",
	"store-redis-url":   "store.redis_url",
	"store-instance":    "store.instance",
	"store-sqlite-path": "store.sqlite_path",
	"lookback":          "resolver.lookback",
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&configPath, "config", "c", "", "Path to effectd.yml")
	pf.String("store-backend", "", "Knowledge store backend: redis or sqlite")
	pf.String("store-redis-url", "", "Redis URL")
	pf.String("store-instance", "", "Redis key namespace")
	pf.String("store-sqlite-path", "", "SQLite database file")
	pf.Duration("lookback", 0, "Max age of a non-static record")
}

// loadConfig reads the configuration with environment and flag overrides.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	v := viper.New()
	if err := config.BindEnv(v); err != nil {
		return nil, err
	}
	for name, key := range storeFlags {
		if err := v.BindPFlag(key, cmd.Flag(name)); err != nil {
			return nil, fmt.Errorf("failed to bind --%s: %w", name, err)
		}
	}

	cfg, err := config.LoadWithOverrides(configPath, v)
	if err != nil {
		return nil, printer.Error(
			"invalid configuration",
			err.Error(),
			[]string{"Check effectd.yml, EFFECTD_* variables and --store-* flags"},
		)
	}
	return cfg, nil
}

// openStore opens and pings the configured store.
func openStore(ctx context.Context, cfg *config.Config) (backend.Store, error) {
	store, err := backend.Open(cfg.Store)
	if err != nil {
		return nil, printer.ErrorWithContext("failed to open knowledge store", err.Error(), backend.Describe(cfg.Store), nil)
	}

	pingCtx, cancel := context.WithTimeout(ctx, cfg.Store.QueryTimeout)
	defer cancel()
	if err := store.Ping(pingCtx); err != nil {
		store.Close()
		return nil, printer.ErrorWithContext(
			"knowledge store unreachable",
			err.Error(),
			backend.Describe(cfg.Store),
			[]string{"Check that the store is running and the connection settings are correct"},
		)
	}
	return store, nil
}

// buildCatalog builds the configured group registries.
func buildCatalog(cfg *config.Config) (*catalog.Catalog, error) {
	cat, err := catalog.New(cfg.GroupFamilies())
	if err != nil {
		return nil, printer.Error("invalid group configuration", err.Error(), nil)
	}
	return cat, nil
}

func groupList(cat *catalog.Catalog) string {
	return strings.Join(cat.Groups(), ", ")
}
