package commands

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dyluth/effectd/internal/config"
	"github.com/dyluth/effectd/internal/inspect"
	"github.com/dyluth/effectd/internal/printer"
)

var getCmd = &cobra.Command{
	Use:   "get RECORD_ID",
	Short: "Show one effect record",
	Long: `Show one effect record as indented JSON.

RECORD_ID may be a full UUID or a unique prefix of at least 6 characters.
The model blob is shown as its size and BLAKE2b digest.

Examples:
  effectctl get 0b4a8d7e
  effectctl get 0b4a8d7e-52a4-4f7c-9a64-0f9e3f8f6f3e`,
	Args: cobra.ExactArgs(1),
	RunE: runGet,
}

func init() {
	rootCmd.AddCommand(getCmd)
}

func runGet(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	err = inspect.GetRecord(ctx, store, args[0], printer.Out())
	var ambiguous *inspect.AmbiguousError
	switch {
	case err == nil:
		return nil
	case inspect.IsNotFound(err):
		return printer.Error(
			"effect record not found",
			fmt.Sprintf("No record matches '%s' in %s.", args[0], instanceLabel(cfg)),
			[]string{"Run 'effectctl list' to see stored records"},
		)
	case errors.As(err, &ambiguous):
		return printer.Error(ambiguous.Error(), ambiguous.Details(), nil)
	default:
		return printer.Error("failed to read effect record", err.Error(), nil)
	}
}

// instanceLabel names the store for messages.
func instanceLabel(cfg *config.Config) string {
	if cfg.Store.Backend == config.BackendSQLite {
		return cfg.Store.SQLitePath
	}
	return cfg.Store.Instance
}
