package commands

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dyluth/effectd/internal/backend"
	"github.com/dyluth/effectd/internal/printer"
	"github.com/dyluth/effectd/internal/watch"
)

var watchOutputFormat string

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Stream new effect records as they are written",
	Long: `Stream insert events for new effect records. Requires the redis backend.

Delivery is best effort: events published while nobody is subscribed are
not replayed.

Output Formats:
  default - One human-readable line per record
  json    - Line-delimited JSON for programmatic processing

Examples:
  effectctl watch
  effectctl watch --output=json > events.jsonl`,
	Args: cobra.NoArgs,
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().StringVarP(&watchOutputFormat, "output", "o", "default", "Output format (default or json)")
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	var format watch.OutputFormat
	switch watchOutputFormat {
	case "default":
		format = watch.OutputFormatDefault
	case "json":
		format = watch.OutputFormatJSON
	default:
		return printer.Error(
			"invalid output format",
			fmt.Sprintf("Unknown format: %s", watchOutputFormat),
			[]string{"Valid formats: default, json"},
		)
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	subscriber, ok := store.(backend.Subscriber)
	if !ok {
		return printer.Error(
			"watch is not supported by this store",
			fmt.Sprintf("The %s backend does not publish insert events.", cfg.Store.Backend),
			[]string{"Use --store-backend=redis"},
		)
	}

	sub, err := subscriber.SubscribeEffectEvents(ctx)
	if err != nil {
		return printer.Error("failed to subscribe to effect events", err.Error(), nil)
	}
	defer sub.Close()

	if format == watch.OutputFormatDefault {
		printer.Step("Watching %s for new effect records (Ctrl+C to stop)\n", instanceLabel(cfg))
	}
	return watch.Stream(ctx, sub, format, printer.Out(), os.Stderr)
}
