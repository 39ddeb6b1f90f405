package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/dyluth/effectd/internal/inspect"
	"github.com/dyluth/effectd/internal/printer"
	"github.com/dyluth/effectd/internal/timespec"
)

var (
	listOutputFormat string
	listSince        string
	listUntil        string
	listGroup        string
	listSubject      string
	listTarget       string
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored effect records",
	Long: `List stored effect records, oldest first.

Output Formats:
  default - Table with short ID, key, static flag, age and features
  jsonl   - One JSON record per line; blobs are shown as size and digest

Filters:
  --group    - Exact group name ("rdt", "energy")
  --subject  - Subject glob ("default/*")
  --target   - Target glob ("*p99*")
  --since    - Records created after this time (duration or RFC3339)
  --until    - Records created before this time (duration or RFC3339)

Examples:
  # Everything in the rdt group from the last hour
  effectctl list --group=rdt --since=1h

  # Feed record metadata to jq
  effectctl list --output=jsonl | jq 'select(.static) | .id'`,
	Args: cobra.NoArgs,
	RunE: runList,
}

func init() {
	listCmd.Flags().StringVarP(&listOutputFormat, "output", "o", "default", "Output format: default or jsonl")
	listCmd.Flags().StringVar(&listSince, "since", "", "Show records after time (duration or RFC3339)")
	listCmd.Flags().StringVar(&listUntil, "until", "", "Show records before time (duration or RFC3339)")
	listCmd.Flags().StringVar(&listGroup, "group", "", "Filter by group (exact match)")
	listCmd.Flags().StringVar(&listSubject, "subject", "", "Filter by subject (glob pattern)")
	listCmd.Flags().StringVar(&listTarget, "target", "", "Filter by target (glob pattern)")
	rootCmd.AddCommand(listCmd)
}

func runList(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	format, err := inspect.ParseOutputFormat(listOutputFormat)
	if err != nil {
		return printer.Error(
			"invalid output format",
			fmt.Sprintf("Unknown format: %s", listOutputFormat),
			[]string{"Valid formats: default, jsonl"},
		)
	}

	now := time.Now()
	since, until, err := timespec.ParseRange(listSince, listUntil, now)
	if err != nil {
		return printer.Error("invalid time filter", err.Error(), []string{
			"Use a duration like --since=1h30m",
			"Use an RFC3339 time like --since=2026-10-29T13:00:00Z",
		})
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	records, err := inspect.ListRecords(ctx, store, &inspect.Filter{
		Group:   listGroup,
		Subject: listSubject,
		Target:  listTarget,
		Since:   since,
		Until:   until,
	})
	if err != nil {
		return printer.Error("failed to list effect records", err.Error(), nil)
	}

	return inspect.WriteRecords(printer.Out(), records, format, instanceLabel(cfg), now)
}
