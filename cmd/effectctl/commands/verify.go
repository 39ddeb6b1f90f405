package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dyluth/effectd/internal/inspect"
	"github.com/dyluth/effectd/internal/printer"
)

var verifyGroup string

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Check every stored model against its group's registered types",
	Long: `Decode every stored model against the registry of its group, the way
effectd does on the request path, and report the records effectd would
refuse to serve.

Verdicts:
  integrity_violation - the blob references a type outside the registry
  undecodable         - the blob is malformed, too large or fails to build
  mismatch            - the model does not fit the record's features
  unknown_group       - the record's group is not configured

Exits non-zero when any record fails.`,
	Args: cobra.NoArgs,
	RunE: runVerify,
}

func init() {
	verifyCmd.Flags().StringVar(&verifyGroup, "group", "", "Only check this group")
	rootCmd.AddCommand(verifyCmd)
}

func runVerify(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	cat, err := buildCatalog(cfg)
	if err != nil {
		return err
	}
	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	report, err := inspect.Verify(ctx, store, cat, &inspect.Filter{Group: verifyGroup})
	if err != nil {
		return printer.Error("failed to verify effect records", err.Error(), nil)
	}

	inspect.FormatReport(printer.Out(), report)
	if report.Clean() {
		printer.Success("All %d records verified\n", len(report.Findings))
		return nil
	}

	violations := report.Counts[inspect.VerdictIntegrity]
	if violations > 0 {
		printer.Violation("%d record(s) reference unregistered types\n", violations)
	}
	return fmt.Errorf("%d of %d records failed verification", len(report.Findings)-report.Counts[inspect.VerdictOK], len(report.Findings))
}
