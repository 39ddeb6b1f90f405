package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/dyluth/effectd/internal/inspect"
	"github.com/dyluth/effectd/internal/manifest"
	"github.com/dyluth/effectd/internal/printer"
	"github.com/dyluth/effectd/internal/watch"
	"github.com/dyluth/effectd/pkg/knowledge"
)

var (
	putWait   time.Duration
	putDryRun bool
)

var putCmd = &cobra.Command{
	Use:   "put MANIFEST",
	Short: "Write hand-authored effect records",
	Long: `Write effect records described by a YAML manifest.

Each document in the manifest becomes one record. Its model is encoded,
then decoded against the registry of its group exactly as effectd would;
records that would not serve are rejected before anything is written.

Examples:
  # Seed a static fallback model
  effectctl put fallback.yml

  # Check a manifest without writing
  effectctl put --dry-run fallback.yml

  # Wait until every record is readable
  effectctl put --wait=5s fallback.yml`,
	Args: cobra.ExactArgs(1),
	RunE: runPut,
}

func init() {
	putCmd.Flags().DurationVar(&putWait, "wait", 0, "Wait up to this long for each record to become readable")
	putCmd.Flags().BoolVar(&putDryRun, "dry-run", false, "Validate the manifest without writing")
	rootCmd.AddCommand(putCmd)
}

func runPut(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	manifests, err := manifest.Load(args[0])
	if err != nil {
		return printer.Error("invalid manifest", err.Error(), nil)
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	cat, err := buildCatalog(cfg)
	if err != nil {
		return err
	}

	now := time.Now()
	records := make([]*knowledge.EffectRecord, len(manifests))
	for i, m := range manifests {
		rec, err := m.Record(now)
		if err != nil {
			return printer.Error(fmt.Sprintf("invalid record in document %d", i+1), err.Error(), nil)
		}

		finding := inspect.VerifyRecord(cat, rec)
		if finding.Verdict != inspect.VerdictOK {
			return printer.ErrorWithContext(
				fmt.Sprintf("record in document %d would not serve", i+1),
				finding.Detail,
				map[string]string{"Key": finding.Key, "Verdict": string(finding.Verdict), "Groups": groupList(cat)},
				nil,
			)
		}
		records[i] = rec
	}

	if putDryRun {
		printer.Success("%d record(s) valid\n", len(records))
		return nil
	}

	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	for _, rec := range records {
		if err := store.Insert(ctx, rec); err != nil {
			return printer.Error("failed to write effect record", err.Error(), nil)
		}
		if putWait > 0 {
			if _, err := watch.PollForRecord(ctx, store, rec.ID, putWait); err != nil {
				return printer.Error("effect record not visible", err.Error(), nil)
			}
		}
		printer.Success("Stored %s for %s\n", rec.ID, rec.Key())
	}
	return nil
}
