package commands

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/dyluth/effectd/internal/dispatch"
	"github.com/dyluth/effectd/internal/printer"
	"github.com/dyluth/effectd/internal/resolver"
	"github.com/dyluth/effectd/pkg/blob"
	"github.com/dyluth/effectd/pkg/knowledge"
	"github.com/dyluth/effectd/pkg/model"
)

var (
	predictGroup    string
	predictSubject  string
	predictTarget   string
	predictFeatures []string
	predictForecast float64
	predictAt       string
)

var predictCmd = &cobra.Command{
	Use:   "predict",
	Short: "Evaluate the model effectd would serve for a key",
	Long: `Resolve, decode and evaluate the model for one key without going
through a running effectd. Unlike the HTTP front, failures report the
stage they actually happened in.

Feature values that parse as numbers are sent as numbers; anything else
is sent as a categorical label.

Examples:
  effectctl predict --group energy --subject stress-ng --target power \
      -f cpu=4 -f freq=2.1

  effectctl predict --group rdt --subject svc --target p99 -f option=cos1

  # Sweep every configuration with 8 cores
  effectctl predict --group scaling --subject web --target latency --forecast 8`,
	Args: cobra.NoArgs,
	RunE: runPredict,
}

func init() {
	f := predictCmd.Flags()
	f.StringVar(&predictGroup, "group", "", "Effect group (required)")
	f.StringVar(&predictSubject, "subject", "", "Workload or intent (required)")
	f.StringVar(&predictTarget, "target", "", "Modelled objective (required)")
	f.StringArrayVarP(&predictFeatures, "feature", "f", nil, "Feature as name=value (repeatable)")
	f.Float64Var(&predictForecast, "forecast", 0, "Sweep every configuration with this amount instead of predicting")
	f.StringVar(&predictAt, "at", "", "Resolve as of this time (RFC3339) instead of now")
	_ = predictCmd.MarkFlagRequired("group")
	_ = predictCmd.MarkFlagRequired("subject")
	_ = predictCmd.MarkFlagRequired("target")
	rootCmd.AddCommand(predictCmd)
}

// parseFeatures splits name=value pairs. Values stay strings until the
// model's categorical features are known.
func parseFeatures(pairs []string) (map[string]string, error) {
	features := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		name, value, ok := strings.Cut(pair, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("feature %q is not name=value", pair)
		}
		if _, dup := features[name]; dup {
			return nil, fmt.Errorf("feature %q given twice", name)
		}
		features[name] = value
	}
	return features, nil
}

// featureValues types raw values for h: categorical features keep their
// label, numeric-looking values of other features become numbers.
func featureValues(h *model.Handle, raw map[string]string) map[string]any {
	features := make(map[string]any, len(raw))
	for name, value := range raw {
		if h.IsCategorical(name) {
			features[name] = value
			continue
		}
		if _, err := json.Number(value).Float64(); err == nil {
			features[name] = json.Number(value)
		} else {
			features[name] = value
		}
	}
	return features
}

func runPredict(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	rawFeatures, err := parseFeatures(predictFeatures)
	if err != nil {
		return printer.Error("invalid feature", err.Error(), []string{"Use -f name=value, e.g. -f cpu=4"})
	}

	now := time.Now()
	if predictAt != "" {
		now, err = time.Parse(time.RFC3339, predictAt)
		if err != nil {
			return printer.Error("invalid --at", err.Error(), []string{"Use RFC3339, e.g. 2026-03-01T12:00:00Z"})
		}
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	cat, err := buildCatalog(cfg)
	if err != nil {
		return err
	}

	key := knowledge.Key{Subject: predictSubject, Group: predictGroup, Target: predictTarget}
	reg, ok := cat.Registry(key.Group)
	if !ok {
		return printer.ErrorWithContext(
			"unknown group",
			fmt.Sprintf("Group '%s' is not configured.", key.Group),
			map[string]string{"Groups": groupList(cat)},
			nil,
		)
	}

	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	res := resolver.New(store, resolver.Options{
		Lookback:      cfg.Resolver.Lookback,
		QueryTimeout:  cfg.Store.QueryTimeout,
		MaxCandidates: cfg.Store.MaxCandidates,
	})

	rec, err := res.Resolve(ctx, key, now)
	if err != nil {
		if errors.Is(err, resolver.ErrNotFound) {
			return printer.ErrorWithContext(
				"no admissible effect record",
				fmt.Sprintf("Nothing for %s is static or younger than %s.", key, res.Lookback()),
				map[string]string{"Store": instanceLabel(cfg)},
				[]string{"Run 'effectctl list --group " + key.Group + "' to see stored records"},
			)
		}
		return printer.Error("failed to resolve effect record", err.Error(), nil)
	}

	value, err := blob.Decode(rec.ModelBlob, reg)
	if err != nil {
		ctxInfo := map[string]string{"Record": rec.ID, "Digest": blob.Digest(rec.ModelBlob)}
		if blob.IsUnregistered(err) {
			printer.Violation("record %s references a type outside the %s registry\n", rec.ID, key.Group)
			return printer.ErrorWithContext("integrity violation", err.Error(), ctxInfo, nil)
		}
		return printer.ErrorWithContext("failed to decode model", err.Error(), ctxInfo, nil)
	}

	h, err := model.NewHandle(rec, value)
	if err != nil {
		return printer.ErrorWithContext("model does not fit its record", err.Error(), map[string]string{"Record": rec.ID}, nil)
	}

	enc := json.NewEncoder(printer.Out())
	enc.SetIndent("", "  ")

	if cmd.Flags().Changed("forecast") {
		values, err := dispatch.Forecast(h, predictForecast)
		if err != nil {
			return printer.Error("forecast failed", err.Error(), nil)
		}
		return enc.Encode(struct {
			Record string    `json:"record"`
			Order  []string  `json:"order"`
			Values []float64 `json:"values"`
		}{rec.ID, h.FeatureOrder(), values})
	}

	val, err := dispatch.Predict(h, featureValues(h, rawFeatures))
	if err != nil {
		return printer.ErrorWithContext(
			"prediction failed",
			err.Error(),
			map[string]string{"Record": rec.ID, "Features": strings.Join(h.FeatureOrder(), ", ")},
			nil,
		)
	}
	return enc.Encode(struct {
		Record string  `json:"record"`
		Val    float64 `json:"val"`
	}{rec.ID, val})
}
