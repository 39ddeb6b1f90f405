package inspect

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/dyluth/effectd/pkg/blob"
	"github.com/dyluth/effectd/pkg/knowledge"
)

// RecordView is the printable form of a record. The blob is replaced by its
// size and digest.
type RecordView struct {
	ID                   string              `json:"id"`
	Subject              string              `json:"subject"`
	Group                string              `json:"group"`
	Target               string              `json:"target"`
	Static               bool                `json:"static"`
	Timestamp            time.Time           `json:"timestamp"`
	TrainingFeatureOrder []string            `json:"training_feature_order"`
	FeatureEncoding      map[string][]string `json:"feature_encoding,omitempty"`
	BlobSize             int                 `json:"blob_size"`
	BlobDigest           string              `json:"blob_digest"`
}

// ViewOf builds the printable form of r.
func ViewOf(r *knowledge.EffectRecord) RecordView {
	return RecordView{
		ID:                   r.ID,
		Subject:              r.Subject,
		Group:                r.Group,
		Target:               r.Target,
		Static:               r.IsStatic,
		Timestamp:            r.Timestamp.UTC(),
		TrainingFeatureOrder: r.TrainingFeatureOrder,
		FeatureEncoding:      r.FeatureEncoding,
		BlobSize:             len(r.ModelBlob),
		BlobDigest:           blob.Digest(r.ModelBlob),
	}
}

// FormatTable writes records as a table to w.
// Returns the number of records formatted.
func FormatTable(w io.Writer, records []*knowledge.EffectRecord, instanceName string, now time.Time) int {
	if len(records) == 0 {
		fmt.Fprintf(w, "No effect records found for instance '%s'\n", instanceName)
		return 0
	}

	fmt.Fprintf(w, "Effect records for instance '%s':\n\n", instanceName)

	fmt.Fprintf(w, "%-10s %-16s %-20s %-20s %-6s %-8s %s\n",
		"ID", "GROUP", "SUBJECT", "TARGET", "STATIC", "AGE", "FEATURES")
	fmt.Fprintf(w, "%-10s %-16s %-20s %-20s %-6s %-8s %s\n",
		"----------", "----------------", "--------------------", "--------------------", "------", "--------", "----------------------------------------")

	for _, r := range records {
		fmt.Fprintf(w, "%-10s %-16s %-20s %-20s %-6s %-8s %s\n",
			formatID(r.ID),
			truncate(r.Group, 16),
			truncate(r.Subject, 20),
			truncate(r.Target, 20),
			formatStatic(r.IsStatic),
			formatAge(r.Timestamp, now),
			formatFeatures(r),
		)
	}

	noun := "record"
	if len(records) != 1 {
		noun = "records"
	}
	fmt.Fprintf(w, "\n%d %s found\n", len(records), noun)

	return len(records)
}

// FormatJSONL writes one compact record view per line.
func FormatJSONL(w io.Writer, records []*knowledge.EffectRecord) error {
	enc := json.NewEncoder(w)
	for _, r := range records {
		if err := enc.Encode(ViewOf(r)); err != nil {
			return fmt.Errorf("failed to write JSONL output: %w", err)
		}
	}
	return nil
}

// FormatSingleJSON writes one record view as indented JSON.
func FormatSingleJSON(w io.Writer, r *knowledge.EffectRecord) error {
	data, err := json.MarshalIndent(ViewOf(r), "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal record to JSON: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("failed to write JSON output: %w", err)
	}
	fmt.Fprintln(w)
	return nil
}

func formatID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func truncate(s string, n int) string {
	if s == "" {
		return "-"
	}
	runes := []rune(s)
	if len(runes) > n {
		return string(runes[:n-3]) + "..."
	}
	return s
}

func formatStatic(static bool) string {
	if static {
		return "yes"
	}
	return "-"
}

// formatFeatures lists the feature order, marking categorical features with
// their label count, e.g. "cpu, option[3], replicas".
func formatFeatures(r *knowledge.EffectRecord) string {
	parts := make([]string, len(r.TrainingFeatureOrder))
	for i, name := range r.TrainingFeatureOrder {
		if labels, ok := r.FeatureEncoding[name]; ok {
			parts[i] = fmt.Sprintf("%s[%d]", name, len(labels))
		} else {
			parts[i] = name
		}
	}
	return truncate(strings.Join(parts, ", "), 40)
}

// formatAge shows time since ts, e.g. "2m ago".
func formatAge(ts, now time.Time) string {
	if ts.IsZero() {
		return "-"
	}

	diff := now.Sub(ts)
	switch {
	case diff < 0:
		return "future"
	case diff < time.Minute:
		return fmt.Sprintf("%ds ago", int(diff.Seconds()))
	case diff < time.Hour:
		return fmt.Sprintf("%dm ago", int(diff.Minutes()))
	case diff < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(diff.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(diff.Hours()/24))
	}
}

// sortedKeys returns m's keys in order.
func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
