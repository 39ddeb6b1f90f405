// Package inspect implements the read-only effectctl views of a knowledge store.
package inspect

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/dyluth/effectd/pkg/knowledge"
)

// OutputFormat specifies how to format the record list output.
type OutputFormat string

const (
	// OutputFormatDefault uses a table with truncated keys.
	OutputFormatDefault OutputFormat = "default"

	// OutputFormatJSONL writes one record view per line.
	OutputFormatJSONL OutputFormat = "jsonl"
)

// ParseOutputFormat validates a --output value.
func ParseOutputFormat(s string) (OutputFormat, error) {
	switch OutputFormat(s) {
	case "", OutputFormatDefault:
		return OutputFormatDefault, nil
	case OutputFormatJSONL:
		return OutputFormatJSONL, nil
	}
	return "", fmt.Errorf("unknown output format %q: must be %q or %q", s, OutputFormatDefault, OutputFormatJSONL)
}

// Filter narrows a record listing. All set fields are ANDed together.
type Filter struct {
	Group   string    // exact match, empty = any
	Subject string    // glob pattern, empty = any
	Target  string    // glob pattern, empty = any
	Since   time.Time // zero = no lower bound
	Until   time.Time // zero = no upper bound
}

// Matches reports whether r passes every criterion.
func (f *Filter) Matches(r *knowledge.EffectRecord) bool {
	if f == nil {
		return true
	}
	if !f.Since.IsZero() && r.Timestamp.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && r.Timestamp.After(f.Until) {
		return false
	}
	if f.Group != "" && r.Group != f.Group {
		return false
	}
	if !globMatch(f.Subject, r.Subject) || !globMatch(f.Target, r.Target) {
		return false
	}
	return true
}

func globMatch(pattern, value string) bool {
	if pattern == "" {
		return true
	}
	matched, err := filepath.Match(pattern, value)
	return err == nil && matched
}

// ListRecords returns the records passing f, oldest first for chronological
// output.
func ListRecords(ctx context.Context, b knowledge.Browser, f *Filter) ([]*knowledge.EffectRecord, error) {
	all, err := b.ListRecords(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list effect records: %w", err)
	}

	var out []*knowledge.EffectRecord
	for i := len(all) - 1; i >= 0; i-- {
		if f.Matches(all[i]) {
			out = append(out, all[i])
		}
	}
	return out, nil
}

// WriteRecords formats records to w.
func WriteRecords(w io.Writer, records []*knowledge.EffectRecord, format OutputFormat, instanceName string, now time.Time) error {
	switch format {
	case OutputFormatDefault:
		FormatTable(w, records, instanceName, now)
		return nil
	case OutputFormatJSONL:
		if err := FormatJSONL(w, records); err != nil {
			return fmt.Errorf("failed to format JSONL output: %w", err)
		}
		return nil
	default:
		return fmt.Errorf("unknown output format: %s", format)
	}
}
