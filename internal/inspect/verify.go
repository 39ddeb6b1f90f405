package inspect

import (
	"context"
	"fmt"
	"io"

	"github.com/dyluth/effectd/internal/catalog"
	"github.com/dyluth/effectd/pkg/blob"
	"github.com/dyluth/effectd/pkg/knowledge"
	"github.com/dyluth/effectd/pkg/model"
)

// Verdict classifies one stored record.
type Verdict string

const (
	VerdictOK           Verdict = "ok"
	VerdictIntegrity    Verdict = "integrity_violation" // blob names an unregistered type
	VerdictUndecodable  Verdict = "undecodable"
	VerdictMismatch     Verdict = "mismatch" // decoded, but unusable with its record
	VerdictUnknownGroup Verdict = "unknown_group"
)

// Finding is the verification result for one record.
type Finding struct {
	RecordID string  `json:"record_id"`
	Key      string  `json:"key"`
	Verdict  Verdict `json:"verdict"`
	Digest   string  `json:"blob_digest"`
	Detail   string  `json:"detail,omitempty"`
}

// Report summarises a verification pass.
type Report struct {
	Findings []Finding
	Counts   map[Verdict]int
}

// Clean reports whether every record verified.
func (r *Report) Clean() bool {
	return r.Counts[VerdictOK] == len(r.Findings)
}

// VerifyRecord decodes one record against its group's registry exactly as
// the serving front would.
func VerifyRecord(cat *catalog.Catalog, rec *knowledge.EffectRecord) Finding {
	f := Finding{
		RecordID: rec.ID,
		Key:      rec.Key().String(),
		Verdict:  VerdictOK,
		Digest:   blob.Digest(rec.ModelBlob),
	}

	reg, ok := cat.Registry(rec.Group)
	if !ok {
		f.Verdict = VerdictUnknownGroup
		f.Detail = fmt.Sprintf("group %q is not configured", rec.Group)
		return f
	}

	value, err := blob.Decode(rec.ModelBlob, reg)
	if err != nil {
		f.Verdict = VerdictUndecodable
		if blob.IsUnregistered(err) {
			f.Verdict = VerdictIntegrity
		}
		f.Detail = err.Error()
		return f
	}

	if _, err := model.NewHandle(rec, value); err != nil {
		f.Verdict = VerdictMismatch
		f.Detail = err.Error()
	}
	return f
}

// Verify checks every record passing filter.
func Verify(ctx context.Context, b knowledge.Browser, cat *catalog.Catalog, filter *Filter) (*Report, error) {
	records, err := ListRecords(ctx, b, filter)
	if err != nil {
		return nil, err
	}

	report := &Report{Counts: make(map[Verdict]int)}
	for _, rec := range records {
		f := VerifyRecord(cat, rec)
		report.Findings = append(report.Findings, f)
		report.Counts[f.Verdict]++
	}
	return report, nil
}

// FormatReport writes problem findings and a summary line to w.
// Records that verified are only counted.
func FormatReport(w io.Writer, r *Report) {
	for _, f := range r.Findings {
		if f.Verdict == VerdictOK {
			continue
		}
		fmt.Fprintf(w, "%-10s %-20s %s\n", formatID(f.RecordID), f.Verdict, f.Key)
		fmt.Fprintf(w, "           digest %s\n", f.Digest)
		if f.Detail != "" {
			fmt.Fprintf(w, "           %s\n", f.Detail)
		}
	}

	counts := make(map[string]int, len(r.Counts))
	for v, n := range r.Counts {
		counts[string(v)] = n
	}
	fmt.Fprintf(w, "\n%d records checked:", len(r.Findings))
	for _, k := range sortedKeys(counts) {
		fmt.Fprintf(w, " %s=%d", k, counts[k])
	}
	fmt.Fprintln(w)
}
