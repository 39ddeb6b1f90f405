// Package watch follows knowledge store activity for effectctl.
package watch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/dyluth/effectd/pkg/knowledge"
)

// OutputFormat selects how events are written.
type OutputFormat string

const (
	OutputFormatDefault OutputFormat = "default"
	OutputFormatJSON    OutputFormat = "json"
)

// EventSource is a live stream of insert events.
type EventSource interface {
	Events() <-chan *knowledge.EffectEvent
	Errors() <-chan error
}

// Stream writes events from src to w until ctx ends or src closes.
// Undecodable messages are reported on errW and skipped.
func Stream(ctx context.Context, src EventSource, format OutputFormat, w, errW io.Writer) error {
	enc := json.NewEncoder(w)
	events, errs := src.Events(), src.Errors()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-events:
			if !ok {
				return nil
			}
			switch format {
			case OutputFormatJSON:
				if err := enc.Encode(ev); err != nil {
					return fmt.Errorf("failed to write event: %w", err)
				}
			default:
				fmt.Fprintln(w, FormatEvent(ev))
			}

		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			fmt.Fprintf(errW, "⚠️  %v\n", err)
		}
	}
}

// FormatEvent renders one event as a single human-readable line.
func FormatEvent(ev *knowledge.EffectEvent) string {
	kind := "model"
	if ev.Static {
		kind = "static model"
	}
	id := ev.ID
	if len(id) > 8 {
		id = id[:8]
	}
	return fmt.Sprintf("[%s] 📦 New %s %s for %s/%s/%s (%d bytes)",
		ev.Timestamp.UTC().Format(time.TimeOnly), kind, id, ev.Group, ev.Subject, ev.Target, ev.BlobSize)
}

// PollForRecord polls until a record is readable or timeout passes.
// Polls every 200ms.
func PollForRecord(ctx context.Context, b knowledge.Browser, id string, timeout time.Duration) (*knowledge.EffectRecord, error) {
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

	timeoutCh := time.After(timeout)

	for {
		rec, err := b.GetRecord(ctx, id)
		if err == nil {
			return rec, nil
		}
		if !knowledge.IsNotFound(err) {
			return nil, fmt.Errorf("failed to query for record: %w", err)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timeoutCh:
			return nil, fmt.Errorf("timeout waiting for record %s after %v", id, timeout)
		case <-ticker.C:
		}
	}
}
