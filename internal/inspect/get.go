package inspect

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"

	"github.com/dyluth/effectd/pkg/knowledge"
)

// MinShortIDLength is the minimum accepted length for short ID prefixes.
const MinShortIDLength = 6

// ResolveID resolves a full record ID or a unique short prefix of one.
func ResolveID(ctx context.Context, b knowledge.Browser, id string) (string, error) {
	if _, err := uuid.Parse(id); err == nil {
		if _, err := b.GetRecord(ctx, id); err != nil {
			if knowledge.IsNotFound(err) {
				return "", &NotFoundError{ID: id}
			}
			return "", fmt.Errorf("failed to verify record existence: %w", err)
		}
		return id, nil
	}

	if len(id) < MinShortIDLength {
		return "", fmt.Errorf("short ID must be at least %d characters (got %d)", MinShortIDLength, len(id))
	}

	prefix := strings.ToLower(id)
	if strings.Trim(prefix, "0123456789abcdef-") != "" {
		return "", fmt.Errorf("short ID %q may only contain hex digits and '-'", id)
	}

	matches, err := b.ScanRecords(ctx, prefix)
	if err != nil {
		return "", fmt.Errorf("failed to search for record: %w", err)
	}

	switch len(matches) {
	case 0:
		return "", &NotFoundError{ID: id}
	case 1:
		return matches[0], nil
	default:
		return "", &AmbiguousError{ShortID: id, Matches: matches}
	}
}

// GetRecord resolves id and writes the record as indented JSON.
func GetRecord(ctx context.Context, b knowledge.Browser, id string, w io.Writer) error {
	fullID, err := ResolveID(ctx, b, id)
	if err != nil {
		return err
	}

	rec, err := b.GetRecord(ctx, fullID)
	if err != nil {
		if knowledge.IsNotFound(err) {
			return &NotFoundError{ID: fullID}
		}
		return fmt.Errorf("failed to fetch record: %w", err)
	}

	return FormatSingleJSON(w, rec)
}

// NotFoundError means no record matched an ID or prefix.
type NotFoundError struct {
	ID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("no effect record found matching '%s'", e.ID)
}

// AmbiguousError means a short ID matched several records.
type AmbiguousError struct {
	ShortID string
	Matches []string
}

func (e *AmbiguousError) Error() string {
	return fmt.Sprintf("ambiguous short ID '%s' matches %d records", e.ShortID, len(e.Matches))
}

// Details lists up to 10 matches and a hint.
func (e *AmbiguousError) Details() string {
	var b strings.Builder
	shown := e.Matches
	if len(shown) > 10 {
		shown = shown[:10]
	}
	for _, m := range shown {
		fmt.Fprintf(&b, "  %s\n", m)
	}
	if len(e.Matches) > 10 {
		fmt.Fprintf(&b, "  ...and %d more\n", len(e.Matches)-10)
	}
	b.WriteString("\nUse a longer prefix to uniquely identify the record.")
	return b.String()
}

// IsNotFound reports whether err is a NotFoundError.
func IsNotFound(err error) bool {
	_, ok := err.(*NotFoundError)
	return ok
}
