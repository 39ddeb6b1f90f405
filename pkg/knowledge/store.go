package knowledge

import (
	"context"
	"errors"
	"sort"
	"time"
)

// ErrRecordNotFound is returned by lookups of a single record that does not exist.
var ErrRecordNotFound = errors.New("effect record not found")

// Query selects candidate records for one key.
// Matching records are those with IsStatic set or Timestamp >= Cutoff,
// returned newest first, at most Limit of them. A zero Cutoff admits all.
type Query struct {
	Key    Key
	Cutoff time.Time
	Limit  int
}

// Store is the knowledge store contract consumed by the resolver and the
// write path.
type Store interface {
	Find(ctx context.Context, q Query) ([]*EffectRecord, error)
	Insert(ctx context.Context, r *EffectRecord) error
}

// Browser is implemented by stores that support inspection tooling.
type Browser interface {
	GetRecord(ctx context.Context, id string) (*EffectRecord, error)
	ListRecords(ctx context.Context) ([]*EffectRecord, error)
	ScanRecords(ctx context.Context, idPrefix string) ([]string, error)
}

// Pinger is implemented by stores that can report connectivity.
type Pinger interface {
	Ping(ctx context.Context) error
}

// IsNotFound reports whether err means a record does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrRecordNotFound)
}

// SortNewestFirst orders records by timestamp descending, then ID descending
// so equal timestamps still sort deterministically.
func SortNewestFirst(records []*EffectRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		if !records[i].Timestamp.Equal(records[j].Timestamp) {
			return records[i].Timestamp.After(records[j].Timestamp)
		}
		return records[i].ID > records[j].ID
	})
}

// Matches reports whether a record satisfies q's key and admission predicate.
func (q Query) Matches(r *EffectRecord) bool {
	if r.Key() != q.Key {
		return false
	}
	return r.IsStatic || q.Cutoff.IsZero() || !r.Timestamp.Before(q.Cutoff)
}
