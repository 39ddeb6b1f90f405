// Package resolver selects the effect record a request should be served from.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/dyluth/effectd/pkg/knowledge"
)

var (
	// ErrNotFound means no admissible record exists for the key. It is a
	// routine outcome, not a failure of the store.
	ErrNotFound = errors.New("no admissible effect record")

	// ErrStoreTimeout means the store did not answer within the query timeout.
	ErrStoreTimeout = errors.New("knowledge store timed out")

	// ErrStoreUnavailable wraps every other store failure.
	ErrStoreUnavailable = errors.New("knowledge store unavailable")
)

const (
	DefaultLookback      = 20 * time.Minute
	DefaultQueryTimeout  = 2 * time.Second
	DefaultMaxCandidates = 16
)

// Options tune resolution. Zero fields take the defaults above.
type Options struct {
	Lookback      time.Duration
	QueryTimeout  time.Duration
	MaxCandidates int
}

func (o Options) withDefaults() Options {
	if o.Lookback <= 0 {
		o.Lookback = DefaultLookback
	}
	if o.QueryTimeout <= 0 {
		o.QueryTimeout = DefaultQueryTimeout
	}
	if o.MaxCandidates <= 0 {
		o.MaxCandidates = DefaultMaxCandidates
	}
	return o
}

// Resolver finds the newest admissible record for a key.
// It is stateless apart from its options and safe for concurrent use.
type Resolver struct {
	store knowledge.Store
	opts  Options
}

// New creates a resolver over store.
func New(store knowledge.Store, opts Options) *Resolver {
	return &Resolver{store: store, opts: opts.withDefaults()}
}

// Lookback returns the effective freshness window.
func (r *Resolver) Lookback() time.Duration {
	return r.opts.Lookback
}

// Resolve returns the record to serve key from at time now.
func (r *Resolver) Resolve(ctx context.Context, key knowledge.Key, now time.Time) (*knowledge.EffectRecord, error) {
	qctx, cancel := context.WithTimeout(ctx, r.opts.QueryTimeout)
	defer cancel()

	records, err := r.store.Find(qctx, knowledge.Query{
		Key:    key,
		Cutoff: now.Add(-r.opts.Lookback),
		Limit:  r.opts.MaxCandidates,
	})
	if err != nil {
		return nil, classify(err)
	}

	// drop anything the store returned for another key
	matching := records[:0:0]
	for _, rec := range records {
		if rec != nil && rec.Key() == key {
			matching = append(matching, rec)
		}
	}

	best := Select(matching, now, r.opts.Lookback)
	if best == nil {
		return nil, fmt.Errorf("%w for %s", ErrNotFound, key)
	}
	return best, nil
}

func classify(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", ErrStoreTimeout, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %w", ErrStoreTimeout, err)
	}
	return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
}

// Select picks the most recent admissible record. Equal timestamps are
// broken by the larger record ID. Returns nil when nothing is admissible.
func Select(records []*knowledge.EffectRecord, now time.Time, lookback time.Duration) *knowledge.EffectRecord {
	var best *knowledge.EffectRecord
	for _, rec := range records {
		if !rec.Admissible(now, lookback) {
			continue
		}
		if best == nil ||
			rec.Timestamp.After(best.Timestamp) ||
			(rec.Timestamp.Equal(best.Timestamp) && rec.ID > best.ID) {
			best = rec
		}
	}
	return best
}
