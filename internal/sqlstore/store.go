// Package sqlstore is an embedded SQLite knowledge store for single-node
// deployments and tooling.
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/dyluth/effectd/pkg/knowledge"
	_ "modernc.org/sqlite"
)

type Store struct {
	db *sql.DB
}

var (
	_ knowledge.Store   = (*Store)(nil)
	_ knowledge.Browser = (*Store)(nil)
	_ knowledge.Pinger  = (*Store)(nil)
)

// Open opens (creating if needed) the database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite store: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(5 * time.Minute)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to migrate sqlite store: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
CREATE TABLE IF NOT EXISTS effects (
  id TEXT PRIMARY KEY,
  subject TEXT NOT NULL,
  grp TEXT NOT NULL,
  target TEXT NOT NULL,
  model_blob BLOB NOT NULL,
  feature_encoding TEXT NOT NULL DEFAULT '{}',
  training_feature_order TEXT NOT NULL DEFAULT '[]',
  is_static INTEGER NOT NULL DEFAULT 0,
  ts_ns INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS effects_key_ts ON effects(grp, subject, target, ts_ns DESC);
`)
	return err
}

const columns = `id, subject, grp, target, model_blob, feature_encoding, training_feature_order, is_static, ts_ns`

// Insert validates and stores a record.
func (s *Store) Insert(ctx context.Context, r *knowledge.EffectRecord) error {
	if err := r.Validate(); err != nil {
		return fmt.Errorf("invalid effect record: %w", err)
	}

	encoding, err := json.Marshal(r.FeatureEncoding)
	if err != nil {
		return fmt.Errorf("failed to marshal feature encoding: %w", err)
	}
	order, err := json.Marshal(r.TrainingFeatureOrder)
	if err != nil {
		return fmt.Errorf("failed to marshal training feature order: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
INSERT INTO effects(`+columns+`)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?);
`, r.ID, r.Subject, r.Group, r.Target, r.ModelBlob, string(encoding), string(order), boolToInt(r.IsStatic), r.Timestamp.UnixNano())
	if err != nil {
		return fmt.Errorf("failed to write effect record: %w", err)
	}
	return nil
}

// Find returns the records matching q, newest first.
func (s *Store) Find(ctx context.Context, q knowledge.Query) ([]*knowledge.EffectRecord, error) {
	if err := q.Key.Validate(); err != nil {
		return nil, fmt.Errorf("invalid query: %w", err)
	}

	cutoff := int64(math.MinInt64)
	if !q.Cutoff.IsZero() {
		cutoff = q.Cutoff.UnixNano()
	}
	limit := -1
	if q.Limit > 0 {
		limit = q.Limit
	}

	rows, err := s.db.QueryContext(ctx, `
SELECT `+columns+`
FROM effects
WHERE grp=? AND subject=? AND target=? AND (is_static=1 OR ts_ns >= ?)
ORDER BY ts_ns DESC, id DESC
LIMIT ?;
`, q.Key.Group, q.Key.Subject, q.Key.Target, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query effect records: %w", err)
	}
	defer rows.Close()

	return scanAll(rows)
}

// GetRecord retrieves a record by ID.
func (s *Store) GetRecord(ctx context.Context, id string) (*knowledge.EffectRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+columns+` FROM effects WHERE id=?;`, id)
	r, err := scan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, knowledge.ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read effect record: %w", err)
	}
	return r, nil
}

// ListRecords returns every record, newest first.
func (s *Store) ListRecords(ctx context.Context) ([]*knowledge.EffectRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+columns+` FROM effects ORDER BY ts_ns DESC, id DESC;`)
	if err != nil {
		return nil, fmt.Errorf("failed to list effect records: %w", err)
	}
	defer rows.Close()

	return scanAll(rows)
}

// ScanRecords returns the IDs starting with idPrefix.
func (s *Store) ScanRecords(ctx context.Context, idPrefix string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM effects WHERE substr(id, 1, ?) = ? ORDER BY id;`, len(idPrefix), idPrefix)
	if err != nil {
		return nil, fmt.Errorf("failed to scan effect records: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scan(row scanner) (*knowledge.EffectRecord, error) {
	var (
		r        knowledge.EffectRecord
		encoding string
		order    string
		static   int
		tsNanos  int64
	)
	if err := row.Scan(&r.ID, &r.Subject, &r.Group, &r.Target, &r.ModelBlob, &encoding, &order, &static, &tsNanos); err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(encoding), &r.FeatureEncoding); err != nil {
		return nil, fmt.Errorf("failed to unmarshal feature_encoding: %w", err)
	}
	if r.FeatureEncoding == nil {
		r.FeatureEncoding = map[string][]string{}
	}
	if err := json.Unmarshal([]byte(order), &r.TrainingFeatureOrder); err != nil {
		return nil, fmt.Errorf("failed to unmarshal training_feature_order: %w", err)
	}
	r.IsStatic = static != 0
	r.Timestamp = time.Unix(0, tsNanos).UTC()
	return &r, nil
}

func scanAll(rows *sql.Rows) ([]*knowledge.EffectRecord, error) {
	var out []*knowledge.EffectRecord
	for rows.Next() {
		r, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
