package knowledge

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Key identifies the logical effect a record models.
type Key struct {
	Subject string `json:"subject"` // Workload or intent the effect applies to
	Group   string `json:"group"`   // Effect domain, e.g. "energy", "rdt", "scaling"
	Target  string `json:"target"`  // Objective being modelled, e.g. "default/p99latency"
}

func (k Key) String() string {
	return k.Group + "/" + k.Subject + "/" + k.Target
}

// Validate checks that every component is set.
func (k Key) Validate() error {
	if k.Subject == "" {
		return fmt.Errorf("subject cannot be empty")
	}
	if k.Group == "" {
		return fmt.Errorf("group cannot be empty")
	}
	if k.Target == "" {
		return fmt.Errorf("target cannot be empty")
	}
	return nil
}

// EffectRecord is one stored model for a key.
// The model blob is opaque here; only the blob package may interpret it.
type EffectRecord struct {
	ID                   string              `json:"id"`                     // UUID
	Subject              string              `json:"subject"`                // See Key
	Group                string              `json:"group"`                  // See Key
	Target               string              `json:"target"`                 // See Key
	ModelBlob            []byte              `json:"model_blob,omitempty"`   // Serialized model, read-only once stored
	FeatureEncoding      map[string][]string `json:"feature_encoding"`       // Categorical feature -> ordered labels
	TrainingFeatureOrder []string            `json:"training_feature_order"` // Exact input vector layout
	IsStatic             bool                `json:"static"`                 // Static records never expire
	Timestamp            time.Time           `json:"timestamp"`              // Creation time
}

// Key returns the record's logical key.
func (r *EffectRecord) Key() Key {
	return Key{Subject: r.Subject, Group: r.Group, Target: r.Target}
}

// Admissible reports whether the record may be served at now.
// Static records are always admissible; others only while now-Timestamp <= lookback.
func (r *EffectRecord) Admissible(now time.Time, lookback time.Duration) bool {
	if r.IsStatic {
		return true
	}
	return now.Sub(r.Timestamp) <= lookback
}

// Validate checks that the record is complete and internally consistent.
func (r *EffectRecord) Validate() error {
	if _, err := uuid.Parse(r.ID); err != nil {
		return fmt.Errorf("invalid record ID: not a valid UUID")
	}

	if err := r.Key().Validate(); err != nil {
		return err
	}

	if len(r.ModelBlob) == 0 {
		return fmt.Errorf("model blob cannot be empty")
	}

	if len(r.TrainingFeatureOrder) == 0 {
		return fmt.Errorf("training feature order cannot be empty")
	}

	seen := make(map[string]struct{}, len(r.TrainingFeatureOrder))
	for i, name := range r.TrainingFeatureOrder {
		if name == "" {
			return fmt.Errorf("training feature at index %d is empty", i)
		}
		if _, dup := seen[name]; dup {
			return fmt.Errorf("duplicate training feature %q", name)
		}
		seen[name] = struct{}{}
	}

	for name, labels := range r.FeatureEncoding {
		if _, ok := seen[name]; !ok {
			return fmt.Errorf("encoded feature %q is not in the training feature order", name)
		}
		if len(labels) == 0 {
			return fmt.Errorf("encoded feature %q has no labels", name)
		}
	}

	if r.Timestamp.IsZero() {
		return fmt.Errorf("timestamp cannot be zero")
	}

	return nil
}

// EffectEvent is published after a record is inserted.
// It carries the record's metadata but not its blob.
type EffectEvent struct {
	ID        string    `json:"id"`
	Subject   string    `json:"subject"`
	Group     string    `json:"group"`
	Target    string    `json:"target"`
	Static    bool      `json:"static"`
	BlobSize  int       `json:"blob_size"`
	Timestamp time.Time `json:"timestamp"`
}

// EventFor builds the insert event for a record.
func EventFor(r *EffectRecord) EffectEvent {
	return EffectEvent{
		ID:        r.ID,
		Subject:   r.Subject,
		Group:     r.Group,
		Target:    r.Target,
		Static:    r.IsStatic,
		BlobSize:  len(r.ModelBlob),
		Timestamp: r.Timestamp,
	}
}
