package knowledge

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Serialization helpers for converting between records and Redis hashes.
//
// The model blob is stored as a raw binary field. Feature metadata is
// JSON-encoded into single hash fields.

// RecordToHash converts an EffectRecord to a Redis hash.
func RecordToHash(r *EffectRecord) (map[string]interface{}, error) {
	encodingJSON, err := json.Marshal(r.FeatureEncoding)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal feature encoding: %w", err)
	}

	orderJSON, err := json.Marshal(r.TrainingFeatureOrder)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal training feature order: %w", err)
	}

	static := "0"
	if r.IsStatic {
		static = "1"
	}

	hash := map[string]interface{}{
		"id":                     r.ID,
		"subject":                r.Subject,
		"group":                  r.Group,
		"target":                 r.Target,
		"model_blob":             r.ModelBlob,
		"feature_encoding":       string(encodingJSON),
		"training_feature_order": string(orderJSON),
		"static":                 static,
		"timestamp_ns":           r.Timestamp.UnixNano(),
	}

	return hash, nil
}

// HashToRecord converts a Redis hash to an EffectRecord.
func HashToRecord(hash map[string]string) (*EffectRecord, error) {
	ts, err := strconv.ParseInt(hash["timestamp_ns"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid timestamp_ns field: %w", err)
	}

	var encoding map[string][]string
	if raw := hash["feature_encoding"]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &encoding); err != nil {
			return nil, fmt.Errorf("failed to unmarshal feature_encoding: %w", err)
		}
	}
	if encoding == nil {
		encoding = map[string][]string{}
	}

	var order []string
	if raw := hash["training_feature_order"]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &order); err != nil {
			return nil, fmt.Errorf("failed to unmarshal training_feature_order: %w", err)
		}
	}

	var blob []byte
	if raw, ok := hash["model_blob"]; ok {
		blob = []byte(raw)
	}

	record := &EffectRecord{
		ID:                   hash["id"],
		Subject:              hash["subject"],
		Group:                hash["group"],
		Target:               hash["target"],
		ModelBlob:            blob,
		FeatureEncoding:      encoding,
		TrainingFeatureOrder: order,
		IsStatic:             hash["static"] == "1",
		Timestamp:            time.Unix(0, ts).UTC(),
	}

	return record, nil
}
