package model

import (
	"fmt"
	"time"

	"github.com/dyluth/effectd/pkg/knowledge"
)

// Handle is a decoded model bound to its record's feature metadata.
type Handle struct {
	key       knowledge.Key
	recordID  string
	timestamp time.Time
	static    bool
	order     []string
	encoding  map[string][]string
	labels    map[string]map[string]int
	predictor Predictor
}

// NewHandle binds a decoded value to the record it came from.
// The record's feature metadata is copied so later changes to rec do not
// affect the handle.
func NewHandle(rec *knowledge.EffectRecord, value any) (*Handle, error) {
	p, ok := value.(Predictor)
	if !ok {
		return nil, fmt.Errorf("%w: got %T", ErrNotPredictor, value)
	}

	if len(rec.TrainingFeatureOrder) != p.NumFeatures() {
		return nil, &DimensionError{Features: len(rec.TrainingFeatureOrder), Model: p.NumFeatures()}
	}

	order := make([]string, len(rec.TrainingFeatureOrder))
	seen := make(map[string]struct{}, len(order))
	for i, name := range rec.TrainingFeatureOrder {
		if _, dup := seen[name]; dup {
			return nil, fmt.Errorf("%w: duplicate feature %q", ErrDimensionMismatch, name)
		}
		seen[name] = struct{}{}
		order[i] = name
	}

	encoding := make(map[string][]string, len(rec.FeatureEncoding))
	labels := make(map[string]map[string]int, len(rec.FeatureEncoding))
	for name, values := range rec.FeatureEncoding {
		encoding[name] = append([]string(nil), values...)

		index := make(map[string]int, len(values))
		for i, label := range values {
			if _, ok := index[label]; !ok {
				index[label] = i
			}
		}
		labels[name] = index
	}

	return &Handle{
		key:       rec.Key(),
		recordID:  rec.ID,
		timestamp: rec.Timestamp,
		static:    rec.IsStatic,
		order:     order,
		encoding:  encoding,
		labels:    labels,
		predictor: p,
	}, nil
}

func (h *Handle) Key() knowledge.Key   { return h.key }
func (h *Handle) RecordID() string     { return h.recordID }
func (h *Handle) Timestamp() time.Time { return h.timestamp }
func (h *Handle) Static() bool         { return h.static }
func (h *Handle) Predictor() Predictor { return h.predictor }

// FeatureOrder returns a copy of the training feature order.
func (h *Handle) FeatureOrder() []string {
	return append([]string(nil), h.order...)
}

// Encoding returns a copy of the label list of a categorical feature and
// whether the feature is categorical at all.
func (h *Handle) Encoding(name string) ([]string, bool) {
	labels, ok := h.encoding[name]
	if !ok {
		return nil, false
	}
	return append([]string(nil), labels...), true
}

// IsCategorical reports whether the named feature is categorical.
func (h *Handle) IsCategorical(name string) bool {
	_, ok := h.encoding[name]
	return ok
}

// Categorical reports whether any feature of the handle is categorical.
func (h *Handle) Categorical() bool {
	return len(h.encoding) > 0
}

// LabelIndex returns the encoded index of label for a categorical feature.
// The first occurrence wins when a label is listed twice.
func (h *Handle) LabelIndex(name, label string) (int, bool) {
	idx, ok := h.labels[name][label]
	return idx, ok
}

// Predict evaluates a vector already laid out in training order.
func (h *Handle) Predict(x []float64) (float64, error) {
	if err := CheckInput(h.predictor, x); err != nil {
		return 0, err
	}
	return h.predictor.Predict(x)
}
