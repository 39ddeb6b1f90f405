// Package manifest reads hand-authored effect records for effectctl put.
//
// A manifest is one or more YAML documents, each describing one record:
//
//	subject: default/my-app
//	group: rdt
//	target: default/p99
//	static: true
//	features: [cpu, option, replicas]
//	encoding:
//	  option: [None, COS1, COS2]
//	model:
//	  extra_trees:
//	    trees:
//	      - {left: [-1], right: [-1], feature: [0], threshold: [0], value: [12.5]}
//
// The model section names exactly one family. Blobs are built from it with
// the same encoders the decoders are tested against.
package manifest

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/dyluth/effectd/pkg/blob"
	"github.com/dyluth/effectd/pkg/knowledge"
	"github.com/dyluth/effectd/pkg/model/curve"
	"github.com/dyluth/effectd/pkg/model/ensemble"
	"github.com/dyluth/effectd/pkg/model/linear"
	"github.com/dyluth/effectd/pkg/model/tree"
)

// Manifest describes one record.
type Manifest struct {
	ID        string              `yaml:"id,omitempty"`
	Subject   string              `yaml:"subject"`
	Group     string              `yaml:"group"`
	Target    string              `yaml:"target"`
	Static    bool                `yaml:"static,omitempty"`
	Timestamp *time.Time          `yaml:"timestamp,omitempty"`
	Features  []string            `yaml:"features"`
	Encoding  map[string][]string `yaml:"encoding,omitempty"`
	Model     ModelSpec           `yaml:"model"`
}

// ModelSpec holds exactly one model family.
type ModelSpec struct {
	Linear       *LinearSpec     `yaml:"linear,omitempty"`
	Horizontal   *HorizontalSpec `yaml:"horizontal_scaling,omitempty"`
	Vertical     *VerticalSpec   `yaml:"vertical_scaling,omitempty"`
	DecisionTree *TreeSpec       `yaml:"decision_tree,omitempty"`
	RandomForest *ForestSpec     `yaml:"random_forest,omitempty"`
	ExtraTrees   *ForestSpec     `yaml:"extra_trees,omitempty"`
}

type LinearSpec struct {
	Coef      []float64 `yaml:"coef"`
	Intercept float64   `yaml:"intercept"`
}

type HorizontalSpec struct {
	Params          []float64 `yaml:"params"`
	ThroughputScale []float64 `yaml:"throughput_scale,omitempty"`
	MaxReplicas     int       `yaml:"max_replicas,omitempty"`
}

type VerticalSpec struct {
	Params []float64 `yaml:"params"`
}

// TreeSpec is a flat tree; see tree.Tree. Leaf children are -1.
type TreeSpec struct {
	Left      []int     `yaml:"left"`
	Right     []int     `yaml:"right"`
	Feature   []int     `yaml:"feature"`
	Threshold []float64 `yaml:"threshold"`
	Value     []float64 `yaml:"value"`
}

type ForestSpec struct {
	Trees []TreeSpec `yaml:"trees"`
}

// Parse reads every YAML document in data.
func Parse(data []byte) ([]*Manifest, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var out []*Manifest
	for {
		var m Manifest
		err := dec.Decode(&m)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to parse manifest document %d: %w", len(out)+1, err)
		}
		out = append(out, &m)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("manifest is empty")
	}
	return out, nil
}

// Load reads a manifest file.
func Load(path string) ([]*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}
	return Parse(data)
}

// Record builds a validated effect record. A missing ID is generated and a
// missing timestamp defaults to now.
func (m *Manifest) Record(now time.Time) (*knowledge.EffectRecord, error) {
	node, err := m.Model.Node(len(m.Features))
	if err != nil {
		return nil, err
	}

	data, err := blob.Encode(node)
	if err != nil {
		return nil, fmt.Errorf("failed to encode model: %w", err)
	}

	id := m.ID
	if id == "" {
		id = uuid.NewString()
	}
	ts := now
	if m.Timestamp != nil {
		ts = *m.Timestamp
	}

	rec := &knowledge.EffectRecord{
		ID:                   id,
		Subject:              m.Subject,
		Group:                m.Group,
		Target:               m.Target,
		ModelBlob:            data,
		FeatureEncoding:      m.Encoding,
		TrainingFeatureOrder: m.Features,
		IsStatic:             m.Static,
		Timestamp:            ts,
	}
	if err := rec.Validate(); err != nil {
		return nil, fmt.Errorf("invalid record: %w", err)
	}
	return rec, nil
}

// Node builds the blob tree for the single configured family. nFeatures is
// the record's feature count, used by the tree families.
func (s *ModelSpec) Node(nFeatures int) (*blob.Node, error) {
	var (
		node  *blob.Node
		count int
		err   error
	)
	set := func(n *blob.Node, e error) {
		count++
		node, err = n, e
	}

	if s.Linear != nil {
		set(s.Linear.node())
	}
	if s.Horizontal != nil {
		set(s.Horizontal.node())
	}
	if s.Vertical != nil {
		set(s.Vertical.node())
	}
	if s.DecisionTree != nil {
		set(s.DecisionTree.regressor(tree.KindDecision, nFeatures))
	}
	if s.RandomForest != nil {
		set(s.RandomForest.node(ensemble.KindRandomForest, nFeatures))
	}
	if s.ExtraTrees != nil {
		set(s.ExtraTrees.node(ensemble.KindExtraTrees, nFeatures))
	}

	switch count {
	case 0:
		return nil, fmt.Errorf("model must name a family")
	case 1:
		return node, err
	default:
		return nil, fmt.Errorf("model names %d families, want exactly one", count)
	}
}

func (l *LinearSpec) node() (*blob.Node, error) {
	if len(l.Coef) == 0 {
		return nil, fmt.Errorf("linear: coef cannot be empty")
	}
	return linear.Node(l.Coef, l.Intercept), nil
}

func (h *HorizontalSpec) node() (*blob.Node, error) {
	if len(h.Params) != 4 {
		return nil, fmt.Errorf("horizontal_scaling: want 4 params, got %d", len(h.Params))
	}
	c := &curve.Horizontal{ThroughputScale: [2]float64{1, 0}, MaxReplicas: h.MaxReplicas}
	copy(c.Params[:], h.Params)
	if h.ThroughputScale != nil {
		if len(h.ThroughputScale) != 2 {
			return nil, fmt.Errorf("horizontal_scaling: throughput_scale wants 2 values, got %d", len(h.ThroughputScale))
		}
		copy(c.ThroughputScale[:], h.ThroughputScale)
	}
	return curve.HorizontalNode(c), nil
}

func (v *VerticalSpec) node() (*blob.Node, error) {
	if len(v.Params) != 3 {
		return nil, fmt.Errorf("vertical_scaling: want 3 params, got %d", len(v.Params))
	}
	c := &curve.Vertical{}
	copy(c.Params[:], v.Params)
	return curve.VerticalNode(c), nil
}

func (t *TreeSpec) tree(nFeatures int) (*tree.Tree, error) {
	tr := &tree.Tree{
		NFeatures: nFeatures,
		Left:      t.Left,
		Right:     t.Right,
		Feature:   t.Feature,
		Threshold: t.Threshold,
		Value:     t.Value,
	}
	if err := tr.Validate(); err != nil {
		return nil, err
	}
	return tr, nil
}

func (t *TreeSpec) regressor(kind tree.Kind, nFeatures int) (*blob.Node, error) {
	tr, err := t.tree(nFeatures)
	if err != nil {
		return nil, fmt.Errorf("decision_tree: %w", err)
	}
	return tree.RegressorNode(kind, tr), nil
}

func (f *ForestSpec) node(kind ensemble.Kind, nFeatures int) (*blob.Node, error) {
	if len(f.Trees) == 0 {
		return nil, fmt.Errorf("%s: trees cannot be empty", kind)
	}
	trees := make([]*tree.Tree, len(f.Trees))
	for i := range f.Trees {
		tr, err := f.Trees[i].tree(nFeatures)
		if err != nil {
			return nil, fmt.Errorf("%s: tree %d: %w", kind, i, err)
		}
		trees[i] = tr
	}
	return ensemble.Node(kind, nFeatures, trees...), nil
}
