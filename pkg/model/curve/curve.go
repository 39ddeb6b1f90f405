// Package curve decodes parametric scaling curves.
//
// HorizontalScaling relates throughput and replica count to latency:
//
//	latency = p0*e^(p1*t) / (p2*e^(p3*t*n))
//
// where t is the throughput after the optional linear rescale
// t = raw*scale[0] + scale[1] applied at fit time.
//
// VerticalScaling relates CPU allocation to latency:
//
//	latency = p0*e^(-p1*x) + p2
package curve

import (
	"fmt"
	"math"

	"github.com/dyluth/effectd/pkg/blob"
	"github.com/dyluth/effectd/pkg/capability"
	"github.com/dyluth/effectd/pkg/model"
)

const Namespace = "curve"

// Horizontal is a fitted horizontal scaling curve over [throughput, replicas].
type Horizontal struct {
	Params          [4]float64
	ThroughputScale [2]float64
	// MaxReplicas is the largest replica count seen at fit time; 0 means unbounded.
	MaxReplicas int
}

var _ model.Predictor = (*Horizontal)(nil)

func (h *Horizontal) NumFeatures() int { return 2 }

func (h *Horizontal) Predict(x []float64) (float64, error) {
	if err := model.CheckInput(h, x); err != nil {
		return 0, err
	}
	t := x[0]*h.ThroughputScale[0] + h.ThroughputScale[1]
	n := x[1]
	if h.MaxReplicas > 0 && n > float64(h.MaxReplicas) {
		return 0, fmt.Errorf("replica count %v is beyond the fitted range of %d", n, h.MaxReplicas)
	}
	p := h.Params
	return (p[0] * math.Exp(p[1]*t)) / (p[2] * math.Exp(p[3]*t*n)), nil
}

// Vertical is a fitted vertical scaling curve over [cpu].
type Vertical struct {
	Params [3]float64
}

var _ model.Predictor = (*Vertical)(nil)

func (v *Vertical) NumFeatures() int { return 1 }

func (v *Vertical) Predict(x []float64) (float64, error) {
	if err := model.CheckInput(v, x); err != nil {
		return 0, err
	}
	p := v.Params
	return p[0]*math.Exp(-p[1]*x[0]) + p[2], nil
}

// Entries returns the registry entries for the scaling curves.
func Entries() []capability.Entry {
	return []capability.Entry{
		{Key: capability.Key{Namespace: Namespace, TypeName: "HorizontalScaling"}, Constructor: newHorizontal},
		{Key: capability.Key{Namespace: Namespace, TypeName: "VerticalScaling"}, Constructor: newVertical},
	}
}

func params(s capability.State, n int) ([]float64, error) {
	p, err := s.Floats("params")
	if err != nil {
		return nil, err
	}
	if len(p) != n {
		return nil, fmt.Errorf("curve needs %d params, got %d", n, len(p))
	}
	for i, v := range p {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("param %d is not finite", i)
		}
	}
	return p, nil
}

func newHorizontal(s capability.State) (any, error) {
	p, err := params(s, 4)
	if err != nil {
		return nil, err
	}

	h := &Horizontal{ThroughputScale: [2]float64{1, 0}}
	copy(h.Params[:], p)

	if s.Has("throughput_scale") {
		scale, err := s.Floats("throughput_scale")
		if err != nil {
			return nil, err
		}
		if len(scale) != 2 {
			return nil, fmt.Errorf("throughput_scale needs 2 values, got %d", len(scale))
		}
		copy(h.ThroughputScale[:], scale)
	}

	if s.Has("max_replicas") {
		m, err := s.Int("max_replicas")
		if err != nil {
			return nil, err
		}
		if m < 0 {
			return nil, fmt.Errorf("max_replicas is negative")
		}
		h.MaxReplicas = int(m)
	}

	return h, nil
}

func newVertical(s capability.State) (any, error) {
	p, err := params(s, 3)
	if err != nil {
		return nil, err
	}
	v := &Vertical{}
	copy(v.Params[:], p)
	return v, nil
}

// HorizontalNode encodes a horizontal scaling curve.
func HorizontalNode(h *Horizontal) *blob.Node {
	return blob.Object(Namespace, "HorizontalScaling",
		blob.F("params", blob.Floats(h.Params[:])),
		blob.F("throughput_scale", blob.Floats(h.ThroughputScale[:])),
		blob.F("max_replicas", blob.Int(int64(h.MaxReplicas))),
	)
}

// VerticalNode encodes a vertical scaling curve.
func VerticalNode(v *Vertical) *blob.Node {
	return blob.Object(Namespace, "VerticalScaling",
		blob.F("params", blob.Floats(v.Params[:])),
	)
}
