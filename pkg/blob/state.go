package blob

import (
	"fmt"

	"github.com/dyluth/effectd/pkg/capability"
)

// state adapts a decoded map node to capability.State.
type state struct {
	node *Node
}

var _ capability.State = (*state)(nil)

func (s *state) get(field string, want Kind) (*Node, error) {
	n := s.node.field(field)
	if n == nil {
		return nil, fmt.Errorf("missing field %q", field)
	}
	if n.Kind != want {
		return nil, fmt.Errorf("field %q is %s, want %s", field, n.Kind, want)
	}
	return n, nil
}

func (s *state) Has(field string) bool {
	return s.node.field(field) != nil
}

func (s *state) Int(field string) (int64, error) {
	n, err := s.get(field, KindInt)
	if err != nil {
		return 0, err
	}
	return n.Int, nil
}

func (s *state) Float(field string) (float64, error) {
	n := s.node.field(field)
	if n == nil {
		return 0, fmt.Errorf("missing field %q", field)
	}
	switch n.Kind {
	case KindFloat:
		return n.Float, nil
	case KindInt:
		return float64(n.Int), nil
	default:
		return 0, fmt.Errorf("field %q is %s, want float", field, n.Kind)
	}
}

func (s *state) String(field string) (string, error) {
	n, err := s.get(field, KindString)
	if err != nil {
		return "", err
	}
	return n.Str, nil
}

func (s *state) Bytes(field string) ([]byte, error) {
	n, err := s.get(field, KindBytes)
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(n.Raw))
	copy(out, n.Raw)
	return out, nil
}

func (s *state) Ints(field string) ([]int64, error) {
	n, err := s.get(field, KindList)
	if err != nil {
		return nil, err
	}
	out := make([]int64, len(n.Items))
	for i, item := range n.Items {
		if item.Kind != KindInt {
			return nil, fmt.Errorf("field %q[%d] is %s, want int", field, i, item.Kind)
		}
		out[i] = item.Int
	}
	return out, nil
}

func (s *state) Floats(field string) ([]float64, error) {
	n, err := s.get(field, KindList)
	if err != nil {
		return nil, err
	}
	out := make([]float64, len(n.Items))
	for i, item := range n.Items {
		switch item.Kind {
		case KindFloat:
			out[i] = item.Float
		case KindInt:
			out[i] = float64(item.Int)
		default:
			return nil, fmt.Errorf("field %q[%d] is %s, want float", field, i, item.Kind)
		}
	}
	return out, nil
}

func (s *state) Object(field string) (any, error) {
	n, err := s.get(field, KindObject)
	if err != nil {
		return nil, err
	}
	return n.built, nil
}

func (s *state) Objects(field string) ([]any, error) {
	n, err := s.get(field, KindList)
	if err != nil {
		return nil, err
	}
	out := make([]any, len(n.Items))
	for i, item := range n.Items {
		if item.Kind != KindObject {
			return nil, fmt.Errorf("field %q[%d] is %s, want object", field, i, item.Kind)
		}
		out[i] = item.built
	}
	return out, nil
}

// Walk visits every object node of a parsed tree in document order.
func Walk(n *Node, fn func(*Node)) {
	if n == nil {
		return
	}
	if n.Kind == KindObject {
		fn(n)
		Walk(n.State, fn)
		return
	}
	for _, item := range n.Items {
		Walk(item, fn)
	}
	for _, f := range n.Fields {
		Walk(f.Value, fn)
	}
}
