package blob

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/dyluth/effectd/pkg/capability"
	"github.com/vmihailenco/msgpack/v5"
	"github.com/vmihailenco/msgpack/v5/msgpcode"
)

// Decoder limits.
const (
	MaxDepth       = 64
	MaxElements    = 1 << 20
	MaxBytesLength = 64 << 20
)

// Decode reconstructs the value described by data, constructing only types
// present in reg. The root node must be an object.
//
// The registry must be frozen. On any error no partially built value is
// returned, and for ErrUnregistered no constructor has run at all.
func Decode(data []byte, reg *capability.Registry) (any, error) {
	if reg == nil || !reg.Frozen() {
		return nil, ErrRegistryNotFrozen
	}

	root, err := Parse(data, reg)
	if err != nil {
		return nil, err
	}
	if root.Kind != KindObject {
		return nil, &DecodeError{Kind: KindMalformedBlob, Err: fmt.Errorf("root is %s, want object", root.Kind)}
	}

	if err := build(root); err != nil {
		return nil, err
	}
	return root.built, nil
}

// Parse reads the node tree and binds constructors without running them.
// It is exported for tooling that needs to inspect a blob's type graph.
func Parse(data []byte, reg *capability.Registry) (*Node, error) {
	if reg == nil || !reg.Frozen() {
		return nil, ErrRegistryNotFrozen
	}

	r := bytes.NewReader(data)
	p := &parser{
		r:     r,
		dec:   msgpack.NewDecoder(r),
		reg:   reg,
		total: len(data),
	}

	if err := p.header(); err != nil {
		return nil, err
	}
	root, err := p.node(0)
	if err != nil {
		return nil, err
	}
	if _, err := p.dec.PeekCode(); !errors.Is(err, io.EOF) {
		return nil, p.malformed(fmt.Errorf("trailing data after root node"))
	}
	return root, nil
}

type parser struct {
	r     *bytes.Reader
	dec   *msgpack.Decoder
	reg   *capability.Registry
	total int
}

func (p *parser) offset() int {
	return p.total - p.r.Len()
}

func (p *parser) malformed(err error) error {
	return &DecodeError{Kind: KindMalformedBlob, Offset: p.offset(), Err: err}
}

// int64 reads an integer leaf. Unsigned values above math.MaxInt64 are
// malformed rather than wrapped.
func (p *parser) int64() (int64, error) {
	code, err := p.dec.PeekCode()
	if err != nil {
		return 0, p.malformed(err)
	}
	if code == msgpcode.Uint64 {
		u, err := p.dec.DecodeUint64()
		if err != nil {
			return 0, p.malformed(err)
		}
		if u > math.MaxInt64 {
			return 0, p.malformed(fmt.Errorf("integer %d overflows int64", u))
		}
		return int64(u), nil
	}
	i, err := p.dec.DecodeInt64()
	if err != nil {
		return 0, p.malformed(err)
	}
	return i, nil
}

func (p *parser) limit(err error) error {
	return &DecodeError{Kind: KindLimitExceeded, Offset: p.offset(), Err: err}
}

func (p *parser) header() error {
	n, err := p.dec.DecodeArrayLen()
	if err != nil {
		return p.malformed(err)
	}
	if n != 2 {
		return p.malformed(fmt.Errorf("header has %d elements, want 2", n))
	}
	m, err := p.dec.DecodeString()
	if err != nil {
		return p.malformed(err)
	}
	if m != magic {
		return p.malformed(fmt.Errorf("bad magic %q", m))
	}
	v, err := p.dec.DecodeInt64()
	if err != nil {
		return p.malformed(err)
	}
	if v != formatVersion {
		return p.malformed(fmt.Errorf("unsupported format version %d", v))
	}
	return nil
}

func (p *parser) node(depth int) (*Node, error) {
	if depth > MaxDepth {
		return nil, p.limit(fmt.Errorf("nesting deeper than %d", MaxDepth))
	}

	n, err := p.dec.DecodeArrayLen()
	if err != nil {
		return nil, p.malformed(err)
	}
	if n < 1 {
		return nil, p.malformed(fmt.Errorf("empty node"))
	}
	// Every element needs at least one byte, so longer arrays are lies.
	if n > p.r.Len() {
		return nil, p.malformed(fmt.Errorf("node claims %d elements with %d bytes left", n, p.r.Len()))
	}

	op, err := p.dec.DecodeInt64()
	if err != nil {
		return nil, p.malformed(err)
	}
	if op < int64(KindNone) || op > int64(KindObject) {
		return nil, p.malformed(fmt.Errorf("unknown opcode %d", op))
	}
	kind := Kind(op)

	expect := func(want int) error {
		if n != want {
			return p.malformed(fmt.Errorf("%s node has %d elements, want %d", kind, n, want))
		}
		return nil
	}

	switch kind {
	case KindNone:
		if err := expect(1); err != nil {
			return nil, err
		}
		return None(), nil

	case KindBool:
		if err := expect(2); err != nil {
			return nil, err
		}
		b, err := p.dec.DecodeBool()
		if err != nil {
			return nil, p.malformed(err)
		}
		return Bool(b), nil

	case KindInt:
		if err := expect(2); err != nil {
			return nil, err
		}
		i, err := p.int64()
		if err != nil {
			return nil, err
		}
		return Int(i), nil

	case KindFloat:
		if err := expect(2); err != nil {
			return nil, err
		}
		f, err := p.dec.DecodeFloat64()
		if err != nil {
			return nil, p.malformed(err)
		}
		return Float(f), nil

	case KindString:
		if err := expect(2); err != nil {
			return nil, err
		}
		s, err := p.dec.DecodeString()
		if err != nil {
			return nil, p.malformed(err)
		}
		return String(s), nil

	case KindBytes:
		if err := expect(2); err != nil {
			return nil, err
		}
		raw, err := p.bytes()
		if err != nil {
			return nil, err
		}
		return Bytes(raw), nil

	case KindList:
		if n-1 > MaxElements {
			return nil, p.limit(fmt.Errorf("list of %d elements", n-1))
		}
		items := make([]*Node, 0, n-1)
		for i := 1; i < n; i++ {
			item, err := p.node(depth + 1)
			if err != nil {
				return nil, err
			}
			items = append(items, item)
		}
		return List(items...), nil

	case KindMap:
		if (n-1)%2 != 0 {
			return nil, p.malformed(fmt.Errorf("map node has odd element count %d", n-1))
		}
		if (n-1)/2 > MaxElements {
			return nil, p.limit(fmt.Errorf("map of %d entries", (n-1)/2))
		}
		fields := make([]Field, 0, (n-1)/2)
		seen := make(map[string]struct{}, (n-1)/2)
		for i := 1; i < n; i += 2 {
			name, err := p.dec.DecodeString()
			if err != nil {
				return nil, p.malformed(err)
			}
			if _, dup := seen[name]; dup {
				return nil, p.malformed(fmt.Errorf("duplicate map key %q", name))
			}
			seen[name] = struct{}{}
			value, err := p.node(depth + 1)
			if err != nil {
				return nil, err
			}
			fields = append(fields, F(name, value))
		}
		return Map(fields...), nil

	case KindObject:
		if err := expect(4); err != nil {
			return nil, err
		}
		at := p.offset()
		ns, err := p.dec.DecodeString()
		if err != nil {
			return nil, p.malformed(err)
		}
		typ, err := p.dec.DecodeString()
		if err != nil {
			return nil, p.malformed(err)
		}

		// The allowlist check happens before a single byte of state is read.
		ctor, ok := p.reg.Lookup(ns, typ)
		if !ok {
			return nil, &DecodeError{
				Kind:   KindUnregisteredType,
				Type:   capability.Key{Namespace: ns, TypeName: typ},
				Offset: at,
			}
		}

		state, err := p.node(depth + 1)
		if err != nil {
			return nil, err
		}
		if state.Kind != KindMap {
			return nil, p.malformed(fmt.Errorf("state of %s.%s is %s, want map", ns, typ, state.Kind))
		}
		return &Node{
			Kind:      KindObject,
			Namespace: ns,
			TypeName:  typ,
			State:     state,
			ctor:      ctor,
		}, nil
	}

	return nil, p.malformed(fmt.Errorf("unhandled opcode %d", op))
}

func (p *parser) bytes() ([]byte, error) {
	n, err := p.dec.DecodeBytesLen()
	if err != nil {
		return nil, p.malformed(err)
	}
	if n < 0 {
		return nil, nil
	}
	if n > MaxBytesLength {
		return nil, p.limit(fmt.Errorf("bytes leaf of %d bytes", n))
	}
	if n > p.r.Len() {
		return nil, p.malformed(fmt.Errorf("bytes leaf claims %d bytes with %d left", n, p.r.Len()))
	}
	raw := make([]byte, n)
	if err := p.dec.ReadFull(raw); err != nil {
		return nil, p.malformed(err)
	}
	return raw, nil
}

// build runs the bound constructors bottom-up.
func build(n *Node) error {
	switch n.Kind {
	case KindList:
		for _, item := range n.Items {
			if err := build(item); err != nil {
				return err
			}
		}
	case KindMap:
		for _, f := range n.Fields {
			if err := build(f.Value); err != nil {
				return err
			}
		}
	case KindObject:
		if err := build(n.State); err != nil {
			return err
		}
		v, err := construct(n)
		if err != nil {
			return &DecodeError{Kind: KindConstructFailed, Type: n.Key(), Err: err}
		}
		n.built = v
	}
	return nil
}

func construct(n *Node) (v any, err error) {
	defer func() {
		if r := recover(); r != nil {
			v, err = nil, fmt.Errorf("constructor panicked: %v", r)
		}
	}()
	if n.ctor == nil {
		return nil, fmt.Errorf("no constructor bound")
	}
	v, err = n.ctor(&state{node: n.State})
	if err == nil && v == nil {
		err = fmt.Errorf("constructor returned nil")
	}
	return v, err
}
