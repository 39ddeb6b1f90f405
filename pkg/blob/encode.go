package blob

import (
	"bytes"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

const (
	magic         = "EFB"
	formatVersion = 1
)

// Encode serializes a node tree. Object states must be maps and map keys
// must be unique; Encode refuses trees Decode would reject on structure.
func Encode(root *Node) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)

	if err := enc.EncodeArrayLen(2); err != nil {
		return nil, err
	}
	if err := enc.EncodeString(magic); err != nil {
		return nil, err
	}
	if err := enc.EncodeInt(formatVersion); err != nil {
		return nil, err
	}
	if err := encodeNode(enc, root, 0); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func encodeNode(enc *msgpack.Encoder, n *Node, depth int) error {
	if n == nil {
		return fmt.Errorf("nil node")
	}
	if depth > MaxDepth {
		return fmt.Errorf("tree deeper than %d", MaxDepth)
	}

	switch n.Kind {
	case KindNone:
		if err := enc.EncodeArrayLen(1); err != nil {
			return err
		}
		return enc.EncodeInt(int64(KindNone))

	case KindBool:
		if err := header(enc, KindBool, 2); err != nil {
			return err
		}
		return enc.EncodeBool(n.Bool)

	case KindInt:
		if err := header(enc, KindInt, 2); err != nil {
			return err
		}
		return enc.EncodeInt(n.Int)

	case KindFloat:
		if err := header(enc, KindFloat, 2); err != nil {
			return err
		}
		return enc.EncodeFloat64(n.Float)

	case KindString:
		if err := header(enc, KindString, 2); err != nil {
			return err
		}
		return enc.EncodeString(n.Str)

	case KindBytes:
		if err := header(enc, KindBytes, 2); err != nil {
			return err
		}
		return enc.EncodeBytes(n.Raw)

	case KindList:
		if err := header(enc, KindList, 1+len(n.Items)); err != nil {
			return err
		}
		for _, item := range n.Items {
			if err := encodeNode(enc, item, depth+1); err != nil {
				return err
			}
		}
		return nil

	case KindMap:
		if err := header(enc, KindMap, 1+2*len(n.Fields)); err != nil {
			return err
		}
		seen := make(map[string]struct{}, len(n.Fields))
		for _, f := range n.Fields {
			if _, dup := seen[f.Name]; dup {
				return fmt.Errorf("duplicate map key %q", f.Name)
			}
			seen[f.Name] = struct{}{}
			if err := enc.EncodeString(f.Name); err != nil {
				return err
			}
			if err := encodeNode(enc, f.Value, depth+1); err != nil {
				return err
			}
		}
		return nil

	case KindObject:
		if n.State == nil || n.State.Kind != KindMap {
			return fmt.Errorf("object %s.%s: state must be a map", n.Namespace, n.TypeName)
		}
		if err := header(enc, KindObject, 4); err != nil {
			return err
		}
		if err := enc.EncodeString(n.Namespace); err != nil {
			return err
		}
		if err := enc.EncodeString(n.TypeName); err != nil {
			return err
		}
		return encodeNode(enc, n.State, depth+1)

	default:
		return fmt.Errorf("unknown node kind %d", n.Kind)
	}
}

func header(enc *msgpack.Encoder, k Kind, n int) error {
	if err := enc.EncodeArrayLen(n); err != nil {
		return err
	}
	return enc.EncodeInt(int64(k))
}
