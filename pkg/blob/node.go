package blob

import (
	"github.com/dyluth/effectd/pkg/capability"
)

// Kind is the opcode of a node.
type Kind uint8

const (
	KindNone Kind = iota
	KindBool
	KindInt
	KindFloat
	KindString
	KindBytes
	KindList
	KindMap
	KindObject
)

var kindNames = [...]string{"none", "bool", "int", "float", "string", "bytes", "list", "map", "object"}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "unknown"
}

// Node is one element of a blob's construction tree.
type Node struct {
	Kind   Kind
	Bool   bool
	Int    int64
	Float  float64
	Str    string
	Raw    []byte
	Items  []*Node
	Fields []Field

	// Object nodes only.
	Namespace string
	TypeName  string
	State     *Node

	ctor  capability.Constructor
	built any
}

// Field is a named map entry.
type Field struct {
	Name  string
	Value *Node
}

// None returns a none node.
func None() *Node { return &Node{Kind: KindNone} }

// Bool returns a bool node.
func Bool(b bool) *Node { return &Node{Kind: KindBool, Bool: b} }

// Int returns an int node.
func Int(i int64) *Node { return &Node{Kind: KindInt, Int: i} }

// Float returns a float node.
func Float(f float64) *Node { return &Node{Kind: KindFloat, Float: f} }

// String returns a string node.
func String(s string) *Node { return &Node{Kind: KindString, Str: s} }

// Bytes returns a bytes node.
func Bytes(b []byte) *Node { return &Node{Kind: KindBytes, Raw: b} }

// List returns a list node.
func List(items ...*Node) *Node { return &Node{Kind: KindList, Items: items} }

// Map returns a map node. Field order is preserved on the wire.
func Map(fields ...Field) *Node { return &Node{Kind: KindMap, Fields: fields} }

// F is shorthand for a map field.
func F(name string, value *Node) Field { return Field{Name: name, Value: value} }

// Object returns an object node whose state is a map of the given fields.
func Object(namespace, typeName string, fields ...Field) *Node {
	return &Node{
		Kind:      KindObject,
		Namespace: namespace,
		TypeName:  typeName,
		State:     Map(fields...),
	}
}

// Floats is shorthand for a list of float nodes.
func Floats(vals []float64) *Node {
	items := make([]*Node, len(vals))
	for i, v := range vals {
		items[i] = Float(v)
	}
	return List(items...)
}

// Ints is shorthand for a list of int nodes.
func Ints(vals []int64) *Node {
	items := make([]*Node, len(vals))
	for i, v := range vals {
		items[i] = Int(v)
	}
	return List(items...)
}

// Key returns the capability key of an object node.
func (n *Node) Key() capability.Key {
	return capability.Key{Namespace: n.Namespace, TypeName: n.TypeName}
}

// field looks up a map entry by name.
func (n *Node) field(name string) *Node {
	for _, f := range n.Fields {
		if f.Name == name {
			return f.Value
		}
	}
	return nil
}
