// Package blob encodes and safely decodes serialized model blobs.
//
// # Format
//
// A blob is a msgpack stream: a header array ["EFB", 1] followed by exactly
// one root node. Every node is a msgpack array whose first element is an
// opcode:
//
//	[0]                               none
//	[1, bool]                         bool
//	[2, int]                          int
//	[3, float]                        float
//	[4, string]                       string
//	[5, bin]                          bytes
//	[6, node, node, ...]              list
//	[7, "key", node, "key", node...]  map (string keys, unique)
//	[8, namespace, typeName, map]     object
//
// # Trust boundary
//
// Blobs come from training jobs and are decoded on the request path without
// human review. Decode therefore runs in two phases. The parse phase reads
// the whole blob into a node tree and resolves every object's
// (namespace, typeName) against a frozen capability.Registry before it reads
// that object's state; an unknown pair aborts the parse with ErrUnregistered.
// The build phase runs only when the entire tree was admitted, invoking the
// constructors that were bound during parsing. Nothing in the blob can name
// a Go symbol, a package or a function.
package blob
