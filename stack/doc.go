// Package stack implements the Stack: an ordered sequence of TypedValues
// used to pass arguments and results across the script, native and plugin
// boundaries.
//
// # Building Values
//
// Scalars are pushed directly. Tables are built incrementally:
//
//	s := stack.New()
//	s.BeginTable()
//	s.PushString("x")
//	s.PushNumber(1)
//	s.InsertIntoTable() // pops value and key into the open table
//	s.EndTable()        // the finished table becomes one value
//
// EndTable produces an Array when the keys are exactly 1..N in insertion
// order and a Map otherwise.
//
// # Wire Format
//
// Serialize produces a self-describing byte string:
//
//	"SSTK" | version u8 | count uvarint | value* | crc32 (IEEE, LE)
//
// Each value is a tag byte followed by its payload:
//
//	0 nil, 1 false, 2 true
//	3 number   float64 little-endian
//	4 string   uvarint length, bytes
//	5 array    uvarint count, values
//	6 map      uvarint count, (key, value) pairs
//
// Deserialize rejects truncated, corrupt or trailing input with an
// invalid_data error and never allocates beyond what the input can hold.
//
// # Interpreter Bridge
//
// ToInterpreter pushes every value onto a Lua state atomically: on any
// failure the interpreter stack is restored to its prior height.
// FromInterpreter reads values from an index to the top.
//
// # Registry
//
// The Registry assigns integer IDs to stacks so plugins can address them
// through the host ABI.
package stack
