// Package value defines TypedValue, the self-describing value exchanged
// between scripts, native functions and plugins.
//
// A Value is one of Nil, Bool, Number, String, Array or Map. Arrays hold
// ordered elements; maps hold ordered key/value pairs whose keys may be any
// value except Nil or NaN. Values nest to any depth.
//
//	v := value.Map{
//		{Key: value.String("pos"), Val: value.Array{value.Number(1), value.Number(2)}},
//	}
//
// Equal compares values structurally, treating maps as unordered.
package value
