package value

import "math"

// Equal reports whether a and b are structurally equal. Map entries are
// compared without regard to order. NaN equals NaN so that values survive
// round trips unchanged.
func Equal(a, b Value) bool {
	ta, tb := TypeOf(a), TypeOf(b)
	if ta != tb {
		return false
	}
	switch x := a.(type) {
	case nil, Nil:
		return true
	case Bool:
		return x == b.(Bool)
	case Number:
		y := b.(Number)
		if math.IsNaN(float64(x)) {
			return math.IsNaN(float64(y))
		}
		return math.Float64bits(float64(x)) == math.Float64bits(float64(y)) || x == y
	case String:
		return x == b.(String)
	case Array:
		y := b.(Array)
		if len(x) != len(y) {
			return false
		}
		for i := range x {
			if !Equal(x[i], y[i]) {
				return false
			}
		}
		return true
	case Map:
		return mapEqual(x, b.(Map))
	}
	return false
}

func mapEqual(x, y Map) bool {
	if len(x) != len(y) {
		return false
	}
	used := make([]bool, len(y))
	for _, p := range x {
		found := false
		for j, q := range y {
			if used[j] || !Equal(p.Key, q.Key) {
				continue
			}
			if !Equal(p.Val, q.Val) {
				return false
			}
			used[j] = true
			found = true
			break
		}
		if !found {
			return false
		}
	}
	return true
}
