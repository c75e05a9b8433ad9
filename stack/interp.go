package stack

import (
	"math"
	"strconv"

	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"

	"github.com/wippyai/simscript/errors"
	"github.com/wippyai/simscript/value"
)

// MaxReadDepth bounds table nesting when reading from the interpreter so
// that self-referencing tables fail instead of recursing forever.
const MaxReadDepth = 1024

// ToInterpreter pushes every value onto l, bottom first. The push is
// atomic: all values are converted before the first push, so on failure
// l's stack is untouched.
func (s *Stack) ToInterpreter(l *lua.LState) error {
	if len(s.open) > 0 {
		return errors.InvalidInput(errors.PhaseInterface, "push: table still open")
	}
	lvs, err := s.LValues(l)
	if err != nil {
		Logger().Debug("push to interpreter rejected", zap.Int("values", len(s.values)), zap.Error(err))
		return err
	}
	for _, lv := range lvs {
		l.Push(lv)
	}
	return nil
}

// LValues converts the stack contents to interpreter values without
// pushing them.
func (s *Stack) LValues(l *lua.LState) ([]lua.LValue, error) {
	for i, v := range s.values {
		if err := checkPushable(v, []string{strconv.Itoa(i + 1)}); err != nil {
			return nil, err
		}
	}
	out := make([]lua.LValue, len(s.values))
	for i, v := range s.values {
		lv, err := ToLValue(l, v)
		if err != nil {
			return nil, err
		}
		out[i] = lv
	}
	return out, nil
}

// checkPushable rejects values the interpreter cannot represent.
func checkPushable(v value.Value, path []string) error {
	switch x := v.(type) {
	case value.Array:
		for i, e := range x {
			if err := checkPushable(e, append(path, strconv.Itoa(i+1))); err != nil {
				return err
			}
		}
	case value.Map:
		for i, p := range x {
			if !value.ValidKey(p.Key) {
				return errors.New(errors.PhaseInterface, errors.KindInvalidInput).
					Path(path...).
					ValueType(value.TypeOf(p.Key).String()).
					Detail("entry %d: table key cannot be nil or NaN", i+1).
					Build()
			}
			if err := checkPushable(p.Key, append(path, "key")); err != nil {
				return err
			}
			if err := checkPushable(p.Val, append(path, strconv.Itoa(i+1))); err != nil {
				return err
			}
		}
	}
	return nil
}

// ToLValue converts a single value. Tables are created in l.
func ToLValue(l *lua.LState, v value.Value) (lua.LValue, error) {
	switch x := v.(type) {
	case nil, value.Nil:
		return lua.LNil, nil
	case value.Bool:
		return lua.LBool(x), nil
	case value.Number:
		return lua.LNumber(x), nil
	case value.String:
		return lua.LString(x), nil
	case value.Array:
		tb := l.CreateTable(len(x), 0)
		for i, e := range x {
			lv, err := ToLValue(l, e)
			if err != nil {
				return nil, err
			}
			tb.RawSetInt(i+1, lv)
		}
		return tb, nil
	case value.Map:
		tb := l.CreateTable(0, len(x))
		for _, p := range x {
			if !value.ValidKey(p.Key) {
				return nil, errors.InvalidInput(errors.PhaseInterface, "table key cannot be nil or NaN")
			}
			k, err := ToLValue(l, p.Key)
			if err != nil {
				return nil, err
			}
			lv, err := ToLValue(l, p.Val)
			if err != nil {
				return nil, err
			}
			tb.RawSet(k, lv)
		}
		return tb, nil
	default:
		return nil, errors.Unsupported(errors.PhaseInterface, "unknown value type")
	}
}

// FromInterpreter reads the values at index start through the top of l
// into a new stack. l is left unchanged.
func FromInterpreter(l *lua.LState, start int) (*Stack, error) {
	top := l.GetTop()
	if start < 1 {
		start = 1
	}
	s := &Stack{}
	if top >= start {
		s.values = make([]value.Value, 0, top-start+1)
	}
	for i := start; i <= top; i++ {
		v, err := readValue(l.Get(i), 0, []string{strconv.Itoa(i - start + 1)})
		if err != nil {
			return nil, err
		}
		s.values = append(s.values, v)
	}
	return s, nil
}

// FromLValues builds a stack from interpreter values.
func FromLValues(lvs ...lua.LValue) (*Stack, error) {
	s := &Stack{values: make([]value.Value, 0, len(lvs))}
	for i, lv := range lvs {
		v, err := readValue(lv, 0, []string{strconv.Itoa(i + 1)})
		if err != nil {
			return nil, err
		}
		s.values = append(s.values, v)
	}
	return s, nil
}

// ReadValue converts one interpreter value.
func ReadValue(lv lua.LValue) (value.Value, error) {
	return readValue(lv, 0, nil)
}

func readValue(lv lua.LValue, depth int, path []string) (value.Value, error) {
	switch x := lv.(type) {
	case nil, *lua.LNilType:
		return value.Nil{}, nil
	case lua.LBool:
		return value.Bool(x), nil
	case lua.LNumber:
		return value.Number(x), nil
	case lua.LString:
		return value.String(x), nil
	case *lua.LTable:
		if depth >= MaxReadDepth {
			return nil, errors.Overflow(errors.PhaseInterface, path, depth, "table nesting limit")
		}
		return readTable(x, depth+1, path)
	default:
		name := lv.Type().String()
		return nil, errors.New(errors.PhaseInterface, errors.KindTypeMismatch).
			Path(path...).
			ValueType(name).
			Detail("cannot marshal %s", name).
			Build()
	}
}

// readTable collects a table's pairs in iteration order. A table whose
// keys are exactly the integers 1..n becomes an Array; anything else
// becomes a Map.
func readTable(tb *lua.LTable, depth int, path []string) (value.Value, error) {
	n := tb.Len()
	var pairs []value.Pair
	sequence := true

	for k, v := tb.Next(lua.LNil); k != lua.LNil; k, v = tb.Next(k) {
		key, err := readValue(k, depth, append(path, "key"))
		if err != nil {
			return nil, err
		}
		val, err := readValue(v, depth, append(path, key.String()))
		if err != nil {
			return nil, err
		}
		if sequence {
			num, ok := key.(value.Number)
			f := float64(num)
			if !ok || f != math.Trunc(f) || f < 1 || f > float64(n) {
				sequence = false
			}
		}
		pairs = append(pairs, value.Pair{Key: key, Val: val})
	}

	if !sequence || len(pairs) != n {
		return value.Map(pairs), nil
	}
	arr := make(value.Array, n)
	for _, p := range pairs {
		arr[int(p.Key.(value.Number))-1] = p.Val
	}
	return arr, nil
}
