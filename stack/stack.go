package stack

import (
	"math"
	"strconv"

	"github.com/wippyai/simscript/errors"
	"github.com/wippyai/simscript/value"
)

// ID identifies a registered stack. ID 0 means unregistered.
type ID uint32

// Stack is an ordered sequence of values with an incremental table builder.
// A Stack is not safe for concurrent use.
type Stack struct {
	values []value.Value
	open   []openTable
	id     ID
}

// openTable is a table under construction. Values at or above base belong
// to the builder, not to the enclosing level.
type openTable struct {
	pairs []value.Pair
	base  int
}

// New creates an empty stack.
func New() *Stack {
	return &Stack{}
}

// FromValues creates a stack holding vs, bottom first.
func FromValues(vs ...value.Value) *Stack {
	s := &Stack{values: make([]value.Value, 0, len(vs))}
	for _, v := range vs {
		s.Push(v)
	}
	return s
}

// ID returns the registry ID, or 0 if the stack is not registered.
func (s *Stack) ID() ID {
	return s.id
}

// Drop detaches the stack from its registry when it is released.
func (s *Stack) Drop() {
	s.id = 0
}

// Len returns the number of values on the stack, including keys and values
// waiting to be inserted into an open table.
func (s *Stack) Len() int {
	return len(s.values)
}

// OpenTables returns the number of tables under construction.
func (s *Stack) OpenTables() int {
	return len(s.open)
}

// Push appends v. A nil interface is stored as value.Nil.
func (s *Stack) Push(v value.Value) {
	if v == nil {
		v = value.Nil{}
	}
	s.values = append(s.values, v)
}

func (s *Stack) PushNil()              { s.Push(value.Nil{}) }
func (s *Stack) PushBool(b bool)       { s.Push(value.Bool(b)) }
func (s *Stack) PushNumber(n float64)  { s.Push(value.Number(n)) }
func (s *Stack) PushString(str string) { s.Push(value.String(str)) }

// BeginTable opens a new table. Until the matching EndTable, key/value
// pairs pushed above it are moved into it with InsertIntoTable.
func (s *Stack) BeginTable() {
	s.open = append(s.open, openTable{base: len(s.values)})
}

// InsertIntoTable pops a value and then a key and appends the pair to the
// innermost open table.
func (s *Stack) InsertIntoTable() error {
	if len(s.open) == 0 {
		return errors.InvalidInput(errors.PhaseEncode, "insert into table: no open table")
	}
	t := &s.open[len(s.open)-1]
	if len(s.values)-t.base < 2 {
		return errors.InvalidInput(errors.PhaseEncode, "insert into table: need key and value above table")
	}
	key := s.values[len(s.values)-2]
	val := s.values[len(s.values)-1]
	if !value.ValidKey(key) {
		return errors.New(errors.PhaseEncode, errors.KindInvalidInput).
			ValueType(value.TypeOf(key).String()).
			Detail("invalid table key %v", key).
			Build()
	}
	s.values = s.values[:len(s.values)-2]
	t.pairs = append(t.pairs, value.Pair{Key: key, Val: val})
	return nil
}

// EndTable closes the innermost open table and pushes it as one value.
func (s *Stack) EndTable() error {
	if len(s.open) == 0 {
		return errors.InvalidInput(errors.PhaseEncode, "end table: no open table")
	}
	t := s.open[len(s.open)-1]
	if len(s.values) != t.base {
		return errors.InvalidInput(errors.PhaseEncode,
			"end table: "+strconv.Itoa(len(s.values)-t.base)+" value(s) not inserted")
	}
	s.open = s.open[:len(s.open)-1]
	s.values = append(s.values, finishTable(t.pairs))
	return nil
}

// finishTable returns an Array when keys are exactly 1..N in order.
func finishTable(pairs []value.Pair) value.Value {
	for i, p := range pairs {
		n, ok := p.Key.(value.Number)
		if !ok || float64(n) != float64(i+1) {
			return value.Map(pairs)
		}
	}
	arr := make(value.Array, len(pairs))
	for i, p := range pairs {
		arr[i] = p.Val
	}
	return arr
}

// floor is the lowest index that Pop may reach.
func (s *Stack) floor() int {
	if len(s.open) == 0 {
		return 0
	}
	return s.open[len(s.open)-1].base
}

// Pop removes and returns the top value.
func (s *Stack) Pop() (value.Value, error) {
	if len(s.values) <= s.floor() {
		return nil, errors.OutOfBounds(errors.PhaseDecode, []string{"pop"}, len(s.values)-1, len(s.values))
	}
	v := s.values[len(s.values)-1]
	s.values = s.values[:len(s.values)-1]
	return v, nil
}

// PopN removes the top n values and returns them bottom first.
func (s *Stack) PopN(n int) ([]value.Value, error) {
	if n < 0 || len(s.values)-n < s.floor() {
		return nil, errors.OutOfBounds(errors.PhaseDecode, []string{"pop"}, n, len(s.values)-s.floor())
	}
	out := make([]value.Value, n)
	copy(out, s.values[len(s.values)-n:])
	s.values = s.values[:len(s.values)-n]
	return out, nil
}

// PopNumber pops the top value, which must be a number.
func (s *Stack) PopNumber() (float64, error) {
	v, err := s.popTyped(value.TypeNumber)
	if err != nil {
		return 0, err
	}
	return float64(v.(value.Number)), nil
}

// PopInt pops the top value, which must be a number with no fractional part.
func (s *Stack) PopInt() (int64, error) {
	v, err := s.Peek(0)
	if err != nil {
		return 0, err
	}
	n, ok := v.(value.Number)
	if !ok || math.Trunc(float64(n)) != float64(n) || math.IsInf(float64(n), 0) {
		return 0, errors.TypeMismatch(errors.PhaseDecode, []string{"pop"}, "integer", describe(v))
	}
	s.values = s.values[:len(s.values)-1]
	return int64(n), nil
}

// PopString pops the top value, which must be a string.
func (s *Stack) PopString() (string, error) {
	v, err := s.popTyped(value.TypeString)
	if err != nil {
		return "", err
	}
	return string(v.(value.String)), nil
}

// PopBool pops the top value, which must be a bool.
func (s *Stack) PopBool() (bool, error) {
	v, err := s.popTyped(value.TypeBool)
	if err != nil {
		return false, err
	}
	return bool(v.(value.Bool)), nil
}

// popTyped pops only when the top value has the wanted type, leaving the
// stack untouched on mismatch.
func (s *Stack) popTyped(want value.Type) (value.Value, error) {
	v, err := s.Peek(0)
	if err != nil {
		return nil, err
	}
	if value.TypeOf(v) != want {
		return nil, errors.TypeMismatch(errors.PhaseDecode, []string{"pop"}, want.String(), describe(v))
	}
	s.values = s.values[:len(s.values)-1]
	return v, nil
}

// Peek returns the value depth positions below the top without removing it.
func (s *Stack) Peek(depth int) (value.Value, error) {
	idx := len(s.values) - 1 - depth
	if depth < 0 || idx < s.floor() {
		return nil, errors.OutOfBounds(errors.PhaseDecode, []string{"peek"}, depth, len(s.values)-s.floor())
	}
	return s.values[idx], nil
}

// PeekNumber returns the number depth positions below the top.
func (s *Stack) PeekNumber(depth int) (float64, error) {
	v, err := s.Peek(depth)
	if err != nil {
		return 0, err
	}
	n, ok := v.(value.Number)
	if !ok {
		return 0, errors.TypeMismatch(errors.PhaseDecode, []string{"peek"}, "number", describe(v))
	}
	return float64(n), nil
}

// PeekString returns the string depth positions below the top.
func (s *Stack) PeekString(depth int) (string, error) {
	v, err := s.Peek(depth)
	if err != nil {
		return "", err
	}
	str, ok := v.(value.String)
	if !ok {
		return "", errors.TypeMismatch(errors.PhaseDecode, []string{"peek"}, "string", describe(v))
	}
	return string(str), nil
}

// At returns the value at position i counted from the bottom.
func (s *Stack) At(i int) (value.Value, error) {
	if i < 0 || i >= len(s.values) {
		return nil, errors.OutOfBounds(errors.PhaseDecode, []string{"at"}, i, len(s.values))
	}
	return s.values[i], nil
}

// Values returns a copy of the values, bottom first.
func (s *Stack) Values() []value.Value {
	out := make([]value.Value, len(s.values))
	copy(out, s.values)
	return out
}

// Replace discards all contents, including open tables, and pushes vs.
func (s *Stack) Replace(vs []value.Value) {
	s.Clear()
	for _, v := range vs {
		s.Push(v)
	}
}

// Clear removes all values and open tables.
func (s *Stack) Clear() {
	s.values = s.values[:0]
	s.open = s.open[:0]
}

func describe(v value.Value) string {
	return value.TypeOf(v).String()
}
