package stack

import (
	"math"
	"testing"

	lua "github.com/yuin/gopher-lua"

	"github.com/wippyai/simscript/errors"
	"github.com/wippyai/simscript/value"
)

func TestToInterpreter_RoundTrip(t *testing.T) {
	l := lua.NewState()
	defer l.Close()
	l.Push(lua.LString("sentinel"))
	base := l.GetTop()

	in := FromValues(
		value.Nil{},
		value.Bool(true),
		value.Number(-3.25),
		value.String("a\x00b"),
		value.Array{value.Number(1), value.Array{value.String("deep")}},
		value.Map{{Key: value.String("x"), Val: value.Number(1)}, {Key: value.Bool(true), Val: value.String("t")}},
	)
	if err := in.ToInterpreter(l); err != nil {
		t.Fatalf("ToInterpreter: %v", err)
	}
	if l.GetTop() != base+in.Len() {
		t.Fatalf("GetTop = %d, want %d", l.GetTop(), base+in.Len())
	}

	out, err := FromInterpreter(l, base+1)
	if err != nil {
		t.Fatalf("FromInterpreter: %v", err)
	}
	if out.Len() != in.Len() {
		t.Fatalf("Len = %d, want %d", out.Len(), in.Len())
	}
	for i := 0; i < in.Len(); i++ {
		a, _ := in.At(i)
		b, _ := out.At(i)
		if !value.Equal(a, b) {
			t.Errorf("value %d = %v, want %v", i, b, a)
		}
	}
	if l.GetTop() != base+in.Len() {
		t.Fatal("FromInterpreter must not change the interpreter stack")
	}
}

func TestToInterpreter_Atomic(t *testing.T) {
	tests := []struct {
		name string
		bad  value.Value
	}{
		{"nan key", value.Map{{Key: value.Number(math.NaN()), Val: value.Number(1)}}},
		{"nil key", value.Map{{Key: value.Nil{}, Val: value.Number(1)}}},
		{"nested nil key", value.Array{value.Number(1), value.Map{{Key: value.Nil{}, Val: value.Bool(true)}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := lua.NewState()
			defer l.Close()
			l.Push(lua.LNumber(42))
			before := l.GetTop()

			s := FromValues(value.Number(1), value.String("two"), tt.bad)
			if err := s.ToInterpreter(l); err == nil {
				t.Fatal("expected error")
			}
			if l.GetTop() != before {
				t.Fatalf("GetTop = %d after failed push, want %d", l.GetTop(), before)
			}
			if n := l.ToNumber(-1); n != 42 {
				t.Fatal("pre-existing value disturbed")
			}
		})
	}
}

func TestFromInterpreter_ScriptTables(t *testing.T) {
	l := lua.NewState()
	defer l.Close()
	if err := l.DoString(`return {1, 2, {a = true, b = "x"}}, {}, {[1] = "a", [3] = "c"}`); err != nil {
		t.Fatalf("DoString: %v", err)
	}

	s, err := FromInterpreter(l, 1)
	if err != nil {
		t.Fatalf("FromInterpreter: %v", err)
	}

	want := []value.Value{
		value.Array{
			value.Number(1),
			value.Number(2),
			value.Map{{Key: value.String("a"), Val: value.Bool(true)}, {Key: value.String("b"), Val: value.String("x")}},
		},
		value.Array{},
		value.Map{{Key: value.Number(1), Val: value.String("a")}, {Key: value.Number(3), Val: value.String("c")}},
	}
	if s.Len() != len(want) {
		t.Fatalf("Len = %d, want %d", s.Len(), len(want))
	}
	for i, w := range want {
		got, _ := s.At(i)
		if !value.Equal(got, w) {
			t.Errorf("value %d = %v, want %v", i, got, w)
		}
	}
}

func TestFromInterpreter_Rejects(t *testing.T) {
	tests := []struct {
		name   string
		script string
		kind   errors.Kind
	}{
		{"function", `return function() end`, errors.KindTypeMismatch},
		{"nested function", `return {f = print}`, errors.KindTypeMismatch},
		{"cycle", `local t = {} t.self = t return t`, errors.KindOverflow},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := lua.NewState()
			defer l.Close()
			if err := l.DoString(tt.script); err != nil {
				t.Fatalf("DoString: %v", err)
			}
			top := l.GetTop()
			_, err := FromInterpreter(l, 1)
			if !errors.IsKind(err, tt.kind) {
				t.Fatalf("err = %v, want %s", err, tt.kind)
			}
			if l.GetTop() != top {
				t.Fatalf("GetTop = %d after failed read, want %d", l.GetTop(), top)
			}
		})
	}
}

func TestFromLValues(t *testing.T) {
	l := lua.NewState()
	defer l.Close()
	tb := l.NewTable()
	tb.RawSetString("k", lua.LNumber(2))

	s, err := FromLValues(lua.LString("a"), tb, lua.LNil)
	if err != nil {
		t.Fatalf("FromLValues: %v", err)
	}
	want := value.Map{{Key: value.String("k"), Val: value.Number(2)}}
	if got, _ := s.At(1); !value.Equal(got, want) {
		t.Fatalf("table = %v, want %v", got, want)
	}
	if got, _ := s.At(2); !value.Equal(got, value.Nil{}) {
		t.Fatalf("nil = %v", got)
	}

	if _, err := FromLValues(l.NewFunction(func(*lua.LState) int { return 0 })); !errors.IsKind(err, errors.KindTypeMismatch) {
		t.Fatalf("err = %v, want type mismatch", err)
	}
}
