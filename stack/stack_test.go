package stack

import (
	"testing"

	"github.com/wippyai/simscript/errors"
	"github.com/wippyai/simscript/value"
)

func TestStack_PushPop(t *testing.T) {
	s := New()
	s.PushNil()
	s.PushBool(true)
	s.PushNumber(2.5)
	s.PushString("a\x00b")

	if s.Len() != 4 {
		t.Fatalf("Len = %d, want 4", s.Len())
	}

	str, err := s.PopString()
	if err != nil || str != "a\x00b" {
		t.Fatalf("PopString = %q, %v", str, err)
	}
	n, err := s.PopNumber()
	if err != nil || n != 2.5 {
		t.Fatalf("PopNumber = %v, %v", n, err)
	}
	b, err := s.PopBool()
	if err != nil || !b {
		t.Fatalf("PopBool = %v, %v", b, err)
	}
	v, err := s.Pop()
	if err != nil || value.TypeOf(v) != value.TypeNil {
		t.Fatalf("Pop = %v, %v", v, err)
	}
	if _, err := s.Pop(); !errors.IsKind(err, errors.KindOutOfBounds) {
		t.Fatalf("Pop on empty = %v, want out_of_bounds", err)
	}
}

func TestStack_TypedPopMismatchLeavesStack(t *testing.T) {
	s := FromValues(value.String("x"))

	if _, err := s.PopNumber(); !errors.IsKind(err, errors.KindTypeMismatch) {
		t.Fatalf("PopNumber on string = %v, want type_mismatch", err)
	}
	if s.Len() != 1 {
		t.Fatal("failed typed pop must not consume the value")
	}
}

func TestStack_PopInt(t *testing.T) {
	s := FromValues(value.Number(1.5), value.Number(7))

	n, err := s.PopInt()
	if err != nil || n != 7 {
		t.Fatalf("PopInt = %d, %v", n, err)
	}
	if _, err := s.PopInt(); err == nil {
		t.Fatal("PopInt on 1.5 should fail")
	}
}

func TestStack_PeekAndAt(t *testing.T) {
	s := FromValues(value.Number(1), value.Number(2), value.Number(3))

	top, err := s.Peek(0)
	if err != nil || !value.Equal(top, value.Number(3)) {
		t.Fatalf("Peek(0) = %v, %v", top, err)
	}
	below, _ := s.Peek(2)
	if !value.Equal(below, value.Number(1)) {
		t.Fatalf("Peek(2) = %v", below)
	}
	if _, err := s.Peek(3); err == nil {
		t.Fatal("Peek past bottom should fail")
	}
	first, _ := s.At(0)
	if !value.Equal(first, value.Number(1)) {
		t.Fatalf("At(0) = %v", first)
	}
	if s.Len() != 3 {
		t.Fatal("Peek/At must not consume")
	}
}

func TestStack_TableBuilder(t *testing.T) {
	tests := []struct {
		name  string
		build func(s *Stack) error
		want  value.Value
	}{
		{
			name: "empty table is an empty array",
			build: func(s *Stack) error {
				s.BeginTable()
				return s.EndTable()
			},
			want: value.Array{},
		},
		{
			name: "sequential keys make an array",
			build: func(s *Stack) error {
				s.BeginTable()
				for i := 1; i <= 3; i++ {
					s.PushNumber(float64(i))
					s.PushString(string(rune('a' + i - 1)))
					if err := s.InsertIntoTable(); err != nil {
						return err
					}
				}
				return s.EndTable()
			},
			want: value.Array{value.String("a"), value.String("b"), value.String("c")},
		},
		{
			name: "out of order keys make a map",
			build: func(s *Stack) error {
				s.BeginTable()
				s.PushNumber(2)
				s.PushBool(true)
				if err := s.InsertIntoTable(); err != nil {
					return err
				}
				s.PushNumber(1)
				s.PushBool(false)
				if err := s.InsertIntoTable(); err != nil {
					return err
				}
				return s.EndTable()
			},
			want: value.Map{{Key: value.Number(2), Val: value.Bool(true)}, {Key: value.Number(1), Val: value.Bool(false)}},
		},
		{
			name: "nested",
			build: func(s *Stack) error {
				s.BeginTable()
				s.PushString("inner")
				s.BeginTable()
				s.PushString("k")
				s.PushNumber(1)
				if err := s.InsertIntoTable(); err != nil {
					return err
				}
				if err := s.EndTable(); err != nil {
					return err
				}
				if err := s.InsertIntoTable(); err != nil {
					return err
				}
				return s.EndTable()
			},
			want: value.Map{{Key: value.String("inner"), Val: value.Map{{Key: value.String("k"), Val: value.Number(1)}}}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := New()
			if err := tt.build(s); err != nil {
				t.Fatalf("build: %v", err)
			}
			if s.Len() != 1 || s.OpenTables() != 0 {
				t.Fatalf("Len = %d, OpenTables = %d", s.Len(), s.OpenTables())
			}
			got, _ := s.Pop()
			if !value.Equal(got, tt.want) {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestStack_TableBuilderErrors(t *testing.T) {
	t.Run("insert without table", func(t *testing.T) {
		s := FromValues(value.String("k"), value.Number(1))
		if err := s.InsertIntoTable(); err == nil {
			t.Fatal("expected error")
		}
	})

	t.Run("insert with one value", func(t *testing.T) {
		s := New()
		s.BeginTable()
		s.PushNumber(1)
		if err := s.InsertIntoTable(); err == nil {
			t.Fatal("expected error")
		}
	})

	t.Run("nil key", func(t *testing.T) {
		s := New()
		s.BeginTable()
		s.PushNil()
		s.PushNumber(1)
		if err := s.InsertIntoTable(); err == nil {
			t.Fatal("expected error for nil key")
		}
		if s.Len() != 2 {
			t.Fatal("rejected insert must leave key and value in place")
		}
	})

	t.Run("end with stray value", func(t *testing.T) {
		s := New()
		s.BeginTable()
		s.PushNumber(1)
		if err := s.EndTable(); err == nil {
			t.Fatal("expected error")
		}
	})

	t.Run("pop cannot reach below open table", func(t *testing.T) {
		s := FromValues(value.Number(1))
		s.BeginTable()
		if _, err := s.Pop(); err == nil {
			t.Fatal("expected error")
		}
	})

	t.Run("serialize with open table", func(t *testing.T) {
		s := New()
		s.BeginTable()
		if _, err := s.Serialize(); err == nil {
			t.Fatal("expected error")
		}
	})
}

func TestStack_Replace(t *testing.T) {
	s := FromValues(value.Number(1))
	s.BeginTable()
	s.Replace([]value.Value{value.String("a"), nil})

	if s.OpenTables() != 0 || s.Len() != 2 {
		t.Fatalf("OpenTables = %d, Len = %d", s.OpenTables(), s.Len())
	}
	v, _ := s.Pop()
	if value.TypeOf(v) != value.TypeNil {
		t.Fatalf("nil interface should be stored as Nil, got %v", v)
	}
}
