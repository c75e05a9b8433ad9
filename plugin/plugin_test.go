package plugin

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/wippyai/simscript/dispatch"
	"github.com/wippyai/simscript/errors"
	"github.com/wippyai/simscript/plugin/wasmbin"
	"github.com/wippyai/simscript/scheduler"
	"github.com/wippyai/simscript/script"
	"github.com/wippyai/simscript/stack"
	"github.com/wippyai/simscript/value"
)

// Function indices of the imports in mathPlugin.
const (
	fnPopNumber uint32 = iota
	fnPushNumber
	fnSetError
	fnSetWait
	fnPopString
	fnPushString
)

// Locals of every entry point.
const (
	argObject uint32 = iota
	argScript
	argStack
	argRecord
)

var (
	tPopNumber  = wasmbin.FuncType{Params: []wasmbin.ValType{wasmbin.I32}, Results: []wasmbin.ValType{wasmbin.F64}}
	tPushNumber = wasmbin.FuncType{Params: []wasmbin.ValType{wasmbin.I32, wasmbin.F64}}
	tThreeI32   = wasmbin.FuncType{Params: []wasmbin.ValType{wasmbin.I32, wasmbin.I32, wasmbin.I32}}
	tTwoI32     = wasmbin.FuncType{Params: []wasmbin.ValType{wasmbin.I32, wasmbin.I32}}
	tPopString  = wasmbin.FuncType{Params: []wasmbin.ValType{wasmbin.I32, wasmbin.I32, wasmbin.I32}, Results: []wasmbin.ValType{wasmbin.I32}}
	tEntry      = wasmbin.FuncType{Params: []wasmbin.ValType{wasmbin.I32, wasmbin.I32, wasmbin.I32, wasmbin.I32}}
)

type entryDef struct {
	name string
	code []byte
}

func mathEntries() []entryDef {
	code := func() *wasmbin.Code { return &wasmbin.Code{} }
	return []entryDef{
		{"add", code().
			LocalGet(argStack).
			LocalGet(argStack).Call(fnPopNumber).
			LocalGet(argStack).Call(fnPopNumber).
			Op(wasmbin.OpF64Add).
			Call(fnPushNumber).
			End()},
		{"fail", code().
			LocalGet(argRecord).I32Const(16).I32Const(3).Call(fnSetError).
			End()},
		{"wait", code().
			LocalGet(argRecord).I32Const(1).Call(fnSetWait).
			End()},
		{"echo", code().
			LocalGet(argStack).I32Const(64).
			LocalGet(argStack).I32Const(64).I32Const(8).Call(fnPopString).
			Call(fnPushString).
			End()},
		{"popEmpty", code().
			LocalGet(argStack).Call(fnPopNumber).Op(wasmbin.OpDrop).
			End()},
		{"badMemory", code().
			LocalGet(argStack).I32Const(70000).I32Const(4).Call(fnPushString).
			End()},
		{"object", code().
			LocalGet(argStack).LocalGet(argObject).Op(wasmbin.OpF64ConvertI32S).
			Call(fnPushNumber).
			End()},
	}
}

func buildPlugin(imports []wasmbin.Import, entries []entryDef, entryType uint32) []byte {
	m := &wasmbin.Module{
		Types:    []wasmbin.FuncType{tPopNumber, tPushNumber, tThreeI32, tTwoI32, tPopString, tEntry},
		Imports:  imports,
		Memories: []wasmbin.Limits{{Min: 1}},
		Exports:  []wasmbin.Export{{Name: "memory", Kind: wasmbin.KindMemory}},
		Data:     []wasmbin.Data{{Offset: 16, Bytes: []byte("bad")}},
	}
	for i, e := range entries {
		m.Funcs = append(m.Funcs, entryType)
		m.Code = append(m.Code, wasmbin.Body{Code: e.code})
		m.Exports = append(m.Exports, wasmbin.Export{
			Name:  EntryPrefix + e.name,
			Kind:  wasmbin.KindFunc,
			Index: uint32(len(imports) + i),
		})
	}
	return m.Encode()
}

func mathImports() []wasmbin.Import {
	imp := func(name string, typeIdx uint32) wasmbin.Import {
		return wasmbin.Import{Module: HostModule, Name: name, Kind: wasmbin.KindFunc, TypeIdx: typeIdx}
	}
	return []wasmbin.Import{
		imp("stack_pop_number", 0),
		imp("stack_push_number", 1),
		imp("set_error", 2),
		imp("set_wait", 3),
		imp("stack_pop_string", 4),
		imp("stack_push_string", 2),
	}
}

func mathPlugin() []byte {
	return buildPlugin(mathImports(), mathEntries(), 5)
}

type fixture struct {
	d    *dispatch.Dispatcher
	host *Host
	main script.Handle
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	scripts := script.NewRegistry()
	d := dispatch.New(scripts, stack.NewRegistry(), scheduler.New(scheduler.Config{}), dispatch.Config{})
	h, err := New(ctx, d, Config{MemoryLimitPages: 16})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { h.Close(ctx) })
	main, err := scripts.Register(script.KindMain, 42, script.Options{})
	if err != nil {
		t.Fatal(err)
	}
	return &fixture{d: d, host: h, main: main}
}

func TestLoad_RegistersEntryPoints(t *testing.T) {
	f := newFixture(t)
	p, err := f.host.Load(context.Background(), "math", mathPlugin())
	if err != nil {
		t.Fatal(err)
	}
	if p.Name() != "math" || len(p.Functions()) != len(mathEntries()) {
		t.Fatalf("plugin %q functions %v", p.Name(), p.Functions())
	}
	for _, fn := range p.Functions() {
		if _, err := f.d.Resolve(fn); err != nil {
			t.Fatalf("%s not registered: %v", fn, err)
		}
	}
	if got, ok := f.host.Plugin("math"); !ok || got != p {
		t.Fatal("Plugin lookup failed")
	}

	if _, err := f.host.Load(context.Background(), "math", mathPlugin()); !errors.IsKind(err, errors.KindRegistration) {
		t.Fatalf("second load = %v", err)
	}
}

func TestEntryPoints(t *testing.T) {
	f := newFixture(t)
	if _, err := f.host.Load(context.Background(), "math", mathPlugin()); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		fn   string
		args []value.Value
		want []value.Value
		kind errors.Kind
		msg  string
	}{
		{name: "add", fn: "math.add", args: []value.Value{value.Number(1), value.Number(2)}, want: []value.Value{value.Number(3)}},
		{name: "echo fits", fn: "math.echo", args: []value.Value{value.String("hello")}, want: []value.Value{value.String("hello")}},
		{name: "object", fn: "math.object", want: []value.Value{value.Number(42)}},
		{name: "error buffer", fn: "math.fail", kind: errors.KindCallFailed, msg: "bad"},
		{name: "pop from empty stack", fn: "math.popEmpty", kind: errors.KindArgument},
		{name: "pop wrong type", fn: "math.add", args: []value.Value{value.String("x"), value.Number(1)}, kind: errors.KindArgument},
		{name: "memory out of range", fn: "math.badMemory", kind: errors.KindCallFailed},
		{name: "wait ignored on main", fn: "math.wait", want: []value.Value{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := f.d.Invoke(context.Background(), tt.fn, f.main, stack.FromValues(tt.args...))
			if tt.kind != "" {
				if !errors.IsKind(err, tt.kind) {
					t.Fatalf("err = %v, want %s", err, tt.kind)
				}
				if tt.msg != "" && dispatch.Message(err) != tt.msg {
					t.Fatalf("message = %q, want %q", dispatch.Message(err), tt.msg)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			got := out.Values()
			if len(got) != len(tt.want) {
				t.Fatalf("results = %v, want %v", got, tt.want)
			}
			for i := range got {
				if !value.Equal(got[i], tt.want[i]) {
					t.Fatalf("results = %v, want %v", got, tt.want)
				}
			}
		})
	}
}

// A string longer than the plugin buffer is left on the stack, and
// stack_pop_string reports the length needed.
func TestPopStringTooLong(t *testing.T) {
	f := newFixture(t)
	if _, err := f.host.Load(context.Background(), "math", mathPlugin()); err != nil {
		t.Fatal(err)
	}
	// echo then pushes back len bytes of its untouched buffer.
	out, err := f.d.Invoke(context.Background(), "math.echo", f.main, stack.FromValues(value.String("much too long")))
	if err != nil {
		t.Fatal(err)
	}
	got := out.Values()
	if len(got) != 2 || !value.Equal(got[0], value.String("much too long")) {
		t.Fatalf("stack = %v, want the long string left in place", got)
	}
}

func TestLoad_RejectsBadABI(t *testing.T) {
	imports := mathImports()
	withImport := func(imp wasmbin.Import) []wasmbin.Import {
		return append(append([]wasmbin.Import(nil), imports...), imp)
	}

	tests := []struct {
		name string
		bin  []byte
		kind errors.Kind
	}{
		{"not wasm", []byte("plain text"), errors.KindInvalidData},
		{"wrong entry signature", buildPlugin(imports, mathEntries()[:1], 2), errors.KindInvalidData},
		{"foreign import module", buildPlugin(withImport(wasmbin.Import{Module: "env", Name: "abort", Kind: wasmbin.KindFunc, TypeIdx: 3}), nil, 5), errors.KindInvalidData},
		{"unknown host function", buildPlugin(withImport(wasmbin.Import{Module: HostModule, Name: "spawn", Kind: wasmbin.KindFunc, TypeIdx: 3}), nil, 5), errors.KindInvalidData},
		{"wrong host signature", buildPlugin(withImport(wasmbin.Import{Module: HostModule, Name: "stack_size", Kind: wasmbin.KindFunc, TypeIdx: 3}), nil, 5), errors.KindInvalidData},
		{"no entry points", buildPlugin(imports, nil, 5), errors.KindInvalidData},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			if _, err := f.host.Load(context.Background(), "bad", tt.bin); !errors.IsKind(err, tt.kind) {
				t.Fatalf("err = %v, want %s", err, tt.kind)
			}
			if len(f.host.Plugins()) != 0 {
				t.Fatal("rejected plugin was kept")
			}
		})
	}
}

func TestLoad_Names(t *testing.T) {
	f := newFixture(t)
	for _, name := range []string{"", "sim", "a.b", "has space"} {
		if _, err := f.host.Load(context.Background(), name, mathPlugin()); !errors.IsKind(err, errors.KindInvalidInput) {
			t.Errorf("Load(%q) = %v, want invalid input", name, err)
		}
	}

	if err := f.d.RegisterFunction("taken.add", func(context.Context, *dispatch.Call) error { return nil }); err != nil {
		t.Fatal(err)
	}
	if _, err := f.host.Load(context.Background(), "taken", mathPlugin()); !errors.IsKind(err, errors.KindRegistration) {
		t.Fatalf("name clash = %v", err)
	}
}

func TestLoadFile(t *testing.T) {
	f := newFixture(t)
	path := filepath.Join(t.TempDir(), "geometry.wasm")
	if err := os.WriteFile(path, mathPlugin(), 0o600); err != nil {
		t.Fatal(err)
	}
	p, err := f.host.LoadFile(context.Background(), path)
	if err != nil {
		t.Fatal(err)
	}
	if p.Name() != "geometry" {
		t.Fatalf("name = %q", p.Name())
	}
	if _, err := f.host.LoadFile(context.Background(), filepath.Join(t.TempDir(), "missing.wasm")); !errors.IsKind(err, errors.KindInvalidData) {
		t.Fatalf("missing file = %v", err)
	}
}
