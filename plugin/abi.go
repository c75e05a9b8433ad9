package plugin

import (
	"strings"

	"github.com/wippyai/simscript/errors"
	"github.com/wippyai/simscript/plugin/wasmbin"
)

const (
	// HostModule is the import module name of the host functions.
	HostModule = "simscript"

	// EntryPrefix marks exported entry points.
	EntryPrefix = "sim_"
)

var entryType = wasmbin.FuncType{
	Params: []wasmbin.ValType{wasmbin.I32, wasmbin.I32, wasmbin.I32, wasmbin.I32},
}

func sig(params []wasmbin.ValType, results ...wasmbin.ValType) wasmbin.FuncType {
	return wasmbin.FuncType{Params: params, Results: results}
}

const (
	i32 = wasmbin.I32
	f64 = wasmbin.F64
)

func i32s(n int) []wasmbin.ValType {
	out := make([]wasmbin.ValType, n)
	for i := range out {
		out[i] = i32
	}
	return out
}

// hostSignatures lists every host function a plugin may import.
var hostSignatures = map[string]wasmbin.FuncType{
	"stack_size":        sig(i32s(1), i32),
	"stack_pop_number":  sig(i32s(1), f64),
	"stack_push_number": sig([]wasmbin.ValType{i32, f64}),
	"stack_pop_bool":    sig(i32s(1), i32),
	"stack_push_bool":   sig(i32s(2)),
	"stack_pop_string":  sig(i32s(3), i32),
	"stack_push_string": sig(i32s(3)),
	"stack_push_nil":    sig(i32s(1)),
	"stack_clear":       sig(i32s(1)),
	"set_error":         sig(i32s(3)),
	"set_wait":          sig(i32s(2)),
}

// checkABI validates a decoded plugin and returns its entry point names
// without the prefix, in export order.
func checkABI(plugin string, m *wasmbin.Module) ([]string, error) {
	for _, imp := range m.Imports {
		if imp.Kind != wasmbin.KindFunc {
			return nil, abiError(plugin, imp.Module+"."+imp.Name, "only function imports are supported")
		}
		if imp.Module != HostModule {
			return nil, abiError(plugin, imp.Module+"."+imp.Name, "unknown import module")
		}
		want, ok := hostSignatures[imp.Name]
		if !ok {
			return nil, abiError(plugin, imp.Name, "unknown host function")
		}
		if int(imp.TypeIdx) >= len(m.Types) || !m.Types[imp.TypeIdx].Equal(want) {
			return nil, abiError(plugin, imp.Name, "host function must have signature "+want.String())
		}
	}

	var entries []string
	for _, e := range m.Exports {
		if e.Kind != wasmbin.KindFunc || !strings.HasPrefix(e.Name, EntryPrefix) {
			continue
		}
		name := strings.TrimPrefix(e.Name, EntryPrefix)
		if name == "" {
			return nil, abiError(plugin, e.Name, "entry point has no name")
		}
		ft, ok := m.FuncTypeOf(e.Index)
		if !ok {
			return nil, abiError(plugin, e.Name, "export refers to a missing function")
		}
		if !ft.Equal(entryType) {
			return nil, abiError(plugin, e.Name, "entry point must have signature "+entryType.String()+", got "+ft.String())
		}
		entries = append(entries, name)
	}
	if len(entries) == 0 {
		return nil, errors.New(errors.PhaseLoad, errors.KindInvalidData).
			Path(plugin).
			Detail("no %s* functions exported", EntryPrefix).
			Build()
	}
	return entries, nil
}

func abiError(plugin, what, detail string) error {
	return errors.New(errors.PhaseLoad, errors.KindInvalidData).
		Path(plugin, what).
		Detail("%s", detail).
		Build()
}
