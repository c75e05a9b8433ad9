package plugin

import (
	"context"

	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	"github.com/wippyai/simscript/errors"
	"github.com/wippyai/simscript/script"
	"github.com/wippyai/simscript/stack"
)

func (h *Host) instantiateHostModule(ctx context.Context) error {
	funcs := map[string]api.GoModuleFunc{
		"stack_size":        h.stackSize,
		"stack_pop_number":  h.stackPopNumber,
		"stack_push_number": h.stackPushNumber,
		"stack_pop_bool":    h.stackPopBool,
		"stack_push_bool":   h.stackPushBool,
		"stack_pop_string":  h.stackPopString,
		"stack_push_string": h.stackPushString,
		"stack_push_nil":    h.stackPushNil,
		"stack_clear":       h.stackClear,
		"set_error":         h.setError,
		"set_wait":          h.setWait,
	}
	b := h.runtime.NewHostModuleBuilder(HostModule)
	for name, fn := range funcs {
		ft := hostSignatures[name]
		b = b.NewFunctionBuilder().
			WithGoModuleFunction(fn, valueTypes(ft.Params), valueTypes(ft.Results)).
			Export(name)
	}
	_, err := b.Instantiate(ctx)
	return err
}

// stack resolves a stack id argument. Unknown ids are recorded against
// the id itself.
func (h *Host) stack(raw uint64) (*stack.Stack, stack.ID) {
	id := stack.ID(api.DecodeU32(raw))
	st, err := h.disp.Stacks().Lookup(id)
	if err != nil {
		h.fail(id, err)
		return nil, id
	}
	return st, id
}

func (h *Host) record(raw uint64) *script.CallbackRecord {
	id := script.RecordID(api.DecodeU32(raw))
	rec, ok := h.disp.Scripts().Record(id)
	if !ok {
		Logger().Warn("plugin used unknown callback record", zap.Uint32("record", uint32(id)))
		return nil
	}
	return rec
}

func (h *Host) stackSize(_ context.Context, _ api.Module, s []uint64) {
	st, _ := h.stack(s[0])
	if st == nil {
		s[0] = api.EncodeI32(-1)
		return
	}
	s[0] = api.EncodeI32(int32(st.Len()))
}

func (h *Host) stackPopNumber(_ context.Context, _ api.Module, s []uint64) {
	st, id := h.stack(s[0])
	s[0] = api.EncodeF64(0)
	if st == nil {
		return
	}
	n, err := st.PopNumber()
	if err != nil {
		h.fail(id, err)
		return
	}
	s[0] = api.EncodeF64(n)
}

func (h *Host) stackPushNumber(_ context.Context, _ api.Module, s []uint64) {
	if st, _ := h.stack(s[0]); st != nil {
		st.PushNumber(api.DecodeF64(s[1]))
	}
}

func (h *Host) stackPopBool(_ context.Context, _ api.Module, s []uint64) {
	st, id := h.stack(s[0])
	s[0] = 0
	if st == nil {
		return
	}
	b, err := st.PopBool()
	if err != nil {
		h.fail(id, err)
		return
	}
	if b {
		s[0] = 1
	}
}

func (h *Host) stackPushBool(_ context.Context, _ api.Module, s []uint64) {
	if st, _ := h.stack(s[0]); st != nil {
		st.PushBool(api.DecodeI32(s[1]) != 0)
	}
}

func (h *Host) stackPopString(_ context.Context, mod api.Module, s []uint64) {
	st, id := h.stack(s[0])
	ptr, capacity := api.DecodeU32(s[1]), api.DecodeU32(s[2])
	s[0] = api.EncodeI32(-1)
	if st == nil {
		return
	}
	str, err := st.PeekString(0)
	if err != nil {
		h.fail(id, err)
		return
	}
	if uint64(len(str)) > uint64(capacity) {
		s[0] = api.EncodeI32(int32(len(str)))
		return
	}
	if err := writeMemory(mod, ptr, []byte(str)); err != nil {
		h.fail(id, err)
		return
	}
	st.Pop()
	s[0] = api.EncodeI32(int32(len(str)))
}

func (h *Host) stackPushString(_ context.Context, mod api.Module, s []uint64) {
	st, id := h.stack(s[0])
	if st == nil {
		return
	}
	b, err := readMemory(mod, api.DecodeU32(s[1]), api.DecodeU32(s[2]))
	if err != nil {
		h.fail(id, err)
		return
	}
	st.PushString(string(b))
}

func (h *Host) stackPushNil(_ context.Context, _ api.Module, s []uint64) {
	if st, _ := h.stack(s[0]); st != nil {
		st.PushNil()
	}
}

func (h *Host) stackClear(_ context.Context, _ api.Module, s []uint64) {
	if st, _ := h.stack(s[0]); st != nil {
		st.Clear()
	}
}

func (h *Host) setError(_ context.Context, mod api.Module, s []uint64) {
	rec := h.record(s[0])
	if rec == nil {
		return
	}
	b, err := readMemory(mod, api.DecodeU32(s[1]), api.DecodeU32(s[2]))
	if err != nil {
		h.fail(stack.ID(rec.Stack), err)
		return
	}
	rec.SetError(string(b))
}

func (h *Host) setWait(_ context.Context, _ api.Module, s []uint64) {
	if rec := h.record(s[0]); rec != nil {
		rec.SetWait(api.DecodeI32(s[1]))
	}
}

func readMemory(mod api.Module, ptr, n uint32) ([]byte, error) {
	mem := mod.Memory()
	if mem == nil {
		return nil, errors.Unsupported(errors.PhaseHost, "plugin has no memory")
	}
	b, ok := mem.Read(ptr, n)
	if !ok {
		return nil, errors.OutOfBounds(errors.PhaseHost, []string{"memory"}, int(ptr)+int(n), int(mem.Size()))
	}
	return b, nil
}

func writeMemory(mod api.Module, ptr uint32, b []byte) error {
	mem := mod.Memory()
	if mem == nil {
		return errors.Unsupported(errors.PhaseHost, "plugin has no memory")
	}
	if !mem.Write(ptr, b) {
		return errors.OutOfBounds(errors.PhaseHost, []string{"memory"}, int(ptr)+len(b), int(mem.Size()))
	}
	return nil
}
