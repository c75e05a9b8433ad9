package plugin

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	"github.com/wippyai/simscript/dispatch"
	"github.com/wippyai/simscript/errors"
	"github.com/wippyai/simscript/plugin/wasmbin"
	"github.com/wippyai/simscript/stack"
)

// Config holds plugin host configuration.
type Config struct {
	// MemoryLimitPages caps the memory of each plugin in 64KiB pages.
	// 0 keeps the wazero default.
	MemoryLimitPages uint32
}

// Host owns the wazero runtime shared by all plugins of a session.
type Host struct {
	runtime wazero.Runtime
	disp    *dispatch.Dispatcher
	plugins map[string]*Plugin
	errs    map[stack.ID]error
	mu      sync.Mutex
}

// New creates a plugin host that registers entry points on d. Plugins must
// be loaded before d is sealed.
func New(ctx context.Context, d *dispatch.Dispatcher, cfg Config) (*Host, error) {
	rc := wazero.NewRuntimeConfig().WithCloseOnContextDone(true)
	if cfg.MemoryLimitPages > 0 {
		rc = rc.WithMemoryLimitPages(cfg.MemoryLimitPages)
	}
	h := &Host{
		runtime: wazero.NewRuntimeWithConfig(ctx, rc),
		disp:    d,
		plugins: make(map[string]*Plugin),
		errs:    make(map[stack.ID]error),
	}
	if err := h.instantiateHostModule(ctx); err != nil {
		h.runtime.Close(ctx)
		return nil, errors.Instantiation(err)
	}
	return h, nil
}

// Load validates, compiles and instantiates a plugin, then registers each
// of its entry points as "<name>.<entry>".
func (h *Host) Load(ctx context.Context, name string, bin []byte) (*Plugin, error) {
	if err := validName(name); err != nil {
		return nil, err
	}
	h.mu.Lock()
	_, dup := h.plugins[name]
	h.mu.Unlock()
	if dup {
		return nil, errors.Registration(errors.PhaseLoad, name, errors.InvalidInput(errors.PhaseLoad, "plugin already loaded"))
	}

	m, err := wasmbin.Parse(bin)
	if err != nil {
		return nil, errors.Load("decode plugin "+name, err)
	}
	entries, err := checkABI(name, m)
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		if _, err := h.disp.Resolve(name + "." + e); err == nil {
			return nil, errors.Registration(errors.PhaseLoad, name+"."+e, errors.InvalidInput(errors.PhaseLoad, "function already registered"))
		}
	}

	compiled, err := h.runtime.CompileModule(ctx, bin)
	if err != nil {
		return nil, errors.Load("compile plugin "+name, err)
	}
	mod, err := h.runtime.InstantiateModule(ctx, compiled, wazero.NewModuleConfig().WithName(name))
	if err != nil {
		return nil, errors.Instantiation(err)
	}

	p := &Plugin{host: h, mod: mod, name: name}
	for _, e := range entries {
		qualified := name + "." + e
		fn := mod.ExportedFunction(EntryPrefix + e)
		if err := h.disp.RegisterFunction(qualified, p.entry(fn, qualified)); err != nil {
			mod.Close(ctx)
			return nil, err
		}
		p.functions = append(p.functions, qualified)
	}

	h.mu.Lock()
	h.plugins[name] = p
	h.mu.Unlock()

	Logger().Info("plugin loaded",
		zap.String("plugin", name),
		zap.String("size", humanize.Bytes(uint64(len(bin)))),
		zap.Strings("functions", p.functions))
	return p, nil
}

// LoadFile loads a plugin from disk. The plugin is named after the file
// without its extension.
func (h *Host) LoadFile(ctx context.Context, path string) (*Plugin, error) {
	bin, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Load("read plugin "+path, err)
	}
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return h.Load(ctx, name, bin)
}

// Plugin returns a loaded plugin by name.
func (h *Host) Plugin(name string) (*Plugin, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	p, ok := h.plugins[name]
	return p, ok
}

// Plugins returns the loaded plugins sorted by name.
func (h *Host) Plugins() []*Plugin {
	h.mu.Lock()
	out := make([]*Plugin, 0, len(h.plugins))
	for _, p := range h.plugins {
		out = append(out, p)
	}
	h.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].name < out[j].name })
	return out
}

// Close releases the runtime and every plugin instance. Registered entry
// points fail afterwards.
func (h *Host) Close(ctx context.Context) error {
	return h.runtime.Close(ctx)
}

func validName(name string) error {
	if name == "" {
		return errors.InvalidInput(errors.PhaseLoad, "plugin name cannot be empty")
	}
	if name == "sim" {
		return errors.InvalidInput(errors.PhaseLoad, "plugin name \"sim\" is reserved")
	}
	for _, r := range name {
		ok := r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
		if !ok {
			return errors.InvalidInput(errors.PhaseLoad, "plugin name "+name+" must be alphanumeric")
		}
	}
	return nil
}

// Sticky per-stack errors

func (h *Host) fail(id stack.ID, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, set := h.errs[id]; !set {
		h.errs[id] = err
	}
}

func (h *Host) takeError(id stack.ID) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	err := h.errs[id]
	delete(h.errs, id)
	return err
}

func valueTypes(vs []wasmbin.ValType) []api.ValueType {
	out := make([]api.ValueType, len(vs))
	for i, v := range vs {
		out[i] = api.ValueType(v)
	}
	return out
}
