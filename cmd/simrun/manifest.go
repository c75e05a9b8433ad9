package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/wippyai/simscript/errors"
	"github.com/wippyai/simscript/script"
	"github.com/wippyai/simscript/sim"
	"github.com/wippyai/simscript/value"
)

// Manifest describes a simulation to run.
type Manifest struct {
	Vars     map[string]any `yaml:"variables"`
	dir      string
	Objects  []ObjectSpec `yaml:"objects"`
	Plugins  []PluginSpec `yaml:"plugins"`
	Scripts  []ScriptSpec `yaml:"scripts"`
	Settings Settings     `yaml:"settings"`
}

// Settings are session-wide options.
type Settings struct {
	Steps           int           `yaml:"steps"`
	TimeStep        time.Duration `yaml:"time_step"`
	StopDebounce    time.Duration `yaml:"stop_debounce"`
	AutoYieldDelay  time.Duration `yaml:"auto_yield_delay"`
	ExecutionBudget time.Duration `yaml:"execution_budget"`
	LegacyAliases   bool          `yaml:"legacy_aliases"`
	MemoryPages     uint32        `yaml:"memory_pages"`
}

// ObjectSpec is a scene object scripts can attach to.
type ObjectSpec struct {
	Name string          `yaml:"name"`
	ID   script.ObjectID `yaml:"id"`
}

// PluginSpec is a wasm plugin file.
type PluginSpec struct {
	Name string `yaml:"name"`
	File string `yaml:"file"`
}

// ScriptSpec is one script. Exactly one of File and Source is set.
type ScriptSpec struct {
	Object      *script.ObjectID `yaml:"object"`
	Name        string           `yaml:"name"`
	File        string           `yaml:"file"`
	Source      string           `yaml:"source"`
	Debug       string           `yaml:"debug"`
	Kind        script.Kind      `yaml:"kind"`
	Threaded    bool             `yaml:"threaded"`
	RaiseErrors bool             `yaml:"raise_errors"`
}

// LoadManifest reads a manifest file. Relative script and plugin paths
// resolve against its directory.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	m, err := ParseManifest(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	m.dir = filepath.Dir(path)
	return m, nil
}

// ParseManifest decodes and validates a manifest.
func ParseManifest(data []byte) (*Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	if err := m.validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

func (m *Manifest) validate() error {
	if len(m.Scripts) == 0 {
		return fmt.Errorf("manifest has no scripts")
	}
	for i, s := range m.Scripts {
		if (s.File == "") == (s.Source == "") {
			return fmt.Errorf("script %d (%s): exactly one of file and source must be set", i, s.Name)
		}
		if _, err := parseDebug(s.Debug); err != nil {
			return fmt.Errorf("script %d (%s): %w", i, s.Name, err)
		}
	}
	for i, p := range m.Plugins {
		if p.Name == "" || p.File == "" {
			return fmt.Errorf("plugin %d: name and file are required", i)
		}
	}
	return nil
}

func parseDebug(s string) (script.DebugLevel, error) {
	switch strings.ToLower(s) {
	case "", "none":
		return script.DebugNone, nil
	case "calls":
		return script.DebugCalls, nil
	case "all":
		return script.DebugAll, nil
	}
	return 0, fmt.Errorf("unknown debug level %q", s)
}

func (m *Manifest) path(p string) string {
	if filepath.IsAbs(p) || m.dir == "" {
		return p
	}
	return filepath.Join(m.dir, p)
}

// World builds the scene the manifest describes.
func (m *Manifest) World() *sim.StepWorld {
	step := m.Settings.TimeStep
	if step <= 0 {
		step = sim.DefaultTimeStep
	}
	w := sim.NewStepWorld(step)
	for _, o := range m.Objects {
		w.AddObject(o.ID, o.Name)
	}
	return w
}

// Config merges the manifest settings into cfg.
func (m *Manifest) Config(cfg sim.Config) sim.Config {
	cfg.StopDebounce = m.Settings.StopDebounce
	cfg.AutoYieldDelay = m.Settings.AutoYieldDelay
	cfg.ExecutionBudget = m.Settings.ExecutionBudget
	cfg.LegacyAliases = m.Settings.LegacyAliases
	cfg.Plugin.MemoryLimitPages = m.Settings.MemoryPages
	return cfg
}

// Populate registers the manifest's variables, plugins and scripts with a
// session that has not started yet.
func (m *Manifest) Populate(ctx context.Context, s *sim.Session) error {
	names := make([]string, 0, len(m.Vars))
	for name := range m.Vars {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		v, err := toValue(m.Vars[name])
		if err != nil {
			return fmt.Errorf("variable %s: %w", name, err)
		}
		if err := s.RegisterVariable(name, v); err != nil {
			return err
		}
	}
	for _, p := range m.Plugins {
		bin, err := os.ReadFile(m.path(p.File))
		if err != nil {
			return fmt.Errorf("plugin %s: %w", p.Name, err)
		}
		if _, err := s.LoadPlugin(ctx, p.Name, bin); err != nil {
			return err
		}
	}
	for _, spec := range m.Scripts {
		src := spec.Source
		if spec.File != "" {
			data, err := os.ReadFile(m.path(spec.File))
			if err != nil {
				return fmt.Errorf("script %s: %w", spec.Name, err)
			}
			src = string(data)
		}
		debug, _ := parseDebug(spec.Debug)
		object := script.NoObject
		if spec.Object != nil {
			object = *spec.Object
		}
		opts := script.Options{
			Name:        spec.Name,
			Threaded:    spec.Threaded,
			RaiseErrors: spec.RaiseErrors,
			DebugLevel:  debug,
		}
		if _, err := s.AddScript(ctx, spec.Kind, object, src, opts); err != nil {
			return fmt.Errorf("script %s: %w", spec.Name, err)
		}
	}
	return nil
}

func toValue(raw any) (value.Value, error) {
	v, ok := value.From(raw)
	if !ok {
		return nil, errors.New(errors.PhaseLoad, errors.KindUnsupported).
			GoType(fmt.Sprintf("%T", raw)).
			Detail("variables must be nil, booleans, numbers, strings, lists or maps").
			Build()
	}
	return v, nil
}
