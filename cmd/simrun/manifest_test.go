package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/wippyai/simscript/errors"
	"github.com/wippyai/simscript/script"
	"github.com/wippyai/simscript/sim"
	"github.com/wippyai/simscript/value"
)

const sampleManifest = `
settings:
  steps: 3
  time_step: 10ms
  stop_debounce: 2s
  legacy_aliases: true
objects:
  - id: 7
    name: robot
variables:
  cfg.limit: 5
  cfg.names: [a, b]
scripts:
  - name: main
    kind: main
    source: |
      function sysCall_actuation() print("step", cfg.limit) end
  - name: arm
    kind: child
    object: 7
    file: arm.lua
    threaded: true
    debug: calls
`

func TestParseManifest(t *testing.T) {
	m, err := ParseManifest([]byte(sampleManifest))
	if err != nil {
		t.Fatal(err)
	}
	if m.Settings.Steps != 3 || m.Settings.TimeStep != 10*time.Millisecond || m.Settings.StopDebounce != 2*time.Second {
		t.Fatalf("settings = %+v", m.Settings)
	}
	if len(m.Scripts) != 2 {
		t.Fatalf("scripts = %+v", m.Scripts)
	}
	arm := m.Scripts[1]
	if arm.Kind != script.KindChild || arm.Object == nil || *arm.Object != 7 || !arm.Threaded {
		t.Fatalf("arm = %+v", arm)
	}
	cfg := m.Config(sim.Config{})
	if cfg.StopDebounce != 2*time.Second || !cfg.LegacyAliases {
		t.Fatalf("config = %+v", cfg)
	}
	if w := m.World(); !w.ObjectExists(7) || w.ObjectExists(8) {
		t.Fatal("world objects mismatch")
	}
}

func TestParseManifest_Errors(t *testing.T) {
	tests := []struct {
		name     string
		manifest string
		contains string
	}{
		{"no scripts", "settings: {steps: 1}", "no scripts"},
		{"both file and source", "scripts: [{name: a, file: a.lua, source: x}]", "exactly one"},
		{"neither file nor source", "scripts: [{name: a}]", "exactly one"},
		{"bad debug level", "scripts: [{name: a, source: x, debug: loud}]", "debug level"},
		{"bad kind", "scripts: [{name: a, kind: robot, source: x}]", "unknown script kind"},
		{"plugin without file", "plugins: [{name: p}]\nscripts: [{name: a, source: x}]", "plugin 0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseManifest([]byte(tt.manifest))
			if err == nil || !strings.Contains(err.Error(), tt.contains) {
				t.Fatalf("err = %v, want it to contain %q", err, tt.contains)
			}
		})
	}
}

func writeManifest(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return filepath.Join(dir, "sim.yaml")
}

func TestRunBatch(t *testing.T) {
	path := writeManifest(t, map[string]string{
		"sim.yaml": sampleManifest,
		"arm.lua": `
function sysCall_thread()
  while true do
    print("arm", sim.getSimulationTime())
    sim.switchThread()
  end
end
`,
	})
	m, err := LoadManifest(path)
	if err != nil {
		t.Fatal(err)
	}

	var out bytes.Buffer
	if err := runBatch(m, sim.Config{}, &out); err != nil {
		t.Fatal(err)
	}
	got := out.String()
	if n := strings.Count(got, "step\t5\n"); n != 3 {
		t.Fatalf("main actuated %d times, want 3:\n%s", n, got)
	}
	for _, want := range []string{"arm\t0\n", "arm\t0.01\n", "arm\t0.02\n", ": 3 steps, 30ms simulated, 2 scripts"} {
		if !strings.Contains(got, want) {
			t.Errorf("output missing %q:\n%s", want, got)
		}
	}
}

func TestRunBatch_ReportsScriptErrors(t *testing.T) {
	m, err := ParseManifest([]byte(`
settings: {steps: 1}
scripts:
  - name: main
    kind: main
    source: |
      function sysCall_actuation() error("bad step") end
`))
	if err != nil {
		t.Fatal(err)
	}
	var out bytes.Buffer
	if err := runBatch(m, sim.Config{}, &out); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), "sysCall_actuation") || !strings.Contains(out.String(), "bad step") {
		t.Fatalf("output = %q", out.String())
	}
}

func TestRunBatch_MissingFile(t *testing.T) {
	path := writeManifest(t, map[string]string{"sim.yaml": sampleManifest})
	m, err := LoadManifest(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := runBatch(m, sim.Config{}, &bytes.Buffer{}); err == nil || !strings.Contains(err.Error(), "arm") {
		t.Fatalf("err = %v, want missing arm.lua", err)
	}
}

func TestToValue(t *testing.T) {
	v, err := toValue(map[string]any{"b": []any{1, "x"}, "a": true})
	if err != nil {
		t.Fatal(err)
	}
	want := value.Map{
		{Key: value.String("a"), Val: value.Bool(true)},
		{Key: value.String("b"), Val: value.Array{value.Number(1), value.String("x")}},
	}
	if !value.Equal(v, want) {
		t.Fatalf("got %v, want %v", v, want)
	}

	_, err = toValue(time.Second)
	if !errors.IsKind(err, errors.KindUnsupported) {
		t.Fatalf("err = %v, want unsupported", err)
	}
	if !strings.Contains(err.Error(), "Go type time.Duration") {
		t.Fatalf("err = %v, want the Go type", err)
	}
}
