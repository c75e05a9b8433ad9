package main

import (
	"context"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/wippyai/simscript/script"
	"github.com/wippyai/simscript/sim"
	"github.com/wippyai/simscript/value"
)

type recorder struct {
	msgs chan tea.Msg
}

func newRecorder() *recorder {
	return &recorder{msgs: make(chan tea.Msg, 256)}
}

func (r *recorder) Send(msg tea.Msg) { r.msgs <- msg }

func waitFor[T tea.Msg](t *testing.T, r *recorder) T {
	t.Helper()
	timeout := time.After(5 * time.Second)
	for {
		select {
		case msg := <-r.msgs:
			if m, ok := msg.(T); ok {
				return m
			}
		case <-timeout:
			var zero T
			t.Fatalf("timed out waiting for %T", zero)
			return zero
		}
	}
}

func TestDriver(t *testing.T) {
	m, err := ParseManifest([]byte(`
settings:
  stop_debounce: 1ns
scripts:
  - name: main
    kind: main
    source: |
      function double(x) return x * 2 end
      function sysCall_actuation() print("tick") end
  - name: arm
    kind: addon
    threaded: true
    source: |
      function triple(x) return x * 3 end
      function sysCall_thread()
        while true do sim.switchThread() end
      end
`))
	if err != nil {
		t.Fatal(err)
	}
	rec := newRecorder()
	d := newDriver(m, sim.Config{}, time.Hour, rec)

	done := make(chan error, 1)
	go func() { done <- d.run(context.Background()) }()
	if started := waitFor[startedMsg](t, rec); started.id == "" {
		t.Fatal("no session id")
	}

	d.submit(command{kind: cmdCall, script: "main", fn: "double", args: []value.Value{value.Number(4)}})
	if res := waitFor[resultMsg](t, rec); res.err != nil || res.text != "main.double = 8" {
		t.Fatalf("result = %+v", res)
	}

	d.submit(command{kind: cmdCall, script: "ghost", fn: "double"})
	if res := waitFor[resultMsg](t, rec); res.err == nil {
		t.Fatal("call on unknown script succeeded")
	}

	d.submit(command{kind: cmdStep})
	if out := waitFor[outputMsg](t, rec); out != "tick" {
		t.Fatalf("output = %q", out)
	}
	if snap := waitFor[snapshotMsg](t, rec); snap.snap.Steps != 1 {
		t.Fatalf("steps = %d, want 1", snap.snap.Steps)
	}

	// arm runs on its own thread; the call is served there.
	d.submit(command{kind: cmdCall, script: "arm", fn: "triple", args: []value.Value{value.Number(2)}})
	if res := waitFor[resultMsg](t, rec); res.err != nil || res.text != "arm.triple = 6" {
		t.Fatalf("result = %+v", res)
	}

	// The second request only wakes the loop again if the first check
	// came before the debounce elapsed.
	d.submit(command{kind: cmdStop})
	d.submit(command{kind: cmdStop})
	ended := waitFor[endedMsg](t, rec)
	if ended.err != nil || !strings.Contains(ended.summary, "1 steps") {
		t.Fatalf("ended = %+v", ended)
	}
	if err := <-done; err != nil {
		t.Fatal(err)
	}
}

func TestDriver_CancelEndsSession(t *testing.T) {
	m, err := ParseManifest([]byte(`
scripts:
  - name: main
    kind: main
    source: |
      function sysCall_cleanup() print("cleanup") end
`))
	if err != nil {
		t.Fatal(err)
	}
	rec := newRecorder()
	d := newDriver(m, sim.Config{}, time.Hour, rec)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- d.run(ctx) }()
	waitFor[startedMsg](t, rec)
	cancel()

	if out := waitFor[outputMsg](t, rec); out != "cleanup" {
		t.Fatalf("output = %q", out)
	}
	waitFor[endedMsg](t, rec)
	if err := <-done; err != nil {
		t.Fatal(err)
	}
}

type answering struct {
	answer bool
}

func (a answering) Send(msg tea.Msg) {
	if p, ok := msg.(promptMsg); ok {
		p.reply <- a.answer
	}
}

func TestDriver_ConfirmAsksTheUser(t *testing.T) {
	reg := script.NewRegistry()
	h, err := reg.Register(script.KindAddOn, script.NoObject, script.Options{Name: "slow"})
	if err != nil {
		t.Fatal(err)
	}
	sc, _ := reg.Get(h)
	for _, answer := range []bool{true, false} {
		d := newDriver(&Manifest{}, sim.Config{}, 0, answering{answer})
		confirm := d.confirm(context.Background())
		if got := confirm(sc, time.Second); got != answer {
			t.Fatalf("confirm = %v, want %v", got, answer)
		}
	}
}
