package main

import (
	"errors"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/wippyai/simscript/scheduler"
	"github.com/wippyai/simscript/script"
	"github.com/wippyai/simscript/sim"
)

func newTestModel() (*interactiveModel, *[]command, *bool) {
	var sent []command
	cancelled := false
	m := newInteractiveModel(func(c command) bool {
		sent = append(sent, c)
		return true
	}, func() { cancelled = true })
	return m, &sent, &cancelled
}

func typeLine(m *interactiveModel, line string) {
	m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(line)})
	m.Update(tea.KeyMsg{Type: tea.KeyEnter})
}

func TestModel_Commands(t *testing.T) {
	m, sent, _ := newTestModel()

	typeLine(m, "call arm move 2")
	if len(*sent) != 1 || (*sent)[0].kind != cmdCall || (*sent)[0].fn != "move" {
		t.Fatalf("sent = %+v", *sent)
	}
	if m.input.Value() != "" {
		t.Fatal("input not cleared")
	}

	typeLine(m, "fly")
	if len(*sent) != 1 || m.resultOK || !strings.Contains(m.result, "unknown command") {
		t.Fatalf("result = %q ok=%v", m.result, m.resultOK)
	}

	m.Update(resultMsg{text: "arm.move = 4"})
	if !strings.Contains(m.View(), "arm.move = 4") {
		t.Fatal("result not shown")
	}
}

func TestModel_View(t *testing.T) {
	m, _, _ := newTestModel()
	m.Update(startedMsg{id: "abc"})
	m.Update(snapshotMsg{snap: sim.Snapshot{
		Steps:          12345,
		SimulationTime: 1500 * time.Millisecond,
		Stopping:       true,
		Scripts: []sim.ScriptInfo{
			{Name: "arm", Kind: script.KindChild, Initialized: true, HasThread: true, Thread: 1, LastError: "boom"},
			{Name: "main", Kind: script.KindMain},
		},
		Threads: []scheduler.ThreadInfo{{ID: 1, State: scheduler.StateSuspended}},
		Stacks:  sim.StackStats{Created: 1500, Live: 2},
	}})
	m.Update(outputMsg("hello"))

	view := m.View()
	for _, want := range []string{"abc", "step 12,345", "1.5s simulated", "1,500 calls", "2 stacks live", "stopping", "arm", "thread suspended", "boom", "not initialized", "hello"} {
		if !strings.Contains(view, want) {
			t.Errorf("view missing %q:\n%s", want, view)
		}
	}
}

func TestModel_OutputIsBounded(t *testing.T) {
	m, _, _ := newTestModel()
	for i := 0; i < maxOutput+5; i++ {
		m.Update(outputMsg("line"))
	}
	if len(m.output) != maxOutput {
		t.Fatalf("output lines = %d, want %d", len(m.output), maxOutput)
	}
}

func TestModel_AbortPrompt(t *testing.T) {
	m, sent, _ := newTestModel()
	reply := make(chan bool, 1)
	m.Update(promptMsg{reply: reply, script: "addon:slow", elapsed: 3 * time.Second})
	if !strings.Contains(m.View(), "addon:slow has been running for 3s") {
		t.Fatalf("prompt not shown:\n%s", m.View())
	}

	// Keys other than y/n are swallowed while the prompt is open.
	m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("x")})
	m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	if len(*sent) != 0 || m.prompt == nil {
		t.Fatal("prompt lost")
	}

	m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("y")})
	if m.prompt != nil {
		t.Fatal("prompt still open")
	}
	if ok := <-reply; !ok {
		t.Fatal("answer = false, want true")
	}
}

func TestModel_EndedAndQuit(t *testing.T) {
	m, _, cancelled := newTestModel()
	m.Update(endedMsg{err: errors.New("load failed"), summary: "session x: 0 steps"})
	view := m.View()
	if !strings.Contains(view, "load failed") || !strings.Contains(view, "0 steps") {
		t.Fatalf("view = %s", view)
	}
	if _, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter}); cmd == nil {
		t.Fatal("enter after end must quit")
	}

	if _, cmd := m.Update(tea.KeyMsg{Type: tea.KeyCtrlC}); cmd == nil || !*cancelled {
		t.Fatal("ctrl+c must cancel and quit")
	}
}
