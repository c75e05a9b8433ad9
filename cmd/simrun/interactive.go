package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"github.com/wippyai/simscript/scheduler"
	"github.com/wippyai/simscript/script"
	"github.com/wippyai/simscript/sim"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	nameStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#98FB98"))

	kindStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#87CEEB"))

	promptStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#C0392B")).
			Padding(0, 1)

	resultStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#90EE90"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))
)

// maxOutput is the number of output lines kept on screen.
const maxOutput = 12

type interactiveModel struct {
	err      error
	prompt   *promptMsg
	submit   func(command) bool
	cancel   context.CancelFunc
	id       string
	result   string
	summary  string
	output   []string
	input    textinput.Model
	snap     sim.Snapshot
	resultOK bool
	ended    bool
}

func newInteractiveModel(submit func(command) bool, cancel context.CancelFunc) *interactiveModel {
	ti := textinput.New()
	ti.Placeholder = "call <script> <function> [args...] | stop | pause | step"
	ti.Prompt = "> "
	ti.Width = 60
	ti.Focus()
	return &interactiveModel{
		submit: submit,
		cancel: cancel,
		input:  ti,
	}
}

func (m *interactiveModel) Init() tea.Cmd {
	return textinput.Blink
}

func (m *interactiveModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if m.prompt != nil {
			switch msg.String() {
			case "y", "Y":
				m.answer(true)
			case "n", "N", "esc":
				m.answer(false)
			case "ctrl+c":
				m.cancel()
				return m, tea.Quit
			}
			return m, nil
		}
		switch msg.String() {
		case "ctrl+c":
			m.cancel()
			return m, tea.Quit
		case "esc":
			if m.ended {
				return m, tea.Quit
			}
			m.input.SetValue("")
			return m, nil
		case "enter":
			if m.ended {
				return m, tea.Quit
			}
			m.exec(m.input.Value())
			m.input.SetValue("")
			return m, nil
		}

	case startedMsg:
		m.id = msg.id

	case snapshotMsg:
		m.snap = msg.snap

	case outputMsg:
		m.output = append(m.output, string(msg))
		if len(m.output) > maxOutput {
			m.output = m.output[len(m.output)-maxOutput:]
		}

	case resultMsg:
		m.resultOK = msg.err == nil
		m.result = msg.text
		if msg.err != nil {
			m.result = msg.err.Error()
		}

	case promptMsg:
		m.prompt = &msg

	case endedMsg:
		m.ended = true
		m.err = msg.err
		m.summary = msg.summary
		m.prompt = nil
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *interactiveModel) answer(ok bool) {
	m.prompt.reply <- ok
	m.prompt = nil
}

func (m *interactiveModel) exec(line string) {
	if strings.TrimSpace(line) == "" {
		return
	}
	c, err := parseCommand(line)
	if err != nil {
		m.resultOK, m.result = false, err.Error()
		return
	}
	if !m.submit(c) {
		m.resultOK, m.result = false, "session is busy, try again"
		return
	}
	if c.kind != cmdCall {
		m.resultOK, m.result = true, line
	}
}

func (m *interactiveModel) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("simrun"))
	if m.id != "" {
		b.WriteString(" session ")
		b.WriteString(m.id)
	}
	b.WriteString("\n\n")

	if m.ended {
		if m.err != nil {
			b.WriteString(errorStyle.Render(fmt.Sprintf("Error: %v", m.err)))
			b.WriteString("\n")
		}
		b.WriteString(m.summary)
		b.WriteString("\n\n")
		b.WriteString(helpStyle.Render("enter quit"))
		return b.String()
	}

	b.WriteString(statusLine(m.snap))
	b.WriteString("\n\n")
	b.WriteString(scriptTable(m.snap))
	b.WriteString("\n")

	for _, line := range m.output {
		b.WriteString(line)
		b.WriteString("\n")
	}
	b.WriteString("\n")

	if m.prompt != nil {
		b.WriteString(promptStyle.Render(fmt.Sprintf("%s has been running for %s. Abort it? (y/n)",
			m.prompt.script, m.prompt.elapsed.Round(time.Millisecond))))
		b.WriteString("\n")
		return b.String()
	}

	if m.result != "" {
		style := resultStyle
		if !m.resultOK {
			style = errorStyle
		}
		b.WriteString(style.Render(m.result))
		b.WriteString("\n")
	}
	b.WriteString(m.input.View())
	b.WriteString("\n\n")
	b.WriteString(helpStyle.Render("enter run command • esc clear • ctrl+c quit"))
	return b.String()
}

func statusLine(snap sim.Snapshot) string {
	parts := []string{
		"step " + humanize.Comma(int64(snap.Steps)),
		snap.SimulationTime.String() + " simulated",
		fmt.Sprintf("%d scripts", len(snap.Scripts)),
		fmt.Sprintf("%d threads", len(snap.Threads)),
		humanize.Comma(int64(snap.Stacks.Created)) + " calls",
	}
	if snap.Stacks.Live > 0 {
		parts = append(parts, fmt.Sprintf("%d stacks live", snap.Stacks.Live))
	}
	if snap.Deferred > 0 {
		parts = append(parts, humanize.Comma(int64(snap.Deferred))+" deferred records")
	}
	switch {
	case snap.Stopped:
		parts = append(parts, errorStyle.Render("stopped"))
	case snap.Stopping:
		parts = append(parts, errorStyle.Render("stopping"))
	}
	return strings.Join(parts, " · ")
}

func scriptTable(snap sim.Snapshot) string {
	states := make(map[script.ThreadID]scheduler.State, len(snap.Threads))
	for _, t := range snap.Threads {
		states[t.ID] = t.State
	}

	var b strings.Builder
	for _, s := range snap.Scripts {
		state := "idle"
		switch {
		case !s.Initialized:
			state = "not initialized"
		case s.HasThread:
			state = "thread " + states[s.Thread].String()
		}
		fmt.Fprintf(&b, "  %s %s  %s", nameStyle.Render(s.Name), kindStyle.Render(s.Kind.String()), state)
		if s.LastError != "" {
			b.WriteString("  ")
			b.WriteString(errorStyle.Render(s.LastError))
		}
		b.WriteString("\n")
	}
	return b.String()
}

func runInteractive(m *Manifest, cfg sim.Config, interval time.Duration) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var d *driver
	model := newInteractiveModel(func(c command) bool { return d.submit(c) }, cancel)
	p := tea.NewProgram(model, tea.WithAltScreen())
	d = newDriver(m, cfg, interval, p)

	done := make(chan error, 1)
	go func() { done <- d.run(ctx) }()

	_, err := p.Run()
	cancel()
	if derr := <-done; err == nil {
		err = derr
	}
	return err
}
