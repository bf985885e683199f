package tui

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
)

// spinnerModel is the bubbletea model for a spinner.
type spinnerModel struct {
	spinner  spinner.Model
	message  string
	done     bool
	result   string
	err      error
	styles   *Styles
	quitting bool
}

func newSpinnerModel(message string, styles *Styles) spinnerModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = styles.Spinner

	return spinnerModel{
		spinner: s,
		message: message,
		styles:  styles,
	}
}

func (m spinnerModel) Init() tea.Cmd {
	return m.spinner.Tick
}

type spinnerDoneMsg struct {
	result string
	err    error
}

// spinnerNoteMsg is printed above the spinner line.
type spinnerNoteMsg string

func (m spinnerModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			m.quitting = true
			return m, tea.Quit
		}
	case spinnerNoteMsg:
		return m, tea.Println(m.styles.Muted.Render(string(msg)))
	case spinnerDoneMsg:
		m.done = true
		m.result = msg.result
		m.err = msg.err
		return m, tea.Quit
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m spinnerModel) View() string {
	if m.quitting {
		return ""
	}
	if m.done {
		if m.err != nil {
			return m.styles.RenderStatus(false, m.err.Error()) + "\n"
		}
		return m.styles.RenderStatus(true, m.result) + "\n"
	}
	return fmt.Sprintf("%s %s\n", m.spinner.View(), m.message)
}

// Spinner shows progress on stderr while a blocking function runs.
type Spinner struct {
	message string
	out     io.Writer
	styles  *Styles
}

// NewSpinner creates a spinner that writes to stderr.
func NewSpinner(message string) *Spinner {
	return &Spinner{message: message, out: os.Stderr, styles: NewStyles()}
}

// Run executes fn while displaying the spinner. Pressing q, esc or ctrl+c
// cancels the context passed to fn; Run always waits for fn to return.
// notify prints a line above the spinner.
func (s *Spinner) Run(ctx context.Context, fn func(ctx context.Context, notify func(string)) (string, error)) (string, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	p := tea.NewProgram(newSpinnerModel(s.message, s.styles), tea.WithOutput(s.out))

	type outcome struct {
		result string
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		result, err := fn(ctx, func(msg string) { p.Send(spinnerNoteMsg(msg)) })
		done <- outcome{result, err}
		p.Send(spinnerDoneMsg{result: result, err: err})
	}()

	// A failed program (no usable terminal) leaves fn running to completion.
	final, _ := p.Run()
	if m, ok := final.(spinnerModel); ok && m.quitting {
		cancel()
	}

	out := <-done
	return out.result, out.err
}
