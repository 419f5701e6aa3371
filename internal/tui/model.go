// Package tui is the interactive terminal for PII detection and document
// comparison.
package tui

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/MrWong99/dimfocus/internal/pii"
	"github.com/MrWong99/dimfocus/internal/similarity"
)

// historyLimit caps the number of entries kept on screen.
const historyLimit = 50

// Service is the TUI-facing subset of the application.
type Service interface {
	DetectPII(ctx context.Context, texts []string) ([]pii.Detection, error)
	Compare(ctx context.Context, a, b string) (similarity.Result, error)
}

// Mode selects what submitted text is used for.
type Mode int

const (
	// ModePII classifies each submitted text.
	ModePII Mode = iota
	// ModeCompare compares each submitted text against a reference. The
	// first text submitted in this mode becomes the reference.
	ModeCompare
)

func (m Mode) String() string {
	if m == ModeCompare {
		return "compare"
	}
	return "pii"
}

// detectMsg carries the outcome of a PII detection.
type detectMsg struct {
	text string
	det  pii.Detection
	err  error
}

// compareMsg carries the outcome of a comparison.
type compareMsg struct {
	text string
	res  similarity.Result
	err  error
}

// Model is the Bubble Tea model.
type Model struct {
	ctx       context.Context
	service   Service
	input     textinput.Model
	viewport  viewport.Model
	mode      Mode
	reference string
	history   []string
	status    string
	busy      bool
	ready     bool
}

// New returns a Model starting in mode.
func New(ctx context.Context, service Service, mode Mode) Model {
	ti := textinput.New()
	ti.Prompt = "> "
	ti.Placeholder = "Type text and press Enter"
	ti.Focus()
	ti.CharLimit = 0
	m := Model{
		ctx:      ctx,
		service:  service,
		input:    ti,
		viewport: viewport.New(0, 0),
		mode:     mode,
	}
	m.status = m.idleStatus()
	return m
}

// Init starts the cursor blinking.
func (m Model) Init() tea.Cmd { return textinput.Blink }

// Update handles key, window and result messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.ready = true
		_, bh := historyBoxStyle.GetFrameSize()
		_, ih := inputBoxStyle.GetFrameSize()
		reserved := 2 + 1 + ih + bh // header, status, input box, history frame
		m.viewport.Width = max(20, msg.Width)
		m.viewport.Height = max(3, msg.Height-reserved)
		m.viewport.SetContent(m.renderHistory())
		return m, nil

	case detectMsg:
		m.busy = false
		if msg.err != nil {
			m.status = errorStyle.Render("Error: " + msg.err.Error())
			return m, nil
		}
		m.push(renderDetection(msg.text, msg.det))
		m.status = m.idleStatus()
		return m, nil

	case compareMsg:
		m.busy = false
		if msg.err != nil {
			m.status = errorStyle.Render("Error: " + msg.err.Error())
			return m, nil
		}
		m.push(renderComparison(msg.text, msg.res))
		m.status = m.idleStatus()
		return m, nil

	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC || msg.Type == tea.KeyCtrlD || msg.Type == tea.KeyEsc {
			return m, tea.Quit
		}
		switch msg.Type {
		case tea.KeyTab:
			m.toggleMode()
			return m, nil
		case tea.KeyEnter:
			return m.submit()
		}
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *Model) toggleMode() {
	if m.mode == ModePII {
		m.mode = ModeCompare
	} else {
		m.mode = ModePII
	}
	m.status = m.idleStatus()
}

func (m Model) submit() (tea.Model, tea.Cmd) {
	text := strings.TrimSpace(m.input.Value())
	switch strings.ToLower(text) {
	case "":
		return m, nil
	case "quit", "exit", "q":
		return m, tea.Quit
	case ":reset":
		m.reference = ""
		m.input.Reset()
		m.status = m.idleStatus()
		return m, nil
	}
	if m.busy {
		return m, nil
	}
	m.input.Reset()

	if m.mode == ModeCompare && m.reference == "" {
		m.reference = text
		m.push(labelStyle.Render("Reference set: ") + similarity.Preview(text, 80))
		m.status = m.idleStatus()
		return m, nil
	}

	m.busy = true
	m.status = "Working..."
	if m.mode == ModeCompare {
		return m, m.compareCmd(text)
	}
	return m, m.detectCmd(text)
}

func (m Model) detectCmd(text string) tea.Cmd {
	ctx, svc := m.ctx, m.service
	return func() tea.Msg {
		dets, err := svc.DetectPII(ctx, []string{text})
		if err != nil {
			return detectMsg{text: text, err: err}
		}
		return detectMsg{text: text, det: dets[0]}
	}
}

func (m Model) compareCmd(text string) tea.Cmd {
	ctx, svc, ref := m.ctx, m.service, m.reference
	return func() tea.Msg {
		res, err := svc.Compare(ctx, ref, text)
		return compareMsg{text: text, res: res, err: err}
	}
}

func (m *Model) push(entry string) {
	m.history = append(m.history, entry)
	if len(m.history) > historyLimit {
		m.history = m.history[len(m.history)-historyLimit:]
	}
	m.viewport.SetContent(m.renderHistory())
	m.viewport.GotoBottom()
}

func (m Model) idleStatus() string {
	if m.mode == ModeCompare {
		if m.reference == "" {
			return "Compare mode: enter the reference document. Tab switches mode."
		}
		return "Compare mode: enter text to compare, :reset for a new reference. Tab switches mode."
	}
	return "PII mode: enter text to analyze, 'quit' to exit. Tab switches mode."
}

// View renders the layout.
func (m Model) View() string {
	if !m.ready {
		return "Loading..."
	}
	header := headerStyle.Render("dimfocus") + " " + modeStyle.Render("["+m.mode.String()+"]")
	history := historyBoxStyle.Render(m.viewport.View())
	input := inputBoxStyle.Render(m.input.View())
	status := statusStyle.Render(m.status)
	return header + "\n" + history + "\n" + input + "\n" + status
}

func (m Model) renderHistory() string {
	if len(m.history) == 0 {
		return "No results yet."
	}
	return strings.Join(m.history, "\n\n")
}

func renderDetection(text string, d pii.Detection) string {
	var verdict string
	if d.ContainsPII {
		verdict = alertStyle.Render(fmt.Sprintf("[!] PII DETECTED (%.1f%% confidence)", d.Confidence))
	} else {
		verdict = cleanStyle.Render(fmt.Sprintf("[ok] Clean (%.1f%% confidence)", d.Confidence))
	}
	return fmt.Sprintf("%s\nText: %q\nPII probability: %.1f%%", verdict, text, d.ProbPII*100)
}

func renderComparison(text string, r similarity.Result) string {
	style := cleanStyle
	switch r.Level {
	case similarity.Medium:
		style = labelStyle
	case similarity.Low:
		style = alertStyle
	}
	return fmt.Sprintf("%s\nText: %q\nFocused: %.3f  Full: %.3f  Match probability: %.1f%%",
		style.Render("Match level: "+r.Level.String()), similarity.Preview(text, 80),
		r.Focused, r.Full, r.Probability*100)
}

var (
	headerStyle     = lipgloss.NewStyle().Bold(true)
	modeStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	statusStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	errorStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	alertStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	cleanStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Bold(true)
	labelStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	historyBoxStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	inputBoxStyle   = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
)

// Run starts the program on the terminal and blocks until the user quits.
func Run(ctx context.Context, service Service, mode Mode) error {
	_, err := tea.NewProgram(New(ctx, service, mode), tea.WithAltScreen(), tea.WithContext(ctx)).Run()
	return err
}
