package viz

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// Progress is the outcome of one solver iteration.
type Progress struct {
	Iteration int
	Cost      float64
	Defect    float64
	Step      float64
	Done      bool
}

// Stepper runs one iteration of an iterative solve.
type Stepper func(ctx context.Context) (Progress, error)

type tickMsg time.Time

// WatchModel steps a solver from a bubbletea loop and charts its progress.
type WatchModel struct {
	ctx      context.Context
	title    string
	step     Stepper
	maxIter  int
	interval time.Duration
	theme    Theme

	history []Progress
	running bool
	done    bool
	err     error
}

func NewWatch(ctx context.Context, title string, maxIter int, interval time.Duration, step Stepper) WatchModel {
	return WatchModel{
		ctx:      ctx,
		title:    title,
		step:     step,
		maxIter:  maxIter,
		interval: interval,
		theme:    ThemeCyberpunk,
		running:  true,
	}
}

func (m WatchModel) WithTheme(t Theme) WatchModel {
	m.theme = t
	return m
}

func (m WatchModel) History() []Progress { return m.history }
func (m WatchModel) Err() error          { return m.err }

func (m WatchModel) tick() tea.Cmd {
	return tea.Tick(m.interval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m WatchModel) Init() tea.Cmd {
	return m.tick()
}

func (m WatchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		case " ", "space":
			m.running = !m.running
		case "t":
			m.theme = m.theme.next()
		case "n":
			m.advance()
		}
		return m, nil
	case tickMsg:
		if m.running {
			m.advance()
		}
		if m.done {
			return m, nil
		}
		return m, m.tick()
	}
	return m, nil
}

func (m *WatchModel) advance() {
	if m.done {
		return
	}
	p, err := m.step(m.ctx)
	if err != nil {
		m.err = err
		m.done = true
		return
	}
	m.history = append(m.history, p)
	if p.Done || len(m.history) >= m.maxIter {
		m.done = true
	}
}

func (m WatchModel) View() string {
	t := m.theme
	var s strings.Builder
	s.WriteString(t.title().Render(strings.ToUpper(m.title)) + "\n")

	status, style := "RUNNING", t.status(false, false)
	switch {
	case m.err != nil:
		status, style = "FAILED: "+m.err.Error(), t.status(false, true)
	case m.done:
		status, style = "CONVERGED", t.status(true, false)
	case !m.running:
		status = "PAUSED"
	}
	s.WriteString(style.Render(status) + "\n")
	if m.maxIter > 0 {
		s.WriteString(ProgressBar(float64(len(m.history))/float64(m.maxIter), 30) +
			fmt.Sprintf(" %d/%d\n\n", len(m.history), m.maxIter))
	}

	if n := len(m.history); n > 0 {
		last := m.history[n-1]
		for _, kv := range []struct {
			k string
			v float64
		}{{"cost", last.Cost}, {"max defect", last.Defect}, {"step", last.Step}} {
			s.WriteString(t.label().Render(kv.k) + t.value().Render(fmt.Sprintf("%.4e", kv.v)) + "\n")
		}

		defects := make([]float64, n)
		costs := make([]float64, n)
		for i, p := range m.history {
			defects[i] = math.Log10(p.Defect + 1e-16)
			costs[i] = p.Cost
		}
		s.WriteString("\n" + t.label().Render("log defect") + Sparkline(defects, 30) + "\n")
		if g := Series("cost", costs, 40, 6); g != "" {
			s.WriteString("\n" + lipgloss.NewStyle().Foreground(t.Accent).Render(g) + "\n")
		}
	}

	s.WriteString("\n" + KeyHint.Render("space:pause  n:step  t:theme  q:quit"))
	return Panel.Render(s.String())
}
