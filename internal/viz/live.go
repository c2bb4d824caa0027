package viz

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/guptarohit/asciigraph"
)

const (
	canvasWidth     = 40
	canvasHeight    = 16
	historyCapacity = 300
	frameInterval   = time.Second / 30
)

type TickMsg time.Time

// Model steps a Source once per frame and renders its counters.
type Model struct {
	src       Source
	running   bool
	world     int
	theme     int
	styles    styles
	canvas    *Canvas
	latencies []float64
	steps     int
	busy      time.Duration
	maxSteps  int
	err       error
}

type Option func(*Model)

// WithMaxSteps stops stepping after n steps. Zero means no limit.
func WithMaxSteps(n int) Option {
	return func(m *Model) { m.maxSteps = n }
}

func WithTheme(name string) Option {
	return func(m *Model) {
		for i, t := range Themes {
			if t.Name == name {
				m.theme = i
				m.styles = newStyles(t)
			}
		}
	}
}

func NewModel(src Source, opts ...Option) Model {
	m := Model{
		src:       src,
		running:   true,
		styles:    newStyles(Themes[0]),
		canvas:    NewCanvas(canvasWidth, canvasHeight),
		latencies: make([]float64, 0, historyCapacity),
	}
	for _, opt := range opts {
		opt(&m)
	}
	return m
}

func tick() tea.Cmd {
	return tea.Tick(frameInterval, func(t time.Time) tea.Msg { return TickMsg(t) })
}

func (m Model) Init() tea.Cmd {
	return tick()
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case " ":
			m.running = !m.running
		case "tab":
			if n := m.src.NumWorlds(); n > 0 {
				m.world = (m.world + 1) % n
			}
		case "t":
			m.theme = (m.theme + 1) % len(Themes)
			m.styles = newStyles(Themes[m.theme])
		}
	case TickMsg:
		if m.running && m.err == nil {
			m.step()
		}
		return m, tick()
	}
	return m, nil
}

func (m *Model) step() {
	if m.maxSteps > 0 && m.steps >= m.maxSteps {
		m.running = false
		return
	}

	start := time.Now()
	if err := m.src.Step(); err != nil {
		m.err = err
		m.running = false
		return
	}
	elapsed := time.Since(start)

	m.steps++
	m.busy += elapsed
	m.latencies = append(m.latencies, float64(elapsed.Microseconds())/1000)
	if len(m.latencies) > historyCapacity {
		m.latencies = m.latencies[1:]
	}
}

// Steps reports how many steps the view has driven.
func (m Model) Steps() int { return m.steps }

func (m Model) Running() bool { return m.running }

func (m Model) Err() error { return m.err }

func (m Model) stepsPerSec() float64 {
	if m.busy <= 0 {
		return 0
	}
	return float64(m.steps) / m.busy.Seconds()
}

func (m Model) View() string {
	st := m.styles

	var s strings.Builder
	s.WriteString(st.header.Render("BATCHSIM "+strings.ToUpper(m.src.Label())) + "\n")

	switch {
	case m.err != nil:
		s.WriteString(st.bad.Render("ERROR: "+m.err.Error()) + "\n\n")
	case m.running:
		s.WriteString(st.good.Render("RUNNING") + "\n\n")
	default:
		s.WriteString(st.warn.Render("PAUSED") + "\n\n")
	}

	row := func(label, value string) {
		s.WriteString(st.label.Render(label) + st.value.Render(value) + "\n")
	}
	row("Ticks", fmt.Sprintf("%d", m.src.Ticks()))
	row("Worlds", fmt.Sprintf("%d", m.src.NumWorlds()))
	row("Steps/s", fmt.Sprintf("%.1f", m.stepsPerSec()))
	row("World st/s", fmt.Sprintf("%.0f", m.stepsPerSec()*float64(m.src.NumWorlds())))
	if n := len(m.latencies); n > 0 {
		row("Latency", fmt.Sprintf("%.3fms", m.latencies[n-1]))
	}
	row("Theme", Themes[m.theme].Name)

	if len(m.latencies) > 1 {
		chart := asciigraph.Plot(m.latencies, asciigraph.Height(5), asciigraph.Width(36), asciigraph.Caption("step ms"))
		s.WriteString(st.graph.Render(chart) + "\n")
	}
	s.WriteString(Sparkline(m.latencies, 36) + "\n")

	s.WriteString(st.help.Render("─────────────────────\nSP:Pause TAB:World\nT:Theme  Q:Quit"))
	stats := st.panel.Render(s.String())

	depth, w, h, ok := m.src.Depth(m.world)
	var view string
	if ok {
		m.canvas.DrawDepth(depth, w, h)
		view = fmt.Sprintf("world %d depth\n%s", m.world, m.canvas.String())
	} else {
		view = fmt.Sprintf("world %d\n(no host readback)", m.world)
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, st.canvas.Render(view), stats)
}
