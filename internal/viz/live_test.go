package viz

import (
	"errors"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
)

type fakeSource struct {
	ticks  uint64
	worlds int
	fail   error
	depth  []float32
}

func (f *fakeSource) Step() error {
	if f.fail != nil {
		return f.fail
	}
	f.ticks++
	return nil
}

func (f *fakeSource) Ticks() uint64  { return f.ticks }
func (f *fakeSource) NumWorlds() int { return f.worlds }
func (f *fakeSource) Label() string  { return "fake" }

func (f *fakeSource) Depth(world int) ([]float32, int, int, bool) {
	if f.depth == nil {
		return nil, 0, 0, false
	}
	return f.depth, 2, 2, true
}

func update(t *testing.T, m Model, msg tea.Msg) Model {
	t.Helper()
	next, _ := m.Update(msg)
	return next.(Model)
}

func TestModelStepsOnTick(t *testing.T) {
	src := &fakeSource{worlds: 4}
	m := NewModel(src)

	for i := 0; i < 3; i++ {
		m = update(t, m, TickMsg{})
	}

	if src.ticks != 3 {
		t.Errorf("expected 3 ticks, got %d", src.ticks)
	}
	if m.Steps() != 3 {
		t.Errorf("expected 3 steps, got %d", m.Steps())
	}
	if len(m.latencies) != 3 {
		t.Errorf("expected 3 latencies, got %d", len(m.latencies))
	}
}

func TestModelPause(t *testing.T) {
	src := &fakeSource{worlds: 1}
	m := NewModel(src)

	m = update(t, m, tea.KeyMsg{Type: tea.KeySpace, Runes: []rune{' '}})
	if m.Running() {
		t.Fatal("expected paused model")
	}
	m = update(t, m, TickMsg{})
	if src.ticks != 0 {
		t.Errorf("paused model stepped %d times", src.ticks)
	}
}

func TestModelMaxSteps(t *testing.T) {
	src := &fakeSource{worlds: 1}
	m := NewModel(src, WithMaxSteps(2))

	for i := 0; i < 5; i++ {
		m = update(t, m, TickMsg{})
	}
	if src.ticks != 2 {
		t.Errorf("expected 2 ticks, got %d", src.ticks)
	}
	if m.Running() {
		t.Error("expected model to stop after max steps")
	}
}

func TestModelStopsOnError(t *testing.T) {
	src := &fakeSource{worlds: 1, fail: errors.New("closed")}
	m := NewModel(src)

	m = update(t, m, TickMsg{})
	if m.Err() == nil || m.Running() {
		t.Fatal("expected model to stop with error")
	}
	if !strings.Contains(m.View(), "ERROR: closed") {
		t.Error("error not shown in view")
	}
}

func TestModelQuit(t *testing.T) {
	m := NewModel(&fakeSource{worlds: 1})
	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'q'}})
	if cmd == nil {
		t.Fatal("expected quit command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Error("expected tea.QuitMsg")
	}
}

func TestModelCyclesWorldsAndThemes(t *testing.T) {
	m := NewModel(&fakeSource{worlds: 2}, WithTheme("minimal"))
	if Themes[m.theme].Name != "minimal" {
		t.Fatalf("expected minimal theme, got %s", Themes[m.theme].Name)
	}

	m = update(t, m, tea.KeyMsg{Type: tea.KeyTab})
	m = update(t, m, tea.KeyMsg{Type: tea.KeyTab})
	m = update(t, m, tea.KeyMsg{Type: tea.KeyTab})
	if m.world != 1 {
		t.Errorf("expected world 1, got %d", m.world)
	}

	m = update(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'t'}})
	if Themes[m.theme].Name != "cyberpunk" {
		t.Errorf("expected theme to wrap to cyberpunk, got %s", Themes[m.theme].Name)
	}
}

func TestViewShowsCounters(t *testing.T) {
	src := &fakeSource{worlds: 8, depth: []float32{1, 1, 2, 2}}
	m := NewModel(src)
	m = update(t, m, TickMsg{})
	m = update(t, m, TickMsg{})

	out := m.View()
	for _, want := range []string{"BATCHSIM FAKE", "Ticks", "Worlds", "world 0 depth"} {
		if !strings.Contains(out, want) {
			t.Errorf("view missing %q", want)
		}
	}
}

func TestCanvasDrawDepth(t *testing.T) {
	c := NewCanvas(1, 1)
	c.DrawDepth([]float32{1, 1, 3, 3}, 2, 2)

	// top half nearer than the mean: dots 1,2,4,5
	want := rune(brailleBlank | 0x1 | 0x2 | 0x8 | 0x10)
	if c.Grid[0][0] != want {
		t.Errorf("expected %U, got %U", want, c.Grid[0][0])
	}

	c.DrawDepth([]float32{1}, 2, 2)
	if c.Grid[0][0] != brailleBlank {
		t.Error("short depth image should leave the canvas blank")
	}
}

func TestSparkline(t *testing.T) {
	if got := Sparkline(nil, 3); got != "───" {
		t.Errorf("empty sparkline = %q", got)
	}
	got := []rune(Sparkline([]float64{0, 1, 2, 3}, 2))
	if len(got) != 2 || got[1] != '█' || got[0] != '▁' {
		t.Errorf("sparkline = %q", string(got))
	}
}

func TestDecodeFloat32(t *testing.T) {
	raw := []byte{0, 0, 0x80, 0x3f, 0, 0, 0, 0x40}
	got := DecodeFloat32(raw)
	if len(got) != 2 || got[0] != 1 || got[1] != 2 {
		t.Errorf("decoded %v", got)
	}
}
