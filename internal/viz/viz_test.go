package viz

import (
	"context"
	"errors"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/san-kum/dynopt/internal/dynamo"
)

func TestCanvasSet(t *testing.T) {
	c := NewCanvas(2, 1)
	c.Set(0, 0)
	c.Set(3, 3)
	c.Set(-1, 0)
	c.Set(10, 10)
	if c.Grid[0][0] != 0x2801 {
		t.Errorf("expected dot 1, got %U", c.Grid[0][0])
	}
	if c.Grid[0][1] != 0x2880 {
		t.Errorf("expected dot 8, got %U", c.Grid[0][1])
	}
	c.Clear()
	if c.Grid[0][0] != 0x2800 {
		t.Error("clear left pixels behind")
	}
}

func TestPhase(t *testing.T) {
	states := []dynamo.State{{0, 0}, {1, 1}, {2, 0}}
	c := Phase(states, 0, 1, 10, 5)
	if c.Width != 10 || c.Height != 5 {
		t.Fatalf("unexpected size %dx%d", c.Width, c.Height)
	}
	blank := 0
	for _, row := range c.Grid {
		for _, r := range row {
			if r == 0x2800 {
				blank++
			}
		}
	}
	if blank == 50 {
		t.Error("nothing drawn")
	}
	if c.Grid[4][0] == 0x2800 || c.Grid[0][5] == 0x2800 {
		t.Error("extremes should land on the corner and the top edge")
	}
	if len(strings.Split(strings.TrimRight(c.String(), "\n"), "\n")) != 5 {
		t.Error("expected 5 rows")
	}
}

func TestSeries(t *testing.T) {
	if Series("x", []float64{1}, 20, 4) != "" {
		t.Error("single sample should not plot")
	}
	g := Series("x0", []float64{0, 1, 0, 1}, 20, 4)
	if !strings.Contains(g, "x0") {
		t.Errorf("caption missing from %q", g)
	}
	out := Trajectory([]dynamo.State{{0, 1}, {1, 0}}, []dynamo.Control{{3}, {4}}, 20, 3)
	for _, want := range []string{"x0", "x1", "u0"} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %s plot", want)
		}
	}
}

func TestTableAndKeyValue(t *testing.T) {
	out := Table([]string{"stage", "u"}, [][]string{{"0", "1.5"}, {"1", "-2"}})
	for _, want := range []string{"stage", "1.5", "-2"} {
		if !strings.Contains(out, want) {
			t.Errorf("table missing %q", want)
		}
	}
	if !strings.Contains(KeyValue("cost", 1.25), "1.25") {
		t.Error("value missing")
	}
}

func TestSparkline(t *testing.T) {
	if got := Sparkline(nil, 5); got != "─────" {
		t.Errorf("empty sparkline %q", got)
	}
	s := Sparkline([]float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}, 4)
	if !strings.Contains(s, "█") || strings.Contains(s, "▁") {
		t.Errorf("expected the last 4 samples only, got %q", s)
	}
}

func TestWatchModel(t *testing.T) {
	calls := 0
	step := func(ctx context.Context) (Progress, error) {
		calls++
		d := 1.0 / float64(calls*calls)
		return Progress{Iteration: calls, Cost: float64(10 - calls), Defect: d, Done: d < 0.05}, nil
	}
	m := NewWatch(context.Background(), "dms", 10, 0, step)
	if m.Init() == nil {
		t.Fatal("expected a tick command")
	}

	var model tea.Model = m
	for i := 0; i < 8; i++ {
		model, _ = model.Update(tickMsg{})
	}
	w := model.(WatchModel)
	if len(w.History()) != 5 {
		t.Errorf("expected to stop after convergence at 5 iterations, got %d", len(w.History()))
	}
	if !strings.Contains(w.View(), "CONVERGED") {
		t.Error("view should report convergence")
	}

	model, _ = model.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'t'}})
	if model.(WatchModel).theme.Name == ThemeCyberpunk.Name {
		t.Error("theme did not cycle")
	}
	if _, cmd := model.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'q'}}); cmd == nil {
		t.Error("q should quit")
	}
}

func TestWatchModelPauseAndError(t *testing.T) {
	boom := errors.New("boom")
	m := NewWatch(context.Background(), "dms", 3, 0, func(ctx context.Context) (Progress, error) {
		return Progress{}, boom
	})

	var model tea.Model = m
	model, _ = model.Update(tea.KeyMsg{Type: tea.KeySpace})
	model, _ = model.Update(tickMsg{})
	if len(model.(WatchModel).History()) != 0 || model.(WatchModel).Err() != nil {
		t.Error("paused model should not step")
	}

	model, _ = model.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'n'}})
	w := model.(WatchModel)
	if !errors.Is(w.Err(), boom) || !strings.Contains(w.View(), "FAILED") {
		t.Errorf("expected failure, got %v", w.Err())
	}
}

func TestGetTheme(t *testing.T) {
	if GetTheme("retro").Name != "retro" {
		t.Error("retro theme not found")
	}
	if GetTheme("nope").Name != ThemeCyberpunk.Name {
		t.Error("unknown themes should fall back")
	}
	if len(ThemeNames()) != len(Themes) {
		t.Error("theme names out of sync")
	}
}
