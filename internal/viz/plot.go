package viz

import (
	"fmt"
	"strings"

	"github.com/guptarohit/asciigraph"

	"github.com/san-kum/dynopt/internal/dynamo"
)

// Series plots one signal. Fewer than two samples yield an empty string.
func Series(caption string, values []float64, width, height int) string {
	if len(values) < 2 {
		return ""
	}
	return asciigraph.Plot(values,
		asciigraph.Height(height),
		asciigraph.Width(width),
		asciigraph.Caption(caption),
	)
}

func column(rows [][]float64, i int) []float64 {
	out := make([]float64, 0, len(rows))
	for _, r := range rows {
		if i < len(r) {
			out = append(out, r[i])
		}
	}
	return out
}

// Trajectory plots every state and control component of a run.
func Trajectory(states []dynamo.State, controls []dynamo.Control, width, height int) string {
	var b strings.Builder
	if len(states) > 0 {
		xs := make([][]float64, len(states))
		for k, s := range states {
			xs[k] = s
		}
		for i := range states[0] {
			if g := Series(fmt.Sprintf("x%d", i), column(xs, i), width, height); g != "" {
				b.WriteString(g + "\n\n")
			}
		}
	}
	if len(controls) > 0 {
		us := make([][]float64, len(controls))
		for k, u := range controls {
			us[k] = u
		}
		for i := range controls[0] {
			if g := Series(fmt.Sprintf("u%d", i), column(us, i), width, height); g != "" {
				b.WriteString(g + "\n\n")
			}
		}
	}
	return b.String()
}
