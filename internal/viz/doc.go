// Package viz renders optimizer output in the terminal.
//
//   - [Series] and [Trajectory]: asciigraph line plots
//   - [Phase]: Braille phase portrait on a [Canvas]
//   - [Table], [KeyValue]: lipgloss summaries
//   - [WatchModel]: bubbletea view that steps an iterative solve
//
// # Key Bindings
//
//	Space - Pause/Resume iterations
//	N     - Single step
//	T     - Cycle color themes
//	Q     - Quit
package viz
