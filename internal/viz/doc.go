// Package viz renders a live terminal view of a stepping manager using
// Bubble Tea.
//
// The view shows tick and throughput counters, a step latency graph, and a
// Braille rendering of one world's depth observation when the runtime can
// read device memory back.
//
// # Key Bindings
//
//	Space - Pause/Resume stepping
//	Tab   - Next world
//	T     - Cycle color themes
//	Q     - Quit
package viz
