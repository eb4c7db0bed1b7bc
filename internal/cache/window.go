// Package cache keeps a rolling window of chart points across fetch cycles
// and persists it locally so a restart does not lose recent trend context.
// Everything here is best-effort: a broken or stale cache degrades to an empty
// window, never to a failed hub.
package cache

import "github.com/tranqh/urbanair-hub/internal/domain"

// DefaultWindowCap bounds the rolling chart window when no cap is configured.
const DefaultWindowCap = 20

// Window is a capped sequence of chart points, oldest first. Not safe for
// concurrent use; the hub loop owns it.
type Window struct {
	cap    int
	points []domain.ChartPoint
}

// NewWindow creates an empty window. A non-positive cap falls back to
// DefaultWindowCap.
func NewWindow(windowCap int) *Window {
	if windowCap <= 0 {
		windowCap = DefaultWindowCap
	}
	return &Window{cap: windowCap}
}

// NewWindowFrom creates a window pre-filled with restored points, keeping only
// the most recent cap entries.
func NewWindowFrom(windowCap int, points []domain.ChartPoint) *Window {
	w := NewWindow(windowCap)
	if len(points) > w.cap {
		points = points[len(points)-w.cap:]
	}
	w.points = append(w.points, points...)
	return w
}

// Append adds a point, dropping the oldest when the window is full.
func (w *Window) Append(p domain.ChartPoint) {
	w.points = append(w.points, p)
	if len(w.points) > w.cap {
		w.points = w.points[len(w.points)-w.cap:]
	}
}

// Points returns a copy of the window, oldest first.
func (w *Window) Points() []domain.ChartPoint {
	out := make([]domain.ChartPoint, len(w.points))
	copy(out, w.points)
	return out
}

// Len reports the number of points currently held.
func (w *Window) Len() int {
	return len(w.points)
}
