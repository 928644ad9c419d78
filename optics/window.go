package optics

import (
	"gonum.org/v1/gonum/stat"
)

// Window accumulates the sample voltages reported during one measuring window.
// The zero value is ready to use. Not safe for concurrent use.
type Window struct {
	voltages []float64
}

// Add records one sample voltage.
func (w *Window) Add(v float64) {
	w.voltages = append(w.voltages, v)
}

// Reset drops all recorded voltages.
func (w *Window) Reset() {
	w.voltages = w.voltages[:0]
}

// Len returns the number of recorded voltages.
func (w *Window) Len() int {
	return len(w.voltages)
}

// Mean returns the arithmetic mean, or 0 for an empty window.
func (w *Window) Mean() float64 {
	if len(w.voltages) == 0 {
		return 0
	}
	return stat.Mean(w.voltages, nil)
}

// StdDev returns the sample standard deviation, or 0 with fewer than two
// voltages.
func (w *Window) StdDev() float64 {
	if len(w.voltages) < 2 {
		return 0
	}
	return stat.StdDev(w.voltages, nil)
}
