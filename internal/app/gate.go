package app

import "sync"

// FrameGate admits a frame for detection only when the video has advanced
// past the last admitted timestamp.
type FrameGate struct {
	mu   sync.Mutex
	last float64
}

// NewFrameGate returns a gate that admits any first frame.
func NewFrameGate() *FrameGate {
	return &FrameGate{last: -1}
}

// Advance records ts and reports whether it differs from the previous
// admitted timestamp.
func (g *FrameGate) Advance(ts float64) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if ts == g.last {
		return false
	}
	g.last = ts
	return true
}

// Last returns the last admitted timestamp, or -1.
func (g *FrameGate) Last() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.last
}
