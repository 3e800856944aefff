package pipeline

import (
	"time"

	"github.com/Attendry/attendry-sub001/engine/domain"
)

// expandPhase tracks the window expansion state machine. One expansion at
// most per invocation; latency and cost stay bounded.
type expandPhase int

const (
	phaseInitial expandPhase = iota
	phaseExpanded
	phaseDone
)

func (p expandPhase) String() string {
	switch p {
	case phaseInitial:
		return "initial-window"
	case phaseExpanded:
		return "expanded-window"
	default:
		return "done"
	}
}

type expander struct {
	phase   expandPhase
	step    time.Duration
	maxSpan time.Duration
	minHits int
}

func newExpander(stepDays, maxSpanDays, minHits int) *expander {
	return &expander{
		step:    time.Duration(stepDays) * 24 * time.Hour,
		maxSpan: time.Duration(maxSpanDays) * 24 * time.Hour,
		minHits: minHits,
	}
}

// shouldExpand reports whether a second pass is warranted: too few accepted
// events, no expansion done yet, and room left before the span cap.
func (e *expander) shouldExpand(accepted int, w domain.Window) bool {
	if e.phase != phaseInitial {
		return false
	}
	if accepted >= e.minHits {
		e.phase = phaseDone
		return false
	}
	if w.Span() >= e.maxSpan {
		e.phase = phaseDone
		return false
	}
	return true
}

// expand transitions to the expanded-window phase and returns the widened
// window. The original window value is untouched.
func (e *expander) expand(w domain.Window) domain.Window {
	e.phase = phaseExpanded
	return w.Extend(e.step, e.maxSpan)
}

func (e *expander) finish() { e.phase = phaseDone }
