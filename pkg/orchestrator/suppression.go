package orchestrator

import (
	"sync"
	"time"
)

// SuppressionWindow is the interval during and shortly after Processing or
// Speaking in which transcriptions are discarded to prevent the system from
// hearing itself. Grounded on the mutex-guarded rolling-state shape of the
// teacher's EchoSuppressor, re-targeted from correlation detection to the
// start/end/tail-grace rule of spec.md §4.5.
type SuppressionWindow struct {
	Start  time.Time
	End    time.Time
	Active bool
}

// SuppressionGate admits or drops TranscriptionItems based on whether their
// capture time falls inside the current suppression window plus a trailing
// tail grace that covers playback bleed-through.
type SuppressionGate struct {
	mu        sync.Mutex
	tailGrace time.Duration
	window    SuppressionWindow
}

// NewSuppressionGate builds a gate with the given tail grace. A zero or
// negative tailGrace disables the trailing grace period entirely.
func NewSuppressionGate(tailGrace time.Duration) *SuppressionGate {
	if tailGrace < 0 {
		tailGrace = 0
	}
	return &SuppressionGate{tailGrace: tailGrace}
}

// Open opens the suppression window at 'at', called on FSM transition into
// Processing or Speaking.
func (g *SuppressionGate) Open(at time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.window = SuppressionWindow{Start: at, Active: true}
}

// Close closes the suppression window at 'at', called on FSM transition out
// of Processing or Speaking. The window remains consultable during the tail
// grace period that follows.
func (g *SuppressionGate) Close(at time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.window.End = at
	g.window.Active = false
}

// Admit reports whether a TranscriptionItem captured at ts should be passed
// through to the FSM. It implements spec.md §4.5's admission rule: while
// active, drop anything at or after the window's start; once closed, drop
// anything within [start, end+tailGrace].
func (g *SuppressionGate) Admit(ts time.Time) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.window.Active {
		return ts.Before(g.window.Start)
	}
	if !g.window.End.IsZero() {
		graceEnd := g.window.End.Add(g.tailGrace)
		if !ts.Before(g.window.Start) && !ts.After(graceEnd) {
			return false
		}
	}
	return true
}

// Window returns a copy of the current suppression window, for diagnostics
// and tests.
func (g *SuppressionGate) Window() SuppressionWindow {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.window
}

// WireSuppressionGate subscribes gate to fsm's state_changed event so the
// window opens on entry to Processing/Speaking and closes on exit,
// independent of whoever else is listening for transitions.
func WireSuppressionGate(fsm *ConversationFSM, gate *SuppressionGate) {
	fsm.OnStateChanged(func(from, to Mode, reason string, at time.Time) {
		enteringGated := to == ModeProcessing || to == ModeSpeaking
		leavingGated := from == ModeProcessing || from == ModeSpeaking
		switch {
		case enteringGated && !leavingGated:
			gate.Open(at)
		case leavingGated && !enteringGated:
			gate.Close(at)
		}
	})
}
