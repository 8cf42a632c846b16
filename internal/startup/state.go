package startup

import "sync"

// Phase enumerates the load guard states.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseLoading
	PhaseLoaded
)

func (p Phase) String() string {
	switch p {
	case PhaseLoading:
		return "loading"
	case PhaseLoaded:
		return "loaded"
	default:
		return "idle"
	}
}

// State is the current guard phase and the target it refers to. The empty
// DiagramID is the "no explicit target" evaluation.
type State struct {
	Phase     Phase
	DiagramID string
}

// loadGuard suppresses duplicate evaluations of the same target. Different
// targets are not serialized against each other.
type loadGuard struct {
	mu    sync.Mutex
	state State
}

func (g *loadGuard) begin(diagramID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.state.Phase != PhaseIdle && g.state.DiagramID == diagramID {
		return false
	}
	g.state = State{Phase: PhaseLoading, DiagramID: diagramID}
	return true
}

// finish moves Loading(id) to Loaded(id). A guard that has since moved on to
// another target is left untouched.
func (g *loadGuard) finish(diagramID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.state.Phase == PhaseLoading && g.state.DiagramID == diagramID {
		g.state.Phase = PhaseLoaded
	}
}

func (g *loadGuard) abort(diagramID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.state.Phase == PhaseLoading && g.state.DiagramID == diagramID {
		g.state = State{}
	}
}

func (g *loadGuard) reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.state = State{}
}

func (g *loadGuard) current() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}
