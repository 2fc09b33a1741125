package pipeline

import "fmt"

// State is the stage a Session is in
type State int

const (
	Idle State = iota
	Loading
	Reshaping
	Computing
	Ready
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Loading:
		return "loading"
	case Reshaping:
		return "reshaping"
	case Computing:
		return "computing"
	case Ready:
		return "ready"
	case Failed:
		return "failed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// transitions lists the forward edges; Failed is reachable from every state
var transitions = map[State][]State{
	Idle:      {Loading},
	Loading:   {Reshaping},
	Reshaping: {Computing},
	Computing: {Ready},
	Ready:     {Loading},
	Failed:    {Loading},
}

// CanTransition reports whether the pipeline may move from one state to another
func CanTransition(from, to State) bool {
	if to == Failed {
		return true
	}
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
