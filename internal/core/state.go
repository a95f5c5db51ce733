package core

// FuzzerState is the lifecycle state of an Engine.
type FuzzerState int32

const (
	StateNotStarted FuzzerState = iota
	StateRunning
	StatePaused
	StatePausedQuarantine
	StateStopping
	StateStopped
	StateFinished
	StateError
)

var stateNames = map[FuzzerState]string{
	StateNotStarted:       "NOT_STARTED",
	StateRunning:          "RUNNING",
	StatePaused:           "PAUSED",
	StatePausedQuarantine: "PAUSED_QUARANTINE",
	StateStopping:         "STOPPING",
	StateStopped:          "STOPPED",
	StateFinished:         "FINISHED",
	StateError:            "ERROR",
}

func (s FuzzerState) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "UNKNOWN"
}

// transitions lists, for each state, the states it may move to.
// Every state change of the engine is validated against this table.
var transitions = map[FuzzerState][]FuzzerState{
	StateNotStarted:       {StateRunning, StateStopped},
	StateRunning:          {StatePaused, StatePausedQuarantine, StateStopping, StateFinished, StateError},
	StatePaused:           {StateRunning, StateStopping, StatePausedQuarantine},
	StatePausedQuarantine: {StateRunning, StatePaused, StateStopping},
	StateStopping:         {StateStopped, StateError},
	StateStopped:          {StateRunning, StateNotStarted},
	StateFinished:         {StateRunning, StateNotStarted},
	StateError:            {StateRunning, StateStopped, StateNotStarted},
}

// CanTransition reports whether the table allows from -> to.
func CanTransition(from, to FuzzerState) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// IsShuttingDown is true while the engine is stopping or already stopped.
// ERROR is not included: a failed run can be started again.
func (s FuzzerState) IsShuttingDown() bool {
	return s == StateStopping || s == StateStopped
}

// IsCircuitOpen is true when new submissions must not be dispatched.
func (s FuzzerState) IsCircuitOpen() bool {
	return s == StatePausedQuarantine || s.IsShuttingDown() || s == StateError
}

// IsPausedForQuarantine is true only for the automatic quarantine pause.
func (s FuzzerState) IsPausedForQuarantine() bool {
	return s == StatePausedQuarantine
}

// IsTerminal is true for the states a run ends in.
func (s FuzzerState) IsTerminal() bool {
	return s == StateFinished || s == StateStopped || s == StateError
}
