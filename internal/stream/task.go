package stream

// reports whether the task has reached a terminal state
func (t *Task) terminal() bool {
	switch taskState(t.state.Load()) {
	case stateCompleted, stateStopped, stateFailed:
		return true
	default:
		return false
	}
}

// attempts the terminal transition to the given state. Returns true only
// for the first caller; losers must neither emit a terminal event nor run
// finalization.
func (t *Task) finish(to taskState) bool {
	for {
		current := t.state.Load()

		if taskState(current) != statePending && taskState(current) != stateRunning {
			return false
		}

		if t.state.CompareAndSwap(current, int32(to)) {
			return true
		}
	}
}

// returns the channel closed when the task body has fully unwound
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// reports the terminal state name for logging; empty while running
func (t *Task) terminalState() string {
	switch taskState(t.state.Load()) {
	case stateCompleted:
		return "completed"
	case stateStopped:
		return "stopped"
	case stateFailed:
		return "failed"
	default:
		return ""
	}
}
