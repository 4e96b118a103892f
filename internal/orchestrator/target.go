package orchestrator

// targetState tracks the health of one scan target within a cycle.
type targetState int

const (
	stateActive targetState = iota
	stateDegraded
	stateAborted
)

func (s targetState) String() string {
	switch s {
	case stateDegraded:
		return "degraded"
	case stateAborted:
		return "aborted"
	default:
		return "active"
	}
}

// failureTracker implements the per-target failure policy: consecutive page
// failures degrade the target and abort it at the threshold; any success
// resets the streak.
type failureTracker struct {
	threshold   int
	consecutive int
	state       targetState
}

func newFailureTracker(threshold int) *failureTracker {
	if threshold < 1 {
		threshold = 1
	}
	return &failureTracker{threshold: threshold}
}

func (t *failureTracker) success() {
	if t.state == stateAborted {
		return
	}
	t.consecutive = 0
	t.state = stateActive
}

func (t *failureTracker) failure() {
	if t.state == stateAborted {
		return
	}
	t.consecutive++
	if t.consecutive >= t.threshold {
		t.state = stateAborted
	} else {
		t.state = stateDegraded
	}
}

func (t *failureTracker) aborted() bool { return t.state == stateAborted }
