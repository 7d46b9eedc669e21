package models

import "fmt"

// InvalidTransitionError reports a session lifecycle violation. It carries
// enough structure for callers to tell "already finished" apart from a
// genuinely illegal transition.
type InvalidTransitionError struct {
	SessionID string
	Status    SessionStatus // status at the time of the attempt
	Attempted SessionStatus
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("session %s is %s, cannot transition to %s", e.SessionID, e.Status, e.Attempted)
}

// TargetBusyError is the concurrency guard's rejection: another session is
// already queued or running against an overlapping target.
type TargetBusyError struct {
	Conflicting *AgentSession
}

func (e *TargetBusyError) Error() string {
	return fmt.Sprintf("target busy: session %s is %s", e.Conflicting.ID, e.Conflicting.Status)
}
