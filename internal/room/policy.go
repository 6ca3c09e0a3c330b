package room

import "github.com/ovmeet/control-plane/internal/persistence"

// deletionOutcome is the pure decision produced by evaluateDeletion,
// before any side effect (lock acquisition, media-server call, or
// persistence write) happens.
type deletionOutcome int

const (
	// outcomeRefuse means the request must be rejected outright.
	outcomeRefuse deletionOutcome = iota
	// outcomeDefer means the room is left alone now; meetingEndAction is
	// set so a later event finishes the job.
	outcomeDefer
	// outcomeDelete means the room (and optionally its recordings) can be
	// removed now, terminating the meeting first if required.
	outcomeDelete
)

type deletionPlan struct {
	outcome         deletionOutcome
	terminateFirst  bool
	purgeRecordings bool
}

// evaluateDeletion implements the withMeeting x withRecordings policy
// matrix. It is a pure function: all state (whether the room has an
// active meeting or existing recordings) is passed in, and no I/O
// happens here.
func evaluateDeletion(policy persistence.AutoDeletionPolicy, hasActiveMeeting, hasRecordings bool) deletionPlan {
	terminateFirst := false

	switch policy.WithMeeting {
	case persistence.PolicyDoNotDelete:
		if hasActiveMeeting {
			return deletionPlan{outcome: outcomeRefuse}
		}
	case persistence.PolicyWhenMeetingEnds:
		if hasActiveMeeting {
			return deletionPlan{outcome: outcomeDefer}
		}
	case persistence.PolicyForce:
		if hasActiveMeeting {
			terminateFirst = true
		}
	}

	purgeRecordings := false
	switch policy.WithRecordings {
	case persistence.PolicyDoNotDelete:
		if hasRecordings {
			return deletionPlan{outcome: outcomeRefuse}
		}
	case persistence.PolicyWhenNoRecordings:
		if hasRecordings {
			// "delete only after ... no recordings": not yet eligible.
			// A later recording-GC pass or retry makes this true.
			return deletionPlan{outcome: outcomeDefer}
		}
	case persistence.PolicyForce:
		purgeRecordings = true
	}

	return deletionPlan{outcome: outcomeDelete, terminateFirst: terminateFirst, purgeRecordings: purgeRecordings}
}
