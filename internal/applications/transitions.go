package applications

import "github.com/angelmondragon/visamarket-backend/pkg/enums"

var transitions = map[enums.ApplicationStatus][]enums.ApplicationStatus{
	enums.ApplicationStatusDraft: {
		enums.ApplicationStatusPending,
		enums.ApplicationStatusCancelled,
		enums.ApplicationStatusRejected,
	},
	enums.ApplicationStatusPending: {
		enums.ApplicationStatusAssigned,
		enums.ApplicationStatusPendingAssignment,
		enums.ApplicationStatusAccepted,
		enums.ApplicationStatusCompleted,
		enums.ApplicationStatusCancelled,
		enums.ApplicationStatusRejected,
	},
	enums.ApplicationStatusPendingAssignment: {
		enums.ApplicationStatusAssigned,
		enums.ApplicationStatusAccepted,
		enums.ApplicationStatusCancelled,
		enums.ApplicationStatusRejected,
	},
	enums.ApplicationStatusAssigned: {
		enums.ApplicationStatusQuoted,
		enums.ApplicationStatusCancelled,
		enums.ApplicationStatusRejected,
	},
	enums.ApplicationStatusQuoted: {
		enums.ApplicationStatusAccepted,
		enums.ApplicationStatusCancelled,
		enums.ApplicationStatusRejected,
	},
	enums.ApplicationStatusAccepted: {
		enums.ApplicationStatusInProgress,
		enums.ApplicationStatusCancelled,
		enums.ApplicationStatusRejected,
	},
	enums.ApplicationStatusInProgress: {
		enums.ApplicationStatusCompleted,
		enums.ApplicationStatusCancelled,
		enums.ApplicationStatusRejected,
	},
}

func canTransition(from, to enums.ApplicationStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// userCancellable lists the states a user may cancel from without an admin override.
func userCancellable(status enums.ApplicationStatus) bool {
	switch status {
	case enums.ApplicationStatusDraft,
		enums.ApplicationStatusPending,
		enums.ApplicationStatusPendingAssignment,
		enums.ApplicationStatusAssigned,
		enums.ApplicationStatusQuoted:
		return true
	}
	return false
}
