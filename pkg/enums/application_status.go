package enums

import "fmt"

// ApplicationStatus tracks a service application through assignment, bidding and fulfilment.
type ApplicationStatus string

const (
	ApplicationStatusDraft             ApplicationStatus = "draft"
	ApplicationStatusPending           ApplicationStatus = "pending"
	ApplicationStatusPendingAssignment ApplicationStatus = "pending_assignment"
	ApplicationStatusAssigned          ApplicationStatus = "assigned"
	ApplicationStatusQuoted            ApplicationStatus = "quoted"
	ApplicationStatusAccepted          ApplicationStatus = "accepted"
	ApplicationStatusInProgress        ApplicationStatus = "in_progress"
	ApplicationStatusCompleted         ApplicationStatus = "completed"
	ApplicationStatusCancelled         ApplicationStatus = "cancelled"
	ApplicationStatusRejected          ApplicationStatus = "rejected"
)

var validApplicationStatuses = []ApplicationStatus{
	ApplicationStatusDraft,
	ApplicationStatusPending,
	ApplicationStatusPendingAssignment,
	ApplicationStatusAssigned,
	ApplicationStatusQuoted,
	ApplicationStatusAccepted,
	ApplicationStatusInProgress,
	ApplicationStatusCompleted,
	ApplicationStatusCancelled,
	ApplicationStatusRejected,
}

// String implements fmt.Stringer.
func (s ApplicationStatus) String() string {
	return string(s)
}

// IsValid reports whether the value is a known ApplicationStatus.
func (s ApplicationStatus) IsValid() bool {
	for _, candidate := range validApplicationStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transition is possible.
func (s ApplicationStatus) IsTerminal() bool {
	switch s {
	case ApplicationStatusCompleted, ApplicationStatusCancelled, ApplicationStatusRejected:
		return true
	}
	return false
}

// ParseApplicationStatus converts raw input into an ApplicationStatus.
func ParseApplicationStatus(value string) (ApplicationStatus, error) {
	for _, candidate := range validApplicationStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid application status %q", value)
}
