package enums

import "fmt"

// ResourceClaimStatus tracks an agency's claim over a named resource.
type ResourceClaimStatus string

const (
	ResourceClaimPending  ResourceClaimStatus = "pending"
	ResourceClaimApproved ResourceClaimStatus = "approved"
	ResourceClaimRejected ResourceClaimStatus = "rejected"
)

// IsValid reports whether the value is a known ResourceClaimStatus.
func (s ResourceClaimStatus) IsValid() bool {
	switch s {
	case ResourceClaimPending, ResourceClaimApproved, ResourceClaimRejected:
		return true
	}
	return false
}

// ParseResourceClaimStatus converts raw input into a ResourceClaimStatus.
func ParseResourceClaimStatus(value string) (ResourceClaimStatus, error) {
	s := ResourceClaimStatus(value)
	if !s.IsValid() {
		return "", fmt.Errorf("invalid resource claim status %q", value)
	}
	return s, nil
}
