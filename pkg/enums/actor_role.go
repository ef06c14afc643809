package enums

import "fmt"

// ActorRole identifies who triggers a marketplace operation.
type ActorRole string

const (
	ActorRoleUser   ActorRole = "user"
	ActorRoleAgency ActorRole = "agency"
	ActorRoleAdmin  ActorRole = "admin"
	ActorRoleSystem ActorRole = "system"
)

// IsValid reports whether the value is a known ActorRole.
func (r ActorRole) IsValid() bool {
	switch r {
	case ActorRoleUser, ActorRoleAgency, ActorRoleAdmin, ActorRoleSystem:
		return true
	}
	return false
}

// ParseActorRole converts raw input into an ActorRole.
func ParseActorRole(value string) (ActorRole, error) {
	r := ActorRole(value)
	if !r.IsValid() {
		return "", fmt.Errorf("invalid actor role %q", value)
	}
	return r, nil
}
