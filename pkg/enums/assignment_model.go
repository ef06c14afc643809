package enums

import "fmt"

// AssignmentModel decides which agencies may act on a service module's applications.
type AssignmentModel string

const (
	AssignmentCompetitive       AssignmentModel = "competitive"
	AssignmentExclusiveResource AssignmentModel = "exclusive_resource"
	AssignmentGlobalSingle      AssignmentModel = "global_single"
	AssignmentMultiCountry      AssignmentModel = "multi_country"
	AssignmentHybrid            AssignmentModel = "hybrid"
	AssignmentPeerToPeer        AssignmentModel = "peer_to_peer"
)

var validAssignmentModels = []AssignmentModel{
	AssignmentCompetitive,
	AssignmentExclusiveResource,
	AssignmentGlobalSingle,
	AssignmentMultiCountry,
	AssignmentHybrid,
	AssignmentPeerToPeer,
}

// String implements fmt.Stringer.
func (m AssignmentModel) String() string {
	return string(m)
}

// IsValid reports whether the value is a known AssignmentModel.
func (m AssignmentModel) IsValid() bool {
	for _, candidate := range validAssignmentModels {
		if candidate == m {
			return true
		}
	}
	return false
}

// RequiresAgency reports whether applications under this model are fulfilled by an agency.
func (m AssignmentModel) RequiresAgency() bool {
	return m != AssignmentPeerToPeer
}

// AllowsBidding reports whether the model can open a competitive quote round.
func (m AssignmentModel) AllowsBidding() bool {
	switch m {
	case AssignmentCompetitive, AssignmentMultiCountry, AssignmentHybrid:
		return true
	}
	return false
}

// ParseAssignmentModel converts raw input into an AssignmentModel.
func ParseAssignmentModel(value string) (AssignmentModel, error) {
	for _, candidate := range validAssignmentModels {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid assignment model %q", value)
}
