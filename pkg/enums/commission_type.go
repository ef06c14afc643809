package enums

import "fmt"

// CommissionType selects how the platform's cut of a quote is computed.
type CommissionType string

const (
	CommissionTypePercentage CommissionType = "percentage"
	CommissionTypeFixed      CommissionType = "fixed"
)

// IsValid reports whether the value is a known CommissionType.
func (c CommissionType) IsValid() bool {
	return c == CommissionTypePercentage || c == CommissionTypeFixed
}

// ParseCommissionType converts raw input into a CommissionType.
func ParseCommissionType(value string) (CommissionType, error) {
	switch CommissionType(value) {
	case CommissionTypePercentage, CommissionTypeFixed:
		return CommissionType(value), nil
	}
	return "", fmt.Errorf("invalid commission type %q", value)
}

// CommissionSource records which configuration level produced the effective rate.
type CommissionSource string

const (
	CommissionSourceResource   CommissionSource = "resource"
	CommissionSourceAssignment CommissionSource = "assignment"
	CommissionSourceModule     CommissionSource = "module"
)
