package enums

import "fmt"

// PlanType classifies who a subscription plan is sold to.
type PlanType string

const (
	PlanTypeIndividual PlanType = "individual"
	PlanTypeClinic     PlanType = "clinic"
	PlanTypeBundle     PlanType = "bundle"
	PlanTypeEmpresa    PlanType = "empresa"
)

var validPlanTypes = []PlanType{
	PlanTypeIndividual,
	PlanTypeClinic,
	PlanTypeBundle,
	PlanTypeEmpresa,
}

// String implements fmt.Stringer.
func (p PlanType) String() string {
	return string(p)
}

// IsValid reports whether the value is known.
func (p PlanType) IsValid() bool {
	for _, candidate := range validPlanTypes {
		if candidate == p {
			return true
		}
	}
	return false
}

// ParsePlanType converts raw input into a PlanType.
func ParsePlanType(value string) (PlanType, error) {
	for _, candidate := range validPlanTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid plan type %q", value)
}
