package enums

import "fmt"

// SubscriberType discriminates who holds a subscription.
type SubscriberType string

const (
	SubscriberTypeUser   SubscriberType = "user"
	SubscriberTypeClinic SubscriberType = "clinic"
)

var validSubscriberTypes = []SubscriberType{
	SubscriberTypeUser,
	SubscriberTypeClinic,
}

// String implements fmt.Stringer.
func (s SubscriberType) String() string {
	return string(s)
}

// IsValid reports whether the value is known.
func (s SubscriberType) IsValid() bool {
	for _, candidate := range validSubscriberTypes {
		if candidate == s {
			return true
		}
	}
	return false
}

// ParseSubscriberType converts raw input into a SubscriberType.
func ParseSubscriberType(value string) (SubscriberType, error) {
	for _, candidate := range validSubscriberTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid subscriber type %q", value)
}
