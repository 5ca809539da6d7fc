package enums

import "fmt"

// OrderKind distinguishes the two order flows the platform supports.
type OrderKind string

const (
	// OrderKindDelivery is a point-to-point courier order.
	OrderKindDelivery OrderKind = "delivery"
	// OrderKindErrand is a multi-stage store-purchase order.
	OrderKindErrand OrderKind = "errand"
)

var validOrderKinds = []OrderKind{
	OrderKindDelivery,
	OrderKindErrand,
}

// String implements fmt.Stringer.
func (k OrderKind) String() string {
	return string(k)
}

// IsValid reports whether the value is a known OrderKind.
func (k OrderKind) IsValid() bool {
	for _, candidate := range validOrderKinds {
		if candidate == k {
			return true
		}
	}
	return false
}

// ParseOrderKind converts raw input into an OrderKind.
func ParseOrderKind(value string) (OrderKind, error) {
	for _, candidate := range validOrderKinds {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid order kind %q", value)
}
