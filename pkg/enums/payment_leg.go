package enums

import "fmt"

// PaymentLeg names which charge of an order a payment record covers. An order
// has at most one non-failed payment per leg.
type PaymentLeg string

const (
	// PaymentLegUpfront is the charge taken before fulfillment starts
	// (store items for errand orders).
	PaymentLegUpfront PaymentLeg = "upfront"
	// PaymentLegInvoice is the settlement charge taken at completion.
	PaymentLegInvoice PaymentLeg = "invoice"
)

var validPaymentLegs = []PaymentLeg{
	PaymentLegUpfront,
	PaymentLegInvoice,
}

// String implements fmt.Stringer.
func (l PaymentLeg) String() string {
	return string(l)
}

// IsValid reports whether the value is a known PaymentLeg.
func (l PaymentLeg) IsValid() bool {
	for _, candidate := range validPaymentLegs {
		if candidate == l {
			return true
		}
	}
	return false
}

// ParsePaymentLeg converts raw input into a PaymentLeg.
func ParsePaymentLeg(value string) (PaymentLeg, error) {
	for _, candidate := range validPaymentLegs {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid payment leg %q", value)
}
