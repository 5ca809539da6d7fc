package commission

import (
	"github.com/shopspring/decimal"

	pkgerrors "github.com/fleetlyhq/fleetly-backend/pkg/errors"
)

var (
	minRate = decimal.Zero
	maxRate = decimal.NewFromInt(1)

	half = decimal.NewFromFloat(0.5)
)

// Compute splits an order amount into the platform commission and the agent
// net payout. The commission is rounded half-up at the cent and the net is
// derived by subtraction so the two always sum back to the original amount.
func Compute(amountCents int64, rate decimal.Decimal) (commissionCents, netCents int64, err error) {
	if amountCents <= 0 {
		return 0, 0, pkgerrors.New(pkgerrors.CodeValidation, "amount must be positive")
	}
	if rate.LessThan(minRate) || rate.GreaterThan(maxRate) {
		return 0, 0, pkgerrors.New(pkgerrors.CodeValidation, "commission rate must be between 0 and 1")
	}

	raw := decimal.NewFromInt(amountCents).Mul(rate)
	commissionCents = roundHalfUp(raw)
	netCents = amountCents - commissionCents
	return commissionCents, netCents, nil
}

// roundHalfUp rounds to the nearest integer with .5 going up, unlike
// decimal.Round which rounds half away from zero only for positives on some
// versions. Inputs here are always non-negative.
func roundHalfUp(value decimal.Decimal) int64 {
	floor := value.Floor()
	if value.Sub(floor).GreaterThanOrEqual(half) {
		return floor.IntPart() + 1
	}
	return floor.IntPart()
}
