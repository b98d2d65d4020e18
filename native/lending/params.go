package lending

import (
	"fmt"

	"github.com/holiman/uint256"
)

const (
	SecondsPerYear = 31_536_000
	SecondsPerDay  = 86_400

	// MinimumLiquidity shares are locked to the zero address on first mint.
	MinimumLiquidity = 1000

	// KinkMultiplier is the borrow rate at full utilization expressed as a
	// multiple of the kink borrow rate.
	KinkMultiplier = 5
)

var (
	// BorrowFee is charged on top of every borrowed amount (0.1%).
	BorrowFee = MustParseMantissa("0.001")

	KinkBorrowRateMin = perSecond("0.01", SecondsPerYear)
	KinkBorrowRateMax = perSecond("1", SecondsPerYear)

	ReserveFactorMax       = MustParseMantissa("0.2")
	KinkUtilizationRateMin = MustParseMantissa("0.6")
	KinkUtilizationRateMax = MustParseMantissa("0.9")
	AdjustSpeedMin         = perSecond("0.005", SecondsPerDay)
	AdjustSpeedMax         = perSecond("0.5", SecondsPerDay)

	SafetyMarginSqrtMin     = mustSqrtMantissa("1.5")
	SafetyMarginSqrtMax     = mustSqrtMantissa("2.5")
	LiquidationIncentiveMin = MustParseMantissa("1.01")
	LiquidationIncentiveMax = MustParseMantissa("1.05")

	InitialExchangeRate = one()
)

// RiskParameters holds the admin-settable configuration of a lending pool.
// Borrowable pools use the rate fields, collateral pools the valuation fields.
type RiskParameters struct {
	ReserveFactor        *uint256.Int
	KinkUtilizationRate  *uint256.Int
	AdjustSpeed          *uint256.Int
	KinkBorrowRate       *uint256.Int
	SafetyMarginSqrt     *uint256.Int
	LiquidationIncentive *uint256.Int
}

// DefaultRiskParameters returns the values applied to freshly created pools.
func DefaultRiskParameters() RiskParameters {
	return RiskParameters{
		ReserveFactor:        MustParseMantissa("0.1"),
		KinkUtilizationRate:  MustParseMantissa("0.7"),
		AdjustSpeed:          perSecond("0.05", SecondsPerDay),
		KinkBorrowRate:       perSecond("0.1", SecondsPerYear),
		SafetyMarginSqrt:     mustSqrtMantissa("2.5"),
		LiquidationIncentive: MustParseMantissa("1.04"),
	}
}

// Validate checks every parameter against its admin-settable bounds.
func (p RiskParameters) Validate() error {
	bounds := []struct {
		name          string
		value, lo, hi *uint256.Int
	}{
		{"reserve factor", p.ReserveFactor, zero(), ReserveFactorMax},
		{"kink utilization rate", p.KinkUtilizationRate, KinkUtilizationRateMin, KinkUtilizationRateMax},
		{"adjust speed", p.AdjustSpeed, AdjustSpeedMin, AdjustSpeedMax},
		{"kink borrow rate", p.KinkBorrowRate, KinkBorrowRateMin, KinkBorrowRateMax},
		{"safety margin sqrt", p.SafetyMarginSqrt, SafetyMarginSqrtMin, SafetyMarginSqrtMax},
		{"liquidation incentive", p.LiquidationIncentive, LiquidationIncentiveMin, LiquidationIncentiveMax},
	}
	for _, b := range bounds {
		if err := checkRange(b.value, b.lo, b.hi); err != nil {
			return fmt.Errorf("%s: %w", b.name, err)
		}
	}
	return nil
}

// PerSecond converts a rate quoted over period seconds into a per-second
// mantissa, e.g. PerSecond("0.05", SecondsPerDay).
func PerSecond(rate string, period uint64) (*uint256.Int, error) {
	value, err := ParseMantissa(rate)
	if err != nil {
		return nil, err
	}
	return div(value, u64(period))
}

func perSecond(rate string, period uint64) *uint256.Int {
	out, err := PerSecond(rate, period)
	if err != nil {
		panic(err)
	}
	return out
}

// SqrtMantissa returns the mantissa square root of a decimal value such as
// "2.5". It is used for safety margin configuration.
func SqrtMantissa(value string) (*uint256.Int, error) {
	parsed, err := ParseMantissa(value)
	if err != nil {
		return nil, err
	}
	return sqrtMantissa(parsed)
}

func mustSqrtMantissa(value string) *uint256.Int {
	out, err := SqrtMantissa(value)
	if err != nil {
		panic(err)
	}
	return out
}

func checkRange(value, min, max *uint256.Int) error {
	if value == nil || value.Lt(min) || value.Gt(max) {
		return ErrInvalidSetting
	}
	return nil
}
