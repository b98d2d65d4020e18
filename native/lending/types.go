package lending

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// VaultState is the persisted accounting shared by every pool.
type VaultState struct {
	Underlying       common.Address
	Factory          common.Address
	TotalBalance     *uint256.Int
	ExchangeRateLast *uint256.Int
}

func (s *VaultState) normalize() {
	if s.TotalBalance == nil {
		s.TotalBalance = zero()
	}
	if s.ExchangeRateLast == nil {
		s.ExchangeRateLast = one()
	}
}

// BorrowableState carries the rate model and risk configuration of a
// borrowable pool.
type BorrowableState struct {
	Collateral          common.Address
	TotalBorrows        *uint256.Int
	BorrowIndex         *uint256.Int
	BorrowRate          *uint256.Int
	KinkBorrowRate      *uint256.Int
	ReserveFactor       *uint256.Int
	KinkUtilizationRate *uint256.Int
	AdjustSpeed         *uint256.Int
	AccrualTimestamp    uint64
	RateUpdateTimestamp uint64
	BorrowTracker       common.Address `rlp:"optional"`
}

func (s *BorrowableState) normalize() {
	for _, field := range []**uint256.Int{
		&s.TotalBorrows, &s.BorrowRate, &s.KinkBorrowRate,
		&s.ReserveFactor, &s.KinkUtilizationRate, &s.AdjustSpeed,
	} {
		if *field == nil {
			*field = zero()
		}
	}
	if s.BorrowIndex == nil || s.BorrowIndex.IsZero() {
		s.BorrowIndex = one()
	}
}

// CollateralState carries the valuation configuration of a collateral pool.
type CollateralState struct {
	Pair                 common.Address
	Borrowable0          common.Address
	Borrowable1          common.Address
	SafetyMarginSqrt     *uint256.Int
	LiquidationIncentive *uint256.Int
}

// BorrowSnapshot is a borrower's debt at the index of its last update.
type BorrowSnapshot struct {
	Principal     *uint256.Int
	InterestIndex *uint256.Int
}

// Allowance is a borrow allowance: either a finite amount or unlimited.
// Unlimited allowances are never decremented.
type Allowance struct {
	Unlimited bool
	Amount    *uint256.Int
}

// Limited returns a finite allowance of amount.
func Limited(amount *uint256.Int) Allowance {
	return Allowance{Amount: clone(amount)}
}

// Unlimited returns an allowance that is never consumed.
func Unlimited() Allowance {
	return Allowance{Unlimited: true}
}

func (a Allowance) validate() error {
	if a.Unlimited {
		return nil
	}
	if a.Amount != nil && a.Amount.Eq(maxUint256) {
		return ErrInvalidAllowance
	}
	return nil
}

// Value is the allowance as an integer; unlimited maps to 2^256-1.
func (a Allowance) Value() *uint256.Int {
	if a.Unlimited {
		return clone(maxUint256)
	}
	return clone(a.Amount)
}

func (a Allowance) String() string {
	if a.Unlimited {
		return "unlimited"
	}
	return clone(a.Amount).Dec()
}

// Bank is the underlying token ledger the pools hold balances in.
type Bank interface {
	BalanceOf(token, holder common.Address) (*uint256.Int, error)
	Transfer(token, from, to common.Address, amount *uint256.Int) error
}

// PairReader exposes the reserves and LP supply of an AMM pair.
type PairReader interface {
	Tokens(pair common.Address) (token0, token1 common.Address, err error)
	Reserves(pair common.Address) (reserve0, reserve1 *uint256.Int, err error)
	TotalSupply(pair common.Address) (*uint256.Int, error)
}

// PriceOracle supplies a manipulation-resistant reference price for a pair as
// a mantissa of token1 per token0.
type PriceOracle interface {
	Initialize(pair common.Address) error
	IsInitialized(pair common.Address) bool
	ReferencePrice(pair common.Address) (*uint256.Int, error)
}

// BorrowCallee is invoked during a borrow when callback data is supplied.
type BorrowCallee interface {
	OnBorrow(sender, borrower common.Address, borrowAmount *uint256.Int, data []byte) error
}

// RedeemCallee is invoked during a flash redeem when callback data is supplied.
type RedeemCallee interface {
	OnRedeem(sender common.Address, redeemAmount *uint256.Int, data []byte) error
}

// LiquidateCallee is invoked after collateral has been seized so the
// liquidator can source the repayment.
type LiquidateCallee interface {
	OnLiquidate(sender, borrower common.Address, repayAmount, seizeTokens *uint256.Int, data []byte) error
}

// BorrowTracker observes debt changes for auxiliary accounting.
type BorrowTracker interface {
	TrackBorrow(borrower common.Address, borrowBalance, borrowIndex *uint256.Int) error
}
