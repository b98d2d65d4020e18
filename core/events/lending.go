package events

import (
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"pairlend/core/types"
	"pairlend/crypto"
)

const (
	// TypeLendingMint is emitted when underlying deposited into a pool is
	// converted into shares.
	TypeLendingMint = "lending.mint"
	// TypeLendingRedeem is emitted when shares are burned for underlying.
	TypeLendingRedeem = "lending.redeem"
	// TypeLendingSync is emitted whenever a pool reconciles its cached balance.
	TypeLendingSync     = "lending.sync"
	TypeLendingTransfer = "lending.transfer"
	TypeLendingBorrow   = "lending.borrow"
	// TypeLendingLiquidate is emitted once a liquidation has been settled.
	TypeLendingLiquidate       = "lending.liquidate"
	TypeLendingAccrueInterest  = "lending.accrue_interest"
	TypeLendingKinkBorrowRate  = "lending.kink_borrow_rate"
	TypeLendingBorrowRate      = "lending.borrow_rate"
	TypeLendingBorrowApproval  = "lending.borrow_approval"
	TypeLendingPoolInitialized = "lending.pool_initialized"
	// TypeLendingParameterPrefix prefixes parameter update events, for example
	// "lending.new_reserve_factor".
	TypeLendingParameterPrefix = "lending.new_"
)

func formatAmount(v *uint256.Int) string {
	if v == nil {
		return "0"
	}
	return v.Dec()
}

func formatAccount(addr common.Address) string {
	return crypto.FromCommon(crypto.AccountPrefix, addr).String()
}

func formatPool(addr common.Address) string {
	return crypto.FromCommon(crypto.PoolPrefix, addr).String()
}

type Mint struct {
	Pool       common.Address
	Sender     common.Address
	Minter     common.Address
	MintAmount *uint256.Int
	MintTokens *uint256.Int
}

func (Mint) EventType() string { return TypeLendingMint }

func (e Mint) Event() *types.Event {
	return &types.Event{
		Type: TypeLendingMint,
		Attributes: map[string]string{
			"pool":       formatPool(e.Pool),
			"sender":     formatAccount(e.Sender),
			"minter":     formatAccount(e.Minter),
			"mintAmount": formatAmount(e.MintAmount),
			"mintTokens": formatAmount(e.MintTokens),
		},
	}
}

type Redeem struct {
	Pool         common.Address
	Sender       common.Address
	Redeemer     common.Address
	RedeemAmount *uint256.Int
	RedeemTokens *uint256.Int
}

func (Redeem) EventType() string { return TypeLendingRedeem }

func (e Redeem) Event() *types.Event {
	return &types.Event{
		Type: TypeLendingRedeem,
		Attributes: map[string]string{
			"pool":         formatPool(e.Pool),
			"sender":       formatAccount(e.Sender),
			"redeemer":     formatAccount(e.Redeemer),
			"redeemAmount": formatAmount(e.RedeemAmount),
			"redeemTokens": formatAmount(e.RedeemTokens),
		},
	}
}

type Sync struct {
	Pool         common.Address
	TotalBalance *uint256.Int
}

func (Sync) EventType() string { return TypeLendingSync }

func (e Sync) Event() *types.Event {
	return &types.Event{
		Type: TypeLendingSync,
		Attributes: map[string]string{
			"pool":         formatPool(e.Pool),
			"totalBalance": formatAmount(e.TotalBalance),
		},
	}
}

// Transfer records a movement of pool shares, including mints from and burns
// to the zero address.
type Transfer struct {
	Pool  common.Address
	From  common.Address
	To    common.Address
	Value *uint256.Int
}

func (Transfer) EventType() string { return TypeLendingTransfer }

func (e Transfer) Event() *types.Event {
	return &types.Event{
		Type: TypeLendingTransfer,
		Attributes: map[string]string{
			"pool":  formatPool(e.Pool),
			"from":  formatAccount(e.From),
			"to":    formatAccount(e.To),
			"value": formatAmount(e.Value),
		},
	}
}

type Borrow struct {
	Pool                common.Address
	Sender              common.Address
	Borrower            common.Address
	Receiver            common.Address
	BorrowAmount        *uint256.Int
	RepayAmount         *uint256.Int
	AccountBorrowsPrior *uint256.Int
	AccountBorrows      *uint256.Int
	TotalBorrows        *uint256.Int
}

func (Borrow) EventType() string { return TypeLendingBorrow }

func (e Borrow) Event() *types.Event {
	return &types.Event{
		Type: TypeLendingBorrow,
		Attributes: map[string]string{
			"pool":                formatPool(e.Pool),
			"sender":              formatAccount(e.Sender),
			"borrower":            formatAccount(e.Borrower),
			"receiver":            formatAccount(e.Receiver),
			"borrowAmount":        formatAmount(e.BorrowAmount),
			"repayAmount":         formatAmount(e.RepayAmount),
			"accountBorrowsPrior": formatAmount(e.AccountBorrowsPrior),
			"accountBorrows":      formatAmount(e.AccountBorrows),
			"totalBorrows":        formatAmount(e.TotalBorrows),
		},
	}
}

type Liquidate struct {
	Pool                common.Address
	Sender              common.Address
	Borrower            common.Address
	Liquidator          common.Address
	SeizeTokens         *uint256.Int
	RepayAmount         *uint256.Int
	AccountBorrowsPrior *uint256.Int
	AccountBorrows      *uint256.Int
	TotalBorrows        *uint256.Int
}

func (Liquidate) EventType() string { return TypeLendingLiquidate }

func (e Liquidate) Event() *types.Event {
	return &types.Event{
		Type: TypeLendingLiquidate,
		Attributes: map[string]string{
			"pool":                formatPool(e.Pool),
			"sender":              formatAccount(e.Sender),
			"borrower":            formatAccount(e.Borrower),
			"liquidator":          formatAccount(e.Liquidator),
			"seizeTokens":         formatAmount(e.SeizeTokens),
			"repayAmount":         formatAmount(e.RepayAmount),
			"accountBorrowsPrior": formatAmount(e.AccountBorrowsPrior),
			"accountBorrows":      formatAmount(e.AccountBorrows),
			"totalBorrows":        formatAmount(e.TotalBorrows),
		},
	}
}

type AccrueInterest struct {
	Pool                common.Address
	InterestAccumulated *uint256.Int
	BorrowIndex         *uint256.Int
	TotalBorrows        *uint256.Int
}

func (AccrueInterest) EventType() string { return TypeLendingAccrueInterest }

func (e AccrueInterest) Event() *types.Event {
	return &types.Event{
		Type: TypeLendingAccrueInterest,
		Attributes: map[string]string{
			"pool":                formatPool(e.Pool),
			"interestAccumulated": formatAmount(e.InterestAccumulated),
			"borrowIndex":         formatAmount(e.BorrowIndex),
			"totalBorrows":        formatAmount(e.TotalBorrows),
		},
	}
}

type KinkBorrowRate struct {
	Pool           common.Address
	KinkBorrowRate *uint256.Int
}

func (KinkBorrowRate) EventType() string { return TypeLendingKinkBorrowRate }

func (e KinkBorrowRate) Event() *types.Event {
	return &types.Event{
		Type: TypeLendingKinkBorrowRate,
		Attributes: map[string]string{
			"pool":           formatPool(e.Pool),
			"kinkBorrowRate": formatAmount(e.KinkBorrowRate),
		},
	}
}

type BorrowRate struct {
	Pool       common.Address
	BorrowRate *uint256.Int
}

func (BorrowRate) EventType() string { return TypeLendingBorrowRate }

func (e BorrowRate) Event() *types.Event {
	return &types.Event{
		Type: TypeLendingBorrowRate,
		Attributes: map[string]string{
			"pool":       formatPool(e.Pool),
			"borrowRate": formatAmount(e.BorrowRate),
		},
	}
}

// BorrowApproval is emitted for both direct approvals and signed permits.
// Value is "unlimited" or a decimal amount.
type BorrowApproval struct {
	Pool    common.Address
	Owner   common.Address
	Spender common.Address
	Value   string
}

func (BorrowApproval) EventType() string { return TypeLendingBorrowApproval }

func (e BorrowApproval) Event() *types.Event {
	return &types.Event{
		Type: TypeLendingBorrowApproval,
		Attributes: map[string]string{
			"pool":    formatPool(e.Pool),
			"owner":   formatAccount(e.Owner),
			"spender": formatAccount(e.Spender),
			"value":   e.Value,
		},
	}
}

// ParameterUpdated covers every admin-set risk parameter and registry role.
// Name is the snake_case parameter name.
type ParameterUpdated struct {
	Pool  common.Address
	Name  string
	Value string
}

func (e ParameterUpdated) EventType() string { return TypeLendingParameterPrefix + e.Name }

func (e ParameterUpdated) Event() *types.Event {
	return &types.Event{
		Type: e.EventType(),
		Attributes: map[string]string{
			"pool":  formatPool(e.Pool),
			"name":  e.Name,
			"value": e.Value,
		},
	}
}

type PoolInitialized struct {
	Pair        common.Address
	Token0      common.Address
	Token1      common.Address
	Collateral  common.Address
	Borrowable0 common.Address
	Borrowable1 common.Address
	Index       uint64
}

func (PoolInitialized) EventType() string { return TypeLendingPoolInitialized }

func (e PoolInitialized) Event() *types.Event {
	return &types.Event{
		Type: TypeLendingPoolInitialized,
		Attributes: map[string]string{
			"pair":        formatPool(e.Pair),
			"token0":      formatAccount(e.Token0),
			"token1":      formatAccount(e.Token1),
			"collateral":  formatPool(e.Collateral),
			"borrowable0": formatPool(e.Borrowable0),
			"borrowable1": formatPool(e.Borrowable1),
			"index":       strconv.FormatUint(e.Index, 10),
		},
	}
}
