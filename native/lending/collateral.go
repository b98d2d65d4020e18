package lending

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"pairlend/core/events"
)

// minimumPrice is the smallest derived price accepted as plausible.
var minimumPrice = u64(100)

type debtSource interface {
	Address() common.Address
	currentBorrowBalance(borrower common.Address) (*uint256.Int, error)
}

// Collateral holds LP tokens of the pair and values them against the debt
// taken from the two paired borrowables.
type Collateral struct {
	*PoolToken
	pairs       PairReader
	oracle      PriceOracle
	borrowable0 debtSource
	borrowable1 debtSource
}

func newCollateral(engine *Engine, address common.Address, gov governance, pairs PairReader, oracle PriceOracle) *Collateral {
	c := &Collateral{PoolToken: newPoolToken(engine, address, gov), pairs: pairs, oracle: oracle}
	c.hooks = c
	return c
}

func (c *Collateral) create(pair, factory common.Address, params RiskParameters) error {
	if err := c.storeVault(&VaultState{
		Underlying:       pair,
		Factory:          factory,
		TotalBalance:     zero(),
		ExchangeRateLast: clone(InitialExchangeRate),
	}); err != nil {
		return err
	}
	return c.storeCollateral(&CollateralState{
		Pair:                 pair,
		SafetyMarginSqrt:     clone(params.SafetyMarginSqrt),
		LiquidationIncentive: clone(params.LiquidationIncentive),
	})
}

func (c *Collateral) setBorrowables(b0, b1 debtSource) error {
	st, err := c.loadCollateral()
	if err != nil {
		return err
	}
	if st.Borrowable0 != (common.Address{}) && (st.Borrowable0 != b0.Address() || st.Borrowable1 != b1.Address()) {
		return ErrAlreadyInitialized
	}
	st.Borrowable0 = b0.Address()
	st.Borrowable1 = b1.Address()
	c.borrowable0 = b0
	c.borrowable1 = b1
	return c.storeCollateral(st)
}

func (c *Collateral) loadCollateral() (*CollateralState, error) {
	st := new(CollateralState)
	ok, err := c.engine.state.KVGet(collateralStateKey(c.address), st)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotCreated
	}
	return st, nil
}

func (c *Collateral) storeCollateral(st *CollateralState) error {
	return c.engine.state.KVPut(collateralStateKey(c.address), st)
}

// RiskState returns a copy of the persisted valuation configuration.
func (c *Collateral) RiskState() (*CollateralState, error) {
	return c.loadCollateral()
}

func (c *Collateral) exchangeRate() (*uint256.Int, error) {
	vault, err := c.loadVault()
	if err != nil {
		return nil, err
	}
	return c.baseExchangeRate(vault.TotalBalance)
}

func (c *Collateral) beforeTransfer(from common.Address, amount *uint256.Int) error {
	ok, err := c.tokensUnlocked(from, amount)
	if err != nil {
		return err
	}
	if !ok {
		return ErrInsufficientLiquidity
	}
	return nil
}

func (c *Collateral) afterUpdate() error { return nil }

// GetPrices returns the value of one unit of token0 and of token1 in LP
// tokens. The spot ratio is corrected toward the oracle's reference ratio by
// sqrt(oracle/spot) so that reserve manipulation within one block moves the
// prices only as far as the oracle allows.
func (c *Collateral) GetPrices() (price0, price1 *uint256.Int, err error) {
	st, err := c.loadCollateral()
	if err != nil {
		return nil, nil, err
	}
	reference, err := c.oracle.ReferencePrice(st.Pair)
	if err != nil {
		return nil, nil, err
	}
	reserve0, reserve1, err := c.pairs.Reserves(st.Pair)
	if err != nil {
		return nil, nil, err
	}
	supply, err := c.pairs.TotalSupply(st.Pair)
	if err != nil {
		return nil, nil, err
	}
	if reserve0.IsZero() || reserve1.IsZero() || reference.IsZero() {
		return nil, nil, ErrPriceCalculation
	}
	spot, err := mulDiv(reserve1, mantissaOne, reserve0)
	if err != nil {
		return nil, nil, err
	}
	if spot.IsZero() {
		return nil, nil, ErrPriceCalculation
	}
	adjustmentSquared, err := mulDiv(reference, mantissaOne, spot)
	if err != nil {
		return nil, nil, err
	}
	adjustment, err := sqrtMantissa(adjustmentSquared)
	if err != nil {
		return nil, nil, err
	}
	if adjustment.IsZero() {
		return nil, nil, ErrPriceCalculation
	}

	double0, err := mul(reserve0, u64(2))
	if err != nil {
		return nil, nil, err
	}
	double1, err := mul(reserve1, u64(2))
	if err != nil {
		return nil, nil, err
	}
	base0, err := mulDiv(supply, mantissaOne, double0)
	if err != nil {
		return nil, nil, err
	}
	base1, err := mulDiv(supply, mantissaOne, double1)
	if err != nil {
		return nil, nil, err
	}
	if price0, err = mulMantissa(base0, adjustment); err != nil {
		return nil, nil, err
	}
	if price1, err = divMantissa(base1, adjustment); err != nil {
		return nil, nil, err
	}
	if !price0.Gt(minimumPrice) || !price1.Gt(minimumPrice) {
		return nil, nil, ErrPriceCalculation
	}
	return price0, price1, nil
}

// CalculateLiquidity compares collateral value with the collateral needed
// to cover the debts under the adverse price scenario, scaled by the
// liquidation incentive. At most one of the results is nonzero.
func (c *Collateral) CalculateLiquidity(amountCollateral, amount0, amount1 *uint256.Int) (liquidity, shortfall *uint256.Int, err error) {
	if amount0.IsZero() && amount1.IsZero() {
		return clone(amountCollateral), zero(), nil
	}
	st, err := c.loadCollateral()
	if err != nil {
		return nil, nil, err
	}
	price0, price1, err := c.GetPrices()
	if err != nil {
		return nil, nil, err
	}
	a, err := mulMantissa(amount0, price0)
	if err != nil {
		return nil, nil, err
	}
	b, err := mulMantissa(amount1, price1)
	if err != nil {
		return nil, nil, err
	}
	// The larger leg is stressed up by the margin and the smaller one down.
	if a.Lt(b) {
		a, b = b, a
	}
	if a, err = mulMantissa(a, st.SafetyMarginSqrt); err != nil {
		return nil, nil, err
	}
	if b, err = divMantissa(b, st.SafetyMarginSqrt); err != nil {
		return nil, nil, err
	}
	sum, err := add(a, b)
	if err != nil {
		return nil, nil, err
	}
	needed, err := mulMantissa(sum, st.LiquidationIncentive)
	if err != nil {
		return nil, nil, err
	}
	if !amountCollateral.Lt(needed) {
		return new(uint256.Int).Sub(amountCollateral, needed), zero(), nil
	}
	return zero(), new(uint256.Int).Sub(needed, amountCollateral), nil
}

func debtOf(source debtSource, borrower common.Address) (*uint256.Int, error) {
	if source == nil {
		return zero(), nil
	}
	return source.currentBorrowBalance(borrower)
}

func (c *Collateral) collateralValue(shares *uint256.Int) (*uint256.Int, error) {
	rate, err := c.exchangeRate()
	if err != nil {
		return nil, err
	}
	return mulMantissa(shares, rate)
}

// accountLiquidityAmounts evaluates borrower against hypothetical debts; a
// nil amount reads the live, accrued debt of that borrowable.
func (c *Collateral) accountLiquidityAmounts(borrower common.Address, amount0, amount1 *uint256.Int) (*uint256.Int, *uint256.Int, error) {
	var err error
	if amount0 == nil {
		if amount0, err = debtOf(c.borrowable0, borrower); err != nil {
			return nil, nil, err
		}
	}
	if amount1 == nil {
		if amount1, err = debtOf(c.borrowable1, borrower); err != nil {
			return nil, nil, err
		}
	}
	shares, err := c.BalanceOf(borrower)
	if err != nil {
		return nil, nil, err
	}
	value, err := c.collateralValue(shares)
	if err != nil {
		return nil, nil, err
	}
	return c.CalculateLiquidity(value, amount0, amount1)
}

func (c *Collateral) accountLiquidity(borrower common.Address) (*uint256.Int, *uint256.Int, error) {
	return c.accountLiquidityAmounts(borrower, nil, nil)
}

// AccountLiquidity returns the borrower's liquidity and shortfall at live
// debt. Both borrowables are accrued first.
func (c *Collateral) AccountLiquidity(borrower common.Address) (liquidity, shortfall *uint256.Int, err error) {
	return c.AccountLiquidityAmounts(borrower, nil, nil)
}

// AccountLiquidityAmounts is AccountLiquidity with hypothetical debts. A nil
// amount selects the live debt for that side.
func (c *Collateral) AccountLiquidityAmounts(borrower common.Address, amount0, amount1 *uint256.Int) (liquidity, shortfall *uint256.Int, err error) {
	err = c.engine.atomic("account_liquidity", func() error {
		var err error
		liquidity, shortfall, err = c.accountLiquidityAmounts(borrower, amount0, amount1)
		return err
	})
	return liquidity, shortfall, err
}

// CanBorrow reports whether borrower stays solvent with accountBorrows owed
// to borrowable and live debt on the other side.
func (c *Collateral) CanBorrow(borrower, borrowable common.Address, accountBorrows *uint256.Int) (bool, error) {
	st, err := c.loadCollateral()
	if err != nil {
		return false, err
	}
	var amount0, amount1 *uint256.Int
	switch {
	case borrowable == st.Borrowable0 && borrowable != (common.Address{}):
		amount0 = clone(accountBorrows)
	case borrowable == st.Borrowable1 && borrowable != (common.Address{}):
		amount1 = clone(accountBorrows)
	default:
		return false, ErrInvalidBorrowable
	}
	_, shortfall, err := c.AccountLiquidityAmounts(borrower, amount0, amount1)
	if err != nil {
		return false, err
	}
	return shortfall.IsZero(), nil
}

func (c *Collateral) tokensUnlocked(from common.Address, value *uint256.Int) (bool, error) {
	balance, err := c.BalanceOf(from)
	if err != nil {
		return false, err
	}
	if value.Gt(balance) {
		return false, nil
	}
	value0, err := c.collateralValue(new(uint256.Int).Sub(balance, value))
	if err != nil {
		return false, err
	}
	amount0, err := debtOf(c.borrowable0, from)
	if err != nil {
		return false, err
	}
	amount1, err := debtOf(c.borrowable1, from)
	if err != nil {
		return false, err
	}
	_, shortfall, err := c.CalculateLiquidity(value0, amount0, amount1)
	if err != nil {
		return false, err
	}
	return shortfall.IsZero(), nil
}

// TokensUnlocked reports whether from may move value shares without being
// left with a shortfall.
func (c *Collateral) TokensUnlocked(from common.Address, value *uint256.Int) (bool, error) {
	var ok bool
	err := c.engine.atomic("tokens_unlocked", func() error {
		var err error
		ok, err = c.tokensUnlocked(from, value)
		return err
	})
	return ok, err
}

func (c *Collateral) seize(sender, liquidator, borrower common.Address, repayAmount *uint256.Int) (*uint256.Int, error) {
	st, err := c.loadCollateral()
	if err != nil {
		return nil, err
	}
	if sender == (common.Address{}) || (sender != st.Borrowable0 && sender != st.Borrowable1) {
		return nil, ErrUnauthorized
	}
	_, shortfall, err := c.accountLiquidity(borrower)
	if err != nil {
		return nil, err
	}
	if shortfall.IsZero() {
		return nil, ErrInsufficientShortfall
	}
	price0, price1, err := c.GetPrices()
	if err != nil {
		return nil, err
	}
	price := price1
	if sender == st.Borrowable0 {
		price = price0
	}
	incentivised, err := mulMantissa(repayAmount, st.LiquidationIncentive)
	if err != nil {
		return nil, err
	}
	rate, err := c.exchangeRate()
	if err != nil {
		return nil, err
	}
	seizeTokens, err := mulDiv(incentivised, price, rate)
	if err != nil {
		return nil, err
	}
	balance, err := c.BalanceOf(borrower)
	if err != nil {
		return nil, err
	}
	if seizeTokens.Gt(balance) {
		return nil, ErrLiquidatingTooMuch
	}
	if err := c.engine.transferShares(c.address, borrower, liquidator, seizeTokens); err != nil {
		return nil, err
	}
	return seizeTokens, nil
}

// Seize moves collateral worth repayAmount of the sender's asset, plus the
// liquidation incentive, from borrower to liquidator. Only the paired
// borrowables may seize.
func (c *Collateral) Seize(sender, liquidator, borrower common.Address, repayAmount *uint256.Int) (*uint256.Int, error) {
	var seized *uint256.Int
	err := c.engine.atomic("seize", func() error {
		var err error
		seized, err = c.seize(sender, liquidator, borrower, repayAmount)
		return err
	})
	return seized, err
}

// FlashRedeem sends amount of LP tokens to redeemer before the shares that
// pay for them are collected. The shares must be transferred to the pool by
// the time callee returns.
func (c *Collateral) FlashRedeem(sender, redeemer common.Address, amount *uint256.Int, callee RedeemCallee, data []byte) error {
	if amount == nil {
		amount = zero()
	}
	return c.nonReentrant("flash_redeem", func() error {
		vault, err := c.loadVault()
		if err != nil {
			return err
		}
		if amount.Gt(vault.TotalBalance) {
			return ErrInsufficientCash
		}
		if !amount.IsZero() {
			if err := c.engine.bank.Transfer(vault.Underlying, c.address, redeemer, amount); err != nil {
				return err
			}
		}
		if len(data) > 0 {
			if callee == nil {
				return ErrMissingCallee
			}
			if err := callee.OnRedeem(sender, clone(amount), data); err != nil {
				return err
			}
		}
		redeemTokens, err := c.BalanceOf(c.address)
		if err != nil {
			return err
		}
		rate, err := c.exchangeRate()
		if err != nil {
			return err
		}
		declared, err := mulDiv(amount, mantissaOne, rate)
		if err != nil {
			return err
		}
		if declared, err = add(declared, u64(1)); err != nil {
			return err
		}
		if redeemTokens.Lt(declared) {
			return ErrInsufficientRedeemTokens
		}
		if err := c.engine.burnShares(c.address, c.address, redeemTokens); err != nil {
			return err
		}
		c.engine.emit(events.Redeem{
			Pool:         c.address,
			Sender:       sender,
			Redeemer:     redeemer,
			RedeemAmount: clone(amount),
			RedeemTokens: redeemTokens,
		})
		return c.update()
	})
}

func (c *Collateral) setParameter(caller common.Address, name string, value, min, max *uint256.Int, apply func(*CollateralState)) error {
	return c.nonReentrant("set_"+name, func() error {
		if err := c.requireAdmin(caller); err != nil {
			return err
		}
		if err := checkRange(value, min, max); err != nil {
			return err
		}
		st, err := c.loadCollateral()
		if err != nil {
			return err
		}
		apply(st)
		if err := c.storeCollateral(st); err != nil {
			return err
		}
		c.engine.emit(events.ParameterUpdated{Pool: c.address, Name: name, Value: FormatMantissa(value)})
		return nil
	})
}

func (c *Collateral) SetSafetyMarginSqrt(caller common.Address, value *uint256.Int) error {
	return c.setParameter(caller, "safety_margin_sqrt", value, SafetyMarginSqrtMin, SafetyMarginSqrtMax, func(st *CollateralState) {
		st.SafetyMarginSqrt = clone(value)
	})
}

func (c *Collateral) SetLiquidationIncentive(caller common.Address, value *uint256.Int) error {
	return c.setParameter(caller, "liquidation_incentive", value, LiquidationIncentiveMin, LiquidationIncentiveMax, func(st *CollateralState) {
		st.LiquidationIncentive = clone(value)
	})
}
