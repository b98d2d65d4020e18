package lending

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"pairlend/core/events"
	"pairlend/crypto"
)

// collateralRisk is the view of the paired collateral pool a borrowable needs.
type collateralRisk interface {
	Address() common.Address
	CanBorrow(borrower, borrowable common.Address, accountBorrows *uint256.Int) (bool, error)
	accountLiquidity(borrower common.Address) (*uint256.Int, *uint256.Int, error)
	seize(sender, liquidator, borrower common.Address, repayAmount *uint256.Int) (*uint256.Int, error)
}

// Borrowable is a pool of one of the pair's underlying tokens that lenders
// deposit into and borrowers draw debt from.
type Borrowable struct {
	*PoolToken
	collateral collateralRisk
	trackers   trackerRegistry
}

// trackerRegistry resolves a persisted tracker identity to its implementation.
type trackerRegistry interface {
	borrowTracker(id common.Address) (BorrowTracker, bool)
}

func newBorrowable(engine *Engine, address common.Address, gov governance, trackers trackerRegistry) *Borrowable {
	b := &Borrowable{PoolToken: newPoolToken(engine, address, gov), trackers: trackers}
	b.hooks = b
	return b
}

func (b *Borrowable) create(underlying, factory common.Address, params RiskParameters) error {
	now := b.engine.now
	if err := b.storeVault(&VaultState{
		Underlying:       underlying,
		Factory:          factory,
		TotalBalance:     zero(),
		ExchangeRateLast: clone(InitialExchangeRate),
	}); err != nil {
		return err
	}
	return b.storeBorrowable(&BorrowableState{
		TotalBorrows:        zero(),
		BorrowIndex:         one(),
		BorrowRate:          zero(),
		KinkBorrowRate:      clone(params.KinkBorrowRate),
		ReserveFactor:       clone(params.ReserveFactor),
		KinkUtilizationRate: clone(params.KinkUtilizationRate),
		AdjustSpeed:         clone(params.AdjustSpeed),
		AccrualTimestamp:    now,
		RateUpdateTimestamp: now,
	})
}

func (b *Borrowable) setCollateral(c collateralRisk) error {
	st, err := b.loadBorrowable()
	if err != nil {
		return err
	}
	if st.Collateral != (common.Address{}) && st.Collateral != c.Address() {
		return ErrAlreadyInitialized
	}
	st.Collateral = c.Address()
	b.collateral = c
	return b.storeBorrowable(st)
}

func (b *Borrowable) loadBorrowable() (*BorrowableState, error) {
	st := new(BorrowableState)
	ok, err := b.engine.state.KVGet(borrowableStateKey(b.address), st)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotCreated
	}
	st.normalize()
	return st, nil
}

func (b *Borrowable) storeBorrowable(st *BorrowableState) error {
	return b.engine.state.KVPut(borrowableStateKey(b.address), st)
}

// RateState returns a copy of the persisted rate model state.
func (b *Borrowable) RateState() (*BorrowableState, error) {
	return b.loadBorrowable()
}

func (b *Borrowable) TotalBorrows() (*uint256.Int, error) {
	st, err := b.loadBorrowable()
	if err != nil {
		return nil, err
	}
	return st.TotalBorrows, nil
}

func (b *Borrowable) BorrowRate() (*uint256.Int, error) {
	st, err := b.loadBorrowable()
	if err != nil {
		return nil, err
	}
	return st.BorrowRate, nil
}

func (b *Borrowable) KinkBorrowRate() (*uint256.Int, error) {
	st, err := b.loadBorrowable()
	if err != nil {
		return nil, err
	}
	return st.KinkBorrowRate, nil
}

func (b *Borrowable) BorrowIndex() (*uint256.Int, error) {
	st, err := b.loadBorrowable()
	if err != nil {
		return nil, err
	}
	return st.BorrowIndex, nil
}

// Utilization returns totalBorrows / (totalBorrows + totalBalance).
func (b *Borrowable) Utilization() (*uint256.Int, error) {
	st, err := b.loadBorrowable()
	if err != nil {
		return nil, err
	}
	vault, err := b.loadVault()
	if err != nil {
		return nil, err
	}
	return utilizationRate(st.TotalBorrows, vault.TotalBalance)
}

func (b *Borrowable) loadSnapshot(borrower common.Address) (*BorrowSnapshot, error) {
	snap := new(BorrowSnapshot)
	ok, err := b.engine.state.KVGet(borrowSnapshotKey(b.address, borrower), snap)
	if err != nil {
		return nil, err
	}
	if !ok {
		return &BorrowSnapshot{Principal: zero(), InterestIndex: zero()}, nil
	}
	return snap, nil
}

// BorrowBalance returns the borrower's debt at the last accrued index.
func (b *Borrowable) BorrowBalance(borrower common.Address) (*uint256.Int, error) {
	st, err := b.loadBorrowable()
	if err != nil {
		return nil, err
	}
	snap, err := b.loadSnapshot(borrower)
	if err != nil {
		return nil, err
	}
	return debtAt(snap, st.BorrowIndex)
}

func (b *Borrowable) currentBorrowBalance(borrower common.Address) (*uint256.Int, error) {
	if err := b.accrueInterest(); err != nil {
		return nil, err
	}
	return b.BorrowBalance(borrower)
}

// CurrentBorrowBalance accrues interest and returns the borrower's debt.
func (b *Borrowable) CurrentBorrowBalance(borrower common.Address) (*uint256.Int, error) {
	var debt *uint256.Int
	err := b.engine.atomic("borrow_balance", func() error {
		var err error
		debt, err = b.currentBorrowBalance(borrower)
		return err
	})
	return debt, err
}

func (b *Borrowable) accrueInterest() error {
	st, err := b.loadBorrowable()
	if err != nil {
		return err
	}
	interest, changed, err := accrue(st, b.engine.now)
	if err != nil || !changed {
		return err
	}
	if err := b.storeBorrowable(st); err != nil {
		return err
	}
	b.engine.emit(events.AccrueInterest{
		Pool:                b.address,
		InterestAccumulated: interest,
		BorrowIndex:         clone(st.BorrowIndex),
		TotalBorrows:        clone(st.TotalBorrows),
	})
	return nil
}

// AccrueInterest compounds interest up to the current block time.
func (b *Borrowable) AccrueInterest() error {
	return b.engine.atomic("accrue_interest", b.accrueInterest)
}

func (b *Borrowable) exchangeRate() (*uint256.Int, error) {
	if err := b.accrueInterest(); err != nil {
		return nil, err
	}
	vault, err := b.loadVault()
	if err != nil {
		return nil, err
	}
	st, err := b.loadBorrowable()
	if err != nil {
		return nil, err
	}
	supply, err := b.TotalSupply()
	if err != nil {
		return nil, err
	}
	value, err := add(vault.TotalBalance, st.TotalBorrows)
	if err != nil {
		return nil, err
	}
	if supply.IsZero() || value.IsZero() {
		return clone(InitialExchangeRate), nil
	}
	rate, err := mulDiv(value, mantissaOne, supply)
	if err != nil {
		return nil, err
	}
	return b.mintReserves(vault, st, rate, supply)
}

// mintReserves skims reserveFactor of the exchange rate growth since the last
// skim into shares for the reserves manager.
func (b *Borrowable) mintReserves(vault *VaultState, st *BorrowableState, rate, supply *uint256.Int) (*uint256.Int, error) {
	if !rate.Gt(vault.ExchangeRateLast) {
		return rate, nil
	}
	growth := new(uint256.Int).Sub(rate, vault.ExchangeRateLast)
	skim, err := mulMantissa(growth, st.ReserveFactor)
	if err != nil {
		return nil, err
	}
	newRate, err := sub(rate, skim)
	if err != nil {
		return nil, err
	}
	grossed, err := mulDiv(supply, rate, newRate)
	if err != nil {
		return nil, err
	}
	liquidity, err := sub(grossed, supply)
	if err != nil {
		return nil, err
	}
	if liquidity.IsZero() {
		return rate, nil
	}
	manager, err := b.gov.ReservesManager()
	if err != nil {
		return nil, err
	}
	if err := b.engine.mintShares(b.address, manager, liquidity); err != nil {
		return nil, err
	}
	vault.ExchangeRateLast = newRate
	if err := b.storeVault(vault); err != nil {
		return nil, err
	}
	return newRate, nil
}

func (b *Borrowable) beforeTransfer(common.Address, *uint256.Int) error { return nil }

func (b *Borrowable) afterUpdate() error { return b.calculateBorrowRate() }

func (b *Borrowable) calculateBorrowRate() error {
	vault, err := b.loadVault()
	if err != nil {
		return err
	}
	st, err := b.loadBorrowable()
	if err != nil {
		return err
	}
	now := b.engine.now
	if now > st.RateUpdateTimestamp {
		kink, err := adjustKinkBorrowRate(st.KinkBorrowRate, st.BorrowRate, st.AdjustSpeed, now-st.RateUpdateTimestamp)
		if err != nil {
			return err
		}
		st.KinkBorrowRate = kink
		st.RateUpdateTimestamp = now
	}
	b.engine.emit(events.KinkBorrowRate{Pool: b.address, KinkBorrowRate: clone(st.KinkBorrowRate)})

	utilization, err := utilizationRate(st.TotalBorrows, vault.TotalBalance)
	if err != nil {
		return err
	}
	rate, err := borrowRateAt(st.KinkBorrowRate, st.KinkUtilizationRate, utilization)
	if err != nil {
		return err
	}
	st.BorrowRate = rate
	if err := b.storeBorrowable(st); err != nil {
		return err
	}
	b.engine.emit(events.BorrowRate{Pool: b.address, BorrowRate: clone(rate)})

	annual := mantissaFloat(new(uint256.Int).Mul(rate, u64(SecondsPerYear)))
	ratio := mantissaFloat(utilization)
	b.engine.onCommit(func() {
		label := b.label()
		b.engine.metrics.SetBorrowRate(label, annual)
		b.engine.metrics.SetUtilization(label, ratio)
	})
	return nil
}

func (b *Borrowable) label() string {
	return crypto.FromCommon(crypto.PoolPrefix, b.address).String()
}

// trackBorrow reports the borrower's new debt to the configured tracker once
// the enclosing transaction commits.
func (b *Borrowable) trackBorrow(borrower common.Address, prior, account *uint256.Int) error {
	if prior.Eq(account) {
		return nil
	}
	st, err := b.loadBorrowable()
	if err != nil {
		return err
	}
	if st.BorrowTracker == (common.Address{}) {
		return nil
	}
	var tracker BorrowTracker
	if b.trackers != nil {
		tracker, _ = b.trackers.borrowTracker(st.BorrowTracker)
	}
	if tracker == nil {
		b.engine.logger.Warn("borrow tracker not registered", "pool", b.label(), "tracker", st.BorrowTracker.Hex())
		return nil
	}
	balance, index := clone(account), clone(st.BorrowIndex)
	b.engine.onCommit(func() {
		if err := tracker.TrackBorrow(borrower, balance, index); err != nil {
			b.engine.logger.Warn("borrow tracker failed", "pool", b.label(), "borrower", borrower.Hex(), "error", err)
		}
	})
	return nil
}

// updateBorrow applies a debt increase and decrease to the borrower and the
// pool totals, returning the prior and new debt and the new total.
func (b *Borrowable) updateBorrow(borrower common.Address, increase, decrease *uint256.Int) (prior, account, total *uint256.Int, err error) {
	st, err := b.loadBorrowable()
	if err != nil {
		return nil, nil, nil, err
	}
	snap, err := b.loadSnapshot(borrower)
	if err != nil {
		return nil, nil, nil, err
	}
	if prior, err = debtAt(snap, st.BorrowIndex); err != nil {
		return nil, nil, nil, err
	}
	if increase.Eq(decrease) {
		return prior, clone(prior), st.TotalBorrows, nil
	}
	key := borrowSnapshotKey(b.address, borrower)
	if increase.Gt(decrease) {
		delta := new(uint256.Int).Sub(increase, decrease)
		if account, err = add(prior, delta); err != nil {
			return nil, nil, nil, err
		}
		if total, err = add(st.TotalBorrows, delta); err != nil {
			return nil, nil, nil, err
		}
		err = b.engine.state.KVPut(key, &BorrowSnapshot{Principal: account, InterestIndex: clone(st.BorrowIndex)})
	} else {
		delta := new(uint256.Int).Sub(decrease, increase)
		account = subFloor(prior, delta)
		actualDecrease := new(uint256.Int).Sub(prior, account)
		total = subFloor(st.TotalBorrows, actualDecrease)
		if account.IsZero() {
			err = b.engine.state.KVDelete(key)
		} else {
			err = b.engine.state.KVPut(key, &BorrowSnapshot{Principal: account, InterestIndex: clone(st.BorrowIndex)})
		}
	}
	if err != nil {
		return nil, nil, nil, err
	}
	st.TotalBorrows = total
	if err := b.storeBorrowable(st); err != nil {
		return nil, nil, nil, err
	}
	return prior, account, clone(total), nil
}

// Borrow lends amount to receiver against borrower's collateral. When data is
// non-empty callee is invoked after the transfer and may repay within the same
// call; the borrower must be solvent once the callee returns.
func (b *Borrowable) Borrow(sender, borrower, receiver common.Address, amount *uint256.Int, callee BorrowCallee, data []byte) error {
	if amount == nil {
		amount = zero()
	}
	return b.nonReentrant("borrow", func() error {
		if b.collateral == nil {
			return ErrNotInitialized
		}
		if err := b.accrueInterest(); err != nil {
			return err
		}
		vault, err := b.loadVault()
		if err != nil {
			return err
		}
		if amount.Gt(vault.TotalBalance) {
			return ErrInsufficientCash
		}
		if err := b.checkBorrowAllowance(borrower, sender, amount); err != nil {
			return err
		}
		if !amount.IsZero() {
			if err := b.engine.bank.Transfer(vault.Underlying, b.address, receiver, amount); err != nil {
				return err
			}
		}
		if len(data) > 0 {
			if callee == nil {
				return ErrMissingCallee
			}
			if err := callee.OnBorrow(sender, borrower, clone(amount), data); err != nil {
				return err
			}
		}
		balance, err := b.engine.bank.BalanceOf(vault.Underlying, b.address)
		if err != nil {
			return err
		}
		gross, err := add(balance, amount)
		if err != nil {
			return err
		}
		repayAmount, err := sub(gross, vault.TotalBalance)
		if err != nil {
			return err
		}
		fee, err := mulMantissa(amount, BorrowFee)
		if err != nil {
			return err
		}
		adjusted, err := add(amount, fee)
		if err != nil {
			return err
		}
		prior, account, total, err := b.updateBorrow(borrower, adjusted, repayAmount)
		if err != nil {
			return err
		}
		if adjusted.Gt(repayAmount) {
			ok, err := b.collateral.CanBorrow(borrower, b.address, account)
			if err != nil {
				return err
			}
			if !ok {
				return ErrInsufficientLiquidity
			}
		}
		if err := b.trackBorrow(borrower, prior, account); err != nil {
			return err
		}
		b.engine.emit(events.Borrow{
			Pool:                b.address,
			Sender:              sender,
			Borrower:            borrower,
			Receiver:            receiver,
			BorrowAmount:        clone(amount),
			RepayAmount:         repayAmount,
			AccountBorrowsPrior: prior,
			AccountBorrows:      account,
			TotalBorrows:        total,
		})
		return b.update()
	})
}

// Repay settles debt with underlying the caller transferred to the pool
// beforehand. Any excess over the debt stays in the pool as cash.
func (b *Borrowable) Repay(sender, borrower common.Address) error {
	return b.Borrow(sender, borrower, common.Address{}, zero(), nil, nil)
}

// Liquidate repays part of an undercollateralized borrower's debt in exchange
// for their collateral. Collateral is seized before callee runs, so the
// liquidator may fund the repayment from it; the repayment is verified after.
func (b *Borrowable) Liquidate(sender, borrower, liquidator common.Address, repayAmount *uint256.Int, callee LiquidateCallee, data []byte) (*uint256.Int, error) {
	if repayAmount == nil {
		repayAmount = zero()
	}
	var seized *uint256.Int
	err := b.nonReentrant("liquidate", func() error {
		if b.collateral == nil {
			return ErrNotInitialized
		}
		if err := b.accrueInterest(); err != nil {
			return err
		}
		_, shortfall, err := b.collateral.accountLiquidity(borrower)
		if err != nil {
			return err
		}
		if shortfall.IsZero() {
			return ErrInsufficientShortfall
		}
		debt, err := b.BorrowBalance(borrower)
		if err != nil {
			return err
		}
		if repayAmount.Gt(debt) {
			return ErrLiquidatingTooMuch
		}
		seizeTokens, err := b.collateral.seize(b.address, liquidator, borrower, repayAmount)
		if err != nil {
			return err
		}
		if len(data) > 0 {
			if callee == nil {
				return ErrMissingCallee
			}
			if err := callee.OnLiquidate(sender, borrower, clone(repayAmount), clone(seizeTokens), data); err != nil {
				return err
			}
		}
		vault, err := b.loadVault()
		if err != nil {
			return err
		}
		balance, err := b.engine.bank.BalanceOf(vault.Underlying, b.address)
		if err != nil {
			return err
		}
		received, err := sub(balance, vault.TotalBalance)
		if err != nil {
			return err
		}
		if minOf(received, debt).Lt(repayAmount) {
			return ErrInsufficientRepay
		}
		prior, account, total, err := b.updateBorrow(borrower, zero(), received)
		if err != nil {
			return err
		}
		if err := b.trackBorrow(borrower, prior, account); err != nil {
			return err
		}
		b.engine.emit(events.Liquidate{
			Pool:                b.address,
			Sender:              sender,
			Borrower:            borrower,
			Liquidator:          liquidator,
			SeizeTokens:         clone(seizeTokens),
			RepayAmount:         received,
			AccountBorrowsPrior: prior,
			AccountBorrows:      account,
			TotalBorrows:        total,
		})
		seized = seizeTokens
		b.engine.onCommit(func() { b.engine.metrics.IncLiquidation(b.label()) })
		return b.update()
	})
	return seized, err
}

func (b *Borrowable) setParameter(caller common.Address, name string, value, min, max *uint256.Int, apply func(*BorrowableState)) error {
	return b.nonReentrant("set_"+name, func() error {
		if err := b.requireAdmin(caller); err != nil {
			return err
		}
		if err := checkRange(value, min, max); err != nil {
			return err
		}
		st, err := b.loadBorrowable()
		if err != nil {
			return err
		}
		apply(st)
		if err := b.storeBorrowable(st); err != nil {
			return err
		}
		b.engine.emit(events.ParameterUpdated{Pool: b.address, Name: name, Value: FormatMantissa(value)})
		return nil
	})
}

func (b *Borrowable) SetReserveFactor(caller common.Address, value *uint256.Int) error {
	return b.setParameter(caller, "reserve_factor", value, zero(), ReserveFactorMax, func(st *BorrowableState) {
		st.ReserveFactor = clone(value)
	})
}

func (b *Borrowable) SetKinkUtilizationRate(caller common.Address, value *uint256.Int) error {
	return b.setParameter(caller, "kink_utilization_rate", value, KinkUtilizationRateMin, KinkUtilizationRateMax, func(st *BorrowableState) {
		st.KinkUtilizationRate = clone(value)
	})
}

func (b *Borrowable) SetAdjustSpeed(caller common.Address, value *uint256.Int) error {
	return b.setParameter(caller, "adjust_speed", value, AdjustSpeedMin, AdjustSpeedMax, func(st *BorrowableState) {
		st.AdjustSpeed = clone(value)
	})
}

// SetBorrowTracker points the pool at a tracker registered with the factory
// under id. The zero id removes it.
func (b *Borrowable) SetBorrowTracker(caller, id common.Address) error {
	return b.nonReentrant("set_borrow_tracker", func() error {
		if err := b.requireAdmin(caller); err != nil {
			return err
		}
		value := "cleared"
		if id != (common.Address{}) {
			if b.trackers == nil {
				return ErrInvalidSetting
			}
			if _, ok := b.trackers.borrowTracker(id); !ok {
				return ErrInvalidSetting
			}
			value = crypto.FromCommon(crypto.AccountPrefix, id).String()
		}
		st, err := b.loadBorrowable()
		if err != nil {
			return err
		}
		st.BorrowTracker = id
		if err := b.storeBorrowable(st); err != nil {
			return err
		}
		b.engine.emit(events.ParameterUpdated{Pool: b.address, Name: "borrow_tracker", Value: value})
		return nil
	})
}

// BorrowTracker returns the configured tracker id, zero when none.
func (b *Borrowable) BorrowTracker() (common.Address, error) {
	st, err := b.loadBorrowable()
	if err != nil {
		return common.Address{}, err
	}
	return st.BorrowTracker, nil
}
