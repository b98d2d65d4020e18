package lending

import (
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"pairlend/core/events"
)

// newUnderwaterEnv borrows the maximum token0 against 1000 LP and lets 30
// days of interest push the borrower into shortfall.
func newUnderwaterEnv(t *testing.T) *testEnv {
	t.Helper()
	env := newTestEnv(t)
	env.lend(env.b0, e18(5000))
	env.postCollateral(borrowerAddr, e18(1000))
	max := env.maxBorrow(env.b0, borrowerAddr)
	if err := env.b0.Borrow(borrowerAddr, borrowerAddr, borrowerAddr, max, nil, nil); err != nil {
		t.Fatalf("borrow max: %v", err)
	}
	env.engine.AdvanceTime(30 * SecondsPerDay)
	env.recorder.Reset()
	return env
}

func TestBorrowAtMarginSucceedsAndOneMoreFails(t *testing.T) {
	env := newTestEnv(t)
	env.lend(env.b0, e18(5000))
	env.postCollateral(borrowerAddr, e18(1000))

	max := env.maxBorrow(env.b0, borrowerAddr)
	if max.IsZero() || !max.Lt(e18(5000)) {
		t.Fatalf("unexpected max borrow %s", max)
	}
	over := new(uint256.Int).Add(max, u64(1))
	err := env.b0.Borrow(borrowerAddr, borrowerAddr, borrowerAddr, over, nil, nil)
	requireErrorIs(t, err, ErrInsufficientLiquidity)
	if !env.balance(testToken0, borrowerAddr).IsZero() {
		t.Fatalf("rejected borrow must not pay out")
	}

	if err := env.b0.Borrow(borrowerAddr, borrowerAddr, borrowerAddr, max, nil, nil); err != nil {
		t.Fatalf("borrow at margin: %v", err)
	}
	liquidity, shortfall, err := env.collateral.AccountLiquidity(borrowerAddr)
	if err != nil {
		t.Fatalf("account liquidity: %v", err)
	}
	if !shortfall.IsZero() {
		t.Fatalf("borrow at margin left shortfall %s", shortfall)
	}
	// One more unit of debt would have tipped the account over.
	if liquidity.Gt(e18(1)) {
		t.Fatalf("liquidity at margin should be dust, got %s", liquidity)
	}
}

func TestLiquidityAndShortfallAreExclusive(t *testing.T) {
	env := newTestEnv(t)
	env.postCollateral(borrowerAddr, e18(1000))

	amounts := []*uint256.Int{zero(), e18(1), e18(100), e18(1000), e18(1216), e18(1217), e18(2000), e18(100_000)}
	for _, d0 := range amounts {
		for _, d1 := range amounts {
			liquidity, shortfall, err := env.collateral.AccountLiquidityAmounts(borrowerAddr, d0, d1)
			if err != nil {
				t.Fatalf("liquidity(%s, %s): %v", d0, d1, err)
			}
			if !liquidity.IsZero() && !shortfall.IsZero() {
				t.Fatalf("liquidity %s and shortfall %s both nonzero for debts %s/%s", liquidity, shortfall, d0, d1)
			}
		}
	}
	liquidity, _, err := env.collateral.AccountLiquidityAmounts(borrowerAddr, zero(), zero())
	if err != nil {
		t.Fatalf("liquidity without debt: %v", err)
	}
	// The first collateral mint locks MinimumLiquidity shares.
	want := new(uint256.Int).Sub(e18(1000), u64(MinimumLiquidity))
	requireEqual(t, liquidity, want, "debt-free liquidity")
}

func TestLiquidationRequiresShortfall(t *testing.T) {
	env := newTestEnv(t)
	env.lend(env.b0, e18(5000))
	env.postCollateral(borrowerAddr, e18(1000))
	if err := env.b0.Borrow(borrowerAddr, borrowerAddr, borrowerAddr, e18(100), nil, nil); err != nil {
		t.Fatalf("borrow: %v", err)
	}
	env.fund(testToken0, liquidatorAddr, e18(10))
	if err := env.ledger.Transfer(testToken0, liquidatorAddr, env.b0.Address(), e18(10)); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	_, err := env.b0.Liquidate(liquidatorAddr, borrowerAddr, liquidatorAddr, e18(10), nil, nil)
	requireErrorIs(t, err, ErrInsufficientShortfall)
	if Kind(err) != KindSolvency {
		t.Fatalf("unexpected kind %s", Kind(err))
	}
}

func TestLiquidateRepaysDebtAndSeizesCollateral(t *testing.T) {
	env := newUnderwaterEnv(t)
	liquidity, shortfall, err := env.collateral.AccountLiquidity(borrowerAddr)
	if err != nil {
		t.Fatalf("account liquidity: %v", err)
	}
	if shortfall.IsZero() || !liquidity.IsZero() {
		t.Fatalf("expected shortfall, got liquidity %s shortfall %s", liquidity, shortfall)
	}

	debt := env.debt(env.b0, borrowerAddr)
	repay := e18(500)
	price0, _, err := env.collateral.GetPrices()
	if err != nil {
		t.Fatalf("prices: %v", err)
	}
	incentivised, _ := mulMantissa(repay, DefaultRiskParameters().LiquidationIncentive)
	rate, _ := env.collateral.ExchangeRateQuote()
	want, _ := mulDiv(incentivised, price0, rate)

	env.fund(testToken0, liquidatorAddr, repay)
	if err := env.ledger.Transfer(testToken0, liquidatorAddr, env.b0.Address(), repay); err != nil {
		t.Fatalf("transfer repay: %v", err)
	}
	seized, err := env.b0.Liquidate(liquidatorAddr, borrowerAddr, liquidatorAddr, repay, nil, nil)
	if err != nil {
		t.Fatalf("liquidate: %v", err)
	}
	requireEqual(t, seized, want, "seized tokens")
	requireEqual(t, env.shares(env.collateral.PoolToken, liquidatorAddr), want, "liquidator shares")
	requireEqual(t, env.debt(env.b0, borrowerAddr), new(uint256.Int).Sub(debt, repay), "remaining debt")

	liquidations := env.recorder.OfType(events.TypeLendingLiquidate)
	if len(liquidations) != 1 {
		t.Fatalf("expected one liquidate event, got %d", len(liquidations))
	}
	ev := liquidations[0].(events.Liquidate)
	if !ev.RepayAmount.Eq(repay) || !ev.SeizeTokens.Eq(want) || !ev.AccountBorrowsPrior.Eq(debt) {
		t.Fatalf("unexpected liquidate event %+v", ev)
	}
}

func TestLiquidateRejectsExcessAndUnbackedRepay(t *testing.T) {
	env := newUnderwaterEnv(t)
	debt := env.debt(env.b0, borrowerAddr)
	collateralShares := env.shares(env.collateral.PoolToken, borrowerAddr)

	_, err := env.b0.Liquidate(liquidatorAddr, borrowerAddr, liquidatorAddr, new(uint256.Int).Add(debt, u64(1)), nil, nil)
	requireErrorIs(t, err, ErrLiquidatingTooMuch)

	env.fund(testToken0, liquidatorAddr, e18(50))
	if err := env.ledger.Transfer(testToken0, liquidatorAddr, env.b0.Address(), e18(50)); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	_, err = env.b0.Liquidate(liquidatorAddr, borrowerAddr, liquidatorAddr, e18(100), nil, nil)
	requireErrorIs(t, err, ErrInsufficientRepay)
	if Kind(err) != KindRepayment {
		t.Fatalf("unexpected kind %s", Kind(err))
	}
	if held := env.shares(env.collateral.PoolToken, liquidatorAddr); !held.IsZero() {
		t.Fatalf("failed liquidation must roll back the seizure, liquidator holds %s", held)
	}
	requireEqual(t, env.shares(env.collateral.PoolToken, borrowerAddr), collateralShares, "borrower shares")
	requireEqual(t, env.debt(env.b0, borrowerAddr), debt, "debt unchanged")
}

func TestFlashLiquidationFundsRepayFromCallback(t *testing.T) {
	env := newUnderwaterEnv(t)
	debt := env.debt(env.b0, borrowerAddr)
	declared := e18(200)
	sent := e18(210)

	var seenShares *uint256.Int
	callee := liquidateCalleeFunc(func(sender, borrower common.Address, repay, seized *uint256.Int, data []byte) error {
		seenShares = env.shares(env.collateral.PoolToken, liquidatorAddr)
		requireEqual(t, seenShares, seized, "shares seized before callback")
		env.fund(testToken0, liquidatorAddr, sent)
		return env.ledger.Transfer(testToken0, liquidatorAddr, env.b0.Address(), sent)
	})
	seized, err := env.b0.Liquidate(liquidatorAddr, borrowerAddr, liquidatorAddr, declared, callee, []byte("flash"))
	if err != nil {
		t.Fatalf("flash liquidate: %v", err)
	}
	if seenShares == nil || seenShares.IsZero() || !seized.Eq(seenShares) {
		t.Fatalf("callback saw %v, seized %v", seenShares, seized)
	}
	// The whole amount received counts against the debt, not only the declared part.
	requireEqual(t, env.debt(env.b0, borrowerAddr), new(uint256.Int).Sub(debt, sent), "remaining debt")
}

func TestLiquidateFullDebtClearsRecord(t *testing.T) {
	env := newUnderwaterEnv(t)
	debt := env.debt(env.b0, borrowerAddr)
	extra := new(uint256.Int).Add(debt, e18(5))
	env.fund(testToken0, liquidatorAddr, extra)
	if err := env.ledger.Transfer(testToken0, liquidatorAddr, env.b0.Address(), extra); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if _, err := env.b0.Liquidate(liquidatorAddr, borrowerAddr, liquidatorAddr, debt, nil, nil); err != nil {
		t.Fatalf("liquidate: %v", err)
	}
	if d := env.debt(env.b0, borrowerAddr); !d.IsZero() {
		t.Fatalf("debt after full liquidation: %s", d)
	}
	if ok, _ := env.state.KVGet(borrowSnapshotKey(env.b0.Address(), borrowerAddr), nil); ok {
		t.Fatalf("full liquidation should delete the snapshot")
	}
	total, _ := env.b0.TotalBorrows()
	if !total.IsZero() {
		t.Fatalf("total borrows after full liquidation: %s", total)
	}
}

func TestSeizeCapUsesHoldingsNotShortfall(t *testing.T) {
	env := newUnderwaterEnv(t)
	_, shortfall, err := env.collateral.AccountLiquidity(borrowerAddr)
	if err != nil {
		t.Fatalf("account liquidity: %v", err)
	}

	seized, err := env.collateral.Seize(env.b0.Address(), liquidatorAddr, borrowerAddr, e18(1000))
	if err != nil {
		t.Fatalf("seize: %v", err)
	}
	if !seized.Gt(shortfall) {
		t.Fatalf("seize of %s should exceed shortfall %s", seized, shortfall)
	}
	remaining := env.shares(env.collateral.PoolToken, borrowerAddr)

	_, err = env.collateral.Seize(env.b0.Address(), liquidatorAddr, borrowerAddr, e18(5000))
	requireErrorIs(t, err, ErrLiquidatingTooMuch)
	requireEqual(t, env.shares(env.collateral.PoolToken, borrowerAddr), remaining, "holdings after rejected seize")
}

func TestReentrancyRejectedAtEveryDepth(t *testing.T) {
	env := newTestEnv(t)
	env.lend(env.b0, e18(5000))
	env.lend(env.b1, e18(5000))
	env.postCollateral(borrowerAddr, e18(1000))

	type entry struct {
		name  string
		enter func(next func() error) error
	}
	flashRedeem := entry{"flash_redeem", func(next func() error) error {
		return env.collateral.FlashRedeem(borrowerAddr, borrowerAddr, e18(1), redeemCalleeFunc(
			func(common.Address, *uint256.Int, []byte) error { return next() }), []byte{1})
	}}
	borrow0 := entry{"borrow0", func(next func() error) error {
		return env.b0.Borrow(borrowerAddr, borrowerAddr, receiverAddr, e18(1), borrowCalleeFunc(
			func(common.Address, common.Address, *uint256.Int, []byte) error { return next() }), []byte{1})
	}}
	borrow1 := entry{"borrow1", func(next func() error) error {
		return env.b1.Borrow(borrowerAddr, borrowerAddr, receiverAddr, e18(1), borrowCalleeFunc(
			func(common.Address, common.Address, *uint256.Int, []byte) error { return next() }), []byte{1})
	}}

	// Each chain re-enters its first pool at the end after passing through
	// the others.
	chains := [][]entry{
		{borrow0, borrow0},
		{borrow0, borrow1, borrow0},
		{borrow0, borrow1, flashRedeem, borrow0},
		{flashRedeem, flashRedeem},
		{flashRedeem, borrow0, flashRedeem},
		{flashRedeem, borrow0, borrow1, flashRedeem},
	}
	for _, chain := range chains {
		var innermost error
		var run func(level int) error
		run = func(level int) error {
			if level == len(chain)-1 {
				innermost = chain[level].enter(func() error { return nil })
				return innermost
			}
			return chain[level].enter(func() error { return run(level + 1) })
		}
		err := run(0)
		requireErrorIs(t, err, ErrReentered)
		requireErrorIs(t, innermost, ErrReentered)
		if Kind(innermost) != KindReentrancy {
			t.Fatalf("%s chain of depth %d: unexpected kind %s", chain[0].name, len(chain)-1, Kind(innermost))
		}
	}

	if !env.balance(testToken0, receiverAddr).IsZero() || !env.balance(env.pair, borrowerAddr).IsZero() {
		t.Fatalf("reverted chains must not pay out")
	}
	if err := env.b0.Borrow(borrowerAddr, borrowerAddr, receiverAddr, e18(1), nil, nil); err != nil {
		t.Fatalf("borrow after reentrancy: %v", err)
	}
}

func TestLiquidationCounterCountsCommittedOnly(t *testing.T) {
	env := newUnderwaterEnv(t)
	const name = "pairlend_lending_liquidations_total"
	label := env.b0.label()
	before := metricValue(t, name, label)

	liquidate := func() error {
		repay := e18(100)
		env.fund(testToken0, liquidatorAddr, repay)
		if err := env.ledger.Transfer(testToken0, liquidatorAddr, env.b0.Address(), repay); err != nil {
			return err
		}
		_, err := env.b0.Liquidate(liquidatorAddr, borrowerAddr, liquidatorAddr, repay, nil, nil)
		return err
	}
	errAbort := errors.New("abort")
	err := env.engine.Execute("test_batch", func() error {
		if err := liquidate(); err != nil {
			t.Fatalf("liquidate: %v", err)
		}
		return errAbort
	})
	requireErrorIs(t, err, errAbort)
	if got := metricValue(t, name, label); got != before {
		t.Fatalf("reverted liquidation counted: %v, want %v", got, before)
	}

	if err := env.engine.Execute("test_batch", liquidate); err != nil {
		t.Fatalf("committed liquidation: %v", err)
	}
	if got := metricValue(t, name, label); got != before+1 {
		t.Fatalf("liquidations = %v, want %v", got, before+1)
	}
}
