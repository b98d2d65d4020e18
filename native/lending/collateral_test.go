package lending

import (
	"math"
	"strconv"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

func parseFloat(t *testing.T, s string) float64 {
	t.Helper()
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		t.Fatalf("parse %q: %v", s, err)
	}
	return v
}

func TestGetPricesBalancedPair(t *testing.T) {
	c, _ := newStubCollateral(t,
		&stubPair{reserve0: e18(1000), reserve1: e18(1000), supply: e18(500)},
		&stubOracle{price: one()})
	price0, price1, err := c.GetPrices()
	if err != nil {
		t.Fatalf("get prices: %v", err)
	}
	requireEqual(t, price0, MustParseMantissa("0.25"), "price0")
	requireEqual(t, price1, MustParseMantissa("0.25"), "price1")
}

func TestGetPricesCorrectsTowardOracle(t *testing.T) {
	cases := []struct {
		oracle, priceNow, supply, reserve0 string
	}{
		{"0.03489", "0.03965", "1000", "2000"},
		{"2384574567", "4584574567", "1000000", "2"},
		{"0.0000004834", "0.0000002134", "10000", "3489465"},
	}
	for _, tc := range cases {
		reserve0 := MustParseMantissa(tc.reserve0)
		reserve1, err := mulMantissa(reserve0, MustParseMantissa(tc.priceNow))
		if err != nil {
			t.Fatalf("reserve1: %v", err)
		}
		c, _ := newStubCollateral(t,
			&stubPair{reserve0: reserve0, reserve1: reserve1, supply: MustParseMantissa(tc.supply)},
			&stubOracle{price: MustParseMantissa(tc.oracle)})
		price0, price1, err := c.GetPrices()
		if err != nil {
			t.Fatalf("%s/%s: get prices: %v", tc.oracle, tc.priceNow, err)
		}

		oracle := parseFloat(t, tc.oracle)
		now := parseFloat(t, tc.priceNow)
		supply := parseFloat(t, tc.supply)
		r0 := parseFloat(t, tc.reserve0)
		r1 := r0 * now
		adjustment := math.Sqrt(oracle / now)
		requireAlmost(t, price0, supply/(2*r0)*adjustment, "price0 "+tc.oracle)
		requireAlmost(t, price1, supply/(2*r1)/adjustment, "price1 "+tc.oracle)
	}
}

func TestGetPricesRejectsImplausibleValues(t *testing.T) {
	big := func(s string) *uint256.Int { return uint256.MustFromDecimal(s) }
	cases := []struct {
		name string
		pair *stubPair
		ref  *uint256.Int
	}{
		{
			name: "price1 below minimum",
			pair: &stubPair{reserve0: u64(1), reserve1: big("200000000000000000000000000000000"), supply: big("14142000000000000")},
			ref:  big("200000000000000000000000000000000000000000000000000"),
		},
		{
			name: "spot rounds to zero",
			pair: &stubPair{reserve0: big("200000000000000000000000000000000"), reserve1: u64(1), supply: big("14142000000000000")},
			ref:  u64(5000),
		},
		{
			name: "dust supply",
			pair: &stubPair{reserve0: big("14142000000000000"), reserve1: big("14142000000000000"), supply: u64(1)},
			ref:  one(),
		},
		{
			name: "empty reserves",
			pair: &stubPair{reserve0: zero(), reserve1: e18(1), supply: e18(1)},
			ref:  one(),
		},
		{
			name: "zero reference",
			pair: &stubPair{reserve0: e18(1), reserve1: e18(1), supply: e18(1)},
			ref:  zero(),
		},
	}
	for _, tc := range cases {
		c, _ := newStubCollateral(t, tc.pair, &stubOracle{price: tc.ref})
		if _, _, err := c.GetPrices(); err != ErrPriceCalculation {
			t.Fatalf("%s: expected ErrPriceCalculation, got %v", tc.name, err)
		}
	}
}

func TestCalculateLiquidityAtParity(t *testing.T) {
	c, _ := newStubCollateral(t,
		&stubPair{reserve0: e18(500), reserve1: e18(500), supply: e18(1000)},
		&stubOracle{price: one()})
	mustSet := func(err error) {
		t.Helper()
		if err != nil {
			t.Fatalf("set parameter: %v", err)
		}
	}

	mustSet(c.SetSafetyMarginSqrt(adminAddr, mustSqrtMantissa("2.5")))
	mustSet(c.SetLiquidationIncentive(adminAddr, MustParseMantissa("1.01")))
	liquidity, shortfall, err := c.CalculateLiquidity(e18(280), e18(100), e18(100))
	if err != nil {
		t.Fatalf("calculate: %v", err)
	}
	margin := math.Sqrt(2.5)
	requireAlmost(t, liquidity, 280-(100*margin+100/margin)*1.01, "liquidity")
	if !shortfall.IsZero() {
		t.Fatalf("unexpected shortfall %s", shortfall)
	}

	// Exactly covered debt leaves neither liquidity nor shortfall.
	mustSet(c.SetSafetyMarginSqrt(adminAddr, mustSqrtMantissa("2.25")))
	mustSet(c.SetLiquidationIncentive(adminAddr, MustParseMantissa("1.02")))
	liquidity, shortfall, err = c.CalculateLiquidity(e18(3060), zero(), e18(2000))
	if err != nil {
		t.Fatalf("calculate: %v", err)
	}
	if !liquidity.IsZero() || !shortfall.IsZero() {
		t.Fatalf("expected exact cover, got liquidity %s shortfall %s", liquidity, shortfall)
	}

	liquidity, shortfall, err = c.CalculateLiquidity(e18(3000), e18(2000), zero())
	if err != nil {
		t.Fatalf("calculate: %v", err)
	}
	requireEqual(t, shortfall, e18(60), "shortfall")
	if !liquidity.IsZero() {
		t.Fatalf("liquidity with shortfall: %s", liquidity)
	}
}

func TestCalculateLiquidityStressesLargerLeg(t *testing.T) {
	// reserves 100/2000 with supply 2260 price token0 at 11.3 and token1 at 0.565
	c, _ := newStubCollateral(t,
		&stubPair{reserve0: e18(100), reserve1: e18(2000), supply: e18(2260)},
		&stubOracle{price: e18(20)})
	price0, price1, err := c.GetPrices()
	if err != nil {
		t.Fatalf("get prices: %v", err)
	}
	requireEqual(t, price0, MustParseMantissa("11.3"), "price0")
	requireEqual(t, price1, MustParseMantissa("0.565"), "price1")

	margin := math.Sqrt(2.5)
	cases := []struct {
		collateral, amount0, amount1 uint64
	}{
		{1000, 20, 150},
		{1000, 5, 400},
		{100, 20, 150},
	}
	for _, tc := range cases {
		liquidity, shortfall, err := c.CalculateLiquidity(e18(tc.collateral), e18(tc.amount0), e18(tc.amount1))
		if err != nil {
			t.Fatalf("calculate: %v", err)
		}
		a := float64(tc.amount0) * 11.3
		b := float64(tc.amount1) * 0.565
		high, low := math.Max(a, b), math.Min(a, b)
		net := float64(tc.collateral) - (high*margin+low/margin)*1.04
		if net >= 0 {
			requireAlmost(t, liquidity, net, "liquidity")
			if !shortfall.IsZero() {
				t.Fatalf("unexpected shortfall %s", shortfall)
			}
		} else {
			requireAlmost(t, shortfall, -net, "shortfall")
			if !liquidity.IsZero() {
				t.Fatalf("unexpected liquidity %s", liquidity)
			}
		}
	}
}

func TestCalculateLiquidityWithoutDebtSkipsPricing(t *testing.T) {
	c, _ := newStubCollateral(t,
		&stubPair{reserve0: zero(), reserve1: zero(), supply: zero()},
		&stubOracle{price: zero()})
	liquidity, shortfall, err := c.CalculateLiquidity(e18(5), zero(), zero())
	if err != nil {
		t.Fatalf("calculate: %v", err)
	}
	requireEqual(t, liquidity, e18(5), "liquidity")
	if !shortfall.IsZero() {
		t.Fatalf("unexpected shortfall %s", shortfall)
	}
}

func TestCollateralSettersAreBounded(t *testing.T) {
	c, _ := newStubCollateral(t,
		&stubPair{reserve0: e18(1), reserve1: e18(1), supply: e18(1)},
		&stubOracle{price: one()})
	requireErrorIs(t, c.SetSafetyMarginSqrt(borrowerAddr, mustSqrtMantissa("2")), ErrUnauthorized)
	requireErrorIs(t, c.SetSafetyMarginSqrt(adminAddr, mustSqrtMantissa("1.4")), ErrInvalidSetting)
	requireErrorIs(t, c.SetSafetyMarginSqrt(adminAddr, mustSqrtMantissa("2.6")), ErrInvalidSetting)
	requireErrorIs(t, c.SetLiquidationIncentive(adminAddr, MustParseMantissa("1.005")), ErrInvalidSetting)
	requireErrorIs(t, c.SetLiquidationIncentive(adminAddr, MustParseMantissa("1.06")), ErrInvalidSetting)
	if err := c.SetLiquidationIncentive(adminAddr, MustParseMantissa("1.05")); err != nil {
		t.Fatalf("upper bound should be accepted: %v", err)
	}
}

func TestCollateralLocksBorrowedValue(t *testing.T) {
	env := newTestEnv(t)
	env.lend(env.b0, e18(5000))
	shares := env.postCollateral(borrowerAddr, e18(1000))
	if err := env.b0.Borrow(borrowerAddr, borrowerAddr, borrowerAddr, e18(500), nil, nil); err != nil {
		t.Fatalf("borrow: %v", err)
	}

	ok, err := env.collateral.TokensUnlocked(borrowerAddr, e18(100))
	if err != nil || !ok {
		t.Fatalf("small withdrawal should stay unlocked: %v %v", ok, err)
	}
	ok, err = env.collateral.TokensUnlocked(borrowerAddr, shares)
	if err != nil || ok {
		t.Fatalf("full withdrawal should be locked: %v %v", ok, err)
	}
	requireErrorIs(t, env.collateral.Transfer(borrowerAddr, receiverAddr, shares), ErrInsufficientLiquidity)
	if err := env.collateral.Transfer(borrowerAddr, receiverAddr, e18(100)); err != nil {
		t.Fatalf("unlocked transfer: %v", err)
	}
	requireEqual(t, env.shares(env.collateral.PoolToken, receiverAddr), e18(100), "receiver shares")

	liquidity, shortfall, err := env.collateral.AccountLiquidity(borrowerAddr)
	if err != nil {
		t.Fatalf("account liquidity: %v", err)
	}
	if liquidity.IsZero() || !shortfall.IsZero() {
		t.Fatalf("borrower should remain solvent: liquidity %s shortfall %s", liquidity, shortfall)
	}
}

func TestCanBorrowRejectsUnknownBorrowable(t *testing.T) {
	env := newTestEnv(t)
	for _, addr := range []common.Address{{}, receiverAddr, env.collateral.Address()} {
		if _, err := env.collateral.CanBorrow(borrowerAddr, addr, e18(1)); err != ErrInvalidBorrowable {
			t.Fatalf("%s: expected ErrInvalidBorrowable, got %v", addr.Hex(), err)
		}
	}
	ok, err := env.collateral.CanBorrow(borrowerAddr, env.b1.Address(), zero())
	if err != nil || !ok {
		t.Fatalf("zero debt is always allowed: %v %v", ok, err)
	}
}

func TestSeizeRequiresBorrowableCaller(t *testing.T) {
	env := newTestEnv(t)
	env.postCollateral(borrowerAddr, e18(1000))
	_, err := env.collateral.Seize(liquidatorAddr, liquidatorAddr, borrowerAddr, e18(1))
	requireErrorIs(t, err, ErrUnauthorized)
	_, err = env.collateral.Seize(common.Address{}, liquidatorAddr, borrowerAddr, e18(1))
	requireErrorIs(t, err, ErrUnauthorized)
	_, err = env.collateral.Seize(env.b0.Address(), liquidatorAddr, borrowerAddr, e18(1))
	requireErrorIs(t, err, ErrInsufficientShortfall)
}

func TestFlashRedeem(t *testing.T) {
	env := newTestEnv(t)
	shares := env.postCollateral(borrowerAddr, e18(1000))
	amount := e18(100)
	payment := new(uint256.Int).Add(amount, u64(1))

	callee := redeemCalleeFunc(func(sender common.Address, got *uint256.Int, data []byte) error {
		requireEqual(t, env.balance(env.pair, borrowerAddr), amount, "lp received before payment")
		return env.collateral.Transfer(borrowerAddr, env.collateral.Address(), payment)
	})
	if err := env.collateral.FlashRedeem(borrowerAddr, borrowerAddr, amount, callee, []byte("redeem")); err != nil {
		t.Fatalf("flash redeem: %v", err)
	}
	requireEqual(t, env.balance(env.pair, borrowerAddr), amount, "lp redeemed")
	requireEqual(t, env.shares(env.collateral.PoolToken, borrowerAddr), new(uint256.Int).Sub(shares, payment), "remaining shares")
	balance, _ := env.collateral.TotalBalance()
	requireEqual(t, balance, e18(900), "collateral cash")
	if held := env.shares(env.collateral.PoolToken, env.collateral.Address()); !held.IsZero() {
		t.Fatalf("pool kept %s of its own shares", held)
	}
}

func TestFlashRedeemRequiresPayment(t *testing.T) {
	env := newTestEnv(t)
	shares := env.postCollateral(borrowerAddr, e18(1000))

	short := redeemCalleeFunc(func(common.Address, *uint256.Int, []byte) error {
		return env.collateral.Transfer(borrowerAddr, env.collateral.Address(), e18(100))
	})
	err := env.collateral.FlashRedeem(borrowerAddr, borrowerAddr, e18(100), short, []byte{1})
	requireErrorIs(t, err, ErrInsufficientRedeemTokens)
	if !env.balance(env.pair, borrowerAddr).IsZero() {
		t.Fatalf("failed flash redeem must return the lp tokens")
	}
	requireEqual(t, env.shares(env.collateral.PoolToken, borrowerAddr), shares, "shares restored")

	reenter := redeemCalleeFunc(func(common.Address, *uint256.Int, []byte) error {
		_, err := env.collateral.Mint(borrowerAddr, borrowerAddr)
		return err
	})
	err = env.collateral.FlashRedeem(borrowerAddr, borrowerAddr, e18(100), reenter, []byte{1})
	requireErrorIs(t, err, ErrReentered)

	err = env.collateral.FlashRedeem(borrowerAddr, borrowerAddr, e18(1001), nil, nil)
	requireErrorIs(t, err, ErrInsufficientCash)
}
