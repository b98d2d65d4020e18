package lending

import (
	"errors"
	"math"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus"

	"pairlend/core/events"
	"pairlend/core/state"
	"pairlend/native/bank"
	"pairlend/native/swap"
	"pairlend/storage"
)

const testStartTime = 1_700_000_000

var (
	adminAddr      = common.HexToAddress("0x00000000000000000000000000000000000000a0")
	reservesAddr   = common.HexToAddress("0x00000000000000000000000000000000000000a9")
	providerAddr   = common.HexToAddress("0x00000000000000000000000000000000000000c0")
	lenderAddr     = common.HexToAddress("0x00000000000000000000000000000000000000c1")
	borrowerAddr   = common.HexToAddress("0x00000000000000000000000000000000000000c2")
	liquidatorAddr = common.HexToAddress("0x00000000000000000000000000000000000000c3")
	spenderAddr    = common.HexToAddress("0x00000000000000000000000000000000000000c4")
	receiverAddr   = common.HexToAddress("0x00000000000000000000000000000000000000c5")

	testToken0 = common.HexToAddress("0x0000000000000000000000000000000000000001")
	testToken1 = common.HexToAddress("0x0000000000000000000000000000000000000002")
)

func e18(v uint64) *uint256.Int {
	return new(uint256.Int).Mul(u64(v), mantissaOne)
}

type testEnv struct {
	t        *testing.T
	state    *state.Manager
	ledger   *bank.Ledger
	pairs    *swap.Pairs
	oracle   *swap.Oracle
	engine   *Engine
	recorder *events.Recorder
	factory  *Factory
	pair     common.Address

	collateral *Collateral
	b0         *Borrowable
	b1         *Borrowable
}

// newBareEnv builds the stack with one funded pair of 10000/10000 reserves
// and a factory, but creates no pools.
func newBareEnv(t *testing.T) *testEnv {
	t.Helper()
	manager := state.NewManager(storage.NewMemDB())
	ledger := bank.NewLedger(manager)
	pairs := swap.NewPairs(manager, ledger)
	engine := NewEngine(manager, ledger)
	engine.SetBlockTime(testStartTime)
	engine.SetChainID(7)
	recorder := &events.Recorder{}
	engine.SetEmitter(recorder)
	oracle := swap.NewOracle(pairs, engine.BlockTime)

	pair, err := pairs.CreatePair(testToken0, testToken1)
	if err != nil {
		t.Fatalf("create pair: %v", err)
	}
	for _, token := range []common.Address{testToken0, testToken1} {
		if err := ledger.Mint(token, providerAddr, e18(10_000)); err != nil {
			t.Fatalf("fund provider: %v", err)
		}
	}
	if _, err := pairs.AddLiquidity(pair, providerAddr, providerAddr, e18(10_000), e18(10_000)); err != nil {
		t.Fatalf("add liquidity: %v", err)
	}
	factory, err := NewFactory(engine, adminAddr, reservesAddr, pairs, oracle)
	if err != nil {
		t.Fatalf("new factory: %v", err)
	}
	return &testEnv{
		t:        t,
		state:    manager,
		ledger:   ledger,
		pairs:    pairs,
		oracle:   oracle,
		engine:   engine,
		recorder: recorder,
		factory:  factory,
		pair:     pair,
	}
}

// newTestEnv additionally creates and initializes the lending pool of the pair.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := newBareEnv(t)
	if _, err := env.factory.CreateCollateral(env.pair); err != nil {
		t.Fatalf("create collateral: %v", err)
	}
	if _, err := env.factory.CreateBorrowable0(env.pair); err != nil {
		t.Fatalf("create borrowable0: %v", err)
	}
	if _, err := env.factory.CreateBorrowable1(env.pair); err != nil {
		t.Fatalf("create borrowable1: %v", err)
	}
	if err := env.factory.InitializeLendingPool(env.pair); err != nil {
		t.Fatalf("initialize lending pool: %v", err)
	}
	env.loadPools()
	env.recorder.Reset()
	return env
}

func (env *testEnv) loadPools() {
	env.t.Helper()
	var err error
	if env.collateral, err = env.factory.Collateral(env.pair); err != nil {
		env.t.Fatalf("collateral: %v", err)
	}
	if env.b0, err = env.factory.Borrowable(env.pair, Side0); err != nil {
		env.t.Fatalf("borrowable0: %v", err)
	}
	if env.b1, err = env.factory.Borrowable(env.pair, Side1); err != nil {
		env.t.Fatalf("borrowable1: %v", err)
	}
}

func (env *testEnv) fund(token, to common.Address, amount *uint256.Int) {
	env.t.Helper()
	if err := env.ledger.Mint(token, to, amount); err != nil {
		env.t.Fatalf("fund: %v", err)
	}
}

func (env *testEnv) balance(token, holder common.Address) *uint256.Int {
	env.t.Helper()
	bal, err := env.ledger.BalanceOf(token, holder)
	if err != nil {
		env.t.Fatalf("balance: %v", err)
	}
	return bal
}

func (env *testEnv) shares(pool *PoolToken, holder common.Address) *uint256.Int {
	env.t.Helper()
	bal, err := pool.BalanceOf(holder)
	if err != nil {
		env.t.Fatalf("share balance: %v", err)
	}
	return bal
}

// deposit moves amount of the pool's underlying from who into the pool and
// mints the shares to who.
func (env *testEnv) deposit(pool *PoolToken, who common.Address, amount *uint256.Int) *uint256.Int {
	env.t.Helper()
	underlying, err := pool.Underlying()
	if err != nil {
		env.t.Fatalf("underlying: %v", err)
	}
	if err := env.ledger.Transfer(underlying, who, pool.Address(), amount); err != nil {
		env.t.Fatalf("transfer to pool: %v", err)
	}
	minted, err := pool.Mint(who, who)
	if err != nil {
		env.t.Fatalf("mint: %v", err)
	}
	return minted
}

// lend funds lenderAddr with amount of the borrowable's token and deposits it.
func (env *testEnv) lend(b *Borrowable, amount *uint256.Int) *uint256.Int {
	env.t.Helper()
	underlying, _ := b.Underlying()
	env.fund(underlying, lenderAddr, amount)
	return env.deposit(b.PoolToken, lenderAddr, amount)
}

// postCollateral gives who amount LP tokens from the provider and deposits
// them into the collateral pool.
func (env *testEnv) postCollateral(who common.Address, amount *uint256.Int) *uint256.Int {
	env.t.Helper()
	if err := env.ledger.Transfer(env.pair, providerAddr, who, amount); err != nil {
		env.t.Fatalf("transfer lp: %v", err)
	}
	return env.deposit(env.collateral.PoolToken, who, amount)
}

func (env *testEnv) debt(b *Borrowable, who common.Address) *uint256.Int {
	env.t.Helper()
	d, err := b.CurrentBorrowBalance(who)
	if err != nil {
		env.t.Fatalf("borrow balance: %v", err)
	}
	return d
}

// maxBorrow searches the largest amount borrowerAddr can draw from b given
// the borrow fee.
func (env *testEnv) maxBorrow(b *Borrowable, who common.Address) *uint256.Int {
	env.t.Helper()
	canBorrow := func(amount *uint256.Int) bool {
		fee, err := mulMantissa(amount, BorrowFee)
		if err != nil {
			env.t.Fatalf("fee: %v", err)
		}
		prior, err := b.CurrentBorrowBalance(who)
		if err != nil {
			env.t.Fatalf("prior: %v", err)
		}
		total := new(uint256.Int).Add(prior, amount)
		total.Add(total, fee)
		ok, err := env.collateral.CanBorrow(who, b.Address(), total)
		if err != nil {
			env.t.Fatalf("can borrow: %v", err)
		}
		return ok
	}
	lo, hi := zero(), e18(1_000_000)
	for lo.Lt(hi) {
		mid := new(uint256.Int).Add(lo, hi)
		mid.Add(mid, u64(1))
		mid.Rsh(mid, 1)
		if canBorrow(mid) {
			lo = mid
		} else {
			hi = new(uint256.Int).Sub(mid, u64(1))
		}
	}
	return lo
}

// metricValue reads the pool-labelled sample of a lending metric from the
// default registry, zero when absent.
func metricValue(t *testing.T, name, pool string) float64 {
	t.Helper()
	families, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	for _, family := range families {
		if family.GetName() != name {
			continue
		}
		for _, sample := range family.GetMetric() {
			for _, label := range sample.GetLabel() {
				if label.GetName() != "pool" || label.GetValue() != pool {
					continue
				}
				if counter := sample.GetCounter(); counter != nil {
					return counter.GetValue()
				}
				return sample.GetGauge().GetValue()
			}
		}
	}
	return 0
}

func requireErrorIs(t *testing.T, err, target error) {
	t.Helper()
	if !errors.Is(err, target) {
		t.Fatalf("expected %v, got %v", target, err)
	}
}

func requireEqual(t *testing.T, got, want *uint256.Int, label string) {
	t.Helper()
	if got == nil || want == nil || !got.Eq(want) {
		t.Fatalf("%s: got %v, want %v", label, got, want)
	}
}

// requireAlmost compares a mantissa with a float within a relative tolerance,
// or an absolute one near zero.
func requireAlmost(t *testing.T, got *uint256.Int, want float64, label string) {
	t.Helper()
	value := mantissaFloat(got)
	diff := math.Abs(value - want)
	if diff <= 1e-9 || diff <= 1e-6*math.Abs(want) {
		return
	}
	t.Fatalf("%s: got %v, want %v", label, value, want)
}

type borrowCalleeFunc func(sender, borrower common.Address, amount *uint256.Int, data []byte) error

func (f borrowCalleeFunc) OnBorrow(sender, borrower common.Address, amount *uint256.Int, data []byte) error {
	return f(sender, borrower, amount, data)
}

type redeemCalleeFunc func(sender common.Address, amount *uint256.Int, data []byte) error

func (f redeemCalleeFunc) OnRedeem(sender common.Address, amount *uint256.Int, data []byte) error {
	return f(sender, amount, data)
}

type liquidateCalleeFunc func(sender, borrower common.Address, repay, seized *uint256.Int, data []byte) error

func (f liquidateCalleeFunc) OnLiquidate(sender, borrower common.Address, repay, seized *uint256.Int, data []byte) error {
	return f(sender, borrower, repay, seized, data)
}

// stubGovernance serves fixed roles to pools built outside a factory.
type stubGovernance struct {
	admin    common.Address
	reserves common.Address
}

func (g stubGovernance) Admin() (common.Address, error)           { return g.admin, nil }
func (g stubGovernance) ReservesManager() (common.Address, error) { return g.reserves, nil }

// stubPair and stubOracle feed fixed market data into price tests.
type stubPair struct {
	reserve0, reserve1, supply *uint256.Int
}

func (p *stubPair) Tokens(common.Address) (common.Address, common.Address, error) {
	return testToken0, testToken1, nil
}

func (p *stubPair) Reserves(common.Address) (*uint256.Int, *uint256.Int, error) {
	return clone(p.reserve0), clone(p.reserve1), nil
}

func (p *stubPair) TotalSupply(common.Address) (*uint256.Int, error) {
	return clone(p.supply), nil
}

type stubOracle struct {
	price *uint256.Int
}

func (o *stubOracle) Initialize(common.Address) error    { return nil }
func (o *stubOracle) IsInitialized(common.Address) bool { return true }
func (o *stubOracle) ReferencePrice(common.Address) (*uint256.Int, error) {
	return clone(o.price), nil
}

// newStubCollateral returns a standalone collateral pool over the fixed
// market data, administered by adminAddr.
func newStubCollateral(t *testing.T, pair *stubPair, oracle *stubOracle) (*Collateral, *Engine) {
	t.Helper()
	manager := state.NewManager(storage.NewMemDB())
	engine := NewEngine(manager, bank.NewLedger(manager))
	engine.SetBlockTime(testStartTime)
	c := newCollateral(engine, common.HexToAddress("0xc011"), stubGovernance{admin: adminAddr}, pair, oracle)
	err := engine.atomic("test_create", func() error {
		return c.create(common.HexToAddress("0xfa1"), common.HexToAddress("0xfac"), DefaultRiskParameters())
	})
	if err != nil {
		t.Fatalf("create collateral: %v", err)
	}
	return c, engine
}
