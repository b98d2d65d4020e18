package simulator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
	"github.com/holiman/uint256"

	"pairlend/core/events"
	"pairlend/core/state"
	"pairlend/crypto"
	"pairlend/native/bank"
	"pairlend/native/lending"
	"pairlend/native/swap"
	"pairlend/observability/metrics"
	"pairlend/storage"
)

// ErrUnexpectedOutcome reports a step whose result did not match its
// expect_error setting.
var ErrUnexpectedOutcome = errors.New("simulator: unexpected step outcome")

// Options configures a Runner.
type Options struct {
	ChainID       uint64
	Admin         common.Address
	ReservesAdmin common.Address
	Risk          lending.RiskParameters
	TWAPWindow    uint64
	SampleCap     int
	Logger        *slog.Logger
	Metrics       *metrics.LendingMetrics
}

// Runner executes scenarios against a full in-process lending stack.
type Runner struct {
	runID   string
	logger  *slog.Logger
	state   *state.Manager
	ledger  *bank.Ledger
	pairs   *swap.Pairs
	oracle  *swap.Oracle
	engine  *lending.Engine
	factory *lending.Factory

	scenario *Scenario
	pair     common.Address
	token0   common.Address
	token1   common.Address
}

// StepResult is the outcome of one scenario step.
type StepResult struct {
	Index  int     `json:"index"`
	Action string  `json:"action"`
	Error  string  `json:"error,omitempty"`
	Report *Report `json:"report,omitempty"`
}

// Report is a snapshot of an account's position and the pool state.
type Report struct {
	Account          string `json:"account"`
	CollateralShares string `json:"collateral_shares"`
	Debt0            string `json:"debt0"`
	Debt1            string `json:"debt1"`
	Liquidity        string `json:"liquidity"`
	Shortfall        string `json:"shortfall"`
	Price0           string `json:"price0"`
	Price1           string `json:"price1"`
	BorrowRate0      string `json:"borrow_rate0"`
	BorrowRate1      string `json:"borrow_rate1"`
	ExchangeRate0    string `json:"exchange_rate0"`
	ExchangeRate1    string `json:"exchange_rate1"`
}

// New builds the stack over db. The factory is opened with the configured
// roles and risk parameters.
func New(db storage.Database, opts Options) (*Runner, error) {
	if db == nil {
		return nil, fmt.Errorf("simulator: database required")
	}
	runID := uuid.NewString()
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("run_id", runID)

	manager := state.NewManager(db)
	ledger := bank.NewLedger(manager)
	pairs := swap.NewPairs(manager, ledger)
	engine := lending.NewEngine(manager, ledger)
	engine.SetLogger(logger)
	engine.SetMetrics(opts.Metrics)
	if opts.ChainID != 0 {
		engine.SetChainID(opts.ChainID)
	}
	oracle := swap.NewOracle(pairs, engine.BlockTime)
	if opts.TWAPWindow > 0 {
		oracle.SetWindow(opts.TWAPWindow)
	}
	oracle.SetSampleCap(opts.SampleCap)

	r := &Runner{
		runID:  runID,
		logger: logger,
		state:  manager,
		ledger: ledger,
		pairs:  pairs,
		oracle: oracle,
		engine: engine,
	}
	engine.SetEmitter(events.EmitterFunc(r.logEvent))

	factory, err := lending.NewFactory(engine, opts.Admin, opts.ReservesAdmin, pairs, oracle)
	if err != nil {
		return nil, fmt.Errorf("simulator: open factory: %w", err)
	}
	if opts.Risk.ReserveFactor != nil {
		if err := factory.SetDefaultParameters(opts.Risk); err != nil {
			return nil, fmt.Errorf("simulator: risk parameters: %w", err)
		}
	}
	r.factory = factory
	return r, nil
}

// RunID identifies the runner in every log line it writes.
func (r *Runner) RunID() string { return r.runID }

// Engine exposes the lending engine, mainly for tests.
func (r *Runner) Engine() *lending.Engine { return r.engine }

// Factory exposes the lending factory.
func (r *Runner) Factory() *lending.Factory { return r.factory }

func (r *Runner) logEvent(ev events.Event) {
	attrs := []any{"type", ev.EventType()}
	if attributed, ok := ev.(events.Attributed); ok {
		rendered := attributed.Event()
		for _, key := range rendered.Keys() {
			attrs = append(attrs, key, rendered.Attributes[key])
		}
	}
	r.logger.Info("lending event", attrs...)
}

// Run executes every step of sc in order. A step that fails without
// expecting to, or that succeeds while expecting an error, stops the run.
func (r *Runner) Run(ctx context.Context, sc *Scenario) ([]StepResult, error) {
	if sc == nil {
		return nil, fmt.Errorf("simulator: scenario required")
	}
	r.scenario = sc
	r.token0 = r.resolve(sc.Token0)
	r.token1 = r.resolve(sc.Token1)
	if sc.StartTime > 0 {
		r.engine.SetBlockTime(sc.StartTime)
	}
	r.logger.Info("scenario started", "scenario", sc.Name, "steps", len(sc.Steps))

	results := make([]StepResult, 0, len(sc.Steps))
	for i, step := range sc.Steps {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		report, err := r.apply(step)
		result := StepResult{Index: i, Action: step.Action, Report: report}
		if err != nil {
			result.Error = err.Error()
		}
		results = append(results, result)

		logArgs := []any{"step", i, "action", step.Action, "account", step.Account, "time", r.engine.BlockTime()}
		switch {
		case step.ExpectError == "" && err != nil:
			r.logger.Error("scenario step failed", append(logArgs, "error", err)...)
			return results, fmt.Errorf("simulator: step %d (%s): %w", i, step.Action, err)
		case step.ExpectError != "" && err == nil:
			r.logger.Error("scenario step unexpectedly succeeded", append(logArgs, "expected", step.ExpectError)...)
			return results, fmt.Errorf("%w: step %d (%s) expected %q", ErrUnexpectedOutcome, i, step.Action, step.ExpectError)
		case step.ExpectError != "" && !matchesExpectation(err, step.ExpectError):
			r.logger.Error("scenario step failed differently", append(logArgs, "expected", step.ExpectError, "error", err)...)
			return results, fmt.Errorf("%w: step %d (%s) expected %q, got %v", ErrUnexpectedOutcome, i, step.Action, step.ExpectError, err)
		case err != nil:
			r.logger.Info("scenario step rejected as expected", append(logArgs, "error", err, "kind", lending.Kind(err).String())...)
		default:
			r.logger.Info("scenario step applied", logArgs...)
		}
		if report != nil {
			r.logger.Info("position report",
				"account", report.Account,
				"collateral_shares", report.CollateralShares,
				"debt0", report.Debt0,
				"debt1", report.Debt1,
				"liquidity", report.Liquidity,
				"shortfall", report.Shortfall,
				"borrow_rate0", report.BorrowRate0,
				"borrow_rate1", report.BorrowRate1)
		}
	}
	r.logger.Info("scenario finished", "scenario", sc.Name)
	return results, nil
}

func matchesExpectation(err error, expected string) bool {
	if err == nil {
		return false
	}
	expected = strings.ToLower(expected)
	return lending.Kind(err).String() == expected || strings.Contains(strings.ToLower(err.Error()), expected)
}

// resolve maps a scenario name or hex string to an address.
func (r *Runner) resolve(name string) common.Address {
	if r.scenario != nil {
		if mapped, ok := r.scenario.Accounts[name]; ok {
			name = mapped
		}
	}
	switch strings.ToLower(name) {
	case "token0":
		return r.token0
	case "token1":
		return r.token1
	case "pair":
		return r.pair
	}
	if common.IsHexAddress(name) {
		return common.HexToAddress(name)
	}
	return common.BytesToAddress(ethcrypto.Keccak256([]byte("simulator/" + name))[12:])
}

func (r *Runner) amount(value string) (*uint256.Int, error) {
	return lending.ParseMantissa(value)
}

func (r *Runner) borrowable(pool string) (*lending.Borrowable, error) {
	side := lending.Side0
	if pool == PoolBorrowable1 {
		side = lending.Side1
	}
	return r.factory.Borrowable(r.pair, side)
}

func (r *Runner) apply(step Step) (*Report, error) {
	switch step.Action {
	case ActionCreatePair:
		return nil, r.createPair()
	case ActionAdvance:
		r.engine.AdvanceTime(step.Seconds)
		return nil, nil
	case ActionObservePrice:
		if step.Price == "" {
			return nil, r.engine.Execute("simulator_observe_price", func() error {
				return r.oracle.ObserveSpot(r.pair)
			})
		}
		price, err := r.amount(step.Price)
		if err != nil {
			return nil, err
		}
		return nil, r.engine.Execute("simulator_observe_price", func() error {
			return r.oracle.Observe(r.pair, price, r.engine.BlockTime())
		})
	case ActionReport:
		return r.report(r.resolve(step.Account))
	}

	amount, err := r.amount(step.Amount)
	if err != nil {
		return nil, err
	}
	account := r.resolve(step.Account)
	return nil, r.engine.Execute("simulator_"+step.Action, func() error {
		switch step.Action {
		case ActionFund:
			return r.ledger.Mint(r.resolve(step.Token), account, amount)
		case ActionAddLiquidity:
			amount1, err := r.amount(step.Amount1)
			if err != nil {
				return err
			}
			_, err = r.pairs.AddLiquidity(r.pair, account, account, amount, amount1)
			return err
		case ActionSetReserves:
			amount1, err := r.amount(step.Amount1)
			if err != nil {
				return err
			}
			return r.pairs.SetReserves(r.pair, amount, amount1)
		case ActionLend:
			b, err := r.borrowable(step.Pool)
			if err != nil {
				return err
			}
			return r.deposit(b.PoolToken, account, amount)
		case ActionDepositCollateral:
			c, err := r.factory.Collateral(r.pair)
			if err != nil {
				return err
			}
			return r.deposit(c.PoolToken, account, amount)
		case ActionBorrow:
			b, err := r.borrowable(step.Pool)
			if err != nil {
				return err
			}
			return b.Borrow(account, account, account, amount, nil, nil)
		case ActionRepay:
			b, err := r.borrowable(step.Pool)
			if err != nil {
				return err
			}
			if err := r.payIn(b.PoolToken, account, amount); err != nil {
				return err
			}
			return b.Repay(account, account)
		case ActionLiquidate:
			b, err := r.borrowable(step.Pool)
			if err != nil {
				return err
			}
			if err := r.payIn(b.PoolToken, account, amount); err != nil {
				return err
			}
			_, err = b.Liquidate(account, r.resolve(step.Target), account, amount, nil, nil)
			return err
		case ActionRedeem:
			pool, err := r.poolToken(step.Pool)
			if err != nil {
				return err
			}
			if err := pool.Transfer(account, pool.Address(), amount); err != nil {
				return err
			}
			_, err = pool.Redeem(account, account)
			return err
		default:
			return fmt.Errorf("simulator: unknown action %q", step.Action)
		}
	})
}

func (r *Runner) poolToken(pool string) (*lending.PoolToken, error) {
	if pool == PoolCollateral {
		c, err := r.factory.Collateral(r.pair)
		if err != nil {
			return nil, err
		}
		return c.PoolToken, nil
	}
	b, err := r.borrowable(pool)
	if err != nil {
		return nil, err
	}
	return b.PoolToken, nil
}

func (r *Runner) createPair() error {
	err := r.engine.Execute("simulator_create_pair", func() error {
		pair, err := r.pairs.CreatePair(r.token0, r.token1)
		if err != nil {
			return err
		}
		r.pair = pair
		if _, err := r.factory.CreateCollateral(pair); err != nil {
			return err
		}
		if _, err := r.factory.CreateBorrowable0(pair); err != nil {
			return err
		}
		if _, err := r.factory.CreateBorrowable1(pair); err != nil {
			return err
		}
		return r.factory.InitializeLendingPool(pair)
	})
	if err != nil {
		return err
	}
	// Pair ordering may swap the scenario's tokens; steps follow the pair.
	if r.token0, r.token1, err = r.pairs.Tokens(r.pair); err != nil {
		return err
	}
	r.logger.Info("pair created",
		"pair", crypto.FromCommon(crypto.PoolPrefix, r.pair).String(),
		"token0", r.token0.Hex(),
		"token1", r.token1.Hex())
	return nil
}

// payIn moves amount of the pool's underlying from account into the pool.
func (r *Runner) payIn(pool *lending.PoolToken, account common.Address, amount *uint256.Int) error {
	underlying, err := pool.Underlying()
	if err != nil {
		return err
	}
	return r.ledger.Transfer(underlying, account, pool.Address(), amount)
}

func (r *Runner) deposit(pool *lending.PoolToken, account common.Address, amount *uint256.Int) error {
	if err := r.payIn(pool, account, amount); err != nil {
		return err
	}
	_, err := pool.Mint(account, account)
	return err
}

// report reads the position of account without persisting the accrual it
// implies.
func (r *Runner) report(account common.Address) (*Report, error) {
	out := &Report{Account: crypto.FromCommon(crypto.AccountPrefix, account).String()}
	err := r.engine.Simulate(func() error {
		c, err := r.factory.Collateral(r.pair)
		if err != nil {
			return err
		}
		b0, err := r.factory.Borrowable(r.pair, lending.Side0)
		if err != nil {
			return err
		}
		b1, err := r.factory.Borrowable(r.pair, lending.Side1)
		if err != nil {
			return err
		}
		shares, err := c.BalanceOf(account)
		if err != nil {
			return err
		}
		out.CollateralShares = lending.FormatMantissa(shares)
		for _, side := range []struct {
			pool     *lending.Borrowable
			debt     *string
			rate     *string
			exchange *string
		}{
			{b0, &out.Debt0, &out.BorrowRate0, &out.ExchangeRate0},
			{b1, &out.Debt1, &out.BorrowRate1, &out.ExchangeRate1},
		} {
			debt, err := side.pool.CurrentBorrowBalance(account)
			if err != nil {
				return err
			}
			*side.debt = lending.FormatMantissa(debt)
			rate, err := side.pool.BorrowRate()
			if err != nil {
				return err
			}
			*side.rate = lending.FormatMantissa(new(uint256.Int).Mul(rate, uint256.NewInt(lending.SecondsPerYear)))
			exchange, err := side.pool.ExchangeRate()
			if err != nil {
				return err
			}
			*side.exchange = lending.FormatMantissa(exchange)
		}
		liquidity, shortfall, err := c.AccountLiquidity(account)
		if err != nil {
			return err
		}
		out.Liquidity = lending.FormatMantissa(liquidity)
		out.Shortfall = lending.FormatMantissa(shortfall)
		price0, price1, err := c.GetPrices()
		if err != nil {
			return err
		}
		out.Price0 = lending.FormatMantissa(price0)
		out.Price1 = lending.FormatMantissa(price1)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
