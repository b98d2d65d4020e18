package simulator

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Step actions understood by the runner.
const (
	ActionCreatePair        = "create-pair"
	ActionFund              = "fund"
	ActionAddLiquidity      = "add-liquidity"
	ActionLend              = "lend"
	ActionDepositCollateral = "deposit-collateral"
	ActionBorrow            = "borrow"
	ActionRepay             = "repay"
	ActionAdvance           = "advance"
	ActionObservePrice      = "observe-price"
	ActionSetReserves       = "set-reserves"
	ActionLiquidate         = "liquidate"
	ActionRedeem            = "redeem"
	ActionReport            = "report"
)

// Scenario is a scripted sequence of lending operations over one pair.
type Scenario struct {
	Name      string `yaml:"name"`
	StartTime uint64 `yaml:"start_time"`
	Token0    string `yaml:"token0"`
	Token1    string `yaml:"token1"`
	// Accounts maps names used by steps to hex addresses. Unlisted names
	// resolve to an address derived from the name.
	Accounts map[string]string `yaml:"accounts"`
	Steps    []Step            `yaml:"steps"`
}

// Step is one scenario operation. Amounts are decimal token units.
type Step struct {
	Action  string `yaml:"action"`
	Account string `yaml:"account"`
	// Target is the borrower of a liquidation.
	Target  string `yaml:"target,omitempty"`
	Token   string `yaml:"token,omitempty"`
	Pool    string `yaml:"pool,omitempty"`
	Amount  string `yaml:"amount,omitempty"`
	Amount1 string `yaml:"amount1,omitempty"`
	Seconds uint64 `yaml:"seconds,omitempty"`
	Price   string `yaml:"price,omitempty"`
	// ExpectError makes the step pass only when it fails with an error whose
	// kind or message contains the value.
	ExpectError string `yaml:"expect_error,omitempty"`
}

// LoadScenario reads a YAML scenario file.
func LoadScenario(path string) (*Scenario, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("simulator: read scenario: %w", err)
	}
	return ParseScenario(raw)
}

// ParseScenario decodes and validates a YAML scenario.
func ParseScenario(raw []byte) (*Scenario, error) {
	sc := new(Scenario)
	decoder := yaml.NewDecoder(bytes.NewReader(raw))
	decoder.KnownFields(true)
	if err := decoder.Decode(sc); err != nil {
		return nil, fmt.Errorf("simulator: decode scenario: %w", err)
	}
	sc.normalize()
	if err := sc.validate(); err != nil {
		return nil, err
	}
	return sc, nil
}

func (sc *Scenario) normalize() {
	sc.Name = strings.TrimSpace(sc.Name)
	if sc.Name == "" {
		sc.Name = "scenario"
	}
	if sc.Token0 = strings.TrimSpace(sc.Token0); sc.Token0 == "" {
		sc.Token0 = "tokenA"
	}
	if sc.Token1 = strings.TrimSpace(sc.Token1); sc.Token1 == "" {
		sc.Token1 = "tokenB"
	}
	for i := range sc.Steps {
		step := &sc.Steps[i]
		step.Action = strings.ToLower(strings.TrimSpace(step.Action))
		step.Account = strings.TrimSpace(step.Account)
		step.Target = strings.TrimSpace(step.Target)
		step.Token = strings.TrimSpace(step.Token)
		step.Pool = strings.ToLower(strings.TrimSpace(step.Pool))
		step.ExpectError = strings.TrimSpace(step.ExpectError)
	}
}

func (sc *Scenario) validate() error {
	if len(sc.Steps) == 0 {
		return fmt.Errorf("simulator: scenario %q has no steps", sc.Name)
	}
	for i, step := range sc.Steps {
		if err := step.validate(); err != nil {
			return fmt.Errorf("simulator: step %d (%s): %w", i, step.Action, err)
		}
	}
	return nil
}

func (s Step) validate() error {
	needs := func(cond bool, what string) error {
		if !cond {
			return fmt.Errorf("%s required", what)
		}
		return nil
	}
	switch s.Action {
	case ActionCreatePair:
		return nil
	case ActionFund:
		if err := needs(s.Account != "" && s.Token != "", "account and token"); err != nil {
			return err
		}
		return needs(s.Amount != "", "amount")
	case ActionAddLiquidity, ActionSetReserves:
		if s.Action == ActionAddLiquidity {
			if err := needs(s.Account != "", "account"); err != nil {
				return err
			}
		}
		return needs(s.Amount != "" && s.Amount1 != "", "amount and amount1")
	case ActionLend, ActionBorrow, ActionRepay:
		if err := needs(s.Account != "" && s.Amount != "", "account and amount"); err != nil {
			return err
		}
		return needs(isBorrowablePool(s.Pool), "pool borrowable0 or borrowable1")
	case ActionDepositCollateral:
		return needs(s.Account != "" && s.Amount != "", "account and amount")
	case ActionRedeem:
		if err := needs(s.Account != "" && s.Amount != "", "account and amount"); err != nil {
			return err
		}
		return needs(s.Pool == PoolCollateral || isBorrowablePool(s.Pool), "pool")
	case ActionLiquidate:
		if err := needs(s.Account != "" && s.Target != "" && s.Amount != "", "account, target and amount"); err != nil {
			return err
		}
		return needs(isBorrowablePool(s.Pool), "pool borrowable0 or borrowable1")
	case ActionAdvance:
		return needs(s.Seconds > 0, "seconds")
	case ActionObservePrice:
		return nil
	case ActionReport:
		return needs(s.Account != "", "account")
	default:
		return fmt.Errorf("unknown action")
	}
}

// Pool names accepted by steps.
const (
	PoolCollateral  = "collateral"
	PoolBorrowable0 = "borrowable0"
	PoolBorrowable1 = "borrowable1"
)

func isBorrowablePool(pool string) bool {
	return pool == PoolBorrowable0 || pool == PoolBorrowable1
}
