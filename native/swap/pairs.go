package swap

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"

	"pairlend/core/state"
	"pairlend/native/bank"
)

// Pairs is a registry of constant-product pairs whose token balances live in
// the bank ledger.
type Pairs struct {
	state  *state.Manager
	ledger *bank.Ledger
}

// NewPairs returns a registry persisting pair records through manager.
func NewPairs(manager *state.Manager, ledger *bank.Ledger) *Pairs {
	return &Pairs{state: manager, ledger: ledger}
}

func sortTokens(a, b common.Address) (common.Address, common.Address) {
	if bytes.Compare(a.Bytes(), b.Bytes()) > 0 {
		return b, a
	}
	return a, b
}

// PairAddress derives the address of the pair for two tokens in either order.
func PairAddress(tokenA, tokenB common.Address) common.Address {
	token0, token1 := sortTokens(tokenA, tokenB)
	buf := append([]byte("swap/pair"), token0.Bytes()...)
	buf = append(buf, token1.Bytes()...)
	return common.BytesToAddress(ethcrypto.Keccak256(buf)[12:])
}

func (p *Pairs) load(pair common.Address) (*PairState, error) {
	if p == nil || p.state == nil {
		return nil, fmt.Errorf("swap: state manager required")
	}
	st := new(PairState)
	ok, err := p.state.KVGet(pairStateKey(pair), st)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrUnknownPair
	}
	st.normalize()
	return st, nil
}

func (p *Pairs) store(pair common.Address, st *PairState) error {
	return p.state.KVPut(pairStateKey(pair), st)
}

// CreatePair registers the pair of tokenA and tokenB and returns its address.
func (p *Pairs) CreatePair(tokenA, tokenB common.Address) (common.Address, error) {
	if tokenA == tokenB {
		return common.Address{}, ErrIdenticalTokens
	}
	pair := PairAddress(tokenA, tokenB)
	if _, err := p.load(pair); err == nil {
		return common.Address{}, ErrPairExists
	} else if !errors.Is(err, ErrUnknownPair) {
		return common.Address{}, err
	}
	token0, token1 := sortTokens(tokenA, tokenB)
	if err := p.store(pair, &PairState{
		Token0:   token0,
		Token1:   token1,
		Reserve0: new(uint256.Int),
		Reserve1: new(uint256.Int),
	}); err != nil {
		return common.Address{}, err
	}
	return pair, nil
}

// Tokens returns the sorted tokens of pair.
func (p *Pairs) Tokens(pair common.Address) (common.Address, common.Address, error) {
	st, err := p.load(pair)
	if err != nil {
		return common.Address{}, common.Address{}, err
	}
	return st.Token0, st.Token1, nil
}

// Reserves returns the recorded reserves of pair.
func (p *Pairs) Reserves(pair common.Address) (*uint256.Int, *uint256.Int, error) {
	st, err := p.load(pair)
	if err != nil {
		return nil, nil, err
	}
	return st.Reserve0, st.Reserve1, nil
}

// TotalSupply returns the LP token supply of pair.
func (p *Pairs) TotalSupply(pair common.Address) (*uint256.Int, error) {
	if _, err := p.load(pair); err != nil {
		return nil, err
	}
	return p.ledger.TotalSupply(pair)
}

// SpotPrice returns reserve1/reserve0 as a mantissa.
func (p *Pairs) SpotPrice(pair common.Address) (*uint256.Int, error) {
	st, err := p.load(pair)
	if err != nil {
		return nil, err
	}
	if st.Reserve0.IsZero() || st.Reserve1.IsZero() {
		return nil, ErrInsufficientLiquidity
	}
	price, overflow := new(uint256.Int).MulDivOverflow(st.Reserve1, priceOne, st.Reserve0)
	if overflow {
		return nil, fmt.Errorf("swap: spot price overflow")
	}
	return price, nil
}

// AddLiquidity moves amount0 and amount1 from provider into pair and mints
// LP tokens to to. The first deposit mints the geometric mean less the locked
// minimum; later deposits mint pro rata to the smaller contribution.
func (p *Pairs) AddLiquidity(pair, provider, to common.Address, amount0, amount1 *uint256.Int) (*uint256.Int, error) {
	st, err := p.load(pair)
	if err != nil {
		return nil, err
	}
	supply, err := p.ledger.TotalSupply(pair)
	if err != nil {
		return nil, err
	}
	var liquidity *uint256.Int
	if supply.IsZero() {
		product, overflow := new(uint256.Int).MulOverflow(amount0, amount1)
		if overflow {
			return nil, fmt.Errorf("swap: liquidity overflow")
		}
		root := new(uint256.Int).Sqrt(product)
		locked := uint256.NewInt(MinimumLiquidity)
		if !root.Gt(locked) {
			return nil, ErrInsufficientLiquidity
		}
		liquidity = new(uint256.Int).Sub(root, locked)
		if err := p.ledger.Mint(pair, common.Address{}, locked); err != nil {
			return nil, err
		}
	} else {
		if st.Reserve0.IsZero() || st.Reserve1.IsZero() {
			return nil, ErrInsufficientLiquidity
		}
		l0 := new(uint256.Int).Div(new(uint256.Int).Mul(amount0, supply), st.Reserve0)
		l1 := new(uint256.Int).Div(new(uint256.Int).Mul(amount1, supply), st.Reserve1)
		liquidity = l0
		if l1.Lt(l0) {
			liquidity = l1
		}
	}
	if liquidity.IsZero() {
		return nil, ErrInsufficientLiquidity
	}
	if err := p.ledger.Transfer(st.Token0, provider, pair, amount0); err != nil {
		return nil, err
	}
	if err := p.ledger.Transfer(st.Token1, provider, pair, amount1); err != nil {
		return nil, err
	}
	if err := p.ledger.Mint(pair, to, liquidity); err != nil {
		return nil, err
	}
	st.Reserve0 = new(uint256.Int).Add(st.Reserve0, amount0)
	st.Reserve1 = new(uint256.Int).Add(st.Reserve1, amount1)
	if err := p.store(pair, st); err != nil {
		return nil, err
	}
	return liquidity, nil
}

// SetReserves forces the reserves of pair, minting or burning the pair's
// token balances to match. It models an external price move.
func (p *Pairs) SetReserves(pair common.Address, reserve0, reserve1 *uint256.Int) error {
	st, err := p.load(pair)
	if err != nil {
		return err
	}
	if err := p.rebalance(st.Token0, pair, st.Reserve0, reserve0); err != nil {
		return err
	}
	if err := p.rebalance(st.Token1, pair, st.Reserve1, reserve1); err != nil {
		return err
	}
	st.Reserve0 = new(uint256.Int).Set(reserve0)
	st.Reserve1 = new(uint256.Int).Set(reserve1)
	return p.store(pair, st)
}

func (p *Pairs) rebalance(token, pair common.Address, current, target *uint256.Int) error {
	switch {
	case target.Gt(current):
		return p.ledger.Mint(token, pair, new(uint256.Int).Sub(target, current))
	case target.Lt(current):
		return p.ledger.Burn(token, pair, new(uint256.Int).Sub(current, target))
	}
	return nil
}

// Swap sells amountIn of tokenIn from trader into pair and pays the
// constant-product output, net of the fee, back to trader.
func (p *Pairs) Swap(pair, trader, tokenIn common.Address, amountIn *uint256.Int) (*uint256.Int, error) {
	st, err := p.load(pair)
	if err != nil {
		return nil, err
	}
	if amountIn == nil || amountIn.IsZero() {
		return nil, ErrInsufficientInput
	}
	var reserveIn, reserveOut *uint256.Int
	var tokenOut common.Address
	switch tokenIn {
	case st.Token0:
		reserveIn, reserveOut, tokenOut = st.Reserve0, st.Reserve1, st.Token1
	case st.Token1:
		reserveIn, reserveOut, tokenOut = st.Reserve1, st.Reserve0, st.Token0
	default:
		return nil, fmt.Errorf("swap: token %s not in pair", tokenIn.Hex())
	}
	if reserveIn.IsZero() || reserveOut.IsZero() {
		return nil, ErrInsufficientLiquidity
	}
	inWithFee := new(uint256.Int).Mul(amountIn, uint256.NewInt(FeeNumerator))
	numerator, overflow := new(uint256.Int).MulOverflow(inWithFee, reserveOut)
	if overflow {
		return nil, fmt.Errorf("swap: output overflow")
	}
	denominator := new(uint256.Int).Mul(reserveIn, uint256.NewInt(FeeDenominator))
	denominator.Add(denominator, inWithFee)
	amountOut := new(uint256.Int).Div(numerator, denominator)
	if amountOut.IsZero() || !amountOut.Lt(reserveOut) {
		return nil, ErrInsufficientLiquidity
	}
	if err := p.ledger.Transfer(tokenIn, trader, pair, amountIn); err != nil {
		return nil, err
	}
	if err := p.ledger.Transfer(tokenOut, pair, trader, amountOut); err != nil {
		return nil, err
	}
	if tokenIn == st.Token0 {
		st.Reserve0 = new(uint256.Int).Add(st.Reserve0, amountIn)
		st.Reserve1 = new(uint256.Int).Sub(st.Reserve1, amountOut)
	} else {
		st.Reserve1 = new(uint256.Int).Add(st.Reserve1, amountIn)
		st.Reserve0 = new(uint256.Int).Sub(st.Reserve0, amountOut)
	}
	if err := p.store(pair, st); err != nil {
		return nil, err
	}
	return amountOut, nil
}
