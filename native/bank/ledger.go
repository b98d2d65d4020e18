package bank

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"pairlend/core/state"
)

var (
	// ErrInsufficientBalance is returned when a debit exceeds the holder's
	// balance.
	ErrInsufficientBalance = errors.New("bank: insufficient balance")
	ErrBalanceOverflow     = errors.New("bank: balance overflow")
)

// Ledger tracks fungible token balances in state. Writes are staged in the
// state journal and therefore revert with the surrounding transactional unit.
type Ledger struct {
	state *state.Manager
}

// NewLedger returns a ledger over manager.
func NewLedger(manager *state.Manager) *Ledger {
	return &Ledger{state: manager}
}

func (l *Ledger) ready() error {
	if l == nil || l.state == nil {
		return fmt.Errorf("bank: state manager required")
	}
	return nil
}

// BalanceOf returns holder's balance of token.
func (l *Ledger) BalanceOf(token, holder common.Address) (*uint256.Int, error) {
	if err := l.ready(); err != nil {
		return nil, err
	}
	return l.state.TokenBalance(token, holder)
}

// TotalSupply returns the minted supply of token.
func (l *Ledger) TotalSupply(token common.Address) (*uint256.Int, error) {
	if err := l.ready(); err != nil {
		return nil, err
	}
	return l.state.TokenSupply(token)
}

// Transfer moves amount of token from one holder to another.
func (l *Ledger) Transfer(token, from, to common.Address, amount *uint256.Int) error {
	if err := l.ready(); err != nil {
		return err
	}
	if amount == nil || amount.IsZero() || from == to {
		return nil
	}
	fromBalance, err := l.state.TokenBalance(token, from)
	if err != nil {
		return err
	}
	if fromBalance.Lt(amount) {
		return fmt.Errorf("%w: have %s, need %s", ErrInsufficientBalance, fromBalance.Dec(), amount.Dec())
	}
	toBalance, err := l.state.TokenBalance(token, to)
	if err != nil {
		return err
	}
	credited, overflow := new(uint256.Int).AddOverflow(toBalance, amount)
	if overflow {
		return ErrBalanceOverflow
	}
	if err := l.state.SetTokenBalance(token, from, new(uint256.Int).Sub(fromBalance, amount)); err != nil {
		return err
	}
	return l.state.SetTokenBalance(token, to, credited)
}

// Mint credits amount of token to holder and grows the supply.
func (l *Ledger) Mint(token, holder common.Address, amount *uint256.Int) error {
	if err := l.ready(); err != nil {
		return err
	}
	if amount == nil || amount.IsZero() {
		return nil
	}
	supply, err := l.state.TokenSupply(token)
	if err != nil {
		return err
	}
	balance, err := l.state.TokenBalance(token, holder)
	if err != nil {
		return err
	}
	nextSupply, overflow := new(uint256.Int).AddOverflow(supply, amount)
	if overflow {
		return ErrBalanceOverflow
	}
	nextBalance, overflow := new(uint256.Int).AddOverflow(balance, amount)
	if overflow {
		return ErrBalanceOverflow
	}
	if err := l.state.SetTokenSupply(token, nextSupply); err != nil {
		return err
	}
	return l.state.SetTokenBalance(token, holder, nextBalance)
}

// Burn debits amount of token from holder and shrinks the supply.
func (l *Ledger) Burn(token, holder common.Address, amount *uint256.Int) error {
	if err := l.ready(); err != nil {
		return err
	}
	if amount == nil || amount.IsZero() {
		return nil
	}
	balance, err := l.state.TokenBalance(token, holder)
	if err != nil {
		return err
	}
	if balance.Lt(amount) {
		return fmt.Errorf("%w: have %s, need %s", ErrInsufficientBalance, balance.Dec(), amount.Dec())
	}
	supply, err := l.state.TokenSupply(token)
	if err != nil {
		return err
	}
	if err := l.state.SetTokenBalance(token, holder, new(uint256.Int).Sub(balance, amount)); err != nil {
		return err
	}
	nextSupply := new(uint256.Int)
	if !supply.Lt(amount) {
		nextSupply.Sub(supply, amount)
	}
	return l.state.SetTokenSupply(token, nextSupply)
}
