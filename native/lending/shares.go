package lending

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"pairlend/core/events"
)

func (e *Engine) readAmount(key []byte) (*uint256.Int, error) {
	value := new(uint256.Int)
	ok, err := e.state.KVGet(key, value)
	if err != nil {
		return nil, err
	}
	if !ok {
		return zero(), nil
	}
	return value, nil
}

func (e *Engine) writeAmount(key []byte, value *uint256.Int) error {
	if value == nil || value.IsZero() {
		return e.state.KVDelete(key)
	}
	return e.state.KVPut(key, value)
}

func (e *Engine) shareSupply(pool common.Address) (*uint256.Int, error) {
	return e.readAmount(shareSupplyKey(pool))
}

func (e *Engine) shareBalance(pool, holder common.Address) (*uint256.Int, error) {
	return e.readAmount(shareBalanceKey(pool, holder))
}

func (e *Engine) mintShares(pool, to common.Address, amount *uint256.Int) error {
	supply, err := e.shareSupply(pool)
	if err != nil {
		return err
	}
	if supply, err = add(supply, amount); err != nil {
		return err
	}
	balance, err := e.shareBalance(pool, to)
	if err != nil {
		return err
	}
	if balance, err = add(balance, amount); err != nil {
		return err
	}
	if err := e.writeAmount(shareSupplyKey(pool), supply); err != nil {
		return err
	}
	if err := e.writeAmount(shareBalanceKey(pool, to), balance); err != nil {
		return err
	}
	e.emit(events.Transfer{Pool: pool, From: common.Address{}, To: to, Value: clone(amount)})
	return nil
}

func (e *Engine) burnShares(pool, from common.Address, amount *uint256.Int) error {
	balance, err := e.shareBalance(pool, from)
	if err != nil {
		return err
	}
	if balance.Lt(amount) {
		return ErrInsufficientShares
	}
	supply, err := e.shareSupply(pool)
	if err != nil {
		return err
	}
	if supply, err = sub(supply, amount); err != nil {
		return err
	}
	if err := e.writeAmount(shareSupplyKey(pool), supply); err != nil {
		return err
	}
	if err := e.writeAmount(shareBalanceKey(pool, from), new(uint256.Int).Sub(balance, amount)); err != nil {
		return err
	}
	e.emit(events.Transfer{Pool: pool, From: from, To: common.Address{}, Value: clone(amount)})
	return nil
}

func (e *Engine) transferShares(pool, from, to common.Address, amount *uint256.Int) error {
	fromBalance, err := e.shareBalance(pool, from)
	if err != nil {
		return err
	}
	if fromBalance.Lt(amount) {
		return ErrInsufficientShares
	}
	if err := e.writeAmount(shareBalanceKey(pool, from), new(uint256.Int).Sub(fromBalance, amount)); err != nil {
		return err
	}
	toBalance, err := e.shareBalance(pool, to)
	if err != nil {
		return err
	}
	if toBalance, err = add(toBalance, amount); err != nil {
		return err
	}
	if err := e.writeAmount(shareBalanceKey(pool, to), toBalance); err != nil {
		return err
	}
	e.emit(events.Transfer{Pool: pool, From: from, To: to, Value: clone(amount)})
	return nil
}
