package state

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

var (
	tokenSupplyPrefix  = []byte("token/supply/")
	tokenBalancePrefix = []byte("token/balance/")
)

func tokenSupplyKey(token common.Address) []byte {
	key := make([]byte, len(tokenSupplyPrefix)+common.AddressLength)
	copy(key, tokenSupplyPrefix)
	copy(key[len(tokenSupplyPrefix):], token.Bytes())
	return key
}

func tokenBalanceKey(token, holder common.Address) []byte {
	key := make([]byte, len(tokenBalancePrefix)+2*common.AddressLength+1)
	copy(key, tokenBalancePrefix)
	offset := len(tokenBalancePrefix)
	copy(key[offset:], token.Bytes())
	offset += common.AddressLength
	key[offset] = '/'
	copy(key[offset+1:], holder.Bytes())
	return key
}

func (m *Manager) readAmount(key []byte) (*uint256.Int, error) {
	if m == nil {
		return nil, fmt.Errorf("state manager unavailable")
	}
	value := new(uint256.Int)
	ok, err := m.KVGet(key, value)
	if err != nil {
		return nil, err
	}
	if !ok {
		return new(uint256.Int), nil
	}
	return value, nil
}

func (m *Manager) writeAmount(key []byte, amount *uint256.Int) error {
	if m == nil {
		return fmt.Errorf("state manager unavailable")
	}
	if amount == nil || amount.IsZero() {
		return m.KVDelete(key)
	}
	return m.KVPut(key, amount)
}

// TokenSupply returns the persisted total supply for the provided token. Missing
// entries default to zero.
func (m *Manager) TokenSupply(token common.Address) (*uint256.Int, error) {
	return m.readAmount(tokenSupplyKey(token))
}

// SetTokenSupply overwrites the stored total supply for the token.
func (m *Manager) SetTokenSupply(token common.Address, amount *uint256.Int) error {
	return m.writeAmount(tokenSupplyKey(token), amount)
}

// TokenBalance returns the balance of holder in token, defaulting to zero.
func (m *Manager) TokenBalance(token, holder common.Address) (*uint256.Int, error) {
	return m.readAmount(tokenBalanceKey(token, holder))
}

// SetTokenBalance overwrites the balance of holder in token. Zero balances are
// removed from state.
func (m *Manager) SetTokenBalance(token, holder common.Address, amount *uint256.Int) error {
	return m.writeAmount(tokenBalanceKey(token, holder), amount)
}
