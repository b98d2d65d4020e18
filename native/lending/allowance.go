package lending

import (
	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"

	"pairlend/core/events"
	"pairlend/crypto"
)

const (
	permitDomainName    = "PairLend Borrowable"
	permitDomainVersion = "1"
)

var (
	domainTypeHash = ethcrypto.Keccak256(
		[]byte("EIP712Domain(string name,string version,uint256 chainId,address verifyingContract)"))
	borrowPermitTypeHash = ethcrypto.Keccak256(
		[]byte("BorrowPermit(address owner,address spender,uint256 value,uint256 nonce,uint256 deadline)"))
)

func word(v *uint256.Int) []byte {
	b := v.Bytes32()
	return b[:]
}

func addressWord(addr common.Address) []byte {
	return common.LeftPadBytes(addr.Bytes(), 32)
}

// DomainSeparator binds permits to this pool and chain.
func (b *Borrowable) DomainSeparator() []byte {
	return ethcrypto.Keccak256(
		domainTypeHash,
		ethcrypto.Keccak256([]byte(permitDomainName)),
		ethcrypto.Keccak256([]byte(permitDomainVersion)),
		word(b.engine.ChainID()),
		addressWord(b.address),
	)
}

// PermitDigest returns the typed-data digest an owner signs to grant spender
// the allowance.
func (b *Borrowable) PermitDigest(owner, spender common.Address, allowance Allowance, nonce, deadline uint64) []byte {
	structHash := ethcrypto.Keccak256(
		borrowPermitTypeHash,
		addressWord(owner),
		addressWord(spender),
		word(allowance.Value()),
		word(u64(nonce)),
		word(u64(deadline)),
	)
	return ethcrypto.Keccak256([]byte{0x19, 0x01}, b.DomainSeparator(), structHash)
}

// Nonce returns the next permit nonce for owner.
func (b *Borrowable) Nonce(owner common.Address) (uint64, error) {
	var nonce uint64
	if _, err := b.engine.state.KVGet(permitNonceKey(b.address, owner), &nonce); err != nil {
		return 0, err
	}
	return nonce, nil
}

// BorrowAllowance returns how much spender may borrow on owner's behalf.
func (b *Borrowable) BorrowAllowance(owner, spender common.Address) (Allowance, error) {
	stored := new(Allowance)
	ok, err := b.engine.state.KVGet(borrowAllowanceKey(b.address, owner, spender), stored)
	if err != nil {
		return Allowance{}, err
	}
	if !ok {
		return Limited(zero()), nil
	}
	return Allowance{Unlimited: stored.Unlimited, Amount: clone(stored.Amount)}, nil
}

func (b *Borrowable) setBorrowAllowance(owner, spender common.Address, allowance Allowance) error {
	if err := b.storeBorrowAllowance(owner, spender, allowance); err != nil {
		return err
	}
	b.engine.emit(events.BorrowApproval{Pool: b.address, Owner: owner, Spender: spender, Value: allowance.String()})
	return nil
}

func (b *Borrowable) storeBorrowAllowance(owner, spender common.Address, allowance Allowance) error {
	key := borrowAllowanceKey(b.address, owner, spender)
	if !allowance.Unlimited && (allowance.Amount == nil || allowance.Amount.IsZero()) {
		return b.engine.state.KVDelete(key)
	}
	return b.engine.state.KVPut(key, &Allowance{Unlimited: allowance.Unlimited, Amount: clone(allowance.Amount)})
}

// BorrowApprove lets spender borrow against owner's collateral.
func (b *Borrowable) BorrowApprove(owner, spender common.Address, allowance Allowance) error {
	if err := allowance.validate(); err != nil {
		return err
	}
	return b.engine.atomic("borrow_approve", func() error {
		return b.setBorrowAllowance(owner, spender, allowance)
	})
}

// BorrowPermit applies an allowance signed off-chain by owner. Each accepted
// permit consumes the owner's current nonce.
func (b *Borrowable) BorrowPermit(owner, spender common.Address, allowance Allowance, deadline uint64, sig []byte) error {
	if err := allowance.validate(); err != nil {
		return err
	}
	return b.engine.atomic("borrow_permit", func() error {
		if deadline < b.engine.now {
			return ErrExpired
		}
		nonce, err := b.Nonce(owner)
		if err != nil {
			return err
		}
		digest := b.PermitDigest(owner, spender, allowance, nonce, deadline)
		signer, err := crypto.RecoverAddress(digest, sig)
		if err != nil || signer == (common.Address{}) || signer != owner {
			return ErrInvalidSignature
		}
		if err := b.engine.state.KVPut(permitNonceKey(b.address, owner), nonce+1); err != nil {
			return err
		}
		return b.setBorrowAllowance(owner, spender, allowance)
	})
}

// checkBorrowAllowance spends amount of spender's allowance. Spending only
// rewrites the stored value; approvals alone emit BorrowApproval.
func (b *Borrowable) checkBorrowAllowance(owner, spender common.Address, amount *uint256.Int) error {
	if owner == spender || amount.IsZero() {
		return nil
	}
	allowance, err := b.BorrowAllowance(owner, spender)
	if err != nil {
		return err
	}
	if allowance.Unlimited {
		return nil
	}
	if allowance.Amount.Lt(amount) {
		return ErrBorrowNotAllowed
	}
	return b.storeBorrowAllowance(owner, spender, Limited(new(uint256.Int).Sub(allowance.Amount, amount)))
}
