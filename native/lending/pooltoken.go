package lending

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"pairlend/core/events"
)

// governance resolves the registry roles a pool checks permissions against.
type governance interface {
	Admin() (common.Address, error)
	ReservesManager() (common.Address, error)
}

// poolHooks specialise the shared vault for borrowable and collateral pools.
type poolHooks interface {
	exchangeRate() (*uint256.Int, error)
	beforeTransfer(from common.Address, amount *uint256.Int) error
	afterUpdate() error
}

// PoolToken converts underlying deposits into proportional pool shares.
type PoolToken struct {
	engine  *Engine
	address common.Address
	gov     governance
	hooks   poolHooks
	entered bool
}

func newPoolToken(engine *Engine, address common.Address, gov governance) *PoolToken {
	return &PoolToken{engine: engine, address: address, gov: gov}
}

// Address returns the pool's identity, which is also its share token id.
func (p *PoolToken) Address() common.Address { return p.address }

func (p *PoolToken) loadVault() (*VaultState, error) {
	st := new(VaultState)
	ok, err := p.engine.state.KVGet(vaultStateKey(p.address), st)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotCreated
	}
	st.normalize()
	return st, nil
}

func (p *PoolToken) storeVault(st *VaultState) error {
	return p.engine.state.KVPut(vaultStateKey(p.address), st)
}

// Underlying returns the token held by the pool.
func (p *PoolToken) Underlying() (common.Address, error) {
	st, err := p.loadVault()
	if err != nil {
		return common.Address{}, err
	}
	return st.Underlying, nil
}

// TotalBalance returns the cached underlying balance.
func (p *PoolToken) TotalBalance() (*uint256.Int, error) {
	st, err := p.loadVault()
	if err != nil {
		return nil, err
	}
	return st.TotalBalance, nil
}

// ExchangeRateLast returns the rate recorded at the last reserve skim.
func (p *PoolToken) ExchangeRateLast() (*uint256.Int, error) {
	st, err := p.loadVault()
	if err != nil {
		return nil, err
	}
	return st.ExchangeRateLast, nil
}

func (p *PoolToken) TotalSupply() (*uint256.Int, error) {
	return p.engine.shareSupply(p.address)
}

func (p *PoolToken) BalanceOf(holder common.Address) (*uint256.Int, error) {
	return p.engine.shareBalance(p.address, holder)
}

// nonReentrant guards fn with the pool lock and runs it atomically.
func (p *PoolToken) nonReentrant(op string, fn func() error) error {
	if p.entered {
		return ErrReentered
	}
	p.entered = true
	defer func() { p.entered = false }()
	return p.engine.atomic(op, fn)
}

func (p *PoolToken) requireAdmin(caller common.Address) error {
	admin, err := p.gov.Admin()
	if err != nil {
		return err
	}
	if caller != admin {
		return ErrUnauthorized
	}
	return nil
}

// update reconciles the cached balance with the bank and lets the pool react.
func (p *PoolToken) update() error {
	st, err := p.loadVault()
	if err != nil {
		return err
	}
	balance, err := p.engine.bank.BalanceOf(st.Underlying, p.address)
	if err != nil {
		return err
	}
	st.TotalBalance = balance
	if err := p.storeVault(st); err != nil {
		return err
	}
	p.engine.emit(events.Sync{Pool: p.address, TotalBalance: clone(balance)})
	return p.hooks.afterUpdate()
}

// baseExchangeRate is value / totalSupply, or the initial rate while the pool
// is empty.
func (p *PoolToken) baseExchangeRate(value *uint256.Int) (*uint256.Int, error) {
	supply, err := p.TotalSupply()
	if err != nil {
		return nil, err
	}
	if supply.IsZero() || value.IsZero() {
		return clone(InitialExchangeRate), nil
	}
	return mulDiv(value, mantissaOne, supply)
}

// ExchangeRate returns the current exchange rate, applying any pending
// accrual and reserve skim.
func (p *PoolToken) ExchangeRate() (*uint256.Int, error) {
	var rate *uint256.Int
	err := p.engine.atomic("exchange_rate", func() error {
		var err error
		rate, err = p.hooks.exchangeRate()
		return err
	})
	return rate, err
}

// ExchangeRateQuote computes the exchange rate without persisting the accrual
// or reserve skim it implies.
func (p *PoolToken) ExchangeRateQuote() (*uint256.Int, error) {
	var rate *uint256.Int
	err := p.engine.Simulate(func() error {
		var err error
		rate, err = p.hooks.exchangeRate()
		return err
	})
	return rate, err
}

// Mint issues shares for the underlying transferred to the pool since the
// last update.
func (p *PoolToken) Mint(sender, minter common.Address) (*uint256.Int, error) {
	var minted *uint256.Int
	err := p.nonReentrant("mint", func() error {
		st, err := p.loadVault()
		if err != nil {
			return err
		}
		balance, err := p.engine.bank.BalanceOf(st.Underlying, p.address)
		if err != nil {
			return err
		}
		mintAmount, err := sub(balance, st.TotalBalance)
		if err != nil {
			return err
		}
		rate, err := p.hooks.exchangeRate()
		if err != nil {
			return err
		}
		mintTokens, err := mulDiv(mintAmount, mantissaOne, rate)
		if err != nil {
			return err
		}
		supply, err := p.TotalSupply()
		if err != nil {
			return err
		}
		if supply.IsZero() {
			locked := u64(MinimumLiquidity)
			if !mintTokens.Gt(locked) {
				return ErrMintAmountZero
			}
			mintTokens.Sub(mintTokens, locked)
			if err := p.engine.mintShares(p.address, common.Address{}, locked); err != nil {
				return err
			}
		}
		if mintTokens.IsZero() {
			return ErrMintAmountZero
		}
		if err := p.engine.mintShares(p.address, minter, mintTokens); err != nil {
			return err
		}
		p.engine.emit(events.Mint{
			Pool:       p.address,
			Sender:     sender,
			Minter:     minter,
			MintAmount: mintAmount,
			MintTokens: clone(mintTokens),
		})
		minted = mintTokens
		return p.update()
	})
	return minted, err
}

// Redeem burns the shares held by the pool itself and pays their value out to
// redeemer.
func (p *PoolToken) Redeem(sender, redeemer common.Address) (*uint256.Int, error) {
	var redeemed *uint256.Int
	err := p.nonReentrant("redeem", func() error {
		redeemTokens, err := p.BalanceOf(p.address)
		if err != nil {
			return err
		}
		rate, err := p.hooks.exchangeRate()
		if err != nil {
			return err
		}
		redeemAmount, err := mulMantissa(redeemTokens, rate)
		if err != nil {
			return err
		}
		if redeemAmount.IsZero() {
			return ErrRedeemAmountZero
		}
		st, err := p.loadVault()
		if err != nil {
			return err
		}
		if redeemAmount.Gt(st.TotalBalance) {
			return ErrInsufficientCash
		}
		if err := p.engine.burnShares(p.address, p.address, redeemTokens); err != nil {
			return err
		}
		if err := p.engine.bank.Transfer(st.Underlying, p.address, redeemer, redeemAmount); err != nil {
			return err
		}
		p.engine.emit(events.Redeem{
			Pool:         p.address,
			Sender:       sender,
			Redeemer:     redeemer,
			RedeemAmount: clone(redeemAmount),
			RedeemTokens: redeemTokens,
		})
		redeemed = redeemAmount
		return p.update()
	})
	return redeemed, err
}

// Skim sends any underlying surplus over the cached balance to to.
func (p *PoolToken) Skim(to common.Address) (*uint256.Int, error) {
	var skimmed *uint256.Int
	err := p.nonReentrant("skim", func() error {
		st, err := p.loadVault()
		if err != nil {
			return err
		}
		balance, err := p.engine.bank.BalanceOf(st.Underlying, p.address)
		if err != nil {
			return err
		}
		skimmed = subFloor(balance, st.TotalBalance)
		if skimmed.IsZero() {
			return nil
		}
		return p.engine.bank.Transfer(st.Underlying, p.address, to, skimmed)
	})
	return skimmed, err
}

// Sync reconciles the cached balance with the bank.
func (p *PoolToken) Sync() error {
	return p.nonReentrant("sync", p.update)
}

// Transfer moves shares between holders.
func (p *PoolToken) Transfer(from, to common.Address, amount *uint256.Int) error {
	return p.engine.atomic("transfer", func() error {
		if err := p.hooks.beforeTransfer(from, amount); err != nil {
			return err
		}
		return p.engine.transferShares(p.address, from, to, amount)
	})
}
