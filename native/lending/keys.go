package lending

import "github.com/ethereum/go-ethereum/common"

var (
	vaultStatePrefix      = []byte("lending/vault/")
	borrowableStatePrefix = []byte("lending/borrowable/")
	collateralStatePrefix = []byte("lending/collateral/")
	shareSupplyPrefix     = []byte("lending/shares/supply/")
	shareBalancePrefix    = []byte("lending/shares/balance/")
	borrowSnapshotPrefix  = []byte("lending/debt/")
	borrowAllowancePrefix = []byte("lending/allowance/")
	permitNoncePrefix     = []byte("lending/nonce/")
	factoryStatePrefix    = []byte("lending/factory/")
	lendingPoolPrefix     = []byte("lending/factory/pool/")
)

func addressKey(prefix []byte, addrs ...common.Address) []byte {
	buf := make([]byte, 0, len(prefix)+len(addrs)*(common.AddressLength+1))
	buf = append(buf, prefix...)
	for i, addr := range addrs {
		if i > 0 {
			buf = append(buf, '/')
		}
		buf = append(buf, addr.Bytes()...)
	}
	return buf
}

func vaultStateKey(pool common.Address) []byte {
	return addressKey(vaultStatePrefix, pool)
}

func borrowableStateKey(pool common.Address) []byte {
	return addressKey(borrowableStatePrefix, pool)
}

func collateralStateKey(pool common.Address) []byte {
	return addressKey(collateralStatePrefix, pool)
}

func shareSupplyKey(pool common.Address) []byte {
	return addressKey(shareSupplyPrefix, pool)
}

func shareBalanceKey(pool, holder common.Address) []byte {
	return addressKey(shareBalancePrefix, pool, holder)
}

func borrowSnapshotKey(pool, borrower common.Address) []byte {
	return addressKey(borrowSnapshotPrefix, pool, borrower)
}

func borrowAllowanceKey(pool, owner, spender common.Address) []byte {
	return addressKey(borrowAllowancePrefix, pool, owner, spender)
}

func permitNonceKey(pool, owner common.Address) []byte {
	return addressKey(permitNoncePrefix, pool, owner)
}

func factoryStateKey(factory common.Address) []byte {
	return addressKey(factoryStatePrefix, factory)
}

func lendingPoolKey(factory, pair common.Address) []byte {
	return addressKey(lendingPoolPrefix, factory, pair)
}
