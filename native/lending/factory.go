package lending

import (
	"strconv"

	"github.com/ethereum/go-ethereum/common"

	"pairlend/core/events"
	"pairlend/crypto"
)

// Side selects one of the two borrowables of a pair.
type Side uint8

const (
	Side0 Side = iota
	Side1
)

type factoryState struct {
	Admin                common.Address
	PendingAdmin         common.Address
	ReservesAdmin        common.Address
	ReservesPendingAdmin common.Address
	ReservesManager      common.Address
	PoolCount            uint64
}

// LendingPool is the registry record of the pools serving one pair.
type LendingPool struct {
	Initialized bool
	Index       uint64
	Collateral  common.Address
	Borrowable0 common.Address
	Borrowable1 common.Address
}

// Factory creates the collateral and borrowable pools of each pair, wires them
// together and owns the admin roles every pool checks against.
type Factory struct {
	engine  *Engine
	address common.Address
	pairs   PairReader
	oracle  PriceOracle
	params  RiskParameters

	collaterals map[common.Address]*Collateral
	borrowables map[common.Address]*Borrowable
	trackers    map[common.Address]BorrowTracker
}

// NewFactory opens the factory administered by admin, creating its registry
// state on first use. The reserves manager starts as reservesAdmin.
func NewFactory(engine *Engine, admin, reservesAdmin common.Address, pairs PairReader, oracle PriceOracle) (*Factory, error) {
	f := &Factory{
		engine:      engine,
		address:     deriveAddress("lending/factory", admin.Bytes()),
		pairs:       pairs,
		oracle:      oracle,
		params:      DefaultRiskParameters(),
		collaterals: make(map[common.Address]*Collateral),
		borrowables: make(map[common.Address]*Borrowable),
		trackers:    make(map[common.Address]BorrowTracker),
	}
	err := engine.atomic("factory_open", func() error {
		_, ok, err := f.loadState()
		if err != nil || ok {
			return err
		}
		return f.storeState(&factoryState{
			Admin:           admin,
			ReservesAdmin:   reservesAdmin,
			ReservesManager: reservesAdmin,
		})
	})
	if err != nil {
		return nil, err
	}
	return f, nil
}

func (f *Factory) Address() common.Address { return f.address }

// RegisterBorrowTracker makes tracker available to pools under id. Pools store
// only the id, so a reopened factory must register its trackers again before
// debt changes reach them.
func (f *Factory) RegisterBorrowTracker(id common.Address, tracker BorrowTracker) error {
	if id == (common.Address{}) || tracker == nil {
		return ErrInvalidSetting
	}
	f.trackers[id] = tracker
	return nil
}

func (f *Factory) borrowTracker(id common.Address) (BorrowTracker, bool) {
	tracker, ok := f.trackers[id]
	return tracker, ok
}

// SetDefaultParameters replaces the risk parameters applied to pools created
// afterwards. Each value must lie within its admin-settable bounds.
func (f *Factory) SetDefaultParameters(params RiskParameters) error {
	if err := params.Validate(); err != nil {
		return err
	}
	f.params = params
	return nil
}

func (f *Factory) loadState() (*factoryState, bool, error) {
	st := new(factoryState)
	ok, err := f.engine.state.KVGet(factoryStateKey(f.address), st)
	if err != nil {
		return nil, false, err
	}
	return st, ok, nil
}

func (f *Factory) mustState() (*factoryState, error) {
	st, ok, err := f.loadState()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotCreated
	}
	return st, nil
}

func (f *Factory) storeState(st *factoryState) error {
	return f.engine.state.KVPut(factoryStateKey(f.address), st)
}

func (f *Factory) Admin() (common.Address, error) {
	st, err := f.mustState()
	if err != nil {
		return common.Address{}, err
	}
	return st.Admin, nil
}

func (f *Factory) PendingAdmin() (common.Address, error) {
	st, err := f.mustState()
	if err != nil {
		return common.Address{}, err
	}
	return st.PendingAdmin, nil
}

func (f *Factory) ReservesAdmin() (common.Address, error) {
	st, err := f.mustState()
	if err != nil {
		return common.Address{}, err
	}
	return st.ReservesAdmin, nil
}

func (f *Factory) ReservesPendingAdmin() (common.Address, error) {
	st, err := f.mustState()
	if err != nil {
		return common.Address{}, err
	}
	return st.ReservesPendingAdmin, nil
}

// ReservesManager returns the recipient of reserve shares.
func (f *Factory) ReservesManager() (common.Address, error) {
	st, err := f.mustState()
	if err != nil {
		return common.Address{}, err
	}
	return st.ReservesManager, nil
}

// PoolCount returns the number of initialized lending pools.
func (f *Factory) PoolCount() (uint64, error) {
	st, err := f.mustState()
	if err != nil {
		return 0, err
	}
	return st.PoolCount, nil
}

func (f *Factory) lendingPool(pair common.Address) (*LendingPool, error) {
	rec := new(LendingPool)
	if _, err := f.engine.state.KVGet(lendingPoolKey(f.address, pair), rec); err != nil {
		return nil, err
	}
	return rec, nil
}

func (f *Factory) storeLendingPool(pair common.Address, rec *LendingPool) error {
	return f.engine.state.KVPut(lendingPoolKey(f.address, pair), rec)
}

// LendingPool returns the registry record for pair. Pools not yet created
// have zero addresses.
func (f *Factory) LendingPool(pair common.Address) (LendingPool, error) {
	rec, err := f.lendingPool(pair)
	if err != nil {
		return LendingPool{}, err
	}
	return *rec, nil
}

func (f *Factory) collateralAt(address common.Address) *Collateral {
	if c, ok := f.collaterals[address]; ok {
		return c
	}
	c := newCollateral(f.engine, address, f, f.pairs, f.oracle)
	f.collaterals[address] = c
	return c
}

func (f *Factory) borrowableAt(address common.Address) *Borrowable {
	if b, ok := f.borrowables[address]; ok {
		return b
	}
	b := newBorrowable(f.engine, address, f, f)
	f.borrowables[address] = b
	return b
}

// wire links the cached pool objects of an initialized record so a reopened
// factory serves the same pairing that was persisted.
func (f *Factory) wire(rec *LendingPool) {
	c := f.collateralAt(rec.Collateral)
	b0 := f.borrowableAt(rec.Borrowable0)
	b1 := f.borrowableAt(rec.Borrowable1)
	c.borrowable0, c.borrowable1 = b0, b1
	b0.collateral, b1.collateral = c, c
}

// Collateral returns the collateral pool of pair.
func (f *Factory) Collateral(pair common.Address) (*Collateral, error) {
	rec, err := f.lendingPool(pair)
	if err != nil {
		return nil, err
	}
	if rec.Collateral == (common.Address{}) {
		return nil, ErrNotCreated
	}
	if rec.Initialized {
		f.wire(rec)
	}
	return f.collateralAt(rec.Collateral), nil
}

// Borrowable returns the borrowable pool of pair for the given side.
func (f *Factory) Borrowable(pair common.Address, side Side) (*Borrowable, error) {
	rec, err := f.lendingPool(pair)
	if err != nil {
		return nil, err
	}
	address := rec.Borrowable0
	if side == Side1 {
		address = rec.Borrowable1
	}
	if address == (common.Address{}) {
		return nil, ErrNotCreated
	}
	if rec.Initialized {
		f.wire(rec)
	}
	return f.borrowableAt(address), nil
}

// CreateCollateral creates the collateral pool of pair.
func (f *Factory) CreateCollateral(pair common.Address) (common.Address, error) {
	var address common.Address
	err := f.engine.atomic("create_collateral", func() error {
		if _, _, err := f.pairs.Tokens(pair); err != nil {
			return err
		}
		rec, err := f.lendingPool(pair)
		if err != nil {
			return err
		}
		if rec.Collateral != (common.Address{}) {
			return ErrAlreadyExists
		}
		address = deriveAddress("lending/collateral", f.address.Bytes(), pair.Bytes())
		if err := f.collateralAt(address).create(pair, f.address, f.params); err != nil {
			return err
		}
		rec.Collateral = address
		return f.storeLendingPool(pair, rec)
	})
	if err != nil {
		return common.Address{}, err
	}
	f.engine.logger.Info("collateral created",
		"pair", crypto.FromCommon(crypto.PoolPrefix, pair).String(),
		"pool", crypto.FromCommon(crypto.PoolPrefix, address).String())
	return address, nil
}

func (f *Factory) CreateBorrowable0(pair common.Address) (common.Address, error) {
	return f.createBorrowable(pair, Side0)
}

func (f *Factory) CreateBorrowable1(pair common.Address) (common.Address, error) {
	return f.createBorrowable(pair, Side1)
}

func (f *Factory) createBorrowable(pair common.Address, side Side) (common.Address, error) {
	var address common.Address
	err := f.engine.atomic("create_borrowable"+strconv.Itoa(int(side)), func() error {
		token0, token1, err := f.pairs.Tokens(pair)
		if err != nil {
			return err
		}
		rec, err := f.lendingPool(pair)
		if err != nil {
			return err
		}
		slot, underlying := &rec.Borrowable0, token0
		if side == Side1 {
			slot, underlying = &rec.Borrowable1, token1
		}
		if *slot != (common.Address{}) {
			return ErrAlreadyExists
		}
		address = deriveAddress("lending/borrowable", f.address.Bytes(), pair.Bytes(), []byte{byte(side)})
		if err := f.borrowableAt(address).create(underlying, f.address, f.params); err != nil {
			return err
		}
		*slot = address
		return f.storeLendingPool(pair, rec)
	})
	if err != nil {
		return common.Address{}, err
	}
	f.engine.logger.Info("borrowable created",
		"pair", crypto.FromCommon(crypto.PoolPrefix, pair).String(),
		"side", int(side),
		"pool", crypto.FromCommon(crypto.PoolPrefix, address).String())
	return address, nil
}

// InitializeLendingPool pairs the three pools of pair with each other. The
// pair's oracle is initialized when it is not already.
func (f *Factory) InitializeLendingPool(pair common.Address) error {
	return f.engine.atomic("initialize_lending_pool", func() error {
		rec, err := f.lendingPool(pair)
		if err != nil {
			return err
		}
		if rec.Collateral == (common.Address{}) || rec.Borrowable0 == (common.Address{}) || rec.Borrowable1 == (common.Address{}) {
			return ErrNotCreated
		}
		if rec.Initialized {
			return ErrAlreadyInitialized
		}
		token0, token1, err := f.pairs.Tokens(pair)
		if err != nil {
			return err
		}
		if !f.oracle.IsInitialized(pair) {
			if err := f.oracle.Initialize(pair); err != nil {
				return err
			}
		}
		c := f.collateralAt(rec.Collateral)
		b0 := f.borrowableAt(rec.Borrowable0)
		b1 := f.borrowableAt(rec.Borrowable1)
		if err := c.setBorrowables(b0, b1); err != nil {
			return err
		}
		if err := b0.setCollateral(c); err != nil {
			return err
		}
		if err := b1.setCollateral(c); err != nil {
			return err
		}
		st, err := f.mustState()
		if err != nil {
			return err
		}
		st.PoolCount++
		rec.Initialized = true
		rec.Index = st.PoolCount
		if err := f.storeState(st); err != nil {
			return err
		}
		if err := f.storeLendingPool(pair, rec); err != nil {
			return err
		}
		f.engine.emit(events.PoolInitialized{
			Pair:        pair,
			Token0:      token0,
			Token1:      token1,
			Collateral:  rec.Collateral,
			Borrowable0: rec.Borrowable0,
			Borrowable1: rec.Borrowable1,
			Index:       rec.Index,
		})
		return nil
	})
}

func (f *Factory) updateRoles(op string, apply func(*factoryState) (string, common.Address, error)) error {
	return f.engine.atomic(op, func() error {
		st, err := f.mustState()
		if err != nil {
			return err
		}
		name, value, err := apply(st)
		if err != nil {
			return err
		}
		if err := f.storeState(st); err != nil {
			return err
		}
		f.engine.emit(events.ParameterUpdated{
			Pool:  f.address,
			Name:  name,
			Value: crypto.FromCommon(crypto.AccountPrefix, value).String(),
		})
		return nil
	})
}

// SetPendingAdmin nominates the next admin. Only the admin may call it.
func (f *Factory) SetPendingAdmin(caller, pending common.Address) error {
	return f.updateRoles("set_pending_admin", func(st *factoryState) (string, common.Address, error) {
		if caller != st.Admin {
			return "", common.Address{}, ErrUnauthorized
		}
		st.PendingAdmin = pending
		return "pending_admin", pending, nil
	})
}

// AcceptAdmin completes the admin handover. Only the pending admin may call it.
func (f *Factory) AcceptAdmin(caller common.Address) error {
	return f.updateRoles("accept_admin", func(st *factoryState) (string, common.Address, error) {
		if caller == (common.Address{}) || caller != st.PendingAdmin {
			return "", common.Address{}, ErrUnauthorized
		}
		st.Admin = caller
		st.PendingAdmin = common.Address{}
		return "admin", caller, nil
	})
}

func (f *Factory) SetReservesPendingAdmin(caller, pending common.Address) error {
	return f.updateRoles("set_reserves_pending_admin", func(st *factoryState) (string, common.Address, error) {
		if caller != st.ReservesAdmin {
			return "", common.Address{}, ErrUnauthorized
		}
		st.ReservesPendingAdmin = pending
		return "reserves_pending_admin", pending, nil
	})
}

func (f *Factory) AcceptReservesAdmin(caller common.Address) error {
	return f.updateRoles("accept_reserves_admin", func(st *factoryState) (string, common.Address, error) {
		if caller == (common.Address{}) || caller != st.ReservesPendingAdmin {
			return "", common.Address{}, ErrUnauthorized
		}
		st.ReservesAdmin = caller
		st.ReservesPendingAdmin = common.Address{}
		return "reserves_admin", caller, nil
	})
}

// SetReservesManager changes the recipient of reserve shares. Only the
// reserves admin may call it.
func (f *Factory) SetReservesManager(caller, manager common.Address) error {
	return f.updateRoles("set_reserves_manager", func(st *factoryState) (string, common.Address, error) {
		if caller != st.ReservesAdmin {
			return "", common.Address{}, ErrUnauthorized
		}
		st.ReservesManager = manager
		return "reserves_manager", manager, nil
	})
}
