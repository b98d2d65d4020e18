package lending

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"

	"pairlend/core/events"
	"pairlend/observability/metrics"
)

const moduleName = "lending"

type engineState interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
	KVDelete(key []byte) error
	Snapshot() int
	RevertToSnapshot(id int)
	Commit() error
}

// Engine is the transactional runtime shared by every pool: journaled state,
// the underlying token bank, the block clock and the event buffer.
//
// Every public pool operation runs as an atomic unit. Nested units revert
// independently; only the outermost unit commits state and flushes events.
// An Engine is not safe for concurrent use.
type Engine struct {
	state   engineState
	bank    Bank
	emitter events.Emitter
	logger  *slog.Logger
	metrics *metrics.LendingMetrics
	chainID *uint256.Int
	now     uint64

	depth     int
	pending   []events.Event
	committed []func()
}

// NewEngine constructs an engine over the provided state and token bank.
func NewEngine(state engineState, bank Bank) *Engine {
	return &Engine{
		state:   state,
		bank:    bank,
		emitter: events.NoopEmitter{},
		logger:  slog.Default(),
		metrics: metrics.Lending(),
		chainID: u64(1),
	}
}

func (e *Engine) SetEmitter(emitter events.Emitter) {
	if e == nil {
		return
	}
	if emitter == nil {
		emitter = events.NoopEmitter{}
	}
	e.emitter = emitter
}

func (e *Engine) SetLogger(logger *slog.Logger) {
	if e == nil || logger == nil {
		return
	}
	e.logger = logger.With("module", moduleName)
}

// SetMetrics replaces the metrics sink. A nil sink disables metrics.
func (e *Engine) SetMetrics(m *metrics.LendingMetrics) {
	if e == nil {
		return
	}
	e.metrics = m
}

// SetChainID configures the chain identifier bound into signed permits.
func (e *Engine) SetChainID(id uint64) {
	if e == nil {
		return
	}
	e.chainID = u64(id)
}

func (e *Engine) ChainID() *uint256.Int {
	if e == nil || e.chainID == nil {
		return zero()
	}
	return clone(e.chainID)
}

// SetBlockTime sets the timestamp, in unix seconds, observed by subsequent
// operations.
func (e *Engine) SetBlockTime(ts uint64) {
	if e == nil {
		return
	}
	e.now = ts
}

// AdvanceTime moves the block clock forward.
func (e *Engine) AdvanceTime(seconds uint64) {
	if e == nil {
		return
	}
	e.now += seconds
}

func (e *Engine) BlockTime() uint64 {
	if e == nil {
		return 0
	}
	return e.now
}

// Bank returns the underlying token ledger.
func (e *Engine) Bank() Bank {
	if e == nil {
		return nil
	}
	return e.bank
}

func (e *Engine) emit(ev events.Event) {
	e.pending = append(e.pending, ev)
}

// onCommit queues fn to run once the outermost unit commits. A revert of the
// enclosing unit drops it.
func (e *Engine) onCommit(fn func()) {
	e.committed = append(e.committed, fn)
}

// atomic runs fn as a transactional unit. Any error or panic restores state
// and drops the events buffered since entry.
func (e *Engine) atomic(op string, fn func() error) (err error) {
	if e == nil || e.state == nil || e.bank == nil {
		return ErrNilState
	}
	started := time.Now()
	snap := e.state.Snapshot()
	mark := len(e.pending)
	hookMark := len(e.committed)
	e.depth++
	completed := false
	defer func() {
		e.depth--
		if !completed || err != nil {
			e.state.RevertToSnapshot(snap)
			e.pending = e.pending[:mark]
			e.committed = e.committed[:hookMark]
			if e.depth == 0 {
				e.logger.Debug("lending operation reverted", "op", op, "error", err)
				e.metrics.ObserveOperation(op, Kind(err).String(), time.Since(started))
			}
			return
		}
		if e.depth > 0 {
			return
		}
		if cerr := e.state.Commit(); cerr != nil {
			err = fmt.Errorf("lending: commit %s: %w", op, cerr)
			e.pending = e.pending[:0]
			e.committed = e.committed[:0]
			e.metrics.ObserveOperation(op, "commit_error", time.Since(started))
			return
		}
		flushed, hooks := e.pending, e.committed
		e.pending, e.committed = nil, nil
		for _, ev := range flushed {
			e.emitter.Emit(ev)
		}
		for _, hook := range hooks {
			hook()
		}
		e.logger.Debug("lending operation committed", "op", op, "events", len(flushed))
		e.metrics.ObserveOperation(op, "ok", time.Since(started))
	}()
	err = fn()
	completed = true
	return err
}

// Execute runs fn as one transaction. Pool operations and bank transfers made
// inside fn commit or revert together.
func (e *Engine) Execute(op string, fn func() error) error {
	return e.atomic(op, fn)
}

// Simulate runs fn and then discards all of its effects, successful or not.
// It backs the quoting variants of side-effecting reads.
func (e *Engine) Simulate(fn func() error) error {
	if e == nil || e.state == nil || e.bank == nil {
		return ErrNilState
	}
	snap := e.state.Snapshot()
	mark := len(e.pending)
	hookMark := len(e.committed)
	e.depth++
	defer func() {
		e.depth--
		e.state.RevertToSnapshot(snap)
		e.pending = e.pending[:mark]
		e.committed = e.committed[:hookMark]
	}()
	return fn()
}

// deriveAddress maps a namespace and its parts to a deterministic address.
func deriveAddress(namespace string, parts ...[]byte) common.Address {
	buf := append([]byte(nil), namespace...)
	for _, part := range parts {
		buf = append(buf, part...)
	}
	return common.BytesToAddress(ethcrypto.Keccak256(buf)[12:])
}
