package swap

import (
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// DefaultTWAPWindow is the span of history, in seconds, averaged by the
// oracle when no window is configured.
const DefaultTWAPWindow uint64 = 1200

// DefaultSampleCap bounds the samples retained per pair.
const DefaultSampleCap = 256

// Oracle records price observations per pair and serves their time-weighted
// average as the reference price lending pools value collateral against.
// Observations are stored next to the pair records.
type Oracle struct {
	mu        sync.RWMutex
	pairs     *Pairs
	clock     func() uint64
	window    uint64
	sampleCap int
}

// NewOracle returns an oracle reading spot prices from pairs. clock reports
// the current block time in unix seconds.
func NewOracle(pairs *Pairs, clock func() uint64) *Oracle {
	if clock == nil {
		clock = func() uint64 { return 0 }
	}
	return &Oracle{
		pairs:     pairs,
		clock:     clock,
		window:    DefaultTWAPWindow,
		sampleCap: DefaultSampleCap,
	}
}

// SetWindow configures the averaging window in seconds. Zero keeps every
// retained sample.
func (o *Oracle) SetWindow(seconds uint64) {
	if o == nil {
		return
	}
	o.mu.Lock()
	o.window = seconds
	o.mu.Unlock()
}

// SetSampleCap configures the number of samples retained per pair.
func (o *Oracle) SetSampleCap(limit int) {
	if o == nil {
		return
	}
	o.mu.Lock()
	if limit > 0 {
		o.sampleCap = limit
	}
	o.mu.Unlock()
}

func (o *Oracle) settings() (window uint64, sampleCap int) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.window, o.sampleCap
}

func (o *Oracle) load(pair common.Address) (*OracleState, error) {
	if o == nil || o.pairs == nil || o.pairs.state == nil {
		return nil, fmt.Errorf("swap: state manager required")
	}
	st := new(OracleState)
	if _, err := o.pairs.state.KVGet(oracleStateKey(pair), st); err != nil {
		return nil, err
	}
	return st, nil
}

func (o *Oracle) store(pair common.Address, st *OracleState) error {
	return o.pairs.state.KVPut(oracleStateKey(pair), st)
}

// Initialize starts tracking pair and seeds it with the current spot price
// when the pair holds reserves.
func (o *Oracle) Initialize(pair common.Address) error {
	if _, _, err := o.pairs.Tokens(pair); err != nil {
		return err
	}
	st, err := o.load(pair)
	if err != nil {
		return err
	}
	if !st.Initialized {
		st.Initialized = true
		if err := o.store(pair, st); err != nil {
			return err
		}
	}
	spot, err := o.pairs.SpotPrice(pair)
	if errors.Is(err, ErrInsufficientLiquidity) {
		return nil
	}
	if err != nil {
		return err
	}
	return o.Observe(pair, spot, o.clock())
}

func (o *Oracle) IsInitialized(pair common.Address) bool {
	st, err := o.load(pair)
	return err == nil && st.Initialized
}

// Observe records price for pair at timestamp. Observations must arrive in
// non-decreasing time order.
func (o *Oracle) Observe(pair common.Address, price *uint256.Int, timestamp uint64) error {
	if price == nil || price.IsZero() {
		return ErrInvalidObservationRate
	}
	st, err := o.load(pair)
	if err != nil {
		return err
	}
	if !st.Initialized {
		return ErrOracleNotInitialized
	}
	bucket := st.Samples
	if n := len(bucket); n > 0 && bucket[n-1].Timestamp > timestamp {
		return ErrObservationOutOfOrder
	}
	window, sampleCap := o.settings()
	bucket = append(bucket, Sample{Price: new(uint256.Int).Set(price), Timestamp: timestamp})
	if window > 0 && timestamp > window {
		cutoff := timestamp - window
		filtered := bucket[:0]
		for i, entry := range bucket {
			// The newest sample before the cutoff still covers the start
			// of the window.
			if entry.Timestamp < cutoff && i+1 < len(bucket) && bucket[i+1].Timestamp <= cutoff {
				continue
			}
			filtered = append(filtered, entry)
		}
		bucket = filtered
	}
	if sampleCap > 0 && len(bucket) > sampleCap {
		bucket = bucket[len(bucket)-sampleCap:]
	}
	st.Samples = bucket
	return o.store(pair, st)
}

// ObserveSpot records the pair's current spot price at the clock time.
func (o *Oracle) ObserveSpot(pair common.Address) error {
	spot, err := o.pairs.SpotPrice(pair)
	if err != nil {
		return err
	}
	return o.Observe(pair, spot, o.clock())
}

// Sample returns the most recent observation of pair.
func (o *Oracle) Sample(pair common.Address) (Sample, error) {
	st, err := o.load(pair)
	if err != nil {
		return Sample{}, err
	}
	if !st.Initialized {
		return Sample{}, ErrOracleNotInitialized
	}
	bucket := st.Samples
	if len(bucket) == 0 {
		return Sample{}, ErrNoObservation
	}
	last := bucket[len(bucket)-1]
	return Sample{Price: new(uint256.Int).Set(last.Price), Timestamp: last.Timestamp}, nil
}

// TWAP averages the retained samples of pair, each weighted by the time until
// the next sample; the newest sample is weighted up to the clock time. A
// history with no elapsed time returns the newest price.
func (o *Oracle) TWAP(pair common.Address) (TWAPResult, error) {
	now := o.clock()
	st, err := o.load(pair)
	if err != nil {
		return TWAPResult{}, err
	}
	if !st.Initialized {
		return TWAPResult{}, ErrOracleNotInitialized
	}
	bucket := st.Samples
	window, _ := o.settings()
	if len(bucket) == 0 {
		return TWAPResult{}, ErrNoObservation
	}
	end := bucket[len(bucket)-1].Timestamp
	if now > end {
		end = now
	}
	start := bucket[0].Timestamp
	if window > 0 && end > window && end-window > start {
		start = end - window
	}
	sum := new(uint256.Int)
	var weight uint64
	for i, entry := range bucket {
		from := entry.Timestamp
		if from < start {
			from = start
		}
		to := end
		if i+1 < len(bucket) {
			to = bucket[i+1].Timestamp
		}
		if to <= from {
			continue
		}
		span := to - from
		sum.Add(sum, new(uint256.Int).Mul(entry.Price, uint256.NewInt(span)))
		weight += span
	}
	result := TWAPResult{Start: start, End: end, Count: len(bucket), Window: window}
	if weight == 0 {
		result.Average = new(uint256.Int).Set(bucket[len(bucket)-1].Price)
		return result, nil
	}
	result.Average = new(uint256.Int).Div(sum, uint256.NewInt(weight))
	return result, nil
}

// ReferencePrice returns the TWAP of pair as a token1-per-token0 mantissa.
func (o *Oracle) ReferencePrice(pair common.Address) (*uint256.Int, error) {
	result, err := o.TWAP(pair)
	if err != nil {
		return nil, err
	}
	return result.Average, nil
}
