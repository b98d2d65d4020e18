package swap

import (
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"pairlend/core/state"
	"pairlend/native/bank"
	"pairlend/storage"
)

func TestOracleRequiresInitialization(t *testing.T) {
	pairs, _ := newTestPairs(t)
	pair, err := pairs.CreatePair(tokenA, tokenB)
	require.NoError(t, err)
	oracle := NewOracle(pairs, func() uint64 { return 0 })

	require.False(t, oracle.IsInitialized(pair))
	_, err = oracle.ReferencePrice(pair)
	require.ErrorIs(t, err, ErrOracleNotInitialized)
	require.ErrorIs(t, oracle.Observe(pair, e18(1), 1), ErrOracleNotInitialized)

	require.NoError(t, oracle.Initialize(pair))
	require.True(t, oracle.IsInitialized(pair))
	_, err = oracle.ReferencePrice(pair)
	require.ErrorIs(t, err, ErrNoObservation, "an empty pair has no seed sample")
}

func TestOracleSeedsFromSpot(t *testing.T) {
	pairs, _ := newTestPairs(t)
	pair, err := pairs.CreatePair(tokenA, tokenB)
	require.NoError(t, err)
	require.NoError(t, pairs.SetReserves(pair, e18(2000), e18(9340)))

	oracle := NewOracle(pairs, func() uint64 { return 100 })
	require.NoError(t, oracle.Initialize(pair))
	price, err := oracle.ReferencePrice(pair)
	require.NoError(t, err)
	require.Equal(t, "4670000000000000000", price.Dec())
}

func TestOracleTimeWeightsSamples(t *testing.T) {
	pairs, _ := newTestPairs(t)
	pair, err := pairs.CreatePair(tokenA, tokenB)
	require.NoError(t, err)
	now := uint64(0)
	oracle := NewOracle(pairs, func() uint64 { return now })
	oracle.SetWindow(0)
	require.NoError(t, oracle.Initialize(pair))

	require.NoError(t, oracle.Observe(pair, e18(1), 0))
	require.NoError(t, oracle.Observe(pair, e18(3), 300))
	now = 400
	// 1 for 300s, 3 for 100s.
	price, err := oracle.ReferencePrice(pair)
	require.NoError(t, err)
	require.Equal(t, "1500000000000000000", price.Dec())

	require.ErrorIs(t, oracle.Observe(pair, e18(2), 200), ErrObservationOutOfOrder)
	require.ErrorIs(t, oracle.Observe(pair, new(uint256.Int), 500), ErrInvalidObservationRate)

	sample, err := oracle.Sample(pair)
	require.NoError(t, err)
	require.Equal(t, uint64(300), sample.Timestamp)
}

func TestOracleWindowDropsStaleSamples(t *testing.T) {
	pairs, _ := newTestPairs(t)
	pair, err := pairs.CreatePair(tokenA, tokenB)
	require.NoError(t, err)
	now := uint64(0)
	oracle := NewOracle(pairs, func() uint64 { return now })
	oracle.SetWindow(100)
	require.NoError(t, oracle.Initialize(pair))

	require.NoError(t, oracle.Observe(pair, e18(10), 0))
	require.NoError(t, oracle.Observe(pair, e18(2), 1000))
	require.NoError(t, oracle.Observe(pair, e18(4), 1050))
	now = 1100
	// Window [1000, 1100]: 2 for 50s, 4 for 50s.
	result, err := oracle.TWAP(pair)
	require.NoError(t, err)
	require.Equal(t, "3000000000000000000", result.Average.Dec())
	require.Equal(t, uint64(1000), result.Start)
	require.Equal(t, 3, result.Count, "the sample covering the window start is retained")
}

func TestOracleStateFollowsPairState(t *testing.T) {
	db := storage.NewMemDB()
	manager := state.NewManager(db)
	pairs := NewPairs(manager, bank.NewLedger(manager))
	pair, err := pairs.CreatePair(tokenA, tokenB)
	require.NoError(t, err)
	require.NoError(t, pairs.SetReserves(pair, e18(1000), e18(2000)))
	oracle := NewOracle(pairs, func() uint64 { return 100 })

	snap := manager.Snapshot()
	require.NoError(t, oracle.Initialize(pair))
	require.True(t, oracle.IsInitialized(pair))
	manager.RevertToSnapshot(snap)
	require.False(t, oracle.IsInitialized(pair), "reverted initialization must not stick")
	_, err = oracle.Sample(pair)
	require.ErrorIs(t, err, ErrOracleNotInitialized)

	require.NoError(t, oracle.Initialize(pair))
	require.NoError(t, oracle.Observe(pair, e18(5), 200))
	require.NoError(t, manager.Commit())

	reopened := state.NewManager(db)
	restored := NewOracle(NewPairs(reopened, bank.NewLedger(reopened)), func() uint64 { return 200 })
	require.True(t, restored.IsInitialized(pair))
	sample, err := restored.Sample(pair)
	require.NoError(t, err)
	require.Equal(t, uint64(200), sample.Timestamp)
	require.Equal(t, e18(5), sample.Price)
	result, err := restored.TWAP(pair)
	require.NoError(t, err)
	require.Equal(t, 2, result.Count)
}
