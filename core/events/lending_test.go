package events

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"pairlend/crypto"
)

func TestLendingEventsRenderAttributes(t *testing.T) {
	pool := common.HexToAddress("0x1111")
	borrower := common.HexToAddress("0x2222")

	rendered := Liquidate{
		Pool:        pool,
		Sender:      borrower,
		Borrower:    borrower,
		Liquidator:  borrower,
		RepayAmount: uint256.NewInt(300),
	}.Event()
	require.Equal(t, TypeLendingLiquidate, rendered.Type)
	require.Equal(t, crypto.FromCommon(crypto.PoolPrefix, pool).String(), rendered.Attributes["pool"])
	require.Equal(t, crypto.FromCommon(crypto.AccountPrefix, borrower).String(), rendered.Attributes["borrower"])
	require.Equal(t, "300", rendered.Attributes["repayAmount"])
	require.Equal(t, "0", rendered.Attributes["seizeTokens"])

	keys := rendered.Keys()
	require.IsNonDecreasing(t, keys)
	require.Len(t, keys, len(rendered.Attributes))
}

func TestParameterEventTypeCarriesName(t *testing.T) {
	ev := ParameterUpdated{Pool: common.HexToAddress("0x1"), Name: "reserve_factor", Value: "0.05"}
	require.Equal(t, "lending.new_reserve_factor", ev.EventType())
	require.Equal(t, ev.EventType(), ev.Event().Type)
	require.Equal(t, "0.05", ev.Event().Attributes["value"])
}

func TestRecorderFiltersByType(t *testing.T) {
	var recorder Recorder
	var emitter Emitter = &recorder
	emitter.Emit(Sync{})
	emitter.Emit(Borrow{})
	emitter.Emit(Sync{})

	require.Len(t, recorder.Events(), 3)
	require.Len(t, recorder.OfType(TypeLendingSync), 2)
	require.Empty(t, recorder.OfType(TypeLendingRedeem))

	recorder.Reset()
	require.Empty(t, recorder.Events())

	var seen []string
	EmitterFunc(func(ev Event) { seen = append(seen, ev.EventType()) }).Emit(Redeem{})
	NoopEmitter{}.Emit(Redeem{})
	require.Equal(t, []string{TypeLendingRedeem}, seen)
}
