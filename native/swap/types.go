package swap

import (
	"errors"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

var (
	ErrUnknownPair            = errors.New("swap: unknown pair")
	ErrPairExists             = errors.New("swap: pair already exists")
	ErrIdenticalTokens        = errors.New("swap: identical tokens")
	ErrInsufficientLiquidity  = errors.New("swap: insufficient liquidity")
	ErrInsufficientInput      = errors.New("swap: insufficient input amount")
	ErrOracleNotInitialized   = errors.New("swap: oracle not initialized")
	ErrNoObservation          = errors.New("swap: no price observation")
	ErrObservationOutOfOrder  = errors.New("swap: observation older than latest sample")
	ErrInvalidObservationRate = errors.New("swap: observed price must be positive")
)

// MinimumLiquidity LP tokens are locked to the zero address on the first
// deposit into a pair.
const MinimumLiquidity = 1000

// FeeNumerator and FeeDenominator express the 0.3% swap fee.
const (
	FeeNumerator   = 997
	FeeDenominator = 1000
)

var priceOne = uint256.NewInt(1_000_000_000_000_000_000)

// PairState is the persisted record of a constant-product pair. The pair's
// address doubles as its LP token in the bank.
type PairState struct {
	Token0   common.Address
	Token1   common.Address
	Reserve0 *uint256.Int
	Reserve1 *uint256.Int
}

func (s *PairState) normalize() {
	if s.Reserve0 == nil {
		s.Reserve0 = new(uint256.Int)
	}
	if s.Reserve1 == nil {
		s.Reserve1 = new(uint256.Int)
	}
}

// Sample is one oracle observation of the token1-per-token0 price mantissa.
type Sample struct {
	Price     *uint256.Int
	Timestamp uint64
}

// OracleState is the persisted observation history of one pair. It lives in
// the same state as the pair record, so it commits and reverts with it.
type OracleState struct {
	Initialized bool
	Samples     []Sample
}

// TWAPResult summarises a time-weighted average over the retained window.
type TWAPResult struct {
	Average *uint256.Int
	Start   uint64
	End     uint64
	Count   int
	Window  uint64
}
