package amm

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// Structural errors.
var (
	// ErrIncongruentPools is returned when a batch operation receives pools
	// of more than one variant.
	ErrIncongruentPools = errors.New("incongruent pools supplied to batch request")

	// ErrPairDoesNotExist is returned on a pool lookup miss.
	ErrPairDoesNotExist = errors.New("pair does not exist in provided factories")

	// ErrTokenNotInPool is returned when a swap is simulated with a token the
	// pool does not hold.
	ErrTokenNotInPool = errors.New("token is not part of the pool")
)

// Simulation errors.
var (
	ErrNoInitializedTick  = errors.New("no initialized tick in swap range")
	ErrLiquidityUnderflow = errors.New("liquidity underflow")
	ErrDivisionByZero     = errors.New("division by zero")
)

// Event log errors.
var (
	ErrInvalidEventSignature = errors.New("invalid event signature")
	ErrLogBlockNumberMissing = errors.New("log block number not found")
)

// BatchError reports malformed data returned for a specific pool inside a
// batched read.
type BatchError struct {
	Pool common.Address
	Err  error
}

func (e *BatchError) Error() string {
	return fmt.Sprintf("invalid data from batch request for pool %s: %v", e.Pool.Hex(), e.Err)
}

func (e *BatchError) Unwrap() error {
	return e.Err
}

// EventLogError reports a log that could not be decoded into a pool event.
type EventLogError struct {
	Log common.Hash // topic0 of the offending log
	Err error
}

func (e *EventLogError) Error() string {
	return fmt.Sprintf("event log error for topic %s: %v", e.Log.Hex(), e.Err)
}

func (e *EventLogError) Unwrap() error {
	return e.Err
}
