package chain

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// Multicall3 contract address (same on all EVM chains)
var Multicall3Address = common.HexToAddress("0xcA11bde05977b3631167028862bE2a173976CA11")

// Multicall3 ABI for aggregate3
const Multicall3ABIJSON = `[
	{
		"inputs": [
			{
				"components": [
					{"internalType": "address", "name": "target", "type": "address"},
					{"internalType": "bool", "name": "allowFailure", "type": "bool"},
					{"internalType": "bytes", "name": "callData", "type": "bytes"}
				],
				"internalType": "struct Multicall3.Call3[]",
				"name": "calls",
				"type": "tuple[]"
			}
		],
		"name": "aggregate3",
		"outputs": [
			{
				"components": [
					{"internalType": "bool", "name": "success", "type": "bool"},
					{"internalType": "bytes", "name": "returnData", "type": "bytes"}
				],
				"internalType": "struct Multicall3.Result[]",
				"name": "returnData",
				"type": "tuple[]"
			}
		],
		"stateMutability": "payable",
		"type": "function"
	}
]`

var Multicall3ABI abi.ABI

func init() {
	var err error
	Multicall3ABI, err = abi.JSON(strings.NewReader(Multicall3ABIJSON))
	if err != nil {
		panic("failed to parse Multicall3 ABI: " + err.Error())
	}
}

// Call represents a single call to be batched
type Call struct {
	Target   common.Address
	CallData []byte
}

// Result represents the result of a single call
type Result struct {
	Success bool
	Data    []byte
}

// BatchCallAt executes multiple contract calls in a single RPC request using
// Multicall3. A non-nil block pins every packed read to that height, so all
// per-pool fields in the batch are sampled atomically.
func (c *Client) BatchCallAt(ctx context.Context, calls []Call, block *big.Int) ([]Result, error) {
	if len(calls) == 0 {
		return nil, nil
	}

	// Build the Call3 structs for aggregate3
	type Call3 struct {
		Target       common.Address
		AllowFailure bool
		CallData     []byte
	}

	call3s := make([]Call3, len(calls))
	for i, call := range calls {
		call3s[i] = Call3{
			Target:       call.Target,
			AllowFailure: true, // Allow individual calls to fail
			CallData:     call.CallData,
		}
	}

	// Pack the aggregate3 call
	data, err := Multicall3ABI.Pack("aggregate3", call3s)
	if err != nil {
		return nil, fmt.Errorf("failed to pack aggregate3 call: %w", err)
	}

	c.rateLimit()

	var result []byte
	err = c.retryCall(ctx, func() error {
		var callErr error
		msg := ethereum.CallMsg{
			To:   &Multicall3Address,
			Data: data,
		}
		result, callErr = c.ethClient.CallContract(ctx, msg, block)
		return callErr
	})
	if err != nil {
		return nil, fmt.Errorf("multicall failed: %w", err)
	}

	// Unpack the results
	type callResult struct {
		Success    bool
		ReturnData []byte
	}

	var results []callResult
	err = Multicall3ABI.UnpackIntoInterface(&results, "aggregate3", result)
	if err != nil {
		return nil, fmt.Errorf("failed to unpack aggregate3 result: %w", err)
	}

	batchResults := make([]Result, len(results))
	for i, r := range results {
		batchResults[i] = Result{
			Success: r.Success,
			Data:    r.ReturnData,
		}
	}

	return batchResults, nil
}
