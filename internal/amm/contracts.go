package amm

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// ABI definitions for the contracts the engine reads. Only the functions we
// need.

const pairFactoryABIJSON = `[
	{
		"inputs": [],
		"name": "allPairsLength",
		"outputs": [{"internalType": "uint256", "name": "", "type": "uint256"}],
		"stateMutability": "view",
		"type": "function"
	},
	{
		"inputs": [{"internalType": "uint256", "name": "", "type": "uint256"}],
		"name": "allPairs",
		"outputs": [{"internalType": "address", "name": "", "type": "address"}],
		"stateMutability": "view",
		"type": "function"
	}
]`

const pairABIJSON = `[
	{
		"inputs": [],
		"name": "getReserves",
		"outputs": [
			{"internalType": "uint112", "name": "_reserve0", "type": "uint112"},
			{"internalType": "uint112", "name": "_reserve1", "type": "uint112"},
			{"internalType": "uint32", "name": "_blockTimestampLast", "type": "uint32"}
		],
		"stateMutability": "view",
		"type": "function"
	},
	{
		"inputs": [],
		"name": "token0",
		"outputs": [{"internalType": "address", "name": "", "type": "address"}],
		"stateMutability": "view",
		"type": "function"
	},
	{
		"inputs": [],
		"name": "token1",
		"outputs": [{"internalType": "address", "name": "", "type": "address"}],
		"stateMutability": "view",
		"type": "function"
	}
]`

const concentratedPoolABIJSON = `[
	{
		"inputs": [],
		"name": "slot0",
		"outputs": [
			{"internalType": "uint160", "name": "sqrtPriceX96", "type": "uint160"},
			{"internalType": "int24", "name": "tick", "type": "int24"},
			{"internalType": "uint16", "name": "observationIndex", "type": "uint16"},
			{"internalType": "uint16", "name": "observationCardinality", "type": "uint16"},
			{"internalType": "uint16", "name": "observationCardinalityNext", "type": "uint16"},
			{"internalType": "uint8", "name": "feeProtocol", "type": "uint8"},
			{"internalType": "bool", "name": "unlocked", "type": "bool"}
		],
		"stateMutability": "view",
		"type": "function"
	},
	{
		"inputs": [],
		"name": "liquidity",
		"outputs": [{"internalType": "uint128", "name": "", "type": "uint128"}],
		"stateMutability": "view",
		"type": "function"
	},
	{
		"inputs": [],
		"name": "fee",
		"outputs": [{"internalType": "uint24", "name": "", "type": "uint24"}],
		"stateMutability": "view",
		"type": "function"
	},
	{
		"inputs": [],
		"name": "tickSpacing",
		"outputs": [{"internalType": "int24", "name": "", "type": "int24"}],
		"stateMutability": "view",
		"type": "function"
	},
	{
		"inputs": [],
		"name": "token0",
		"outputs": [{"internalType": "address", "name": "", "type": "address"}],
		"stateMutability": "view",
		"type": "function"
	},
	{
		"inputs": [],
		"name": "token1",
		"outputs": [{"internalType": "address", "name": "", "type": "address"}],
		"stateMutability": "view",
		"type": "function"
	},
	{
		"inputs": [{"internalType": "int16", "name": "", "type": "int16"}],
		"name": "tickBitmap",
		"outputs": [{"internalType": "uint256", "name": "", "type": "uint256"}],
		"stateMutability": "view",
		"type": "function"
	},
	{
		"inputs": [{"internalType": "int24", "name": "", "type": "int24"}],
		"name": "ticks",
		"outputs": [
			{"internalType": "uint128", "name": "liquidityGross", "type": "uint128"},
			{"internalType": "int128", "name": "liquidityNet", "type": "int128"},
			{"internalType": "uint256", "name": "feeGrowthOutside0X128", "type": "uint256"},
			{"internalType": "uint256", "name": "feeGrowthOutside1X128", "type": "uint256"},
			{"internalType": "int56", "name": "tickCumulativeOutside", "type": "int56"},
			{"internalType": "uint160", "name": "secondsPerLiquidityOutsideX128", "type": "uint160"},
			{"internalType": "uint32", "name": "secondsOutside", "type": "uint32"},
			{"internalType": "bool", "name": "initialized", "type": "bool"}
		],
		"stateMutability": "view",
		"type": "function"
	}
]`

const vaultABIJSON = `[
	{
		"inputs": [],
		"name": "asset",
		"outputs": [{"internalType": "address", "name": "", "type": "address"}],
		"stateMutability": "view",
		"type": "function"
	},
	{
		"inputs": [],
		"name": "totalAssets",
		"outputs": [{"internalType": "uint256", "name": "", "type": "uint256"}],
		"stateMutability": "view",
		"type": "function"
	},
	{
		"inputs": [],
		"name": "totalSupply",
		"outputs": [{"internalType": "uint256", "name": "", "type": "uint256"}],
		"stateMutability": "view",
		"type": "function"
	},
	{
		"inputs": [],
		"name": "decimals",
		"outputs": [{"internalType": "uint8", "name": "", "type": "uint8"}],
		"stateMutability": "view",
		"type": "function"
	}
]`

const erc20ABIJSON = `[
	{
		"inputs": [],
		"name": "decimals",
		"outputs": [{"internalType": "uint8", "name": "", "type": "uint8"}],
		"stateMutability": "view",
		"type": "function"
	}
]`

var (
	pairFactoryABI      abi.ABI
	pairABI             abi.ABI
	concentratedPoolABI abi.ABI
	vaultABI            abi.ABI
	erc20ABI            abi.ABI
)

func init() {
	for _, def := range []struct {
		dst  *abi.ABI
		json string
		name string
	}{
		{&pairFactoryABI, pairFactoryABIJSON, "pair factory"},
		{&pairABI, pairABIJSON, "pair"},
		{&concentratedPoolABI, concentratedPoolABIJSON, "concentrated pool"},
		{&vaultABI, vaultABIJSON, "vault"},
		{&erc20ABI, erc20ABIJSON, "erc20"},
	} {
		parsed, err := abi.JSON(strings.NewReader(def.json))
		if err != nil {
			panic("failed to parse " + def.name + " ABI: " + err.Error())
		}
		*def.dst = parsed
	}
}
