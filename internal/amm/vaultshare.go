package amm

import (
	"context"
	"math/big"

	"ammsync/internal/chain"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// ERC-4626 vault event signatures.
var (
	DepositEventSignature  = crypto.Keccak256Hash([]byte("Deposit(address,address,uint256,uint256)"))
	WithdrawEventSignature = crypto.Keccak256Hash([]byte("Withdraw(address,address,address,uint256,uint256)"))
)

var vaultEventArgs abi.Arguments

func init() {
	uint256Type, _ := abi.NewType("uint256", "", nil)
	vaultEventArgs = abi.Arguments{
		{Type: uint256Type, Name: "assets"},
		{Type: uint256Type, Name: "shares"},
	}
}

// VaultSharePool models an ERC-4626 vault as a two-sided market between the
// vault share token and its underlying asset.
type VaultSharePool struct {
	VaultToken         common.Address
	AssetToken         common.Address
	VaultTokenDecimals uint8
	AssetTokenDecimals uint8
	TotalSupply        *big.Int
	TotalAssets        *big.Int
	Fee                uint32 // parts per million, charged on the input side
}

func (p *VaultSharePool) Address() common.Address {
	return p.VaultToken
}

func (p *VaultSharePool) Tokens() []common.Address {
	return []common.Address{p.VaultToken, p.AssetToken}
}

func (p *VaultSharePool) Kind() Kind {
	return KindVaultShare
}

func (p *VaultSharePool) PopulateData(ctx context.Context, backend chain.Backend, block *big.Int) error {
	return populateVaultShare(ctx, backend, p, block)
}

// SyncOnEvent applies a Deposit or Withdraw log to the vault totals.
func (p *VaultSharePool) SyncOnEvent(log types.Log) error {
	if len(log.Topics) == 0 {
		return &EventLogError{Err: ErrInvalidEventSignature}
	}

	values, err := vaultEventArgs.Unpack(log.Data)
	if err != nil {
		return &EventLogError{Log: log.Topics[0], Err: err}
	}
	assets := values[0].(*big.Int)
	shares := values[1].(*big.Int)

	if p.TotalAssets == nil {
		p.TotalAssets = new(big.Int)
	}
	if p.TotalSupply == nil {
		p.TotalSupply = new(big.Int)
	}

	switch log.Topics[0] {
	case DepositEventSignature:
		p.TotalAssets = new(big.Int).Add(p.TotalAssets, assets)
		p.TotalSupply = new(big.Int).Add(p.TotalSupply, shares)
	case WithdrawEventSignature:
		newAssets := new(big.Int).Sub(p.TotalAssets, assets)
		newSupply := new(big.Int).Sub(p.TotalSupply, shares)
		if newAssets.Sign() < 0 || newSupply.Sign() < 0 {
			return ErrLiquidityUnderflow
		}
		p.TotalAssets = newAssets
		p.TotalSupply = newSupply
	default:
		return &EventLogError{Log: log.Topics[0], Err: ErrInvalidEventSignature}
	}
	return nil
}

// SimulateSwap quotes a deposit (asset in, shares out) or a redemption
// (shares in, assets out) at the current share price. An empty vault mints
// shares one-to-one.
func (p *VaultSharePool) SimulateSwap(tokenIn common.Address, amountIn *big.Int) (*big.Int, error) {
	if tokenIn != p.VaultToken && tokenIn != p.AssetToken {
		return nil, ErrTokenNotInPool
	}

	amountInAfterFee := new(big.Int).Mul(amountIn, big.NewInt(feeDenominator-int64(p.Fee)))
	amountInAfterFee.Div(amountInAfterFee, big.NewInt(feeDenominator))

	supply := p.TotalSupply
	assets := p.TotalAssets
	if supply == nil {
		supply = new(big.Int)
	}
	if assets == nil {
		assets = new(big.Int)
	}

	if tokenIn == p.AssetToken {
		// Deposit: shares = assets_in * supply / totalAssets
		if supply.Sign() == 0 || assets.Sign() == 0 {
			return amountInAfterFee, nil
		}
		out := new(big.Int).Mul(amountInAfterFee, supply)
		return out.Div(out, assets), nil
	}

	// Redeem: assets = shares_in * totalAssets / supply
	if supply.Sign() == 0 {
		return nil, ErrDivisionByZero
	}
	out := new(big.Int).Mul(amountInAfterFee, assets)
	return out.Div(out, supply), nil
}
