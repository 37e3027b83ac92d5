package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

const validConfig = `
chain:
  rpc_url: "http://localhost:8545"
factories:
  - variant: constant_product
    address: "0x5C69bEe701ef814a2B6a3EDD4B1652CB9cc5aA6f"
    creation_block: 10000835
    fee: 3000
  - variant: concentrated_liquidity
    address: "0x1F98431c8aD98523631AE4a59f267346ea31F984"
    creation_block: 12369621
`

func TestLoadValidConfig(t *testing.T) {
	cfg, err := Load(writeConfig(t, validConfig))
	require.NoError(t, err)

	require.Equal(t, "http://localhost:8545", cfg.Chain.RPCURL)
	require.Len(t, cfg.Factories, 2)
	require.Equal(t, "constant_product", cfg.Factories[0].Variant)
	require.Equal(t, uint32(3000), cfg.Factories[0].Fee)

	// Defaults fill what the file omits.
	require.EqualValues(t, 10_000, cfg.Sync.Step)
	require.Equal(t, 10, cfg.Sync.TaskLimit)
	require.Equal(t, "info", cfg.Logging.Level)
}

func TestLoadRequiresRPCURL(t *testing.T) {
	_, err := Load(writeConfig(t, `
factories:
  - variant: constant_product
    address: "0x5C69bEe701ef814a2B6a3EDD4B1652CB9cc5aA6f"
`))
	require.Error(t, err)
	require.Contains(t, err.Error(), "rpc_url")
}

func TestLoadRequiresFactories(t *testing.T) {
	_, err := Load(writeConfig(t, `
chain:
  rpc_url: "http://localhost:8545"
`))
	require.Error(t, err)
	require.Contains(t, err.Error(), "factory")
}

func TestLoadRejectsUnknownVariant(t *testing.T) {
	_, err := Load(writeConfig(t, `
chain:
  rpc_url: "http://localhost:8545"
factories:
  - variant: curve_stable
    address: "0x5C69bEe701ef814a2B6a3EDD4B1652CB9cc5aA6f"
`))
	require.Error(t, err)
	require.Contains(t, err.Error(), "variant")
}

func TestLoadRejectsMalformedAddress(t *testing.T) {
	_, err := Load(writeConfig(t, `
chain:
  rpc_url: "http://localhost:8545"
factories:
  - variant: constant_product
    address: "not-an-address"
`))
	require.Error(t, err)
	require.Contains(t, err.Error(), "address")
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("AMMSYNC_RPC_URL", "http://override:8545")
	t.Setenv("AMMSYNC_STEP", "500")

	cfg, err := Load(writeConfig(t, validConfig))
	require.NoError(t, err)
	require.Equal(t, "http://override:8545", cfg.Chain.RPCURL)
	require.EqualValues(t, 500, cfg.Sync.Step)
}
