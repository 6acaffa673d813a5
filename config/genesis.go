package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/bastille-chain/bastille/pkg/crypto"
	"github.com/bastille-chain/bastille/pkg/types"
)

// TargetMode selects the PoW target denominator: production and testing
// targets differ by many orders of magnitude so testnets can mine quickly.
type TargetMode string

const (
	TargetProduction TargetMode = "production"
	TargetTesting    TargetMode = "testing"
)

// Decimals and the fixed block reward. 1 BAST = 10^14 juillets.
const (
	Decimals    = 14
	Juillet     = 1
	Coin        = 100_000_000_000_000 // 10^14 juillets per BAST
	BlockReward = 1789 * Coin
)

// Fee parameters.
const (
	DefaultFeePerByte = 10_000
	DefaultMinFee     = 100_000
)

// GenesisSupplyText is the genesis coinbase's data field.
const GenesisSupplyText = "Liberté, Égalité, Fraternité"

// GenesisTimestamp is fixed so genesis hashes identically across nodes.
const GenesisTimestamp uint64 = 1789000000

// GenesisNonce is the fixed nonce recorded on the genesis header. Genesis
// bypasses PoW entirely, so this value carries no mining meaning.
const GenesisNonce uint64 = 1789

// GenesisDifficulty is always 0: genesis is accepted without PoW.
const GenesisDifficulty uint32 = 0

// Block and transaction size limits.
const (
	MaxBlockTxs    = 10_000     // Max transactions per block, including coinbase.
	MaxTxDataBytes = 65_536     // Max opaque data bytes per transaction.
	MaxBlockSize   = 4_000_000  // Max serialized mining-input size per block, in bytes.
)

// Genesis holds protocol rules that are immutable after chain launch.
// All nodes on a network MUST agree on these values.
type Genesis struct {
	ChainName string `json:"chain_name"`

	// AddressPrefix is the configurable leading string of every address
	// on this network, e.g. "1789" for mainnet, "f789" for testnet.
	AddressPrefix string `json:"address_prefix"`

	// PoW
	TargetMode        TargetMode `json:"target_mode"`
	InitialDifficulty uint32     `json:"initial_difficulty"`
	RetargetWindow    int        `json:"retarget_window"`     // W, default 10.
	TargetBlockTimeMs int64      `json:"target_block_time_ms"` // default 10000.

	// Coinbase maturity window M (blocks a coinbase output must wait before
	// it is spendable): test/dev = 5, prod = 89.
	MaturityWindow uint64 `json:"maturity_window"`

	// Fees
	FeePerByte uint64 `json:"fee_per_byte"`
	MinFee     uint64 `json:"min_fee"`

	// Wire magic, distinct per network.
	Magic string `json:"magic"`
}

// MainnetGenesis returns the mainnet genesis configuration.
func MainnetGenesis() *Genesis {
	return &Genesis{
		ChainName:         "Bastille Mainnet",
		AddressPrefix:     "1789",
		TargetMode:        TargetProduction,
		InitialDifficulty: 1,
		RetargetWindow:    10,
		TargetBlockTimeMs: 10_000,
		MaturityWindow:    89,
		FeePerByte:        DefaultFeePerByte,
		MinFee:            DefaultMinFee,
		Magic:             "BASTILLE_MAIN_1789",
	}
}

// TestnetGenesis returns the testnet genesis configuration.
func TestnetGenesis() *Genesis {
	g := MainnetGenesis()
	g.ChainName = "Bastille Testnet"
	g.AddressPrefix = "f789"
	g.TargetMode = TargetTesting
	g.MaturityWindow = 5
	g.Magic = "BASTILLE_TEST_F789"
	return g
}

// GenesisFor returns the genesis config for the given network.
func GenesisFor(network NetworkType) *Genesis {
	switch network {
	case Testnet:
		return TestnetGenesis()
	default:
		return MainnetGenesis()
	}
}

// LoadGenesis loads genesis configuration from a file.
func LoadGenesis(path string) (*Genesis, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading genesis file: %w", err)
	}
	var g Genesis
	if err := json.Unmarshal(data, &g); err != nil {
		return nil, fmt.Errorf("parsing genesis file: %w", err)
	}
	if err := g.Validate(); err != nil {
		return nil, fmt.Errorf("invalid genesis: %w", err)
	}
	return &g, nil
}

// Save writes the genesis configuration to a file.
func (g *Genesis) Save(path string) error {
	data, err := json.MarshalIndent(g, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding genesis: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}

// Validate checks that the genesis configuration is well-formed.
func (g *Genesis) Validate() error {
	if g.ChainName == "" {
		return fmt.Errorf("chain_name is required")
	}
	if len(g.AddressPrefix) == 0 {
		return fmt.Errorf("address_prefix is required")
	}
	switch g.TargetMode {
	case TargetProduction, TargetTesting:
	default:
		return fmt.Errorf("unknown target_mode: %s", g.TargetMode)
	}
	if g.RetargetWindow < 2 {
		return fmt.Errorf("retarget_window must be at least 2")
	}
	if g.TargetBlockTimeMs <= 0 {
		return fmt.Errorf("target_block_time_ms must be positive")
	}
	if g.MaturityWindow == 0 {
		return fmt.Errorf("maturity_window must be positive")
	}
	if g.Magic == "" {
		return fmt.Errorf("magic is required")
	}
	return nil
}

// GenesisCoinbaseAddress returns the sentinel that receives the genesis
// coinbase reward ("<prefix>Revolution").
func (g *Genesis) GenesisCoinbaseAddress() types.Address {
	return types.RevolutionSentinel(g.AddressPrefix)
}

// GenesisFromAddress returns the sentinel recorded as the genesis
// coinbase's "from" ("<prefix>Genesis").
func (g *Genesis) GenesisFromAddress() types.Address {
	return types.GenesisSentinel(g.AddressPrefix)
}

// Hash returns a BLAKE3 hash of the JSON-encoded genesis configuration.
// The P2P handshake does not exchange it; peers compare only network name
// and magic.
func (g *Genesis) Hash() (types.Hash, error) {
	data, err := json.Marshal(g)
	if err != nil {
		return types.Hash{}, err
	}
	return crypto.Hash(data), nil
}
