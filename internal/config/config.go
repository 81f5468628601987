// Package config holds the canonical constants of the mixing protocol and
// the on-disk node configuration format.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Canonical protocol constants (§6). These are economic-model parameters;
// spec.md leaves their exact values undefined ("defined in a header not
// shown") and directs implementers to treat them as parameters rather than
// guess a canonical constant. The values below are the conventional
// AnonSend/DarkSend-lineage defaults and are exposed as vars, not untyped
// consts, so a deployment can override them without a fork.
var (
	// DenomUnit is the base unit used to express the denomination ladder
	// below: one whole coin (callers treat all amounts as base units of the
	// chain's smallest unit).
	DenomUnit int64 = 100000000 // 1 coin, in base (satoshi-like) units

	// PoolMax is the maximum total input value a single session will admit:
	// 1001 * denom_unit per §6.
	PoolMax = 1001 * DenomUnit

	// CollateralFee is the minimum fee a collateral transaction must pay.
	CollateralFee int64 = 10000

	// AnonFee is the per-entry anonymization fee: the rounds computation
	// returns the -3 sentinel for an output of exactly this value, and the
	// driver's needs_anon floor (§4.6) includes it.
	AnonFee int64 = 10000

	// CollateralStake is the INODE registry collateral value the Signer's
	// associated_with check looks for (§4.1).
	CollateralStake int64 = 100000

	// PoolMaxTransactions is the number of entries admitted per session
	// before it transitions AcceptingEntries -> FinalizeTx.
	PoolMaxTransactions = 3

	// DenominationLadder is the ordered D = [d0 > d1 > ... > dk] ladder
	// referenced in §3. Index 0 is the largest denomination and occupies
	// bit 0 (LSB) of the 7-bit denomination bitmask.
	DenominationLadder = []int64{
		10 * DenomUnit,
		1 * DenomUnit,
		DenomUnit / 10,
		DenomUnit / 100,
		DenomUnit / 1000,
		DenomUnit / 10000,
		DenomUnit / 100000,
	}
)

// Fixed protocol timing constants (§6), not economic parameters — these are
// spelled out explicitly in spec.md and are left as true constants.
const (
	QueueTimeoutSecs   = 30
	SigningTimeoutSecs = 30
	EntryTimeoutSecs   = 30
	TerminalLingerMS   = 10000
	TickIntervalMS     = 2500
	RoundCap           = 16
	MinPeerProtoVersion = 70015
	INodePingSecs      = 60
	MinBlockSpacing    = 1
	MaxRounds          = 16

	// NonDenomBit is the 8th reserved bitmask bit (§3): always incompatible
	// with mixing.
	NonDenomBit = 1 << 7
)

// NetworkType distinguishes mainnet/testnet DHT and pubsub topic
// namespaces (denominations are the same on both), mirroring the teacher's
// internal/node.NetworkType split.
type NetworkType string

const (
	Mainnet NetworkType = "mainnet"
	Testnet NetworkType = "testnet"
)

// NodeConfig is the YAML-loaded configuration described in §6.
type NodeConfig struct {
	EnableAnonsend   bool        `yaml:"enable_anonsend"`
	TargetAnonAmount int64       `yaml:"target_anon_amount"`
	Rounds           int         `yaml:"rounds"`
	LiquidityProvider int        `yaml:"liquidity_provider"`
	LiteMode         bool        `yaml:"lite_mode"`
	IsInode          bool        `yaml:"is_inode"`
	InodePrivkey     string      `yaml:"inode_privkey"`
	Network          NetworkType `yaml:"network"`
	DataDir          string      `yaml:"data_dir"`
	ListenAddr       string      `yaml:"listen_addr"`
	LogLevel         string      `yaml:"log_level"`
}

// DefaultNodeConfig returns sane defaults matching the listed config keys.
func DefaultNodeConfig() *NodeConfig {
	return &NodeConfig{
		EnableAnonsend:    true,
		TargetAnonAmount:  1000 * DenomUnit,
		Rounds:            4,
		LiquidityProvider: 0,
		LiteMode:          false,
		IsInode:           false,
		Network:           Mainnet,
		LogLevel:          "info",
	}
}

// LoadNodeConfig reads and parses a YAML node config from path.
func LoadNodeConfig(path string) (*NodeConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := DefaultNodeConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if cfg.Rounds < 1 || cfg.Rounds > 16 {
		return nil, fmt.Errorf("rounds must be in 1..16, got %d", cfg.Rounds)
	}
	if cfg.LiquidityProvider < 0 || cfg.LiquidityProvider > 100 {
		return nil, fmt.Errorf("liquidity_provider must be in 0..100, got %d", cfg.LiquidityProvider)
	}

	return cfg, nil
}

// ValidateDenominationLadder checks the denomination ladder's well-formedness: strictly
// decreasing and no more than 7 entries (one bit each in the bitmask).
func ValidateDenominationLadder(ladder []int64) error {
	if len(ladder) == 0 || len(ladder) > 7 {
		return fmt.Errorf("denomination ladder must have 1-7 entries, got %d", len(ladder))
	}
	for i := 1; i < len(ladder); i++ {
		if ladder[i] >= ladder[i-1] {
			return fmt.Errorf("denomination ladder must be strictly decreasing at index %d", i)
		}
	}
	return nil
}
