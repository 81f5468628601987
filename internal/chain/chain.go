// Package chain is a minimal network-parameter registry: it maps a network
// name ("mainnet", "testnet", "regtest") to the btcsuite chaincfg.Params the
// rest of the codebase needs to derive and recognize P2PKH addresses and
// scripts (mixing.NewSigner, collateral validation). Full chain-parameter
// selection across multiple coins/address formats is out of scope; this is
// the thin Bitcoin-only stand-in the mixing package's Signer actually needs.
package chain

import "github.com/btcsuite/btcd/chaincfg"

// Network names one of the supported parameter sets.
type Network string

const (
	Mainnet Network = "mainnet"
	Testnet Network = "testnet"
	Regtest Network = "regtest"
)

var registry = map[Network]*chaincfg.Params{
	Mainnet: &chaincfg.MainNetParams,
	Testnet: &chaincfg.TestNet3Params,
	Regtest: &chaincfg.RegressionNetParams,
}

// Get returns the chaincfg.Params registered for network, or false if
// network is not one of Mainnet, Testnet, or Regtest.
func Get(network Network) (*chaincfg.Params, bool) {
	p, ok := registry[network]
	return p, ok
}

// MustGet is Get for callers with an already-validated network name (e.g.
// config that has passed its own enum check at load time); it panics on an
// unknown network rather than propagating a silent nil *chaincfg.Params.
func MustGet(network Network) *chaincfg.Params {
	p, ok := registry[network]
	if !ok {
		panic("chain: unknown network " + string(network))
	}
	return p
}

// ParseNetwork validates a free-form network string from config. For
// unrecognized or empty input it returns ("", false) rather than silently
// picking a network; the caller chooses the fallback.
func ParseNetwork(s string) (Network, bool) {
	switch Network(s) {
	case Mainnet, Testnet, Regtest:
		return Network(s), true
	default:
		return "", false
	}
}
