package mixing

import (
	"fmt"

	"github.com/anonsend/inode/internal/config"
)

// CollateralTx is the signed, mempool-valid transaction an INODE holds for
// the lifetime of a session and may broadcast as a punitive miner fee
// (§4.4, glossary "Collateral").
type CollateralTx struct {
	LockTime int64
	Inputs   []Outpoint
	Outputs  []TxOut
	Raw      []byte // serialized transaction, for broadcast
}

// Validate checks the invariants of §4.4:
//   - nLockTime == 0
//   - every output is a standard P2PKH
//   - every input is known (resolvable)
//   - sum(in) - sum(out) >= COLLATERAL_FEE
//   - passes mempool-acceptability
func (c *CollateralTx) Validate(resolver InputResolver) error {
	if c == nil {
		return fmt.Errorf("collateral: nil transaction")
	}
	if c.LockTime != 0 {
		return fmt.Errorf("collateral: nonzero locktime")
	}
	if len(c.Inputs) == 0 {
		return fmt.Errorf("collateral: no inputs")
	}
	for _, out := range c.Outputs {
		if !IsStandardP2PKH(out.PkScript) {
			return fmt.Errorf("collateral: %w", ErrBadScript)
		}
	}

	var inSum, outSum int64
	for _, in := range c.Inputs {
		if resolver == nil {
			return fmt.Errorf("collateral: no resolver configured: %w", ErrUnknownInput)
		}
		v, known := resolver.ResolveInputValue(in)
		if !known {
			return fmt.Errorf("collateral: %w", ErrUnknownInput)
		}
		inSum += v
	}
	for _, out := range c.Outputs {
		outSum += out.Value
	}
	if inSum-outSum < config.CollateralFee {
		return fmt.Errorf("collateral: fee below minimum (%d < %d)", inSum-outSum, config.CollateralFee)
	}

	if resolver != nil && !resolver.MempoolAccepts(c.Inputs, c.Outputs) {
		return fmt.Errorf("collateral: mempool rejects transaction")
	}

	return nil
}
