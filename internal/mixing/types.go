// Package mixing implements the INODE-side mixing session: the Signer,
// DSQueue, Entry, and Session state machine of the coin-mixing protocol.
package mixing

import (
	"github.com/anonsend/inode/internal/config"
	"github.com/btcsuite/btcd/wire"
)

// Outpoint identifies one previous transaction output being spent.
type Outpoint struct {
	Hash  [32]byte
	Index uint32
}

func (o Outpoint) IsNull() bool {
	zero := [32]byte{}
	return o.Hash == zero && o.Index == 0xffffffff
}

// TxOut mirrors an output script + value pair, independent of wire.TxOut so
// that mixing code can be tested without constructing full wire messages.
type TxOut struct {
	Value    int64
	PkScript []byte
}

// SessionState enumerates the INODE-side state machine (§3).
type SessionState int

const (
	StateQueue SessionState = iota
	StateAcceptingEntries
	StateFinalizeTx
	StateSigning
	StateTransmission
	StateError
	StateSuccess
)

func (s SessionState) String() string {
	switch s {
	case StateQueue:
		return "Queue"
	case StateAcceptingEntries:
		return "AcceptingEntries"
	case StateFinalizeTx:
		return "FinalizeTx"
	case StateSigning:
		return "Signing"
	case StateTransmission:
		return "Transmission"
	case StateError:
		return "Error"
	case StateSuccess:
		return "Success"
	default:
		return "Unknown"
	}
}

// IsTerminal reports whether the state lingers and resets rather than
// transitioning further on its own.
func (s SessionState) IsTerminal() bool {
	return s == StateError || s == StateSuccess
}

// allowedTransitions enumerates the valid state graph (§4.5); any
// transition not listed here is rejected by Session.TransitionTo.
var allowedTransitions = map[SessionState][]SessionState{
	StateQueue:            {StateAcceptingEntries, StateError},
	StateAcceptingEntries: {StateAcceptingEntries, StateFinalizeTx, StateError},
	StateFinalizeTx:       {StateSigning, StateError},
	StateSigning:          {StateTransmission, StateError},
	StateTransmission:     {StateSuccess, StateError},
	StateSuccess:          {StateQueue, StateAcceptingEntries},
	StateError:            {StateQueue, StateAcceptingEntries},
}

// DenomBitmask computes the 7-bit denomination bitmask for a set of output
// values against the canonical ladder, LSB = largest denomination. It
// returns 0 if any value is not on the ladder (the "non-denom present" case
// of §3), and is stable under permutation of outs (Denom monotonicity, §8).
func DenomBitmask(outs []TxOut, ladder []int64) uint8 {
	if len(outs) == 0 {
		return 0
	}
	var mask uint8
	for _, o := range outs {
		bit := denomBitFor(o.Value, ladder)
		if bit < 0 {
			return 0
		}
		mask |= 1 << uint(bit)
	}
	return mask
}

func denomBitFor(value int64, ladder []int64) int {
	for i, d := range ladder {
		if d == value {
			return i
		}
	}
	return -1
}

// wireTxOutFromScript constructs a wire.TxOut, used by tx.go when building
// the joint transaction from entry outputs.
func wireTxOutFromScript(t TxOut) *wire.TxOut {
	return wire.NewTxOut(t.Value, t.PkScript)
}

// DefaultLadder returns the configured canonical denomination ladder.
func DefaultLadder() []int64 {
	return config.DenominationLadder
}
