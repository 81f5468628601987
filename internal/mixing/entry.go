package mixing

import (
	"fmt"
	"time"

	"github.com/anonsend/inode/internal/config"
	"github.com/anonsend/inode/pkg/helpers"
)

// EntryInput is one input slot of an Entry: an outpoint plus whether its
// script-sig has been filled in (§3 Entry.inputs: "{vin, is_sig_set}").
type EntryInput struct {
	Outpoint  Outpoint
	IsSigSet  bool
	ScriptSig []byte
}

// SignedInputResult pairs an outpoint with the signature the client driver
// produced for it (§4.6 step 3), ready to hand to a dss sender. It lives in
// this package (rather than internal/driver, where it is consumed) so both
// internal/driver and internal/p2p can reference it without an import
// cycle between them.
type SignedInputResult struct {
	Outpoint  Outpoint
	ScriptSig []byte
}

// Entry is one client's contribution to a session (§3, §4.3).
type Entry struct {
	Inputs       []EntryInput
	Amount       int64
	Collateral   *CollateralTx
	Outputs      []TxOut
	CreatedAt    time.Time
}

// NewEntry constructs an Entry (§4.3 add()). It does not validate; callers
// run Validate (typically the session, at admission time).
func NewEntry(inputs []Outpoint, amount int64, collateral *CollateralTx, outputs []TxOut) *Entry {
	es := make([]EntryInput, len(inputs))
	for i, in := range inputs {
		es[i] = EntryInput{Outpoint: in}
	}
	return &Entry{
		Inputs:     es,
		Amount:     amount,
		Collateral: collateral,
		Outputs:    outputs,
		CreatedAt:  time.Now(),
	}
}

// AddSignature sets is_sig_set for the matching input and stores its
// script-sig (§4.3 add_signature). Re-delivery of the same signature is a
// no-op that reports "already present" via ok=false, err=nil (idempotence,
// §8); re-delivery of a different signature for the same outpoint is
// rejected.
func (e *Entry) AddSignature(vin Outpoint, scriptSig []byte) (ok bool, err error) {
	for i := range e.Inputs {
		if e.Inputs[i].Outpoint != vin {
			continue
		}
		if e.Inputs[i].IsSigSet {
			if helpers.BytesEqual(e.Inputs[i].ScriptSig, scriptSig) {
				return false, nil
			}
			return false, ErrAlreadySigned
		}
		e.Inputs[i].IsSigSet = true
		e.Inputs[i].ScriptSig = scriptSig
		return true, nil
	}
	return false, fmt.Errorf("add_signature: %w", ErrUnknownInput)
}

// AllSignaturesPresent reports whether every input has is_sig_set (§4.3).
func (e *Entry) AllSignaturesPresent() bool {
	for _, in := range e.Inputs {
		if !in.IsSigSet {
			return false
		}
	}
	return true
}

// IsExpired reports whether the entry has outlived ENTRY_TIMEOUT_SECS.
func (e *Entry) IsExpired(now time.Time) bool {
	return now.Sub(e.CreatedAt) > config.EntryTimeoutSecs*time.Second
}

// InputResolver is the chain external collaborator interface used to
// resolve an outpoint's spent value, when resolvable (§4.3: "if
// resolvable").
type InputResolver interface {
	ResolveInputValue(op Outpoint) (value int64, known bool)
	MempoolAccepts(inputs []Outpoint, outputs []TxOut) bool
}

// Validate runs every admission check of §4.3 against entries already in
// the session (for duplicate detection) and the pool cap. It returns the
// first violated invariant, wrapped with the matching sentinel from
// errors.go, matching §7's "fail with a specific reason" propagation
// policy.
func (e *Entry) Validate(existing []*Entry, ladder []int64, resolver InputResolver) error {
	if len(e.Inputs) == 0 {
		return fmt.Errorf("validate: no inputs: %w", ErrInvalidEntry)
	}
	for _, in := range e.Inputs {
		if in.Outpoint.IsNull() {
			return fmt.Errorf("validate: null outpoint: %w", ErrInvalidEntry)
		}
	}
	if e.Amount < 0 {
		return fmt.Errorf("validate: negative amount: %w", ErrInvalidEntry)
	}
	if e.Collateral == nil {
		return fmt.Errorf("validate: missing collateral: %w", ErrCollateralInvalid)
	}
	if err := e.Collateral.Validate(resolver); err != nil {
		return fmt.Errorf("validate: %w: %v", ErrCollateralInvalid, err)
	}
	if len(existing) >= config.PoolMaxTransactions {
		return fmt.Errorf("validate: %w", ErrSessionFull)
	}
	for _, other := range existing {
		for _, myIn := range e.Inputs {
			for _, otherIn := range other.Inputs {
				if myIn.Outpoint == otherIn.Outpoint {
					return fmt.Errorf("validate: %w", ErrDuplicateInput)
				}
			}
		}
	}
	for _, out := range e.Outputs {
		if !IsStandardP2PKH(out.PkScript) {
			return fmt.Errorf("validate: %w", ErrBadScript)
		}
	}
	mask := DenomBitmask(e.Outputs, ladder)
	if mask == 0 || mask&config.NonDenomBit != 0 {
		return fmt.Errorf("validate: outputs not denominated: %w", ErrInvalidEntry)
	}

	var inSum, outSum int64
	allResolved := true
	for _, in := range e.Inputs {
		v, known := resolver.ResolveInputValue(in.Outpoint)
		if !known {
			allResolved = false
			return fmt.Errorf("validate: %w", ErrUnknownInput)
		}
		inSum += v
	}
	for _, out := range e.Outputs {
		outSum += out.Value
	}
	if allResolved {
		if inSum > config.PoolMax {
			return fmt.Errorf("validate: %w", ErrPoolMaxExceeded)
		}
		if inSum < outSum {
			return fmt.Errorf("validate: outputs exceed inputs: %w", ErrInvalidEntry)
		}
		delta := inSum - outSum
		if float64(delta) > float64(inSum)*0.01 {
			return fmt.Errorf("validate: %w", ErrFeeTooHigh)
		}
	}

	if resolver != nil && !resolver.MempoolAccepts(outpointsOf(e.Inputs), e.Outputs) {
		return fmt.Errorf("validate: mempool rejects synthetic transaction: %w", ErrInvalidEntry)
	}

	return nil
}

func outpointsOf(ins []EntryInput) []Outpoint {
	out := make([]Outpoint, len(ins))
	for i, in := range ins {
		out[i] = in.Outpoint
	}
	return out
}

