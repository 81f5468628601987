package mixing

import (
	"crypto/rand"
	"encoding/binary"
	mrand "math/rand"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"

	"github.com/anonsend/inode/pkg/helpers"
)

// JointTx is the finalized transaction of §4.5's FinalizeTx step: all
// entries' inputs concatenated in insertion order, all entries' outputs
// shuffled with a per-session seed.
type JointTx struct {
	MsgTx       *wire.MsgTx
	OutputOwner []int // index into the originating Entry for each output, post-shuffle
}

// cryptoSeed draws a 64-bit seed from a CSPRNG, used both for session IDs
// and for math/rand.Source instances that must not correlate across
// sessions (§9: "must be seeded from a cryptographically secure source per
// session").
func cryptoSeed() int64 {
	var buf [8]byte
	_, _ = rand.Read(buf[:]) // crypto/rand.Read on the default Reader does not fail in practice
	return int64(binary.LittleEndian.Uint64(buf[:]))
}

// BuildJointTx concatenates every entry's inputs in insertion order and
// shuffles the concatenation of every entry's outputs with rng (§4.5,
// §5 "output order is an explicit shuffle seeded from a cryptographic RNG
// at session start").
func BuildJointTx(entries []*Entry, rng *mrand.Rand) *JointTx {
	tx := wire.NewMsgTx(wire.TxVersion)

	for _, e := range entries {
		for _, in := range e.Inputs {
			op := wire.NewOutPoint((*chainhash.Hash)(&in.Outpoint.Hash), in.Outpoint.Index)
			tx.AddTxIn(wire.NewTxIn(op, nil, nil))
		}
	}

	type ownedOut struct {
		out   TxOut
		owner int
	}
	var flat []ownedOut
	for ei, e := range entries {
		for _, o := range e.Outputs {
			flat = append(flat, ownedOut{out: o, owner: ei})
		}
	}

	rng.Shuffle(len(flat), func(i, j int) {
		flat[i], flat[j] = flat[j], flat[i]
	})

	owners := make([]int, len(flat))
	for i, fo := range flat {
		tx.AddTxOut(wireTxOutFromScript(fo.out))
		owners[i] = fo.owner
	}

	return &JointTx{MsgTx: tx, OutputOwner: owners}
}

// VerifyOwnOutputs implements the client-side check of §4.6 step 2: every
// owned output must appear in final_tx.vout with unchanged value, and the
// matched sum must equal the original sum. It returns false (refuse to
// sign) on any mismatch, never optimistically accepting a partial match.
func VerifyOwnOutputs(myOutputs []TxOut, finalOutputs []*wire.TxOut) bool {
	remaining := make([]*wire.TxOut, len(finalOutputs))
	copy(remaining, finalOutputs)

	var wantSum, matchedSum int64
	for _, want := range myOutputs {
		wantSum += want.Value
		found := -1
		for i, got := range remaining {
			if got == nil {
				continue
			}
			if got.Value == want.Value && helpers.BytesEqual(got.PkScript, want.PkScript) {
				found = i
				break
			}
		}
		if found == -1 {
			return false
		}
		matchedSum += remaining[found].Value
		remaining[found] = nil
	}
	return matchedSum == wantSum
}

// VerifyOwnInputsPresent implements §4.6 step 2's input half: every owned
// input must be located by index within final_tx.vin.
func VerifyOwnInputsPresent(myInputs []Outpoint, finalIns []*wire.TxIn) bool {
	for _, want := range myInputs {
		found := false
		for _, got := range finalIns {
			if got.PreviousOutPoint.Hash == chainhash.Hash(want.Hash) && got.PreviousOutPoint.Index == want.Index {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
