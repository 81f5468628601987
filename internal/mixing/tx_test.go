package mixing

import (
	"math/rand"
	"testing"

	"github.com/btcsuite/btcd/wire"
)

func toWireTxOuts(outs []TxOut) []*wire.TxOut {
	result := make([]*wire.TxOut, len(outs))
	for i, o := range outs {
		result[i] = wireTxOutFromScript(o)
	}
	return result
}

func TestBuildJointTxPreservesInputOrderAndOutputSet(t *testing.T) {
	resolver := newFakeResolver()
	e1 := entryWithOutputs(resolver, 1, []TxOut{{Value: 1000, PkScript: p2pkhScript()}, {Value: 1000, PkScript: p2pkhScript()}})
	e2 := entryWithOutputs(resolver, 2, []TxOut{{Value: 1000, PkScript: p2pkhScript()}})

	rng := rand.New(rand.NewSource(42))
	tx := BuildJointTx([]*Entry{e1, e2}, rng)

	if len(tx.MsgTx.TxIn) != 2 {
		t.Fatalf("expected 2 inputs (insertion order, one per entry), got %d", len(tx.MsgTx.TxIn))
	}
	if len(tx.MsgTx.TxOut) != 3 {
		t.Fatalf("expected 3 outputs total, got %d", len(tx.MsgTx.TxOut))
	}

	// Input order must match insertion order: e1's input first, e2's second.
	wantFirst := e1.Inputs[0].Outpoint
	got := tx.MsgTx.TxIn[0].PreviousOutPoint
	if got.Hash[0] != wantFirst.Hash[0] || got.Index != wantFirst.Index {
		t.Fatalf("expected first input to match e1's insertion order input")
	}
}

func TestBuildJointTxShuffleIsPermutationOnly(t *testing.T) {
	resolver := newFakeResolver()
	e1 := entryWithOutputs(resolver, 1, []TxOut{{Value: 1000, PkScript: p2pkhScript()}, {Value: 1000, PkScript: p2pkhScript()}, {Value: 1000, PkScript: p2pkhScript()}})

	rng := rand.New(rand.NewSource(7))
	tx := BuildJointTx([]*Entry{e1}, rng)

	var sum int64
	for _, o := range tx.MsgTx.TxOut {
		sum += o.Value
	}
	if sum != 3000 {
		t.Fatalf("shuffle must preserve total output value, got %d", sum)
	}
}

func TestVerifyOwnOutputsDetectsTamper(t *testing.T) {
	mine := []TxOut{{Value: 1000, PkScript: p2pkhScript()}}
	tampered := []TxOut{{Value: 999, PkScript: p2pkhScript()}}

	if VerifyOwnOutputs(mine, toWireTxOuts(tampered)) {
		t.Fatalf("expected tamper to be detected")
	}
	if !VerifyOwnOutputs(mine, toWireTxOuts(mine)) {
		t.Fatalf("expected unchanged outputs to verify")
	}
}
