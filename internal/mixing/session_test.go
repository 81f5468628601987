package mixing

import (
	"testing"

	"github.com/anonsend/inode/internal/config"
)

func entryWithOutputs(resolver *fakeResolver, inputSeed byte, outs []TxOut) *Entry {
	in := op(inputSeed)
	var sum int64
	for _, o := range outs {
		sum += o.Value
	}
	resolver.values[in] = sum
	return NewEntry([]Outpoint{in}, sum, validCollateral(resolver, op(100+inputSeed)), outs)
}

func TestSessionDenomLockImmutableAfterFirstAdmission(t *testing.T) {
	ladder := testLadder()
	s := NewSession(ladder, nil)
	resolver := newFakeResolver()

	e1 := entryWithOutputs(resolver, 1, []TxOut{{Value: 1000, PkScript: p2pkhScript()}})
	if err := s.AdmitEntry(e1, resolver); err != nil {
		t.Fatalf("first admission: %v", err)
	}
	if s.DenomMask == 0 {
		t.Fatalf("expected denom mask to be set after first admission")
	}
	locked := s.DenomMask

	e2 := entryWithOutputs(resolver, 2, []TxOut{{Value: 10, PkScript: p2pkhScript()}})
	if err := s.AdmitEntry(e2, resolver); err == nil {
		t.Fatalf("expected incompatible-mask entry to be rejected")
	}
	if s.DenomMask != locked {
		t.Fatalf("denom mask changed after rejection: %b -> %b", locked, s.DenomMask)
	}
}

func TestSessionTransitionsToFinalizeTxWhenFull(t *testing.T) {
	orig := config.PoolMaxTransactions
	config.PoolMaxTransactions = 2
	defer func() { config.PoolMaxTransactions = orig }()

	ladder := testLadder()
	s := NewSession(ladder, nil)
	resolver := newFakeResolver()

	e1 := entryWithOutputs(resolver, 1, []TxOut{{Value: 1000, PkScript: p2pkhScript()}})
	e2 := entryWithOutputs(resolver, 2, []TxOut{{Value: 1000, PkScript: p2pkhScript()}})

	if err := s.AdmitEntry(e1, resolver); err != nil {
		t.Fatal(err)
	}
	if s.State != StateAcceptingEntries {
		t.Fatalf("expected AcceptingEntries after first admission, got %s", s.State)
	}
	if err := s.AdmitEntry(e2, resolver); err != nil {
		t.Fatal(err)
	}
	if s.State != StateFinalizeTx {
		t.Fatalf("expected FinalizeTx once pool full, got %s", s.State)
	}
}

func TestSessionInvalidTransitionRejected(t *testing.T) {
	s := NewSession(testLadder(), nil)
	if err := s.TransitionTo(StateSuccess); err == nil {
		t.Fatalf("expected Queue -> Success to be rejected")
	}
}

func TestSessionBuildFinalTxRequiresFinalizeTxState(t *testing.T) {
	s := NewSession(testLadder(), nil)
	if _, err := s.BuildFinalTx(); err == nil {
		t.Fatalf("expected error building final tx outside FinalizeTx state")
	}
}

func TestSessionRecordSignatureAdvancesToTransmission(t *testing.T) {
	orig := config.PoolMaxTransactions
	config.PoolMaxTransactions = 1
	defer func() { config.PoolMaxTransactions = orig }()

	ladder := testLadder()
	s := NewSession(ladder, nil)
	resolver := newFakeResolver()
	in := op(1)
	e := entryWithOutputs(resolver, 1, []TxOut{{Value: 1000, PkScript: p2pkhScript()}})
	e.Inputs[0].Outpoint = in
	resolver.values[in] = e.Amount

	if err := s.AdmitEntry(e, resolver); err != nil {
		t.Fatal(err)
	}
	if s.State != StateFinalizeTx {
		t.Fatalf("expected FinalizeTx, got %s", s.State)
	}
	if _, err := s.BuildFinalTx(); err != nil {
		t.Fatal(err)
	}
	if s.State != StateSigning {
		t.Fatalf("expected Signing, got %s", s.State)
	}

	advanced, err := s.RecordSignature(in, []byte{1, 2, 3})
	if err != nil {
		t.Fatal(err)
	}
	if !advanced {
		t.Fatalf("expected advance to Transmission once all inputs signed")
	}
	if s.State != StateTransmission {
		t.Fatalf("expected Transmission, got %s", s.State)
	}
}

func TestSessionResetClearsEntriesAndMask(t *testing.T) {
	ladder := testLadder()
	s := NewSession(ladder, nil)
	resolver := newFakeResolver()
	e := entryWithOutputs(resolver, 1, []TxOut{{Value: 1000, PkScript: p2pkhScript()}})
	if err := s.AdmitEntry(e, resolver); err != nil {
		t.Fatal(err)
	}
	s.Reset()
	if s.State != StateAcceptingEntries || s.DenomMask != 0 || len(s.Entries) != 0 {
		t.Fatalf("reset did not clear session state: state=%s mask=%b entries=%d", s.State, s.DenomMask, len(s.Entries))
	}
}
