package mixing

import "testing"

type fakeResolver struct {
	values  map[Outpoint]int64
	accepts bool
}

func newFakeResolver() *fakeResolver {
	return &fakeResolver{values: make(map[Outpoint]int64), accepts: true}
}

func (f *fakeResolver) ResolveInputValue(op Outpoint) (int64, bool) {
	v, ok := f.values[op]
	return v, ok
}

func (f *fakeResolver) MempoolAccepts(inputs []Outpoint, outputs []TxOut) bool {
	return f.accepts
}

func p2pkhScript() []byte {
	s := make([]byte, 25)
	s[0] = 0x76 // OP_DUP
	s[1] = 0xa9 // OP_HASH160
	s[2] = 0x14
	s[23] = 0x88 // OP_EQUALVERIFY
	s[24] = 0xac // OP_CHECKSIG
	return s
}

func op(n byte) Outpoint {
	var o Outpoint
	o.Hash[0] = n
	o.Index = uint32(n)
	return o
}

func validCollateral(resolver *fakeResolver, in Outpoint) *CollateralTx {
	resolver.values[in] = 100000
	return &CollateralTx{
		Inputs:  []Outpoint{in},
		Outputs: []TxOut{{Value: 90000, PkScript: p2pkhScript()}},
	}
}

func TestEntryValidateHappyPath(t *testing.T) {
	ladder := testLadder()
	resolver := newFakeResolver()
	in := op(1)
	resolver.values[in] = 1000

	e := NewEntry([]Outpoint{in}, 1000, validCollateral(resolver, op(99)), []TxOut{{Value: 1000, PkScript: p2pkhScript()}})

	if err := e.Validate(nil, ladder, resolver); err != nil {
		t.Fatalf("expected valid entry, got %v", err)
	}
}

func TestEntryValidateRejectsBadScript(t *testing.T) {
	ladder := testLadder()
	resolver := newFakeResolver()
	in := op(1)
	resolver.values[in] = 1000

	badScript := make([]byte, 25)
	e := NewEntry([]Outpoint{in}, 1000, validCollateral(resolver, op(99)), []TxOut{{Value: 1000, PkScript: badScript}})

	if err := e.Validate(nil, ladder, resolver); err == nil {
		t.Fatalf("expected error for non-standard script")
	}
}

func TestEntryValidateRejectsDuplicateInput(t *testing.T) {
	ladder := testLadder()
	resolver := newFakeResolver()
	shared := op(5)
	resolver.values[shared] = 1000

	existing := NewEntry([]Outpoint{shared}, 1000, validCollateral(resolver, op(98)), []TxOut{{Value: 1000, PkScript: p2pkhScript()}})
	e := NewEntry([]Outpoint{shared}, 1000, validCollateral(resolver, op(99)), []TxOut{{Value: 1000, PkScript: p2pkhScript()}})

	if err := e.Validate([]*Entry{existing}, ladder, resolver); err == nil {
		t.Fatalf("expected duplicate-input rejection")
	}
}

func TestEntryValidateRejectsFeeTooHigh(t *testing.T) {
	ladder := testLadder()
	resolver := newFakeResolver()
	in := op(1)
	resolver.values[in] = 10000 // 10000 in, pay out 1000 -> 90% fee

	e := NewEntry([]Outpoint{in}, 10000, validCollateral(resolver, op(99)), []TxOut{{Value: 1000, PkScript: p2pkhScript()}})

	if err := e.Validate(nil, ladder, resolver); err == nil {
		t.Fatalf("expected fee-too-high rejection")
	}
}

func TestEntryValidateRejectsUnknownInput(t *testing.T) {
	ladder := testLadder()
	resolver := newFakeResolver()
	in := op(7) // never registered in resolver.values

	e := NewEntry([]Outpoint{in}, 1000, validCollateral(resolver, op(99)), []TxOut{{Value: 1000, PkScript: p2pkhScript()}})

	if err := e.Validate(nil, ladder, resolver); err == nil {
		t.Fatalf("expected unknown-input rejection")
	}
}

func TestEntryAddSignatureIdempotent(t *testing.T) {
	in := op(1)
	e := NewEntry([]Outpoint{in}, 1000, nil, nil)
	sig := []byte{1, 2, 3}

	ok, err := e.AddSignature(in, sig)
	if !ok || err != nil {
		t.Fatalf("first AddSignature: ok=%v err=%v", ok, err)
	}

	ok, err = e.AddSignature(in, sig)
	if ok || err != nil {
		t.Fatalf("second identical AddSignature should report already-present with no error: ok=%v err=%v", ok, err)
	}

	ok, err = e.AddSignature(in, []byte{9, 9, 9})
	if ok || err == nil {
		t.Fatalf("conflicting AddSignature should be rejected: ok=%v err=%v", ok, err)
	}
}

func TestEntryAllSignaturesPresent(t *testing.T) {
	in1, in2 := op(1), op(2)
	e := NewEntry([]Outpoint{in1, in2}, 1000, nil, nil)
	if e.AllSignaturesPresent() {
		t.Fatalf("expected false before any signatures")
	}
	if _, err := e.AddSignature(in1, []byte{1}); err != nil {
		t.Fatal(err)
	}
	if e.AllSignaturesPresent() {
		t.Fatalf("expected false with one of two signed")
	}
	if _, err := e.AddSignature(in2, []byte{2}); err != nil {
		t.Fatal(err)
	}
	if !e.AllSignaturesPresent() {
		t.Fatalf("expected true once all inputs signed")
	}
}
