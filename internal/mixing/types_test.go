package mixing

import (
	"math/rand"
	"testing"
)

func testLadder() []int64 {
	return []int64{1000, 100, 10, 1}
}

func TestDenomBitmaskStableUnderPermutation(t *testing.T) {
	ladder := testLadder()
	outs := []TxOut{{Value: 1000}, {Value: 10}, {Value: 1}}

	mask1 := DenomBitmask(outs, ladder)

	perm := rand.Perm(len(outs))
	shuffled := make([]TxOut, len(outs))
	for i, p := range perm {
		shuffled[i] = outs[p]
	}
	mask2 := DenomBitmask(shuffled, ladder)

	if mask1 != mask2 {
		t.Fatalf("mask changed under permutation: %b vs %b", mask1, mask2)
	}
	if mask1 == 0 {
		t.Fatalf("expected nonzero mask for denominated outputs")
	}
}

func TestDenomBitmaskZeroOnNonDenominated(t *testing.T) {
	ladder := testLadder()
	outs := []TxOut{{Value: 1000}, {Value: 777}}
	if mask := DenomBitmask(outs, ladder); mask != 0 {
		t.Fatalf("expected 0 mask when a non-denominated value is present, got %b", mask)
	}
}

func TestSessionStateIsTerminal(t *testing.T) {
	cases := map[SessionState]bool{
		StateQueue:            false,
		StateAcceptingEntries: false,
		StateFinalizeTx:       false,
		StateSigning:          false,
		StateTransmission:     false,
		StateError:            true,
		StateSuccess:          true,
	}
	for s, want := range cases {
		if got := s.IsTerminal(); got != want {
			t.Errorf("%s.IsTerminal() = %v, want %v", s, got, want)
		}
	}
}
