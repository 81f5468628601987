package mixing

import (
	"testing"

	"github.com/anonsend/inode/internal/config"
)

type fakeChain struct {
	// producing tx inputs for a given outpoint
	inputs map[Outpoint][]Outpoint
	values map[Outpoint]int64
}

func (f *fakeChain) ProducingTxInputs(op Outpoint) ([]Outpoint, bool) {
	ins, ok := f.inputs[op]
	return ins, ok
}

func (f *fakeChain) ValueOf(op Outpoint) (int64, bool) {
	v, ok := f.values[op]
	return v, ok
}

type fakeWallet struct {
	mine map[Outpoint]bool
}

func (f *fakeWallet) IsMine(op Outpoint) bool { return f.mine[op] }

func TestRoundsNotDenominatedAtDepthZero(t *testing.T) {
	ladder := testLadder()
	chain := &fakeChain{values: map[Outpoint]int64{op(1): 777}, inputs: map[Outpoint][]Outpoint{}}
	wallet := &fakeWallet{mine: map[Outpoint]bool{}}

	if r := Rounds(op(1), ladder, chain, wallet); r != RoundNotDenominated {
		t.Fatalf("expected RoundNotDenominated, got %d", r)
	}
}

func TestRoundsDepthThreeAncestry(t *testing.T) {
	ladder := testLadder()
	a, b, c, d := op(1), op(2), op(3), op(4)

	chain := &fakeChain{
		values: map[Outpoint]int64{a: 1000, b: 1000, c: 1000, d: 1000},
		inputs: map[Outpoint][]Outpoint{
			a: {b},
			b: {c},
			c: {d},
			d: {}, // no further wallet-owned denominated ancestor
		},
	}
	wallet := &fakeWallet{mine: map[Outpoint]bool{b: true, c: true, d: true}}

	if r := Rounds(a, ladder, chain, wallet); r != 3 {
		t.Fatalf("expected depth 3, got %d", r)
	}
}

func TestRoundsUpperBound(t *testing.T) {
	ladder := testLadder()
	values := map[Outpoint]int64{}
	inputs := map[Outpoint][]Outpoint{}
	mine := map[Outpoint]bool{}

	// build a chain deeper than ROUND_CAP
	prev := op(0)
	values[prev] = 1000
	for i := byte(1); i < 40; i++ {
		cur := op(i)
		values[cur] = 1000
		mine[cur] = true
		inputs[prev] = []Outpoint{cur}
		prev = cur
	}
	inputs[prev] = []Outpoint{}

	if r := Rounds(op(0), ladder, &fakeChain{values: values, inputs: inputs}, &fakeWallet{mine: mine}); r != config.RoundCap {
		t.Fatalf("expected ROUND_CAP (%d), got %d", config.RoundCap, r)
	}
}

func TestRoundsIsAnonFeeSentinel(t *testing.T) {
	ladder := testLadder()
	chain := &fakeChain{values: map[Outpoint]int64{op(1): config.AnonFee}, inputs: map[Outpoint][]Outpoint{}}
	wallet := &fakeWallet{mine: map[Outpoint]bool{}}

	if r := Rounds(op(1), ladder, chain, wallet); r != RoundIsAnonFee {
		t.Fatalf("expected RoundIsAnonFee, got %d", r)
	}
}
