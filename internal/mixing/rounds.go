package mixing

import "github.com/anonsend/inode/internal/config"

// Sentinel round values (§4.6).
const (
	RoundNotDenominated  = -2 // output is not denominated at depth 0
	RoundIsAnonFee       = -3 // output value equals ANON_FEE
	RoundBoundsViolation = -4 // malformed ancestry (e.g. missing producing tx)
)

// TxLookup is the chain external-collaborator interface round tracking
// needs: given an outpoint, find the inputs of the transaction that
// produced it, and the outpoint's own spent value.
type TxLookup interface {
	ProducingTxInputs(op Outpoint) (inputs []Outpoint, ok bool)
	ValueOf(op Outpoint) (value int64, ok bool)
}

// WalletOwnership is the wallet external-collaborator interface (§6:
// "is_mine(input) -> bool") round tracking needs to decide whether an
// ancestor input belongs to the local wallet.
type WalletOwnership interface {
	IsMine(op Outpoint) bool
}

// Rounds measures the mixing depth of an outpoint (§4.6 "rounds(input)"):
// fetch its producing transaction; if any input of that transaction is
// wallet-owned and denominated, recurse with rounds+1. The source does this
// recursively; §9 directs an iterative DFS with a visited set instead, to
// avoid stack blow-up on pathological chains, capped at ROUND_CAP (16,
// returned once reached — §8 "Rounds upper bound").
func Rounds(op Outpoint, ladder []int64, lookup TxLookup, wallet WalletOwnership) int {
	startValue, ok := lookup.ValueOf(op)
	if !ok {
		return RoundBoundsViolation
	}
	if denomBitFor(startValue, ladder) < 0 {
		if startValue == config.AnonFee {
			return RoundIsAnonFee
		}
		return RoundNotDenominated
	}

	visited := map[Outpoint]struct{}{op: {}}
	cur := op
	depth := 0

	for depth < config.RoundCap {
		inputs, ok := lookup.ProducingTxInputs(cur)
		if !ok {
			return RoundBoundsViolation
		}

		next, found := nextDenominatedWalletInput(inputs, ladder, lookup, wallet, visited)
		if !found {
			return depth
		}
		visited[next] = struct{}{}
		cur = next
		depth++
	}
	return config.RoundCap
}

// nextDenominatedWalletInput scans a producing transaction's inputs for the
// first one that is both wallet-owned and denominated and not yet visited,
// continuing the ancestry walk.
func nextDenominatedWalletInput(inputs []Outpoint, ladder []int64, lookup TxLookup, wallet WalletOwnership, visited map[Outpoint]struct{}) (Outpoint, bool) {
	for _, in := range inputs {
		if _, seen := visited[in]; seen {
			continue
		}
		if !wallet.IsMine(in) {
			continue
		}
		v, ok := lookup.ValueOf(in)
		if !ok {
			continue
		}
		if denomBitFor(v, ladder) >= 0 {
			return in, true
		}
	}
	return Outpoint{}, false
}
