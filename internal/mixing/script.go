package mixing

import (
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/txscript"
)

// standardP2PKHLen is the exact byte length of a standard P2PKH script:
// OP_DUP OP_HASH160 <20-byte push> OP_EQUALVERIFY OP_CHECKSIG (§3, §4.3).
const standardP2PKHLen = 25

// payToAddrScript builds the P2PKH script for addr, used both to derive an
// INODE's expected collateral-payment script (signer.go) and in tests.
func payToAddrScript(addr btcutil.Address) ([]byte, error) {
	return txscript.PayToAddrScript(addr)
}

// IsStandardP2PKH reports whether script is exactly the 25-byte standard
// pay-to-pubkey-hash form required of every Entry output (§3 Entry
// invariant, §4.3 validation).
func IsStandardP2PKH(script []byte) bool {
	if len(script) != standardP2PKHLen {
		return false
	}
	return script[0] == txscript.OP_DUP &&
		script[1] == txscript.OP_HASH160 &&
		script[2] == 0x14 &&
		script[23] == txscript.OP_EQUALVERIFY &&
		script[24] == txscript.OP_CHECKSIG
}
