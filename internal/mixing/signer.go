package mixing

import (
	"bytes"
	"crypto/sha256"
	"fmt"

	"github.com/anonsend/inode/internal/config"
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
)

// magicPrefix domain-separates signed messages from ordinary transaction
// digests, following the chain's "Strong Message Signing" convention.
const magicPrefix = "AnonSend Signed Message:\n"

// Signer implements §4.1: keyed compact-signature sign/verify plus the
// collateral-association check used to validate an INODE's registry entry.
type Signer struct {
	chainParams *chaincfg.Params
	fetchTx     TxFetcher
}

// TxFetcher is the chain/mempool external collaborator interface (§6) used
// by associated_with to locate an outpoint's producing transaction.
type TxFetcher interface {
	GetTransaction(hash [32]byte) (*Transaction, error)
}

// Transaction is the minimal shape of a fetched transaction needed by the
// mixing package; real backends adapt their own tx representation to this.
type Transaction struct {
	Outputs []TxOut
}

// NewSigner constructs a Signer. fetcher may be nil if associated_with will
// never be called (e.g. a client-only driver that never validates INODE
// collateral outpoints directly).
func NewSigner(params *chaincfg.Params, fetcher TxFetcher) *Signer {
	return &Signer{chainParams: params, fetchTx: fetcher}
}

// digest computes SHA256d of the domain-separated message, matching
// "sign(secret, msg) -> sig: SHA256d of magic || msg" (§4.1).
func digest(msg []byte) [32]byte {
	var buf bytes.Buffer
	buf.WriteString(magicPrefix)
	buf.Write(msg)
	first := sha256.Sum256(buf.Bytes())
	return sha256.Sum256(first[:])
}

// Sign produces a compact recoverable signature over msg under secret.
func Sign(secret *btcec.PrivateKey, msg []byte) ([]byte, error) {
	if secret == nil {
		return nil, fmt.Errorf("sign: nil key")
	}
	d := digest(msg)
	sig := ecdsa.SignCompact(secret, d[:], true)
	return sig, nil
}

// Verify recovers the pubkey from sig over msg and compares it to pubkey
// (§4.1: "recovers the pubkey from the compact signature and compares
// identifiers"). Malformed signatures yield (false, error).
func Verify(pubkey *btcec.PublicKey, sig []byte, msg []byte) (bool, error) {
	if pubkey == nil {
		return false, fmt.Errorf("verify: nil pubkey")
	}
	d := digest(msg)
	recovered, _, err := ecdsa.RecoverCompact(sig, d[:])
	if err != nil {
		return false, fmt.Errorf("verify: signature recovery failed: %w", err)
	}
	return recovered.IsEqual(pubkey), nil
}

// AssociatedWith fetches the transaction of outpoint and checks that any
// output equal to config.CollateralStake pays the P2PKH script derived from
// pubkey (§4.1).
func (s *Signer) AssociatedWith(outpoint Outpoint, pubkey *btcec.PublicKey) (bool, error) {
	if s.fetchTx == nil {
		return false, fmt.Errorf("associated_with: no transaction fetcher configured")
	}
	tx, err := s.fetchTx.GetTransaction(outpoint.Hash)
	if err != nil {
		return false, fmt.Errorf("associated_with: unknown transaction: %w", err)
	}

	addr, err := btcutil.NewAddressPubKeyHash(btcutil.Hash160(pubkey.SerializeCompressed()), s.chainParams)
	if err != nil {
		return false, fmt.Errorf("associated_with: malformed key: %w", err)
	}
	wantScript, err := payToAddrScript(addr)
	if err != nil {
		return false, err
	}

	for _, out := range tx.Outputs {
		if out.Value == config.CollateralStake && bytes.Equal(out.PkScript, wantScript) {
			return true, nil
		}
	}
	return false, nil
}
