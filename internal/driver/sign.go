package driver

import (
	"bytes"
	"fmt"

	"github.com/anonsend/inode/internal/mixing"
	"github.com/anonsend/inode/internal/p2p"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

// sighashAllAnyoneCanPay mirrors the txscript.SigHashAll|SigHashAnyOneCanPay
// constant combination required by §4.6 step 3.
const sighashAllAnyoneCanPay = txscript.SigHashAll | txscript.SigHashAnyOneCanPay

// HandleDSF implements p2p.ClientHandler and §4.6 "Signing the finalized
// transaction": validates session_id, verifies every owned input/output is
// preserved unchanged, and on success signs and sends dss; on any mismatch
// it refuses to sign (collateral loss accepted) and sends nothing.
func (d *Driver) HandleDSF(fromPeer string, payload p2p.DSFPayload) error {
	d.mu.Lock()
	if d.finalTxReceived {
		d.mu.Unlock()
		return fmt.Errorf("dsf: final tx already received for session %d", d.sessionID)
	}
	if payload.SessionID != d.sessionID {
		d.mu.Unlock()
		return fmt.Errorf("dsf: session id mismatch: got %d, want %d", payload.SessionID, d.sessionID)
	}
	entries := d.myEntries
	d.finalTxReceived = true
	d.state = ClientSigning
	d.mu.Unlock()

	var finalTx wire.MsgTx
	if err := finalTx.Deserialize(bytes.NewReader(payload.FinalTx)); err != nil {
		return fmt.Errorf("dsf: malformed final tx: %w", err)
	}

	var myInputs []mixing.Outpoint
	var myOutputs []mixing.TxOut
	for _, e := range entries {
		for _, in := range e.Inputs {
			myInputs = append(myInputs, in.Outpoint)
		}
		myOutputs = append(myOutputs, e.Outputs...)
	}

	if !mixing.VerifyOwnInputsPresent(myInputs, finalTx.TxIn) {
		d.log.Warnf("dsf: owned input missing from final tx, refusing to sign")
		return nil
	}
	if !mixing.VerifyOwnOutputs(myOutputs, finalTx.TxOut) {
		d.log.Warnf("dsf: owned output mismatch in final tx, refusing to sign")
		return nil
	}

	signed, err := d.signOwnedInputs(&finalTx, myInputs)
	if err != nil {
		d.log.Warnf("dsf: signing owned inputs failed: %v", err)
		return nil
	}

	d.mu.Lock()
	addr := d.submittedToInode
	d.mu.Unlock()

	if d.sender == nil {
		return fmt.Errorf("dsf: no sender configured")
	}
	return d.sender.SendDSS(addr, signed)
}

// signOwnedInputs signs each of the client's own inputs with
// SIGHASH_ALL|SIGHASH_ANYONECANPAY (§4.6 step 3).
func (d *Driver) signOwnedInputs(finalTx *wire.MsgTx, myInputs []mixing.Outpoint) ([]SignedInputResult, error) {
	jointTx := &mixing.JointTx{MsgTx: finalTx}

	var out []SignedInputResult
	for _, want := range myInputs {
		idx := indexOfInput(finalTx.TxIn, want)
		if idx < 0 {
			return nil, fmt.Errorf("sign: owned input not found in final tx")
		}
		scriptSig, err := d.wallet.SignInput(jointTx, idx, nil, uint32(sighashAllAnyoneCanPay))
		if err != nil {
			return nil, fmt.Errorf("sign: %w", err)
		}
		out = append(out, SignedInputResult{Outpoint: want, ScriptSig: scriptSig})
	}
	return out, nil
}

func indexOfInput(ins []*wire.TxIn, want mixing.Outpoint) int {
	for i, in := range ins {
		if in.PreviousOutPoint.Hash == chainhash.Hash(want.Hash) && in.PreviousOutPoint.Index == want.Index {
			return i
		}
	}
	return -1
}

// HandleDSSU implements p2p.ClientHandler: records the session id on
// acceptance and transitions state (§4.6 step 6: "On dssu response
// acceptance: set session_id, move to Queue, wait for ready").
func (d *Driver) HandleDSSU(fromPeer string, payload p2p.DSSUPayload) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	switch payload.Accepted {
	case p2p.AcceptedOK:
		d.sessionID = payload.SessionID
		d.state = ClientQueue
	case p2p.AcceptedRejected:
		d.state = ClientIdle
		d.submittedToInode = ""
		d.log.Infof("dssu rejected: %s", payload.Message)
	case p2p.AcceptedReset:
		d.state = ClientIdle
		d.sessionID = 0
		d.myEntries = nil
		d.finalTxReceived = false
	}
	return nil
}

// HandleDSC implements p2p.ClientHandler: session completion notice.
func (d *Driver) HandleDSC(fromPeer string, payload p2p.DSCPayload) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if payload.SessionID != d.sessionID {
		return nil
	}
	if payload.ErrorFlag {
		d.log.Warnf("session %d completed with error: %s", payload.SessionID, payload.Message)
	} else {
		d.log.Infof("session %d completed successfully", payload.SessionID)
	}
	d.state = ClientIdle
	d.sessionID = 0
	d.myEntries = nil
	d.finalTxReceived = false
	d.submittedToInode = ""
	return nil
}
