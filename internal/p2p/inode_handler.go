package p2p

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/anonsend/inode/internal/mixing"
	"github.com/anonsend/inode/pkg/logging"
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

func nowUnix() int64 { return time.Now().Unix() }

func int64ToBytes(v int64) []byte {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, uint64(v))
	return b
}

// Chain is the chain/mempool external-collaborator interface (§6) the
// INODE-side handler needs: resolving input values and mempool
// acceptability for entry/collateral validation (mixing.InputResolver),
// plus submitting the finalized joint transaction to the network (§4.5
// Transmission).
type Chain interface {
	mixing.InputResolver
	SubmitTx(raw []byte) error
}

// InodeHandler adapts a *mixing.Coordinator to InodeSessionHandler: it is
// the INODE-side glue between the wire protocol (§6) and the session state
// machine (§4.5), tracking which network address submitted which entry so
// dsf/dsc notifications can be routed back to participants.
type InodeHandler struct {
	mu sync.Mutex

	coord  *mixing.Coordinator
	chain  Chain
	sender *AddressedSender
	secret *btcec.PrivateKey
	log    *logging.Logger

	// participants maps a session id to the ordered list of network
	// addresses that submitted an entry into it, in admission order
	// (matching Session.Entries' insertion order so index i's address
	// corresponds to Entries[i]).
	participants map[uint32][]string
}

// NewInodeHandler constructs an InodeHandler bound to coord. secret is the
// INODE's own registry signing key, used to sign the
// hash(final_tx)||sig_time announcement at Signing -> Transmission (§4.5).
func NewInodeHandler(coord *mixing.Coordinator, chain Chain, sender *AddressedSender, secret *btcec.PrivateKey, log *logging.Logger) *InodeHandler {
	if log == nil {
		log = logging.GetDefault().Component("p2p")
	}
	h := &InodeHandler{
		coord:        coord,
		chain:        chain,
		sender:       sender,
		secret:       secret,
		log:          log,
		participants: make(map[uint32][]string),
	}
	coord.OnEvent(h.onCoordinatorEvent)
	return h
}

// onCoordinatorEvent pushes dsc completion notices when the scheduler
// drives a session into Error (e.g. the signing timeout of §4.5); the
// Success path is handled synchronously inside HandleDSS once the last
// signature lands, since that is the INODE's own state transition rather
// than a scheduler-driven one.
func (h *InodeHandler) onCoordinatorEvent(ev mixing.Event) {
	if ev.Type != mixing.EventSessionError {
		return
	}
	h.notifyCompletion(ev.SessionID, true, ev.Message)
}

// HandleDSA implements InodeSessionHandler: a session admission request
// (§6 dsa). It only checks compatibility (denom mask, capacity, state) --
// the entry itself, including its collateral, is validated at dsi (§4.3).
func (h *InodeHandler) HandleDSA(fromPeer string, payload DSAPayload) (DSSUPayload, error) {
	s := h.coord.SessionFor(payload.DenomMask)
	if err := s.IsCompatibleWithSession(payload.DenomMask); err != nil {
		return DSSUPayload{Accepted: AcceptedRejected, Message: err.Error()}, err
	}
	return DSSUPayload{
		SessionID:    s.SessionID,
		State:        s.State,
		EntriesCount: s.EntryCount(),
		Accepted:     AcceptedOK,
	}, nil
}

// HandleDSI implements InodeSessionHandler: entry submission (§6 dsi). It
// validates and admits the entry (§4.3), locks its inputs (§5), records
// fromPeer as the owning participant, and -- if the session just became
// full -- builds, signs-for-shuffle, and broadcasts the final transaction
// request to every participant (§4.5 FinalizeTx -> Signing).
func (h *InodeHandler) HandleDSI(fromPeer string, payload DSIPayload) (DSSUPayload, error) {
	s := h.coord.SessionFor(mixing.DenomBitmask(payload.Outputs, mixing.DefaultLadder()))
	entry := mixing.NewEntry(payload.Inputs, payload.Amount, &payload.Collateral, payload.Outputs)

	if err := s.AdmitEntry(entry, h.chain); err != nil {
		return DSSUPayload{SessionID: s.SessionID, Accepted: AcceptedRejected, Message: err.Error()}, err
	}

	for _, in := range entry.Inputs {
		h.coord.LockCoin(in.Outpoint)
	}

	h.mu.Lock()
	h.participants[s.SessionID] = append(h.participants[s.SessionID], fromPeer)
	h.mu.Unlock()

	if s.State == mixing.StateFinalizeTx {
		go h.finalizeAndBroadcastTx(s)
	}

	return DSSUPayload{
		SessionID:    s.SessionID,
		State:        s.State,
		EntriesCount: s.EntryCount(),
		Accepted:     AcceptedOK,
	}, nil
}

// finalizeAndBroadcastTx implements §4.5 FinalizeTx -> Signing: builds the
// shuffled joint transaction and pushes it to every participant as dsf.
func (h *InodeHandler) finalizeAndBroadcastTx(s *mixing.Session) {
	tx, err := s.BuildFinalTx()
	if err != nil {
		h.log.Errorf("inode: build final tx for session %d: %v", s.SessionID, err)
		return
	}

	var buf bytes.Buffer
	if err := tx.MsgTx.Serialize(&buf); err != nil {
		h.log.Errorf("inode: serialize final tx for session %d: %v", s.SessionID, err)
		return
	}
	raw := buf.Bytes()

	h.mu.Lock()
	addrs := append([]string(nil), h.participants[s.SessionID]...)
	h.mu.Unlock()

	for _, addr := range addrs {
		env := Envelope{Type: MsgDSF, SessionID: s.SessionID, RequiresAck: true}
		payload := DSFPayload{SessionID: s.SessionID, FinalTx: raw}
		if err := h.sender.SendJSON(context.Background(), addr, env, payload); err != nil {
			h.log.Warnf("inode: send dsf to %s: %v", addr, err)
		}
	}
}

// HandleDSS implements InodeSessionHandler: signature delivery (§6 dss).
// Once every input across every entry is signed, it signs the
// hash(final_tx)||sig_time announcement, records it in the bounded
// broadcast set, submits the final transaction, and notifies every
// participant of success (§4.5 Signing -> Transmission -> Success).
func (h *InodeHandler) HandleDSS(fromPeer string, payload DSSPayload) error {
	sessionID, s := h.sessionForParticipant(fromPeer)
	if s == nil {
		return fmt.Errorf("dss: no session found for %s", fromPeer)
	}

	var advanced bool
	for _, in := range payload.SignedInputs {
		adv, err := s.RecordSignature(in.Outpoint, in.ScriptSig)
		if err != nil {
			return fmt.Errorf("dss: %w", err)
		}
		if adv {
			advanced = true
		}
	}

	if !advanced {
		return nil
	}
	return h.transmitAndNotify(sessionID, s)
}

// transmitAndNotify implements §4.5 Signing -> Transmission -> Success.
func (h *InodeHandler) transmitAndNotify(sessionID uint32, s *mixing.Session) error {
	var buf bytes.Buffer
	if err := s.FinalTx.MsgTx.Serialize(&buf); err != nil {
		return fmt.Errorf("transmit: serialize: %w", err)
	}
	raw := buf.Bytes()
	hash := chainhash.DoubleHashH(raw)

	sigTime := nowUnix()
	announce := append(hash[:], int64ToBytes(sigTime)...)
	sig, err := mixing.Sign(h.secret, announce)
	if err != nil {
		return fmt.Errorf("transmit: sign announcement: %w", err)
	}
	h.coord.Broadcast().Insert(mixing.BroadcastRecord{Hash: hash, SigTime: sigTime, Sig: sig})

	if err := h.chain.SubmitTx(raw); err != nil {
		s.Fail(fmt.Sprintf("mempool rejected final transaction: %v", err))
		h.coord.UnlockSessionCoins(s)
		h.notifyCompletion(sessionID, true, s.LastMessage)
		return fmt.Errorf("transmit: %w", err)
	}

	if err := s.MarkTransmitted(); err != nil {
		return fmt.Errorf("transmit: %w", err)
	}
	h.coord.UnlockSessionCoins(s)
	h.notifyCompletion(sessionID, false, "")
	return nil
}

// notifyCompletion pushes dsc to every participant of sessionID and clears
// the participant list (the scheduler resets the Session itself after the
// terminal linger, §3 Lifecycle).
func (h *InodeHandler) notifyCompletion(sessionID uint32, isError bool, message string) {
	h.mu.Lock()
	addrs := h.participants[sessionID]
	delete(h.participants, sessionID)
	h.mu.Unlock()

	for _, addr := range addrs {
		env := Envelope{Type: MsgDSC, SessionID: sessionID}
		payload := DSCPayload{SessionID: sessionID, ErrorFlag: isError, Message: message}
		if err := h.sender.SendJSON(context.Background(), addr, env, payload); err != nil {
			h.log.Warnf("inode: send dsc to %s: %v", addr, err)
		}
	}
}

func (h *InodeHandler) sessionForParticipant(addr string) (uint32, *mixing.Session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for sessionID, addrs := range h.participants {
		for _, a := range addrs {
			if a == addr {
				if s, ok := h.coord.Session(sessionID); ok {
					return sessionID, s
				}
			}
		}
	}
	return 0, nil
}

var _ InodeSessionHandler = (*InodeHandler)(nil)
