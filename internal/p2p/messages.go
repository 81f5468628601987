// Package p2p implements the Protocol Dispatcher and transport of §4.7: a
// libp2p node carrying DSQueue gossip on a public topic and session
// messages (dsa/dsi/dssu/dsf/dss/dsc) on a direct length-prefixed stream
// protocol, mirroring the teacher's SwapTopic/SwapDirectProtocol split.
package p2p

import (
	"time"

	"github.com/anonsend/inode/internal/mixing"
)

// Message type constants, one per row of §6's peer message table.
const (
	MsgDSA   = "dsa"
	MsgDSQ   = "dsq"
	MsgDSI   = "dsi"
	MsgDSSU  = "dssu"
	MsgDSSUB = "dssub"
	MsgDSF   = "dsf"
	MsgDSS   = "dss"
	MsgDSC   = "dsc"
)

// Accepted values of dssu's `accepted` field (§6: "accepted ∈ {-1, 0, 1,
// RESET=?}"). §9 Open Questions flags the exact RESET/REJECTED/ACCEPTED
// integer codes as unspecified; DESIGN.md records the decision to treat
// them as a closed three-value enum (Rejected/Reset/Accepted) rather than
// guess a fourth code, since spec.md never names one beyond the three
// concrete outcomes the state machine actually produces.
type Accepted int8

const (
	AcceptedRejected Accepted = -1
	AcceptedReset    Accepted = 0
	AcceptedOK       Accepted = 1
)

// Envelope wraps every direct (non-gossip) session message with the
// ACK/dedup metadata the stream transport needs, mirroring the teacher's
// SwapMessage shape.
type Envelope struct {
	Type         string
	MessageID    string
	SessionID    uint32
	FromPeer     string
	Timestamp    int64
	RequiresAck  bool
	Payload      []byte
}

// DSAPayload is the dsa message body: client->INODE session admission
// request (§6).
type DSAPayload struct {
	DenomMask  uint8
	Collateral mixing.CollateralTx
}

// DSIPayload is the dsi message body: entry submission (§6).
type DSIPayload struct {
	Inputs     []mixing.Outpoint
	Amount     int64
	Collateral mixing.CollateralTx
	Outputs    []mixing.TxOut
}

// DSSUPayload is the dssu message body: status update (§6).
type DSSUPayload struct {
	SessionID    uint32
	State        mixing.SessionState
	EntriesCount int
	Accepted     Accepted
	Message      string
}

// DSFPayload is the dsf message body: finalized transaction (§6).
type DSFPayload struct {
	SessionID uint32
	FinalTx   []byte // serialized wire.MsgTx
}

// DSSPayload is the dss message body: signature delivery, list<vin> (§6).
type DSSPayload struct {
	SignedInputs []SignedInput
}

// SignedInput pairs an outpoint with its completed script-sig.
type SignedInput struct {
	Outpoint  mixing.Outpoint
	ScriptSig []byte
}

// DSCPayload is the dsc message body: session completion notice (§6).
type DSCPayload struct {
	SessionID uint32
	ErrorFlag bool
	Message   string
}

// AckPayload is returned by the receiver of a RequiresAck envelope.
type AckPayload struct {
	MessageID string
	Timestamp int64
}

// now is a seam for tests; production code always calls time.Now().
var now = time.Now
