// Package driver implements the Client Driver of §4.6: wallet-side
// denomination maintenance, INODE discovery/selection, entry submission,
// and finalized-transaction verification and signing.
package driver

import (
	"sync"

	"github.com/anonsend/inode/internal/mixing"
	"github.com/anonsend/inode/pkg/logging"
)

// ClientState mirrors the client-side half of §3 Session: a session_id of
// 0 before admission, my_entries as the local mirror of submitted entries.
type ClientState int

const (
	ClientIdle ClientState = iota
	ClientAwaitingAdmission
	ClientQueue
	ClientSigning
	ClientDone
)

// Wallet is the wallet external-collaborator interface of §6.
type Wallet interface {
	IsDenominated(value int64) bool
	SelectCoinsByDenominations(mask uint8, min, max int64) (coins []mixing.Outpoint, total int64, err error)
	HasCollateralInputs() bool
	CreateCollateralTransaction() (*mixing.CollateralTx, error)
	Unlock(op mixing.Outpoint)
	IsMine(op mixing.Outpoint) bool
	SignInput(tx *mixing.JointTx, idx int, scriptPubKey []byte, hashType uint32) ([]byte, error)
	AnonymizedBalance() int64
	NonAnonymizedBalance() int64
	IsLocked() bool
}

// Sender is the minimal transport interface the driver needs to talk to an
// INODE; internal/p2p.ClientSender satisfies it structurally, avoiding a
// driver->p2p dependency beyond this interface boundary... except the
// driver does need p2p's Envelope/payload types, so it imports p2p for
// those shapes; only the dispatcher avoids importing driver, breaking the
// cycle in the other direction.
type Sender interface {
	SendDSA(inodeAddr string, denomMask uint8, collateral *mixing.CollateralTx) error
	SendDSI(inodeAddr string, inputs []mixing.Outpoint, amount int64, collateral *mixing.CollateralTx, outputs []mixing.TxOut) error
	SendDSS(inodeAddr string, signed []mixing.SignedInputResult) error
}

// SignedInputResult pairs an outpoint with the signature the driver
// produced for it, ready to hand to Sender.SendDSS.
type SignedInputResult = mixing.SignedInputResult

// Driver is the client-side controller of §4.6.
type Driver struct {
	mu sync.Mutex

	wallet   Wallet
	sender   Sender
	registry mixing.INodeLookup
	queues   *mixing.QueueTable
	coord    *mixing.Coordinator
	log      *logging.Logger

	state            ClientState
	sessionID        uint32
	submittedToInode string
	myEntries        []*mixing.Entry
	finalTxReceived  bool
	lastDenomHeight  int64

	ladder []int64

	// onDenominateTrigger, when set, is invoked when a ready dsq arrives
	// from the inode the client is currently awaiting (§4.2 admission
	// step 3). It is fired from its own goroutine so HandleDSQ never
	// blocks on a mixing pass.
	onDenominateTrigger func()
}

// SetDenominateTrigger registers the callback §4.2 step 3 fires.
func (d *Driver) SetDenominateTrigger(fn func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onDenominateTrigger = fn
}

// Config configures a new Driver.
type Config struct {
	Wallet   Wallet
	Sender   Sender
	Registry mixing.INodeLookup
	Queues   *mixing.QueueTable
	Coord    *mixing.Coordinator
	Ladder   []int64
	Log      *logging.Logger
}

// New constructs a Driver in the Idle state (session_id implicitly 0 per
// §3 "0 for client before admission").
func New(cfg Config) *Driver {
	log := cfg.Log
	if log == nil {
		log = logging.GetDefault().Component("driver")
	}
	return &Driver{
		wallet:   cfg.Wallet,
		sender:   cfg.Sender,
		registry: cfg.Registry,
		queues:   cfg.Queues,
		coord:    cfg.Coord,
		ladder:   cfg.Ladder,
		log:      log,
		state:    ClientIdle,
	}
}

// State returns the current client-side state.
func (d *Driver) State() ClientState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// SessionID returns the client's mirrored session id (0 before admission).
func (d *Driver) SessionID() uint32 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sessionID
}
