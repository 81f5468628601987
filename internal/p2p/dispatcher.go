package p2p

import (
	"fmt"

	"github.com/anonsend/inode/internal/config"
	"github.com/anonsend/inode/internal/mixing"
	"github.com/anonsend/inode/pkg/logging"
)

// InodeSessionHandler receives the client->INODE half of the message table
// (§6): dsa, dsi, dss. Implemented by the node's session-admission glue
// around a mixing.Coordinator.
type InodeSessionHandler interface {
	HandleDSA(fromPeer string, payload DSAPayload) (DSSUPayload, error)
	HandleDSI(fromPeer string, payload DSIPayload) (DSSUPayload, error)
	HandleDSS(fromPeer string, payload DSSPayload) error
}

// ClientHandler receives the INODE->client half of the message table:
// dsq, dssu, dsf, dsc. Implemented by internal/driver's Driver, which
// registers itself with the Dispatcher structurally (no direct p2p->driver
// import is needed, avoiding an import cycle since driver itself imports
// p2p to send messages).
type ClientHandler interface {
	HandleDSQ(fromPeer string, q *mixing.DSQueue) error
	HandleDSSU(fromPeer string, payload DSSUPayload) error
	HandleDSF(fromPeer string, payload DSFPayload) error
	HandleDSC(fromPeer string, payload DSCPayload) error
}

// PeerVersions resolves a peer's advertised protocol version, the gate
// every inbound message passes through first (§4.7).
type PeerVersions interface {
	ProtoVersionOf(peerID string) (int, bool)
}

// Dispatcher implements §4.7: it gates every inbound message on peer
// version, gates session-scoped client messages on the peer matching the
// client's current submitted-to-inode address, and routes to the
// registered handlers.
type Dispatcher struct {
	inode  InodeSessionHandler
	client ClientHandler
	vers   PeerVersions
	log    *logging.Logger

	// submittedToInode is intentionally a bare string (network address),
	// not a full peer identity, per §9: "submittedToInode equality check
	// uses network-address-only comparison — keep this explicit in the
	// contract; do not upgrade to full peer identity."
	submittedToInode string
}

// NewDispatcher constructs a Dispatcher. Either handler may be nil if this
// node does not play that role (a pure client has no InodeSessionHandler;
// a lite/inode-only node has no ClientHandler).
func NewDispatcher(inode InodeSessionHandler, client ClientHandler, vers PeerVersions, log *logging.Logger) *Dispatcher {
	if log == nil {
		log = logging.GetDefault().Component("p2p")
	}
	return &Dispatcher{inode: inode, client: client, vers: vers, log: log}
}

// SetSubmittedToInode records which INODE (by network address) the local
// client is currently awaiting a session with.
func (d *Dispatcher) SetSubmittedToInode(addr string) {
	d.submittedToInode = addr
}

// gateVersion implements the "Every inbound message is gated on peer
// version >= MIN_PEER_PROTO_VERSION" rule.
func (d *Dispatcher) gateVersion(peerID string) error {
	if d.vers == nil {
		return nil
	}
	v, ok := d.vers.ProtoVersionOf(peerID)
	if !ok || v < config.MinPeerProtoVersion {
		return mixing.ErrVersionIncompatible
	}
	return nil
}

// gateSubmittedInode implements the "further gated on the peer matching
// submitted_to_inode" rule for messages the client only expects from the
// INODE it is actively negotiating with.
func (d *Dispatcher) gateSubmittedInode(peerAddr string) error {
	if d.submittedToInode == "" {
		return nil // not yet bound to an inode; admit (e.g. first dsq)
	}
	if peerAddr != d.submittedToInode {
		return fmt.Errorf("dispatcher: message from %s, awaiting %s: %w", peerAddr, d.submittedToInode, mixing.ErrNotInode)
	}
	return nil
}

// DispatchDSA routes a dsa message to the inode-side handler.
func (d *Dispatcher) DispatchDSA(peerID, peerAddr string, payload DSAPayload) (DSSUPayload, error) {
	if err := d.gateVersion(peerID); err != nil {
		return DSSUPayload{Accepted: AcceptedRejected, Message: err.Error()}, err
	}
	if d.inode == nil {
		return DSSUPayload{Accepted: AcceptedRejected}, fmt.Errorf("dispatcher: not an inode")
	}
	return d.inode.HandleDSA(peerAddr, payload)
}

// DispatchDSI routes a dsi message to the inode-side handler.
func (d *Dispatcher) DispatchDSI(peerID, peerAddr string, payload DSIPayload) (DSSUPayload, error) {
	if err := d.gateVersion(peerID); err != nil {
		return DSSUPayload{Accepted: AcceptedRejected, Message: err.Error()}, err
	}
	if d.inode == nil {
		return DSSUPayload{Accepted: AcceptedRejected}, fmt.Errorf("dispatcher: not an inode")
	}
	return d.inode.HandleDSI(peerAddr, payload)
}

// DispatchDSS routes a dss message to the inode-side handler.
func (d *Dispatcher) DispatchDSS(peerID, peerAddr string, payload DSSPayload) error {
	if err := d.gateVersion(peerID); err != nil {
		return err
	}
	if d.inode == nil {
		return fmt.Errorf("dispatcher: not an inode")
	}
	return d.inode.HandleDSS(peerAddr, payload)
}

// DispatchDSQ routes a dsq advertisement to the client-side handler. It is
// exempt from the submitted-to-inode gate: queue advertisements ride the
// public gossip topic and are evaluated against the registry/rate-limit
// policy inside DSQueue admission itself, not peer identity (§4.2).
func (d *Dispatcher) DispatchDSQ(peerID string, q *mixing.DSQueue) error {
	if err := d.gateVersion(peerID); err != nil {
		return err
	}
	if d.client == nil {
		return nil
	}
	return d.client.HandleDSQ(peerID, q)
}

// DispatchDSSU routes a dssu status update to the client-side handler.
func (d *Dispatcher) DispatchDSSU(peerID, peerAddr string, payload DSSUPayload) error {
	if err := d.gateVersion(peerID); err != nil {
		return err
	}
	if err := d.gateSubmittedInode(peerAddr); err != nil {
		return err
	}
	if d.client == nil {
		return nil
	}
	return d.client.HandleDSSU(peerAddr, payload)
}

// DispatchDSF routes a dsf finalized-transaction message to the client-side
// handler.
func (d *Dispatcher) DispatchDSF(peerID, peerAddr string, payload DSFPayload) error {
	if err := d.gateVersion(peerID); err != nil {
		return err
	}
	if err := d.gateSubmittedInode(peerAddr); err != nil {
		return err
	}
	if d.client == nil {
		return nil
	}
	return d.client.HandleDSF(peerAddr, payload)
}

// DispatchDSC routes a dsc completion notice to the client-side handler.
func (d *Dispatcher) DispatchDSC(peerID, peerAddr string, payload DSCPayload) error {
	if err := d.gateVersion(peerID); err != nil {
		return err
	}
	if err := d.gateSubmittedInode(peerAddr); err != nil {
		return err
	}
	if d.client == nil {
		return nil
	}
	return d.client.HandleDSC(peerAddr, payload)
}
