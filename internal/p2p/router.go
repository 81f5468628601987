package p2p

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/anonsend/inode/internal/mixing"
	"github.com/anonsend/inode/pkg/logging"
	"github.com/libp2p/go-libp2p/core/peer"
)

// optimisticPeerVersions implements PeerVersions without a dedicated
// version-handshake message: every peer that has reached the session or
// queue transport at all is assumed to speak at least MIN_PEER_PROTO_VERSION
// (§4.7), since the underlying libp2p stream protocol ID itself already
// pins the wire format both sides understand. A real deployment wanting
// per-peer version skew would widen the message table with an explicit
// hello; spec.md names no such message, so this router does not invent one.
type optimisticPeerVersions struct {
	mu   sync.RWMutex
	vers map[string]int
}

func newOptimisticPeerVersions() *optimisticPeerVersions {
	return &optimisticPeerVersions{vers: make(map[string]int)}
}

// NewPeerVersions constructs a PeerVersions tracker independent of any
// Router, so callers can hand the same instance to both NewDispatcher and
// NewRouter without a construction-order cycle between them. The returned
// value also exposes Set for recording versions learned elsewhere (e.g. the
// registry).
func NewPeerVersions() interface {
	PeerVersions
	Set(peerID string, version int)
} {
	return newOptimisticPeerVersions()
}

func (o *optimisticPeerVersions) ProtoVersionOf(peerID string) (int, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if v, ok := o.vers[peerID]; ok {
		return v, true
	}
	return minAssumedProtoVersion, true
}

// Set records an explicitly observed version for peerID (e.g. learned from a
// registry entry's ProtoVersion field once the peer has a collateral
// registered).
func (o *optimisticPeerVersions) Set(peerID string, version int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.vers[peerID] = version
}

const minAssumedProtoVersion = 70015 // mirrors config.MinPeerProtoVersion without importing config here

// Router wires the Dispatcher to the transport: it registers a
// MessageHandler per session-protocol message type and a QueueTopic.Loop
// consumer, translating between the wire Envelope/payload shapes and the
// Dispatcher's typed calls, and keeps the AddressBook current so replies
// can be addressed back to the originating peer (§4.7).
type Router struct {
	dispatcher *Dispatcher
	sender     *AddressedSender
	book       *AddressBook
	log        *logging.Logger
}

// NewRouter constructs a Router around an already-built Dispatcher. Build
// the Dispatcher's PeerVersions via NewPeerVersions first and pass the same
// instance to both, so the Dispatcher's version gate and this Router's
// delivery agree on what has been observed.
func NewRouter(dispatcher *Dispatcher, sender *AddressedSender, book *AddressBook, log *logging.Logger) *Router {
	if log == nil {
		log = logging.GetDefault().Component("p2p")
	}
	return &Router{
		dispatcher: dispatcher,
		sender:     sender,
		book:       book,
		log:        log,
	}
}

// Attach registers every session-protocol message type on sh and starts
// consuming qt's gossip loop under ctx, routing both into the Dispatcher.
// selfID excludes the node's own gossip publications from DSQueue delivery.
func (r *Router) Attach(ctx context.Context, sh *StreamHandler, qt *QueueTopic, selfID string) {
	sh.OnMessage(MsgDSA, r.handleDSA)
	sh.OnMessage(MsgDSI, r.handleDSI)
	sh.OnMessage(MsgDSS, r.handleDSS)
	sh.OnMessage(MsgDSSU, r.handleDSSU)
	sh.OnMessage(MsgDSF, r.handleDSF)
	sh.OnMessage(MsgDSC, r.handleDSC)

	go qt.Loop(ctx, selfID, func(fromPeer string, q *mixing.DSQueue) {
		if err := r.dispatcher.DispatchDSQ(fromPeer, q); err != nil {
			r.log.Debugf("router: dsq from %s: %v", fromPeer, err)
		}
	})
}

func (r *Router) remember(from peer.ID, env Envelope) {
	if env.FromPeer != "" {
		r.book.Record(env.FromPeer, from)
	}
}

func (r *Router) handleDSA(from peer.ID, env Envelope) error {
	r.remember(from, env)
	var payload DSAPayload
	if err := json.Unmarshal(env.Payload, &payload); err != nil {
		return fmt.Errorf("router: malformed dsa: %w", err)
	}
	resp, err := r.dispatcher.DispatchDSA(from.String(), env.FromPeer, payload)
	r.replyDSSU(env, resp)
	return err
}

func (r *Router) handleDSI(from peer.ID, env Envelope) error {
	r.remember(from, env)
	var payload DSIPayload
	if err := json.Unmarshal(env.Payload, &payload); err != nil {
		return fmt.Errorf("router: malformed dsi: %w", err)
	}
	resp, err := r.dispatcher.DispatchDSI(from.String(), env.FromPeer, payload)
	r.replyDSSU(env, resp)
	return err
}

func (r *Router) handleDSS(from peer.ID, env Envelope) error {
	r.remember(from, env)
	var payload DSSPayload
	if err := json.Unmarshal(env.Payload, &payload); err != nil {
		return fmt.Errorf("router: malformed dss: %w", err)
	}
	return r.dispatcher.DispatchDSS(from.String(), env.FromPeer, payload)
}

func (r *Router) handleDSSU(from peer.ID, env Envelope) error {
	r.remember(from, env)
	var payload DSSUPayload
	if err := json.Unmarshal(env.Payload, &payload); err != nil {
		return fmt.Errorf("router: malformed dssu: %w", err)
	}
	return r.dispatcher.DispatchDSSU(from.String(), env.FromPeer, payload)
}

func (r *Router) handleDSF(from peer.ID, env Envelope) error {
	r.remember(from, env)
	var payload DSFPayload
	if err := json.Unmarshal(env.Payload, &payload); err != nil {
		return fmt.Errorf("router: malformed dsf: %w", err)
	}
	return r.dispatcher.DispatchDSF(from.String(), env.FromPeer, payload)
}

func (r *Router) handleDSC(from peer.ID, env Envelope) error {
	r.remember(from, env)
	var payload DSCPayload
	if err := json.Unmarshal(env.Payload, &payload); err != nil {
		return fmt.Errorf("router: malformed dsc: %w", err)
	}
	return r.dispatcher.DispatchDSC(from.String(), env.FromPeer, payload)
}

// replyDSSU sends the dssu response a dsa/dsi handler produced back to the
// message's own FromPeer address; failures are logged rather than
// propagated, since the inbound handler's own error already reflects the
// admission outcome.
func (r *Router) replyDSSU(env Envelope, resp DSSUPayload) {
	if env.FromPeer == "" || r.sender == nil {
		return
	}
	out := Envelope{Type: MsgDSSU, SessionID: resp.SessionID}
	if err := r.sender.SendJSON(context.Background(), env.FromPeer, out, resp); err != nil {
		r.log.Warnf("router: send dssu to %s: %v", env.FromPeer, err)
	}
}
