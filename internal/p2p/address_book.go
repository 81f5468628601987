package p2p

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/anonsend/inode/internal/mixing"
	"github.com/anonsend/inode/pkg/logging"
	"github.com/libp2p/go-libp2p/core/peer"
)

// AddressBook resolves the network-address strings the mixing/driver
// packages use for submitted_to_inode comparisons (§9: "network-address-
// only comparison, not full peer identity") to the libp2p peer.ID the
// transport actually dials. Entries are learned opportunistically: the
// router records an inbound peer's address when a delivered envelope
// carries its sender's peer ID. Nothing else adds entries.
type AddressBook struct {
	mu      sync.RWMutex
	byAddr  map[string]peer.ID
}

// NewAddressBook constructs an empty AddressBook.
func NewAddressBook() *AddressBook {
	return &AddressBook{byAddr: make(map[string]peer.ID)}
}

// Record associates addr with id, overwriting any prior mapping (a peer may
// reconnect with a new libp2p identity across restarts; the address is the
// durable key per §9).
func (b *AddressBook) Record(addr string, id peer.ID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.byAddr[addr] = id
}

// Resolve looks up the peer.ID for addr.
func (b *AddressBook) Resolve(addr string) (peer.ID, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	id, ok := b.byAddr[addr]
	return id, ok
}

// AddressedSender wraps a *Sender with an AddressBook so callers can send
// by network address (the vocabulary mixing/driver use) rather than by
// peer.ID directly.
type AddressedSender struct {
	sender *Sender
	book   *AddressBook
	log    *logging.Logger
}

// NewAddressedSender constructs an AddressedSender.
func NewAddressedSender(sender *Sender, book *AddressBook, log *logging.Logger) *AddressedSender {
	if log == nil {
		log = logging.GetDefault().Component("p2p")
	}
	return &AddressedSender{sender: sender, book: book, log: log}
}

// SendJSON marshals payload into env.Payload and sends it to addr,
// resolving addr via the AddressBook first.
func (a *AddressedSender) SendJSON(ctx context.Context, addr string, env Envelope, payload interface{}) error {
	id, ok := a.book.Resolve(addr)
	if !ok {
		return fmt.Errorf("address_book: no known peer for %s", addr)
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("address_book: marshal payload: %w", err)
	}
	env.Payload = data
	return a.sender.Send(ctx, id, env)
}

// ClientSender adapts an AddressedSender to driver.Sender's structural
// shape (SendDSA/SendDSI/SendDSS), so internal/driver never needs to import
// internal/p2p's Envelope plumbing directly beyond the payload types it
// already shares via internal/mixing.
type ClientSender struct {
	as  *AddressedSender
	ctx context.Context
}

// NewClientSender constructs a ClientSender bound to ctx for the lifetime
// of its sends (typically the node's root context).
func NewClientSender(ctx context.Context, as *AddressedSender) *ClientSender {
	return &ClientSender{as: as, ctx: ctx}
}

// SendDSA implements driver.Sender.
func (c *ClientSender) SendDSA(inodeAddr string, denomMask uint8, collateral *mixing.CollateralTx) error {
	env := Envelope{Type: MsgDSA, Timestamp: time.Now().Unix(), RequiresAck: true}
	payload := DSAPayload{DenomMask: denomMask, Collateral: *collateral}
	return c.as.SendJSON(c.ctx, inodeAddr, env, payload)
}

// SendDSI implements driver.Sender.
func (c *ClientSender) SendDSI(inodeAddr string, inputs []mixing.Outpoint, amount int64, collateral *mixing.CollateralTx, outputs []mixing.TxOut) error {
	env := Envelope{Type: MsgDSI, Timestamp: time.Now().Unix(), RequiresAck: true}
	payload := DSIPayload{Inputs: inputs, Amount: amount, Collateral: *collateral, Outputs: outputs}
	return c.as.SendJSON(c.ctx, inodeAddr, env, payload)
}

// SendDSS implements driver.Sender. signed is translated from
// mixing.SignedInputResult to the wire SignedInput shape.
func (c *ClientSender) SendDSS(inodeAddr string, signed []mixing.SignedInputResult) error {
	out := make([]SignedInput, len(signed))
	for i, s := range signed {
		out[i] = SignedInput{Outpoint: s.Outpoint, ScriptSig: s.ScriptSig}
	}
	env := Envelope{Type: MsgDSS, Timestamp: time.Now().Unix(), RequiresAck: true}
	payload := DSSPayload{SignedInputs: out}
	return c.as.SendJSON(c.ctx, inodeAddr, env, payload)
}
