package mixing

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/anonsend/inode/internal/config"
	"github.com/btcsuite/btcd/btcec/v2"
)

// DSQueue is a signed advertisement from an INODE (§3).
type DSQueue struct {
	Vin       Outpoint
	DenomMask uint8
	Time      int64 // unix seconds, issue time
	Ready     bool
	Sig       []byte
}

// serializeForSig builds vin||denom_mask||time||ready, the exact message
// the INODE signs (§3).
func (q *DSQueue) serializeForSig() []byte {
	var buf bytes.Buffer
	buf.Write(q.Vin.Hash[:])
	idx := make([]byte, 4)
	binary.LittleEndian.PutUint32(idx, q.Vin.Index)
	buf.Write(idx)
	buf.WriteByte(q.DenomMask)
	t := make([]byte, 8)
	binary.LittleEndian.PutUint64(t, uint64(q.Time))
	buf.Write(t)
	if q.Ready {
		buf.WriteByte(1)
	} else {
		buf.WriteByte(0)
	}
	return buf.Bytes()
}

// Sign signs the queue with the INODE's registry secret (§4.2).
func (q *DSQueue) Sign(secret *btcec.PrivateKey) error {
	sig, err := Sign(secret, q.serializeForSig())
	if err != nil {
		return fmt.Errorf("dsqueue sign: %w", err)
	}
	q.Sig = sig
	return nil
}

// VerifyAgainstRegistry verifies q.Sig against the pubkey the registry has
// on file for q.Vin, and that the INODE is actually registered (§4.2).
func (q *DSQueue) VerifyAgainstRegistry(reg INodeLookup) error {
	entry, ok := reg.Lookup(q.Vin)
	if !ok {
		return ErrNotInRegistry
	}
	ok2, err := Verify(entry.Pubkey, q.Sig, q.serializeForSig())
	if err != nil {
		return fmt.Errorf("dsqueue verify: %w", err)
	}
	if !ok2 {
		return fmt.Errorf("dsqueue verify: %w", ErrNotInode)
	}
	return nil
}

// IsExpired implements "now - time > QUEUE_TIMEOUT_SECS" (§4.2).
func (q *DSQueue) IsExpired(now time.Time) bool {
	return now.Unix()-q.Time > config.QueueTimeoutSecs
}

// INodeLookup is the registry external-collaborator interface (§6) used by
// DSQueue admission.
type INodeLookup interface {
	Lookup(vin Outpoint) (RegistryEntry, bool)
}

// RegistryEntry is one row of the INODE registry (§6: "ordered list with
// vin, pubkey, last_dsq_index, proto_version, allow_free_tx").
type RegistryEntry struct {
	Vin           Outpoint
	Pubkey        *btcec.PublicKey
	LastDSQIndex  int64
	ProtoVersion  int
	AllowFreeTx   bool
}

// Broadcaster is the network external-collaborator interface used by
// relay (§6: "broadcast(msg)").
type Broadcaster interface {
	Broadcast(msg interface{})
}

// Relay broadcasts the queue to all peers (§4.2 relay(peers)).
func (q *DSQueue) Relay(b Broadcaster) {
	b.Broadcast(q)
}

// QueueTable tracks known queues and the rate-limit/admission policy of
// §4.2's "Admission policy when a client receives a dsq". It is also used
// INODE-side to enforce the issuing rate limit.
type QueueTable struct {
	byVin       map[Outpoint]*DSQueue
	dsqCounter  int64
	lastIndex   map[Outpoint]int64
}

func NewQueueTable() *QueueTable {
	return &QueueTable{
		byVin:     make(map[Outpoint]*DSQueue),
		lastIndex: make(map[Outpoint]int64),
	}
}

// Admit runs the four-step admission policy of §4.2 against an inbound dsq
// from a peer at the given protocol version. reg resolves registry state;
// peerCount is CountPeersAbove(MinProtoVersion) for the rate-limit formula.
// awaitingInode, when non-nil, is the inode the local client is currently
// waiting on for a ready signal (step 3).
func (t *QueueTable) Admit(q *DSQueue, peerProtoVersion int, reg INodeLookup, peerCount int, awaitingInode *Outpoint) error {
	if peerProtoVersion < config.MinPeerProtoVersion {
		return ErrVersionIncompatible
	}
	if err := q.VerifyAgainstRegistry(reg); err != nil {
		return err
	}

	if q.Ready {
		if awaitingInode == nil || *awaitingInode != q.Vin {
			return fmt.Errorf("dsqueue ready: %w", ErrNotInode)
		}
		return nil
	}

	if existing, ok := t.byVin[q.Vin]; ok && !existing.IsExpired(time.Now()) {
		return fmt.Errorf("dsqueue: %w", ErrIncompatibleSession)
	}

	lastIdx := t.lastIndex[q.Vin]
	if lastIdx+int64(peerCount/5) > t.dsqCounter {
		return ErrRateLimited
	}

	t.dsqCounter++
	t.lastIndex[q.Vin] = t.dsqCounter
	t.byVin[q.Vin] = q
	return nil
}

// Counter returns the current dsq_counter value.
func (t *QueueTable) Counter() int64 { return t.dsqCounter }

// LastIndex returns the last recorded queue index for vin.
func (t *QueueTable) LastIndex(vin Outpoint) int64 { return t.lastIndex[vin] }

// Prune drops expired queues (§4.5 tick: "Drop expired queues").
func (t *QueueTable) Prune(now time.Time) {
	for vin, q := range t.byVin {
		if q.IsExpired(now) {
			delete(t.byVin, vin)
		}
	}
}

// Get returns the queue currently on file for vin, if any.
func (t *QueueTable) Get(vin Outpoint) (*DSQueue, bool) {
	q, ok := t.byVin[vin]
	return q, ok
}

// All returns every non-expired queue, for driver-side INODE selection.
func (t *QueueTable) All() []*DSQueue {
	now := time.Now()
	out := make([]*DSQueue, 0, len(t.byVin))
	for _, q := range t.byVin {
		if q.IsExpired(now) {
			continue
		}
		out = append(out, q)
	}
	return out
}
