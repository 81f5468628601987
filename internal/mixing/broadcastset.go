package mixing

import (
	"container/list"
	"sync"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// defaultBroadcastSetCap bounds mapBroadcastTxes (§3 Ownership, §9:
// "Unbounded mapBroadcastTxes ... implementers must add a bounded cache
// (LRU on insertion order, >= a few hundred entries)").
const defaultBroadcastSetCap = 500

// BroadcastRecord is one authenticated "hash(final_tx) || sig_time" entry
// the INODE inserts at Signing -> Transmission (§4.5).
type BroadcastRecord struct {
	Hash    chainhash.Hash
	SigTime int64
	Sig     []byte
}

// BroadcastSet is a write-once-per-hash, capacity-bounded LRU of
// BroadcastRecords, replacing the source's unbounded map per §9.
type BroadcastSet struct {
	mu       sync.Mutex
	cap      int
	order    *list.List
	elements map[chainhash.Hash]*list.Element
}

// NewBroadcastSet constructs a bounded set. cap <= 0 uses the default.
func NewBroadcastSet(capacity int) *BroadcastSet {
	if capacity <= 0 {
		capacity = defaultBroadcastSetCap
	}
	return &BroadcastSet{
		cap:      capacity,
		order:    list.New(),
		elements: make(map[chainhash.Hash]*list.Element),
	}
}

// Insert records rec, evicting the oldest entry if at capacity. It is a
// no-op if the hash is already present (write-once semantics, §5: "
// mapBroadcastTxes is write-once per transaction hash").
func (b *BroadcastSet) Insert(rec BroadcastRecord) (inserted bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.elements[rec.Hash]; ok {
		return false
	}

	el := b.order.PushBack(rec)
	b.elements[rec.Hash] = el

	for b.order.Len() > b.cap {
		oldest := b.order.Front()
		if oldest == nil {
			break
		}
		oldRec := oldest.Value.(BroadcastRecord)
		delete(b.elements, oldRec.Hash)
		b.order.Remove(oldest)
	}
	return true
}

// Contains reports whether hash has already been recorded.
func (b *BroadcastSet) Contains(hash chainhash.Hash) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.elements[hash]
	return ok
}

// Len returns the current number of tracked entries.
func (b *BroadcastSet) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.order.Len()
}
