// Package registry implements the INODE registry external-collaborator
// interface of §6 ("ordered list with vin, pubkey, last_dsq_index,
// proto_version, allow_free_tx"). The registry's own lifecycle
// (onboarding, collateral-locking to become an INODE) is explicitly out of
// scope per §1/§6; this package only tracks the read side the mixing
// protocol consumes, plus the liveness sweep supplemented from the ping
// constant in §6.
package registry

import (
	"sync"
	"time"

	"github.com/anonsend/inode/internal/config"
	"github.com/anonsend/inode/internal/mixing"
	"github.com/anonsend/inode/pkg/logging"
	"github.com/btcsuite/btcd/btcec/v2"
)

// Entry is one registry row, augmented with the liveness bookkeeping the
// registry tracks locally (not part of the wire DSQueue/registry contract
// itself).
type Entry struct {
	mixing.RegistryEntry
	LastSeen time.Time
}

// Registry is an in-memory INODE registry cache backed by a RegistrySink
// (satisfied by storage.Storage) for persistence, implementing
// mixing.INodeLookup.
type Registry struct {
	mu      sync.RWMutex
	byVin   map[mixing.Outpoint]*Entry
	log     *logging.Logger
	persist RegistrySink
}

// RegistrySink is the persistence interface the storage package satisfies;
// kept minimal so registry has no direct SQL dependency.
type RegistrySink interface {
	SaveInode(vin mixing.Outpoint, pubkey []byte, lastDSQIndex int64, protoVersion int, allowFreeTx bool, lastSeenUnix int64) error
	ListInodes() ([]PersistedEntry, error)
}

// PersistedEntry is the storage-layer shape of a registry row.
type PersistedEntry struct {
	VinHash      [32]byte
	VinIndex     uint32
	Pubkey       []byte
	LastDSQIndex int64
	ProtoVersion int
	AllowFreeTx  bool
	LastSeenUnix int64
}

// New constructs an empty registry, optionally loading persisted rows from
// sink.
func New(sink RegistrySink, log *logging.Logger) (*Registry, error) {
	if log == nil {
		log = logging.GetDefault().Component("registry")
	}
	r := &Registry{
		byVin:   make(map[mixing.Outpoint]*Entry),
		log:     log,
		persist: sink,
	}
	if sink != nil {
		rows, err := sink.ListInodes()
		if err != nil {
			return nil, err
		}
		for _, row := range rows {
			pub, err := btcec.ParsePubKey(row.Pubkey)
			if err != nil {
				log.Warnf("registry: skipping row with unparseable pubkey: %v", err)
				continue
			}
			op := mixing.Outpoint{Hash: row.VinHash, Index: row.VinIndex}
			r.byVin[op] = &Entry{
				RegistryEntry: mixing.RegistryEntry{
					Vin:          op,
					Pubkey:       pub,
					LastDSQIndex: row.LastDSQIndex,
					ProtoVersion: row.ProtoVersion,
					AllowFreeTx:  row.AllowFreeTx,
				},
				LastSeen: time.Unix(row.LastSeenUnix, 0),
			}
		}
	}
	return r, nil
}

// Lookup implements mixing.INodeLookup.
func (r *Registry) Lookup(vin mixing.Outpoint) (mixing.RegistryEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.byVin[vin]
	if !ok {
		return mixing.RegistryEntry{}, false
	}
	return e.RegistryEntry, true
}

// Upsert records or updates a registry row, persisting it if a sink is
// configured.
func (r *Registry) Upsert(entry mixing.RegistryEntry) error {
	r.mu.Lock()
	r.byVin[entry.Vin] = &Entry{RegistryEntry: entry, LastSeen: time.Now()}
	r.mu.Unlock()

	if r.persist == nil {
		return nil
	}
	return r.persist.SaveInode(entry.Vin, entry.Pubkey.SerializeCompressed(), entry.LastDSQIndex, entry.ProtoVersion, entry.AllowFreeTx, time.Now().Unix())
}

// MarkSeen updates the liveness timestamp for vin without altering its
// other fields. The dsq and dssu handlers do not call it.
func (r *Registry) MarkSeen(vin mixing.Outpoint) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.byVin[vin]; ok {
		e.LastSeen = time.Now()
	}
}

// SweepStale drops entries that have not been seen within
// INODE_PING_SECS * staleFactor, feeding CountPeersAbove (§3 DSQueue rate
// limit) and INODE candidate selection (§4.6 step 5) with only live nodes.
// The daemon does not schedule it; it runs only when a caller invokes it.
// This liveness sweep is not named by spec.md directly; it gives the
// otherwise-unused INODE_PING_SECS constant a concrete consumer (§5 of
// SPEC_FULL.md).
func (r *Registry) SweepStale(staleFactor int) {
	if staleFactor <= 0 {
		staleFactor = 3
	}
	cutoff := time.Now().Add(-time.Duration(config.INodePingSecs*staleFactor) * time.Second)

	r.mu.Lock()
	defer r.mu.Unlock()
	for vin, e := range r.byVin {
		if e.LastSeen.Before(cutoff) {
			delete(r.byVin, vin)
			r.log.Debugf("registry: dropping stale inode %x", vin.Hash[:8])
		}
	}
}

// CountPeersAbove counts live registry entries whose proto version is at
// least minVersion, feeding the DSQueue rate-limit formula of §3.
func (r *Registry) CountPeersAbove(minVersion int) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, e := range r.byVin {
		if e.ProtoVersion >= minVersion {
			n++
		}
	}
	return n
}

// All returns a snapshot of every live registry entry, for the driver's
// INODE selection (§4.6 step 5: "shuffle the INODE registry and try up to
// 10 sequentially").
func (r *Registry) All() []mixing.RegistryEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]mixing.RegistryEntry, 0, len(r.byVin))
	for _, e := range r.byVin {
		out = append(out, e.RegistryEntry)
	}
	return out
}
