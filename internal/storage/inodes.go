package storage

import (
	"fmt"

	"github.com/anonsend/inode/internal/mixing"
	"github.com/anonsend/inode/internal/registry"
)

// SaveInode upserts a registry row, following the teacher's
// ON CONFLICT...DO UPDATE upsert idiom (internal/storage/peers.go).
func (s *Storage) SaveInode(vin mixing.Outpoint, pubkey []byte, lastDSQIndex int64, protoVersion int, allowFreeTx bool, lastSeenUnix int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	const q = `
INSERT INTO inodes (vin_hash, vin_index, pubkey, last_dsq_index, proto_version, allow_free_tx, last_seen_unix)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(vin_hash, vin_index) DO UPDATE SET
	pubkey = excluded.pubkey,
	last_dsq_index = excluded.last_dsq_index,
	proto_version = excluded.proto_version,
	allow_free_tx = excluded.allow_free_tx,
	last_seen_unix = excluded.last_seen_unix;
`
	_, err := s.db.Exec(q, vin.Hash[:], vin.Index, pubkey, lastDSQIndex, protoVersion, boolToInt(allowFreeTx), lastSeenUnix)
	if err != nil {
		return fmt.Errorf("storage: save inode: %w", err)
	}
	return nil
}

// ListInodes returns every persisted registry row.
func (s *Storage) ListInodes() ([]registry.PersistedEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(`SELECT vin_hash, vin_index, pubkey, last_dsq_index, proto_version, allow_free_tx, last_seen_unix FROM inodes`)
	if err != nil {
		return nil, fmt.Errorf("storage: list inodes: %w", err)
	}
	defer rows.Close()

	var out []registry.PersistedEntry
	for rows.Next() {
		var e registry.PersistedEntry
		var vinHash []byte
		var allowFreeTx int
		if err := rows.Scan(&vinHash, &e.VinIndex, &e.Pubkey, &e.LastDSQIndex, &e.ProtoVersion, &allowFreeTx, &e.LastSeenUnix); err != nil {
			return nil, fmt.Errorf("storage: scan inode row: %w", err)
		}
		copy(e.VinHash[:], vinHash)
		e.AllowFreeTx = allowFreeTx != 0
		out = append(out, e)
	}
	return out, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
