package storage

import (
	"fmt"
	"time"

	"github.com/anonsend/inode/internal/mixing"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// SaveBroadcastRecord persists a BroadcastSet entry so a restarted INODE
// does not re-relay a transaction it already announced (§3 Ownership:
// "mapBroadcastTxes is a process-wide set-indexed-by-hash"; the in-memory
// bound lives in mixing.BroadcastSet, this table is its durable mirror).
func (s *Storage) SaveBroadcastRecord(rec mixing.BroadcastRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(
		`INSERT OR IGNORE INTO broadcast_txes (tx_hash, sig_time, sig, inserted_at_unix) VALUES (?, ?, ?, ?)`,
		rec.Hash[:], rec.SigTime, rec.Sig, time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("storage: save broadcast record: %w", err)
	}
	return nil
}

// RecentBroadcastRecords returns up to limit of the most recently inserted
// broadcast records. The daemon does not call it at startup; a fresh
// in-memory BroadcastSet always starts empty.
func (s *Storage) RecentBroadcastRecords(limit int) ([]mixing.BroadcastRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(
		`SELECT tx_hash, sig_time, sig FROM broadcast_txes ORDER BY inserted_at_unix DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: recent broadcast records: %w", err)
	}
	defer rows.Close()

	var out []mixing.BroadcastRecord
	for rows.Next() {
		var h []byte
		var rec mixing.BroadcastRecord
		if err := rows.Scan(&h, &rec.SigTime, &rec.Sig); err != nil {
			return nil, fmt.Errorf("storage: scan broadcast record: %w", err)
		}
		var hash chainhash.Hash
		copy(hash[:], h)
		rec.Hash = hash
		out = append(out, rec)
	}
	return out, rows.Err()
}
