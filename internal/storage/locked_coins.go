package storage

import (
	"fmt"
	"time"

	"github.com/anonsend/inode/internal/mixing"
)

// LockCoin persists an outpoint lock, mirroring Coordinator.LockCoin so a
// restarted node does not accidentally reuse coins a prior run had
// committed to an in-flight session (§5 "lockedCoins").
func (s *Storage) LockCoin(op mixing.Outpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(
		`INSERT OR REPLACE INTO locked_coins (vin_hash, vin_index, locked_at_unix) VALUES (?, ?, ?)`,
		op.Hash[:], op.Index, time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("storage: lock coin: %w", err)
	}
	return nil
}

// UnlockCoin removes a coin lock.
func (s *Storage) UnlockCoin(op mixing.Outpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`DELETE FROM locked_coins WHERE vin_hash = ? AND vin_index = ?`, op.Hash[:], op.Index)
	if err != nil {
		return fmt.Errorf("storage: unlock coin: %w", err)
	}
	return nil
}

// ListLockedCoins returns every currently-locked outpoint. The daemon does
// not call it at startup; Coordinator.locked always starts empty.
func (s *Storage) ListLockedCoins() ([]mixing.Outpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(`SELECT vin_hash, vin_index FROM locked_coins`)
	if err != nil {
		return nil, fmt.Errorf("storage: list locked coins: %w", err)
	}
	defer rows.Close()

	var out []mixing.Outpoint
	for rows.Next() {
		var op mixing.Outpoint
		var h []byte
		if err := rows.Scan(&h, &op.Index); err != nil {
			return nil, fmt.Errorf("storage: scan locked coin: %w", err)
		}
		copy(op.Hash[:], h)
		out = append(out, op)
	}
	return out, rows.Err()
}
