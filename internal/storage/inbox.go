package storage

import (
	"fmt"
	"time"
)

// HasReceivedMessage reports whether messageID has already been recorded,
// implementing the direct-stream dedup check the teacher's
// internal/node/stream_handler.go performs before dispatching a message.
func (s *Storage) HasReceivedMessage(messageID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var count int
	err := s.db.QueryRow(`SELECT COUNT(1) FROM inbox WHERE message_id = ?`, messageID).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("storage: has received message: %w", err)
	}
	return count > 0, nil
}

// RecordReceivedMessage inserts messageID into the inbox, prior to
// dispatch, so a retried delivery of the same message is recognized even
// if the process restarts mid-flight.
func (s *Storage) RecordReceivedMessage(messageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(
		`INSERT OR IGNORE INTO inbox (message_id, received_at_unix, processed) VALUES (?, ?, 0)`,
		messageID, time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("storage: record received message: %w", err)
	}
	return nil
}

// MarkMessageProcessed flags messageID as fully handled. The stream handler
// calls it after the message's handler returns and before the ACK is sent.
func (s *Storage) MarkMessageProcessed(messageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`UPDATE inbox SET processed = 1 WHERE message_id = ?`, messageID)
	if err != nil {
		return fmt.Errorf("storage: mark message processed: %w", err)
	}
	return nil
}

// PruneInbox deletes inbox rows older than retain, bounding the table the
// way BroadcastSet bounds its in-memory counterpart.
func (s *Storage) PruneInbox(retain time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().Add(-retain).Unix()
	_, err := s.db.Exec(`DELETE FROM inbox WHERE received_at_unix < ?`, cutoff)
	if err != nil {
		return fmt.Errorf("storage: prune inbox: %w", err)
	}
	return nil
}
