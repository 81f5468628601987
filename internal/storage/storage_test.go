package storage

import (
	"testing"

	"github.com/anonsend/inode/internal/mixing"
	"github.com/btcsuite/btcd/btcec/v2"
)

func openTestStorage(t *testing.T) *Storage {
	t.Helper()
	s, err := New(Config{DataDir: t.TempDir()})
	if err != nil {
		t.Fatalf("open storage: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSaveAndListInodes(t *testing.T) {
	s := openTestStorage(t)
	key, _ := btcec.NewPrivateKey()
	vin := mixing.Outpoint{Index: 5}

	if err := s.SaveInode(vin, key.PubKey().SerializeCompressed(), 3, 70015, true, 1000); err != nil {
		t.Fatalf("save inode: %v", err)
	}

	rows, err := s.ListInodes()
	if err != nil {
		t.Fatalf("list inodes: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(rows))
	}
	if rows[0].ProtoVersion != 70015 || !rows[0].AllowFreeTx {
		t.Fatalf("unexpected row contents: %+v", rows[0])
	}
}

func TestLockUnlockCoin(t *testing.T) {
	s := openTestStorage(t)
	op := mixing.Outpoint{Index: 1}

	if err := s.LockCoin(op); err != nil {
		t.Fatal(err)
	}
	locked, err := s.ListLockedCoins()
	if err != nil {
		t.Fatal(err)
	}
	if len(locked) != 1 {
		t.Fatalf("expected 1 locked coin, got %d", len(locked))
	}

	if err := s.UnlockCoin(op); err != nil {
		t.Fatal(err)
	}
	locked, err = s.ListLockedCoins()
	if err != nil {
		t.Fatal(err)
	}
	if len(locked) != 0 {
		t.Fatalf("expected coin to be unlocked, got %d remaining", len(locked))
	}
}

func TestInboxDedup(t *testing.T) {
	s := openTestStorage(t)
	id := "msg-1"

	seen, err := s.HasReceivedMessage(id)
	if err != nil {
		t.Fatal(err)
	}
	if seen {
		t.Fatalf("expected message to be unseen initially")
	}

	if err := s.RecordReceivedMessage(id); err != nil {
		t.Fatal(err)
	}
	seen, err = s.HasReceivedMessage(id)
	if err != nil {
		t.Fatal(err)
	}
	if !seen {
		t.Fatalf("expected message to be recorded as seen")
	}
}
