package mixing

import (
	"testing"
	"time"

	"github.com/anonsend/inode/internal/config"
	"github.com/btcsuite/btcd/btcec/v2"
)

type fakeRegistry struct {
	entries map[Outpoint]RegistryEntry
}

func (f *fakeRegistry) Lookup(vin Outpoint) (RegistryEntry, bool) {
	e, ok := f.entries[vin]
	return e, ok
}

func TestDSQueueSignVerifyRoundTrip(t *testing.T) {
	key, _ := btcec.NewPrivateKey()
	vin := op(1)

	q := &DSQueue{Vin: vin, DenomMask: 0b0010, Time: time.Now().Unix()}
	if err := q.Sign(key); err != nil {
		t.Fatal(err)
	}

	reg := &fakeRegistry{entries: map[Outpoint]RegistryEntry{
		vin: {Vin: vin, Pubkey: key.PubKey()},
	}}
	if err := q.VerifyAgainstRegistry(reg); err != nil {
		t.Fatalf("expected valid queue to verify: %v", err)
	}
}

func TestDSQueueIsExpired(t *testing.T) {
	q := &DSQueue{Time: time.Now().Add(-time.Duration(config.QueueTimeoutSecs+5) * time.Second).Unix()}
	if !q.IsExpired(time.Now()) {
		t.Fatalf("expected queue to be expired")
	}
}

func TestQueueTableRateLimit(t *testing.T) {
	key, _ := btcec.NewPrivateKey()
	vin := op(2)
	reg := &fakeRegistry{entries: map[Outpoint]RegistryEntry{
		vin: {Vin: vin, Pubkey: key.PubKey()},
	}}

	table := NewQueueTable()

	q1 := &DSQueue{Vin: vin, Time: time.Now().Unix()}
	_ = q1.Sign(key)
	if err := table.Admit(q1, config.MinPeerProtoVersion, reg, 0, nil); err != nil {
		t.Fatalf("first queue should be admitted: %v", err)
	}

	// second immediate non-ready queue from the same inode should be gated by
	// the not-expired-existing-queue check first.
	q2 := &DSQueue{Vin: vin, Time: time.Now().Unix()}
	_ = q2.Sign(key)
	if err := table.Admit(q2, config.MinPeerProtoVersion, reg, 0, nil); err == nil {
		t.Fatalf("expected second immediate queue to be rejected")
	}
}

func TestQueueTableRejectsLowProtoVersion(t *testing.T) {
	table := NewQueueTable()
	q := &DSQueue{Vin: op(3), Time: time.Now().Unix()}
	reg := &fakeRegistry{entries: map[Outpoint]RegistryEntry{}}
	if err := table.Admit(q, 1, reg, 0, nil); err != ErrVersionIncompatible {
		t.Fatalf("expected ErrVersionIncompatible, got %v", err)
	}
}
