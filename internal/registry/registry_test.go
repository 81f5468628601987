package registry

import (
	"testing"
	"time"

	"github.com/anonsend/inode/internal/mixing"
	"github.com/btcsuite/btcd/btcec/v2"
)

func TestUpsertAndLookup(t *testing.T) {
	r, err := New(nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	key, _ := btcec.NewPrivateKey()
	vin := mixing.Outpoint{Index: 1}

	err = r.Upsert(mixing.RegistryEntry{Vin: vin, Pubkey: key.PubKey(), ProtoVersion: 70015})
	if err != nil {
		t.Fatal(err)
	}

	got, ok := r.Lookup(vin)
	if !ok {
		t.Fatalf("expected lookup to find entry")
	}
	if got.ProtoVersion != 70015 {
		t.Fatalf("unexpected proto version: %d", got.ProtoVersion)
	}
}

func TestSweepStaleDropsOldEntries(t *testing.T) {
	r, _ := New(nil, nil)
	key, _ := btcec.NewPrivateKey()
	vin := mixing.Outpoint{Index: 2}
	_ = r.Upsert(mixing.RegistryEntry{Vin: vin, Pubkey: key.PubKey()})

	r.mu.Lock()
	r.byVin[vin].LastSeen = time.Now().Add(-time.Hour)
	r.mu.Unlock()

	r.SweepStale(1)

	if _, ok := r.Lookup(vin); ok {
		t.Fatalf("expected stale entry to be dropped")
	}
}

func TestCountPeersAbove(t *testing.T) {
	r, _ := New(nil, nil)
	k1, _ := btcec.NewPrivateKey()
	k2, _ := btcec.NewPrivateKey()
	_ = r.Upsert(mixing.RegistryEntry{Vin: mixing.Outpoint{Index: 1}, Pubkey: k1.PubKey(), ProtoVersion: 70015})
	_ = r.Upsert(mixing.RegistryEntry{Vin: mixing.Outpoint{Index: 2}, Pubkey: k2.PubKey(), ProtoVersion: 1})

	if n := r.CountPeersAbove(70015); n != 1 {
		t.Fatalf("expected 1 peer above threshold, got %d", n)
	}
}
