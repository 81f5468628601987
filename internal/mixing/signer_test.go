package mixing

import (
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
)

func TestSignVerifyRoundTrip(t *testing.T) {
	key, err := btcec.NewPrivateKey()
	if err != nil {
		t.Fatal(err)
	}
	msg := []byte("dsqueue message bytes")

	sig, err := Sign(key, msg)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	ok, err := Verify(key.PubKey(), sig, msg)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !ok {
		t.Fatalf("expected signature to verify")
	}
}

func TestVerifyFailsForWrongKey(t *testing.T) {
	key1, _ := btcec.NewPrivateKey()
	key2, _ := btcec.NewPrivateKey()
	msg := []byte("message")

	sig, err := Sign(key1, msg)
	if err != nil {
		t.Fatal(err)
	}

	ok, err := Verify(key2.PubKey(), sig, msg)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatalf("expected verification against wrong key to fail")
	}
}

func TestVerifyRejectsMalformedSignature(t *testing.T) {
	key, _ := btcec.NewPrivateKey()
	_, err := Verify(key.PubKey(), []byte{1, 2, 3}, []byte("msg"))
	if err == nil {
		t.Fatalf("expected error for malformed signature")
	}
}
