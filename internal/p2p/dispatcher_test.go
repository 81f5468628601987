package p2p

import (
	"testing"

	"github.com/anonsend/inode/internal/mixing"
)

type fakeVersions struct {
	versions map[string]int
}

func (f *fakeVersions) ProtoVersionOf(peerID string) (int, bool) {
	v, ok := f.versions[peerID]
	return v, ok
}

type fakeInodeHandler struct {
	called bool
}

func (f *fakeInodeHandler) HandleDSA(fromPeer string, payload DSAPayload) (DSSUPayload, error) {
	f.called = true
	return DSSUPayload{Accepted: AcceptedOK}, nil
}
func (f *fakeInodeHandler) HandleDSI(fromPeer string, payload DSIPayload) (DSSUPayload, error) {
	f.called = true
	return DSSUPayload{Accepted: AcceptedOK}, nil
}
func (f *fakeInodeHandler) HandleDSS(fromPeer string, payload DSSPayload) error {
	f.called = true
	return nil
}

func TestDispatcherRejectsLowVersionPeer(t *testing.T) {
	vers := &fakeVersions{versions: map[string]int{"peer1": 1}}
	h := &fakeInodeHandler{}
	d := NewDispatcher(h, nil, vers, nil)

	_, err := d.DispatchDSA("peer1", "1.2.3.4:1000", DSAPayload{})
	if err == nil {
		t.Fatalf("expected version-gate rejection")
	}
	if h.called {
		t.Fatalf("handler should not be invoked for a gated peer")
	}
}

func TestDispatcherAdmitsCompatiblePeer(t *testing.T) {
	vers := &fakeVersions{versions: map[string]int{"peer1": 70015}}
	h := &fakeInodeHandler{}
	d := NewDispatcher(h, nil, vers, nil)

	resp, err := d.DispatchDSA("peer1", "1.2.3.4:1000", DSAPayload{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !h.called {
		t.Fatalf("expected handler to be invoked")
	}
	if resp.Accepted != AcceptedOK {
		t.Fatalf("expected accepted response")
	}
}

type fakeClientHandler struct {
	dssuCalled bool
}

func (f *fakeClientHandler) HandleDSQ(fromPeer string, q *mixing.DSQueue) error { return nil }
func (f *fakeClientHandler) HandleDSSU(fromPeer string, payload DSSUPayload) error {
	f.dssuCalled = true
	return nil
}
func (f *fakeClientHandler) HandleDSF(fromPeer string, payload DSFPayload) error { return nil }
func (f *fakeClientHandler) HandleDSC(fromPeer string, payload DSCPayload) error { return nil }

func TestDispatcherGatesOnSubmittedInode(t *testing.T) {
	vers := &fakeVersions{versions: map[string]int{"peerA": 70015, "peerB": 70015}}
	h := &fakeClientHandler{}
	d := NewDispatcher(nil, h, vers, nil)
	d.SetSubmittedToInode("1.1.1.1:1000")

	if err := d.DispatchDSSU("peerB", "2.2.2.2:2000", DSSUPayload{}); err == nil {
		t.Fatalf("expected rejection from a peer that is not the submitted inode")
	}
	if h.dssuCalled {
		t.Fatalf("handler should not fire for a mismatched inode address")
	}

	if err := d.DispatchDSSU("peerA", "1.1.1.1:1000", DSSUPayload{}); err != nil {
		t.Fatalf("expected acceptance from the submitted inode: %v", err)
	}
	if !h.dssuCalled {
		t.Fatalf("expected handler to fire for the matching inode address")
	}
}
