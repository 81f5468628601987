package driver

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/anonsend/inode/internal/config"
	"github.com/anonsend/inode/internal/mixing"
	"github.com/anonsend/inode/internal/p2p"
	"github.com/anonsend/inode/pkg/helpers"
)

// selectInodeProbability is the 67% chance of picking from current DSQueue
// entries before falling back to a random registry scan (§4.6 step 5).
const selectInodeProbability = 0.67

// maxSequentialRegistryTries bounds the fallback registry scan (§4.6 step
// 5: "shuffle the INODE registry and try up to 10 sequentially").
const maxSequentialRegistryTries = 10

// SelectAndSubmit implements §4.6 step 5: pick an INODE (by queue or
// registry), ensure a collateral transaction exists, and send dsa.
func (d *Driver) SelectAndSubmit(denomMask uint8, rng *rand.Rand) error {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}

	candidates := d.compatibleQueueCandidates(denomMask)

	if len(candidates) > 0 && rng.Float64() < selectInodeProbability {
		q := candidates[rng.Intn(len(candidates))]
		return d.tryCandidate(q.Vin, denomMask)
	}

	regEntries := d.registryCandidates()
	rng.Shuffle(len(regEntries), func(i, j int) { regEntries[i], regEntries[j] = regEntries[j], regEntries[i] })

	tries := len(regEntries)
	if tries > maxSequentialRegistryTries {
		tries = maxSequentialRegistryTries
	}
	var lastErr error
	for i := 0; i < tries; i++ {
		if err := d.tryCandidate(regEntries[i].Vin, denomMask); err != nil {
			lastErr = err
			continue
		}
		return nil
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("select_inode: no eligible inode candidates")
	}
	return lastErr
}

func (d *Driver) compatibleQueueCandidates(denomMask uint8) []*mixing.DSQueue {
	if d.queues == nil {
		return nil
	}
	var out []*mixing.DSQueue
	for _, q := range d.queues.All() {
		if q.DenomMask != denomMask {
			continue
		}
		if d.coord != nil && d.coord.WasInodeUsed(q.Vin) {
			continue
		}
		out = append(out, q)
	}
	return out
}

func (d *Driver) registryCandidates() []mixing.RegistryEntry {
	if d.registry == nil {
		return nil
	}
	type lister interface {
		All() []mixing.RegistryEntry
	}
	l, ok := d.registry.(lister)
	if !ok {
		return nil
	}
	all := l.All()
	out := all[:0]
	for _, e := range all {
		if d.coord == nil || !d.coord.WasInodeUsed(e.Vin) {
			out = append(out, e)
		}
	}
	return out
}

// tryCandidate creates a fresh collateral transaction through the wallet for
// every candidate (an existing one is not reused), then opens the session
// negotiation by sending dsa (§4.6 step 5).
func (d *Driver) tryCandidate(inodeVin mixing.Outpoint, denomMask uint8) error {
	collateral, err := d.wallet.CreateCollateralTransaction()
	if err != nil {
		return fmt.Errorf("select_inode: ensure collateral: %w", err)
	}
	return d.submitDSA(inodeVin, denomMask, collateral)
}

func (d *Driver) submitDSA(inodeVin mixing.Outpoint, denomMask uint8, collateral *mixing.CollateralTx) error {
	addr := inodeAddrKey(inodeVin)

	if d.sender == nil {
		return fmt.Errorf("select_inode: no sender configured")
	}
	if err := d.sender.SendDSA(addr, denomMask, collateral); err != nil {
		return fmt.Errorf("select_inode: send dsa: %w", err)
	}

	d.mu.Lock()
	d.submittedToInode = addr
	d.state = ClientAwaitingAdmission
	d.mu.Unlock()

	if d.coord != nil {
		d.coord.MarkInodeUsed(inodeVin)
	}
	return nil
}

// inodeAddrKey derives the network-address-only key used for the
// submitted_to_inode comparison (§9: explicit network-address-only
// equality, not full peer identity).
func inodeAddrKey(vin mixing.Outpoint) string {
	return fmt.Sprintf("%s:%d", helpers.BytesToHex(vin.Hash[:8]), vin.Index)
}

// HandleDSQ implements p2p.ClientHandler: admits a dsq advertisement into
// the local queue table (§4.2 admission policy runs inside QueueTable.Admit;
// this just wires the dispatcher's delivery into it) and, when the queue is
// ready for the inode the client is currently awaiting, fires the callback
// registered with SetDenominateTrigger (§4.2 step 3). A ready dsq from any
// other inode is rejected by Admit and fires nothing.
func (d *Driver) HandleDSQ(fromPeer string, q *mixing.DSQueue) error {
	if d.queues == nil || d.registry == nil {
		return nil
	}
	peerCount := 0
	if c, ok := d.registry.(interface{ CountPeersAbove(int) int }); ok {
		peerCount = c.CountPeersAbove(config.MinPeerProtoVersion)
	}

	d.mu.Lock()
	awaiting := d.submittedToInode
	d.mu.Unlock()

	var awaitingVin *mixing.Outpoint
	if awaiting != "" && awaiting == inodeAddrKey(q.Vin) {
		awaitingVin = &q.Vin
	}

	// The dispatcher already gated this delivery on peer proto version
	// before routing here (§4.7); Admit's own version check is for callers
	// that did not already gate, so satisfy it rather than duplicate state
	// this handler does not have.
	if err := d.queues.Admit(q, config.MinPeerProtoVersion, d.registry, peerCount, awaitingVin); err != nil {
		return err
	}

	if q.Ready && awaitingVin != nil {
		d.mu.Lock()
		d.state = ClientQueue
		if d.sessionID == 0 {
			d.sessionID = randomClientSessionPlaceholder()
		}
		trigger := d.onDenominateTrigger
		d.mu.Unlock()
		if trigger != nil {
			go trigger()
		}
	}
	return nil
}

func randomClientSessionPlaceholder() uint32 {
	// The real session_id is assigned by the INODE and delivered via dssu;
	// this placeholder only marks "admitted, awaiting a real id".
	return 0
}

var _ p2p.ClientHandler = (*Driver)(nil)
