package mixing

import (
	"math/rand"
	"time"

	"github.com/anonsend/inode/internal/config"
	"github.com/anonsend/inode/pkg/logging"
)

// CollateralBroadcaster lets charge_fees/charge_random_fees submit a
// misbehaving (or fee-funding) participant's collateral to the chain
// network, the "broadcasts the collateral as a punitive miner-fee payment"
// action of §4.4/§4.5.
type CollateralBroadcaster interface {
	BroadcastCollateral(tx *CollateralTx)
}

// Scheduler drives the periodic tick of §5 ("one dedicated worker ... ticks
// every 2500ms") against a Coordinator: dropping expired state, running
// timeout-triggered charge_fees, and resetting terminal sessions.
type Scheduler struct {
	coord  *Coordinator
	bcast  CollateralBroadcaster
	rng    *rand.Rand
	log    *logging.Logger
	ticker *time.Ticker
	done   chan struct{}
}

// NewScheduler constructs a Scheduler bound to coord.
func NewScheduler(coord *Coordinator, bcast CollateralBroadcaster, log *logging.Logger) *Scheduler {
	if log == nil {
		log = logging.GetDefault().Component("scheduler")
	}
	return &Scheduler{
		coord: coord,
		bcast: bcast,
		rng:   rand.New(rand.NewSource(cryptoSeed())),
		log:   log,
		done:  make(chan struct{}),
	}
}

// Start begins the tick loop on its own goroutine; it returns immediately.
func (sc *Scheduler) Start() {
	sc.ticker = time.NewTicker(config.TickIntervalMS * time.Millisecond)
	go sc.run()
}

// Stop halts the tick loop.
func (sc *Scheduler) Stop() {
	if sc.ticker != nil {
		sc.ticker.Stop()
	}
	close(sc.done)
}

func (sc *Scheduler) run() {
	for {
		select {
		case <-sc.coord.Context().Done():
			return
		case <-sc.done:
			return
		case <-sc.ticker.C:
			sc.Tick()
		}
	}
}

// Tick runs one pass of §4.5's "Every tick (>= ~2.5s)" rules against every
// active session.
func (sc *Scheduler) Tick() {
	now := time.Now()
	nowMs := now.UnixMilli()

	sc.coord.Queues().Prune(now)

	for _, s := range sc.coord.AllSessions() {
		sc.pruneExpiredEntries(s, now)
		sc.checkSessionTimeout(s, nowMs)
		sc.checkTerminalReset(s, nowMs)
	}
}

func (sc *Scheduler) pruneExpiredEntries(s *Session, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.Entries[:0]
	for _, e := range s.Entries {
		if !e.IsExpired(now) {
			kept = append(kept, e)
		}
	}
	s.Entries = kept
}

func (sc *Scheduler) checkSessionTimeout(s *Session, nowMs int64) {
	state := s.CurrentState()
	elapsed := s.MillisSinceStateChange(nowMs)

	switch state {
	case StateAcceptingEntries, StateQueue:
		if elapsed >= int64(config.QueueTimeoutSecs)*1000 {
			sc.ChargeFees(s)
			sc.coord.UnlockSessionCoins(s)
			s.Reset()
		}
	case StateSigning:
		if elapsed >= int64(config.SigningTimeoutSecs)*1000 {
			sc.ChargeFees(s)
			sc.coord.UnlockSessionCoins(s)
			s.Fail("Signing timed out, please resubmit.")
			sc.coord.emitEvent(Event{Type: EventSessionError, SessionID: s.SessionID, Message: s.LastMessage})
		}
	}
}

func (sc *Scheduler) checkTerminalReset(s *Session, nowMs int64) {
	if s.ClaimPostSuccessCharge() {
		sc.ChargeRandomFees(s)
	}
	if s.ShouldReset(nowMs) {
		sc.coord.UnlockSessionCoins(s)
		s.Reset()
	}
}

// ChargeFees implements charge_fees() (§4.5, §9): with 67% probability,
// identify offenders for the session's current state (collateral holders
// without a matching entry in AcceptingEntries; unsigned inputs in
// Signing). If offences is 0 or equal to the pool cap ("nobody, or
// everyone — not a genuine offense") it does nothing. Otherwise it selects
// one offender, weighted by offender count, and broadcasts their
// collateral.
func (sc *Scheduler) ChargeFees(s *Session) {
	if sc.rng.Float64() >= 0.67 {
		return
	}

	s.mu.Lock()
	var offenders []*Entry
	switch s.State {
	case StateAcceptingEntries, StateQueue:
		// Every entry present without a completed admission is itself the
		// offender set here: entries that never reached signing.
		offenders = append(offenders, s.Entries...)
	case StateSigning:
		for _, e := range s.Entries {
			if !e.AllSignaturesPresent() {
				offenders = append(offenders, e)
			}
		}
	}
	poolCap := config.PoolMaxTransactions
	s.mu.Unlock()

	if len(offenders) == 0 || len(offenders) == poolCap {
		return
	}

	chosen := offenders[sc.rng.Intn(len(offenders))]
	if sc.bcast != nil && chosen.Collateral != nil {
		sc.bcast.BroadcastCollateral(chosen.Collateral)
		sc.coord.emitEvent(Event{Type: EventCollateralCharged, SessionID: s.SessionID})
	}
}

// ChargeRandomFees implements charge_random_fees() (§4.5): post-success,
// each session's collateral is broadcast with 2% probability to fund
// miners.
func (sc *Scheduler) ChargeRandomFees(s *Session) {
	s.mu.Lock()
	entries := s.Entries
	s.mu.Unlock()

	for _, e := range entries {
		if sc.rng.Float64() < 0.02 && sc.bcast != nil && e.Collateral != nil {
			sc.bcast.BroadcastCollateral(e.Collateral)
		}
	}
}
