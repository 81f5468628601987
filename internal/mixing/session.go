package mixing

import (
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/anonsend/inode/internal/config"
	"github.com/anonsend/inode/pkg/logging"
)

// Session is the INODE-side pool of §3/§4.5. One Session runs at a time per
// denomination class inside a MixingCoordinator.
type Session struct {
	mu sync.Mutex

	SessionID         uint32
	State             SessionState
	DenomMask         uint8
	Entries           []*Entry
	FinalTx           *JointTx
	LastStateChangeMS int64
	LastMessage       string

	ladder            []int64
	rng               *rand.Rand // per-session CSPRNG-seeded shuffle source (§9)
	log               *logging.Logger
	randomFeesCharged bool // guards charge_random_fees() to one run per Success (§4.5)
}

// NewSession creates a Queue-state session with a fresh per-session shuffle
// seed (§9: "Output shuffle RNG must be seeded from a cryptographically
// secure source per session").
func NewSession(ladder []int64, log *logging.Logger) *Session {
	return &Session{
		SessionID:         randomSessionID(),
		State:             StateQueue,
		ladder:            ladder,
		rng:               rand.New(rand.NewSource(cryptoSeed())),
		LastStateChangeMS: nowMS(),
		log:               log,
	}
}

func randomSessionID() uint32 {
	// Uniformly-random positive 32-bit integer (§3); top bit cleared to
	// keep it representable as a positive value across languages.
	return uint32(cryptoSeed()) &^ (1 << 31)
}

func nowMS() int64 { return time.Now().UnixMilli() }

// TransitionTo validates and applies a state change against the allowed
// transition graph (§4.5), mirroring the teacher's Swap.TransitionTo.
func (s *Session) TransitionTo(next SessionState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transitionToLocked(next)
}

func (s *Session) transitionToLocked(next SessionState) error {
	allowed := allowedTransitions[s.State]
	for _, a := range allowed {
		if a == next {
			s.State = next
			s.LastStateChangeMS = nowMS()
			return nil
		}
	}
	return fmt.Errorf("session %d: invalid transition %s -> %s", s.SessionID, s.State, next)
}

// IsCompatibleWithSession implements is_compatible_with_session (§4.5):
// first admission sets denom_mask; later admissions require an equal mask;
// rejects when state is not in {AcceptingEntries, Queue} or the session is
// already at capacity.
func (s *Session) IsCompatibleWithSession(denomMask uint8) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.State != StateAcceptingEntries && s.State != StateQueue {
		return fmt.Errorf("session %d: %w", s.SessionID, ErrIncompatibleSession)
	}
	if len(s.Entries) >= config.PoolMaxTransactions {
		return fmt.Errorf("session %d: %w", s.SessionID, ErrSessionFull)
	}
	if len(s.Entries) == 0 && s.DenomMask == 0 {
		s.DenomMask = denomMask
		return nil
	}
	if s.DenomMask != denomMask {
		return fmt.Errorf("session %d: %w", s.SessionID, ErrIncompatibleSession)
	}
	return nil
}

// IsCompatibleWithEntries implements is_compatible_with_entries (§4.5).
func (s *Session) IsCompatibleWithEntries(outputs []TxOut) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return DenomBitmask(outputs, s.ladder) == s.DenomMask
}

// AdmitEntry validates and appends an entry, transitioning to FinalizeTx
// once the pool is full (§4.5: AcceptingEntries -> FinalizeTx).
func (s *Session) AdmitEntry(e *Entry, resolver InputResolver) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.State != StateAcceptingEntries && s.State != StateQueue {
		return fmt.Errorf("admit: %w", ErrIncompatibleSession)
	}
	mask := DenomBitmask(e.Outputs, s.ladder)
	if s.DenomMask != 0 && mask != s.DenomMask {
		return fmt.Errorf("admit: %w", ErrIncompatibleSession)
	}

	if err := e.Validate(s.Entries, s.ladder, resolver); err != nil {
		return err
	}

	if s.DenomMask == 0 {
		s.DenomMask = mask
	}
	s.Entries = append(s.Entries, e)

	if s.State == StateQueue {
		_ = s.transitionToLocked(StateAcceptingEntries)
	}

	if len(s.Entries) == config.PoolMaxTransactions {
		return s.transitionToLocked(StateFinalizeTx)
	}
	return nil
}

// BuildFinalTx constructs the joint transaction per §4.5 FinalizeTx ->
// Signing: inputs in insertion order, outputs shuffled with the session's
// seed, and advances the state to Signing.
func (s *Session) BuildFinalTx() (*JointTx, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.State != StateFinalizeTx {
		return nil, fmt.Errorf("build final tx: %w", ErrIncompatibleSession)
	}

	tx := BuildJointTx(s.Entries, s.rng)
	s.FinalTx = tx

	if err := s.transitionToLocked(StateSigning); err != nil {
		return nil, err
	}
	return tx, nil
}

// RecordSignature forwards a dss delivery to the owning entry's input slot
// and, once every input across every entry is signed, advances Signing ->
// Transmission (§4.5).
func (s *Session) RecordSignature(vin Outpoint, scriptSig []byte) (advanced bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.State != StateSigning {
		return false, fmt.Errorf("record signature: %w", ErrIncompatibleSession)
	}

	found := false
	for _, e := range s.Entries {
		if _, aerr := e.AddSignature(vin, scriptSig); aerr == nil {
			found = true
			break
		} else if !errors.Is(aerr, ErrUnknownInput) {
			return false, aerr
		}
	}
	if !found {
		return false, fmt.Errorf("record signature: %w", ErrUnknownInput)
	}

	for _, e := range s.Entries {
		if !e.AllSignaturesPresent() {
			return false, nil
		}
	}
	if err := s.transitionToLocked(StateTransmission); err != nil {
		return false, err
	}
	return true, nil
}

// MarkTransmitted advances Transmission -> Success once the final
// transaction has been relayed (§4.5).
func (s *Session) MarkTransmitted() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transitionToLocked(StateSuccess)
}

// Fail transitions the session into Error with a human-readable message
// (§7: "state -> Error with human-readable last_message").
func (s *Session) Fail(reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.LastMessage = reason
	_ = s.transitionToLocked(StateError)
}

// ShouldReset reports whether a terminal state has lingered past
// TERMINAL_LINGER_MS (§3 Lifecycle).
func (s *Session) ShouldReset(now int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.State.IsTerminal() && now-s.LastStateChangeMS >= config.TerminalLingerMS
}

// Reset clears the session back to AcceptingEntries with an empty entry
// set and a fresh shuffle seed, as required after Success/Error linger or a
// timeout-driven reset (§3, §4.5).
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.State = StateAcceptingEntries
	s.DenomMask = 0
	s.Entries = nil
	s.FinalTx = nil
	s.LastMessage = ""
	s.LastStateChangeMS = nowMS()
	s.rng = rand.New(rand.NewSource(cryptoSeed()))
	s.randomFeesCharged = false
}

// ClaimPostSuccessCharge reports whether the caller should run
// charge_random_fees() for this session: true exactly once, the first time
// it is called while the session sits in StateSuccess (§4.5). Subsequent
// calls during the same success linger return false.
func (s *Session) ClaimPostSuccessCharge() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.State != StateSuccess || s.randomFeesCharged {
		return false
	}
	s.randomFeesCharged = true
	return true
}

// EntryCount returns the current participant count.
func (s *Session) EntryCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Entries)
}

// CurrentState returns the session's state under lock, for callers (e.g.
// the scheduler's tick) that live outside the package and must not read
// s.State directly while TransitionTo/Reset can mutate it concurrently.
func (s *Session) CurrentState() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.State
}

// MillisSinceStateChange returns now - last_state_change_ms.
func (s *Session) MillisSinceStateChange(now int64) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return now - s.LastStateChangeMS
}
