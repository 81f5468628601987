package mixing

import (
	"context"
	"sync"

	"github.com/anonsend/inode/pkg/logging"
)

// EventType enumerates the notifications a MixingCoordinator fans out to
// registered handlers (dsc/dssu delivery triggers, mirroring the teacher's
// swap event fanout).
type EventType string

const (
	EventSessionCreated    EventType = "session_created"
	EventEntryAdmitted     EventType = "entry_admitted"
	EventStateChanged      EventType = "state_changed"
	EventSessionSuccess    EventType = "session_success"
	EventSessionError      EventType = "session_error"
	EventCollateralCharged EventType = "collateral_charged"
)

// Event is delivered to every registered EventHandler.
type Event struct {
	Type      EventType
	SessionID uint32
	DenomMask uint8
	Message   string
}

// EventHandler receives coordinator events; it must not block for long,
// matching the teacher's "copy handler slice under lock, go handler(event)"
// fanout discipline.
type EventHandler func(Event)

// Coordinator replaces the protocol's global mutable pool object with an
// explicit, owned value (§9: "model as an explicit MixingCoordinator value
// owned by the node root; pass references rather than using process-wide
// singletons"). dsq_counter, locked_coins, used_inodes, and broadcast_txes
// all become explicit fields here rather than package-level state.
type Coordinator struct {
	mu sync.Mutex

	sessions map[uint8]*Session // keyed by denom_mask: one active session per denomination class
	queues   *QueueTable
	broadcast *BroadcastSet
	locked   map[Outpoint]struct{}
	usedInodes map[Outpoint]struct{}

	ladder []int64

	eventHandlers []EventHandler

	log *logging.Logger

	ctx    context.Context
	cancel context.CancelFunc
}

// CoordinatorConfig configures a new Coordinator.
type CoordinatorConfig struct {
	Ladder         []int64
	BroadcastCap   int
	Logger         *logging.Logger
}

// NewCoordinator constructs a Coordinator with empty session/registry
// state.
func NewCoordinator(cfg CoordinatorConfig) *Coordinator {
	ctx, cancel := context.WithCancel(context.Background())
	log := cfg.Logger
	if log == nil {
		log = logging.GetDefault().Component("mixing")
	}
	return &Coordinator{
		sessions:   make(map[uint8]*Session),
		queues:     NewQueueTable(),
		broadcast:  NewBroadcastSet(cfg.BroadcastCap),
		locked:     make(map[Outpoint]struct{}),
		usedInodes: make(map[Outpoint]struct{}),
		ladder:     cfg.Ladder,
		log:        log,
		ctx:        ctx,
		cancel:     cancel,
	}
}

// OnEvent registers a handler for coordinator events.
func (c *Coordinator) OnEvent(h EventHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.eventHandlers = append(c.eventHandlers, h)
}

func (c *Coordinator) emitEvent(ev Event) {
	c.mu.Lock()
	handlers := make([]EventHandler, len(c.eventHandlers))
	copy(handlers, c.eventHandlers)
	c.mu.Unlock()

	for _, h := range handlers {
		go h(ev)
	}
}

// SessionFor returns the session for denomMask, creating one in the Queue
// state if none exists yet (§3 Lifecycle: "created on first compatible
// admission").
func (c *Coordinator) SessionFor(denomMask uint8) *Session {
	c.mu.Lock()
	s, ok := c.sessions[denomMask]
	if !ok {
		s = NewSession(c.ladder, c.log)
		s.DenomMask = denomMask
		c.sessions[denomMask] = s
	}
	c.mu.Unlock()

	if !ok {
		c.emitEvent(Event{Type: EventSessionCreated, SessionID: s.SessionID, DenomMask: denomMask})
	}
	return s
}

// Session looks up a session by its session ID across all denomination
// classes.
func (c *Coordinator) Session(sessionID uint32) (*Session, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, s := range c.sessions {
		if s.SessionID == sessionID {
			return s, true
		}
	}
	return nil, false
}

// Queues returns the coordinator's DSQueue table.
func (c *Coordinator) Queues() *QueueTable { return c.queues }

// Broadcast returns the bounded broadcast-tx set.
func (c *Coordinator) Broadcast() *BroadcastSet { return c.broadcast }

// LockCoin marks op ineligible for other wallet use (§5 "lockedCoins").
func (c *Coordinator) LockCoin(op Outpoint) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.locked[op] = struct{}{}
}

// UnlockCoin releases op. Every session exit path (success, error,
// timeout, reset) must call this for each of its inputs (§5).
func (c *Coordinator) UnlockCoin(op Outpoint) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.locked, op)
}

// IsLocked reports whether op is currently locked.
func (c *Coordinator) IsLocked(op Outpoint) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.locked[op]
	return ok
}

// UnlockSessionCoins releases every input of every entry in s, matching
// the "unlocked on every session exit path" invariant of §5.
func (c *Coordinator) UnlockSessionCoins(s *Session) {
	s.mu.Lock()
	entries := s.Entries
	s.mu.Unlock()

	for _, e := range entries {
		for _, in := range e.Inputs {
			c.UnlockCoin(in.Outpoint)
		}
	}
}

// MarkInodeUsed records that the client has used this INODE in the current
// denomination round, feeding the "not previously used" filter of §4.6
// step 5.
func (c *Coordinator) MarkInodeUsed(vin Outpoint) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.usedInodes[vin] = struct{}{}
}

// WasInodeUsed reports whether vin has already been used this round.
func (c *Coordinator) WasInodeUsed(vin Outpoint) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.usedInodes[vin]
	return ok
}

// ResetUsedInodes clears the used-inode set, called at the start of a new
// auto-denomination attempt.
func (c *Coordinator) ResetUsedInodes() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.usedInodes = make(map[Outpoint]struct{})
}

// Close cancels the coordinator's context and stops any owned background
// work (the scheduler ticker registers against this same context).
func (c *Coordinator) Close() {
	c.cancel()
}

// Context returns the coordinator's lifetime context, for components that
// need to stop when the coordinator closes (e.g. Scheduler).
func (c *Coordinator) Context() context.Context { return c.ctx }

// AllSessions returns a snapshot of every active session, used by the
// scheduler's tick.
func (c *Coordinator) AllSessions() []*Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*Session, 0, len(c.sessions))
	for _, s := range c.sessions {
		out = append(out, s)
	}
	return out
}
