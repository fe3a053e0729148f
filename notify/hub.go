// Package notify fans committed task mutations out to connected clients.
// Delivery is best-effort and ephemeral: a session that is not connected at
// broadcast time misses the event and reconciles by re-fetching.
package notify

import (
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/castleridge-io/clawdeck-sub003/domain"
)

const defaultSessionBuffer = 64

// Session is one live delivery channel, registered per authenticated push
// connection. A principal may hold any number of concurrent sessions.
type Session struct {
	userID string
	all    bool
	ch     chan domain.ChangeEvent
}

// Events returns the channel the transport drains. It is closed when the
// session is unregistered or dropped.
func (s *Session) Events() <-chan domain.ChangeEvent {
	return s.ch
}

// UserID returns the principal the session belongs to.
func (s *Session) UserID() string {
	return s.userID
}

// Hub is the process-scoped registry of live sessions, keyed by the owning
// principal. It is safe for concurrent register, unregister and broadcast.
type Hub struct {
	logger *log.Logger
	buffer int

	mu       sync.Mutex
	sessions map[string]map[*Session]struct{}
	all      map[*Session]struct{}
	latest   map[string]int64
}

// NewHub creates an empty session registry.
func NewHub(logger *log.Logger) *Hub {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Hub{
		logger:   logger,
		buffer:   defaultSessionBuffer,
		sessions: make(map[string]map[*Session]struct{}),
		all:      make(map[*Session]struct{}),
		latest:   make(map[string]int64),
	}
}

// Register adds a delivery channel for the given principal.
func (h *Hub) Register(userID string) *Session {
	s := &Session{userID: userID, ch: make(chan domain.ChangeEvent, h.buffer)}
	h.mu.Lock()
	set, ok := h.sessions[userID]
	if !ok {
		set = make(map[*Session]struct{})
		h.sessions[userID] = set
	}
	set[s] = struct{}{}
	h.mu.Unlock()
	return s
}

// RegisterAll adds a delivery channel that receives every scope's events.
// Reserved for admin principals.
func (h *Hub) RegisterAll(userID string) *Session {
	s := &Session{userID: userID, all: true, ch: make(chan domain.ChangeEvent, h.buffer)}
	h.mu.Lock()
	h.all[s] = struct{}{}
	h.mu.Unlock()
	return s
}

// Unregister removes the session and closes its channel. Safe to call more
// than once.
func (h *Hub) Unregister(s *Session) {
	h.mu.Lock()
	h.removeLocked(s)
	h.mu.Unlock()
}

func (h *Hub) removeLocked(s *Session) {
	if s.all {
		if _, live := h.all[s]; !live {
			return
		}
		delete(h.all, s)
		close(s.ch)
		return
	}
	set, ok := h.sessions[s.userID]
	if !ok {
		return
	}
	if _, live := set[s]; !live {
		return
	}
	delete(set, s)
	if len(set) == 0 {
		delete(h.sessions, s.userID)
	}
	close(s.ch)
}

// Broadcast delivers the event to every live session entitled to its owner
// scope, plus every all-scope session. Sends never block: a session whose
// buffer is full is treated as disconnected and dropped, without affecting
// delivery to other sessions or the mutation that produced the event.
//
// Delivery keeps per-task commit order: events carry the snapshot their
// mutation committed, and a snapshot older than one already broadcast for the
// same task is a publish that lost the race with its successor, so it is
// suppressed rather than delivered out of order.
func (h *Hub) Broadcast(ev domain.ChangeEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.staleLocked(ev) {
		return
	}
	for s := range h.sessions[ev.OwnerID] {
		h.sendLocked(s, ev)
	}
	for s := range h.all {
		h.sendLocked(s, ev)
	}
}

func (h *Hub) sendLocked(s *Session, ev domain.ChangeEvent) {
	select {
	case s.ch <- ev:
	default:
		h.logger.WithFields(log.Fields{"user": s.userID, "task": ev.TaskID}).Warn("session buffer full, dropping connection")
		h.removeLocked(s)
	}
}

// staleLocked tracks the newest committed snapshot seen per task. UpdatedAt
// is strictly increasing along a task's conditional-write chain: a mutation
// stamps it only after reloading the state its predecessor committed.
func (h *Hub) staleLocked(ev domain.ChangeEvent) bool {
	if ev.Task == nil {
		return false
	}
	if ev.Kind == domain.ChangeDeleted {
		// The commit chain ends here; nothing newer can follow.
		delete(h.latest, ev.TaskID)
		return false
	}
	if last, ok := h.latest[ev.TaskID]; ok && ev.Task.UpdatedAt < last {
		return true
	}
	h.latest[ev.TaskID] = ev.Task.UpdatedAt
	return false
}

// SessionCount reports the number of live sessions for a principal.
func (h *Hub) SessionCount(userID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := len(h.sessions[userID])
	for s := range h.all {
		if s.userID == userID {
			n++
		}
	}
	return n
}
