// Package session implements the live session registry: a mapping from
// user id to the set of live client channels for that user, with
// snapshot-then-send broadcast and atomic per-channel delivery. Channel
// sets are copied under the lock and the lock released before any send,
// so a slow client never stalls attach/detach. Within one broadcast the
// channels are sent to one at a time, so a slow client delays the
// channels after it by up to the registry's send timeout.
package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Channel is the minimal send contract a transport (WebSocket, SSE, an
// in-process test double) must satisfy to be attached to the registry.
// A send either succeeds in full or fails; there is no partial-payload
// state.
type Channel interface {
	Send(ctx context.Context, payload any) error
}

// liveSession pairs a Channel with its identity and its own send mutex, so
// that sends on one channel never race with a concurrent send on the
// same channel while still letting unrelated channels proceed in
// parallel.
type liveSession struct {
	id     string
	userID string
	ch     Channel
	sendMu sync.Mutex
}

// Registry tracks live client channels by user id. Many sessions per
// user are allowed. Nothing outside the Registry may close a channel.
type Registry struct {
	mu          sync.RWMutex
	byID        map[string]*liveSession
	byUser      map[string]map[string]*liveSession
	sendTimeout time.Duration
}

// New constructs an empty Registry. sendTimeout bounds how long a single
// channel send may block before it is treated as a failure and the
// channel is detached.
func New(sendTimeout time.Duration) *Registry {
	if sendTimeout <= 0 {
		sendTimeout = 5 * time.Second
	}
	return &Registry{
		byID:        make(map[string]*liveSession),
		byUser:      make(map[string]map[string]*liveSession),
		sendTimeout: sendTimeout,
	}
}

// Attach registers ch under userID and returns its session id, which the
// caller uses later to Detach (e.g. on transport close). ch MUST already
// be accepted.
func (r *Registry) Attach(userID string, ch Channel) string {
	id := uuid.New().String()
	s := &liveSession{id: id, userID: userID, ch: ch}

	r.mu.Lock()
	r.byID[id] = s
	if r.byUser[userID] == nil {
		r.byUser[userID] = make(map[string]*liveSession)
	}
	r.byUser[userID][id] = s
	r.mu.Unlock()

	return id
}

// Detach removes the session identified by sessionID, if present.
func (r *Registry) Detach(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.detachLocked(sessionID)
}

func (r *Registry) detachLocked(sessionID string) {
	s, ok := r.byID[sessionID]
	if !ok {
		return
	}
	delete(r.byID, sessionID)
	if users, ok := r.byUser[s.userID]; ok {
		delete(users, sessionID)
		if len(users) == 0 {
			delete(r.byUser, s.userID)
		}
	}
}

// ActiveSessions returns the total number of attached channels.
func (r *Registry) ActiveSessions() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

// SessionsForUser returns the number of channels attached for userID.
func (r *Registry) SessionsForUser(userID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser[userID])
}

// Broadcast delivers payload to every channel of every user. The payload
// is built once by the caller and dispatched to a snapshot of channels
// taken under a read lock; the lock is released before any send so a
// slow channel cannot stall Attach/Detach. Channels are sent to one at a
// time (see dispatch), so a slow channel delays the ones after it by up
// to the send timeout. Channels whose send fails are detached; their ids
// are returned.
func (r *Registry) Broadcast(ctx context.Context, payload any) []string {
	r.mu.RLock()
	snapshot := make([]*liveSession, 0, len(r.byID))
	for _, s := range r.byID {
		snapshot = append(snapshot, s)
	}
	r.mu.RUnlock()

	return r.dispatch(ctx, snapshot, payload)
}

// SendTo delivers payload to every channel attached for userID, with the
// same snapshot-then-send semantics as Broadcast.
func (r *Registry) SendTo(ctx context.Context, userID string, payload any) []string {
	r.mu.RLock()
	users := r.byUser[userID]
	snapshot := make([]*liveSession, 0, len(users))
	for _, s := range users {
		snapshot = append(snapshot, s)
	}
	r.mu.RUnlock()

	return r.dispatch(ctx, snapshot, payload)
}

// dispatch sends payload to every session in snapshot, one at a time, in
// snapshot order. Sends are serialized: this keeps per-session delivery
// strictly in call order without risking a goroutine race flipping
// two sends to the same session out of order. A slow session is bounded
// by the registry's send timeout rather than blocking forever, so it
// delays later sessions in this one dispatch call but never the next
// Broadcast/SendTo, which always re-snapshots and can run once this one
// returns.
func (r *Registry) dispatch(ctx context.Context, snapshot []*liveSession, payload any) []string {
	var failed []string

	for _, s := range snapshot {
		if err := r.sendOne(ctx, s, payload); err != nil {
			slog.Warn("session: send failed, detaching channel",
				"session_id", s.id, "user_id", s.userID, "error", err)
			r.Detach(s.id)
			failed = append(failed, s.id)
		}
	}

	return failed
}

// sendOne performs one atomic send: the session's own mutex guarantees
// FIFO ordering per channel even when Broadcast and SendTo race.
func (r *Registry) sendOne(ctx context.Context, s *liveSession, payload any) error {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	sendCtx, cancel := context.WithTimeout(ctx, r.sendTimeout)
	defer cancel()
	return s.ch.Send(sendCtx, payload)
}
