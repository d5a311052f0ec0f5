package service

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/Wyydra/callsig/internal/core/domain"
	"github.com/Wyydra/callsig/internal/core/port"
	"github.com/rs/zerolog"
)

const (
	DefaultRingTimeout      = 45 * time.Second
	DefaultSessionRetention = 30 * time.Second
)

// SessionStore tracks the lifecycle of every call attempt. Every transition
// goes through domain.CanTransition.
type SessionStore struct {
	mu       sync.RWMutex
	sessions map[domain.CallID]*domain.CallSession
	byRoom   map[domain.RoomName]domain.CallID
	ringing  map[domain.CallID]*time.Timer

	presence    *PresenceIndex
	ringTimeout time.Duration
	retention   time.Duration
	onExpire    func(domain.CallID)
	metrics     port.Metrics
	now         func() time.Time
	log         zerolog.Logger
}

type SessionOption func(*SessionStore)

func WithRingTimeout(d time.Duration) SessionOption {
	return func(s *SessionStore) {
		if d > 0 {
			s.ringTimeout = d
		}
	}
}

// WithRetention keeps terminal sessions readable for d. Zero drops them as
// soon as they terminate.
func WithRetention(d time.Duration) SessionOption {
	return func(s *SessionStore) {
		if d >= 0 {
			s.retention = d
		}
	}
}

func WithSessionMetrics(m port.Metrics) SessionOption {
	return func(s *SessionStore) {
		if m != nil {
			s.metrics = m
		}
	}
}

func NewSessionStore(presence *PresenceIndex, logger zerolog.Logger, opts ...SessionOption) *SessionStore {
	s := &SessionStore{
		sessions:    make(map[domain.CallID]*domain.CallSession),
		byRoom:      make(map[domain.RoomName]domain.CallID),
		ringing:     make(map[domain.CallID]*time.Timer),
		presence:    presence,
		ringTimeout: DefaultRingTimeout,
		retention:   DefaultSessionRetention,
		metrics:     port.NopMetrics{},
		now:         time.Now,
		log:         logger.With().Str("component", "sessions").Logger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// OnRingTimeout sets the function run when a session stays RINGING longer
// than the ring timeout. Without one the store ends the session itself.
func (s *SessionStore) OnRingTimeout(fn func(domain.CallID)) {
	s.mu.Lock()
	s.onExpire = fn
	s.mu.Unlock()
}

// Initiate creates a session in INITIATED. The receiver must be present;
// otherwise nothing is stored and ErrReceiverUnreachable is returned.
func (s *SessionStore) Initiate(caller, receiver domain.Identity, payload json.RawMessage) (domain.CallSession, error) {
	if caller == "" || receiver == "" {
		return domain.CallSession{}, domain.ErrIdentityRequired
	}
	if caller == receiver {
		return domain.CallSession{}, fmt.Errorf("%w: %q cannot call itself", domain.ErrBadRequest, caller)
	}
	if _, err := s.presence.Get(receiver); err != nil {
		return domain.CallSession{}, fmt.Errorf("%w: %s", domain.ErrReceiverUnreachable, receiver)
	}

	id := domain.NewCallID()
	now := s.now().UTC()
	sess := &domain.CallSession{
		ID:         id,
		CallerID:   caller,
		ReceiverID: receiver,
		RoomName:   domain.RoomNameFor(caller, receiver, id),
		State:      domain.StateInitiated,
		Payload:    payload,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	s.mu.Lock()
	s.sessions[id] = sess
	s.byRoom[sess.RoomName] = id
	s.mu.Unlock()

	s.metrics.CallTransition(domain.StateInitiated)
	s.log.Info().Str("call_id", id.String()).Str("caller", caller.String()).Str("receiver", receiver.String()).Msg("Call initiated")
	return *sess, nil
}

// MarkRinging moves INITIATED -> RINGING and arms the ring timer.
func (s *SessionStore) MarkRinging(id domain.CallID) (domain.CallSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, err := s.transitionLocked(id, domain.StateRinging)
	if err != nil {
		return domain.CallSession{}, err
	}
	s.ringing[id] = time.AfterFunc(s.ringTimeout, func() { s.expire(id) })
	return sess, nil
}

// Respond moves RINGING -> ACCEPTED or REJECTED.
func (s *SessionStore) Respond(id domain.CallID, accepted bool) (domain.CallSession, error) {
	to := domain.StateRejected
	if accepted {
		to = domain.StateAccepted
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transitionLocked(id, to)
}

// MarkConnected moves ACCEPTED -> CONNECTED.
func (s *SessionStore) MarkConnected(id domain.CallID) (domain.CallSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transitionLocked(id, domain.StateConnected)
}

// End moves any non-terminal session to ENDED. Ending a terminal session is a
// no-op reported by ended=false.
func (s *SessionStore) End(id domain.CallID, reason domain.EndReason) (domain.CallSession, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return domain.CallSession{}, false, domain.ErrSessionNotFound
	}
	if sess.State.Terminal() {
		return *sess, false, nil
	}
	sess.EndReason = reason
	out, err := s.transitionLocked(id, domain.StateEnded)
	if err != nil {
		return domain.CallSession{}, false, err
	}
	s.metrics.CallEnded(reason)
	return out, true, nil
}

// ExpireRinging ends the session with ReasonTimeout only if it is still
// RINGING. A response that raced the timer wins.
func (s *SessionStore) ExpireRinging(id domain.CallID) (domain.CallSession, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok || sess.State != domain.StateRinging {
		return domain.CallSession{}, false
	}
	sess.EndReason = domain.ReasonTimeout
	out, err := s.transitionLocked(id, domain.StateEnded)
	if err != nil {
		return domain.CallSession{}, false
	}
	s.metrics.CallEnded(domain.ReasonTimeout)
	return out, true
}

func (s *SessionStore) Get(id domain.CallID) (domain.CallSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[id]
	if !ok {
		return domain.CallSession{}, domain.ErrSessionNotFound
	}
	return *sess, nil
}

func (s *SessionStore) ByRoom(room domain.RoomName) (domain.CallSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byRoom[room]
	if !ok {
		return domain.CallSession{}, domain.ErrSessionNotFound
	}
	return *s.sessions[id], nil
}

// ActiveFor returns the non-terminal sessions identity takes part in.
func (s *SessionStore) ActiveFor(identity domain.Identity) []domain.CallSession {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.CallSession
	for _, sess := range s.sessions {
		if !sess.State.Terminal() && sess.Involves(identity) {
			out = append(out, *sess)
		}
	}
	return out
}

func (s *SessionStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// Stop cancels every pending ring timer.
func (s *SessionStore) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, t := range s.ringing {
		t.Stop()
		delete(s.ringing, id)
	}
}

func (s *SessionStore) transitionLocked(id domain.CallID, to domain.CallState) (domain.CallSession, error) {
	sess, ok := s.sessions[id]
	if !ok {
		return domain.CallSession{}, domain.ErrSessionNotFound
	}
	if !domain.CanTransition(sess.State, to) {
		return *sess, fmt.Errorf("%w: %s -> %s", domain.ErrInvalidState, sess.State, to)
	}

	from := sess.State
	sess.State = to
	sess.UpdatedAt = s.now().UTC()

	if t, ok := s.ringing[id]; ok && to != domain.StateRinging {
		t.Stop()
		delete(s.ringing, id)
	}
	if to.Terminal() {
		s.scheduleRemovalLocked(sess)
	}

	s.metrics.CallTransition(to)
	s.log.Debug().Str("call_id", id.String()).Str("from", string(from)).Str("to", string(to)).Msg("Call state changed")
	return *sess, nil
}

func (s *SessionStore) scheduleRemovalLocked(sess *domain.CallSession) {
	if s.retention == 0 {
		s.removeLocked(sess.ID)
		return
	}
	id := sess.ID
	time.AfterFunc(s.retention, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.removeLocked(id)
	})
}

func (s *SessionStore) removeLocked(id domain.CallID) {
	sess, ok := s.sessions[id]
	if !ok {
		return
	}
	if s.byRoom[sess.RoomName] == id {
		delete(s.byRoom, sess.RoomName)
	}
	delete(s.sessions, id)
}

func (s *SessionStore) expire(id domain.CallID) {
	s.mu.Lock()
	delete(s.ringing, id)
	handler := s.onExpire
	s.mu.Unlock()

	if handler != nil {
		handler(id)
		return
	}
	if _, ok := s.ExpireRinging(id); ok {
		s.log.Info().Str("call_id", id.String()).Msg("Ringing timed out")
	}
}
