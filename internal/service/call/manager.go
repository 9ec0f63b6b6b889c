package call

import (
	"slices"
	"strings"
	"time"

	"signaling-backend/internal/domain"
	"signaling-backend/internal/service/signaling"
	"signaling-backend/internal/transport"
	apperrors "signaling-backend/pkg/errors"
	"signaling-backend/pkg/logger"
	"signaling-backend/pkg/schedule"

	"go.uber.org/zap"
)

// Observer is told about session lifecycle changes. Calls happen on the
// manager's goroutine and must not block.
type Observer interface {
	CallStarted(s domain.CallSession)
	CallConnected(s domain.CallSession)
	CallEnded(s domain.CallSession, reason domain.EndReason, endedBy string)
	CallRefused(callerID, calleeID string, callType domain.CallType, err *apperrors.AppError)
}

// Config holds call timing and fallback behaviour
type Config struct {
	RingTimeout time.Duration
	// FallbackBroadcast broadcasts callEnded when the end target has no
	// live connection.
	FallbackBroadcast bool
}

type session struct {
	domain.CallSession
	ring schedule.Cancel
}

// Manager owns every call session. It is not safe for concurrent use.
type Manager struct {
	relay    *signaling.Relay
	emitter  transport.Emitter
	sched    *schedule.Scheduler
	cfg      Config
	observer Observer

	sessions map[string]*session
	byPair   map[string]string
	byUser   map[string]map[string]struct{}
}

// NewManager creates a call manager. observer may be nil.
func NewManager(relay *signaling.Relay, emitter transport.Emitter, sched *schedule.Scheduler, cfg Config, observer Observer) *Manager {
	if observer == nil {
		observer = nopObserver{}
	}
	return &Manager{
		relay:    relay,
		emitter:  emitter,
		sched:    sched,
		cfg:      cfg,
		observer: observer,
		sessions: make(map[string]*session),
		byPair:   make(map[string]string),
		byUser:   make(map[string]map[string]struct{}),
	}
}

// Initiate starts a ringing session from callerID, who is registered on
// handle. Refusals are reported to handle as callError and returned.
func (m *Manager) Initiate(handle, callerID string, req domain.CallUserRequest) (*domain.CallSession, error) {
	callType := req.CallType
	if callType == "" {
		callType = domain.CallTypeVideo
	}

	switch {
	case req.UserToCall == "":
		return nil, m.refuse(handle, callerID, req.UserToCall, callType, apperrors.MissingFieldError("userToCall"))
	case req.UserToCall == callerID:
		return nil, m.refuse(handle, callerID, req.UserToCall, callType, apperrors.ValidationError("Cannot call yourself"))
	case !callType.Valid():
		return nil, m.refuse(handle, callerID, req.UserToCall, callType, apperrors.ValidationError("Unsupported call type"))
	case !m.relay.Online(req.UserToCall):
		return nil, m.refuse(handle, callerID, req.UserToCall, callType, apperrors.UserOfflineError())
	}
	if _, busy := m.byPair[pairKey(callerID, req.UserToCall)]; busy {
		return nil, m.refuse(handle, callerID, req.UserToCall, callType, apperrors.CallInProgressError())
	}

	now := m.sched.Now()
	s := &session{CallSession: domain.CallSession{
		CallID:     domain.NewCallID(callerID, req.UserToCall, now),
		CallerID:   callerID,
		CalleeID:   req.UserToCall,
		CallerName: req.Name,
		CallType:   callType,
		Status:     domain.CallStatusRinging,
		StartedAt:  now,
	}}

	delivered := m.relay.Relay(domain.EventIncomingCall, domain.IncomingCall{
		Signal:   req.Signal,
		From:     callerID,
		Name:     req.Name,
		CallType: callType,
		CallID:   s.CallID,
	}, s.CalleeID)
	if !delivered {
		return nil, m.refuse(handle, callerID, req.UserToCall, callType, apperrors.UserOfflineError())
	}

	m.add(s)
	s.ring = m.sched.After(m.cfg.RingTimeout, func() { m.expire(s) })
	m.observer.CallStarted(s.CallSession)

	logger.Info("Call ringing",
		zap.String("call_id", s.CallID),
		zap.String("caller_id", s.CallerID),
		zap.String("callee_id", s.CalleeID),
		zap.String("call_type", string(s.CallType)))

	out := s.CallSession
	return &out, nil
}

// Answer moves the ringing session between calleeID and callerID to
// connected and relays the answer signal to the caller.
func (m *Manager) Answer(calleeID string, req domain.AnswerCallRequest) error {
	s := m.lookup(calleeID, req.To)
	if s == nil || s.CalleeID != calleeID || s.Status != domain.CallStatusRinging {
		return m.stale(domain.EventAnswerCall, calleeID, req.To, s)
	}

	m.stopRing(s)
	now := m.sched.Now()
	s.Status = domain.CallStatusConnected
	s.ConnectedAt = &now

	m.relay.Relay(domain.EventCallAccepted, domain.CallAccepted{Signal: req.Signal}, s.CallerID)
	m.observer.CallConnected(s.CallSession)

	logger.Info("Call connected",
		zap.String("call_id", s.CallID))
	return nil
}

// Reject ends the ringing session and tells the caller
func (m *Manager) Reject(calleeID, callerID string) error {
	s := m.lookup(calleeID, callerID)
	if s == nil || s.CalleeID != calleeID || s.Status != domain.CallStatusRinging {
		return m.stale(domain.EventRejectCall, calleeID, callerID, s)
	}

	m.remove(s, domain.EndReasonRejected, calleeID)
	m.relay.Relay(domain.EventCallRejected, nil, s.CallerID)

	logger.Info("Call rejected",
		zap.String("call_id", s.CallID))
	return nil
}

// End tears down the session between fromID and req.To, if any, and
// notifies the target. When the target has no live connection and fallback
// is enabled, every connection except senderHandle gets callEnded with the
// intended target attached. It reports whether a session was found.
func (m *Manager) End(fromID, senderHandle string, req domain.EndCallRequest) bool {
	s := m.lookup(fromID, req.To)
	if s != nil {
		m.remove(s, domain.EndReasonHangup, fromID)
		logger.Info("Call ended",
			zap.String("call_id", s.CallID),
			zap.String("ended_by", fromID))
	}
	if req.To == "" {
		return s != nil
	}

	if m.relay.Relay(domain.EventCallEnded, domain.CallEnded{From: fromID}, req.To) {
		return s != nil
	}
	if m.cfg.FallbackBroadcast {
		logger.Warn("End call target unreachable, broadcasting",
			zap.String("from", fromID),
			zap.String("to", req.To))
		m.emitter.Broadcast(domain.EventCallEnded, domain.CallEnded{From: fromID, To: req.To}, senderHandle)
	}
	return s != nil
}

// Disconnect ends every session userID takes part in and notifies each
// survivor exactly once. It returns the number of sessions ended.
func (m *Manager) Disconnect(userID string) int {
	ids := make([]string, 0, len(m.byUser[userID]))
	for id := range m.byUser[userID] {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	for _, id := range ids {
		s := m.sessions[id]
		m.remove(s, domain.EndReasonDisconnect, userID)
		m.relay.Relay(domain.EventCallEnded, domain.CallEnded{From: userID}, s.Peer(userID))
		logger.Info("Call ended by disconnect",
			zap.String("call_id", s.CallID),
			zap.String("user_id", userID))
	}
	return len(ids)
}

// RelayCandidate forwards a trickle ICE candidate within an active session.
// Candidates for an offline peer are dropped silently.
func (m *Manager) RelayCandidate(fromID string, req domain.IceCandidateRequest) error {
	s := m.lookup(fromID, req.To)
	if s == nil {
		return m.stale(domain.EventIceCandidate, fromID, req.To, nil)
	}
	m.relay.Relay(domain.EventIceCandidate, domain.IceCandidate{Candidate: req.Candidate}, req.To)
	return nil
}

// SessionBetween returns the active session for the unordered pair
func (m *Manager) SessionBetween(a, b string) (domain.CallSession, bool) {
	s := m.lookup(a, b)
	if s == nil {
		return domain.CallSession{}, false
	}
	return s.CallSession, true
}

// ActiveSessions returns every ringing or connected session, oldest first
func (m *Manager) ActiveSessions() []domain.CallSession {
	out := make([]domain.CallSession, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s.CallSession)
	}
	slices.SortFunc(out, func(a, b domain.CallSession) int {
		if c := a.StartedAt.Compare(b.StartedAt); c != 0 {
			return c
		}
		return strings.Compare(a.CallID, b.CallID)
	})
	return out
}

// Len returns the number of active sessions
func (m *Manager) Len() int {
	return len(m.sessions)
}

// Shutdown drops every session without notifying clients
func (m *Manager) Shutdown() {
	for _, s := range m.sessions {
		m.remove(s, domain.EndReasonShutdown, "")
	}
}

func (m *Manager) expire(s *session) {
	if m.sessions[s.CallID] != s || s.Status != domain.CallStatusRinging {
		return
	}
	m.remove(s, domain.EndReasonTimeout, "")

	timeout := domain.CallTimeout{CallID: s.CallID}
	m.relay.Relay(domain.EventCallTimeout, timeout, s.CallerID)
	m.relay.Relay(domain.EventCallTimeout, timeout, s.CalleeID)

	logger.Info("Call timed out",
		zap.String("call_id", s.CallID))
}

func (m *Manager) refuse(handle, callerID, calleeID string, callType domain.CallType, err *apperrors.AppError) error {
	m.emitter.Emit(handle, domain.EventCallError, domain.CallError{Message: err.Message})
	m.observer.CallRefused(callerID, calleeID, callType, err)
	logger.Info("Call refused",
		zap.String("caller_id", callerID),
		zap.String("callee_id", calleeID),
		zap.String("code", string(err.Code)))
	return err
}

func (m *Manager) stale(event, fromID, toID string, s *session) error {
	fields := []zap.Field{
		zap.String("event", event),
		zap.String("from", fromID),
		zap.String("to", toID),
	}
	if s != nil {
		fields = append(fields, zap.String("call_id", s.CallID), zap.String("status", string(s.Status)))
	}
	logger.Debug("Dropping stale signaling", fields...)
	return apperrors.CallNotFoundError()
}

func (m *Manager) lookup(a, b string) *session {
	id, ok := m.byPair[pairKey(a, b)]
	if !ok {
		return nil
	}
	return m.sessions[id]
}

func (m *Manager) add(s *session) {
	m.sessions[s.CallID] = s
	m.byPair[pairKey(s.CallerID, s.CalleeID)] = s.CallID
	for _, u := range []string{s.CallerID, s.CalleeID} {
		if m.byUser[u] == nil {
			m.byUser[u] = make(map[string]struct{})
		}
		m.byUser[u][s.CallID] = struct{}{}
	}
}

func (m *Manager) remove(s *session, reason domain.EndReason, endedBy string) {
	m.stopRing(s)
	delete(m.sessions, s.CallID)
	if m.byPair[pairKey(s.CallerID, s.CalleeID)] == s.CallID {
		delete(m.byPair, pairKey(s.CallerID, s.CalleeID))
	}
	for _, u := range []string{s.CallerID, s.CalleeID} {
		delete(m.byUser[u], s.CallID)
		if len(m.byUser[u]) == 0 {
			delete(m.byUser, u)
		}
	}
	s.Status = domain.CallStatusEnded
	m.observer.CallEnded(s.CallSession, reason, endedBy)
}

func (m *Manager) stopRing(s *session) {
	if s.ring != nil {
		s.ring()
		s.ring = nil
	}
}

// pairKey is order independent so a→b and b→a share one slot
func pairKey(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return a + "\x00" + b
}

type nopObserver struct{}

func (nopObserver) CallStarted(domain.CallSession) {}
func (nopObserver) CallConnected(domain.CallSession) {}
func (nopObserver) CallEnded(domain.CallSession, domain.EndReason, string) {}
func (nopObserver) CallRefused(string, string, domain.CallType, *apperrors.AppError) {}
