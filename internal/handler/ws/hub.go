package ws

import (
	"context"
	"encoding/json"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"signaling-backend/internal/domain"
	"signaling-backend/internal/service/call"
	"signaling-backend/internal/service/presence"
	"signaling-backend/internal/service/signaling"
	"signaling-backend/internal/service/writebehind"
	"signaling-backend/pkg/constants"
	apperrors "signaling-backend/pkg/errors"
	"signaling-backend/pkg/logger"
	"signaling-backend/pkg/metrics"
	"signaling-backend/pkg/push"
	"signaling-backend/pkg/schedule"
)

// Conn is one live transport connection as seen by the hub
type Conn interface {
	// Handle is the connection's unique id
	Handle() string
	// Subject is the authenticated user id from the handshake, empty when
	// the connection is anonymous
	Subject() string
	// Deliver queues a frame without blocking. It returns ErrConnClosed once
	// Close was called and ErrSendBufferFull when the queue has no room.
	Deliver(frame []byte) error
	// Close terminates the connection; safe to call more than once
	Close()
}

var (
	// ErrConnClosed is returned by Deliver after Close
	ErrConnClosed = errors.New("connection closed")
	// ErrSendBufferFull is returned by Deliver when the outbound queue is full
	ErrSendBufferFull = errors.New("send buffer full")
)

// PresenceMirror publishes presence transitions for other services
type PresenceMirror interface {
	SetOnline(ctx context.Context, rec domain.ConnectionRecord) error
	SetOffline(ctx context.Context, rec domain.ConnectionRecord) error
	Remove(ctx context.Context, userID string) error
}

// CallHistory stores finished calls
type CallHistory interface {
	Record(ctx context.Context, rec domain.CallRecord) error
}

// MissedCallNotifier alerts a callee about a call they did not pick up
type MissedCallNotifier interface {
	SendMissedCallNotification(ctx context.Context, call push.MissedCall) error
}

// HubConfig holds the hub's timing and policy knobs
type HubConfig struct {
	RingTimeout        time.Duration
	OfflineGracePeriod time.Duration
	FallbackBroadcast  bool
	// AuthRequired binds registrations to the connection's handshake subject
	AuthRequired bool
	// Clock defaults to the wall clock
	Clock clock.Clock
}

// HubDeps are the hub's optional collaborators. Nil sinks are skipped.
type HubDeps struct {
	Metrics   *metrics.Metrics
	Presence  PresenceMirror
	History   CallHistory
	Notifier  MissedCallNotifier
	QueueSize int
}

// SignalingHub runs the presence and call coordinator. A single goroutine
// owns the registry, the call manager and the connection table; every
// transport event, timer expiry and query is submitted to it as a closure.
type SignalingHub struct {
	cfg     HubConfig
	metrics *metrics.Metrics

	sched       *schedule.Scheduler
	registry    *presence.Registry
	broadcaster *presence.Broadcaster
	relay       *signaling.Relay
	calls       *call.Manager

	presenceMirror PresenceMirror
	history        CallHistory
	notifier       MissedCallNotifier
	worker         *writebehind.Worker

	clients map[string]Conn

	events   chan func()
	quit     chan struct{}
	stopped  chan struct{}
	stopOnce sync.Once
}

// NewSignalingHub creates the hub and starts its event loop
func NewSignalingHub(cfg HubConfig, deps HubDeps) *SignalingHub {
	if cfg.RingTimeout <= 0 {
		cfg.RingTimeout = constants.RingTimeout
	}
	if cfg.OfflineGracePeriod <= 0 {
		cfg.OfflineGracePeriod = constants.OfflineGracePeriod
	}
	if deps.QueueSize <= 0 {
		deps.QueueSize = constants.WriteBehindQueueSize
	}

	h := &SignalingHub{
		cfg:            cfg,
		metrics:        deps.Metrics,
		presenceMirror: deps.Presence,
		history:        deps.History,
		notifier:       deps.Notifier,
		clients:        make(map[string]Conn),
		events:         make(chan func(), constants.EventQueueSize),
		quit:           make(chan struct{}),
		stopped:        make(chan struct{}),
	}

	h.sched = schedule.New(cfg.Clock, func(fn func()) { h.submit(fn) })
	h.registry = presence.NewRegistry(h.sched, cfg.OfflineGracePeriod)
	h.registry.OnPurge(h.onPurge)
	h.broadcaster = presence.NewBroadcaster(h.registry, h)

	var recorder signaling.Recorder
	var wbRecorder writebehind.Recorder
	if h.metrics != nil {
		recorder = h.metrics
		wbRecorder = h.metrics
	}
	h.relay = signaling.NewRelay(h.registry, h, recorder)
	h.calls = call.NewManager(h.relay, h, h.sched, call.Config{
		RingTimeout:       cfg.RingTimeout,
		FallbackBroadcast: cfg.FallbackBroadcast,
	}, h)
	h.worker = writebehind.New(deps.QueueSize, constants.DefaultTimeout, wbRecorder)

	go h.run()

	return h
}

// run handles hub operations
func (h *SignalingHub) run() {
	defer close(h.stopped)
	for {
		select {
		case fn := <-h.events:
			h.safely(fn)
		case <-h.quit:
			h.shutdown()
			return
		}
	}
}

func (h *SignalingHub) safely(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Recovered panic in signaling loop", zap.Any("panic", r))
		}
	}()
	fn()
}

// submit queues fn for the loop. It returns false once the hub is stopping.
func (h *SignalingHub) submit(fn func()) bool {
	select {
	case <-h.quit:
		return false
	default:
	}
	select {
	case h.events <- fn:
		return true
	case <-h.quit:
		return false
	}
}

// query runs fn on the loop and waits for its result
func query[T any](ctx context.Context, h *SignalingHub, fn func() T) (T, error) {
	var zero T
	out := make(chan T, 1)
	if !h.submit(func() { out <- fn() }) {
		return zero, apperrors.ServiceUnavailableError("Signaling hub is stopped")
	}
	select {
	case v := <-out:
		return v, nil
	case <-ctx.Done():
		return zero, ctx.Err()
	case <-h.stopped:
		return zero, apperrors.ServiceUnavailableError("Signaling hub is stopped")
	}
}

// Stop ends the loop, drops all sessions and connections, then drains the
// write-behind queue until ctx expires.
func (h *SignalingHub) Stop(ctx context.Context) error {
	h.stopOnce.Do(func() { close(h.quit) })
	select {
	case <-h.stopped:
	case <-ctx.Done():
		return ctx.Err()
	}
	return h.worker.Stop(ctx)
}

func (h *SignalingHub) shutdown() {
	h.calls.Shutdown()
	h.registry.Close()
	for handle, c := range h.clients {
		c.Close()
		delete(h.clients, handle)
	}
	h.setGauges()
	logger.Info("Signaling hub stopped")
}

// Connect adds a live connection. It returns false once the hub is stopping.
func (h *SignalingHub) Connect(c Conn) bool {
	return h.submit(func() {
		h.clients[c.Handle()] = c
		h.setGauges()
		logger.Debug("Connection opened", zap.String("handle", c.Handle()))
	})
}

// Receive dispatches one inbound frame from c
func (h *SignalingHub) Receive(c Conn, frame []byte) {
	h.submit(func() { h.dispatch(c, frame) })
}

// Disconnect removes c and takes its user offline if c was their current
// connection
func (h *SignalingHub) Disconnect(c Conn) {
	h.submit(func() { h.handleDisconnect(c) })
}

// OnlineUsers returns the sorted ids of online users
func (h *SignalingHub) OnlineUsers(ctx context.Context) ([]string, error) {
	return query(ctx, h, h.registry.ListOnlineUserIDs)
}

// UserStatus returns the user's record, online or within the grace period
func (h *SignalingHub) UserStatus(ctx context.Context, userID string) (domain.ConnectionRecord, bool, error) {
	type result struct {
		rec domain.ConnectionRecord
		ok  bool
	}
	r, err := query(ctx, h, func() result {
		rec, ok := h.registry.FindByUser(userID)
		return result{rec, ok}
	})
	return r.rec, r.ok, err
}

// ActiveCalls returns every ringing or connected session
func (h *SignalingHub) ActiveCalls(ctx context.Context) ([]domain.CallSession, error) {
	return query(ctx, h, h.calls.ActiveSessions)
}

// Emit implements transport.Emitter
func (h *SignalingHub) Emit(handle, event string, data any) bool {
	c, ok := h.clients[handle]
	if !ok {
		return false
	}
	frame, err := encodeFrame(event, data)
	if err != nil {
		logger.Error("Failed to encode event",
			zap.String("event", event),
			zap.Error(err))
		return false
	}
	return h.deliver(c, event, frame)
}

// Broadcast implements transport.Emitter
func (h *SignalingHub) Broadcast(event string, data any, exclude ...string) {
	frame, err := encodeFrame(event, data)
	if err != nil {
		logger.Error("Failed to encode event",
			zap.String("event", event),
			zap.Error(err))
		return
	}
	for handle, c := range h.clients {
		if slices.Contains(exclude, handle) {
			continue
		}
		h.deliver(c, event, frame)
	}
}

// deliver hands frame to c. A connection whose buffer is full is closed;
// its read pump then reports the disconnect. Connections already closed are
// skipped until that disconnect arrives.
func (h *SignalingHub) deliver(c Conn, event string, frame []byte) bool {
	err := c.Deliver(frame)
	switch {
	case err == nil:
		if h.metrics != nil {
			h.metrics.RecordWebSocketMessage(event, "outbound")
		}
		return true
	case errors.Is(err, ErrConnClosed):
		return false
	}
	logger.Warn("Send buffer full, closing connection",
		zap.String("handle", c.Handle()),
		zap.String("event", event))
	if h.metrics != nil {
		h.metrics.RecordWebSocketError("send_buffer_full")
	}
	c.Close()
	return false
}

func (h *SignalingHub) dispatch(c Conn, frame []byte) {
	if cur, ok := h.clients[c.Handle()]; !ok || cur != c {
		return
	}

	var env domain.Envelope
	if err := json.Unmarshal(frame, &env); err != nil || env.Event == "" {
		logger.Warn("Malformed envelope",
			zap.String("handle", c.Handle()),
			zap.Error(err))
		if h.metrics != nil {
			h.metrics.RecordWebSocketError("malformed_envelope")
		}
		return
	}
	if h.metrics != nil {
		h.metrics.RecordWebSocketMessage(env.Event, "inbound")
	}

	switch env.Event {
	case domain.EventRegister:
		var req domain.RegisterRequest
		if !h.decode(c, env, &req) {
			return
		}
		h.handleRegister(c, req.UserID, req.Role)
	case domain.EventRegisterLegacy:
		var userID string
		if !h.decode(c, env, &userID) {
			return
		}
		h.handleRegister(c, userID, domain.RoleUser)
	case domain.EventGetOnlineUsers:
		h.broadcaster.OnOnlineListRequested(c.Handle())
	case domain.EventCallUser:
		var req domain.CallUserRequest
		if userID, ok := h.sender(c, env.Event); ok && h.decode(c, env, &req) {
			h.calls.Initiate(c.Handle(), userID, req)
			h.setGauges()
		}
	case domain.EventAnswerCall:
		var req domain.AnswerCallRequest
		if userID, ok := h.sender(c, env.Event); ok && h.decode(c, env, &req) {
			h.calls.Answer(userID, req)
		}
	case domain.EventRejectCall:
		var req domain.TargetRequest
		if userID, ok := h.sender(c, env.Event); ok && h.decode(c, env, &req) {
			h.calls.Reject(userID, req.To)
			h.setGauges()
		}
	case domain.EventEndCall:
		var req domain.EndCallRequest
		if userID, ok := h.sender(c, env.Event); ok && h.decode(c, env, &req) {
			h.calls.End(userID, c.Handle(), req)
			h.setGauges()
		}
	case domain.EventIceCandidate:
		var req domain.IceCandidateRequest
		if userID, ok := h.sender(c, env.Event); ok && h.decode(c, env, &req) {
			h.calls.RelayCandidate(userID, req)
		}
	case domain.EventSendMessage:
		var hdr domain.ChatMessageHeader
		if _, ok := h.sender(c, env.Event); ok && h.decode(c, env, &hdr) {
			h.relay.Relay(domain.EventReceiveMessage, env.Data, hdr.Receiver)
		}
	default:
		logger.Debug("Unknown event",
			zap.String("handle", c.Handle()),
			zap.String("event", env.Event))
	}
}

func (h *SignalingHub) decode(c Conn, env domain.Envelope, v any) bool {
	if len(env.Data) == 0 {
		env.Data = json.RawMessage("null")
	}
	if err := json.Unmarshal(env.Data, v); err != nil {
		appErr := apperrors.InvalidPayloadError(env.Event, err)
		logger.Warn(appErr.Message,
			zap.String("handle", c.Handle()),
			zap.Error(err))
		if h.metrics != nil {
			h.metrics.RecordWebSocketError("invalid_payload")
		}
		return false
	}
	return true
}

// sender resolves the user registered on c. Signaling from an unregistered
// connection is dropped.
func (h *SignalingHub) sender(c Conn, event string) (string, bool) {
	userID, _, ok := h.registry.FindByConnection(c.Handle())
	if !ok {
		logger.Debug("Dropping event from unregistered connection",
			zap.String("handle", c.Handle()),
			zap.String("event", event))
		return "", false
	}
	return userID, true
}

func (h *SignalingHub) handleRegister(c Conn, userID, role string) {
	if userID == "" {
		logger.Warn("Register without userId", zap.String("handle", c.Handle()))
		return
	}
	if h.cfg.AuthRequired && c.Subject() != userID {
		logger.Warn("Register rejected: token subject mismatch",
			zap.String("handle", c.Handle()),
			zap.String("user_id", userID))
		if h.metrics != nil {
			h.metrics.RecordWebSocketError("subject_mismatch")
		}
		return
	}
	if role == "" {
		role = domain.RoleUser
	}

	// A connection carries one identity; re-registering as someone else
	// takes the previous user offline first.
	if prev, _, ok := h.registry.FindByConnection(c.Handle()); ok && prev != userID {
		h.userGone(prev)
	}

	res := h.registry.Register(userID, c.Handle(), role)
	h.broadcaster.OnUserRegistered(userID, c.Handle())

	if h.metrics != nil {
		h.metrics.RecordPresenceTransition("online")
	}
	h.setGauges()

	logger.Info("User registered",
		zap.String("user_id", userID),
		zap.String("role", role),
		zap.String("handle", c.Handle()),
		zap.String("previous_handle", res.PreviousHandle))

	if h.presenceMirror != nil {
		rec, _ := h.registry.FindByUser(userID)
		h.worker.Enqueue("presence_online", func(ctx context.Context) error {
			return h.presenceMirror.SetOnline(ctx, rec)
		})
	}
}

func (h *SignalingHub) handleDisconnect(c Conn) {
	if cur, ok := h.clients[c.Handle()]; !ok || cur != c {
		return
	}
	delete(h.clients, c.Handle())
	h.setGauges()

	userID, _, ok := h.registry.FindByConnection(c.Handle())
	if !ok {
		logger.Debug("Connection closed", zap.String("handle", c.Handle()))
		return
	}
	h.userGone(userID)
}

// userGone marks userID offline, announces it and ends their calls
func (h *SignalingHub) userGone(userID string) {
	lastSeen, ok := h.registry.MarkOffline(userID)
	if !ok {
		return
	}
	h.broadcaster.OnUserDisconnected(userID, lastSeen)
	ended := h.calls.Disconnect(userID)

	if h.metrics != nil {
		h.metrics.RecordPresenceTransition("offline")
	}
	h.setGauges()

	logger.Info("User offline",
		zap.String("user_id", userID),
		zap.Int("calls_ended", ended))

	if h.presenceMirror != nil {
		rec, _ := h.registry.FindByUser(userID)
		h.worker.Enqueue("presence_offline", func(ctx context.Context) error {
			return h.presenceMirror.SetOffline(ctx, rec)
		})
	}
}

func (h *SignalingHub) onPurge(userID string) {
	if h.metrics != nil {
		h.metrics.RecordPresenceTransition("purged")
	}
	logger.Debug("Presence record purged", zap.String("user_id", userID))

	if h.presenceMirror != nil {
		h.worker.Enqueue("presence_purge", func(ctx context.Context) error {
			return h.presenceMirror.Remove(ctx, userID)
		})
	}
}

// CallStarted implements call.Observer
func (h *SignalingHub) CallStarted(s domain.CallSession) {
	h.setGauges()
}

// CallConnected implements call.Observer
func (h *SignalingHub) CallConnected(s domain.CallSession) {
	if h.metrics != nil {
		h.metrics.RecordCall(string(s.CallType), string(domain.CallStatusConnected))
	}
}

// CallEnded implements call.Observer
func (h *SignalingHub) CallEnded(s domain.CallSession, reason domain.EndReason, endedBy string) {
	rec := domain.CallRecord{
		CallID:      s.CallID,
		CallerID:    s.CallerID,
		CalleeID:    s.CalleeID,
		CallType:    s.CallType,
		EndReason:   reason,
		EndedBy:     endedBy,
		StartedAt:   s.StartedAt,
		ConnectedAt: s.ConnectedAt,
		EndedAt:     h.sched.Now(),
	}

	if h.metrics != nil {
		h.metrics.RecordCall(string(s.CallType), string(reason))
		if rec.ConnectedAt != nil {
			h.metrics.RecordCallDuration(string(s.CallType), rec.Duration())
		}
	}
	h.setGauges()

	if h.history != nil {
		h.worker.Enqueue("call_history", func(ctx context.Context) error {
			return h.history.Record(ctx, rec)
		})
	}
	if reason == domain.EndReasonTimeout {
		h.notifyMissed(push.MissedCall{
			CallID:     s.CallID,
			CallerID:   s.CallerID,
			CallerName: s.CallerName,
			CalleeID:   s.CalleeID,
			CallType:   string(s.CallType),
			Reason:     "timeout",
		})
	}
}

// CallRefused implements call.Observer
func (h *SignalingHub) CallRefused(callerID, calleeID string, callType domain.CallType, err *apperrors.AppError) {
	if h.metrics != nil {
		h.metrics.RecordCallFailure(string(callType), string(err.Code))
	}
	if err.Code == apperrors.ErrCodeUserOffline && calleeID != "" {
		h.notifyMissed(push.MissedCall{
			CallerID: callerID,
			CalleeID: calleeID,
			CallType: string(callType),
			Reason:   "offline",
		})
	}
}

func (h *SignalingHub) notifyMissed(mc push.MissedCall) {
	if h.notifier == nil {
		return
	}
	h.worker.Enqueue("missed_call_push", func(ctx context.Context) error {
		return h.notifier.SendMissedCallNotification(ctx, mc)
	})
}

func (h *SignalingHub) setGauges() {
	if h.metrics == nil {
		return
	}
	h.metrics.SetWebSocketConnections(len(h.clients))
	h.metrics.SetOnlineUsers(len(h.registry.ListOnlineUserIDs()))
	h.metrics.SetActiveCalls(h.calls.Len())
}

func encodeFrame(event string, data any) ([]byte, error) {
	env := domain.Envelope{Event: event}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return nil, err
		}
		env.Data = raw
	}
	return json.Marshal(env)
}
