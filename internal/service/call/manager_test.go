package call

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signaling-backend/internal/domain"
	"signaling-backend/internal/service/presence"
	"signaling-backend/internal/service/signaling"
	"signaling-backend/internal/transport/transporttest"
	apperrors "signaling-backend/pkg/errors"
	"signaling-backend/pkg/schedule"
)

const ringTimeout = 30 * time.Second

type endedCall struct {
	session domain.CallSession
	reason  domain.EndReason
	by      string
}

type recordingObserver struct {
	started   []domain.CallSession
	connected []domain.CallSession
	ended     []endedCall
	refused   []apperrors.ErrorCode
}

func (o *recordingObserver) CallStarted(s domain.CallSession)   { o.started = append(o.started, s) }
func (o *recordingObserver) CallConnected(s domain.CallSession) { o.connected = append(o.connected, s) }
func (o *recordingObserver) CallEnded(s domain.CallSession, reason domain.EndReason, by string) {
	o.ended = append(o.ended, endedCall{session: s, reason: reason, by: by})
}
func (o *recordingObserver) CallRefused(_, _ string, _ domain.CallType, err *apperrors.AppError) {
	o.refused = append(o.refused, err.Code)
}

type fixture struct {
	clock    *clock.Mock
	fired    chan func()
	registry *presence.Registry
	rec      *transporttest.Recorder
	observer *recordingObserver
	manager  *Manager
}

func newFixture(t *testing.T, fallback bool) *fixture {
	t.Helper()
	mock := clock.NewMock()
	mock.Set(time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC))
	fired := make(chan func(), 16)
	sched := schedule.New(mock, func(fn func()) { fired <- fn })

	registry := presence.NewRegistry(sched, 5*time.Minute)
	rec := transporttest.NewRecorder()
	obs := &recordingObserver{}
	relay := signaling.NewRelay(registry, rec, nil)

	return &fixture{
		clock:    mock,
		fired:    fired,
		registry: registry,
		rec:      rec,
		observer: obs,
		manager:  NewManager(relay, rec, sched, Config{RingTimeout: ringTimeout, FallbackBroadcast: fallback}, obs),
	}
}

func (f *fixture) online(ids ...string) {
	for _, id := range ids {
		f.rec.Connect("h-" + id)
		f.registry.Register(id, "h-"+id, domain.RoleUser)
	}
}

func (f *fixture) offline(id string) {
	f.rec.Disconnect("h-" + id)
	f.registry.MarkOffline(id)
}

// advance moves the clock and runs expected callbacks, then checks nothing else fired
func (f *fixture) advance(t *testing.T, d time.Duration, expectFired int) {
	t.Helper()
	f.clock.Add(d)
	for i := 0; i < expectFired; i++ {
		select {
		case fn := <-f.fired:
			fn()
		case <-time.After(time.Second):
			t.Fatalf("expected %d timer callbacks, got %d", expectFired, i)
		}
	}
	select {
	case fn := <-f.fired:
		fn()
		t.Fatal("unexpected timer callback")
	case <-time.After(20 * time.Millisecond):
	}
}

func (f *fixture) call(t *testing.T, from, to string) domain.CallSession {
	t.Helper()
	s, err := f.manager.Initiate("h-"+from, from, domain.CallUserRequest{
		UserToCall: to,
		From:       from,
		Name:       from + " name",
		Signal:     json.RawMessage(`{"type":"offer","sdp":"v=0"}`),
		CallType:   domain.CallTypeVideo,
	})
	require.NoError(t, err)
	require.NotNil(t, s)
	return *s
}

func callErrors(t *testing.T, f *fixture, handle string) []string {
	t.Helper()
	var out []string
	for _, m := range f.rec.For(handle, domain.EventCallError) {
		var ce domain.CallError
		require.NoError(t, m.Decode(&ce))
		out = append(out, ce.Message)
	}
	return out
}

func TestInitiate_DeliversIncomingCall(t *testing.T) {
	f := newFixture(t, true)
	f.online("alice", "bob")

	s := f.call(t, "alice", "bob")

	assert.Equal(t, domain.CallStatusRinging, s.Status)
	assert.Equal(t, domain.NewCallID("alice", "bob", f.clock.Now()), s.CallID)

	msgs := f.rec.For("h-bob", domain.EventIncomingCall)
	require.Len(t, msgs, 1)
	var ic domain.IncomingCall
	require.NoError(t, msgs[0].Decode(&ic))
	assert.Equal(t, "alice", ic.From)
	assert.Equal(t, "alice name", ic.Name)
	assert.Equal(t, domain.CallTypeVideo, ic.CallType)
	assert.Equal(t, s.CallID, ic.CallID)
	assert.JSONEq(t, `{"type":"offer","sdp":"v=0"}`, string(ic.Signal))
	assert.Len(t, f.observer.started, 1)
}

func TestInitiate_AdmissionGuard(t *testing.T) {
	cases := []struct {
		name  string
		setup func(f *fixture)
		to    string
	}{
		{name: "unknown user", setup: func(f *fixture) {}, to: "ghost"},
		{name: "offline user", setup: func(f *fixture) { f.online("carol"); f.offline("carol") }, to: "carol"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, true)
			f.online("alice")
			tc.setup(f)

			s, err := f.manager.Initiate("h-alice", "alice", domain.CallUserRequest{UserToCall: tc.to, CallType: domain.CallTypeAudio})

			assert.Nil(t, s)
			assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeUserOffline))
			assert.Equal(t, []string{"User is offline"}, callErrors(t, f, "h-alice"))
			assert.Equal(t, 0, f.manager.Len())
			assert.Equal(t, []apperrors.ErrorCode{apperrors.ErrCodeUserOffline}, f.observer.refused)

			// the refusal never schedules a ringing timer
			f.advance(t, ringTimeout, 0)
		})
	}
}

func TestInitiate_InvalidRequests(t *testing.T) {
	f := newFixture(t, true)
	f.online("alice", "bob")

	_, err := f.manager.Initiate("h-alice", "alice", domain.CallUserRequest{})
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeMissingField))

	_, err = f.manager.Initiate("h-alice", "alice", domain.CallUserRequest{UserToCall: "alice"})
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeValidation))

	_, err = f.manager.Initiate("h-alice", "alice", domain.CallUserRequest{UserToCall: "bob", CallType: "hologram"})
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeValidation))

	assert.Len(t, callErrors(t, f, "h-alice"), 3)
	assert.Equal(t, 0, f.manager.Len())
}

func TestInitiate_DefaultsToVideo(t *testing.T) {
	f := newFixture(t, true)
	f.online("alice", "bob")

	s, err := f.manager.Initiate("h-alice", "alice", domain.CallUserRequest{UserToCall: "bob"})

	require.NoError(t, err)
	assert.Equal(t, domain.CallTypeVideo, s.CallType)
}

func TestInitiate_SinglePairSession(t *testing.T) {
	f := newFixture(t, true)
	f.online("alice", "bob")

	f.call(t, "alice", "bob")

	_, err := f.manager.Initiate("h-alice", "alice", domain.CallUserRequest{UserToCall: "bob"})
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeCallInProgress))

	// reverse direction shares the pair slot
	_, err = f.manager.Initiate("h-bob", "bob", domain.CallUserRequest{UserToCall: "alice"})
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeCallInProgress))

	assert.Equal(t, 1, f.manager.Len())
	assert.Equal(t, 1, f.rec.Count("h-bob", domain.EventIncomingCall))
	assert.Equal(t, []string{"Call already in progress"}, callErrors(t, f, "h-alice"))
}

func TestAnswer_CancelsRingTimer(t *testing.T) {
	f := newFixture(t, true)
	f.online("alice", "bob")
	s := f.call(t, "alice", "bob")

	f.advance(t, 29*time.Second, 0)
	require.NoError(t, f.manager.Answer("bob", domain.AnswerCallRequest{To: "alice", Signal: json.RawMessage(`{"type":"answer"}`)}))

	msgs := f.rec.For("h-alice", domain.EventCallAccepted)
	require.Len(t, msgs, 1)
	var ca domain.CallAccepted
	require.NoError(t, msgs[0].Decode(&ca))
	assert.JSONEq(t, `{"type":"answer"}`, string(ca.Signal))

	f.advance(t, 6*time.Second, 0)
	assert.Zero(t, f.rec.Count("h-alice", domain.EventCallTimeout))
	assert.Zero(t, f.rec.Count("h-bob", domain.EventCallTimeout))

	got, ok := f.manager.SessionBetween("alice", "bob")
	require.True(t, ok)
	assert.Equal(t, s.CallID, got.CallID)
	assert.Equal(t, domain.CallStatusConnected, got.Status)
	require.NotNil(t, got.ConnectedAt)
}

func TestAnswer_StaleOrDuplicateDropped(t *testing.T) {
	f := newFixture(t, true)
	f.online("alice", "bob", "carol")

	// no session
	err := f.manager.Answer("bob", domain.AnswerCallRequest{To: "alice"})
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeCallNotFound))

	f.call(t, "alice", "bob")

	// caller cannot answer their own call
	err = f.manager.Answer("alice", domain.AnswerCallRequest{To: "bob"})
	assert.Error(t, err)

	require.NoError(t, f.manager.Answer("bob", domain.AnswerCallRequest{To: "alice"}))
	err = f.manager.Answer("bob", domain.AnswerCallRequest{To: "alice"})
	assert.Error(t, err)

	assert.Equal(t, 1, f.rec.Count("h-alice", domain.EventCallAccepted))
	assert.Len(t, f.observer.connected, 1)
	assert.Empty(t, callErrors(t, f, "h-bob"))
}

func TestReject(t *testing.T) {
	f := newFixture(t, true)
	f.online("alice", "bob")
	f.call(t, "alice", "bob")

	require.NoError(t, f.manager.Reject("bob", "alice"))

	assert.Equal(t, 1, f.rec.Count("h-alice", domain.EventCallRejected))
	assert.Nil(t, f.rec.For("h-alice", domain.EventCallRejected)[0].Data)
	assert.Equal(t, 0, f.manager.Len())
	require.Len(t, f.observer.ended, 1)
	assert.Equal(t, domain.EndReasonRejected, f.observer.ended[0].reason)

	f.advance(t, ringTimeout, 0)
	assert.Zero(t, f.rec.Count("h-alice", domain.EventCallTimeout))

	assert.Error(t, f.manager.Reject("bob", "alice"))
}

func TestRingTimeout_NotifiesBoth(t *testing.T) {
	f := newFixture(t, true)
	f.online("alice", "bob")
	s := f.call(t, "alice", "bob")

	f.advance(t, ringTimeout, 1)

	for _, h := range []string{"h-alice", "h-bob"} {
		msgs := f.rec.For(h, domain.EventCallTimeout)
		require.Len(t, msgs, 1, h)
		var ct domain.CallTimeout
		require.NoError(t, msgs[0].Decode(&ct))
		assert.Equal(t, s.CallID, ct.CallID)
	}
	assert.Equal(t, 0, f.manager.Len())
	require.Len(t, f.observer.ended, 1)
	assert.Equal(t, domain.EndReasonTimeout, f.observer.ended[0].reason)

	// pair is free again
	f.call(t, "bob", "alice")
}

func TestRingTimeout_StaleExpiryAfterNewSession(t *testing.T) {
	f := newFixture(t, true)
	f.online("alice", "bob")
	f.call(t, "alice", "bob")

	// timer fires but its callback is still queued when the call is rejected
	// and a new one starts
	f.clock.Add(ringTimeout)
	var stale func()
	select {
	case stale = <-f.fired:
	case <-time.After(time.Second):
		t.Fatal("ring timer did not fire")
	}
	require.NoError(t, f.manager.Reject("bob", "alice"))
	f.clock.Add(time.Millisecond)
	second := f.call(t, "alice", "bob")

	stale()

	got, ok := f.manager.SessionBetween("alice", "bob")
	require.True(t, ok)
	assert.Equal(t, second.CallID, got.CallID)
	assert.Zero(t, f.rec.Count("h-alice", domain.EventCallTimeout))
}

func TestDisconnect_SurvivorGetsExactlyOneCallEnded(t *testing.T) {
	f := newFixture(t, true)
	f.online("alice", "bob")
	f.call(t, "alice", "bob")
	require.NoError(t, f.manager.Answer("bob", domain.AnswerCallRequest{To: "alice"}))

	f.offline("alice")
	n := f.manager.Disconnect("alice")

	assert.Equal(t, 1, n)
	msgs := f.rec.For("h-bob", domain.EventCallEnded)
	require.Len(t, msgs, 1)
	var ce domain.CallEnded
	require.NoError(t, msgs[0].Decode(&ce))
	assert.Equal(t, "alice", ce.From)
	assert.Empty(t, ce.To)

	_, ok := f.manager.SessionBetween("alice", "bob")
	assert.False(t, ok)
	assert.Equal(t, 0, f.manager.Disconnect("alice"))
	assert.Equal(t, 1, f.rec.Count("h-bob", domain.EventCallEnded))
}

func TestDisconnect_EndsEverySessionOfUser(t *testing.T) {
	f := newFixture(t, true)
	f.online("admin", "u1", "u2")
	f.call(t, "u1", "admin")
	f.call(t, "u2", "admin")

	f.offline("admin")
	assert.Equal(t, 2, f.manager.Disconnect("admin"))

	assert.Equal(t, 1, f.rec.Count("h-u1", domain.EventCallEnded))
	assert.Equal(t, 1, f.rec.Count("h-u2", domain.EventCallEnded))
	assert.Equal(t, 0, f.manager.Len())

	f.advance(t, ringTimeout, 0)
}

func TestEnd_NotifiesPeer(t *testing.T) {
	f := newFixture(t, true)
	f.online("alice", "bob")
	f.call(t, "alice", "bob")
	require.NoError(t, f.manager.Answer("bob", domain.AnswerCallRequest{To: "alice"}))

	found := f.manager.End("bob", "h-bob", domain.EndCallRequest{To: "alice", From: "bob"})

	assert.True(t, found)
	msgs := f.rec.For("h-alice", domain.EventCallEnded)
	require.Len(t, msgs, 1)
	var ce domain.CallEnded
	require.NoError(t, msgs[0].Decode(&ce))
	assert.Equal(t, "bob", ce.From)
	assert.Equal(t, 0, f.manager.Len())
	require.Len(t, f.observer.ended, 1)
	assert.Equal(t, domain.EndReasonHangup, f.observer.ended[0].reason)
	assert.Equal(t, "bob", f.observer.ended[0].by)
}

func TestEnd_WhileRingingCancelsTimer(t *testing.T) {
	f := newFixture(t, true)
	f.online("alice", "bob")
	f.call(t, "alice", "bob")

	f.manager.End("alice", "h-alice", domain.EndCallRequest{To: "bob"})

	f.advance(t, ringTimeout, 0)
	assert.Zero(t, f.rec.Count("h-bob", domain.EventCallTimeout))
	assert.Equal(t, 1, f.rec.Count("h-bob", domain.EventCallEnded))
}

func TestEnd_FallbackBroadcast(t *testing.T) {
	f := newFixture(t, true)
	f.online("alice", "carol", "dave")

	found := f.manager.End("alice", "h-alice", domain.EndCallRequest{To: "bob", From: "alice"})

	assert.False(t, found)
	assert.Zero(t, f.rec.Count("h-alice", domain.EventCallEnded))
	for _, h := range []string{"h-carol", "h-dave"} {
		msgs := f.rec.For(h, domain.EventCallEnded)
		require.Len(t, msgs, 1)
		var ce domain.CallEnded
		require.NoError(t, msgs[0].Decode(&ce))
		assert.Equal(t, "alice", ce.From)
		assert.Equal(t, "bob", ce.To)
	}
}

func TestEnd_FallbackDisabled(t *testing.T) {
	f := newFixture(t, false)
	f.online("alice", "carol")

	f.manager.End("alice", "h-alice", domain.EndCallRequest{To: "bob"})

	assert.Empty(t, f.rec.Messages())
}

func TestRelayCandidate(t *testing.T) {
	f := newFixture(t, true)
	f.online("alice", "bob", "carol")

	// no session: dropped
	err := f.manager.RelayCandidate("carol", domain.IceCandidateRequest{To: "bob", Candidate: json.RawMessage(`"x"`)})
	assert.Error(t, err)
	assert.Zero(t, f.rec.Count("h-bob", domain.EventIceCandidate))

	f.call(t, "alice", "bob")
	for i := 0; i < 3; i++ {
		require.NoError(t, f.manager.RelayCandidate("alice", domain.IceCandidateRequest{To: "bob", Candidate: json.RawMessage(`{"candidate":"c"}`)}))
	}
	require.NoError(t, f.manager.RelayCandidate("bob", domain.IceCandidateRequest{To: "alice", Candidate: json.RawMessage(`{"candidate":"d"}`)}))

	msgs := f.rec.For("h-bob", domain.EventIceCandidate)
	require.Len(t, msgs, 3)
	var ic domain.IceCandidate
	require.NoError(t, msgs[0].Decode(&ic))
	assert.JSONEq(t, `{"candidate":"c"}`, string(ic.Candidate))
	assert.Equal(t, 1, f.rec.Count("h-alice", domain.EventIceCandidate))

	// peer went offline mid-call: silent drop, no error to sender
	f.offline("bob")
	assert.NoError(t, f.manager.RelayCandidate("alice", domain.IceCandidateRequest{To: "bob"}))
	assert.Empty(t, callErrors(t, f, "h-alice"))
}

func TestActiveSessions(t *testing.T) {
	f := newFixture(t, true)
	f.online("a", "b", "c", "d")
	first := f.call(t, "a", "b")
	f.clock.Add(time.Second)
	second := f.call(t, "c", "d")

	sessions := f.manager.ActiveSessions()

	require.Len(t, sessions, 2)
	assert.Equal(t, first.CallID, sessions[0].CallID)
	assert.Equal(t, second.CallID, sessions[1].CallID)
}

func TestShutdown(t *testing.T) {
	f := newFixture(t, true)
	f.online("a", "b")
	f.call(t, "a", "b")

	f.manager.Shutdown()

	assert.Equal(t, 0, f.manager.Len())
	require.Len(t, f.observer.ended, 1)
	assert.Equal(t, domain.EndReasonShutdown, f.observer.ended[0].reason)
	f.advance(t, ringTimeout, 0)
}
