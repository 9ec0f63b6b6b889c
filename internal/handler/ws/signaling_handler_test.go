package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signaling-backend/internal/domain"
)

const testOrigin = "http://localhost:3000"

func newTestServer(t *testing.T, cfg HandlerConfig) (*httptest.Server, *SignalingHub) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	hub := NewSignalingHub(HubConfig{FallbackBroadcast: true}, HubDeps{})
	handler := NewSignalingHandler(hub, cfg)

	router := gin.New()
	router.GET("/ws", handler.ServeWS)
	srv := httptest.NewServer(router)

	t.Cleanup(func() {
		srv.Close()
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		hub.Stop(ctx)
	})
	return srv, hub
}

func dial(t *testing.T, srv *httptest.Server, origin string) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	header := http.Header{}
	if origin != "" {
		header.Set("Origin", origin)
	}
	return websocket.DefaultDialer.Dial(url, header)
}

func writeEvent(t *testing.T, conn *websocket.Conn, event string, data any) {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(domain.Envelope{Event: event, Data: raw}))
}

// readUntil reads frames until one carries event
func readUntil(t *testing.T, conn *websocket.Conn, event string) domain.Envelope {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		var env domain.Envelope
		require.NoError(t, conn.ReadJSON(&env))
		if env.Event == event {
			return env
		}
	}
}

func TestServeWS_EndToEndCall(t *testing.T) {
	srv, hub := newTestServer(t, HandlerConfig{AllowedOrigins: []string{testOrigin}})

	alice, _, err := dial(t, srv, testOrigin)
	require.NoError(t, err)
	defer alice.Close()
	bob, _, err := dial(t, srv, testOrigin)
	require.NoError(t, err)
	defer bob.Close()

	writeEvent(t, alice, domain.EventRegister, domain.RegisterRequest{UserID: "alice", Role: domain.RoleUser})
	readUntil(t, alice, domain.EventOnlineUsersList)
	writeEvent(t, bob, domain.EventRegister, domain.RegisterRequest{UserID: "bob", Role: domain.RoleAdmin})

	list := readUntil(t, bob, domain.EventOnlineUsersList)
	var ids []string
	require.NoError(t, json.Unmarshal(list.Data, &ids))
	assert.Equal(t, []string{"alice", "bob"}, ids)
	readUntil(t, alice, domain.EventUserOnlineStatus)

	writeEvent(t, alice, domain.EventCallUser, domain.CallUserRequest{
		UserToCall: "bob",
		Name:       "Alice",
		Signal:     json.RawMessage(`{"type":"offer","sdp":"v=0"}`),
		CallType:   domain.CallTypeVideo,
	})
	incoming := readUntil(t, bob, domain.EventIncomingCall)
	var ic domain.IncomingCall
	require.NoError(t, json.Unmarshal(incoming.Data, &ic))
	assert.Equal(t, "alice", ic.From)

	writeEvent(t, bob, domain.EventAnswerCall, domain.AnswerCallRequest{To: "alice", Signal: json.RawMessage(`{"type":"answer"}`)})
	accepted := readUntil(t, alice, domain.EventCallAccepted)
	var ca domain.CallAccepted
	require.NoError(t, json.Unmarshal(accepted.Data, &ca))
	assert.JSONEq(t, `{"type":"answer"}`, string(ca.Signal))

	require.NoError(t, alice.Close())
	ended := readUntil(t, bob, domain.EventCallEnded)
	var ce domain.CallEnded
	require.NoError(t, json.Unmarshal(ended.Data, &ce))
	assert.Equal(t, "alice", ce.From)

	assert.Eventually(t, func() bool {
		online, err := hub.OnlineUsers(context.Background())
		return err == nil && len(online) == 1 && online[0] == "bob"
	}, 2*time.Second, 10*time.Millisecond)
}

func TestServeWS_RejectsUnknownOrigin(t *testing.T) {
	srv, _ := newTestServer(t, HandlerConfig{AllowedOrigins: []string{testOrigin}})

	_, resp, err := dial(t, srv, "http://evil.example")
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	_, resp, err = dial(t, srv, "")
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestServeWS_ConnectionLimit(t *testing.T) {
	srv, _ := newTestServer(t, HandlerConfig{AllowedOrigins: []string{"*"}, MaxConnections: 1})

	first, _, err := dial(t, srv, testOrigin)
	require.NoError(t, err)
	defer first.Close()

	_, resp, err := dial(t, srv, testOrigin)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestServeWS_AuthRequired(t *testing.T) {
	srv, _ := newTestServer(t, HandlerConfig{AllowedOrigins: []string{"*"}, AuthRequired: true})

	_, resp, err := dial(t, srv, testOrigin)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}
