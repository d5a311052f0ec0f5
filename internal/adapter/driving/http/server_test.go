package http_test

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Wyydra/callsig/internal/adapter/driven/gateway/ws"
	"github.com/Wyydra/callsig/internal/adapter/driven/metrics"
	handler "github.com/Wyydra/callsig/internal/adapter/driving/http"
	"github.com/Wyydra/callsig/internal/config"
	"github.com/Wyydra/callsig/internal/core/domain"
	"github.com/Wyydra/callsig/internal/core/service"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testWS = config.WebSocketConfig{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	SendQueue:       16,
	MaxMessageBytes: 1 << 16,
	WriteWait:       time.Second,
	PongWait:        10 * time.Second,
}

func newServer(t *testing.T) *httptest.Server {
	t.Helper()
	l := zerolog.Nop()
	reg := prometheus.NewRegistry()
	m := metrics.NewPrometheus(reg)

	hub := ws.NewHub(l)
	presence := service.NewPresenceIndex()
	sessions := service.NewSessionStore(presence, l, service.WithSessionMetrics(m))
	dispatcher := service.NewDispatcher(
		service.NewConnectionRegistry(),
		presence,
		service.NewRoomManager(hub, l),
		sessions,
		hub,
		l,
		service.WithMetrics(m),
	)

	h := handler.NewHandler(dispatcher, hub, testWS, reg, l)
	srv := httptest.NewServer(h.NewRouter())
	t.Cleanup(func() {
		hub.Stop()
		srv.Close()
		sessions.Stop()
	})
	return srv
}

type frame struct {
	Event domain.EventName `json:"event"`
	Data  json.RawMessage  `json:"data"`
}

type peer struct {
	t    *testing.T
	conn *websocket.Conn
}

func dial(t *testing.T, srv *httptest.Server) *peer {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return &peer{t: t, conn: conn}
}

func (p *peer) send(name domain.EventName, data any) {
	p.t.Helper()
	require.NoError(p.t, p.conn.WriteJSON(map[string]any{"event": name, "data": data}))
}

// expect reads frames until one named name arrives and decodes its data into v.
func (p *peer) expect(name domain.EventName, v any) {
	p.t.Helper()
	require.NoError(p.t, p.conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		var f frame
		require.NoError(p.t, p.conn.ReadJSON(&f), "waiting for %s", name)
		if f.Event != name {
			continue
		}
		if v != nil {
			require.NoError(p.t, json.Unmarshal(f.Data, v))
		}
		return
	}
}

func (p *peer) announce(identity domain.Identity, role domain.Role) {
	p.t.Helper()
	p.send(domain.EventAnnounceIdentity, domain.AnnounceIdentity{Identity: identity, Role: role})
	p.expect(domain.EventIdentityAnnounced, nil)
}

func TestWebSocket_CallFlow(t *testing.T) {
	srv := newServer(t)
	alice, bob := dial(t, srv), dial(t, srv)
	alice.announce("alice", domain.RoleRequester)
	bob.announce("bob", domain.RoleProvider)

	alice.send(domain.EventCallInitiate, domain.CallInitiate{CallerID: "alice", ReceiverID: "bob"})

	var incoming domain.CallIncoming
	bob.expect(domain.EventCallIncoming, &incoming)
	assert.Equal(t, domain.Identity("alice"), incoming.CallerID)
	var ringing domain.CallRinging
	alice.expect(domain.EventCallRinging, &ringing)
	assert.Equal(t, incoming.CallID, ringing.CallID)

	bob.send(domain.EventCallResponse, domain.CallResponse{CallID: incoming.CallID, Accepted: true})
	alice.expect(domain.EventCallAccepted, nil)
	bob.expect(domain.EventCallAccepted, nil)

	alice.send(domain.EventJoinRoom, domain.JoinRoom{RoomName: incoming.RoomName})
	alice.expect(domain.EventRoomJoined, nil)
	bob.send(domain.EventJoinRoom, domain.JoinRoom{RoomName: incoming.RoomName})
	var joined domain.RoomJoined
	bob.expect(domain.EventRoomJoined, &joined)
	assert.Equal(t, []domain.Identity{"alice"}, joined.Peers)
	alice.expect(domain.EventPeerJoined, nil)

	bob.send(domain.EventEndCall, domain.EndCall{CallID: incoming.CallID})
	var ended domain.CallEnded
	alice.expect(domain.EventCallEnded, &ended)
	assert.Equal(t, domain.ReasonHangup, ended.Reason)
	bob.expect(domain.EventCallEnded, nil)

	resp, err := http.Get(srv.URL + "/api/calls/" + incoming.CallID.String())
	require.NoError(t, err)
	defer resp.Body.Close()
	var sess domain.CallSession
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&sess))
	assert.Equal(t, domain.StateEnded, sess.State)
}

func TestWebSocket_PeerDisconnectEndsCall(t *testing.T) {
	srv := newServer(t)
	alice, bob := dial(t, srv), dial(t, srv)
	alice.announce("alice", domain.RoleRequester)
	bob.announce("bob", domain.RoleProvider)

	alice.send(domain.EventCallInitiate, domain.CallInitiate{ReceiverID: "bob"})
	bob.expect(domain.EventCallIncoming, nil)

	require.NoError(t, bob.conn.Close())

	var ended domain.CallEnded
	alice.expect(domain.EventCallEnded, &ended)
	assert.Equal(t, domain.ReasonPeerDisconnected, ended.Reason)
}

func TestWebSocket_MalformedFrameKeepsConnection(t *testing.T) {
	srv := newServer(t)
	p := dial(t, srv)

	require.NoError(t, p.conn.WriteMessage(websocket.TextMessage, []byte("not json")))
	var e domain.ErrorData
	p.expect(domain.EventError, &e)
	assert.Equal(t, domain.CodeBadRequest, e.Code)

	p.announce("alice", domain.RoleRequester)
}

func TestWebSocket_ErrorEvent(t *testing.T) {
	srv := newServer(t)
	p := dial(t, srv)

	p.send(domain.EventCallInitiate, domain.CallInitiate{ReceiverID: "bob"})
	var e domain.ErrorData
	p.expect(domain.EventError, &e)
	assert.Equal(t, domain.CodeIdentityRequired, e.Code)
	assert.Equal(t, domain.EventCallInitiate, e.Event)

	p.announce("alice", domain.RoleRequester)
	p.send(domain.EventCallInitiate, domain.CallInitiate{ReceiverID: "bob"})
	var failed domain.CallFailed
	p.expect(domain.EventCallFailed, &failed)
	assert.Equal(t, domain.Identity("bob"), failed.ReceiverID)
}

func postCall(t *testing.T, srv *httptest.Server, body string) (*http.Response, []byte) {
	t.Helper()
	resp, err := http.Post(srv.URL+"/api/calls", "application/json", bytes.NewBufferString(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, data
}

func TestREST_CreateCall(t *testing.T) {
	srv := newServer(t)
	bob := dial(t, srv)
	bob.announce("bob", domain.RoleProvider)

	resp, body := postCall(t, srv, `{"callerId":"kiosk-7","receiverId":"bob","callerData":{"floor":3}}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))

	var created struct {
		CallID   domain.CallID   `json:"callId"`
		RoomName domain.RoomName `json:"roomName"`
	}
	require.NoError(t, json.Unmarshal(body, &created))
	assert.Equal(t, domain.RoomNameFor("kiosk-7", "bob", created.CallID), created.RoomName)

	var incoming domain.CallIncoming
	bob.expect(domain.EventCallIncoming, &incoming)
	assert.Equal(t, created.CallID, incoming.CallID)
	assert.JSONEq(t, `{"floor":3}`, string(incoming.Payload))

	getResp, err := http.Get(srv.URL + "/api/calls/" + created.CallID.String())
	require.NoError(t, err)
	defer getResp.Body.Close()
	assert.Equal(t, http.StatusOK, getResp.StatusCode)
	var sess domain.CallSession
	require.NoError(t, json.NewDecoder(getResp.Body).Decode(&sess))
	assert.Equal(t, domain.StateRinging, sess.State)
}

func TestREST_CreateCallErrors(t *testing.T) {
	srv := newServer(t)

	resp, body := postCall(t, srv, `{"callerId":"kiosk-7","receiverId":"bob"}`)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	var e struct {
		Error string `json:"error"`
		Code  string `json:"code"`
	}
	require.NoError(t, json.Unmarshal(body, &e))
	assert.Equal(t, domain.CodeReceiverUnreachable, e.Code)
	assert.Contains(t, e.Error, "receiver unreachable")

	resp, _ = postCall(t, srv, `{"callerId":`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = postCall(t, srv, `{"callerId":"kiosk-7"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	bob := dial(t, srv)
	bob.announce("bob", domain.RoleProvider)
	resp, body = postCall(t, srv, `{"callerId":"bob","receiverId":"bob"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode, string(body))

	for path, status := range map[string]int{
		"/api/calls/not-a-uuid":                     http.StatusBadRequest,
		"/api/calls/" + domain.NewCallID().String(): http.StatusNotFound,
	} {
		r, err := http.Get(srv.URL + path)
		require.NoError(t, err)
		r.Body.Close()
		assert.Equal(t, status, r.StatusCode, path)
	}
}

func TestREST_PresenceHealthMetrics(t *testing.T) {
	srv := newServer(t)
	bob := dial(t, srv)
	bob.announce("bob", domain.RoleProvider)

	var presence struct {
		Identity string `json:"identity"`
		Online   bool   `json:"online"`
	}
	for identity, online := range map[string]bool{"bob": true, "carol": false} {
		resp, err := http.Get(srv.URL + "/api/presence/" + identity)
		require.NoError(t, err)
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&presence))
		resp.Body.Close()
		assert.Equal(t, online, presence.Online, identity)
	}

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "callsig_connections_active 1")
	assert.Contains(t, string(body), `callsig_events_total{code="ok",event="announce-identity"} 1`)
}
