package signal

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dkeye/WatchParty/internal/app"
	"github.com/dkeye/WatchParty/internal/app/orch"
	"github.com/dkeye/WatchParty/internal/core"
	"github.com/dkeye/WatchParty/internal/domain"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type wsEvent struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

func newTestServer(t *testing.T) (*httptest.Server, *orch.Orchestrator) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	rooms := app.NewRoomManager(nil, nil, app.RoomManagerConfig{})
	o := orch.NewOrchestrator(app.NewRegistry(), rooms, app.SimplePolicy{}, nil, domain.DefaultSettings())
	ctl := NewSignalWSController(o, Config{ChatLimit: 3, ChatWindow: time.Minute})

	ctx, cancel := context.WithCancel(context.Background())
	r := gin.New()
	r.Use(sessions.Sessions("test", cookie.NewStore([]byte("secret"))))
	r.Use(func(c *gin.Context) {
		c.Set("client_token", c.Query("ct"))
		c.Next()
	})
	r.GET("/ws", func(c *gin.Context) { ctl.HandleSignal(ctx, c) })

	srv := httptest.NewServer(r)
	t.Cleanup(func() {
		cancel()
		srv.Close()
	})
	return srv, o
}

func dial(t *testing.T, srv *httptest.Server, token string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?ct=" + token
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(v))
}

// expect reads until an event of typ arrives, failing on timeout.
func expect(t *testing.T, conn *websocket.Conn, typ string) wsEvent {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		require.NoError(t, conn.SetReadDeadline(deadline))
		var ev wsEvent
		require.NoError(t, conn.ReadJSON(&ev), "waiting for %s", typ)
		if ev.Type == typ {
			return ev
		}
	}
}

func createRoom(t *testing.T, conn *websocket.Conn) domain.RoomID {
	t.Helper()
	send(t, conn, map[string]any{
		"type":           "create-room",
		"name":           "Movie Night",
		"contentTitle":   "ShowX",
		"contentEpisode": "Ep1",
		"hostName":       "Alice",
	})
	var created core.RoomCreatedEvent
	require.NoError(t, json.Unmarshal(expect(t, conn, "room-created").Data, &created))
	expect(t, conn, "room-joined")
	return created.RoomID
}

func TestSignal_CreateJoinDisconnect(t *testing.T) {
	srv, o := newTestServer(t)
	alice := dial(t, srv, "alice")
	id := createRoom(t, alice)

	bob := dial(t, srv, "bob")
	send(t, bob, map[string]any{"type": "join-room", "roomId": string(id), "name": "Bob"})
	var snap core.Snapshot
	require.NoError(t, json.Unmarshal(expect(t, bob, "room-joined").Data, &snap))
	require.Len(t, snap.Participants, 2)
	assert.Equal(t, "Alice", snap.Participants[0].Name)
	assert.Equal(t, "Bob", snap.Participants[1].Name)

	var joined core.ParticipantEvent
	require.NoError(t, json.Unmarshal(expect(t, alice, "participant-joined").Data, &joined))
	assert.Equal(t, domain.ParticipantID("bob"), joined.Participant.ID)

	// Alice drops without saying goodbye; Bob inherits the room.
	require.NoError(t, alice.Close())
	var changed core.HostChangedEvent
	require.NoError(t, json.Unmarshal(expect(t, bob, "host-changed").Data, &changed))
	assert.Equal(t, domain.ParticipantID("bob"), changed.Host.ID)

	room, ok := o.Rooms.Get(id)
	require.True(t, ok)
	assert.Equal(t, 1, room.MemberCount())
}

func TestSignal_ChatAndPlayback(t *testing.T) {
	srv, _ := newTestServer(t)
	alice := dial(t, srv, "alice")
	id := createRoom(t, alice)
	bob := dial(t, srv, "bob")
	send(t, bob, map[string]any{"type": "join-room", "roomId": string(id), "name": "Bob"})
	expect(t, bob, "room-joined")

	send(t, bob, map[string]any{"type": "send-message", "content": "hello"})
	var msg domain.Message
	require.NoError(t, json.Unmarshal(expect(t, alice, "new-message").Data, &msg))
	assert.Equal(t, "hello", msg.Content)
	assert.Equal(t, "Bob", msg.AuthorName)

	send(t, alice, map[string]any{"type": "update-playback", "isPlaying": true, "currentTime": 12.5})
	var pb domain.PlaybackState
	require.NoError(t, json.Unmarshal(expect(t, bob, "playback-updated").Data, &pb))
	assert.True(t, pb.Playing)
	assert.Equal(t, 12.5, pb.Position)
}

func TestSignal_CreatePartialSettingsKeepsDefaults(t *testing.T) {
	srv, _ := newTestServer(t)
	alice := dial(t, srv, "alice")
	send(t, alice, map[string]any{
		"type":           "create-room",
		"name":           "Movie Night",
		"contentTitle":   "ShowX",
		"contentEpisode": "Ep1",
		"hostName":       "Alice",
		"settings":       map[string]any{"maxParticipants": 5},
	})
	var snap core.Snapshot
	require.NoError(t, json.Unmarshal(expect(t, alice, "room-joined").Data, &snap))
	assert.Equal(t, domain.Settings{SyncPlayback: true, AllowChat: true, MaxParticipants: 5}, snap.Room.Settings)

	send(t, alice, map[string]any{"type": "send-message", "content": "hello"})
	var msg domain.Message
	require.NoError(t, json.Unmarshal(expect(t, alice, "new-message").Data, &msg))
	assert.Equal(t, "hello", msg.Content)
}

func TestSignal_ChatRateLimit(t *testing.T) {
	srv, _ := newTestServer(t)
	alice := dial(t, srv, "alice")
	createRoom(t, alice)

	for i := 0; i < 3; i++ {
		send(t, alice, map[string]any{"type": "send-message", "content": "spam"})
		expect(t, alice, "new-message")
	}
	send(t, alice, map[string]any{"type": "send-message", "content": "spam"})
	var e core.ErrorEvent
	require.NoError(t, json.Unmarshal(expect(t, alice, "error").Data, &e))
	assert.Equal(t, "rate_limited", e.Error)
}

func TestSignal_Errors(t *testing.T) {
	srv, _ := newTestServer(t)
	conn := dial(t, srv, "carol")

	send(t, conn, map[string]any{"type": "join-room", "roomId": "missing", "name": "Carol"})
	var e core.ErrorEvent
	require.NoError(t, json.Unmarshal(expect(t, conn, "error").Data, &e))
	assert.Equal(t, "room_not_found", e.Error)

	send(t, conn, map[string]any{"type": "send-message", "content": "hi"})
	require.NoError(t, json.Unmarshal(expect(t, conn, "error").Data, &e))
	assert.Equal(t, "not_in_room", e.Error)

	send(t, conn, map[string]any{"type": "dance"})
	require.NoError(t, json.Unmarshal(expect(t, conn, "error").Data, &e))
	assert.Equal(t, "unknown_type", e.Error)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{not json")))
	require.NoError(t, json.Unmarshal(expect(t, conn, "error").Data, &e))
	assert.Equal(t, "bad_payload", e.Error)

	send(t, conn, map[string]any{"type": "ping"})
	expect(t, conn, "pong")
}

func TestSignal_WhoAmI(t *testing.T) {
	srv, _ := newTestServer(t)
	conn := dial(t, srv, "alice")
	id := createRoom(t, conn)

	send(t, conn, map[string]any{"type": "whoami"})
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var resp struct {
		Type     string `json:"type"`
		ID       string `json:"id"`
		Username string `json:"username"`
		Room     string `json:"room"`
		IsHost   bool   `json:"isHost"`
	}
	for resp.Type != "whoami" {
		require.NoError(t, conn.ReadJSON(&resp))
	}
	assert.Equal(t, "alice", resp.ID)
	assert.Equal(t, "Alice", resp.Username)
	assert.Equal(t, string(id), resp.Room)
	assert.True(t, resp.IsHost)
}

func TestSignal_KickClosesMembership(t *testing.T) {
	srv, o := newTestServer(t)
	alice := dial(t, srv, "alice")
	id := createRoom(t, alice)
	bob := dial(t, srv, "bob")
	send(t, bob, map[string]any{"type": "join-room", "roomId": string(id), "name": "Bob"})
	expect(t, bob, "room-joined")

	send(t, bob, map[string]any{"type": "kick-participant", "targetId": "alice"})
	var e core.ErrorEvent
	require.NoError(t, json.Unmarshal(expect(t, bob, "error").Data, &e))
	assert.Equal(t, "not_host", e.Error)

	send(t, alice, map[string]any{"type": "kick-participant", "targetId": "bob"})
	expect(t, bob, "kicked")
	expect(t, alice, "participant-kicked")

	room, ok := o.Rooms.Get(id)
	require.True(t, ok)
	assert.Equal(t, 1, room.MemberCount())
}
