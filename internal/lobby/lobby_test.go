package lobby

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dialLobby(t *testing.T, srv *httptest.Server, playerID string) *websocket.Conn {
	t.Helper()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "?pid=" + playerID
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var msg Message
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func TestHub_JoinBroadcast(t *testing.T) {
	hub := NewHub(nil)
	srv := httptest.NewServer(hub)
	defer srv.Close()

	first := dialLobby(t, srv, "alice")

	// Alice should hear about Bob joining.
	dialLobby(t, srv, "bob")

	msg := readMessage(t, first)
	assert.Equal(t, "join", msg.Type)
	assert.Equal(t, "bob", msg.PlayerID)
}

func TestHub_RosterOnJoin(t *testing.T) {
	hub := NewHub(nil)
	srv := httptest.NewServer(hub)
	defer srv.Close()

	dialLobby(t, srv, "alice")

	// Bob joins second and should immediately learn that Alice is present.
	bob := dialLobby(t, srv, "bob")
	msg := readMessage(t, bob)
	assert.Equal(t, "join", msg.Type)
	assert.Equal(t, "alice", msg.PlayerID)
}

func TestHub_PositionRelay(t *testing.T) {
	hub := NewHub(nil)
	srv := httptest.NewServer(hub)
	defer srv.Close()

	alice := dialLobby(t, srv, "alice")
	bob := dialLobby(t, srv, "bob")

	// Drain the join notification Alice gets for Bob.
	readMessage(t, alice)

	require.NoError(t, bob.WriteJSON(Message{Type: "pos", X: 120, Y: 80}))

	msg := readMessage(t, alice)
	assert.Equal(t, "pos", msg.Type)
	assert.Equal(t, "bob", msg.PlayerID, "hub must stamp the sender's ID")
	assert.Equal(t, 120.0, msg.X)
	assert.Equal(t, 80.0, msg.Y)
}

func TestHub_LeaveBroadcastAndCount(t *testing.T) {
	hub := NewHub(nil)
	srv := httptest.NewServer(hub)
	defer srv.Close()

	alice := dialLobby(t, srv, "alice")
	bob := dialLobby(t, srv, "bob")
	readMessage(t, alice) // bob's join

	require.Eventually(t, func() bool { return hub.Count() == 2 },
		2*time.Second, 10*time.Millisecond)

	bob.Close()

	msg := readMessage(t, alice)
	assert.Equal(t, "leave", msg.Type)
	assert.Equal(t, "bob", msg.PlayerID)

	require.Eventually(t, func() bool { return hub.Count() == 1 },
		2*time.Second, 10*time.Millisecond)
}
