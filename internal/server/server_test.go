package server

import (
	"context"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lobbyhub/internal/lobby"
	"lobbyhub/internal/protocol"
	"lobbyhub/internal/session"
)

// End-to-end tests: real TCP, real client sessions, in-memory registry.

func startTestServer(t *testing.T) (*LobbyServer, *lobby.MemoryRegistry) {
	t.Helper()

	users := lobby.NewMemoryUserRepository()
	registry := lobby.NewMemoryRegistry(users)
	srv := NewLobbyServer("127.0.0.1:0", registry, users, nil, nil)

	go srv.Start()
	require.Eventually(t, func() bool {
		return srv.ListenAddr() != ""
	}, 2*time.Second, 10*time.Millisecond, "server should start")

	t.Cleanup(srv.Stop)
	return srv, registry
}

// testClient wraps a session and funnels every inbound message into a channel.
type testClient struct {
	sess  *session.Session
	msgCh chan protocol.Message
}

func connectClient(t *testing.T, addr, username, nickname string) *testClient {
	t.Helper()

	client := &testClient{
		sess:  session.NewSession(addr),
		msgCh: make(chan protocol.Message, 64),
	}
	client.sess.AddListener(func(msg protocol.Message) {
		client.msgCh <- msg
	})

	require.NoError(t, client.sess.Connect(session.Identity{
		Username: username,
		Nickname: nickname,
	}))
	t.Cleanup(client.sess.Disconnect)

	// every login is acknowledged before anything else happens
	msg := client.waitFor(t, protocol.TypeLoginSuccess)
	fields := protocol.SplitFields(msg.Payload)
	require.Len(t, fields, 2)
	client.sess.SetUserID(fields[0])
	return client
}

// waitFor blocks until a message of the wanted type arrives, failing the test
// on timeout. Other message types received meanwhile are discarded.
func (c *testClient) waitFor(t *testing.T, msgType protocol.MessageType) protocol.Message {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case msg := <-c.msgCh:
			if msg.Type == msgType {
				return msg
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s", msgType)
			return protocol.Message{}
		}
	}
}

func (c *testClient) expectNone(t *testing.T, msgType protocol.MessageType) {
	t.Helper()
	select {
	case msg := <-c.msgCh:
		if msg.Type == msgType {
			t.Fatalf("unexpected %s: %s", msg.Type, msg.Payload)
		}
	case <-time.After(150 * time.Millisecond):
	}
}

func createRoom(t *testing.T, c *testClient, name string, maxPlayers int) int64 {
	t.Helper()
	require.NoError(t, c.sess.Send(protocol.NewMessage(protocol.TypeRoomCreate,
		protocol.JoinFields(name, strconv.Itoa(maxPlayers)))))
	msg := c.waitFor(t, protocol.TypeRoomCreateSuccess)
	fields := protocol.SplitFields(msg.Payload)
	require.Len(t, fields, 2)
	roomID, err := strconv.ParseInt(fields[0], 10, 64)
	require.NoError(t, err)
	return roomID
}

func joinRoom(t *testing.T, c *testClient, roomID int64) {
	t.Helper()
	require.NoError(t, c.sess.Send(protocol.NewMessage(protocol.TypeRoomJoin,
		strconv.FormatInt(roomID, 10))))
	c.waitFor(t, protocol.TypeRoomJoinSuccess)
}

func TestLoginFlow(t *testing.T) {
	srv, _ := startTestServer(t)

	client := connectClient(t, srv.ListenAddr(), "alice", "Alice")
	assert.NotEmpty(t, client.sess.Identity().UserID)
	assert.Equal(t, session.StateAuthenticated, client.sess.State())
}

func TestLoginRejectsBadPayload(t *testing.T) {
	srv, _ := startTestServer(t)

	client := &testClient{
		sess:  session.NewSession(srv.ListenAddr()),
		msgCh: make(chan protocol.Message, 16),
	}
	client.sess.AddListener(func(msg protocol.Message) { client.msgCh <- msg })
	require.NoError(t, client.sess.Connect(session.Identity{Username: "alice", Nickname: "Alice"}))
	t.Cleanup(client.sess.Disconnect)
	client.waitFor(t, protocol.TypeLoginSuccess)

	// a second LOGIN with a missing nickname fails without killing the connection
	require.NoError(t, client.sess.Send(protocol.NewMessage(protocol.TypeLogin, "justausername")))
	msg := client.waitFor(t, protocol.TypeLoginFailed)
	assert.Contains(t, msg.Payload, "username and nickname")
}

func TestRoomCreateAndList(t *testing.T) {
	srv, _ := startTestServer(t)

	alice := connectClient(t, srv.ListenAddr(), "alice", "Alice")
	roomID := createRoom(t, alice, "Werewolf Night", 8)

	require.NoError(t, alice.sess.Send(protocol.NewMessage(protocol.TypeRoomListRequest, "")))
	msg := alice.waitFor(t, protocol.TypeRoomListResponse)

	groups := protocol.SplitGroups(msg.Payload)
	require.Len(t, groups, 1)
	assert.Equal(t, strconv.FormatInt(roomID, 10)+"|Werewolf Night|0/8|waiting", groups[0])
}

func TestJoinNotifiesRoomAndSendsPlayerList(t *testing.T) {
	srv, _ := startTestServer(t)

	alice := connectClient(t, srv.ListenAddr(), "alice", "Alice")
	roomID := createRoom(t, alice, "room", 4)
	joinRoom(t, alice, roomID)
	alice.waitFor(t, protocol.TypePlayerList)

	bob := connectClient(t, srv.ListenAddr(), "bob", "Bob")
	joinRoom(t, bob, roomID)

	list := bob.waitFor(t, protocol.TypePlayerList)
	assert.Equal(t, "Alice|Bob", list.Payload, "player list is ordered by join time")

	joined := alice.waitFor(t, protocol.TypePlayerJoined)
	assert.Equal(t, "Bob", joined.Payload)
}

func TestJoinFullRoom(t *testing.T) {
	srv, _ := startTestServer(t)

	alice := connectClient(t, srv.ListenAddr(), "alice", "Alice")
	bob := connectClient(t, srv.ListenAddr(), "bob", "Bob")
	carol := connectClient(t, srv.ListenAddr(), "carol", "Carol")

	roomID := createRoom(t, alice, "duo", 2)
	joinRoom(t, alice, roomID)
	joinRoom(t, bob, roomID)

	require.NoError(t, carol.sess.Send(protocol.NewMessage(protocol.TypeRoomJoin,
		strconv.FormatInt(roomID, 10))))
	failed := carol.waitFor(t, protocol.TypeRoomJoinFailed)
	assert.Equal(t, "room is full", failed.Payload)
}

func TestJoinUnknownRoom(t *testing.T) {
	srv, _ := startTestServer(t)

	alice := connectClient(t, srv.ListenAddr(), "alice", "Alice")
	require.NoError(t, alice.sess.Send(protocol.NewMessage(protocol.TypeRoomJoin, "999")))
	failed := alice.waitFor(t, protocol.TypeRoomJoinFailed)
	assert.Equal(t, "room not found", failed.Payload)
}

func TestChatRelaysToRoomWithServerStampedNickname(t *testing.T) {
	srv, _ := startTestServer(t)

	alice := connectClient(t, srv.ListenAddr(), "alice", "Alice")
	bob := connectClient(t, srv.ListenAddr(), "bob", "Bob")

	roomID := createRoom(t, alice, "room", 4)
	joinRoom(t, alice, roomID)
	joinRoom(t, bob, roomID)
	alice.waitFor(t, protocol.TypePlayerJoined)

	// bob claims to be Mallory; the server re-stamps the nickname
	require.NoError(t, bob.sess.Send(protocol.NewMessage(protocol.TypeChatMessage, "Mallory|hello")))

	msg := alice.waitFor(t, protocol.TypeChatMessage)
	assert.Equal(t, "Bob|hello", msg.Payload)
	msg = bob.waitFor(t, protocol.TypeChatMessage)
	assert.Equal(t, "Bob|hello", msg.Payload)

	// delimiters inside the text survive; only the nickname field is stripped
	require.NoError(t, bob.sess.Send(protocol.NewMessage(protocol.TypeChatMessage, "Mallory|hi|there")))
	msg = alice.waitFor(t, protocol.TypeChatMessage)
	assert.Equal(t, "Bob|hi|there", msg.Payload)
}

func TestChatOutsideRoomFails(t *testing.T) {
	srv, _ := startTestServer(t)

	alice := connectClient(t, srv.ListenAddr(), "alice", "Alice")
	require.NoError(t, alice.sess.Send(protocol.NewMessage(protocol.TypeChatMessage, "Alice|hi")))
	msg := alice.waitFor(t, protocol.TypeError)
	assert.Equal(t, "not in a room", msg.Payload)
}

func TestLeaveNotifiesRoom(t *testing.T) {
	srv, registry := startTestServer(t)

	alice := connectClient(t, srv.ListenAddr(), "alice", "Alice")
	bob := connectClient(t, srv.ListenAddr(), "bob", "Bob")

	roomID := createRoom(t, alice, "room", 4)
	joinRoom(t, alice, roomID)
	joinRoom(t, bob, roomID)
	alice.waitFor(t, protocol.TypePlayerJoined)

	require.NoError(t, bob.sess.Send(protocol.NewMessage(protocol.TypeRoomLeave, "")))
	left := alice.waitFor(t, protocol.TypePlayerLeft)
	assert.Equal(t, "Bob", left.Payload)

	room, err := registry.GetRoom(context.Background(), roomID)
	require.NoError(t, err)
	assert.Equal(t, 1, room.CurrentPlayers)
}

func TestDroppedConnectionReleasesMembership(t *testing.T) {
	srv, registry := startTestServer(t)

	alice := connectClient(t, srv.ListenAddr(), "alice", "Alice")
	bob := connectClient(t, srv.ListenAddr(), "bob", "Bob")

	roomID := createRoom(t, alice, "room", 4)
	joinRoom(t, alice, roomID)
	joinRoom(t, bob, roomID)
	alice.waitFor(t, protocol.TypePlayerJoined)

	// bob's client goes away without a ROOM_LEAVE
	bob.sess.Disconnect()

	left := alice.waitFor(t, protocol.TypePlayerLeft)
	assert.Equal(t, "Bob", left.Payload)

	require.Eventually(t, func() bool {
		room, err := registry.GetRoom(context.Background(), roomID)
		return err == nil && room.CurrentPlayers == 1
	}, 2*time.Second, 10*time.Millisecond, "membership must be released on disconnect")
}

func TestBadPayloadGetsErrorAndConnectionSurvives(t *testing.T) {
	srv, _ := startTestServer(t)

	alice := connectClient(t, srv.ListenAddr(), "alice", "Alice")

	require.NoError(t, alice.sess.Send(protocol.Message{Type: protocol.TypeLogin, Payload: ""}))
	alice.waitFor(t, protocol.TypeLoginFailed)

	// the connection still works afterwards
	require.NoError(t, alice.sess.Send(protocol.NewMessage(protocol.TypeRoomListRequest, "")))
	alice.waitFor(t, protocol.TypeRoomListResponse)
}

func TestServerStopNotifiesClients(t *testing.T) {
	users := lobby.NewMemoryUserRepository()
	registry := lobby.NewMemoryRegistry(users)
	srv := NewLobbyServer("127.0.0.1:0", registry, users, nil, nil)

	go srv.Start()
	require.Eventually(t, func() bool {
		return srv.ListenAddr() != ""
	}, 2*time.Second, 10*time.Millisecond)

	alice := connectClient(t, srv.ListenAddr(), "alice", "Alice")

	done := make(chan struct{})
	go func() {
		srv.Stop()
		close(done)
	}()

	msg := alice.waitFor(t, protocol.TypeSystemMessage)
	assert.Contains(t, msg.Payload, "shutting down")

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}

// The same user logged in over two connections still holds at most one
// membership: the registry enforces it, not just the per-connection guard.
func TestSameUserOnTwoConnectionsHoldsOneMembership(t *testing.T) {
	srv, registry := startTestServer(t)

	first := connectClient(t, srv.ListenAddr(), "alice", "Alice")
	second := connectClient(t, srv.ListenAddr(), "alice", "Alice")

	roomA := createRoom(t, first, "roomA", 4)
	roomB := createRoom(t, first, "roomB", 4)
	joinRoom(t, first, roomA)

	require.NoError(t, second.sess.Send(protocol.NewMessage(protocol.TypeRoomJoin,
		strconv.FormatInt(roomB, 10))))
	failed := second.waitFor(t, protocol.TypeRoomJoinFailed)
	assert.Equal(t, "already in a room", failed.Payload)

	require.NoError(t, second.sess.Send(protocol.NewMessage(protocol.TypeRoomJoin,
		strconv.FormatInt(roomA, 10))))
	failed = second.waitFor(t, protocol.TypeRoomJoinFailed)
	assert.Equal(t, "already in the room", failed.Payload)

	room, err := registry.GetRoom(context.Background(), roomB)
	require.NoError(t, err)
	assert.Equal(t, 0, room.CurrentPlayers)
}

func TestOversizedLineGetsErrorAndConnectionSurvives(t *testing.T) {
	srv, _ := startTestServer(t)

	alice := connectClient(t, srv.ListenAddr(), "alice", "Alice")

	huge := strings.Repeat("a", MaxLineSize+1)
	require.NoError(t, alice.sess.Send(protocol.NewMessage(protocol.TypeChatMessage, huge)))
	msg := alice.waitFor(t, protocol.TypeError)
	assert.Equal(t, "message too large", msg.Payload)

	// the connection still works afterwards
	require.NoError(t, alice.sess.Send(protocol.NewMessage(protocol.TypeRoomListRequest, "")))
	alice.waitFor(t, protocol.TypeRoomListResponse)
}

func TestJoinWhileAlreadyInRoom(t *testing.T) {
	srv, _ := startTestServer(t)

	alice := connectClient(t, srv.ListenAddr(), "alice", "Alice")
	first := createRoom(t, alice, "first", 4)
	second := createRoom(t, alice, "second", 4)
	joinRoom(t, alice, first)

	require.NoError(t, alice.sess.Send(protocol.NewMessage(protocol.TypeRoomJoin,
		strconv.FormatInt(second, 10))))
	failed := alice.waitFor(t, protocol.TypeRoomJoinFailed)
	assert.Equal(t, "already in a room", failed.Payload)
	alice.expectNone(t, protocol.TypeRoomJoinSuccess)
}
