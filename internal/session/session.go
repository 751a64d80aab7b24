package session

import (
	"bufio"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"lobbyhub/internal/protocol"
)

const dialTimeout = 10 * time.Second

// ErrDisconnected is reported when Send is called on a closed session.
var ErrDisconnected = errors.New("session is disconnected")

// State is the session lifecycle. It only advances forward, except for the
// forced transition to StateDisconnected which is reachable from anywhere.
type State int32

const (
	StateConnecting State = iota
	StateAuthenticated
	StateInRoom
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "CONNECTING"
	case StateAuthenticated:
		return "AUTHENTICATED"
	case StateInRoom:
		return "IN_ROOM"
	case StateDisconnected:
		return "DISCONNECTED"
	default:
		return "UNKNOWN"
	}
}

// Identity is what the client presents at login.
type Identity struct {
	Username string
	Nickname string
	UserID   string // assigned by the server after LOGIN_SUCCESS
}

// MessageHandler receives every decoded inbound message. Handlers run
// synchronously on the receive goroutine, in registration order.
type MessageHandler func(msg protocol.Message)

type listenerEntry struct {
	id      int
	handler MessageHandler
}

// Session owns one client connection to the lobby server: a background
// receive loop, a mutex-serialized send path, and listener fan-out.
type Session struct {
	serverAddr string
	conn       net.Conn
	writer     *bufio.Writer
	writeMu    sync.Mutex // at most one in-flight write; the stream is a single ordered channel

	state atomic.Int32

	identity   Identity
	identityMu sync.RWMutex

	listeners  []listenerEntry
	nextListID int
	listenerMu sync.Mutex

	logger *slog.Logger
}

// NewSession creates a session for the given server address. Nothing is
// dialed until Connect.
func NewSession(serverAddr string) *Session {
	s := &Session{
		serverAddr: serverAddr,
		logger:     slog.Default(),
	}
	s.state.Store(int32(StateConnecting))
	return s
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	return State(s.state.Load())
}

// Identity returns the identity presented at login.
func (s *Session) Identity() Identity {
	s.identityMu.RLock()
	defer s.identityMu.RUnlock()
	return s.identity
}

// SetUserID records the server-assigned user id after LOGIN_SUCCESS.
func (s *Session) SetUserID(userID string) {
	s.identityMu.Lock()
	defer s.identityMu.Unlock()
	s.identity.UserID = userID
}

// MarkInRoom moves AUTHENTICATED -> IN_ROOM after a join confirmation.
func (s *Session) MarkInRoom() {
	s.state.CompareAndSwap(int32(StateAuthenticated), int32(StateInRoom))
}

// MarkInLobby moves IN_ROOM -> AUTHENTICATED after a leave confirmation.
func (s *Session) MarkInLobby() {
	s.state.CompareAndSwap(int32(StateInRoom), int32(StateAuthenticated))
}

// Connect opens the transport, immediately sends the LOGIN message carrying
// the identity, and starts the background receive loop. It does not wait for
// a server acknowledgement: state becomes AUTHENTICATED on local success.
func (s *Session) Connect(identity Identity) error {
	conn, err := net.DialTimeout("tcp", s.serverAddr, dialTimeout)
	if err != nil {
		return fmt.Errorf("connect to %s: %w", s.serverAddr, err)
	}

	s.conn = conn
	s.writer = bufio.NewWriter(conn)

	s.identityMu.Lock()
	s.identity = identity
	s.identityMu.Unlock()

	login, err := protocol.NewFieldMessage(protocol.TypeLogin, identity.Username, identity.Nickname)
	if err != nil {
		conn.Close()
		return fmt.Errorf("build login message: %w", err)
	}
	if err := s.writeLine(login); err != nil {
		conn.Close()
		return fmt.Errorf("send login: %w", err)
	}

	s.state.Store(int32(StateAuthenticated))
	go s.receiveLoop()

	s.logger.Info("session_connected",
		"server_addr", s.serverAddr,
		"username", identity.Username,
	)
	return nil
}

// Send serializes the message and writes it to the stream. Sending on a
// disconnected session is a no-op reported as ErrDisconnected.
func (s *Session) Send(msg protocol.Message) error {
	if s.State() == StateDisconnected {
		return ErrDisconnected
	}
	return s.writeLine(msg)
}

func (s *Session) writeLine(msg protocol.Message) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if s.writer == nil {
		return ErrDisconnected
	}
	if _, err := s.writer.WriteString(protocol.Encode(msg)); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	if err := s.writer.WriteByte('\n'); err != nil {
		return fmt.Errorf("failed to write newline: %w", err)
	}
	if err := s.writer.Flush(); err != nil {
		return fmt.Errorf("failed to flush writer: %w", err)
	}
	return nil
}

// AddListener registers a handler and returns its id for removal. Fan-out
// order is registration order.
func (s *Session) AddListener(handler MessageHandler) int {
	s.listenerMu.Lock()
	defer s.listenerMu.Unlock()

	s.nextListID++
	id := s.nextListID
	s.listeners = append(s.listeners, listenerEntry{id: id, handler: handler})
	return id
}

// RemoveListener removes the handler with the given id. Must not be called
// from inside a dispatch of the same event.
func (s *Session) RemoveListener(id int) {
	s.listenerMu.Lock()
	defer s.listenerMu.Unlock()

	for i, entry := range s.listeners {
		if entry.id == id {
			s.listeners = append(s.listeners[:i], s.listeners[i+1:]...)
			return
		}
	}
}

// receiveLoop runs on a dedicated goroutine for the lifetime of the session.
// A malformed line is dropped and the loop continues; only a transport-level
// read failure terminates it, triggering disconnect.
func (s *Session) receiveLoop() {
	reader := bufio.NewReader(s.conn)

	for s.State() != StateDisconnected {
		line, err := reader.ReadString('\n')
		if err != nil {
			if s.State() != StateDisconnected {
				s.logger.Info("session_stream_closed", "error", err.Error())
			}
			s.Disconnect()
			return
		}

		msg, ok := protocol.Decode(line)
		if !ok {
			s.logger.Warn("invalid_line_dropped", "line", line)
			continue
		}
		s.dispatch(msg)
	}
}

// dispatch invokes every listener in registration order. One listener's
// panic is caught and logged and does not stop the rest.
func (s *Session) dispatch(msg protocol.Message) {
	s.listenerMu.Lock()
	entries := make([]listenerEntry, len(s.listeners))
	copy(entries, s.listeners)
	s.listenerMu.Unlock()

	for _, entry := range entries {
		func() {
			defer func() {
				if r := recover(); r != nil {
					s.logger.Error("listener_panicked",
						"listener_id", entry.id,
						"message_type", string(msg.Type),
						"panic", fmt.Sprint(r),
					)
				}
			}()
			entry.handler(msg)
		}()
	}
}

// Disconnect is idempotent and safe to race with the receive loop's own
// failure-triggered disconnect: the atomic swap picks a single winner. State
// goes to DISCONNECTED first so the loop condition exits, then a best-effort
// DISCONNECT notice is sent, then the transport is closed.
func (s *Session) Disconnect() {
	old := State(s.state.Swap(int32(StateDisconnected)))
	if old == StateDisconnected {
		return
	}

	// Best effort; the peer may already be gone.
	_ = s.writeLine(protocol.NewMessage(protocol.TypeDisconnect, ""))

	if s.conn != nil {
		if err := s.conn.Close(); err != nil {
			s.logger.Warn("session_close_failed", "error", err.Error())
		}
	}

	s.logger.Info("session_disconnected", "server_addr", s.serverAddr)
}
