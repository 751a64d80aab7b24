package server

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"lobbyhub/internal/protocol"
)

const MaxLineSize = 64 * 1024               // 64KB max wire line
const MaxDeadlineDuration = 5 * time.Minute // max idle read duration

// ClientConnection is the server-side peer of one lobby session.
type ClientConnection struct {
	ID      string // unique identifier = key in the manager map
	conn    net.Conn
	writer  *bufio.Writer
	writeMu sync.Mutex // single ordered stream, one in-flight write
	Manager *ConnectionManager
	Limiter *rate.Limiter // rate limiter on inbound messages

	// identity, set by the LOGIN handler
	UserID   string
	Username string
	Nickname string

	roomID atomic.Int64 // 0 while in the lobby
}

// constructor for ClientConnection
func NewClientConnection(conn net.Conn, manager *ConnectionManager) *ClientConnection {
	return &ClientConnection{
		ID:      uuid.NewString(),
		conn:    conn,
		writer:  bufio.NewWriter(conn),
		Manager: manager,
		Limiter: rate.NewLimiter(rate.Limit(10), 20), // 10 msgs/sec with burst of 20
	}
}

// Authenticated reports whether LOGIN has completed on this connection.
func (c *ClientConnection) Authenticated() bool {
	return c.UserID != ""
}

// RoomID returns the room this connection currently occupies, 0 for none.
func (c *ClientConnection) RoomID() int64 {
	return c.roomID.Load()
}

// SetRoomID records the room after a confirmed join/leave.
func (c *ClientConnection) SetRoomID(roomID int64) {
	c.roomID.Store(roomID)
}

// Listen runs the read loop until the stream closes or errors. Malformed
// lines are dropped; only transport failure ends the loop.
func (c *ClientConnection) Listen(handler *Handler) {
	defer c.conn.Close()
	reader := bufio.NewReaderSize(c.conn, MaxLineSize)

	c.Manager.logger.Info("client_started_listening",
		"client_id", c.ID,
		"remote_addr", c.conn.RemoteAddr().String(),
	)
	c.conn.SetReadDeadline(time.Now().Add(MaxDeadlineDuration))

	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			if errors.Is(err, io.EOF) {
				c.Manager.logger.Info("client_disconnected", "client_id", c.ID)
				break
			}
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				c.Manager.logger.Warn("client_read_timeout", "client_id", c.ID)
				break
			}
			if errors.Is(err, net.ErrClosed) ||
				strings.Contains(err.Error(), "closed network connection") ||
				strings.Contains(err.Error(), "connection reset") {
				break // expected during shutdown
			}
			c.Manager.logger.Error("client_read_error",
				"client_id", c.ID,
				"error", err,
			)
			break
		}

		// reset deadline on successful read
		c.conn.SetReadDeadline(time.Now().Add(MaxDeadlineDuration))

		if len(line) > MaxLineSize {
			c.Manager.logger.Warn("line_too_long",
				"client_id", c.ID,
				"size", len(line),
			)
			c.SendMessage(protocol.NewMessage(protocol.TypeError, "message too large"))
			continue
		}

		if !c.Limiter.Allow() {
			c.Manager.logger.Warn("rate_limit_exceeded", "client_id", c.ID)
			c.SendMessage(protocol.NewMessage(protocol.TypeError, "rate limit exceeded"))
			continue
		}

		msg, ok := protocol.Decode(line)
		if !ok {
			c.Manager.logger.Warn("invalid_line_received",
				"client_id", c.ID,
				"line", strings.TrimRight(line, "\r\n"),
			)
			c.SendMessage(protocol.NewMessage(protocol.TypeError, "malformed message"))
			continue
		}

		if stop := handler.HandleMessage(c, msg); stop {
			break
		}
	}

	handler.HandleGone(c)
}

// SendMessage encodes and writes one message to the client.
func (c *ClientConnection) SendMessage(msg protocol.Message) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if _, err := c.writer.WriteString(protocol.Encode(msg)); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	if err := c.writer.WriteByte('\n'); err != nil {
		return fmt.Errorf("failed to write newline: %w", err)
	}
	if err := c.writer.Flush(); err != nil {
		return fmt.Errorf("failed to flush writer: %w", err)
	}
	return nil
}

// Close closes the underlying transport.
func (c *ClientConnection) Close() {
	c.conn.Close()
}
