package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"lobbyhub/internal/lobby"
	"lobbyhub/internal/presence"
	"lobbyhub/internal/protocol"
)

// Handler implements the lobby flows on top of the registry. One handler is
// shared by all connections; per-connection state lives on ClientConnection.
type Handler struct {
	registry lobby.RoomRegistry
	users    lobby.UserRepository
	presence *presence.Tracker
	manager  *ConnectionManager
	logger   *slog.Logger
}

func NewHandler(registry lobby.RoomRegistry, users lobby.UserRepository, tracker *presence.Tracker, manager *ConnectionManager, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		registry: registry,
		users:    users,
		presence: tracker,
		manager:  manager,
		logger:   logger,
	}
}

// HandleMessage routes one decoded message. The returned bool asks the read
// loop to stop (client requested disconnect).
func (h *Handler) HandleMessage(c *ClientConnection, msg protocol.Message) bool {
	ctx := context.Background()

	switch msg.Type {
	case protocol.TypeLogin:
		h.handleLogin(ctx, c, msg.Payload)
	case protocol.TypeRoomListRequest:
		h.handleRoomList(ctx, c)
	case protocol.TypeRoomCreate:
		h.handleRoomCreate(ctx, c, msg.Payload)
	case protocol.TypeRoomJoin:
		h.handleRoomJoin(ctx, c, msg.Payload)
	case protocol.TypeRoomLeave:
		h.handleRoomLeave(ctx, c)
	case protocol.TypeChatMessage:
		h.handleChat(c, msg.Payload)
	case protocol.TypeDisconnect:
		return true
	default:
		// valid tag but not a client-to-server operation
		c.SendMessage(protocol.NewMessage(protocol.TypeError,
			fmt.Sprintf("unexpected message type %s", msg.Type)))
	}
	return false
}

func (h *Handler) handleLogin(ctx context.Context, c *ClientConnection, payload string) {
	fields := protocol.SplitFields(payload)
	if len(fields) != 2 || fields[0] == "" || fields[1] == "" {
		c.SendMessage(protocol.NewMessage(protocol.TypeLoginFailed, "login requires username and nickname"))
		return
	}
	username, nickname := fields[0], fields[1]

	user, err := h.users.EnsureUser(ctx, username, nickname)
	if err != nil {
		h.logger.Error("login_failed",
			"client_id", c.ID,
			"username", username,
			"error", err.Error(),
		)
		c.SendMessage(protocol.NewMessage(protocol.TypeLoginFailed, "internal error"))
		return
	}

	c.UserID = user.ID
	c.Username = user.Username
	c.Nickname = user.Nickname

	if err := h.presence.MarkOnline(ctx, user.ID, user.Nickname); err != nil {
		h.logger.Warn("presence_mark_online_failed",
			"user_id", user.ID,
			"error", err.Error(),
		)
	}

	h.logger.Info("user_logged_in",
		"client_id", c.ID,
		"user_id", user.ID,
		"username", user.Username,
	)
	c.SendMessage(protocol.NewMessage(protocol.TypeLoginSuccess,
		protocol.JoinFields(user.ID, user.Nickname)))
}

func (h *Handler) handleRoomList(ctx context.Context, c *ClientConnection) {
	rooms, err := h.registry.ListRooms(ctx)
	if err != nil {
		h.logger.Error("room_list_failed", "client_id", c.ID, "error", err.Error())
		c.SendMessage(protocol.NewMessage(protocol.TypeError, "could not list rooms"))
		return
	}

	entries := make([]string, 0, len(rooms))
	for _, room := range rooms {
		entries = append(entries, fmt.Sprintf("%d|%s|%d/%d|%s",
			room.ID, room.RoomName, room.CurrentPlayers, room.MaxPlayers, room.GameStatus))
	}
	c.SendMessage(protocol.NewMessage(protocol.TypeRoomListResponse,
		protocol.JoinGroups(entries...)))
}

func (h *Handler) handleRoomCreate(ctx context.Context, c *ClientConnection, payload string) {
	if !c.Authenticated() {
		c.SendMessage(protocol.NewMessage(protocol.TypeRoomCreateFailed, "not logged in"))
		return
	}

	fields := protocol.SplitFields(payload)
	if len(fields) != 2 || fields[0] == "" {
		c.SendMessage(protocol.NewMessage(protocol.TypeRoomCreateFailed, "create requires room name and max players"))
		return
	}
	maxPlayers, err := strconv.Atoi(fields[1])
	if err != nil || maxPlayers < 1 {
		c.SendMessage(protocol.NewMessage(protocol.TypeRoomCreateFailed, "invalid max players"))
		return
	}

	roomID, err := h.registry.CreateRoom(ctx, fields[0], maxPlayers, c.UserID)
	if err != nil {
		h.logger.Error("room_create_failed",
			"client_id", c.ID,
			"error", err.Error(),
		)
		c.SendMessage(protocol.NewMessage(protocol.TypeRoomCreateFailed, "internal error"))
		return
	}

	h.logger.Info("room_created",
		"room_id", roomID,
		"room_name", fields[0],
		"created_by", c.UserID,
	)
	c.SendMessage(protocol.NewMessage(protocol.TypeRoomCreateSuccess,
		fmt.Sprintf("%d|%s", roomID, fields[0])))
}

func (h *Handler) handleRoomJoin(ctx context.Context, c *ClientConnection, payload string) {
	if !c.Authenticated() {
		c.SendMessage(protocol.NewMessage(protocol.TypeRoomJoinFailed, "not logged in"))
		return
	}
	if c.RoomID() != 0 {
		c.SendMessage(protocol.NewMessage(protocol.TypeRoomJoinFailed, "already in a room"))
		return
	}

	roomID, err := strconv.ParseInt(payload, 10, 64)
	if err != nil {
		c.SendMessage(protocol.NewMessage(protocol.TypeRoomJoinFailed, "invalid room id"))
		return
	}

	switch err := h.registry.JoinRoom(ctx, roomID, c.UserID); {
	case errors.Is(err, lobby.ErrRoomNotFound):
		c.SendMessage(protocol.NewMessage(protocol.TypeRoomJoinFailed, "room not found"))
		return
	case errors.Is(err, lobby.ErrRoomFull):
		c.SendMessage(protocol.NewMessage(protocol.TypeRoomJoinFailed, "room is full"))
		return
	case errors.Is(err, lobby.ErrAlreadyMember):
		c.SendMessage(protocol.NewMessage(protocol.TypeRoomJoinFailed, "already in the room"))
		return
	case errors.Is(err, lobby.ErrAlreadyInRoom):
		c.SendMessage(protocol.NewMessage(protocol.TypeRoomJoinFailed, "already in a room"))
		return
	case err != nil:
		h.logger.Error("room_join_failed",
			"client_id", c.ID,
			"room_id", roomID,
			"error", err.Error(),
		)
		c.SendMessage(protocol.NewMessage(protocol.TypeRoomJoinFailed, "internal error"))
		return
	}

	c.SetRoomID(roomID)

	room, err := h.registry.GetRoom(ctx, roomID)
	roomName := ""
	if err == nil {
		roomName = room.RoomName
	}

	h.logger.Info("user_joined_room",
		"user_id", c.UserID,
		"room_id", roomID,
	)
	c.SendMessage(protocol.NewMessage(protocol.TypeRoomJoinSuccess,
		fmt.Sprintf("%d|%s", roomID, roomName)))

	h.manager.BroadcastToRoom(roomID,
		protocol.NewMessage(protocol.TypePlayerJoined, c.Nickname), c.ID)
	h.sendPlayerList(ctx, c, roomID)
}

func (h *Handler) sendPlayerList(ctx context.Context, c *ClientConnection, roomID int64) {
	members, err := h.registry.ListMembers(ctx, roomID)
	if err != nil {
		h.logger.Warn("player_list_failed",
			"room_id", roomID,
			"error", err.Error(),
		)
		return
	}
	c.SendMessage(protocol.NewMessage(protocol.TypePlayerList,
		protocol.JoinFields(members...)))
}

func (h *Handler) handleRoomLeave(ctx context.Context, c *ClientConnection) {
	roomID := c.RoomID()
	if roomID == 0 {
		c.SendMessage(protocol.NewMessage(protocol.TypeError, "not in a room"))
		return
	}

	switch err := h.registry.LeaveRoom(ctx, roomID, c.UserID); {
	case errors.Is(err, lobby.ErrMembershipNotFound):
		// registry and connection disagree; trust the registry
		c.SetRoomID(0)
		c.SendMessage(protocol.NewMessage(protocol.TypeError, "not a member of the room"))
		return
	case err != nil:
		h.logger.Error("room_leave_failed",
			"client_id", c.ID,
			"room_id", roomID,
			"error", err.Error(),
		)
		c.SendMessage(protocol.NewMessage(protocol.TypeError, "internal error"))
		return
	}

	c.SetRoomID(0)
	h.logger.Info("user_left_room",
		"user_id", c.UserID,
		"room_id", roomID,
	)
	c.SendMessage(protocol.NewMessage(protocol.TypeSystemMessage, "you left the room"))
	h.manager.BroadcastToRoom(roomID,
		protocol.NewMessage(protocol.TypePlayerLeft, c.Nickname), c.ID)
}

func (h *Handler) handleChat(c *ClientConnection, payload string) {
	roomID := c.RoomID()
	if roomID == 0 {
		c.SendMessage(protocol.NewMessage(protocol.TypeError, "not in a room"))
		return
	}

	// accept both "message" and "nickname|message"; the nickname is always
	// re-stamped from the connection so it cannot be spoofed. Only the first
	// field is stripped, delimiters inside the text itself survive.
	text := payload
	if fields := protocol.SplitFields(payload); len(fields) >= 2 {
		text = protocol.JoinFields(fields[1:]...)
	}

	h.manager.BroadcastToRoom(roomID,
		protocol.NewMessage(protocol.TypeChatMessage,
			protocol.JoinFields(c.Nickname, text)), "")
}

// HandleGone runs after the read loop ends, whatever the reason: membership
// is released, presence cleared, and the room notified.
func (h *Handler) HandleGone(c *ClientConnection) {
	ctx := context.Background()

	if roomID := c.RoomID(); roomID != 0 {
		if err := h.registry.LeaveRoom(ctx, roomID, c.UserID); err != nil &&
			!errors.Is(err, lobby.ErrMembershipNotFound) {
			h.logger.Error("leave_on_disconnect_failed",
				"user_id", c.UserID,
				"room_id", roomID,
				"error", err.Error(),
			)
		}
		c.SetRoomID(0)
		h.manager.BroadcastToRoom(roomID,
			protocol.NewMessage(protocol.TypePlayerLeft, c.Nickname), c.ID)
	}

	if c.Authenticated() {
		if err := h.presence.MarkOffline(ctx, c.UserID); err != nil {
			h.logger.Warn("presence_mark_offline_failed",
				"user_id", c.UserID,
				"error", err.Error(),
			)
		}
	}
}
