package httpapi

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"lobbyhub/internal/lobby"
	"lobbyhub/internal/presence"
)

// Handler is the REST facade over the lobby registry: token issuance and
// room browsing/creation for clients that are not on the socket protocol.
type Handler struct {
	registry lobby.RoomRegistry
	users    lobby.UserRepository
	auth     *AuthService
	presence *presence.Tracker
	logger   *slog.Logger
}

func NewHandler(registry lobby.RoomRegistry, users lobby.UserRepository, auth *AuthService, tracker *presence.Tracker, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		registry: registry,
		users:    users,
		auth:     auth,
		presence: tracker,
		logger:   logger,
	}
}

// RegisterRoutes wires the API routes onto the engine.
func (h *Handler) RegisterRoutes(r *gin.Engine) {
	api := r.Group("/api")
	api.POST("/auth/guest", h.GuestLogin)

	authed := api.Group("", AuthMiddleware(h.auth))
	authed.GET("/rooms", h.ListRooms)
	authed.POST("/rooms", h.CreateRoom)
	authed.GET("/rooms/:id", h.GetRoom)
	authed.GET("/rooms/:id/members", h.ListMembers)
	authed.GET("/presence", h.Presence)
}

type guestLoginRequest struct {
	Username string `json:"username" binding:"required"`
	Nickname string `json:"nickname" binding:"required"`
}

type guestLoginResponse struct {
	Token    string `json:"token"`
	UserID   string `json:"user_id"`
	Nickname string `json:"nickname"`
}

// GuestLogin upserts the user row and hands back a signed guest token.
func (h *Handler) GuestLogin(c *gin.Context) {
	var req guestLoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "username and nickname are required"})
		return
	}

	user, err := h.users.EnsureUser(c.Request.Context(), req.Username, req.Nickname)
	if err != nil {
		h.logger.Error("guest_login_failed", "username", req.Username, "error", err.Error())
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not create user"})
		return
	}

	token, err := h.auth.IssueToken(user.ID, user.Username, user.Nickname)
	if err != nil {
		h.logger.Error("token_issue_failed", "user_id", user.ID, "error", err.Error())
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not issue token"})
		return
	}

	c.JSON(http.StatusOK, guestLoginResponse{
		Token:    token,
		UserID:   user.ID,
		Nickname: user.Nickname,
	})
}

// ListRooms returns the room catalog, newest first.
func (h *Handler) ListRooms(c *gin.Context) {
	rooms, err := h.registry.ListRooms(c.Request.Context())
	if err != nil {
		h.logger.Error("room_list_failed", "error", err.Error())
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not list rooms"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"rooms": rooms})
}

type createRoomRequest struct {
	RoomName   string `json:"room_name" binding:"required"`
	MaxPlayers int    `json:"max_players" binding:"required,min=1"`
}

// CreateRoom inserts a new room owned by the token's user.
func (h *Handler) CreateRoom(c *gin.Context) {
	var req createRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "room_name and max_players are required"})
		return
	}

	userID := c.GetString("userID")
	roomID, err := h.registry.CreateRoom(c.Request.Context(), req.RoomName, req.MaxPlayers, userID)
	if err != nil {
		h.logger.Error("room_create_failed", "user_id", userID, "error", err.Error())
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not create room"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"room_id": roomID})
}

// GetRoom returns a single room.
func (h *Handler) GetRoom(c *gin.Context) {
	roomID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid room id"})
		return
	}

	room, err := h.registry.GetRoom(c.Request.Context(), roomID)
	if errors.Is(err, lobby.ErrRoomNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "room not found"})
		return
	}
	if err != nil {
		h.logger.Error("room_get_failed", "room_id", roomID, "error", err.Error())
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not get room"})
		return
	}
	c.JSON(http.StatusOK, room)
}

// ListMembers returns the room's member nicknames by join time.
func (h *Handler) ListMembers(c *gin.Context) {
	roomID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid room id"})
		return
	}

	members, err := h.registry.ListMembers(c.Request.Context(), roomID)
	if errors.Is(err, lobby.ErrRoomNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "room not found"})
		return
	}
	if err != nil {
		h.logger.Error("member_list_failed", "room_id", roomID, "error", err.Error())
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not list members"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"members": members})
}

// Presence reports how many users are connected to the lobby server.
func (h *Handler) Presence(c *gin.Context) {
	count, err := h.presence.OnlineCount(c.Request.Context())
	if err != nil {
		h.logger.Error("presence_count_failed", "error", err.Error())
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not read presence"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"online": count})
}
