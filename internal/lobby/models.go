package lobby

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// GameStatus values for a room.
const (
	StatusWaiting = "waiting"
	StatusPlaying = "playing"
)

type User struct {
	ID        string    `gorm:"primaryKey;type:uuid;column:user_id" json:"user_id"`
	Username  string    `gorm:"uniqueIndex;not null" json:"username"`
	Nickname  string    `gorm:"not null" json:"nickname"`
	CreatedAt time.Time `json:"created_at"`
}

// BeforeCreate hook to set UUID before creating a User
func (user *User) BeforeCreate(tx *gorm.DB) (err error) {
	if user.ID == "" {
		user.ID = uuid.New().String()
	}
	return
}

func (User) TableName() string {
	return "users"
}

type Room struct {
	ID             int64     `gorm:"primaryKey;autoIncrement;column:room_id" json:"room_id"`
	RoomName       string    `gorm:"not null" json:"room_name"`
	MaxPlayers     int       `gorm:"not null" json:"max_players"`
	CurrentPlayers int       `gorm:"not null;default:0" json:"current_players"`
	GameStatus     string    `gorm:"not null;default:'waiting'" json:"game_status"`
	CreatedBy      string    `gorm:"type:uuid;not null" json:"created_by"`
	CreatedAt      time.Time `gorm:"default:CURRENT_TIMESTAMP" json:"created_at"`
}

func (Room) TableName() string {
	return "rooms"
}

type RoomPlayer struct {
	RoomID   int64     `gorm:"not null;uniqueIndex:idx_room_players_room_user" json:"room_id"`
	UserID   string    `gorm:"type:uuid;not null;uniqueIndex:idx_room_players_room_user" json:"user_id"`
	JoinedAt time.Time `gorm:"default:CURRENT_TIMESTAMP" json:"joined_at"`

	// Associations
	Room *Room `gorm:"foreignKey:RoomID" json:"room,omitempty"`
	User *User `gorm:"foreignKey:UserID" json:"user,omitempty"`
}

func (RoomPlayer) TableName() string {
	return "room_players"
}
