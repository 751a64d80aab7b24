package lobby

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// uniqueViolation is the PostgreSQL error code for a unique constraint hit.
const uniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

// RoomRegistry is the durable room catalog. JoinRoom and LeaveRoom are
// transactional and capacity-bounded: both take a pessimistic lock on the
// room row for the duration of the call, so concurrent operations against the
// same room serialize while different rooms proceed independently.
type RoomRegistry interface {
	ListRooms(ctx context.Context) ([]Room, error)
	GetRoom(ctx context.Context, roomID int64) (*Room, error)
	CreateRoom(ctx context.Context, name string, maxPlayers int, createdBy string) (int64, error)
	JoinRoom(ctx context.Context, roomID int64, userID string) error
	LeaveRoom(ctx context.Context, roomID int64, userID string) error
	ListMembers(ctx context.Context, roomID int64) ([]string, error)
}

type roomRegistry struct {
	db *gorm.DB
}

// NewRoomRegistry creates the PostgreSQL-backed registry.
func NewRoomRegistry(db *gorm.DB) RoomRegistry {
	return &roomRegistry{db: db}
}

func (r *roomRegistry) ListRooms(ctx context.Context) ([]Room, error) {
	var rooms []Room
	if err := r.db.WithContext(ctx).
		Order("created_at DESC").
		Find(&rooms).Error; err != nil {
		return nil, fmt.Errorf("list rooms: %w", err)
	}
	return rooms, nil
}

func (r *roomRegistry) GetRoom(ctx context.Context, roomID int64) (*Room, error) {
	var room Room
	err := r.db.WithContext(ctx).First(&room, "room_id = ?", roomID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrRoomNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get room %d: %w", roomID, err)
	}
	return &room, nil
}

func (r *roomRegistry) CreateRoom(ctx context.Context, name string, maxPlayers int, createdBy string) (int64, error) {
	room := &Room{
		RoomName:   name,
		MaxPlayers: maxPlayers,
		GameStatus: StatusWaiting,
		CreatedBy:  createdBy,
	}
	if err := r.db.WithContext(ctx).Create(room).Error; err != nil {
		return 0, fmt.Errorf("create room: %w", err)
	}
	return room.ID, nil
}

// JoinRoom admits a user into a room. The room row is read under SELECT ... FOR
// UPDATE, the capacity check happens while the lock is held, and the membership
// insert plus counter increment commit together or not at all. The user row is
// locked too, so same-user joins against different rooms serialize and a user
// can never hold more than one membership row.
func (r *roomRegistry) JoinRoom(ctx context.Context, roomID int64, userID string) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var room Room
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&room, "room_id = ?", roomID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrRoomNotFound
		}
		if err != nil {
			return fmt.Errorf("lock room %d: %w", roomID, err)
		}

		var user User
		err = tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&user, "user_id = ?", userID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrUserNotFound
		}
		if err != nil {
			return fmt.Errorf("lock user %s: %w", userID, err)
		}

		var existing []RoomPlayer
		if err := tx.Where("user_id = ?", userID).
			Limit(1).Find(&existing).Error; err != nil {
			return fmt.Errorf("check membership of %s: %w", userID, err)
		}
		if len(existing) > 0 {
			if existing[0].RoomID == roomID {
				return ErrAlreadyMember
			}
			return ErrAlreadyInRoom
		}

		if room.CurrentPlayers >= room.MaxPlayers {
			return ErrRoomFull
		}

		member := &RoomPlayer{
			RoomID:   roomID,
			UserID:   userID,
			JoinedAt: time.Now().UTC(),
		}
		if err := tx.Create(member).Error; err != nil {
			if isUniqueViolation(err) {
				return ErrAlreadyMember
			}
			return fmt.Errorf("insert membership: %w", err)
		}

		if err := tx.Model(&Room{}).
			Where("room_id = ?", roomID).
			UpdateColumn("current_players", gorm.Expr("current_players + 1")).Error; err != nil {
			return fmt.Errorf("increment player count: %w", err)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrRoomNotFound) || errors.Is(err, ErrRoomFull) ||
			errors.Is(err, ErrAlreadyMember) || errors.Is(err, ErrAlreadyInRoom) ||
			errors.Is(err, ErrUserNotFound) {
			return err
		}
		return fmt.Errorf("join room %d: %w", roomID, err)
	}
	return nil
}

// LeaveRoom removes a membership as the atomic pair delete-if-exists /
// decrement-if-deleted. The room lock is taken first so racing leaves
// serialize, and the counter is guarded against going below zero.
func (r *roomRegistry) LeaveRoom(ctx context.Context, roomID int64, userID string) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var room Room
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&room, "room_id = ?", roomID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrMembershipNotFound
		}
		if err != nil {
			return fmt.Errorf("lock room %d: %w", roomID, err)
		}

		result := tx.Where("room_id = ? AND user_id = ?", roomID, userID).
			Delete(&RoomPlayer{})
		if result.Error != nil {
			return fmt.Errorf("delete membership: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return ErrMembershipNotFound
		}

		if err := tx.Model(&Room{}).
			Where("room_id = ? AND current_players > 0", roomID).
			UpdateColumn("current_players", gorm.Expr("current_players - 1")).Error; err != nil {
			return fmt.Errorf("decrement player count: %w", err)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrMembershipNotFound) {
			return err
		}
		return fmt.Errorf("leave room %d: %w", roomID, err)
	}
	return nil
}

func (r *roomRegistry) ListMembers(ctx context.Context, roomID int64) ([]string, error) {
	var nicknames []string
	if err := r.db.WithContext(ctx).
		Table("room_players").
		Select("users.nickname").
		Joins("JOIN users ON users.user_id = room_players.user_id").
		Where("room_players.room_id = ?", roomID).
		Order("room_players.joined_at ASC").
		Scan(&nicknames).Error; err != nil {
		return nil, fmt.Errorf("list members of room %d: %w", roomID, err)
	}
	return nicknames, nil
}
