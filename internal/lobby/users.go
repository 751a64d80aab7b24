package lobby

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// UserRepository handles the username/nickname pass-through: the lobby keeps
// just enough user state for membership rows to resolve, nothing more.
type UserRepository interface {
	EnsureUser(ctx context.Context, username, nickname string) (*User, error)
	GetUser(ctx context.Context, userID string) (*User, error)
}

type userRepository struct {
	db *gorm.DB
}

func NewUserRepository(db *gorm.DB) UserRepository {
	return &userRepository{db: db}
}

// EnsureUser upserts the user row for a login, refreshing the nickname.
func (r *userRepository) EnsureUser(ctx context.Context, username, nickname string) (*User, error) {
	user := &User{
		Username: username,
		Nickname: nickname,
	}
	if err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "username"}},
			DoUpdates: clause.AssignmentColumns([]string{"nickname"}),
		}).
		Create(user).Error; err != nil {
		return nil, fmt.Errorf("ensure user %s: %w", username, err)
	}

	// The upsert does not report the surviving row's ID on conflict; read it back.
	if err := r.db.WithContext(ctx).
		First(user, "username = ?", username).Error; err != nil {
		return nil, fmt.Errorf("reload user %s: %w", username, err)
	}
	return user, nil
}

func (r *userRepository) GetUser(ctx context.Context, userID string) (*User, error) {
	var user User
	err := r.db.WithContext(ctx).First(&user, "user_id = ?", userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user %s: %w", userID, err)
	}
	return &user, nil
}
