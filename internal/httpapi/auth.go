package httpapi

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// AuthService issues and validates guest tokens. Identity is pass-through
// only: a token binds a user id, username and nickname, nothing more.
type AuthService struct {
	jwtSecret string
	expiry    time.Duration
}

func NewAuthService(jwtSecret string, expiry time.Duration) *AuthService {
	return &AuthService{jwtSecret: jwtSecret, expiry: expiry}
}

type GuestClaims struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	Nickname string `json:"nickname"`
	jwt.RegisteredClaims
}

// IssueToken signs a guest token for the given identity.
func (a *AuthService) IssueToken(userID, username, nickname string) (string, error) {
	now := time.Now()
	claims := GuestClaims{
		UserID:   userID,
		Username: username,
		Nickname: nickname,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(a.expiry)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(a.jwtSecret))
	if err != nil {
		return "", fmt.Errorf("sign guest token: %w", err)
	}
	return signed, nil
}

// ValidateToken parses and verifies a guest token.
func (a *AuthService) ValidateToken(tokenString string) (*GuestClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &GuestClaims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("invalid signing method")
		}
		return []byte(a.jwtSecret), nil
	})
	if err != nil || !token.Valid {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	claims, ok := token.Claims.(*GuestClaims)
	if !ok {
		return nil, errors.New("invalid token claims")
	}
	return claims, nil
}
