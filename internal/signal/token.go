package signal

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// RoomClaims grant access to one room's topic.
type RoomClaims struct {
	Room string `json:"room"`
	jwt.RegisteredClaims
}

// RoomToken signs a token for room with secret. A zero ttl never expires.
func RoomToken(secret, room string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := RoomClaims{
		Room: room,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt: jwt.NewNumericDate(now),
			Subject:  room,
		},
	}
	if ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// ParseRoomToken verifies token against secret and returns its room.
func ParseRoomToken(secret, token string) (string, error) {
	var claims RoomClaims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if !parsed.Valid || claims.Room == "" {
		return "", ErrInvalidToken
	}
	return claims.Room, nil
}
