package models

import (
	"time"

	"github.com/google/uuid"
)

// RefreshToken - данные refresh-токена для управления сессиями.
// В БД хранится только SHA-256 хэш секрета (base64url), сам секрет
// существует лишь на стороне клиента.
type RefreshToken struct {
	RefreshTokenHash string
	UserID           uuid.UUID
	CreatedAt        time.Time
	ExpiresAt        time.Time
	Revoked          bool
}
