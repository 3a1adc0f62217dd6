package storage

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/pribylovaa/go-codeai/internal/models"
)

var (
	// ErrNotFound — запись не найдена (пользователь/токен).
	ErrNotFound = errors.New("not found")
	// ErrAlreadyExists — нарушение уникальности (identity/refresh-token).
	ErrAlreadyExists = errors.New("already exists")
)

// UserStorage выполняет операции над пользователями.
type UserStorage interface {
	// SaveUser создает нового пользователя в БД.
	SaveUser(ctx context.Context, user *models.User) error
	// UserByProviderID находит пользователя по паре (провайдер, внешний subject).
	UserByProviderID(ctx context.Context, provider, providerID string) (*models.User, error)
	// UserByID находит пользователя по ID.
	UserByID(ctx context.Context, id uuid.UUID) (*models.User, error)
}

// RefreshTokenStorage выполняет операции над refresh-токенами.
type RefreshTokenStorage interface {
	// SaveRefreshToken сохраняет новый refresh-token в БД.
	SaveRefreshToken(ctx context.Context, token *models.RefreshToken) error
	// RefreshTokenByHash находит refresh-токен по его хэшу.
	RefreshTokenByHash(ctx context.Context, hash string) (*models.RefreshToken, error)
	// RevokeRefreshTokenIfActive пытается отозвать токен, если он ещё активен.
	// Среди конкурентных вызовов с одним hash ровно один получает (true, nil).
	RevokeRefreshTokenIfActive(ctx context.Context, hash string) (bool, error)
	// DeleteExpiredTokens удаляет все просроченные токены.
	DeleteExpiredTokens(ctx context.Context, now time.Time) error
}

// HistoryStorage ведёт append-only журнал обменов «запрос-ответ».
type HistoryStorage interface {
	// SaveHistory добавляет запись журнала.
	SaveHistory(ctx context.Context, rec *models.QueryHistory) error
}

// Storage задает контракт работы с БД.
type Storage interface {
	UserStorage
	RefreshTokenStorage
	HistoryStorage
	Close()
}
