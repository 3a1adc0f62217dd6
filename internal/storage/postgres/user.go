package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/pribylovaa/go-codeai/internal/models"
	"github.com/pribylovaa/go-codeai/internal/storage"
)

// SaveUser создает нового пользователя в БД.
func (s *Storage) SaveUser(ctx context.Context, user *models.User) error {
	const op = "storage.postgres.SaveUser"

	query := `
        INSERT INTO users(id, provider, provider_id, display_name, created_at)
        VALUES ($1, $2, $3, $4, $5)
    `

	_, err := s.db.Exec(ctx, query,
		user.ID,
		user.Provider,
		user.ProviderID,
		user.DisplayName,
		user.CreatedAt,
	)

	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return fmt.Errorf("%s: %w", op, storage.ErrAlreadyExists)
		}

		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

// UserByProviderID находит пользователя по паре (провайдер, внешний subject).
func (s *Storage) UserByProviderID(ctx context.Context, provider, providerID string) (*models.User, error) {
	const op = "storage.postgres.UserByProviderID"

	query := `
        SELECT id, provider, provider_id, display_name, created_at
        FROM users
        WHERE provider = $1 AND provider_id = $2
    `

	var user models.User
	err := s.db.QueryRow(ctx, query, provider, providerID).Scan(
		&user.ID,
		&user.Provider,
		&user.ProviderID,
		&user.DisplayName,
		&user.CreatedAt,
	)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", op, storage.ErrNotFound)
		}

		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &user, nil
}

// UserByID находит пользователя по ID.
func (s *Storage) UserByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	const op = "storage.postgres.UserByID"

	query := `
        SELECT id, provider, provider_id, display_name, created_at
        FROM users
        WHERE id = $1
    `

	var user models.User
	err := s.db.QueryRow(ctx, query, id).Scan(
		&user.ID,
		&user.Provider,
		&user.ProviderID,
		&user.DisplayName,
		&user.CreatedAt,
	)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", op, storage.ErrNotFound)
		}

		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &user, nil
}
