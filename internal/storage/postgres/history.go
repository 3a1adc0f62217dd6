package postgres

import (
	"context"
	"fmt"

	"github.com/pribylovaa/go-codeai/internal/models"
)

// SaveHistory добавляет запись журнала обменов.
func (s *Storage) SaveHistory(ctx context.Context, rec *models.QueryHistory) error {
	const op = "storage.postgres.SaveHistory"

	query := `
        INSERT INTO query_history(id, user_id, prompt, response, created_at)
        VALUES ($1, $2, $3, $4, $5)
    `

	_, err := s.db.Exec(ctx, query,
		rec.ID,
		rec.UserID,
		rec.Prompt,
		rec.Response,
		rec.CreatedAt,
	)

	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}
