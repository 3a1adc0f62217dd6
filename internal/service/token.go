package service

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/pribylovaa/go-codeai/internal/models"
	"github.com/pribylovaa/go-codeai/internal/pkg/log"
	"github.com/pribylovaa/go-codeai/internal/storage"
)

type accessClaims struct {
	UserID string `json:"uid"`
	Name   string `json:"name"`
	jwt.RegisteredClaims
}

// generateAccessToken генерирует access-токен. Детерминирован относительно
// identity, времени и ключа подписи; никакого I/O.
func (s *Service) generateAccessToken(user *models.User, now time.Time) (string, error) {
	const op = "service.token.generateAccessToken"

	claims := accessClaims{
		UserID: user.ID.String(),
		Name:   user.DisplayName,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(s.authCfg.AccessTokenTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    s.authCfg.Issuer,
			Subject:   user.ID.String(),
			Audience:  jwt.ClaimStrings(s.authCfg.Audience),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(s.authCfg.JWTSecret))
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}

	return signed, nil
}

// validateAccessToken валидирует access-токен: чистая функция от токена,
// ключа и текущего времени. Просроченный или битый токен — всегда ошибка,
// никогда не «анонимный» вызов.
func (s *Service) validateAccessToken(tokenStr string) (uuid.UUID, string, error) {
	const op = "service.token.validateAccessToken"

	token, err := jwt.ParseWithClaims(tokenStr, &accessClaims{},
		func(t *jwt.Token) (interface{}, error) {
			if t.Method != jwt.SigningMethodHS256 {
				return nil, fmt.Errorf("%s: %w", op, ErrInvalidToken)
			}

			return []byte(s.authCfg.JWTSecret), nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithLeeway(5*time.Second),
		jwt.WithIssuer(s.authCfg.Issuer),
		jwt.WithAudience(s.authCfg.Audience...),
	)

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return uuid.Nil, "", fmt.Errorf("%s: %w", op, ErrTokenExpired)
		}

		return uuid.Nil, "", fmt.Errorf("%s: %w", op, ErrInvalidToken)
	}

	claims, ok := token.Claims.(*accessClaims)
	if !ok || !token.Valid {
		return uuid.Nil, "", fmt.Errorf("%s: %w", op, ErrInvalidToken)
	}

	uid, err := uuid.Parse(claims.UserID)
	if err != nil {
		return uuid.Nil, "", fmt.Errorf("%s: %w", op, ErrInvalidToken)
	}

	return uid, claims.Name, nil
}

// generateRefreshToken создает новый refresh-токен и сохраняет его хэш.
func (s *Service) generateRefreshToken(ctx context.Context, userID uuid.UUID) (string, error) {
	const (
		op          = "service.token.generateRefreshToken"
		maxAttempts = 5
	)

	lg := log.From(ctx)

	for attempt := 0; attempt < maxAttempts; attempt++ {
		b := make([]byte, 32)
		if _, err := rand.Read(b); err != nil {
			lg.Error("refresh_rand_failed",
				slog.String("op", op),
				slog.String("err", err.Error()),
			)
			return "", fmt.Errorf("%s: %w", op, err)
		}
		plain := base64.RawURLEncoding.EncodeToString(b)
		hash := hashRefreshToken(plain)

		now := time.Now().UTC()
		token := &models.RefreshToken{
			RefreshTokenHash: hash,
			UserID:           userID,
			CreatedAt:        now,
			ExpiresAt:        now.Add(s.authCfg.RefreshTokenTTL),
			Revoked:          false,
		}

		if err := s.storage.SaveRefreshToken(ctx, token); err != nil {
			if errors.Is(err, storage.ErrAlreadyExists) {
				// Редкая коллизия — пробуем сгенерировать заново.
				continue
			}

			lg.Error("save_refresh_token_failed",
				slog.String("op", op),
				slog.String("err", err.Error()),
			)
			return "", fmt.Errorf("%s: %w", op, err)
		}

		return plain, nil
	}

	lg.Error("refresh_collision_exceeded",
		slog.String("op", op),
	)

	return "", fmt.Errorf("%s: %w", op, ErrRefreshTokenCollision)
}

// validateRefreshToken валидирует refresh-токен по хэшу.
func (s *Service) validateRefreshToken(ctx context.Context, plain string) (*models.RefreshToken, error) {
	const op = "service.token.validateRefreshToken"

	lg := log.From(ctx)

	token, err := s.storage.RefreshTokenByHash(ctx, hashRefreshToken(plain))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			lg.Warn("refresh_lookup_not_found",
				slog.String("op", op),
			)
			return nil, fmt.Errorf("%s: %w", op, ErrInvalidToken)
		}

		lg.Error("refresh_lookup_failed",
			slog.String("op", op),
			slog.String("err", err.Error()),
		)
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if token.Revoked {
		lg.Warn("refresh_revoked",
			slog.String("op", op),
			slog.String("user_id", token.UserID.String()),
		)
		return nil, fmt.Errorf("%s: %w", op, ErrTokenRevoked)
	}

	if time.Now().UTC().After(token.ExpiresAt) {
		lg.Warn("refresh_expired",
			slog.String("op", op),
			slog.String("user_id", token.UserID.String()),
		)
		return nil, fmt.Errorf("%s: %w", op, ErrTokenExpired)
	}

	return token, nil
}

// hashRefreshToken — sha256(plain) → base64url; в БД хранится только хэш.
func hashRefreshToken(plain string) string {
	sum := sha256.Sum256([]byte(plain))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}
