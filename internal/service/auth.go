package service

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/pribylovaa/go-codeai/internal/cache"
	"github.com/pribylovaa/go-codeai/internal/models"
	"github.com/pribylovaa/go-codeai/internal/pkg/log"
	"github.com/pribylovaa/go-codeai/internal/storage"
)

// stateTTL — время жизни одноразового state внешнего входа.
const stateTTL = 5 * time.Minute

// BeginSignIn стартует внешний вход: сохраняет одноразовый state вместе с
// конечным redirect (для десктоп-клиента) и возвращает адрес страницы
// согласия провайдера.
func (s *Service) BeginSignIn(ctx context.Context, provider, redirectURI string) (string, error) {
	const op = "service.auth.BeginSignIn"

	if provider != s.provider.Name() {
		return "", fmt.Errorf("%s: %w", op, ErrExternalAuth)
	}

	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	state := base64.RawURLEncoding.EncodeToString(b)

	err := s.states.SaveState(ctx, state, cache.StatePayload{
		Provider:    provider,
		RedirectURI: redirectURI,
	}, stateTTL)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}

	return s.provider.AuthorizeURL(state), nil
}

// CompleteSignIn завершает внешний вход по callback-у провайдера:
// гасит state, меняет код на подтверждённую личность, находит или создаёт
// пользователя и выпускает пару токенов. Любой отказ провайдера — 401,
// identity не создаётся.
//
// Возвращает пару токенов и конечный redirect, запрошенный на старте
// (пустой для браузерного входа).
func (s *Service) CompleteSignIn(ctx context.Context, provider, code, state string) (*models.TokenPair, string, error) {
	const op = "service.auth.CompleteSignIn"

	lg := log.From(ctx)

	payload, err := s.states.TakeState(ctx, state)
	if err != nil {
		if errors.Is(err, cache.ErrStateNotFound) {
			lg.Warn("signin_state_missing", slog.String("op", op))
			return nil, "", fmt.Errorf("%s: %w", op, ErrExternalAuth)
		}

		return nil, "", fmt.Errorf("%s: %w", op, err)
	}

	if payload.Provider != provider || provider != s.provider.Name() || code == "" {
		return nil, "", fmt.Errorf("%s: %w", op, ErrExternalAuth)
	}

	ident, err := s.provider.Exchange(ctx, code)
	if err != nil {
		lg.Warn("signin_exchange_failed",
			slog.String("op", op),
			slog.String("err", err.Error()),
		)
		return nil, "", fmt.Errorf("%s: %w", op, ErrExternalAuth)
	}

	user, err := s.resolveOrCreateUser(ctx, provider, ident.Subject, ident.DisplayName)
	if err != nil {
		return nil, "", fmt.Errorf("%s: %w", op, err)
	}

	pair, _, err := s.issueTokenPair(ctx, user, "")
	if err != nil {
		return nil, "", fmt.Errorf("%s: %w", op, err)
	}

	return pair, payload.RedirectURI, nil
}

// resolveOrCreateUser находит пользователя по (provider, subject) либо
// создаёт нового. Гонка конкурентных callback-ов разрешается повторным
// поиском после ErrAlreadyExists: identity создаётся ровно один раз.
func (s *Service) resolveOrCreateUser(ctx context.Context, provider, subject, displayName string) (*models.User, error) {
	const op = "service.auth.resolveOrCreateUser"

	user, err := s.storage.UserByProviderID(ctx, provider, subject)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	user = &models.User{
		ID:          uuid.New(),
		Provider:    provider,
		ProviderID:  subject,
		DisplayName: displayName,
		CreatedAt:   time.Now().UTC(),
	}

	if err := s.storage.SaveUser(ctx, user); err != nil {
		if errors.Is(err, storage.ErrAlreadyExists) {
			user, err = s.storage.UserByProviderID(ctx, provider, subject)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", op, err)
			}
			return user, nil
		}

		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return user, nil
}

// RefreshToken обновляет пару токенов по refresh-токену. Ротация одноразовая:
// старый секрет гасится атомарно, повторное предъявление всегда отклоняется.
func (s *Service) RefreshToken(ctx context.Context, refreshToken string) (*models.TokenPair, uuid.UUID, error) {
	const op = "service.auth.RefreshToken"

	token, err := s.validateRefreshToken(ctx, refreshToken)
	if err != nil {
		return nil, uuid.Nil, fmt.Errorf("%s: %w", op, err)
	}

	user, err := s.storage.UserByID(ctx, token.UserID)
	if err != nil {
		return nil, uuid.Nil, fmt.Errorf("%s: %w", op, err)
	}

	return s.issueTokenPair(ctx, user, hashRefreshToken(refreshToken))
}

// RevokeToken отзывает refresh-токен (logout). Уже отозванный или
// неизвестный токен — не ошибка: logout идемпотентен.
func (s *Service) RevokeToken(ctx context.Context, refreshToken string) error {
	const op = "service.auth.RevokeToken"

	_, err := s.storage.RevokeRefreshTokenIfActive(ctx, hashRefreshToken(refreshToken))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil
		}

		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

// ValidateToken проверяет access-токен и возвращает id и имя пользователя.
func (s *Service) ValidateToken(ctx context.Context, accessToken string) (uuid.UUID, string, error) {
	const op = "service.auth.ValidateToken"

	uid, name, err := s.validateAccessToken(accessToken)
	if err != nil {
		return uuid.Nil, "", fmt.Errorf("%s: %w", op, err)
	}

	return uid, name, nil
}

// issueTokenPair выпускает новую пару access+refresh токенов.
// Если oldRefreshHash != "", сначала атомарно отзывает старый refresh-токен:
// из конкурентных ротаций одного секрета выигрывает ровно одна, остальные
// получают ErrTokenRevoked/ErrInvalidToken.
func (s *Service) issueTokenPair(ctx context.Context, user *models.User, oldRefreshHash string) (*models.TokenPair, uuid.UUID, error) {
	const op = "service.auth.issueTokenPair"

	now := time.Now().UTC()

	accessToken, err := s.generateAccessToken(user, now)
	if err != nil {
		return nil, uuid.Nil, fmt.Errorf("%s: %w", op, err)
	}

	if oldRefreshHash != "" {
		revoked, err := s.storage.RevokeRefreshTokenIfActive(ctx, oldRefreshHash)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return nil, uuid.Nil, fmt.Errorf("%s: %w", op, ErrInvalidToken)
			}

			return nil, uuid.Nil, fmt.Errorf("%s: %w", op, err)
		}

		if !revoked {
			return nil, uuid.Nil, fmt.Errorf("%s: %w", op, ErrTokenRevoked)
		}
	}

	plain, err := s.generateRefreshToken(ctx, user.ID)
	if err != nil {
		return nil, uuid.Nil, fmt.Errorf("%s: %w", op, err)
	}

	return &models.TokenPair{
		AccessToken:     accessToken,
		RefreshToken:    plain,
		AccessExpiresAt: now.Add(s.authCfg.AccessTokenTTL),
	}, user.ID, nil
}
