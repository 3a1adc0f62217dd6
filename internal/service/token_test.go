package service

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/golang/mock/gomock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/pribylovaa/go-codeai/internal/models"
	"github.com/pribylovaa/go-codeai/internal/storage"
)

func testUser() *models.User {
	return &models.User{
		ID:          uuid.New(),
		Provider:    "github",
		ProviderID:  "12345",
		DisplayName: "octocat",
		CreatedAt:   time.Now().UTC(),
	}
}

func TestGenerateAccessToken_AndValidate_OK(t *testing.T) {
	svc, _, ctrl := newSvc(t, nil)
	defer ctrl.Finish()

	user := testUser()

	at, err := svc.generateAccessToken(user, time.Now().UTC())
	require.NoError(t, err)

	uid, name, err := svc.validateAccessToken(at)
	require.NoError(t, err)
	require.Equal(t, user.ID, uid)
	require.Equal(t, user.DisplayName, name)
}

func TestValidateAccessToken_WrongAlg_WrongIssuer_WrongAudience(t *testing.T) {
	svc, _, ctrl := newSvc(t, nil)
	defer ctrl.Finish()

	secret := []byte(testAuthCfg().JWTSecret)
	uid := uuid.New()
	now := time.Now().UTC()

	baseClaims := func() jwt.MapClaims {
		return jwt.MapClaims{
			"uid":  uid.String(),
			"name": "octocat",
			"iss":  testAuthCfg().Issuer,
			"sub":  uid.String(),
			"aud":  testAuthCfg().Audience,
			"exp":  now.Add(testAuthCfg().AccessTokenTTL).Unix(),
			"iat":  now.Unix(),
		}
	}

	t.Run("wrong alg", func(t *testing.T) {
		signed, err := jwt.NewWithClaims(jwt.SigningMethodHS512, baseClaims()).SignedString(secret)
		require.NoError(t, err)

		_, _, err = svc.validateAccessToken(signed)
		require.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("wrong issuer", func(t *testing.T) {
		claims := baseClaims()
		claims["iss"] = "another-issuer"
		signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
		require.NoError(t, err)

		_, _, err = svc.validateAccessToken(signed)
		require.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("wrong audience", func(t *testing.T) {
		claims := baseClaims()
		claims["aud"] = []string{"unexpected-aud"}
		signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
		require.NoError(t, err)

		_, _, err = svc.validateAccessToken(signed)
		require.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("wrong secret", func(t *testing.T) {
		signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, baseClaims()).SignedString([]byte("other-secret"))
		require.NoError(t, err)

		_, _, err = svc.validateAccessToken(signed)
		require.ErrorIs(t, err, ErrInvalidToken)
	})
}

func TestValidateAccessToken_Expired(t *testing.T) {
	svc, _, ctrl := newSvc(t, nil)
	defer ctrl.Finish()

	user := testUser()

	// Токен, выпущенный задолго в прошлом (за пределами leeway).
	at, err := svc.generateAccessToken(user, time.Now().UTC().Add(-24*time.Hour))
	require.NoError(t, err)

	_, _, err = svc.validateAccessToken(at)
	require.ErrorIs(t, err, ErrTokenExpired)
}

func TestGenerateRefreshToken_SavesHash(t *testing.T) {
	svc, d, ctrl := newSvc(t, nil)
	defer ctrl.Finish()

	ctx := context.Background()
	uid := uuid.New()

	var saved *models.RefreshToken
	d.storage.EXPECT().
		SaveRefreshToken(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, tok *models.RefreshToken) error {
			saved = tok
			return nil
		})

	plain, err := svc.generateRefreshToken(ctx, uid)
	require.NoError(t, err)
	require.NotEmpty(t, plain)

	require.NotNil(t, saved)
	require.Equal(t, uid, saved.UserID)
	require.False(t, saved.Revoked)
	// В БД уходит только хэш, не секрет.
	require.NotEqual(t, plain, saved.RefreshTokenHash)
	require.Equal(t, hashRefreshToken(plain), saved.RefreshTokenHash)
}

func TestGenerateRefreshToken_RetriesOnCollision(t *testing.T) {
	svc, d, ctrl := newSvc(t, nil)
	defer ctrl.Finish()

	gomock.InOrder(
		d.storage.EXPECT().
			SaveRefreshToken(gomock.Any(), gomock.Any()).
			Return(storage.ErrAlreadyExists),
		d.storage.EXPECT().
			SaveRefreshToken(gomock.Any(), gomock.Any()).
			Return(nil),
	)

	plain, err := svc.generateRefreshToken(context.Background(), uuid.New())
	require.NoError(t, err)
	require.NotEmpty(t, plain)
}

func TestValidateRefreshToken(t *testing.T) {
	svc, d, ctrl := newSvc(t, nil)
	defer ctrl.Finish()

	ctx := context.Background()
	uid := uuid.New()
	plain := "refresh-secret"
	hash := hashRefreshToken(plain)

	t.Run("ok", func(t *testing.T) {
		d.storage.EXPECT().
			RefreshTokenByHash(ctx, hash).
			Return(&models.RefreshToken{
				RefreshTokenHash: hash,
				UserID:           uid,
				ExpiresAt:        time.Now().UTC().Add(time.Hour),
			}, nil)

		tok, err := svc.validateRefreshToken(ctx, plain)
		require.NoError(t, err)
		require.Equal(t, uid, tok.UserID)
	})

	t.Run("not found", func(t *testing.T) {
		d.storage.EXPECT().
			RefreshTokenByHash(ctx, hash).
			Return(nil, storage.ErrNotFound)

		_, err := svc.validateRefreshToken(ctx, plain)
		require.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("revoked", func(t *testing.T) {
		d.storage.EXPECT().
			RefreshTokenByHash(ctx, hash).
			Return(&models.RefreshToken{
				RefreshTokenHash: hash,
				UserID:           uid,
				ExpiresAt:        time.Now().UTC().Add(time.Hour),
				Revoked:          true,
			}, nil)

		_, err := svc.validateRefreshToken(ctx, plain)
		require.ErrorIs(t, err, ErrTokenRevoked)
	})

	t.Run("expired", func(t *testing.T) {
		d.storage.EXPECT().
			RefreshTokenByHash(ctx, hash).
			Return(&models.RefreshToken{
				RefreshTokenHash: hash,
				UserID:           uid,
				ExpiresAt:        time.Now().UTC().Add(-time.Minute),
			}, nil)

		_, err := svc.validateRefreshToken(ctx, plain)
		require.ErrorIs(t, err, ErrTokenExpired)
	})
}
