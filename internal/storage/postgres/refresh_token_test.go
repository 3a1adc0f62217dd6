package postgres

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/pribylovaa/go-codeai/internal/models"
	"github.com/pribylovaa/go-codeai/internal/storage"
)

func saveTestToken(t *testing.T, st *Storage, userID uuid.UUID, hash string, expiresAt time.Time) {
	t.Helper()

	now := time.Now().UTC()
	require.NoError(t, st.SaveRefreshToken(context.Background(), &models.RefreshToken{
		RefreshTokenHash: hash,
		UserID:           userID,
		CreatedAt:        now,
		ExpiresAt:        expiresAt,
	}))
}

// TestIntegration_SaveRefreshToken_And_GetByHash_OK — happy-path хранения токена.
func TestIntegration_SaveRefreshToken_And_GetByHash_OK(t *testing.T) {
	st, cleanup := startPostgres(t)
	defer cleanup()

	ctx := context.Background()
	u := newTestUser()
	require.NoError(t, st.SaveUser(ctx, u))

	expires := time.Now().UTC().Add(time.Hour)
	saveTestToken(t, st, u.ID, "hash-1", expires)

	got, err := st.RefreshTokenByHash(ctx, "hash-1")
	require.NoError(t, err)
	require.Equal(t, u.ID, got.UserID)
	require.False(t, got.Revoked)
	require.WithinDuration(t, expires, got.ExpiresAt, time.Second)

	_, err = st.RefreshTokenByHash(ctx, "no-such-hash")
	require.ErrorIs(t, err, storage.ErrNotFound)
}

// TestIntegration_SaveRefreshToken_DuplicateHash — повторная вставка того же
// хэша — ErrAlreadyExists (первичный ключ).
func TestIntegration_SaveRefreshToken_DuplicateHash(t *testing.T) {
	st, cleanup := startPostgres(t)
	defer cleanup()

	ctx := context.Background()
	u := newTestUser()
	require.NoError(t, st.SaveUser(ctx, u))

	saveTestToken(t, st, u.ID, "dup-hash", time.Now().UTC().Add(time.Hour))

	err := st.SaveRefreshToken(ctx, &models.RefreshToken{
		RefreshTokenHash: "dup-hash",
		UserID:           u.ID,
		CreatedAt:        time.Now().UTC(),
		ExpiresAt:        time.Now().UTC().Add(time.Hour),
	})
	require.ErrorIs(t, err, storage.ErrAlreadyExists)
}

// TestIntegration_RevokeRefreshTokenIfActive — три исхода условного отзыва.
func TestIntegration_RevokeRefreshTokenIfActive(t *testing.T) {
	st, cleanup := startPostgres(t)
	defer cleanup()

	ctx := context.Background()
	u := newTestUser()
	require.NoError(t, st.SaveUser(ctx, u))

	saveTestToken(t, st, u.ID, "active-hash", time.Now().UTC().Add(time.Hour))

	revoked, err := st.RevokeRefreshTokenIfActive(ctx, "active-hash")
	require.NoError(t, err)
	require.True(t, revoked)

	// Повторный отзыв того же токена — уже не победитель.
	revoked, err = st.RevokeRefreshTokenIfActive(ctx, "active-hash")
	require.NoError(t, err)
	require.False(t, revoked)

	// Неизвестный токен.
	_, err = st.RevokeRefreshTokenIfActive(ctx, "missing-hash")
	require.ErrorIs(t, err, storage.ErrNotFound)
}

// TestIntegration_RevokeRefreshToken_SingleWinner — конкурентные отзывы
// одного хэша: ровно один вызов получает (true, nil).
func TestIntegration_RevokeRefreshToken_SingleWinner(t *testing.T) {
	st, cleanup := startPostgres(t)
	defer cleanup()

	ctx := context.Background()
	u := newTestUser()
	require.NoError(t, st.SaveUser(ctx, u))

	saveTestToken(t, st, u.ID, "contended-hash", time.Now().UTC().Add(time.Hour))

	const workers = 16

	var winners int32
	var wg sync.WaitGroup
	start := make(chan struct{})

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start

			ok, err := st.RevokeRefreshTokenIfActive(ctx, "contended-hash")
			require.NoError(t, err)
			if ok {
				atomic.AddInt32(&winners, 1)
			}
		}()
	}

	close(start)
	wg.Wait()

	require.Equal(t, int32(1), atomic.LoadInt32(&winners))
}

// TestIntegration_DeleteExpiredTokens — janitor удаляет только просроченные.
func TestIntegration_DeleteExpiredTokens(t *testing.T) {
	st, cleanup := startPostgres(t)
	defer cleanup()

	ctx := context.Background()
	u := newTestUser()
	require.NoError(t, st.SaveUser(ctx, u))

	now := time.Now().UTC()
	saveTestToken(t, st, u.ID, "expired-hash", now.Add(-time.Minute))
	saveTestToken(t, st, u.ID, "live-hash", now.Add(time.Hour))

	require.NoError(t, st.DeleteExpiredTokens(ctx, now))

	_, err := st.RefreshTokenByHash(ctx, "expired-hash")
	require.ErrorIs(t, err, storage.ErrNotFound)

	_, err = st.RefreshTokenByHash(ctx, "live-hash")
	require.NoError(t, err)
}
