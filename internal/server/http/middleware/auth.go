package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/pribylovaa/go-codeai/internal/server/http/httperr"
	"github.com/pribylovaa/go-codeai/internal/service"
)

// Identity — аутентифицированный вызывающий.
type Identity struct {
	UserID uuid.UUID
	Name   string
}

type identityKey struct{}

// IdentityFrom достаёт аутентифицированную идентичность из контекста.
func IdentityFrom(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(Identity)
	return id, ok
}

// TokenValidator — минимальный контракт проверки access-токена.
type TokenValidator interface {
	ValidateToken(ctx context.Context, accessToken string) (uuid.UUID, string, error)
}

// Auth требует валидный Bearer access-токен и кладёт идентичность в контекст.
// Просроченный или битый токен — всегда 401, «анонимного» режима нет.
func Auth(v TokenValidator) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)
			if token == "" {
				httperr.WriteError(w, r, service.ErrInvalidToken)
				return
			}

			uid, name, err := v.ValidateToken(r.Context(), token)
			if err != nil {
				httperr.WriteError(w, r, err)
				return
			}

			ctx := context.WithValue(r.Context(), identityKey{}, Identity{UserID: uid, Name: name})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// bearerToken извлекает токен из Authorization: Bearer <...>.
func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")

	const prefix = "Bearer "
	if !strings.HasPrefix(auth, prefix) {
		return ""
	}

	return strings.TrimSpace(auth[len(prefix):])
}
