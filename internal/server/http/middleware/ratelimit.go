package middleware

import (
	"net"
	"net/http"

	"github.com/pribylovaa/go-codeai/internal/ratelimit"
	"github.com/pribylovaa/go-codeai/internal/server/http/httperr"
	"github.com/pribylovaa/go-codeai/internal/service"
)

// RateLimit — контроль допуска per-identity: id пользователя, если запрос
// аутентифицирован, иначе адрес клиента. Отказ — немедленный 429, без
// ожидания; вёдра пользователей независимы.
func RateLimit(l *ratelimit.Limiter) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := clientIP(r.RemoteAddr)
			if id, ok := IdentityFrom(r.Context()); ok {
				key = id.UserID.String()
			}

			if !l.Allow(key) {
				httperr.WriteError(w, r, service.ErrRateLimited)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func clientIP(remote string) string {
	host, _, err := net.SplitHostPort(remote)
	if err != nil {
		return remote
	}
	return host
}
