// Package http собирает REST-поверхность сервиса: роутер chi,
// цепочку middleware и регистрацию маршрутов.
package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/pribylovaa/go-codeai/internal/config"
	"github.com/pribylovaa/go-codeai/internal/ratelimit"
	"github.com/pribylovaa/go-codeai/internal/server/http/handlers"
	"github.com/pribylovaa/go-codeai/internal/server/http/middleware"
	"github.com/pribylovaa/go-codeai/internal/service"
)

// Options — параметры сборки HTTP-роутера.
type Options struct {
	Logger  *slog.Logger
	Timeout time.Duration
	AuthCfg config.AuthConfig
	Limiter *ratelimit.Limiter
}

// NewRouter собирает http.Handler с chi и подключёнными middleware/роутами.
func NewRouter(svc *service.Service, opts Options) http.Handler {
	root := chi.NewRouter()

	// Middleware (внешний -> внутренний).
	root.Use(
		middleware.Recover(),            // безопасно ловим паники
		middleware.RequestID(),          // формируем/прокидываем X-Request-Id (до логирования!)
		middleware.Logging(opts.Logger), // кладём request-scoped логгер в контекст и логируем
	)

	h := handlers.New(svc, opts.AuthCfg)

	// Публичные маршруты OAuth-обмена.
	root.Route("/auth", func(r chi.Router) {
		if opts.Timeout > 0 {
			r.Use(middleware.Timeout(opts.Timeout)) // общий дедлайн запроса
		}

		r.Get("/signin/{provider}", h.SignIn)
		r.Get("/callback/{provider}", h.Callback)
		r.Post("/refresh", h.Refresh)
		r.Post("/logout", h.Logout)
	})

	// Генерация — только с валидным access-токеном и в пределах квоты.
	root.Route("/code", func(r chi.Router) {
		r.Use(middleware.Auth(svc))
		r.Use(middleware.RateLimit(opts.Limiter))

		plain := r
		if opts.Timeout > 0 {
			plain = r.With(middleware.Timeout(opts.Timeout))
		}
		plain.Post("/autoComplete", h.Complete)
		plain.Post("/chat", h.Chat)
		plain.Post("/docs", h.Docs)

		// Стрим живёт столько, сколько отвечает backend: общий дедлайн
		// запроса оборвал бы долгий ответ кадром done, неотличимым
		// от успеха.
		r.Post("/chat/stream", h.ChatStream)
	})

	return root
}
