package handlers

import (
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/pribylovaa/go-codeai/internal/models"
	"github.com/pribylovaa/go-codeai/internal/pkg/log"
	"github.com/pribylovaa/go-codeai/internal/server/http/httperr"
	"github.com/pribylovaa/go-codeai/internal/service"
)

// tokenResponse — тело ответа на успешный вход/ротацию.
type tokenResponse struct {
	Token string `json:"token"`
}

// SignIn — GET /auth/signin/{provider}.
//
// Формирует authorize-URL внешнего провайдера и перенаправляет
// браузер на него. Необязательный query-параметр redirectUri
// сохраняется вместе с one-time state и возвращается в Callback.
func (h *Handlers) SignIn(w http.ResponseWriter, r *http.Request) {
	provider := chi.URLParam(r, "provider")
	redirectURI := r.URL.Query().Get("redirectUri")

	authorizeURL, err := h.svc.BeginSignIn(r.Context(), provider, redirectURI)
	if err != nil {
		httperr.WriteError(w, r, err)
		return
	}

	http.Redirect(w, r, authorizeURL, http.StatusFound)
}

// Callback — GET /auth/callback/{provider}.
//
// Завершает OAuth-обмен: проверяет state, меняет code на профиль
// пользователя и выпускает пару токенов. Refresh-токен уходит в
// HttpOnly-cookie; access-токен — либо в redirectUri десктопного
// клиента, либо в JSON-теле.
func (h *Handlers) Callback(w http.ResponseWriter, r *http.Request) {
	provider := chi.URLParam(r, "provider")
	code := r.URL.Query().Get("code")
	state := r.URL.Query().Get("state")

	pair, redirectURI, err := h.svc.CompleteSignIn(r.Context(), provider, code, state)
	if err != nil {
		httperr.WriteError(w, r, err)
		return
	}

	h.setRefreshCookie(w, pair)

	if redirectURI != "" {
		target, perr := url.Parse(redirectURI)
		if perr != nil {
			log.From(r.Context()).Warn("invalid redirectUri after sign-in", "error", perr)
			writeJSON(w, http.StatusOK, tokenResponse{Token: pair.AccessToken})
			return
		}

		query := target.Query()
		query.Set("token", pair.AccessToken)
		query.Set("refresh", pair.RefreshToken)
		target.RawQuery = query.Encode()

		http.Redirect(w, r, target.String(), http.StatusFound)
		return
	}

	writeJSON(w, http.StatusOK, tokenResponse{Token: pair.AccessToken})
}

// Refresh — POST /auth/refresh.
//
// Читает refresh-токен из cookie, ротирует его и возвращает новый
// access-токен. Старая cookie заменяется новой только при успехе.
func (h *Handlers) Refresh(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(h.authCfg.RefreshCookieName)
	if err != nil || cookie.Value == "" {
		httperr.WriteError(w, r, service.ErrInvalidToken)
		return
	}

	pair, _, err := h.svc.RefreshToken(r.Context(), cookie.Value)
	if err != nil {
		httperr.WriteError(w, r, err)
		return
	}

	h.setRefreshCookie(w, pair)
	writeJSON(w, http.StatusOK, tokenResponse{Token: pair.AccessToken})
}

// Logout — POST /auth/logout.
//
// Отзывает refresh-токен (если он есть) и очищает cookie.
// Операция идемпотентна: повторный выход также отвечает 204.
func (h *Handlers) Logout(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie(h.authCfg.RefreshCookieName); err == nil && cookie.Value != "" {
		if rerr := h.svc.RevokeToken(r.Context(), cookie.Value); rerr != nil {
			log.From(r.Context()).Warn("failed to revoke refresh token on logout", "error", rerr)
		}
	}

	h.clearRefreshCookie(w)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) setRefreshCookie(w http.ResponseWriter, pair *models.TokenPair) {
	http.SetCookie(w, &http.Cookie{
		Name:     h.authCfg.RefreshCookieName,
		Value:    pair.RefreshToken,
		Path:     "/auth",
		Expires:  time.Now().Add(h.authCfg.RefreshTokenTTL),
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteLaxMode,
	})
}

func (h *Handlers) clearRefreshCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     h.authCfg.RefreshCookieName,
		Value:    "",
		Path:     "/auth",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteLaxMode,
	})
}
