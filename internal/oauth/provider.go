// oauth — клиент внешнего провайдера аутентификации.
// Сервис доверяет провайдеру ровно одно: подтверждённую пару
// (subject, display name) в обмен на authorization code.
package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/pribylovaa/go-codeai/internal/config"
)

// ErrExternalAuthFailed — провайдер отклонил обмен кода либо вернул
// неполный профиль. Транспорт: 401 без создания identity.
var ErrExternalAuthFailed = errors.New("external auth failed")

// ExternalIdentity — подтверждённая провайдером личность.
type ExternalIdentity struct {
	Subject     string
	DisplayName string
}

// Provider — контракт внешнего провайдера.
type Provider interface {
	// Name — имя провайдера в путях /auth/signin/{provider}.
	Name() string
	// AuthorizeURL строит адрес страницы согласия с одноразовым state.
	AuthorizeURL(state string) string
	// Exchange меняет authorization code на подтверждённую личность.
	Exchange(ctx context.Context, code string) (*ExternalIdentity, error)
}

// endpoints внешнего провайдера (GitHub).
const (
	githubAuthorizeURL = "https://github.com/login/oauth/authorize"
	githubTokenURL     = "https://github.com/login/oauth/access_token"
	githubUserURL      = "https://api.github.com/user"
)

// GitHub — провайдер GitHub OAuth.
type GitHub struct {
	cfg  config.OAuthConfig
	http *http.Client

	// Переопределяются в тестах.
	authorizeURL string
	tokenURL     string
	userURL      string
}

var _ Provider = (*GitHub)(nil)

// NewGitHub создаёт провайдер GitHub с таймаутом внешних вызовов.
func NewGitHub(cfg config.OAuthConfig, timeout time.Duration) *GitHub {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &GitHub{
		cfg:          cfg,
		http:         &http.Client{Timeout: timeout},
		authorizeURL: githubAuthorizeURL,
		tokenURL:     githubTokenURL,
		userURL:      githubUserURL,
	}
}

// Name — имя провайдера.
func (g *GitHub) Name() string { return g.cfg.Provider }

// AuthorizeURL строит адрес страницы согласия GitHub.
func (g *GitHub) AuthorizeURL(state string) string {
	q := url.Values{}
	q.Set("client_id", g.cfg.ClientID)
	q.Set("redirect_uri", g.cfg.CallbackURL)
	q.Set("state", state)
	q.Set("scope", "read:user")

	return g.authorizeURL + "?" + q.Encode()
}

// Exchange меняет authorization code на подтверждённую личность:
// сначала обмен кода на access token провайдера, потом запрос профиля.
func (g *GitHub) Exchange(ctx context.Context, code string) (*ExternalIdentity, error) {
	const op = "oauth.github.Exchange"

	token, err := g.exchangeCode(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	ident, err := g.fetchUser(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return ident, nil
}

// exchangeCode выполняет обмен authorization code на access token провайдера.
func (g *GitHub) exchangeCode(ctx context.Context, code string) (string, error) {
	data := url.Values{}
	data.Set("grant_type", "authorization_code")
	data.Set("client_id", g.cfg.ClientID)
	data.Set("client_secret", g.cfg.ClientSecret)
	data.Set("code", code)
	data.Set("redirect_uri", g.cfg.CallbackURL)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.tokenURL, strings.NewReader(data.Encode()))
	if err != nil {
		return "", fmt.Errorf("build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := g.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("token exchange request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read token response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("token exchange status %d: %w", resp.StatusCode, ErrExternalAuthFailed)
	}

	var payload struct {
		AccessToken string `json:"access_token"`
		Error       string `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", fmt.Errorf("decode token response: %w", err)
	}
	if payload.Error != "" || payload.AccessToken == "" {
		return "", ErrExternalAuthFailed
	}

	return payload.AccessToken, nil
}

// fetchUser загружает профиль владельца access token-а.
func (g *GitHub) fetchUser(ctx context.Context, accessToken string) (*ExternalIdentity, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.userURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build user request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := g.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("user request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read user response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("user status %d: %w", resp.StatusCode, ErrExternalAuthFailed)
	}

	var payload struct {
		ID    int64  `json:"id"`
		Login string `json:"login"`
		Name  string `json:"name"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("decode user response: %w", err)
	}
	if payload.ID == 0 {
		return nil, ErrExternalAuthFailed
	}

	name := payload.Name
	if name == "" {
		name = payload.Login
	}

	return &ExternalIdentity{
		Subject:     strconv.FormatInt(payload.ID, 10),
		DisplayName: name,
	}, nil
}

// SetEndpoints переопределяет адреса провайдера. Только для тестов.
func (g *GitHub) SetEndpoints(authorize, token, user string) {
	if authorize != "" {
		g.authorizeURL = authorize
	}
	if token != "" {
		g.tokenURL = token
	}
	if user != "" {
		g.userURL = user
	}
}
