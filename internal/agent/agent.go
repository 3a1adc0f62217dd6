package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os/exec"
	"runtime"
	"sync"
	"time"
)

// Ошибки агента.
var (
	// ErrNotSignedIn — операция требует активной сессии.
	ErrNotSignedIn = errors.New("not signed in")
	// ErrRefreshRejected — сервер отверг refresh-токен, сессия сброшена.
	ErrRefreshRejected = errors.New("refresh token rejected")
)

// DefaultRefreshPeriod — период упреждающего обновления access-токена.
// Заметно короче срока жизни refresh-токена, чтобы цепочка ротации
// не прерывалась даже при редком использовании клиента.
const DefaultRefreshPeriod = 12 * time.Hour

// Config — параметры агента.
type Config struct {
	// ServerURL — базовый адрес API, например http://localhost:51155.
	ServerURL string
	// Provider — имя OAuth-провайдера в маршруте /auth/signin/{provider}.
	Provider string
	// CookieName — имя refresh-cookie сервера.
	CookieName string
	// CallbackScheme — схема URI, зарегистрированная за клиентом в ОС.
	CallbackScheme string
	// RefreshPeriod — период упреждающего обновления.
	RefreshPeriod time.Duration
}

func (c *Config) withDefaults() {
	if c.Provider == "" {
		c.Provider = "github"
	}
	if c.CookieName == "" {
		c.CookieName = "codeai_refresh"
	}
	if c.CallbackScheme == "" {
		c.CallbackScheme = "codeai"
	}
	if c.RefreshPeriod <= 0 {
		c.RefreshPeriod = DefaultRefreshPeriod
	}
}

// Agent держит текущую сессию в памяти, синхронизирует её с зашифрованным
// хранилищем и обновляет токены: упреждающе по таймеру и реактивно по 401.
type Agent struct {
	cfg   Config
	store *CredStore
	httpc *http.Client
	log   *slog.Logger

	// onChange уведомляет подписчика о смене состояния входа.
	onChange func(signedIn bool)

	mu   sync.Mutex
	sess *Session

	// refreshMu сериализует ротацию: конкурентные вызовы переиспользуют
	// результат первого.
	refreshMu sync.Mutex
}

// New создаёт агента и поднимает сессию из хранилища, если она есть.
func New(cfg Config, store *CredStore, log *slog.Logger, onChange func(bool)) *Agent {
	cfg.withDefaults()

	a := &Agent{
		cfg:      cfg,
		store:    store,
		httpc:    &http.Client{Timeout: 15 * time.Second},
		log:      log,
		onChange: onChange,
	}

	if sess, err := store.Load(); err == nil {
		a.sess = sess
	} else if !errors.Is(err, ErrNoSession) {
		log.Warn("credential_load_failed", slog.String("err", err.Error()))
	}

	return a
}

// SignedIn сообщает, есть ли активная сессия.
func (a *Agent) SignedIn() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.sess != nil && a.sess.AccessToken != ""
}

// AccessToken возвращает текущий access-токен ("" — если сессии нет).
func (a *Agent) AccessToken() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.sess == nil {
		return ""
	}
	return a.sess.AccessToken
}

// SignInURL — адрес начала OAuth-обмена с обратным редиректом в клиент.
func (a *Agent) SignInURL() string {
	redirect := a.cfg.CallbackScheme + "://auth"
	return fmt.Sprintf("%s/auth/signin/%s?redirectUri=%s",
		a.cfg.ServerURL, a.cfg.Provider, url.QueryEscape(redirect))
}

// SignIn открывает системный браузер на странице входа. Дальше управление
// возвращается через callback-URI: браузер дёргает зарегистрированный
// обработчик схемы, тот пишет URI в сокет агента.
func (a *Agent) SignIn() error {
	const op = "agent.SignIn"

	if err := openBrowser(a.SignInURL()); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

// HandleCallbackURL принимает URI вида codeai://auth?token=...&refresh=...,
// сохраняет новую сессию и уведомляет подписчика. Посторонние и битые URI
// игнорируются молча: сокет агента доступен любому локальному процессу.
func (a *Agent) HandleCallbackURL(raw string) error {
	const op = "agent.HandleCallbackURL"

	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if u.Scheme != a.cfg.CallbackScheme {
		return fmt.Errorf("%s: unexpected scheme %q", op, u.Scheme)
	}

	token := u.Query().Get("token")
	refresh := u.Query().Get("refresh")
	if token == "" || refresh == "" {
		return fmt.Errorf("%s: callback without tokens", op)
	}

	a.setSession(&Session{AccessToken: token, RefreshToken: refresh})
	a.log.Info("signed_in")

	return nil
}

// Refresh ротирует пару токенов. stale — access-токен, с которым вызывающий
// получил отказ: если другой вызов уже успел обновить сессию, повторной
// ротации не происходит и возвращается свежий токен.
func (a *Agent) Refresh(ctx context.Context, stale string) (string, error) {
	const op = "agent.Refresh"

	a.refreshMu.Lock()
	defer a.refreshMu.Unlock()

	if cur := a.AccessToken(); cur != "" && cur != stale {
		return cur, nil
	}

	a.mu.Lock()
	sess := a.sess
	a.mu.Unlock()
	if sess == nil || sess.RefreshToken == "" {
		return "", fmt.Errorf("%s: %w", op, ErrNotSignedIn)
	}

	next, err := a.rotate(ctx, sess.RefreshToken)
	if err != nil {
		if errors.Is(err, ErrRefreshRejected) {
			// Токен уже использован или отозван — цепочка ротации мертва.
			a.dropSession()
		}
		return "", fmt.Errorf("%s: %w", op, err)
	}

	a.setSession(next)

	return next.AccessToken, nil
}

// StartAutoRefresh запускает упреждающее обновление по таймеру. Ошибки
// не фатальны: следующая итерация или реактивный путь по 401 довершат дело.
func (a *Agent) StartAutoRefresh(ctx context.Context) {
	go func() {
		t := time.NewTicker(a.cfg.RefreshPeriod)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				if !a.SignedIn() {
					continue
				}
				if _, err := a.Refresh(ctx, a.AccessToken()); err != nil {
					a.log.Warn("auto_refresh_failed", slog.String("err", err.Error()))
				}
			}
		}
	}()
}

// Logout отзывает refresh-токен на сервере (по возможности) и безусловно
// стирает локальную сессию.
func (a *Agent) Logout(ctx context.Context) {
	a.mu.Lock()
	sess := a.sess
	a.mu.Unlock()

	if sess != nil && sess.RefreshToken != "" {
		if err := a.remoteLogout(ctx, sess.RefreshToken); err != nil {
			a.log.Warn("remote_logout_failed", slog.String("err", err.Error()))
		}
	}

	a.dropSession()
	a.log.Info("signed_out")
}

func (a *Agent) setSession(sess *Session) {
	a.mu.Lock()
	a.sess = sess
	a.mu.Unlock()

	if err := a.store.Save(sess); err != nil {
		a.log.Error("credential_save_failed", slog.String("err", err.Error()))
	}

	if a.onChange != nil {
		a.onChange(true)
	}
}

func (a *Agent) dropSession() {
	a.mu.Lock()
	a.sess = nil
	a.mu.Unlock()

	if err := a.store.Clear(); err != nil {
		a.log.Error("credential_clear_failed", slog.String("err", err.Error()))
	}

	if a.onChange != nil {
		a.onChange(false)
	}
}

// rotate выполняет POST /auth/refresh, передавая refresh-токен в cookie
// и забирая новую пару из тела и Set-Cookie ответа.
func (a *Agent) rotate(ctx context.Context, refreshToken string) (*Session, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.ServerURL+"/auth/refresh", nil)
	if err != nil {
		return nil, err
	}
	req.AddCookie(&http.Cookie{Name: a.cfg.CookieName, Value: refreshToken})

	resp, err := a.httpc.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode == http.StatusUnauthorized {
		return nil, ErrRefreshRejected
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var body struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, err
	}

	next := &Session{AccessToken: body.Token, RefreshToken: refreshToken}
	for _, c := range resp.Cookies() {
		if c.Name == a.cfg.CookieName && c.Value != "" {
			next.RefreshToken = c.Value
		}
	}

	return next, nil
}

func (a *Agent) remoteLogout(ctx context.Context, refreshToken string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.ServerURL+"/auth/logout", nil)
	if err != nil {
		return err
	}
	req.AddCookie(&http.Cookie{Name: a.cfg.CookieName, Value: refreshToken})

	resp, err := a.httpc.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	return nil
}

// openBrowser открывает URL в браузере по умолчанию.
func openBrowser(u string) error {
	switch runtime.GOOS {
	case "darwin":
		return exec.Command("open", u).Start()
	case "windows":
		return exec.Command("rundll32", "url.dll,FileProtocolHandler", u).Start()
	default:
		return exec.Command("xdg-open", u).Start()
	}
}
