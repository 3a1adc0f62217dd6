// service содержит бизнес-логику CodeAI:
// вход через внешнего провайдера, выпуск/ротацию/проверку токенов,
// диспетчеризацию задач генерации и стриминговый чат.
//
// Основные аспекты:
//   - Пакет не хранит состояние запроса внутри Service; экземпляр Service
//     безопасен для конкурентного использования из разных горутин при условии,
//     что переданные зависимости потокобезопасны.
//   - Ошибки возвращаются наружу сентинелами и далее маппятся HTTP-слоем
//     (см. комментарии к переменным ошибок ниже).
package service

import (
	"errors"
	"time"

	"github.com/pribylovaa/go-codeai/internal/cache"
	"github.com/pribylovaa/go-codeai/internal/chat"
	"github.com/pribylovaa/go-codeai/internal/config"
	"github.com/pribylovaa/go-codeai/internal/genai"
	"github.com/pribylovaa/go-codeai/internal/oauth"
	"github.com/pribylovaa/go-codeai/internal/queue"
	"github.com/pribylovaa/go-codeai/internal/storage"
)

var (
	// ErrInvalidToken — токен (access/refresh) некорректен по формату/подписи
	// или отсутствует в хранилище. Транспорт: HTTP 401.
	ErrInvalidToken = errors.New("invalid token")

	// ErrTokenExpired — срок действия токена истёк. Транспорт: HTTP 401.
	ErrTokenExpired = errors.New("token expired")

	// ErrTokenRevoked — refresh-токен отозван (logout/ротация/компрометация)
	// и недействителен независимо от срока. Повторная ротация одного секрета
	// всегда завершается этой ошибкой. Транспорт: HTTP 401.
	ErrTokenRevoked = errors.New("token revoked")

	// ErrExternalAuth — внешний провайдер отклонил вход; identity и токены
	// не создаются. Транспорт: HTTP 401.
	ErrExternalAuth = errors.New("external auth failed")

	// ErrInvalidRequest — запрос генерации не прошёл валидацию.
	// Не ретраится. Транспорт: HTTP 400.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrRateLimited — ведро идентичности исчерпано; запрос отклонён без
	// ожидания, ретрай позже безопасен. Транспорт: HTTP 429.
	ErrRateLimited = errors.New("too many requests")

	// ErrUpstreamUnavailable — backend генерации не ответил вовремя или
	// завершился ошибкой; кэш не затронут, ретрай безопасен.
	// Транспорт: HTTP 502.
	ErrUpstreamUnavailable = errors.New("generation backend unavailable")

	// ErrRefreshTokenCollision — исчерпаны попытки сгенерировать уникальный
	// refresh-токен (редкие коллизии хэша). Транспорт: HTTP 500.
	ErrRefreshTokenCollision = errors.New("refresh token collision")
)

// Service описывает бизнес-логику CodeAI.
type Service struct {
	storage  storage.Storage
	results  cache.ResultCache
	states   cache.StateStore
	windows  *chat.Windows
	bus      *queue.Bus
	gen      genai.Generator
	provider oauth.Provider
	authCfg  config.AuthConfig
	genCfg   config.GeneratorConfig
	// dispatchTimeout — ожидание коррелированного ответа шины.
	dispatchTimeout time.Duration
}

// Deps — зависимости Service.
type Deps struct {
	Storage  storage.Storage
	Results  cache.ResultCache
	States   cache.StateStore
	Windows  *chat.Windows
	Bus      *queue.Bus
	Gen      genai.Generator
	Provider oauth.Provider
	AuthCfg  config.AuthConfig
	GenCfg   config.GeneratorConfig
	// DispatchTimeout — ожидание коррелированного ответа шины.
	DispatchTimeout time.Duration
}

// New создаёт новый экземпляр Service.
func New(d Deps) *Service {
	if d.Windows == nil {
		d.Windows = chat.NewWindows(chat.DefaultMaxExchanges)
	}
	if d.DispatchTimeout <= 0 {
		d.DispatchTimeout = 60 * time.Second
	}

	return &Service{
		storage:         d.Storage,
		results:         d.Results,
		states:          d.States,
		windows:         d.Windows,
		bus:             d.Bus,
		gen:             d.Gen,
		provider:        d.Provider,
		authCfg:         d.AuthCfg,
		genCfg:          d.GenCfg,
		dispatchTimeout: d.DispatchTimeout,
	}
}
