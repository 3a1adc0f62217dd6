// cache содержит Redis-кэш результатов генерации и одноразовое
// хранилище state внешнего входа.
//
// Кэш результатов — чистая оптимизация: его потеря меняет только
// латентность и стоимость, но не корректность (источник истины —
// журнал query_history в БД).
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/pribylovaa/go-codeai/internal/models"
)

// ErrStateNotFound — state отсутствует или уже был использован.
var ErrStateNotFound = errors.New("oauth state not found")

// ResultCache — контракт кэша результатов генерации.
type ResultCache interface {
	// GetResult возвращает закэшированный результат и признак его наличия.
	GetResult(ctx context.Context, key string) (*models.GenerationResult, bool, error)
	// SetResult сохраняет результат с TTL.
	SetResult(ctx context.Context, key string, res *models.GenerationResult, ttl time.Duration) error
}

// StatePayload — данные, привязанные к одноразовому state внешнего входа.
type StatePayload struct {
	Provider    string `json:"provider"`
	RedirectURI string `json:"redirect_uri,omitempty"`
}

// StateStore — одноразовое хранилище state: значение читается ровно один раз.
type StateStore interface {
	// SaveState сохраняет payload по ключу state с TTL.
	SaveState(ctx context.Context, state string, payload StatePayload, ttl time.Duration) error
	// TakeState атомарно читает и удаляет payload; повторное чтение — ErrStateNotFound.
	TakeState(ctx context.Context, state string) (*StatePayload, error)
}

// Cache — реализация обоих контрактов поверх одного клиента Redis.
type Cache struct {
	rdb    *redis.Client
	prefix string
}

var (
	_ ResultCache = (*Cache)(nil)
	_ StateStore  = (*Cache)(nil)
)

// New создаёт клиент Redis из URL (например, redis://:pass@host:6379/0).
// Если prefix пустой — используется "codeai:".
func New(redisURL, prefix string) (*Cache, error) {
	if prefix == "" {
		prefix = "codeai:"
	}

	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	rdb := redis.NewClient(opt)

	// Fail-fast на старте.
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		return nil, err
	}

	return &Cache{rdb: rdb, prefix: prefix}, nil
}

func (c *Cache) resultKey(key string) string { return c.prefix + "gen:" + key }
func (c *Cache) stateKey(state string) string {
	return c.prefix + "oauth:state:" + state
}

// GetResult возвращает закэшированный результат генерации.
func (c *Cache) GetResult(ctx context.Context, key string) (*models.GenerationResult, bool, error) {
	raw, err := c.rdb.Get(ctx, c.resultKey(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}

		return nil, false, err
	}

	var res models.GenerationResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, false, err
	}

	return &res, true, nil
}

// SetResult сохраняет результат генерации с TTL.
func (c *Cache) SetResult(ctx context.Context, key string, res *models.GenerationResult, ttl time.Duration) error {
	raw, err := json.Marshal(res)
	if err != nil {
		return err
	}

	return c.rdb.Set(ctx, c.resultKey(key), raw, ttl).Err()
}

// SaveState сохраняет payload одноразового state с TTL.
func (c *Cache) SaveState(ctx context.Context, state string, payload StatePayload, ttl time.Duration) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	return c.rdb.Set(ctx, c.stateKey(state), raw, ttl).Err()
}

// TakeState атомарно читает и удаляет payload (GETDEL).
func (c *Cache) TakeState(ctx context.Context, state string) (*StatePayload, error) {
	raw, err := c.rdb.GetDel(ctx, c.stateKey(state)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrStateNotFound
		}

		return nil, err
	}

	var payload StatePayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, err
	}

	return &payload, nil
}

// Close закрывает клиент Redis.
func (c *Cache) Close() error { return c.rdb.Close() }
