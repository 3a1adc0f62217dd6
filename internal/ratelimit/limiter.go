// ratelimit реализует token-bucket контроль допуска per-identity.
// Запросы сверх ёмкости отклоняются немедленно, без очереди; исчерпание
// ведра одного пользователя не влияет на остальных.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type bucket struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// Limiter — набор token-bucket лимитеров, ключ — идентичность вызывающего
// (id пользователя либо адрес клиента).
type Limiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	rate    rate.Limit
	burst   int
	idleTTL time.Duration
}

// New создаёт лимитер: burst — ёмкость ведра, perSecond — скорость
// пополнения в токенах/сек.
func New(perSecond float64, burst int) *Limiter {
	return &Limiter{
		buckets: make(map[string]*bucket),
		rate:    rate.Limit(perSecond),
		burst:   burst,
		idleTTL: 10 * time.Minute,
	}
}

// Allow сообщает, допущен ли запрос идентичности key прямо сейчас.
// Отказ окончателен для этого запроса — ожидания в очереди нет.
func (l *Limiter) Allow(key string) bool {
	l.mu.Lock()
	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{lim: rate.NewLimiter(l.rate, l.burst)}
		l.buckets[key] = b
	}
	b.lastSeen = time.Now()
	l.mu.Unlock()

	return b.lim.Allow()
}

// StartGC запускает фоновую чистку неиспользуемых вёдер;
// останавливается по отмене контекста.
func (l *Limiter) StartGC(ctx context.Context, period time.Duration) {
	if period <= 0 {
		period = 30 * time.Second
	}

	go func() {
		t := time.NewTicker(period)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				now := time.Now()
				l.mu.Lock()
				for k, b := range l.buckets {
					if now.Sub(b.lastSeen) > l.idleTTL {
						delete(l.buckets, k)
					}
				}
				l.mu.Unlock()
			}
		}
	}()
}
