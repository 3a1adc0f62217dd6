// queue — встроенная шина задач генерации с семантикой request/reply.
//
// Публикация регистрирует ожидание по correlation id (RequestID задачи),
// консьюмер-воркеры обрабатывают задачи и резолвят ожидание. Доставка
// at-most-once: ответ на задачу, инициатор которой уже отвалился по
// таймауту, просто не потребляется; повторная задача с тем же RequestID
// не обрабатывается второй раз.
package queue

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pribylovaa/go-codeai/internal/models"
	"github.com/pribylovaa/go-codeai/internal/pkg/log"
)

var (
	// ErrReplyTimeout — ответ не получен за отведённый срок.
	ErrReplyTimeout = errors.New("reply timeout")
	// ErrBusClosed — шина остановлена.
	ErrBusClosed = errors.New("bus closed")
)

// Handler обрабатывает одну задачу генерации (вызов backend-а + журнал).
type Handler func(ctx context.Context, job *models.GenerationJob) (*models.GenerationResult, error)

// reply — исход обработки, доставляемый ожидающему инициатору.
type reply struct {
	res *models.GenerationResult
	err error
}

// Bus — шина request/reply, один экземпляр на процесс.
type Bus struct {
	mu        sync.Mutex
	pending   map[uuid.UUID]chan reply
	processed map[uuid.UUID]time.Time
	jobs      chan *models.GenerationJob
	closed    bool
}

// processedTTL — сколько помним обработанные RequestID для защиты от дублей.
const processedTTL = 10 * time.Minute

// NewBus создаёт шину с буфером задач buffer.
func NewBus(buffer int) *Bus {
	if buffer <= 0 {
		buffer = 64
	}

	return &Bus{
		pending:   make(map[uuid.UUID]chan reply),
		processed: make(map[uuid.UUID]time.Time),
		jobs:      make(chan *models.GenerationJob, buffer),
	}
}

// Request публикует задачу и ждёт коррелированный ответ до дедлайна ctx.
// По таймауту ожидание снимается, но сама задача НЕ отменяется: поздний
// результат остаётся на совести консьюмера (он может попасть в кэш).
func (b *Bus) Request(ctx context.Context, job *models.GenerationJob) (*models.GenerationResult, error) {
	const op = "queue.Request"

	ch := make(chan reply, 1)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, ErrBusClosed
	}
	b.pending[job.RequestID] = ch
	b.mu.Unlock()

	select {
	case b.jobs <- job:
	case <-ctx.Done():
		b.evict(job.RequestID)
		return nil, ErrReplyTimeout
	}

	select {
	case r := <-ch:
		if r.err != nil {
			return nil, r.err
		}
		return r.res, nil
	case <-ctx.Done():
		b.evict(job.RequestID)
		log.From(ctx).Warn("dispatch_reply_timeout",
			slog.String("op", op),
			slog.String("request_id", job.RequestID.String()),
		)
		return nil, ErrReplyTimeout
	}
}

// evict снимает ожидание ответа (инициатор больше не ждёт).
func (b *Bus) evict(id uuid.UUID) {
	b.mu.Lock()
	delete(b.pending, id)
	b.mu.Unlock()
}

// resolve доставляет исход ожидающему, если он ещё есть.
func (b *Bus) resolve(id uuid.UUID, r reply) {
	b.mu.Lock()
	ch, ok := b.pending[id]
	if ok {
		delete(b.pending, id)
	}
	b.mu.Unlock()

	if ok {
		ch <- r
	}
}

// markProcessed фиксирует RequestID как обработанный.
// Возвращает false, если задача уже обрабатывалась (дубль).
func (b *Bus) markProcessed(id uuid.UUID) bool {
	now := time.Now()

	b.mu.Lock()
	defer b.mu.Unlock()

	if _, dup := b.processed[id]; dup {
		return false
	}
	b.processed[id] = now

	// Попутная чистка устаревших отметок.
	for k, ts := range b.processed {
		if now.Sub(ts) > processedTTL {
			delete(b.processed, k)
		}
	}

	return true
}

// StartConsumers запускает workers конкурентных консьюмеров; каждый живёт
// до отмены ctx. Обработка идемпотентна по RequestID.
func (b *Bus) StartConsumers(ctx context.Context, workers int, handler Handler) {
	const op = "queue.StartConsumers"

	if workers <= 0 {
		workers = 1
	}

	for i := 0; i < workers; i++ {
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case job := <-b.jobs:
					if !b.markProcessed(job.RequestID) {
						log.From(ctx).Warn("duplicate_job_skipped",
							slog.String("op", op),
							slog.String("request_id", job.RequestID.String()),
						)
						continue
					}

					res, err := handler(ctx, job)
					b.resolve(job.RequestID, reply{res: res, err: err})
				}
			}
		}()
	}
}

// Close останавливает приём новых задач.
func (b *Bus) Close() {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
}
